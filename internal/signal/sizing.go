package signal

import (
	"signal_trader/internal/core"
	"signal_trader/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// ContractValueUSD is the notional of one contract in USD at price.
// Contracts valued in a coin are converted with price; USD valued contracts are taken as is.
func ContractValueUSD(inst *core.Instrument, price decimal.Decimal) decimal.Decimal {
	if inst.IsUSDValued() {
		return inst.ContractValue
	}
	return inst.ContractValue.Mul(price)
}

// MarginPerContract is the USD required to open one contract at leverage.
// Leverage below one is treated as 1x.
func MarginPerContract(inst *core.Instrument, price decimal.Decimal, leverage int) decimal.Decimal {
	if leverage < 1 {
		leverage = 1
	}
	return ContractValueUSD(inst, price).Div(decimal.NewFromInt(int64(leverage)))
}

// ContractsForUSD converts a USD amount to a whole number of contracts:
// floor(usd / (contract_value_usd / leverage)). It also returns the per-contract cost used.
func ContractsForUSD(usd decimal.Decimal, leverage int, inst *core.Instrument, price decimal.Decimal) (contracts, cost decimal.Decimal) {
	if leverage < 1 {
		leverage = 1
	}
	value := ContractValueUSD(inst, price)
	cost = value.Div(decimal.NewFromInt(int64(leverage)))
	if !value.IsPositive() {
		return decimal.Zero, cost
	}
	// multiply before dividing so exact ratios do not lose a contract to rounding
	return tradingutils.FloorContracts(usd.Mul(decimal.NewFromInt(int64(leverage))).Div(value)), cost
}
