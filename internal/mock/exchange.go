// Package mock provides an in-memory exchange account for tests and dry runs
package mock

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"signal_trader/internal/core"
	apperrors "signal_trader/pkg/errors"

	"github.com/shopspring/decimal"
)

// Gateway operation names used in the call log and for error injection
const (
	OpPlaceOrder       = "place_order"
	OpPlaceAlgoOrder   = "place_algo_order"
	OpCancelOrders     = "cancel_orders"
	OpCancelAlgoOrders = "cancel_algo_orders"
	OpClosePosition    = "close_position"
	OpSetLeverage      = "set_leverage"
	OpGetOrderBook     = "get_order_book"
	OpGetTicker        = "get_ticker"
)

// Call is one recorded gateway invocation
type Call struct {
	Op       string
	InstID   string
	Side     core.Side
	IDs      []string
	Leverage int
	Order    *core.PlaceOrderRequest
	Algo     *core.AlgoOrderRequest
	At       time.Time
}

// MockExchange implements core.IExchange in memory.
// Market orders fill immediately against the position, other order types rest as open orders.
type MockExchange struct {
	name string
	mu   sync.Mutex

	instruments map[string]*core.Instrument
	tickers     map[string]*core.Ticker
	books       map[string]*core.OrderBook
	positions   map[string]*core.Position
	orders      map[string][]core.OrderRecord
	algos       map[string][]core.AlgoOrderRecord
	leverage    map[string]int

	errors map[string]error
	calls  []Call
	nextID int64
}

var _ core.IExchange = (*MockExchange)(nil)

// NewMockExchange creates an empty account
func NewMockExchange(name string) *MockExchange {
	return &MockExchange{
		name:        name,
		instruments: make(map[string]*core.Instrument),
		tickers:     make(map[string]*core.Ticker),
		books:       make(map[string]*core.OrderBook),
		positions:   make(map[string]*core.Position),
		orders:      make(map[string][]core.OrderRecord),
		algos:       make(map[string][]core.AlgoOrderRecord),
		leverage:    make(map[string]int),
		errors:      make(map[string]error),
		nextID:      1000,
	}
}

func (m *MockExchange) GetName() string {
	return m.name
}

func (m *MockExchange) CheckHealth(ctx context.Context) error {
	return nil
}

// AddInstrument registers reference data
func (m *MockExchange) AddInstrument(inst core.Instrument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instruments[inst.InstID] = &inst
}

// SetTicker sets the top of book
func (m *MockExchange) SetTicker(t core.Ticker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickers[t.InstID] = &t
}

// SetOrderBook sets the depth snapshot
func (m *MockExchange) SetOrderBook(b core.OrderBook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[b.InstID] = &b
}

// SetPosition sets the signed net position
func (m *MockExchange) SetPosition(instID string, size decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[instID] = &core.Position{InstID: instID, Size: size, MarginMode: "cross"}
}

// AddOpenOrder seeds a resting order and returns its id
func (m *MockExchange) AddOpenOrder(o core.OrderRecord) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.OrderID == "" {
		o.OrderID = m.newID()
	}
	if o.State == "" {
		o.State = "live"
	}
	m.orders[o.InstID] = append(m.orders[o.InstID], o)
	return o.OrderID
}

// AddAlgoOrder seeds a pending algo order and returns its id
func (m *MockExchange) AddAlgoOrder(a core.AlgoOrderRecord) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.AlgoID == "" {
		a.AlgoID = m.newID()
	}
	if a.State == "" {
		a.State = "live"
	}
	m.algos[a.InstID] = append(m.algos[a.InstID], a)
	return a.AlgoID
}

// SetError makes every subsequent op call fail with err. A nil err clears it.
func (m *MockExchange) SetError(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errors, op)
		return
	}
	m.errors[op] = err
}

// Calls returns a copy of the gateway call log
func (m *MockExchange) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsTo returns the recorded calls of one op
func (m *MockExchange) CallsTo(op string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call log
func (m *MockExchange) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Leverage returns the last leverage set for instID
func (m *MockExchange) Leverage(instID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leverage[instID]
}

func (m *MockExchange) newID() string {
	m.nextID++
	return strconv.FormatInt(m.nextID, 10)
}

func (m *MockExchange) record(c Call) {
	c.At = time.Now()
	m.calls = append(m.calls, c)
}

func (m *MockExchange) GetInstrument(ctx context.Context, instID string) (*core.Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instruments[instID]
	if !ok {
		return nil, nil
	}
	cp := *inst
	return &cp, nil
}

func (m *MockExchange) GetTicker(ctx context.Context, instID string) (*core.Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors[OpGetTicker]; err != nil {
		return nil, err
	}
	t, ok := m.tickers[instID]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *MockExchange) GetOrderBook(ctx context.Context, instID string, depth int) (*core.OrderBook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors[OpGetOrderBook]; err != nil {
		return nil, err
	}
	b, ok := m.books[instID]
	if !ok {
		return nil, nil
	}
	cp := *b
	if depth > 0 {
		if len(cp.Asks) > depth {
			cp.Asks = cp.Asks[:depth]
		}
		if len(cp.Bids) > depth {
			cp.Bids = cp.Bids[:depth]
		}
	}
	return &cp, nil
}

func (m *MockExchange) GetPosition(ctx context.Context, instID string) (*core.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[instID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *MockExchange) ListPositions(ctx context.Context, instID string) ([]core.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Position
	for id, p := range m.positions {
		if (instID == "" || id == instID) && !p.Size.IsZero() {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstID < out[j].InstID })
	return out, nil
}

func (m *MockExchange) ListOrders(ctx context.Context, instID string) ([]core.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.OrderRecord
	for _, id := range sortedKeys(m.orders, instID) {
		out = append(out, m.orders[id]...)
	}
	return out, nil
}

func (m *MockExchange) ListAlgoOrders(ctx context.Context, instID string) ([]core.AlgoOrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.AlgoOrderRecord
	for _, id := range sortedKeys(m.algos, instID) {
		out = append(out, m.algos[id]...)
	}
	return out, nil
}

func sortedKeys[V any](byInst map[string]V, filter string) []string {
	keys := make([]string, 0, len(byInst))
	for k := range byInst {
		if filter == "" || k == filter {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (m *MockExchange) GetMaxOrderSize(ctx context.Context, instID string) (*core.MaxSize, error) {
	return &core.MaxSize{InstID: instID, Buy: decimal.NewFromInt(1000), Sell: decimal.NewFromInt(1000)}, nil
}

func (m *MockExchange) GetMaxAvailSize(ctx context.Context, instID string) (*core.MaxSize, error) {
	return &core.MaxSize{InstID: instID, Buy: decimal.NewFromInt(500), Sell: decimal.NewFromInt(500)}, nil
}

func (m *MockExchange) PlaceOrder(ctx context.Context, req *core.PlaceOrderRequest) (*core.OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	m.record(Call{Op: OpPlaceOrder, InstID: req.InstID, Side: req.Side, Order: &cp})
	if err := m.errors[OpPlaceOrder]; err != nil {
		return nil, err
	}
	if _, ok := m.instruments[req.InstID]; !ok {
		return nil, &apperrors.ExchangeError{Op: OpPlaceOrder, Code: "51001", Message: "Instrument ID does not exist", Err: apperrors.ErrInvalidSymbol}
	}

	id := m.newID()
	if req.OrderType.IsMarket() {
		m.fill(req.InstID, req.Side, req.Size)
	} else {
		m.orders[req.InstID] = append(m.orders[req.InstID], core.OrderRecord{
			InstID:        req.InstID,
			OrderID:       id,
			ClientOrderID: req.ClientOrderID,
			Side:          req.Side,
			OrderType:     string(req.OrderType),
			Size:          req.Size,
			Price:         req.Price,
			State:         "live",
		})
	}
	if !req.Attached.IsEmpty() {
		m.algos[req.InstID] = append(m.algos[req.InstID], core.AlgoOrderRecord{
			InstID:            req.InstID,
			AlgoID:            m.newID(),
			AlgoClientOrderID: req.Attached.ClientOrderID,
			Side:              req.Side.Opposite(),
			OrderType:         string(core.AlgoOrderOCO),
			Size:              req.Size,
			TriggerPrice:      req.Attached.TPTriggerPrice.Decimal,
			State:             "live",
		})
	}
	return &core.OrderAck{OrderID: id, ClientOrderID: req.ClientOrderID}, nil
}

func (m *MockExchange) fill(instID string, side core.Side, size decimal.Decimal) {
	p, ok := m.positions[instID]
	if !ok {
		p = &core.Position{InstID: instID, MarginMode: "cross"}
		m.positions[instID] = p
	}
	if side == core.SideSell {
		size = size.Neg()
	}
	p.Size = p.Size.Add(size)
}

func (m *MockExchange) PlaceAlgoOrder(ctx context.Context, req *core.AlgoOrderRequest) (*core.OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	m.record(Call{Op: OpPlaceAlgoOrder, InstID: req.InstID, Side: req.Side, Algo: &cp})
	if err := m.errors[OpPlaceAlgoOrder]; err != nil {
		return nil, err
	}
	id := m.newID()
	m.algos[req.InstID] = append(m.algos[req.InstID], core.AlgoOrderRecord{
		InstID:            req.InstID,
		AlgoID:            id,
		AlgoClientOrderID: req.ClientOrderID,
		Side:              req.Side,
		OrderType:         string(req.OrderType),
		Size:              req.Size,
		TriggerPrice:      req.TriggerPrice.Decimal,
		OrderPrice:        req.OrderPrice.Decimal,
		State:             "live",
	})
	return &core.OrderAck{OrderID: id, ClientOrderID: req.ClientOrderID}, nil
}

func (m *MockExchange) CancelOrders(ctx context.Context, reqs []core.CancelRequest) ([]core.ItemResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Op: OpCancelOrders, InstID: batchInstID(reqs), IDs: ids(reqs)})
	if err := m.errors[OpCancelOrders]; err != nil {
		return nil, err
	}
	results := make([]core.ItemResult, 0, len(reqs))
	for _, r := range reqs {
		remaining, found := removeOrder(m.orders[r.InstID], r.ID)
		m.orders[r.InstID] = remaining
		results = append(results, itemResult(r.ID, found))
	}
	return results, nil
}

func (m *MockExchange) CancelAlgoOrders(ctx context.Context, reqs []core.CancelRequest) ([]core.ItemResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Op: OpCancelAlgoOrders, InstID: batchInstID(reqs), IDs: ids(reqs)})
	if err := m.errors[OpCancelAlgoOrders]; err != nil {
		return nil, err
	}
	results := make([]core.ItemResult, 0, len(reqs))
	for _, r := range reqs {
		remaining, found := removeAlgo(m.algos[r.InstID], r.ID)
		m.algos[r.InstID] = remaining
		results = append(results, itemResult(r.ID, found))
	}
	return results, nil
}

func (m *MockExchange) ClosePosition(ctx context.Context, instID string, side core.Side) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Op: OpClosePosition, InstID: instID, Side: side})
	if err := m.errors[OpClosePosition]; err != nil {
		return err
	}
	p, ok := m.positions[instID]
	if !ok || p.Size.IsZero() {
		return &apperrors.ExchangeError{Op: OpClosePosition, Code: "51023", Message: "Position does not exist", Err: apperrors.ErrPositionNotFound}
	}
	p.Size = decimal.Zero
	return nil
}

func (m *MockExchange) SetLeverage(ctx context.Context, instID string, leverage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Op: OpSetLeverage, InstID: instID, Leverage: leverage})
	if err := m.errors[OpSetLeverage]; err != nil {
		return err
	}
	m.leverage[instID] = leverage
	return nil
}

func removeOrder(orders []core.OrderRecord, id string) ([]core.OrderRecord, bool) {
	for i, o := range orders {
		if o.OrderID == id {
			return append(orders[:i:i], orders[i+1:]...), true
		}
	}
	return orders, false
}

func removeAlgo(algos []core.AlgoOrderRecord, id string) ([]core.AlgoOrderRecord, bool) {
	for i, a := range algos {
		if a.AlgoID == id {
			return append(algos[:i:i], algos[i+1:]...), true
		}
	}
	return algos, false
}

func itemResult(id string, found bool) core.ItemResult {
	if found {
		return core.ItemResult{ID: id, Success: true}
	}
	return core.ItemResult{ID: id, Success: false, Code: "51400", Message: fmt.Sprintf("order %s does not exist", id)}
}

func ids(reqs []core.CancelRequest) []string {
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.ID
	}
	return out
}

// batchInstID is the shared instrument of a batch, or "" when it spans several
func batchInstID(reqs []core.CancelRequest) string {
	if len(reqs) == 0 {
		return ""
	}
	id := reqs[0].InstID
	for _, r := range reqs[1:] {
		if r.InstID != id {
			return ""
		}
	}
	return id
}
