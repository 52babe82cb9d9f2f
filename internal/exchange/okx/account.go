package okx

import (
	"context"
	"net/url"
	"strconv"

	"signal_trader/internal/core"
)

type positionData struct {
	InstID  string `json:"instId"`
	Pos     string `json:"pos"`
	PosSide string `json:"posSide"`
	AvgPx   string `json:"avgPx"`
	MgnMode string `json:"mgnMode"`
}

// ListPositions returns the non-zero net positions, optionally filtered by instrument
func (e *Exchange) ListPositions(ctx context.Context, instID string) ([]core.Position, error) {
	params := url.Values{}
	if instID != "" {
		params.Set("instId", instID)
	}

	data, err := getData[positionData](ctx, e, "list_positions", "/api/v5/account/positions", params)
	if err != nil {
		return nil, err
	}

	positions := make([]core.Position, 0, len(data))
	for _, raw := range data {
		size := dec(raw.Pos)
		if size.IsZero() {
			continue
		}
		// Long/short mode reports unsigned sizes per side
		if raw.PosSide == "short" && size.IsPositive() {
			size = size.Neg()
		}
		positions = append(positions, core.Position{
			InstID:     raw.InstID,
			Size:       size,
			AvgPrice:   dec(raw.AvgPx),
			MarginMode: raw.MgnMode,
		})
	}
	return positions, nil
}

// GetPosition returns nil when the instrument has no open position
func (e *Exchange) GetPosition(ctx context.Context, instID string) (*core.Position, error) {
	positions, err := e.ListPositions(ctx, instID)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if positions[i].InstID == instID {
			return &positions[i], nil
		}
	}
	return nil, nil
}

// GetMaxOrderSize returns the maximum order size per side in contracts
func (e *Exchange) GetMaxOrderSize(ctx context.Context, instID string) (*core.MaxSize, error) {
	data, err := getData[struct {
		InstID  string `json:"instId"`
		MaxBuy  string `json:"maxBuy"`
		MaxSell string `json:"maxSell"`
	}](ctx, e, "get_max_size", "/api/v5/account/max-size", url.Values{
		"instId": {instID},
		"tdMode": {marginMode},
	})
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return &core.MaxSize{InstID: instID, Buy: dec(data[0].MaxBuy), Sell: dec(data[0].MaxSell)}, nil
}

// GetMaxAvailSize returns the size that can still be opened per side
func (e *Exchange) GetMaxAvailSize(ctx context.Context, instID string) (*core.MaxSize, error) {
	data, err := getData[struct {
		InstID    string `json:"instId"`
		AvailBuy  string `json:"availBuy"`
		AvailSell string `json:"availSell"`
	}](ctx, e, "get_max_avail_size", "/api/v5/account/max-avail-size", url.Values{
		"instId": {instID},
		"tdMode": {marginMode},
	})
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return &core.MaxSize{InstID: instID, Buy: dec(data[0].AvailBuy), Sell: dec(data[0].AvailSell)}, nil
}

// SetLeverage sets cross-margin leverage for the instrument
func (e *Exchange) SetLeverage(ctx context.Context, instID string, leverage int) error {
	_, err := postData[struct {
		Lever string `json:"lever"`
	}](ctx, e, "set_leverage", "/api/v5/account/set-leverage", map[string]string{
		"instId":  instID,
		"lever":   strconv.Itoa(leverage),
		"mgnMode": marginMode,
	})
	if err != nil {
		return err
	}
	e.logger.Info("Leverage set", "instrument", instID, "leverage", leverage)
	return nil
}
