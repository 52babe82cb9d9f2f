package engine

import (
	"context"
	"time"

	"signal_trader/internal/core"
	apperrors "signal_trader/pkg/errors"

	"golang.org/x/sync/errgroup"
)

// BuildReport re-reads the account for instID. An empty instID reports every instrument
// and leaves the max sizes unset.
func BuildReport(ctx context.Context, provider core.ISnapshotProvider, instID string) (*core.InstrumentStatusReport, error) {
	report := &core.InstrumentStatusReport{InstID: instID}
	g, gctx := errgroup.WithContext(ctx)

	if instID != "" {
		g.Go(func() error {
			maxSize, err := provider.GetMaxOrderSize(gctx, instID)
			if err != nil {
				return &apperrors.MarketDataError{What: "max order size", InstID: instID, Err: err}
			}
			report.MaxOrderSize = maxSize
			return nil
		})
		g.Go(func() error {
			avail, err := provider.GetMaxAvailSize(gctx, instID)
			if err != nil {
				return &apperrors.MarketDataError{What: "max avail size", InstID: instID, Err: err}
			}
			report.MaxAvailSize = avail
			return nil
		})
	}
	g.Go(func() error {
		positions, err := provider.ListPositions(gctx, instID)
		if err != nil {
			return &apperrors.MarketDataError{What: "positions", InstID: instID, Err: err}
		}
		report.Positions = positions
		return nil
	})
	g.Go(func() error {
		orders, err := provider.ListOrders(gctx, instID)
		if err != nil {
			return &apperrors.MarketDataError{What: "orders", InstID: instID, Err: err}
		}
		report.Orders = orders
		return nil
	})
	g.Go(func() error {
		algos, err := provider.ListAlgoOrders(gctx, instID)
		if err != nil {
			return &apperrors.MarketDataError{What: "algo orders", InstID: instID, Err: err}
		}
		report.AlgoOrders = algos
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if report.Positions == nil {
		report.Positions = []core.Position{}
	}
	if report.Orders == nil {
		report.Orders = []core.OrderRecord{}
	}
	if report.AlgoOrders == nil {
		report.AlgoOrders = []core.AlgoOrderRecord{}
	}
	report.GeneratedAt = time.Now().UTC()
	return report, nil
}
