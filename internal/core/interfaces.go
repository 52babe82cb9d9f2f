// Package core defines the domain types and collaborator interfaces of the signal engine
package core

import (
	"context"
)

// ISnapshotProvider supplies read-only exchange state.
// List calls treat an empty instID as "all instruments".
type ISnapshotProvider interface {
	// GetInstrument returns nil and no error when the instrument is unknown
	GetInstrument(ctx context.Context, instID string) (*Instrument, error)
	GetTicker(ctx context.Context, instID string) (*Ticker, error)
	GetOrderBook(ctx context.Context, instID string, depth int) (*OrderBook, error)
	// GetPosition returns nil and no error when there is no position
	GetPosition(ctx context.Context, instID string) (*Position, error)
	ListPositions(ctx context.Context, instID string) ([]Position, error)
	ListOrders(ctx context.Context, instID string) ([]OrderRecord, error)
	ListAlgoOrders(ctx context.Context, instID string) ([]AlgoOrderRecord, error)
	GetMaxOrderSize(ctx context.Context, instID string) (*MaxSize, error)
	GetMaxAvailSize(ctx context.Context, instID string) (*MaxSize, error)
}

// IOrderGateway mutates the exchange account
type IOrderGateway interface {
	PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*OrderAck, error)
	PlaceAlgoOrder(ctx context.Context, req *AlgoOrderRequest) (*OrderAck, error)
	CancelOrders(ctx context.Context, reqs []CancelRequest) ([]ItemResult, error)
	CancelAlgoOrders(ctx context.Context, reqs []CancelRequest) ([]ItemResult, error)
	// ClosePosition flattens the net position of instID. side is the side of the position being closed.
	ClosePosition(ctx context.Context, instID string, side Side) error
	SetLeverage(ctx context.Context, instID string, leverage int) error
}

// IExchange is a full exchange account: snapshots and order routing
type IExchange interface {
	ISnapshotProvider
	IOrderGateway
	GetName() string
	CheckHealth(ctx context.Context) error
}

// IHealthMonitor reports component health
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger is the structured logger used across the module
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
