package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"signal_trader/internal/config"
	"signal_trader/internal/core"
	"signal_trader/internal/journal"
	"signal_trader/internal/signal"
	apperrors "signal_trader/pkg/errors"
	"signal_trader/pkg/liveserver"
	"signal_trader/pkg/logging"
	"signal_trader/pkg/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

const testInst = "BTC-USDT-250926"

func init() {
	gin.SetMode(gin.TestMode)
}

type mockValidator struct {
	mock.Mock
}

func (m *mockValidator) Validate(ctx context.Context, raw *signal.RawSignal) (*signal.SignalIntent, error) {
	args := m.Called(raw)
	intent, _ := args.Get(0).(*signal.SignalIntent)
	return intent, args.Error(1)
}

type mockHandler struct {
	mock.Mock
}

func (m *mockHandler) HandleSignal(ctx context.Context, intent *signal.SignalIntent) (*core.InstrumentStatusReport, error) {
	args := m.Called(intent)
	report, _ := args.Get(0).(*core.InstrumentStatusReport)
	return report, args.Error(1)
}

func (m *mockHandler) HandleMaintenance(ctx context.Context) (*core.InstrumentStatusReport, error) {
	args := m.Called()
	report, _ := args.Get(0).(*core.InstrumentStatusReport)
	return report, args.Error(1)
}

func (m *mockHandler) Status(ctx context.Context, instID string) (*core.InstrumentStatusReport, error) {
	args := m.Called(instID)
	report, _ := args.Get(0).(*core.InstrumentStatusReport)
	return report, args.Error(1)
}

type memJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (j *memJournal) Record(ctx context.Context, e *journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, *e)
	return nil
}

func (j *memJournal) Recent(ctx context.Context, limit int) ([]journal.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if limit > len(j.entries) {
		limit = len(j.entries)
	}
	return append([]journal.Entry(nil), j.entries[:limit]...), nil
}

type memFeed struct {
	mu   sync.Mutex
	msgs []liveserver.Message
}

func (f *memFeed) Broadcast(msg liveserver.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func (f *memFeed) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.msgs))
	for _, m := range f.msgs {
		out = append(out, m.Type)
	}
	return out
}

type staticHealth map[string]error

func (h staticHealth) Register(string, func() error) {}

func (h staticHealth) GetStatus() map[string]string {
	out := make(map[string]string, len(h))
	for k, err := range h {
		if err != nil {
			out[k] = "Unhealthy: " + err.Error()
		} else {
			out[k] = "Healthy"
		}
	}
	return out
}

func (h staticHealth) IsHealthy() bool {
	for _, err := range h {
		if err != nil {
			return false
		}
	}
	return true
}

type fixture struct {
	server    *Server
	validator *mockValidator
	handler   *mockHandler
	journal   *memJournal
	feed      *memFeed
}

func newFixture(t *testing.T, handler SignalHandler, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		validator: new(mockValidator),
		journal:   &memJournal{},
		feed:      &memFeed{},
	}
	if handler == nil {
		f.handler = new(mockHandler)
		handler = f.handler
	}
	cfg := config.ServerConfig{WebhookToken: "tok", AllowedOrigins: []string{"http://localhost:3000"}}
	opts = append([]Option{
		WithJournal(f.journal),
		WithFeed(f.feed),
		WithMetrics(telemetry.NewMetricsHolder(noop.NewMeterProvider().Meter("test"))),
	}, opts...)
	f.server = NewServer(cfg, f.validator, handler, logging.NewNopLogger(), opts...)
	return f
}

func (f *fixture) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func authed() map[string]string {
	return map[string]string{"X-Webhook-Token": "tok"}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func report(instID string) *core.InstrumentStatusReport {
	return &core.InstrumentStatusReport{
		InstID:      instID,
		Positions:   []core.Position{},
		Orders:      []core.OrderRecord{},
		AlgoOrders:  []core.AlgoOrderRecord{},
		GeneratedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestHandleSignal_Success(t *testing.T) {
	f := newFixture(t, nil)
	intent := &signal.SignalIntent{InstID: testInst, Side: core.SideBuy, Contracts: decimal.NewFromInt(10), ClientOrderID: "abcdef0123456789"}
	f.validator.On("Validate", mock.MatchedBy(func(raw *signal.RawSignal) bool { return raw.InstID == testInst })).Return(intent, nil)
	f.handler.On("HandleSignal", intent).Return(report(testInst), nil)

	rec := f.do(http.MethodPost, "/api/v1/signal", `{"instID":"BTC-USDT-250926","order_side":"buy","usd_order_size":"100"}`, authed())

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, testInst, body["data"].(map[string]interface{})["inst_id"])

	require.Len(t, f.journal.entries, 1)
	entry := f.journal.entries[0]
	assert.Equal(t, journal.OutcomeOK, entry.Outcome)
	assert.Equal(t, "abcdef0123456789", entry.ClientOrderID)
	assert.Contains(t, entry.Payload, "usd_order_size")

	assert.Equal(t, []string{liveserver.TypeStatus}, f.feed.types())
	assert.Equal(t, testInst, f.feed.msgs[0].Key)
	f.handler.AssertExpectations(t)
}

func TestHandleSignal_Token(t *testing.T) {
	f := newFixture(t, nil)
	f.validator.On("Validate", mock.Anything).Return(nil, &signal.ValidationError{Field: "instID", Message: "instrument id is required"})

	rec := f.do(http.MethodPost, "/api/v1/signal", `{}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/signal", `{}`, map[string]string{"X-Webhook-Token": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	f.validator.AssertNotCalled(t, "Validate", mock.Anything)

	rec = f.do(http.MethodPost, "/api/v1/signal?token=tok", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSignal_Rejected(t *testing.T) {
	f := newFixture(t, nil)
	f.validator.On("Validate", mock.Anything).Return(nil, &signal.ValidationError{
		Field:   "usd_order_size",
		Message: "order is outside the allowed size",
		Min:     decimal.NewNullDecimal(decimal.NewFromInt(1)),
		Max:     decimal.NewNullDecimal(decimal.NewFromInt(500)),
		Cost:    decimal.NewNullDecimal(decimal.NewFromInt(5)),
	})

	rec := f.do(http.MethodPost, "/api/v1/signal", `{"instID":"BTC-USDT-250926","order_side":"buy","usd_order_size":"1"}`, authed())

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "validation_failed", body["code"])
	assert.Equal(t, "usd_order_size", body["field"])
	assert.Equal(t, "1", body["min"])
	assert.Equal(t, "500", body["max"])
	assert.Equal(t, "5", body["contract_cost_usd"])

	require.Len(t, f.journal.entries, 1)
	assert.Equal(t, journal.OutcomeRejected, f.journal.entries[0].Outcome)
	assert.Equal(t, []string{liveserver.TypeSignalError}, f.feed.types())
	f.handler.AssertNotCalled(t, "HandleSignal", mock.Anything)
}

func TestHandleSignal_MalformedJSON(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/v1/signal", `{"instID":`, authed())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "body", decodeBody(t, rec)["field"])
	f.validator.AssertNotCalled(t, "Validate", mock.Anything)
}

func TestHandleSignal_EngineFailure(t *testing.T) {
	f := newFixture(t, nil)
	intent := &signal.SignalIntent{InstID: testInst, Side: core.SideSell}
	f.validator.On("Validate", mock.Anything).Return(intent, nil)
	f.handler.On("HandleSignal", intent).Return(nil, fmt.Errorf("place order: %w", apperrors.ErrGatewayRejected))

	rec := f.do(http.MethodPost, "/api/v1/signal", `{"instID":"BTC-USDT-250926","order_side":"sell"}`, authed())

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "gateway_rejected", decodeBody(t, rec)["code"])
	require.Len(t, f.journal.entries, 1)
	assert.Equal(t, journal.OutcomeFailed, f.journal.entries[0].Outcome)
	assert.Contains(t, f.journal.entries[0].Error, "gateway rejected")
}

func TestHandleSignal_RedButtonBroadcastsMaintenance(t *testing.T) {
	f := newFixture(t, nil)
	intent := &signal.SignalIntent{RedButton: true}
	f.validator.On("Validate", mock.MatchedBy(func(raw *signal.RawSignal) bool { return bool(raw.RedButton) })).Return(intent, nil)
	f.handler.On("HandleSignal", intent).Return(report(""), nil)

	rec := f.do(http.MethodPost, "/api/v1/signal", `{"red_button":"true"}`, authed())

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{liveserver.TypeMaintenance}, f.feed.types())
	assert.True(t, f.journal.entries[0].RedButton)
}

func TestHandleMaintenance(t *testing.T) {
	f := newFixture(t, nil)
	f.handler.On("HandleMaintenance").Return(report(""), nil)

	rec := f.do(http.MethodPost, "/api/v1/maintenance", ``, authed())

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.journal.entries, 1)
	assert.True(t, f.journal.entries[0].RedButton)
	assert.Equal(t, journal.OutcomeOK, f.journal.entries[0].Outcome)
	f.handler.AssertExpectations(t)
}

func TestHandleStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.handler.On("Status", testInst).Return(report(testInst), nil)

	rec := f.do(http.MethodGet, "/api/v1/status/btc-usdt-250926", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/status/BTCUSDT", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.handler.On("Status", "ETH-USDT-250926").Return(nil, &apperrors.MarketDataError{What: "positions", InstID: "ETH-USDT-250926"})
	rec = f.do(http.MethodGet, "/api/v1/status/ETH-USDT-250926", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleJournal(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.journal.Record(context.Background(), &journal.Entry{InstID: testInst, Outcome: journal.OutcomeOK}))
	}

	rec := f.do(http.MethodGet, "/api/v1/journal?limit=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["data"], 2)

	rec = f.do(http.MethodGet, "/api/v1/journal?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleJournal_Disabled(t *testing.T) {
	f := newFixture(t, nil, WithJournal(nil))

	rec := f.do(http.MethodGet, "/api/v1/journal", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	f := newFixture(t, nil, WithHealth(staticHealth{"exchange": nil}))
	rec := f.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f = newFixture(t, nil, WithHealth(staticHealth{"exchange": errors.New("down")}))
	rec = f.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Unhealthy: down", decodeBody(t, rec)["components"].(map[string]interface{})["exchange"])
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodOptions, "/api/v1/signal", "", map[string]string{
		"Origin":                        "http://localhost:3000",
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &signal.ValidationError{Field: "leverage"}, http.StatusBadRequest},
		{"inconsistent", &signal.ValidationError{Field: "tp", Inconsistent: true}, http.StatusUnprocessableEntity},
		{"depth", fmt.Errorf("resolve: %w", apperrors.ErrInsufficientDepth), http.StatusUnprocessableEntity},
		{"market data", &apperrors.MarketDataError{What: "ticker"}, http.StatusServiceUnavailable},
		{"gateway", apperrors.ErrGatewayRejected, http.StatusBadGateway},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
		})
	}
}

// blockingHandler lets a test hold a signal inside the engine
type blockingHandler struct {
	release  chan struct{}
	entered  chan string
	inFlight map[string]*int32
	maxSeen  map[string]*int32
	mu       sync.Mutex
}

func newBlockingHandler() *blockingHandler {
	return &blockingHandler{
		release:  make(chan struct{}),
		entered:  make(chan string, 10),
		inFlight: make(map[string]*int32),
		maxSeen:  make(map[string]*int32),
	}
}

func (h *blockingHandler) counters(instID string) (*int32, *int32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.inFlight[instID]; !ok {
		h.inFlight[instID] = new(int32)
		h.maxSeen[instID] = new(int32)
	}
	return h.inFlight[instID], h.maxSeen[instID]
}

func (h *blockingHandler) HandleSignal(ctx context.Context, intent *signal.SignalIntent) (*core.InstrumentStatusReport, error) {
	inFlight, maxSeen := h.counters(intent.InstID)
	n := atomic.AddInt32(inFlight, 1)
	if n > atomic.LoadInt32(maxSeen) {
		atomic.StoreInt32(maxSeen, n)
	}
	h.entered <- intent.InstID
	if intent.InstID == testInst {
		<-h.release
	}
	atomic.AddInt32(inFlight, -1)
	return report(intent.InstID), nil
}

func (h *blockingHandler) HandleMaintenance(ctx context.Context) (*core.InstrumentStatusReport, error) {
	return report(""), nil
}

func (h *blockingHandler) Status(ctx context.Context, instID string) (*core.InstrumentStatusReport, error) {
	return report(instID), nil
}

func TestSignalsSerializePerInstrument(t *testing.T) {
	h := newBlockingHandler()
	f := newFixture(t, h)
	f.validator.On("Validate", mock.MatchedBy(func(raw *signal.RawSignal) bool { return raw.InstID == testInst })).
		Return(&signal.SignalIntent{InstID: testInst}, nil)
	f.validator.On("Validate", mock.MatchedBy(func(raw *signal.RawSignal) bool { return raw.InstID == "ETH-USDT-250926" })).
		Return(&signal.SignalIntent{InstID: "ETH-USDT-250926"}, nil)

	send := func(instID string) <-chan int {
		done := make(chan int, 1)
		go func() {
			rec := f.do(http.MethodPost, "/api/v1/signal", fmt.Sprintf(`{"instID":%q}`, instID), authed())
			done <- rec.Code
		}()
		return done
	}

	first := send(testInst)
	require.Equal(t, testInst, <-h.entered)

	second := send(testInst)
	other := send("ETH-USDT-250926")

	// a different instrument is not blocked
	assert.Equal(t, "ETH-USDT-250926", <-h.entered)
	assert.Equal(t, http.StatusOK, <-other)

	select {
	case <-h.entered:
		t.Fatal("second signal for the same instrument entered the engine concurrently")
	case <-time.After(50 * time.Millisecond):
	}

	h.release <- struct{}{}
	assert.Equal(t, http.StatusOK, <-first)
	assert.Equal(t, testInst, <-h.entered)
	h.release <- struct{}{}
	assert.Equal(t, http.StatusOK, <-second)

	_, maxSeen := h.counters(testInst)
	assert.EqualValues(t, 1, atomic.LoadInt32(maxSeen))
}
