// Package okx implements the snapshot provider and order gateway against the OKX v5 REST API
package okx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"signal_trader/internal/config"
	"signal_trader/internal/core"
	apperrors "signal_trader/pkg/errors"
	httpclient "signal_trader/pkg/http"
	"signal_trader/pkg/retry"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	defaultOKXURL = "https://www.okx.com"

	// tdMode/mgnMode for every order. Accounts run single-currency cross margin in net mode.
	marginMode = "cross"
	netPosSide = "net"

	cancelOrdersChunk = 20
	cancelAlgosChunk  = 10
	maxBookDepth      = 400
	pageLimit         = 100
	maxPages          = 10
)

// pendingAlgoTypes are the algo order types listed by ListAlgoOrders
var pendingAlgoTypes = []core.AlgoOrderType{
	core.AlgoOrderConditional,
	core.AlgoOrderOCO,
	core.AlgoOrderTrigger,
	core.AlgoOrderTrailingStop,
}

var _ core.IExchange = (*Exchange)(nil)

// Exchange implements core.IExchange for OKX
type Exchange struct {
	cfg     *config.ExchangeConfig
	client  *httpclient.Client
	limiter *rate.Limiter
	logger  core.ILogger
	now     func() time.Time

	// instType per instrument, resolved on first lookup
	instTypes map[string]string
	mu        sync.RWMutex
}

// Option customizes an Exchange
type Option func(*Exchange)

// WithClock overrides the clock used for request timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Exchange) {
		e.now = now
	}
}

// NewExchange creates an OKX adapter from the exchange config section
func NewExchange(cfg *config.ExchangeConfig, logger core.ILogger, opts ...Option) (*Exchange, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOKXURL
	}
	if !strings.HasPrefix(baseURL, "https://") {
		// Allow http for local testing
		if !strings.Contains(baseURL, "127.0.0.1") && !strings.Contains(baseURL, "localhost") {
			return nil, fmt.Errorf("okx base URL must start with https://: %s", baseURL)
		}
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}

	e := &Exchange{
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
		logger:    logger.WithField("component", "okx_exchange"),
		now:       time.Now,
		instTypes: make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}

	var clientOpts []httpclient.Option
	if cfg.Simulated {
		clientOpts = append(clientOpts, httpclient.WithHeader("x-simulated-trading", "1"))
	}
	e.client = httpclient.NewClient(baseURL, cfg.Timeout(), e, clientOpts...)

	return e, nil
}

func (e *Exchange) GetName() string {
	return "okx"
}

// CheckHealth pings the public time endpoint
func (e *Exchange) CheckHealth(ctx context.Context) error {
	_, err := getData[struct {
		TS string `json:"ts"`
	}](ctx, e, "check_health", "/api/v5/public/time", nil)
	return err
}

// SignRequest adds authentication headers to the request
func (e *Exchange) SignRequest(req *http.Request, body []byte) error {
	// Timestamp: ISO 8601, e.g. 2020-12-08T09:08:57.715Z
	timestamp := e.now().UTC().Format("2006-01-02T15:04:05.000Z")
	path := req.URL.Path
	if req.URL.RawQuery != "" {
		path += "?" + req.URL.RawQuery
	}

	// message = timestamp + method + requestPath + body
	message := timestamp + req.Method + path + string(body)

	mac := hmac.New(sha256.New, []byte(e.cfg.SecretKey.Reveal()))
	mac.Write([]byte(message))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("OK-ACCESS-KEY", e.cfg.APIKey.Reveal())
	req.Header.Set("OK-ACCESS-SIGN", signature)
	req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("OK-ACCESS-PASSPHRASE", e.cfg.Passphrase.Reveal())
	req.Header.Set("Content-Type", "application/json")

	return nil
}

// parseError maps an OKX business code to an ExchangeError.
// https://www.okx.com/docs-v5/en/#error-code
func parseError(op, code, msg string) error {
	if code == "0" {
		return nil
	}

	var sentinel error
	switch code {
	case "50001", "50004", "50013", "50026": // Service unavailable, endpoint timeout, system busy
		sentinel = apperrors.ErrSystemOverload
	case "50011", "50061", "50040": // Rate limit
		sentinel = apperrors.ErrRateLimitExceeded
	case "50102": // Timestamp expired
		sentinel = apperrors.ErrTimestampOutOfBounds
	case "50100", "50101", "50103", "50104", "50105", "50111", "50112", "50113": // Auth failed
		sentinel = apperrors.ErrAuthenticationFailed
	case "50014", "51000", "51020", "51121": // Missing or invalid parameter, lot size
		sentinel = apperrors.ErrInvalidOrderParameter
	case "51001": // Instrument does not exist
		sentinel = apperrors.ErrInvalidSymbol
	case "51008": // Insufficient balance
		sentinel = apperrors.ErrInsufficientFunds
	case "51016": // Duplicate clOrdId
		sentinel = apperrors.ErrDuplicateOrder
	case "51400", "51401", "51603": // Order does not exist or already done
		sentinel = apperrors.ErrOrderNotFound
	case "51023": // Position does not exist
		sentinel = apperrors.ErrPositionNotFound
	case "50035": // Maintenance
		sentinel = apperrors.ErrExchangeMaintenance
	case "51010", "51024": // Account mode does not support the request, account blocked
		sentinel = apperrors.ErrOrderRejected
	}

	return &apperrors.ExchangeError{Op: op, Code: code, Message: msg, Err: sentinel}
}

// envelope is the common OKX response wrapper
type envelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []T    `json:"data"`
}

func decode[T any](op string, body []byte) (*envelope[T], error) {
	var env envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%s: failed to decode okx response: %w", op, err)
	}
	return &env, nil
}

// getData issues a signed GET and unwraps the envelope. Transient business codes are retried.
func getData[T any](ctx context.Context, e *Exchange, op, path string, params url.Values) ([]T, error) {
	return retry.Do(ctx, retry.ReadPolicy, func(ctx context.Context) ([]T, error) {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		body, err := e.client.Get(ctx, path, params)
		env, decodeErr := unwrap[T](op, body, err)
		if decodeErr != nil {
			return nil, decodeErr
		}
		return env.Data, parseError(op, env.Code, env.Msg)
	})
}

// postData issues a signed POST. Writes are never replayed.
// The envelope is returned alongside a business error so callers can inspect per-item codes.
func postData[T any](ctx context.Context, e *Exchange, op, path string, payload interface{}) (*envelope[T], error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := e.client.Post(ctx, path, payload)
	env, decodeErr := unwrap[T](op, body, err)
	if decodeErr != nil {
		return nil, decodeErr
	}
	return env, parseError(op, env.Code, env.Msg)
}

// unwrap decodes an envelope from a response. HTTP errors that still carry an OKX envelope surface the business code.
func unwrap[T any](op string, body []byte, err error) (*envelope[T], error) {
	if err != nil {
		var apiErr *httpclient.APIError
		if errors.As(err, &apiErr) && len(body) > 0 {
			if env, decodeErr := decode[T](op, body); decodeErr == nil && env.Code != "" && env.Code != "0" {
				return env, nil
			}
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return decode[T](op, body)
}

// dec parses an OKX numeric string. Empty or malformed values are zero.
func dec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// optionalString renders a NullDecimal for a request body, empty when unset
func optionalString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}
