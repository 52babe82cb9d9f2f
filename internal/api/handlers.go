package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"signal_trader/internal/core"
	"signal_trader/internal/journal"
	"signal_trader/internal/signal"
	apperrors "signal_trader/pkg/errors"
	"signal_trader/pkg/liveserver"

	"github.com/gin-gonic/gin"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleSignal(c *gin.Context) {
	start := time.Now()
	ctx := c.Request.Context()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "bad_request", "failed to read body")
		return
	}

	entry := &journal.Entry{ReceivedAt: start.UTC(), Payload: string(body)}

	raw, err := signal.ParseRawSignal(body)
	if err != nil {
		s.reject(ctx, c, entry, start, &signal.ValidationError{Field: "body", Message: err.Error()})
		return
	}
	entry.InstID = raw.InstID
	entry.Side = raw.OrderSide
	entry.RedButton = bool(raw.RedButton)

	// instrument ids are case insensitive on the wire
	lockKey := strings.ToUpper(strings.TrimSpace(raw.InstID))
	if raw.RedButton {
		lockKey = ""
	}
	unlock, err := s.lock(ctx, lockKey)
	if err != nil {
		errorResponse(c, http.StatusServiceUnavailable, "cancelled", "request cancelled while waiting for the instrument")
		return
	}
	defer unlock()

	intent, err := s.validator.Validate(ctx, raw)
	if err != nil {
		s.reject(ctx, c, entry, start, err)
		return
	}
	entry.InstID = intent.InstID
	entry.ClientOrderID = intent.ClientOrderID

	log := s.logger.WithFields(map[string]interface{}{
		"instrument":      intent.InstID,
		"client_order_id": intent.ClientOrderID,
	})
	log.Info("Signal accepted", "side", intent.Side, "red_button", intent.RedButton, "contracts", intent.Contracts)

	report, err := s.handler.HandleSignal(ctx, intent)
	if err != nil {
		log.Error("Signal failed", "error", err)
		s.fail(ctx, c, entry, start, err)
		return
	}

	s.succeed(ctx, c, entry, start, report)
}

func (s *Server) handleMaintenance(c *gin.Context) {
	start := time.Now()
	ctx := c.Request.Context()
	entry := &journal.Entry{ReceivedAt: start.UTC(), RedButton: true}

	unlock, err := s.lock(ctx, "")
	if err != nil {
		errorResponse(c, http.StatusServiceUnavailable, "cancelled", "request cancelled while waiting for the account")
		return
	}
	defer unlock()

	s.logger.Warn("Maintenance requested, flattening account")
	report, err := s.handler.HandleMaintenance(ctx)
	if err != nil {
		s.logger.Error("Maintenance failed", "error", err)
		s.fail(ctx, c, entry, start, err)
		return
	}
	s.succeed(ctx, c, entry, start, report)
}

func (s *Server) handleStatus(c *gin.Context) {
	instID, err := signal.ParseInstID(c.Param("instId"))
	if err != nil {
		writeError(c, err)
		return
	}

	report, err := s.handler.Status(c.Request.Context(), instID)
	if err != nil {
		writeError(c, err)
		return
	}
	successResponse(c, report)
}

func (s *Server) handleJournal(c *gin.Context) {
	if s.journal == nil {
		errorResponse(c, http.StatusNotFound, "journal_disabled", "signal journal is disabled")
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			errorResponse(c, http.StatusBadRequest, "validation_failed", "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	entries, err := s.journal.Recent(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to read journal", "error", err)
		errorResponse(c, http.StatusInternalServerError, "journal_error", "failed to read journal")
		return
	}
	successResponse(c, entries)
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		return
	}

	components := s.health.GetStatus()
	if !s.health.IsHealthy() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "components": components})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "components": components})
}

// reject handles signals that never reached the engine
func (s *Server) reject(ctx context.Context, c *gin.Context, entry *journal.Entry, start time.Time, err error) {
	s.logger.Warn("Signal rejected", "instrument", entry.InstID, "error", err)
	s.metrics.RecordSignal(ctx, journal.OutcomeRejected)
	s.finish(ctx, entry, start, journal.OutcomeRejected, err)
	writeError(c, err)
}

// fail handles engine errors. The engine records its own outcome metric.
func (s *Server) fail(ctx context.Context, c *gin.Context, entry *journal.Entry, start time.Time, err error) {
	s.finish(ctx, entry, start, journal.OutcomeFailed, err)
	writeError(c, err)
}

func (s *Server) succeed(ctx context.Context, c *gin.Context, entry *journal.Entry, start time.Time, report *core.InstrumentStatusReport) {
	s.finish(ctx, entry, start, journal.OutcomeOK, nil)
	if s.feed != nil && report != nil {
		if entry.RedButton {
			s.feed.Broadcast(liveserver.NewMaintenanceMessage(report))
		} else {
			s.feed.Broadcast(liveserver.NewStatusMessage(report.InstID, report))
		}
	}
	successResponse(c, report)
}

func (s *Server) finish(ctx context.Context, entry *journal.Entry, start time.Time, outcome string, err error) {
	entry.Outcome = outcome
	entry.Duration = time.Since(start)
	if err != nil {
		entry.Error = err.Error()
		if s.feed != nil {
			s.feed.Broadcast(liveserver.NewSignalErrorMessage(liveserver.SignalError{
				InstID:  entry.InstID,
				Outcome: outcome,
				Error:   entry.Error,
				At:      time.Now().UTC(),
			}))
		}
	}
	if s.journal == nil {
		return
	}
	// the journal write must not be lost to a client disconnect
	if jerr := s.journal.Record(context.WithoutCancel(ctx), entry); jerr != nil {
		s.logger.Error("Failed to journal signal", "error", jerr)
	}
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrInsufficientDepth):
		return http.StatusUnprocessableEntity, "insufficient_depth"
	case errors.Is(err, apperrors.ErrInconsistentSignal):
		return http.StatusUnprocessableEntity, "inconsistent_signal"
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, apperrors.ErrMarketDataUnavailable):
		return http.StatusServiceUnavailable, "market_data_unavailable"
	case errors.Is(err, apperrors.ErrGatewayRejected):
		return http.StatusBadGateway, "gateway_rejected"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(c *gin.Context, err error) {
	status, code := statusFor(err)
	body := gin.H{
		"error":   true,
		"code":    code,
		"message": err.Error(),
	}

	var verr *signal.ValidationError
	if errors.As(err, &verr) {
		body["field"] = verr.Field
		if verr.Min.Valid {
			body["min"] = verr.Min.Decimal.String()
		}
		if verr.Max.Valid {
			body["max"] = verr.Max.Decimal.String()
		}
		if verr.Cost.Valid {
			body["contract_cost_usd"] = verr.Cost.Decimal.String()
		}
	}
	c.JSON(status, body)
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"code":    code,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
