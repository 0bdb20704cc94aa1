package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/k-code-yt/gogo-lamp/internal/ingress"
	"github.com/k-code-yt/gogo-lamp/internal/metrics"
	"github.com/k-code-yt/gogo-lamp/internal/payment/domain"
	"github.com/k-code-yt/gogo-lamp/internal/payment/store"
	pkgerrors "github.com/k-code-yt/gogo-lamp/pkg/errors"
	"github.com/sirupsen/logrus"
)

// MaxWebhookBodyBytes bounds what the webhook endpoint will read.
const MaxWebhookBodyBytes = 64 << 10

type IngressService interface {
	HandleWebhook(ctx context.Context, payload []byte, sigHeader string) (*ingress.Ack, error)
	HandleTestPayment(ctx context.Context, amount *float64) (*domain.Payment, error)
}

type SessionCounter interface {
	SessionCount() int
}

type Handler struct {
	Ingress      IngressService
	Store        store.PaymentStore
	Sessions     SessionCounter
	HistoryLimit int
}

func NewHandler(in IngressService, s store.PaymentStore, sessions SessionCounter, historyLimit int) *Handler {
	return &Handler{
		Ingress:      in,
		Store:        s,
		Sessions:     sessions,
		HistoryLimit: historyLimit,
	}
}

// POST /api/webhook/payment
func (h *Handler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.WebhooksRejected.WithLabelValues("payload_too_large").Inc()
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":   "payload_too_large",
				"message": fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit),
			})
			return
		}
		writeError(c, pkgerrors.NewMalformedPayloadError(err))
		return
	}

	ack, err := h.Ingress.HandleWebhook(c.Request.Context(), payload, c.GetHeader(ingress.SignatureHeader))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}

type testPaymentRequest struct {
	Amount *float64 `json:"amount"`
}

// POST /api/test-payment
func (h *Handler) TestPayment(c *gin.Context) {
	var req testPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, pkgerrors.NewMalformedPayloadError(err))
		return
	}

	p, err := h.Ingress.HandleTestPayment(c.Request.Context(), req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// GET /api/payments?limit=n, capped at the history size.
func (h *Handler) RecentPayments(c *gin.Context) {
	limit := h.HistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit", "message": "limit must be an integer"})
			return
		}
		limit = min(n, h.HistoryLimit)
	}

	payments, err := h.Store.GetRecentPayments(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payments)
}

// GET /health
func (h *Handler) Health(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": h.Sessions.SessionCount(),
		"alloc":    m.Alloc,
		"sys":      m.Sys,
		"num_gc":   m.NumGC,
	})
}

func statusFor(err error) int {
	switch pkgerrors.GetErrorCode(err) {
	case pkgerrors.CodeSignatureInvalid, pkgerrors.CodeMalformedPayload, pkgerrors.CodeInvalidAmount, pkgerrors.CodeInvalidCurrency:
		return http.StatusBadRequest
	case pkgerrors.CodeDuplicatePayment:
		return http.StatusConflict
	case pkgerrors.CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := pkgerrors.Message(err)
	if status == http.StatusInternalServerError {
		logrus.WithField("path", c.FullPath()).Errorf("unhandled error: %v", err)
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": pkgerrors.Name(err), "message": msg})
}
