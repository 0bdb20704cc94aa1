package store

import (
	"context"
	"strings"

	"github.com/k-code-yt/gogo-lamp/internal/payment/domain"
	pkgerrors "github.com/k-code-yt/gogo-lamp/pkg/errors"
)

// DefaultRecentLimit is the recent-query size for callers with no preference.
const DefaultRecentLimit = 10

const DBTableName_Payment = "payments"

// PaymentStore is append-only: records are created once and never
// updated or deleted.
type PaymentStore interface {
	CreatePayment(ctx context.Context, externalPaymentID string, amountMinorUnits int64, currency string) (*domain.Payment, error)
	// GetRecentPayments returns at most limit payments, newest first.
	// A limit <= 0 yields an empty slice.
	GetRecentPayments(ctx context.Context, limit int) ([]*domain.Payment, error)
}

func normalizeCurrency(currency, fallback string) (string, error) {
	c := strings.ToLower(strings.TrimSpace(currency))
	if c == "" {
		c = fallback
	}
	if !domain.IsValidCurrency(c) {
		return "", pkgerrors.NewInvalidCurrencyError(currency)
	}
	return c, nil
}
