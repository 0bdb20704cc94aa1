package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/k-code-yt/gogo-lamp/internal/clock"
	"github.com/k-code-yt/gogo-lamp/internal/payment/domain"
	pkgerrors "github.com/k-code-yt/gogo-lamp/pkg/errors"
	"github.com/sirupsen/logrus"
)

type InMemoryStore struct {
	payments   []*domain.Payment
	byExternal map[string]*domain.Payment
	mu         *sync.RWMutex

	clock           clock.Clock
	defaultCurrency string
}

func NewInMemoryStore(c clock.Clock, defaultCurrency string) *InMemoryStore {
	if c == nil {
		c = clock.Real()
	}
	if defaultCurrency == "" {
		defaultCurrency = domain.DefaultCurrency
	}
	return &InMemoryStore{
		payments:        []*domain.Payment{},
		byExternal:      map[string]*domain.Payment{},
		mu:              new(sync.RWMutex),
		clock:           c,
		defaultCurrency: defaultCurrency,
	}
}

func (s *InMemoryStore) CreatePayment(ctx context.Context, externalPaymentID string, amountMinorUnits int64, currency string) (*domain.Payment, error) {
	if amountMinorUnits < 0 {
		return nil, pkgerrors.NewInvalidAmountError(amountMinorUnits)
	}
	currency, err := normalizeCurrency(currency, s.defaultCurrency)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byExternal[externalPaymentID]; ok {
		return nil, pkgerrors.NewDuplicatePaymentError(externalPaymentID)
	}

	p := &domain.Payment{
		ID:                uuid.NewString(),
		ExternalPaymentID: externalPaymentID,
		AmountMinorUnits:  amountMinorUnits,
		Currency:          currency,
		Timestamp:         s.clock.Now(),
		Sequence:          int64(len(s.payments) + 1),
	}
	s.payments = append(s.payments, p)
	s.byExternal[externalPaymentID] = p

	logrus.WithFields(logrus.Fields{
		"paymentID":  p.ID,
		"externalID": externalPaymentID,
		"amount":     amountMinorUnits,
	}).Debug("stored payment")

	cp := *p
	return &cp, nil
}

// GetRecentPayments walks the append-only slice backwards. Timestamps
// come from a monotonic clock under the write lock, so reverse insertion
// order is descending timestamp order with ties already broken.
func (s *InMemoryStore) GetRecentPayments(ctx context.Context, limit int) ([]*domain.Payment, error) {
	if limit <= 0 {
		return []*domain.Payment{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := min(limit, len(s.payments))
	result := make([]*domain.Payment, 0, n)
	for i := len(s.payments) - 1; i >= 0 && len(result) < n; i-- {
		cp := *s.payments[i]
		result = append(result, &cp)
	}
	return result, nil
}

func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.payments)
}
