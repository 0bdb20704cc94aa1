package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/k-code-yt/gogo-lamp/internal/clock"
	pkgerrors "github.com/k-code-yt/gogo-lamp/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestCreatePaymentAssignsIdentity(t *testing.T) {
	c := clock.Fake(epoch)
	s := NewInMemoryStore(c, "usd")

	p, err := s.CreatePayment(context.Background(), "pi_1", 2500, "")
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "pi_1", p.ExternalPaymentID)
	assert.Equal(t, int64(2500), p.AmountMinorUnits)
	assert.Equal(t, "usd", p.Currency)
	assert.Equal(t, epoch, p.Timestamp)
}

func TestCreatePaymentNormalizesCurrency(t *testing.T) {
	tests := map[string]string{
		"usd":   "usd",
		" JPY ": "jpy",
		"":      "eur",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			s := NewInMemoryStore(nil, "eur")

			p, err := s.CreatePayment(context.Background(), "pi_1", 100, in)
			require.NoError(t, err)
			assert.Equal(t, want, p.Currency)
		})
	}
}

func TestCreatePaymentRejectsInvalidCurrency(t *testing.T) {
	for _, in := range []string{"us dollars", "us", "usd1", "€ur", "u$d"} {
		t.Run(in, func(t *testing.T) {
			s := NewInMemoryStore(nil, "usd")

			_, err := s.CreatePayment(context.Background(), "pi_1", 100, in)
			assert.True(t, pkgerrors.IsInvalidCurrencyError(err))
			assert.Equal(t, 0, s.Len())
		})
	}
}

func TestCreatePaymentRejectsDuplicateExternalID(t *testing.T) {
	s := NewInMemoryStore(nil, "usd")
	ctx := context.Background()

	first, err := s.CreatePayment(ctx, "pi_dup", 100, "usd")
	require.NoError(t, err)

	_, err = s.CreatePayment(ctx, "pi_dup", 900, "usd")
	assert.True(t, pkgerrors.IsDuplicatePaymentError(err))
	assert.Equal(t, 1, s.Len())

	recent, err := s.GetRecentPayments(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, first.ID, recent[0].ID)
	assert.Equal(t, int64(100), recent[0].AmountMinorUnits)
}

func TestCreatePaymentRejectsNegativeAmount(t *testing.T) {
	s := NewInMemoryStore(nil, "usd")

	_, err := s.CreatePayment(context.Background(), "pi_neg", -1, "usd")
	assert.True(t, pkgerrors.IsInvalidAmountError(err))
	assert.Equal(t, 0, s.Len())
}

func TestConcurrentCreateProducesDistinctIDs(t *testing.T) {
	s := NewInMemoryStore(nil, "usd")
	count := 500
	ids := make(chan string, count)
	wg := new(sync.WaitGroup)
	wg.Add(count)

	for i := range count {
		go func() {
			defer wg.Done()
			p, err := s.CreatePayment(context.Background(), fmt.Sprintf("pi_%d", i), int64(i), "usd")
			if err != nil {
				t.Errorf("create %d: %v", i, err)
				return
			}
			ids <- p.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]struct{}{}
	for id := range ids {
		_, dup := seen[id]
		assert.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, count)
	assert.Equal(t, count, s.Len())
}

func TestGetRecentPaymentsNewestFirst(t *testing.T) {
	c := clock.Fake(epoch)
	s := NewInMemoryStore(c, "usd")
	ctx := context.Background()

	var created []string
	for i := 1; i <= 6; i++ {
		p, err := s.CreatePayment(ctx, fmt.Sprintf("P%d", i), int64(i*100), "usd")
		require.NoError(t, err)
		created = append(created, p.ExternalPaymentID)
		c.Advance(time.Second)
	}

	recent, err := s.GetRecentPayments(ctx, 5)
	require.NoError(t, err)

	var got []string
	for _, p := range recent {
		got = append(got, p.ExternalPaymentID)
	}
	assert.Equal(t, []string{"P6", "P5", "P4", "P3", "P2"}, got)
	for i := 1; i < len(recent); i++ {
		assert.True(t, recent[i-1].Timestamp.After(recent[i].Timestamp))
	}
}

func TestGetRecentPaymentsTiesBrokenByInsertion(t *testing.T) {
	c := clock.Fake(epoch)
	s := NewInMemoryStore(c, "usd")
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.CreatePayment(ctx, id, 1, "usd")
		require.NoError(t, err)
	}

	recent, err := s.GetRecentPayments(ctx, DefaultRecentLimit)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "c", recent[0].ExternalPaymentID)
	assert.Equal(t, "b", recent[1].ExternalPaymentID)
	assert.Equal(t, "a", recent[2].ExternalPaymentID)
}

func TestGetRecentPaymentsBounds(t *testing.T) {
	s := NewInMemoryStore(nil, "usd")
	ctx := context.Background()

	for i := range 3 {
		_, err := s.CreatePayment(ctx, fmt.Sprintf("pi_%d", i), 1, "usd")
		require.NoError(t, err)
	}

	tt := []struct {
		limit int
		want  int
	}{
		{limit: -1, want: 0},
		{limit: 0, want: 0},
		{limit: 2, want: 2},
		{limit: 10, want: 3},
	}
	for _, tc := range tt {
		got, err := s.GetRecentPayments(ctx, tc.limit)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Len(t, got, tc.want, "limit=%d", tc.limit)
	}
}

func TestGetRecentPaymentsReturnsCopies(t *testing.T) {
	s := NewInMemoryStore(nil, "usd")
	ctx := context.Background()
	_, err := s.CreatePayment(ctx, "pi_1", 100, "usd")
	require.NoError(t, err)

	recent, _ := s.GetRecentPayments(ctx, 1)
	recent[0].AmountMinorUnits = 1

	again, _ := s.GetRecentPayments(ctx, 1)
	assert.Equal(t, int64(100), again[0].AmountMinorUnits)
}
