package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/k-code-yt/gogo-lamp/internal/clock"
	"github.com/k-code-yt/gogo-lamp/internal/payment/domain"
	pkgerrors "github.com/k-code-yt/gogo-lamp/pkg/errors"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const ErrDuplicateCode = "23505"

func IsDuplicateKeyErr(err error) bool {
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		return pgErr.Code == pq.ErrorCode(ErrDuplicateCode)
	}
	return false
}

func NewDBConn(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, pkgerrors.NewStorageUnavailableError(err)
	}
	return db, nil
}

type PostgresStore struct {
	repo            *sqlx.DB
	tableName       string
	clock           clock.Clock
	defaultCurrency string
}

func NewPostgresStore(db *sqlx.DB, c clock.Clock, defaultCurrency string) *PostgresStore {
	if c == nil {
		c = clock.Real()
	}
	if defaultCurrency == "" {
		defaultCurrency = domain.DefaultCurrency
	}
	return &PostgresStore{
		repo:            db,
		tableName:       DBTableName_Payment,
		clock:           c,
		defaultCurrency: defaultCurrency,
	}
}

func (s *PostgresStore) CreatePayment(ctx context.Context, externalPaymentID string, amountMinorUnits int64, currency string) (*domain.Payment, error) {
	if amountMinorUnits < 0 {
		return nil, pkgerrors.NewInvalidAmountError(amountMinorUnits)
	}
	currency, err := normalizeCurrency(currency, s.defaultCurrency)
	if err != nil {
		return nil, err
	}

	p := &domain.Payment{
		ID:                uuid.NewString(),
		ExternalPaymentID: externalPaymentID,
		AmountMinorUnits:  amountMinorUnits,
		Currency:          currency,
		Timestamp:         s.clock.Now().UTC(),
	}

	query := fmt.Sprintf("INSERT INTO %s (id, external_payment_id, amount_minor_units, currency, created_at) VALUES($1, $2, $3, $4, $5) RETURNING seq", s.tableName)
	err = s.repo.QueryRowxContext(ctx, query, p.ID, p.ExternalPaymentID, p.AmountMinorUnits, p.Currency, p.Timestamp).Scan(&p.Sequence)
	if err != nil {
		if IsDuplicateKeyErr(err) {
			return nil, pkgerrors.NewDuplicatePaymentError(externalPaymentID)
		}
		logrus.WithField("externalID", externalPaymentID).Errorf("err on insert = %v", err)
		return nil, pkgerrors.NewStorageUnavailableError(err)
	}
	return p, nil
}

func (s *PostgresStore) GetRecentPayments(ctx context.Context, limit int) ([]*domain.Payment, error) {
	if limit <= 0 {
		return []*domain.Payment{}, nil
	}

	payments := []*domain.Payment{}
	q := fmt.Sprintf("SELECT id, external_payment_id, amount_minor_units, currency, created_at, seq FROM %s ORDER BY created_at DESC, seq DESC LIMIT $1", s.tableName)
	if err := s.repo.SelectContext(ctx, &payments, q, limit); err != nil {
		return nil, pkgerrors.NewStorageUnavailableError(err)
	}
	return payments, nil
}
