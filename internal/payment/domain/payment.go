package domain

import (
	"regexp"
	"time"
)

const (
	EventType_PaymentReceived = "payment_received"
	DefaultCurrency           = "usd"
	minorUnitsPerMajor        = 100

	// MaxMinorUnits keeps amounts exact in float64 and inside int64.
	MaxMinorUnits = 1 << 53
)

var currencyRE = regexp.MustCompile(`^[a-z]{3}$`)

// IsValidCurrency reports whether c is a lowercase three-letter code.
func IsValidCurrency(c string) bool {
	return currencyRE.MatchString(c)
}

type Payment struct {
	ID                string    `json:"id" db:"id"`
	ExternalPaymentID string    `json:"externalPaymentId" db:"external_payment_id"`
	AmountMinorUnits  int64     `json:"amountMinorUnits" db:"amount_minor_units"`
	Currency          string    `json:"currency" db:"currency"`
	Timestamp         time.Time `json:"timestamp" db:"created_at"`

	// insertion order, breaks timestamp ties
	Sequence int64 `json:"-" db:"seq"`
}

// PaymentEvent is the broadcast payload. Amount is in major units.
type PaymentEvent struct {
	Type      string    `json:"type"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Timestamp time.Time `json:"timestamp"`
	PaymentID string    `json:"paymentId"`
}

func NewPaymentEvent(p *Payment) *PaymentEvent {
	return &PaymentEvent{
		Type:      EventType_PaymentReceived,
		Amount:    ToMajorUnits(p.AmountMinorUnits),
		Currency:  p.Currency,
		Timestamp: p.Timestamp,
		PaymentID: p.ID,
	}
}

func ToMajorUnits(minor int64) float64 {
	return float64(minor) / minorUnitsPerMajor
}
