package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/k-code-yt/gogo-lamp/internal/clock"
	"github.com/k-code-yt/gogo-lamp/internal/metrics"
	"github.com/k-code-yt/gogo-lamp/internal/payment/domain"
	"github.com/k-code-yt/gogo-lamp/internal/payment/store"
	pkgerrors "github.com/k-code-yt/gogo-lamp/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	SignatureHeader = "Stripe-Signature"

	source_Webhook = "webhook"
	source_Test    = "test"

	testPaymentPrefix = "test_"
)

type Broadcaster interface {
	Broadcast(event *domain.PaymentEvent)
}

type Config struct {
	// empty disables signature checks
	WebhookSecret      string
	SignatureTolerance time.Duration
	DefaultCurrency    string
	DefaultTestAmount  float64
}

type Ack struct {
	Received  bool   `json:"received"`
	Handled   bool   `json:"-"`
	EventType string `json:"-"`
	PaymentID string `json:"-"`
}

// Service turns processor webhooks and synthetic test requests into
// stored payments and broadcast events.
type Service struct {
	store       store.PaymentStore
	broadcaster Broadcaster
	clock       clock.Clock
	cfg         Config

	testSeq *atomic.Uint64
}

func NewService(s store.PaymentStore, b Broadcaster, c clock.Clock, cfg Config) *Service {
	if c == nil {
		c = clock.Real()
	}
	if cfg.SignatureTolerance <= 0 {
		cfg.SignatureTolerance = webhook.DefaultTolerance
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = domain.DefaultCurrency
	}
	return &Service{
		store:       s,
		broadcaster: b,
		clock:       c,
		cfg:         cfg,
		testSeq:     new(atomic.Uint64),
	}
}

func (s *Service) VerifiesSignatures() bool {
	return s.cfg.WebhookSecret != ""
}

func (s *Service) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) (*Ack, error) {
	if s.VerifiesSignatures() {
		err := webhook.ValidatePayloadWithTolerance(payload, sigHeader, s.cfg.WebhookSecret, s.cfg.SignatureTolerance)
		if err != nil {
			metrics.WebhooksRejected.WithLabelValues("signature_invalid").Inc()
			return nil, pkgerrors.NewSignatureInvalidError(err)
		}
	}

	event := stripe.Event{}
	if err := json.Unmarshal(payload, &event); err != nil {
		metrics.WebhooksRejected.WithLabelValues("malformed_payload").Inc()
		return nil, pkgerrors.NewMalformedPayloadError(err)
	}

	ack := &Ack{Received: true, EventType: string(event.Type)}
	if event.Type != stripe.EventTypePaymentIntentSucceeded {
		logrus.WithFields(logrus.Fields{
			"eventID":   event.ID,
			"eventType": event.Type,
		}).Info("ignoring webhook event")
		return ack, nil
	}

	intent, err := parsePaymentIntent(event.Data)
	if err != nil {
		metrics.WebhooksRejected.WithLabelValues("malformed_payload").Inc()
		return nil, pkgerrors.NewMalformedPayloadError(err)
	}

	p, err := s.record(ctx, intent.ID, intent.Amount, string(intent.Currency), source_Webhook)
	if err != nil {
		if pkgerrors.IsDuplicatePaymentError(err) {
			metrics.WebhooksRejected.WithLabelValues("duplicate_payment").Inc()
		}
		return nil, err
	}

	ack.Handled = true
	ack.PaymentID = p.ID
	return ack, nil
}

func parsePaymentIntent(data *stripe.EventData) (*stripe.PaymentIntent, error) {
	if data == nil || len(data.Raw) == 0 {
		return nil, errors.New("event has no data.object")
	}
	intent := new(stripe.PaymentIntent)
	if err := json.Unmarshal(data.Raw, intent); err != nil {
		return nil, fmt.Errorf("failed to decode payment intent: %w", err)
	}
	if intent.ID == "" {
		return nil, errors.New("payment intent has no id")
	}
	if intent.Amount < 0 {
		return nil, fmt.Errorf("payment intent amount %d is negative", intent.Amount)
	}
	currency := strings.ToLower(strings.TrimSpace(string(intent.Currency)))
	if currency != "" && !domain.IsValidCurrency(currency) {
		return nil, fmt.Errorf("payment intent currency %q is not a three-letter code", intent.Currency)
	}
	intent.Currency = stripe.Currency(currency)
	return intent, nil
}

// HandleTestPayment records a synthetic payment. A nil amount uses the
// configured default; amounts are in major units.
func (s *Service) HandleTestPayment(ctx context.Context, amount *float64) (*domain.Payment, error) {
	major := s.cfg.DefaultTestAmount
	if amount != nil {
		major = *amount
	}
	if major < 0 || math.IsNaN(major) || math.IsInf(major, 0) {
		return nil, pkgerrors.NewInvalidAmountError(major)
	}

	cents := math.Round(major * 100)
	if cents > domain.MaxMinorUnits {
		return nil, pkgerrors.NewAmountTooLargeError(major)
	}

	externalID := fmt.Sprintf("%s%d_%d", testPaymentPrefix, s.clock.Now().UnixNano(), s.testSeq.Add(1))
	return s.record(ctx, externalID, int64(cents), s.cfg.DefaultCurrency, source_Test)
}

// record stores first and broadcasts only on success, so a request yields
// both a record and an event or neither.
func (s *Service) record(ctx context.Context, externalID string, minor int64, currency, source string) (*domain.Payment, error) {
	p, err := s.store.CreatePayment(ctx, externalID, minor, currency)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"externalID": externalID,
			"source":     source,
		}).Errorf("failed to record payment: %v", err)
		return nil, err
	}

	metrics.PaymentsCreated.WithLabelValues(source).Inc()
	logrus.WithFields(logrus.Fields{
		"paymentID":  p.ID,
		"externalID": p.ExternalPaymentID,
		"amount":     p.AmountMinorUnits,
		"currency":   p.Currency,
		"source":     source,
	}).Info("payment received")

	s.broadcaster.Broadcast(domain.NewPaymentEvent(p))
	return p, nil
}
