package viewer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/k-code-yt/gogo-lamp/internal/payment/domain"
	"github.com/sirupsen/logrus"
)

var (
	SimulateAmounts = []float64{10, 25, 50, 100, 250}
	ReconnectDelay  = 2 * time.Second
)

const (
	paymentsPath    = "/api/payments"
	testPaymentPath = "/api/test-payment"
	wsPath          = "/ws"
)

// Client connects a Lamp to a running server: it loads recent history
// over HTTP and then follows the websocket feed.
type Client struct {
	base   *url.URL
	lamp   *Lamp
	http   *http.Client
	dialer *websocket.Dialer
}

func NewClient(serverURL string, lamp *Lamp) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(serverURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", base.Scheme)
	}
	return &Client{
		base:   base,
		lamp:   lamp,
		http:   &http.Client{Timeout: 10 * time.Second},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

func (c *Client) FetchHistory(ctx context.Context, limit int) ([]*domain.Payment, error) {
	u := c.endpoint(paymentsPath)
	u.RawQuery = url.Values{"limit": {strconv.Itoa(limit)}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch payments: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch payments: status %d", resp.StatusCode)
	}

	payments := []*domain.Payment{}
	if err := json.NewDecoder(resp.Body).Decode(&payments); err != nil {
		return nil, fmt.Errorf("failed to decode payments: %w", err)
	}
	return payments, nil
}

func (c *Client) Simulate(ctx context.Context, amount float64) (*domain.Payment, error) {
	body, err := json.Marshal(map[string]float64{"amount": amount})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(testPaymentPath).String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to post test payment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to post test payment: status %d", resp.StatusCode)
	}

	p := new(domain.Payment)
	if err := json.NewDecoder(resp.Body).Decode(p); err != nil {
		return nil, fmt.Errorf("failed to decode payment: %w", err)
	}
	return p, nil
}

// Run loads history once and then follows the event feed, reconnecting
// until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	payments, err := c.FetchHistory(ctx, c.lamp.t.HistorySize)
	if err != nil {
		logrus.Warnf("could not load history: %v", err)
	} else {
		c.lamp.LoadHistory(payments)
	}

	for {
		err := c.follow(ctx)
		if ctx.Err() != nil {
			return nil
		}
		logrus.WithField("server", c.base.Host).Warnf("disconnected: %v", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(ReconnectDelay):
		}
	}
}

func (c *Client) follow(ctx context.Context) error {
	wsURL := c.endpoint(wsPath)
	wsURL.Scheme = strings.Replace(wsURL.Scheme, "http", "ws", 1)

	conn, _, err := c.dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	logrus.WithField("server", c.base.Host).Info("connected")

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	})
	defer stop()

	for {
		event := new(domain.PaymentEvent)
		if err := conn.ReadJSON(event); err != nil {
			return err
		}
		if event.Type != domain.EventType_PaymentReceived {
			continue
		}
		logrus.WithFields(logrus.Fields{
			"paymentID": event.PaymentID,
			"amount":    event.Amount,
			"currency":  event.Currency,
		}).Info("payment received")
		c.lamp.OnEvent(event)
	}
}

// HandleCommands reads one command per line: "r" resets the lamp, "s"
// posts a test payment with a random amount.
func (c *Client) HandleCommands(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.TrimSpace(scanner.Text()) {
		case "r":
			c.lamp.Reset()
		case "s":
			amount := SimulateAmounts[rand.IntN(len(SimulateAmounts))]
			p, err := c.Simulate(ctx, amount)
			if err != nil {
				logrus.Errorf("simulate failed: %v", err)
				continue
			}
			logrus.WithField("paymentID", p.ID).Infof("simulated payment of %.2f", amount)
		case "":
		default:
			fmt.Println("commands: r = reset lamp, s = simulate payment")
		}
	}
}

func (c *Client) endpoint(path string) *url.URL {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return &u
}

func LogTransitions(s Snapshot) {
	fields := logrus.Fields{"state": s.State}
	if s.State != State_Idle {
		fields["amount"] = fmt.Sprintf("%.2f", s.Amount)
	}
	if len(s.History) > 0 {
		last := s.History[0]
		fields["last"] = fmt.Sprintf("%s %.2f %s", last.Time, last.Amount, strings.ToUpper(last.Currency))
	}
	logrus.WithFields(fields).Info("lamp")
}
