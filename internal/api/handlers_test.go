package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/k-code-yt/gogo-lamp/internal/hub"
	"github.com/k-code-yt/gogo-lamp/internal/ingress"
	"github.com/k-code-yt/gogo-lamp/internal/payment/domain"
	"github.com/k-code-yt/gogo-lamp/internal/payment/store"
	"github.com/k-code-yt/gogo-lamp/internal/transport/ws"
	pkgerrors "github.com/k-code-yt/gogo-lamp/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
)

const testSecret = "whsec_api_test"

func init() {
	gin.SetMode(gin.TestMode)
}

type env struct {
	router *gin.Engine
	store  *store.InMemoryStore
	hub    *hub.Hub
}

func setup(t *testing.T, secret string) *env {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := hub.NewHub()
	go h.Run(ctx)
	st := store.NewInMemoryStore(nil, "usd")
	svc := ingress.NewService(st, h, nil, ingress.Config{
		WebhookSecret:     secret,
		DefaultCurrency:   "usd",
		DefaultTestAmount: 10,
	})
	handler := NewHandler(svc, st, h, 5)
	return &env{router: NewRouter(handler, ws.NewHandler(h), nil), store: st, hub: h}
}

func (e *env) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func intentPayload(id string, amount int64) string {
	return fmt.Sprintf(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":%q,"amount":%d,"currency":"usd"}}}`, id, amount)
}

func signed(payload string) map[string]string {
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return map[string]string{ingress.SignatureHeader: sp.Header}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestWebhookAccepted(t *testing.T) {
	e := setup(t, testSecret)
	payload := intentPayload("pi_1", 2500)

	w := e.do(http.MethodPost, "/api/webhook/payment", payload, signed(payload))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received":true}`, w.Body.String())
	assert.Equal(t, 1, e.store.Len())
}

func TestWebhookErrorStatuses(t *testing.T) {
	e := setup(t, testSecret)
	payload := intentPayload("pi_1", 2500)

	w := e.do(http.MethodPost, "/api/webhook/payment", payload, map[string]string{ingress.SignatureHeader: "t=1,v1=00"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "signature_invalid", decode(t, w)["error"])

	bad := `{"type":"payment_intent.succeeded","data":{"object":{"amount":5}}}`
	w = e.do(http.MethodPost, "/api/webhook/payment", bad, signed(bad))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "malformed_payload", decode(t, w)["error"])

	badCurrency := `{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_c","amount":5,"currency":"us dollars"}}}`
	w = e.do(http.MethodPost, "/api/webhook/payment", badCurrency, signed(badCurrency))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "malformed_payload", decode(t, w)["error"])
	assert.Equal(t, 0, e.store.Len())

	w = e.do(http.MethodPost, "/api/webhook/payment", payload, signed(payload))
	require.Equal(t, http.StatusOK, w.Code)
	w = e.do(http.MethodPost, "/api/webhook/payment", payload, signed(payload))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "duplicate_payment", decode(t, w)["error"])
}

func TestWebhookOversizedBodyRejected(t *testing.T) {
	e := setup(t, "")
	padding := strings.Repeat(" ", MaxWebhookBodyBytes)
	payload := intentPayload("pi_big", 2500) + padding

	w := e.do(http.MethodPost, "/api/webhook/payment", payload, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "payload_too_large", decode(t, w)["error"])
	assert.Equal(t, 0, e.store.Len())

	w = e.do(http.MethodPost, "/api/webhook/payment", intentPayload("pi_small", 2500)+" ", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTestPaymentEndpoint(t *testing.T) {
	e := setup(t, "")

	w := e.do(http.MethodPost, "/api/test-payment", `{"amount": 50}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, 5000.0, body["amountMinorUnits"])
	assert.Equal(t, "usd", body["currency"])
	assert.NotEmpty(t, body["id"])

	w = e.do(http.MethodPost, "/api/test-payment", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1000.0, decode(t, w)["amountMinorUnits"])

	w = e.do(http.MethodPost, "/api/test-payment", `{"amount": -3}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_amount", decode(t, w)["error"])

	w = e.do(http.MethodPost, "/api/test-payment", `{"amount": "lots"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodPost, "/api/test-payment", `{"amount": 1e20}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_amount", decode(t, w)["error"])
}

func TestRecentPaymentsCappedAndOrdered(t *testing.T) {
	e := setup(t, "")
	for i := 1; i <= 6; i++ {
		w := e.do(http.MethodPost, "/api/test-payment", fmt.Sprintf(`{"amount": %d}`, i), nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	tests := []struct {
		query string
		want  []float64
	}{
		{"", []float64{600, 500, 400, 300, 200}},
		{"?limit=2", []float64{600, 500}},
		{"?limit=50", []float64{600, 500, 400, 300, 200}},
		{"?limit=0", []float64{}},
	}
	for _, tt := range tests {
		w := e.do(http.MethodGet, "/api/payments"+tt.query, "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var payments []*domain.Payment
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payments))
		got := []float64{}
		for _, p := range payments {
			got = append(got, float64(p.AmountMinorUnits))
		}
		assert.Equal(t, tt.want, got, "query %q", tt.query)
	}

	w := e.do(http.MethodGet, "/api/payments?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreatePayment(ctx context.Context, externalID string, amount int64, currency string) (*domain.Payment, error) {
	args := m.Called(ctx, externalID, amount, currency)
	p, _ := args.Get(0).(*domain.Payment)
	return p, args.Error(1)
}

func (m *MockStore) GetRecentPayments(ctx context.Context, limit int) ([]*domain.Payment, error) {
	args := m.Called(ctx, limit)
	p, _ := args.Get(0).([]*domain.Payment)
	return p, args.Error(1)
}

func TestStorageFailureMapsTo503(t *testing.T) {
	st := new(MockStore)
	st.On("GetRecentPayments", mock.Anything, 5).Return(nil, pkgerrors.NewStorageUnavailableError(errors.New("conn refused")))
	st.On("CreatePayment", mock.Anything, mock.Anything, int64(1000), "usd").Return(nil, errors.New("boom"))

	h := hub.NewHub()
	svc := ingress.NewService(st, h, nil, ingress.Config{DefaultTestAmount: 10})
	router := NewRouter(NewHandler(svc, st, h, 5), ws.NewHandler(h), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/payments", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "storage_unavailable")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/test-payment", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")

	st.AssertExpectations(t)
}

func TestHealthAndMetrics(t *testing.T) {
	e := setup(t, "")

	w := e.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, 0.0, body["sessions"])

	w = e.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestWebhookReachesWebsocketViewer(t *testing.T) {
	e := setup(t, "")
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return e.hub.SessionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/api/webhook/payment", "application/json", strings.NewReader(intentPayload("pi_ws", 2500)))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event domain.PaymentEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, domain.EventType_PaymentReceived, event.Type)
	assert.Equal(t, 25.0, event.Amount)
	assert.Equal(t, "usd", event.Currency)
}
