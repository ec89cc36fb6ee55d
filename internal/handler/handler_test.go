package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vybzcody/paymebro-sub003/internal/db"
	"github.com/vybzcody/paymebro-sub003/internal/fees"
	"github.com/vybzcody/paymebro-sub003/internal/handler"
	"github.com/vybzcody/paymebro-sub003/internal/models"
	"github.com/vybzcody/paymebro-sub003/internal/monitor"
	"github.com/vybzcody/paymebro-sub003/internal/notify"
	"github.com/vybzcody/paymebro-sub003/internal/services"
)

const jwtSecret = "handler-secret"

type memStore struct {
	mu      sync.Mutex
	wallets map[string]*models.MerchantWallet
}

func (s *memStore) MerchantWallet(_ context.Context, principalID string) (*models.MerchantWallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[principalID]
	if !ok {
		return nil, db.ErrWalletNotFound
	}
	return w, nil
}

func (s *memStore) UpsertMerchantWallet(_ context.Context, principalID, address, tier string) (*models.MerchantWallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := &models.MerchantWallet{PrincipalID: principalID, Address: address, Tier: tier}
	s.wallets[principalID] = w
	return w, nil
}

func (s *memStore) PaymentRecord(context.Context, string) (*models.PaymentRecord, error) {
	return nil, db.ErrRecordNotFound
}

func (s *memStore) UpdatePaymentStatus(context.Context, string, models.Status, string, string) error {
	return db.ErrRecordNotFound
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type server struct {
	router     *gin.Engine
	monitor    *monitor.Monitor
	dispatcher *notify.Dispatcher
	token      string
}

func newServer(t *testing.T, result monitor.StatusResult, opts ...handler.Option) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	oracle := monitor.OracleFunc(func(context.Context, string, models.ExpectedPayment) (monitor.StatusResult, error) {
		return result, nil
	})
	m := monitor.New(oracle, zap.NewNop())
	d := notify.NewDispatcher(zap.NewNop())
	m.OnTransition(d.HandleTransition)

	store := &memStore{wallets: map[string]*models.MerchantWallet{
		"merchant-1": {PrincipalID: "merchant-1", Address: solana.NewWallet().PublicKey().String()},
		"merchant-2": {PrincipalID: "merchant-2", Address: solana.NewWallet().PublicKey().String()},
	}}
	builder := services.NewRequestBuilder(fees.NewCalculator(nil), nil,
		solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"), zap.NewNop())
	svc := services.NewPaymentService(builder, m, d, store, zap.NewNop())

	r := gin.New()
	handler.RegisterRoutes(r, handler.New(svc, zap.NewNop(), opts...), jwtSecret)

	return &server{router: r, monitor: m, dispatcher: d, token: tokenFor(t, "merchant-1")}
}

func tokenFor(t *testing.T, principalID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"userId": principalID}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return token
}

// as returns a copy of the server that authenticates as principalID.
func (s *server) as(t *testing.T, principalID string) *server {
	return &server{router: s.router, monitor: s.monitor, dispatcher: s.dispatcher, token: tokenFor(t, principalID)}
}

func (s *server) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type notificationList struct {
	Notifications []models.Notification `json:"notifications"`
	Unread        int                   `json:"unread"`
}

func TestCreatePaymentAndConfirm(t *testing.T) {
	s := newServer(t, monitor.StatusResult{Found: true, Matches: true, Signature: "sig1"})

	w := s.do(http.MethodPost, "/api/payments", `{"amount":"10.00","currency":"USDC","label":"Shop"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created models.CreatePaymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.True(t, created.Persisted)
	require.Equal(t, "0.59", created.Payment.FeeBreakdown.PlatformFee.String())
	require.Equal(t, "10.59", created.Payment.FeeBreakdown.TotalCustomerPays.String())
	ref := created.Payment.Reference

	w = s.do(http.MethodGet, "/api/payments/"+ref, "")
	require.Equal(t, http.StatusOK, w.Code)
	var st models.PaymentStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	require.True(t, st.Monitoring)
	require.Equal(t, models.StatusPending, st.Status)

	s.monitor.Tick(context.Background())

	w = s.do(http.MethodGet, "/api/notifications", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list notificationList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Notifications, 1)
	require.Equal(t, 1, list.Unread)
	require.Equal(t, models.NotificationPaymentConfirmed, list.Notifications[0].Type)
	require.Equal(t, "sig1", list.Notifications[0].Signature)

	id := list.Notifications[0].ID
	require.Equal(t, http.StatusNoContent, s.do(http.MethodPost, "/api/notifications/"+id+"/read", "").Code)
	require.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/notifications/nope/read", "").Code)
	require.Equal(t, http.StatusNoContent, s.do(http.MethodPost, "/api/notifications/read-all", "").Code)
	require.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/api/notifications/"+id, "").Code)
	require.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/api/notifications/"+id, "").Code)
	require.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/api/notifications", "").Code)

	// finished and not persisted
	require.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/payments/"+ref, "").Code)
}

func TestCreatePaymentErrors(t *testing.T) {
	s := newServer(t, monitor.StatusResult{})

	tests := []struct {
		body string
		want int
	}{
		{`{`, http.StatusBadRequest},
		{`{"amount":"10","currency":"EUR"}`, http.StatusBadRequest},
		{`{"amount":"0","currency":"USDC"}`, http.StatusBadRequest},
		{`{"amount":"1.234","currency":"USDC"}`, http.StatusBadRequest},
		{`{"amount":"1"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		w := s.do(http.MethodPost, "/api/payments", tt.body)
		require.Equal(t, tt.want, w.Code, tt.body)
	}
	require.Empty(t, s.monitor.Active())
}

func TestCreatePaymentUnknownMerchant(t *testing.T) {
	s := newServer(t, monitor.StatusResult{})
	s = s.as(t, "someone-else")

	w := s.do(http.MethodPost, "/api/payments", `{"amount":"1","currency":"SOL"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestUnauthenticated(t *testing.T) {
	s := newServer(t, monitor.StatusResult{})
	s.token = ""
	require.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/notifications", "").Code)
}

func TestStopMonitoring(t *testing.T) {
	s := newServer(t, monitor.StatusResult{Found: true, Matches: true, Signature: "sig1"})

	w := s.do(http.MethodPost, "/api/payments", `{"amount":"2","currency":"SOL"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created models.CreatePaymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = s.do(http.MethodDelete, "/api/payments/"+created.Payment.Reference+"/monitor", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"stopped":true}`, w.Body.String())

	s.monitor.Tick(context.Background())

	var list notificationList
	require.NoError(t, json.Unmarshal(s.do(http.MethodGet, "/api/notifications", "").Body.Bytes(), &list))
	require.Empty(t, list.Notifications)

	w = s.do(http.MethodDelete, "/api/payments/"+created.Payment.Reference+"/monitor", "")
	require.JSONEq(t, `{"stopped":false}`, w.Body.String())
}

func TestRequestPermissionWithoutHub(t *testing.T) {
	s := newServer(t, monitor.StatusResult{})
	w := s.do(http.MethodPost, "/api/notifications/permission", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"permission":"denied"}`, w.Body.String())

	require.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/ws", "").Code)
}

func TestProbes(t *testing.T) {
	s := newServer(t, monitor.StatusResult{}, handler.WithPinger(pingFunc(func(context.Context) error {
		return errors.New("connection refused")
	})))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	s = newServer(t, monitor.StatusResult{}, handler.WithWarmup(time.Hour))
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	s = newServer(t, monitor.StatusResult{}, handler.WithPinger(pingFunc(func(context.Context) error { return nil })))
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsLocalOnly(t *testing.T) {
	s := newServer(t, monitor.StatusResult{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "127.0.0.1:9000"
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "afripay_monitor_active_sessions")

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "192.168.1.10:9000"
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestPaymentsAreScopedToPrincipal(t *testing.T) {
	owner := newServer(t, monitor.StatusResult{Found: true, Matches: true, Signature: "sig1"})
	other := owner.as(t, "merchant-2")

	w := owner.do(http.MethodPost, "/api/payments", `{"amount":"5","currency":"USDC"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created models.CreatePaymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	ref := created.Payment.Reference

	require.Equal(t, http.StatusNotFound, other.do(http.MethodGet, "/api/payments/"+ref, "").Code)
	require.Equal(t, http.StatusNotFound, other.do(http.MethodDelete, "/api/payments/"+ref+"/monitor", "").Code)
	require.Equal(t, []string{ref}, owner.monitor.Active())

	owner.monitor.Tick(context.Background())

	var mine, theirs notificationList
	require.NoError(t, json.Unmarshal(owner.do(http.MethodGet, "/api/notifications", "").Body.Bytes(), &mine))
	require.NoError(t, json.Unmarshal(other.do(http.MethodGet, "/api/notifications", "").Body.Bytes(), &theirs))
	require.Len(t, mine.Notifications, 1)
	require.Empty(t, theirs.Notifications)
	require.Zero(t, theirs.Unread)

	id := mine.Notifications[0].ID
	require.Equal(t, http.StatusNotFound, other.do(http.MethodPost, "/api/notifications/"+id+"/read", "").Code)
	require.Equal(t, http.StatusNotFound, other.do(http.MethodDelete, "/api/notifications/"+id, "").Code)
	require.Equal(t, http.StatusNoContent, other.do(http.MethodDelete, "/api/notifications", "").Code)

	require.NoError(t, json.Unmarshal(owner.do(http.MethodGet, "/api/notifications", "").Body.Bytes(), &mine))
	require.Len(t, mine.Notifications, 1)
	require.Equal(t, 1, mine.Unread)
}

func TestRegisterWallet(t *testing.T) {
	s := newServer(t, monitor.StatusResult{}).as(t, "merchant-3")
	address := solana.NewWallet().PublicKey().String()

	require.Equal(t, http.StatusUnprocessableEntity, s.do(http.MethodPost, "/api/payments", `{"amount":"1","currency":"SOL"}`).Code)

	require.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, "/api/merchant/wallet", `{`).Code)
	require.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, "/api/merchant/wallet", `{}`).Code)
	require.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, "/api/merchant/wallet", `{"address":"0OIl"}`).Code)
	require.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, "/api/merchant/wallet", `{"address":"`+address+`","tier":"enterprise"}`).Code)

	w := s.do(http.MethodPut, "/api/merchant/wallet", `{"address":"`+address+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.JSONEq(t, `{"address":"`+address+`","tier":"standard"}`, w.Body.String())

	w = s.do(http.MethodPost, "/api/payments", `{"amount":"1","currency":"SOL"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created models.CreatePaymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Equal(t, address, created.Payment.MerchantWallet)

	s.token = ""
	require.Equal(t, http.StatusUnauthorized, s.do(http.MethodPut, "/api/merchant/wallet", `{"address":"`+address+`"}`).Code)
}

func TestNotificationStreamIsScopedToPrincipal(t *testing.T) {
	hub := notify.NewHub(zap.NewNop())
	s := newServer(t, monitor.StatusResult{Found: true, Matches: true, Signature: "sig1"}, handler.WithHub(hub))
	s.dispatcher.Subscribe(hub.Broadcast)
	srv := httptest.NewServer(s.router)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?access_token="

	mine, _, err := websocket.DefaultDialer.Dial(base+tokenFor(t, "merchant-1"), nil)
	require.NoError(t, err)
	defer mine.Close()
	theirs, _, err := websocket.DefaultDialer.Dial(base+tokenFor(t, "merchant-2"), nil)
	require.NoError(t, err)
	defer theirs.Close()
	require.Eventually(t, func() bool { return hub.Count() == 2 }, time.Second, 5*time.Millisecond)

	w := s.do(http.MethodPost, "/api/payments", `{"amount":"1","currency":"SOL"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created models.CreatePaymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	s.monitor.Tick(context.Background())

	require.NoError(t, mine.SetReadDeadline(time.Now().Add(time.Second)))
	var msg notify.WSMessage
	require.NoError(t, mine.ReadJSON(&msg))
	require.Equal(t, notify.KindNotification, msg.Kind)
	require.Equal(t, created.Payment.Reference, msg.Notification.Reference)

	require.NoError(t, theirs.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = theirs.ReadMessage()
	require.Error(t, err)
}
