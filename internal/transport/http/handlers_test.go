package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/estore/internal/cache"
	"github.com/vladislavdragonenkov/estore/internal/metrics"
	"github.com/vladislavdragonenkov/estore/internal/service/auth"
	"github.com/vladislavdragonenkov/estore/internal/service/order"
	"github.com/vladislavdragonenkov/estore/internal/storage/memory"
	transport "github.com/vladislavdragonenkov/estore/internal/transport/http"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := log.New()
	logger.SetLevel(log.ErrorLevel)
	entry := logger.WithField("component", "test")

	orderSvc := order.NewService(memory.NewOrderRepository(), cache.NewMemory(), nil, metrics.NewOrderMetrics(), entry)
	authSvc := auth.NewService(memory.NewUserRepository(), []byte("test-secret"), time.Hour, entry)

	handler := transport.NewHandler(orderSvc, authSvc, entry)
	server := httptest.NewServer(transport.NewRouter(handler, authSvc, entry))
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url, token string, payload any) *http.Response {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req, err := http.NewRequest(method, url, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func registerAndLogin(t *testing.T, server *httptest.Server, login string) string {
	t.Helper()

	resp := doJSON(t, http.MethodPost, server.URL+"/api/auth/register", "", map[string]string{
		"login":    login,
		"password": "password123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, server.URL+"/api/auth/login", "", map[string]string{
		"login":    login,
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var loginResp struct {
		Token string `json:"token"`
	}
	decodeBody(t, resp, &loginResp)
	require.NotEmpty(t, loginResp.Token)
	return loginResp.Token
}

func orderPayload() map[string]any {
	return map[string]any{
		"currency": "USD",
		"items": []map[string]any{
			{
				"product_id":       "product-1",
				"product_name":     "Widget",
				"quantity":         2,
				"unit_price_minor": 9999,
			},
		},
	}
}

func createOrder(t *testing.T, server *httptest.Server, token string) string {
	t.Helper()

	resp := doJSON(t, http.MethodPost, server.URL+"/api/orders/", token, orderPayload())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &created)
	require.NotEmpty(t, created.ID)
	return created.ID
}

func TestAuthRequired(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/orders/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegisterConflict(t *testing.T) {
	server := newTestServer(t)
	registerAndLogin(t, server, "alice")

	resp := doJSON(t, http.MethodPost, server.URL+"/api/auth/register", "", map[string]string{
		"login":    "alice",
		"password": "password456",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	server := newTestServer(t)
	registerAndLogin(t, server, "alice")

	resp := doJSON(t, http.MethodPost, server.URL+"/api/auth/login", "", map[string]string{
		"login":    "alice",
		"password": "wrong",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateAndGetOrder(t *testing.T) {
	server := newTestServer(t)
	token := registerAndLogin(t, server, "alice")

	resp := doJSON(t, http.MethodPost, server.URL+"/api/orders/", token, orderPayload())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		TotalAmountMinor int64  `json:"total_amount_minor"`
	}
	decodeBody(t, resp, &created)
	assert.Equal(t, "PENDING", created.Status)
	// 2 x 99.99 = 199.98
	assert.EqualValues(t, 19998, created.TotalAmountMinor)

	resp = doJSON(t, http.MethodGet, server.URL+"/api/orders/"+created.ID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		ID    string `json:"id"`
		Items []struct {
			SubtotalMinor int64 `json:"subtotal_minor"`
		} `json:"items"`
	}
	decodeBody(t, resp, &got)
	assert.Equal(t, created.ID, got.ID)
	require.Len(t, got.Items, 1)
	assert.EqualValues(t, 19998, got.Items[0].SubtotalMinor)
}

func TestCreateOrderValidation(t *testing.T) {
	server := newTestServer(t)
	token := registerAndLogin(t, server, "alice")

	payload := orderPayload()
	payload["items"] = []map[string]any{}
	resp := doJSON(t, http.MethodPost, server.URL+"/api/orders/", token, payload)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestGetOrderNotFound(t *testing.T) {
	server := newTestServer(t)
	token := registerAndLogin(t, server, "alice")

	resp := doJSON(t, http.MethodGet, server.URL+"/api/orders/missing", token, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetOrderOfAnotherCustomer(t *testing.T) {
	server := newTestServer(t)
	aliceToken := registerAndLogin(t, server, "alice")
	bobToken := registerAndLogin(t, server, "bob")

	orderID := createOrder(t, server, aliceToken)

	// Чужой заказ выглядит как несуществующий.
	resp := doJSON(t, http.MethodGet, server.URL+"/api/orders/"+orderID, bobToken, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateStatusFlow(t *testing.T) {
	server := newTestServer(t)
	token := registerAndLogin(t, server, "alice")
	orderID := createOrder(t, server, token)

	statusURL := fmt.Sprintf("%s/api/orders/%s/status", server.URL, orderID)

	resp := doJSON(t, http.MethodPatch, statusURL, token, map[string]string{"status": "PROCESSING"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated struct {
		Status      string     `json:"status"`
		ProcessedAt *time.Time `json:"processed_at"`
	}
	decodeBody(t, resp, &updated)
	assert.Equal(t, "PROCESSING", updated.Status)
	assert.NotNil(t, updated.ProcessedAt)

	resp = doJSON(t, http.MethodPatch, statusURL, token, map[string]string{
		"status":          "SHIPPED",
		"tracking_number": "TRACK-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var shipped struct {
		Status         string `json:"status"`
		TrackingNumber string `json:"tracking_number"`
	}
	decodeBody(t, resp, &shipped)
	assert.Equal(t, "SHIPPED", shipped.Status)
	assert.Equal(t, "TRACK-1", shipped.TrackingNumber)
}

func TestUpdateStatusInvalidTransition(t *testing.T) {
	server := newTestServer(t)
	token := registerAndLogin(t, server, "alice")
	orderID := createOrder(t, server, token)

	resp := doJSON(t, http.MethodPatch, fmt.Sprintf("%s/api/orders/%s/status", server.URL, orderID), token,
		map[string]string{"status": "DELIVERED"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestUpdateStatusUnknownStatus(t *testing.T) {
	server := newTestServer(t)
	token := registerAndLogin(t, server, "alice")
	orderID := createOrder(t, server, token)

	resp := doJSON(t, http.MethodPatch, fmt.Sprintf("%s/api/orders/%s/status", server.URL, orderID), token,
		map[string]string{"status": "TELEPORTED"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelOrder(t *testing.T) {
	server := newTestServer(t)
	token := registerAndLogin(t, server, "alice")
	orderID := createOrder(t, server, token)

	cancelURL := fmt.Sprintf("%s/api/orders/%s/cancel", server.URL, orderID)

	resp := doJSON(t, http.MethodPost, cancelURL, token, map[string]string{"reason": "changed my mind"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cancelled struct {
		Status          string `json:"status"`
		CancelledReason string `json:"cancelled_reason"`
	}
	decodeBody(t, resp, &cancelled)
	assert.Equal(t, "CANCELLED", cancelled.Status)
	assert.Equal(t, "changed my mind", cancelled.CancelledReason)

	// Повторная отмена — недопустимое состояние.
	resp = doJSON(t, http.MethodPost, cancelURL, token, map[string]string{"reason": "again"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestListAndSearchOrders(t *testing.T) {
	server := newTestServer(t)
	token := registerAndLogin(t, server, "alice")
	createOrder(t, server, token)
	createOrder(t, server, token)

	resp := doJSON(t, http.MethodGet, server.URL+"/api/orders/?page=0&size=10", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page struct {
		TotalCount int64 `json:"total_count"`
		Orders     []struct {
			ID string `json:"id"`
		} `json:"orders"`
	}
	decodeBody(t, resp, &page)
	assert.EqualValues(t, 2, page.TotalCount)
	assert.Len(t, page.Orders, 2)

	resp = doJSON(t, http.MethodGet, server.URL+"/api/orders/search?status=PENDING&min_amount_minor=10000", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &page)
	assert.EqualValues(t, 2, page.TotalCount)

	resp = doJSON(t, http.MethodGet, server.URL+"/api/orders/search?status=SHIPPED", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &page)
	assert.Zero(t, page.TotalCount)
}

func TestStatistics(t *testing.T) {
	server := newTestServer(t)
	token := registerAndLogin(t, server, "alice")
	createOrder(t, server, token)
	createOrder(t, server, token)

	resp := doJSON(t, http.MethodGet, server.URL+"/api/orders/statistics", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats struct {
		TotalOrders      int64            `json:"total_orders"`
		CountByStatus    map[string]int64 `json:"count_by_status"`
		TotalAmountMinor int64            `json:"total_amount_minor"`
	}
	decodeBody(t, resp, &stats)
	assert.EqualValues(t, 2, stats.TotalOrders)
	assert.EqualValues(t, 2, stats.CountByStatus["PENDING"])
	assert.EqualValues(t, 2*19998, stats.TotalAmountMinor)
}
