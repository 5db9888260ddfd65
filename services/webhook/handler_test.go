package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"donorledger/pkg/btcpay"
	"donorledger/pkg/middleware"
)

func newTestRouter(t *testing.T, svc *Service) *gin.Engine {
	t.Helper()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Error())
	registerRoutes(r, svc)
	return r
}

func postWebhook(r *gin.Engine, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/btcpay", bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleRejectsMissingSignature(t *testing.T) {
	svc := newTestService(t, &processorMock{})
	r := newTestRouter(t, svc)

	w := postWebhook(r, []byte(`{}`), nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	count, err := svc.donations.Count(context.Background(), &Donation{})
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestHandleRejectsInvalidSignature(t *testing.T) {
	svc := newTestService(t, &processorMock{})
	r := newTestRouter(t, svc)

	body := []byte(`{"type":"InvoiceSettled"}`)
	w := postWebhook(r, body, map[string]string{
		SignatureHeader: signBody("wrongsecret", body),
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, false, resp["success"])
}

func TestHandleRejectsMalformedPayload(t *testing.T) {
	svc := newTestService(t, &processorMock{})
	r := newTestRouter(t, svc)

	body := []byte(`{"type":`)
	w := postWebhook(r, body, map[string]string{
		SignatureHeader: signBody("topsecret", body),
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleProcessesSignedEvent(t *testing.T) {
	svc := newTestService(t, &processorMock{
		getMethodsFn: func(ctx context.Context, invoiceID string) ([]btcpay.PaymentMethod, error) {
			return []btcpay.PaymentMethod{
				{PaymentMethod: "XMR", CryptoCode: CryptoXMR, Rate: 100, Amount: 0.1},
			}, nil
		},
	})
	r := newTestRouter(t, svc)

	body, err := json.Marshal(settledEvent("d-1"))
	require.NoError(t, err)

	w := postWebhook(r, body, map[string]string{
		SignatureHeader: signBody("topsecret", body),
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)

	count, err := svc.donations.Count(context.Background(), &Donation{})
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestHandleUpstreamFailureReturnsBadGateway(t *testing.T) {
	svc := newTestService(t, &processorMock{
		getMethodsFn: func(ctx context.Context, invoiceID string) ([]btcpay.PaymentMethod, error) {
			return nil, context.DeadlineExceeded
		},
	})
	r := newTestRouter(t, svc)

	body, err := json.Marshal(settledEvent("d-1"))
	require.NoError(t, err)

	w := postWebhook(r, body, map[string]string{
		SignatureHeader: signBody("topsecret", body),
	})
	require.Equal(t, http.StatusBadGateway, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, false, resp["success"])
}

func TestRouterRejectsWrongMethod(t *testing.T) {
	svc := newTestService(t, &processorMock{})

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Error())
	r.HandleMethodNotAllowed = true
	registerRoutes(r, svc)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/btcpay", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
