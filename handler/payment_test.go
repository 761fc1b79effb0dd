package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payrelay/payrelay/provider"
	"github.com/payrelay/payrelay/reconcile"
)

func newPaymentRouter(svc PaymentServiceInterface) http.Handler {
	h := NewPaymentHandler(svc, validator.New())
	r := chi.NewRouter()
	r.Post("/v1/payments", h.CreatePayment)
	r.Get("/v1/payments/{paymentID}", h.GetPayment)
	return r
}

func TestCreatePayment_Success(t *testing.T) {
	svc := &stubPaymentService{
		createFunc: func(ctx context.Context, req reconcile.CreatePaymentRequest) (*reconcile.Payment, error) {
			assert.Equal(t, "m1", req.MerchantID)
			assert.Equal(t, "clopay", req.Gateway)
			return &reconcile.Payment{
				ID:             "pay-1",
				MerchantID:     req.MerchantID,
				Gateway:        req.Gateway,
				GatewayOrderNo: "111111-222222",
				Amount:         req.Amount,
				Currency:       req.Currency,
				Status:         provider.StatusPending,
				PayURL:         "https://pay.example/chk_1",
				CreatedAt:      time.Now().UTC(),
			}, nil
		},
	}

	body := `{"merchantId":"m1","gateway":"clopay","amount":25.5,"currency":"EUR"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/payments", strings.NewReader(body))
	rec := httptest.NewRecorder()

	newPaymentRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Success bool              `json:"success"`
		Data    reconcile.Payment `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "pay-1", resp.Data.ID)
	assert.Equal(t, "https://pay.example/chk_1", resp.Data.PayURL)
}

func TestCreatePayment_ValidationErrors(t *testing.T) {
	svc := &stubPaymentService{}
	router := newPaymentRouter(svc)

	bodies := []string{
		`{"gateway":"clopay","amount":25.5,"currency":"EUR"}`,
		`{"merchantId":"m1","amount":25.5,"currency":"EUR"}`,
		`{"merchantId":"m1","gateway":"clopay","currency":"EUR"}`,
		`{"merchantId":"m1","gateway":"clopay","amount":-1,"currency":"EUR"}`,
		`{"merchantId":"m1","gateway":"clopay","amount":1,"currency":"EURO"}`,
		`{"merchantId":"m1","gateway":"clopay","amount":1,"currency":"EUR","customerEmail":"not-an-email"}`,
	}

	for _, body := range bodies {
		req := httptest.NewRequest(http.MethodPost, "/v1/payments", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestCreatePayment_CompletedLinkIsConflict(t *testing.T) {
	svc := &stubPaymentService{
		createFunc: func(ctx context.Context, req reconcile.CreatePaymentRequest) (*reconcile.Payment, error) {
			return nil, reconcile.ErrLinkCompleted
		},
	}

	body := `{"merchantId":"m1","gateway":"clopay","linkId":"link-1","amount":25.5,"currency":"EUR"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/payments", strings.NewReader(body))
	rec := httptest.NewRecorder()

	newPaymentRouter(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetPayment(t *testing.T) {
	svc := &stubPaymentService{
		getFunc: func(ctx context.Context, id string) (*reconcile.Payment, error) {
			if id != "pay-1" {
				return nil, reconcile.ErrPaymentNotFound
			}
			return &reconcile.Payment{ID: "pay-1", Status: provider.StatusPaid}, nil
		},
	}
	router := newPaymentRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/payments/pay-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/payments/missing", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
