package handler

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/digital-fulfillment/internal/middleware"
	"github.com/mmeshcher/digital-fulfillment/internal/model"
	"github.com/mmeshcher/digital-fulfillment/internal/provider"
	"github.com/mmeshcher/digital-fulfillment/internal/service"
)

type stubService struct {
	checkoutResp *provider.CheckoutSession
	checkoutErr  error
	checkoutArgs struct {
		productID int64
		referral  string
	}

	webhookResp *service.WebhookResult
	webhookErr  error
	webhookBody []byte
	webhookName string

	lookupResp *model.DownloadCredential
	lookupErr  error

	downloadResp *service.Delivery
	downloadErr  error
}

func (s *stubService) CreateCheckout(ctx context.Context, productID int64, referralCode string) (*provider.CheckoutSession, error) {
	s.checkoutArgs.productID = productID
	s.checkoutArgs.referral = referralCode
	return s.checkoutResp, s.checkoutErr
}

func (s *stubService) ProcessPayment(ctx context.Context, providerName string, body []byte) (*service.WebhookResult, error) {
	s.webhookName = providerName
	s.webhookBody = body
	return s.webhookResp, s.webhookErr
}

func (s *stubService) LookupCredential(ctx context.Context, checkoutID, orderID string) (*model.DownloadCredential, error) {
	return s.lookupResp, s.lookupErr
}

func (s *stubService) Download(ctx context.Context, token string) (*service.Delivery, error) {
	return s.downloadResp, s.downloadErr
}

func newTestHandler(t *testing.T, svc Service, secrets map[string]string) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	return NewHandler(svc, logger, middleware.NewSignatureVerifier(secrets))
}

func serve(h *Handler, req *http.Request) *http.Response {
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec.Result()
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	defer res.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func TestCreateCheckout(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{name: "success", body: `{"product_id":1,"referral_code":"AFF1"}`, wantStatus: http.StatusOK},
		{name: "missing product", body: `{"referral_code":"AFF1"}`, wantStatus: http.StatusBadRequest},
		{name: "broken json", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "unknown product", body: `{"product_id":9}`, err: model.ErrNotFound, wantStatus: http.StatusNotFound},
		{name: "provider failure", body: `{"product_id":1}`, err: fmt.Errorf("%w: 500", model.ErrUpstream), wantStatus: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{
				checkoutResp: &provider.CheckoutSession{CheckoutID: "cks_1", CheckoutURL: "https://pay.example/cks_1"},
				checkoutErr:  tt.err,
			}
			h := newTestHandler(t, svc, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(tt.body))
			res := serve(h, req)

			if res.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			out := decodeBody(t, res)
			if out["checkout_id"] != "cks_1" || out["checkout_url"] != "https://pay.example/cks_1" {
				t.Fatalf("unexpected body %v", out)
			}
			if svc.checkoutArgs.productID != 1 || svc.checkoutArgs.referral != "AFF1" {
				t.Fatalf("unexpected service args %+v", svc.checkoutArgs)
			}
		})
	}
}

func TestWebhook_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		provider   string
		resp       *service.WebhookResult
		err        error
		wantStatus int
	}{
		{name: "recorded", provider: "dodo", resp: &service.WebhookResult{Redirect: "https://shop.example/thanks?purchase_id=cks_1"}, wantStatus: http.StatusOK},
		{name: "ignored", provider: "paddle", resp: &service.WebhookResult{Ignored: true}, wantStatus: http.StatusOK},
		{name: "missing fields", provider: "dodo", err: &model.MissingFieldError{Fields: []string{"email"}}, wantStatus: http.StatusBadRequest},
		{name: "bad payload", provider: "dodo", err: fmt.Errorf("%w: decode", model.ErrValidation), wantStatus: http.StatusBadRequest},
		{name: "unknown product", provider: "dodo", err: model.ErrNotFound, wantStatus: http.StatusNotFound},
		{name: "persistence", provider: "dodo", err: fmt.Errorf("%w: conn refused", model.ErrPersistence), wantStatus: http.StatusInternalServerError},
		{name: "unknown provider", provider: "stripe", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{webhookResp: tt.resp, webhookErr: tt.err}
			h := newTestHandler(t, svc, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/webhooks/"+tt.provider, strings.NewReader(`{"type":"payment.succeeded"}`))
			res := serve(h, req)

			if res.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestWebhook_RecordedBody(t *testing.T) {
	svc := &stubService{webhookResp: &service.WebhookResult{Redirect: "https://shop.example/thanks?purchase_id=cks_1"}}
	h := newTestHandler(t, svc, nil)

	payload := `{"type":"payment.succeeded","data":{}}`
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/dodo", strings.NewReader(payload))
	res := serve(h, req)

	out := decodeBody(t, res)
	if out["message"] != "OK" || out["redirect"] != "https://shop.example/thanks?purchase_id=cks_1" {
		t.Fatalf("unexpected body %v", out)
	}
	if svc.webhookName != "dodo" || string(svc.webhookBody) != payload {
		t.Fatalf("service got provider %q body %q", svc.webhookName, svc.webhookBody)
	}
}

func TestWebhook_MissingFieldsBody(t *testing.T) {
	svc := &stubService{webhookErr: &model.MissingFieldError{Fields: []string{"email", "order_id"}}}
	h := newTestHandler(t, svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/dodo", strings.NewReader(`{}`))
	out := decodeBody(t, serve(h, req))

	missing, ok := out["missing"].([]any)
	if !ok || len(missing) != 2 || missing[0] != "email" {
		t.Fatalf("unexpected body %v", out)
	}
}

func TestWebhook_Signature(t *testing.T) {
	payload := []byte(`{"type":"payment.succeeded"}`)
	sig := hex.EncodeToString(middleware.Sign([]byte("whsec"), payload))

	svc := &stubService{webhookResp: &service.WebhookResult{}}
	h := newTestHandler(t, svc, map[string]string{"dodo": "whsec"})

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/dodo", bytes.NewReader(payload))
	req.Header.Set("X-Dodo-Signature", "deadbeef")
	if res := serve(h, req); res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
	if svc.webhookBody != nil {
		t.Fatalf("service must not be called on bad signature")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/webhooks/dodo", bytes.NewReader(payload))
	req.Header.Set("X-Dodo-Signature", sig)
	if res := serve(h, req); res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if string(svc.webhookBody) != string(payload) {
		t.Fatalf("service got body %q", svc.webhookBody)
	}
}

func TestLookupToken(t *testing.T) {
	expires := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		query      string
		resp       *model.DownloadCredential
		err        error
		wantStatus int
		wantBody   map[string]any
	}{
		{
			name:       "found",
			query:      "?checkout_id=cks_1",
			resp:       &model.DownloadCredential{Token: "tok", FilePath: "packs/prompts.pdf", ExpiresAt: &expires},
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"token": "tok", "file": "packs/prompts.pdf", "expires_at": "2026-03-02T12:00:00Z"},
		},
		{
			name:       "no active token",
			query:      "?transaction_id=pay_1",
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"token": nil},
		},
		{
			name:       "not ready",
			query:      "?checkout_id=cks_1",
			err:        model.ErrNotReady,
			wantStatus: http.StatusNotFound,
			wantBody:   map[string]any{"error": "not ready yet"},
		},
		{
			name:       "internal error hidden",
			query:      "?checkout_id=cks_1",
			err:        fmt.Errorf("%w: timeout", model.ErrPersistence),
			wantStatus: http.StatusNotFound,
			wantBody:   map[string]any{"error": "not ready yet"},
		},
		{
			name:       "missing id",
			err:        model.ErrValidation,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{lookupResp: tt.resp, lookupErr: tt.err}, nil)

			req := httptest.NewRequest(http.MethodGet, "/api/tokens"+tt.query, nil)
			res := serve(h, req)

			if res.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.wantStatus)
			}
			if tt.wantBody == nil {
				return
			}
			out := decodeBody(t, res)
			for k, v := range tt.wantBody {
				got, ok := out[k]
				if !ok || got != v {
					t.Fatalf("%s = %v, want %v (body %v)", k, got, v, out)
				}
			}
		})
	}
}

func TestDownload(t *testing.T) {
	svc := &stubService{downloadResp: &service.Delivery{
		Name:        "prompts.pdf",
		ContentType: "application/pdf",
		Content:     []byte("%PDF"),
	}}
	h := newTestHandler(t, svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/download?token=abc", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	res := serve(h, req)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	disposition, params, err := mime.ParseMediaType(res.Header.Get("Content-Disposition"))
	if err != nil || disposition != "attachment" || params["filename"] != "prompts.pdf" {
		t.Fatalf("content-disposition = %q", res.Header.Get("Content-Disposition"))
	}
	if cc := res.Header.Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("cache-control = %q", cc)
	}
	if ce := res.Header.Get("Content-Encoding"); ce != "" {
		t.Fatalf("download must not be compressed, got %q", ce)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "%PDF" {
		t.Fatalf("body = %q", body)
	}
}

func TestDownload_Errors(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		err        error
		wantStatus int
	}{
		{name: "missing token", query: "", wantStatus: http.StatusBadRequest},
		{name: "unknown token", query: "?token=abc", err: model.ErrNotFound, wantStatus: http.StatusForbidden},
		{name: "used token", query: "?token=abc", err: model.ErrAlreadyConsumed, wantStatus: http.StatusForbidden},
		{name: "expired token", query: "?token=abc", err: model.ErrExpired, wantStatus: http.StatusGone},
		{name: "file missing", query: "?token=abc", err: fmt.Errorf("%w: x.pdf", model.ErrFileMissing), wantStatus: http.StatusNotFound},
		{name: "storage failure", query: "?token=abc", err: fmt.Errorf("%w: conn", model.ErrPersistence), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{downloadErr: tt.err}, nil)

			req := httptest.NewRequest(http.MethodGet, "/api/download"+tt.query, nil)
			res := serve(h, req)

			if res.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.wantStatus)
			}
		})
	}
}
