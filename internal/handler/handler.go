// Package handler содержит HTTP-обработчики API сервиса выдачи цифровых товаров.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mmeshcher/digital-fulfillment/internal/middleware"
	"github.com/mmeshcher/digital-fulfillment/internal/model"
	"github.com/mmeshcher/digital-fulfillment/internal/provider"
	"github.com/mmeshcher/digital-fulfillment/internal/service"
	"github.com/mmeshcher/digital-fulfillment/internal/webhook"
)

const maxBodySize = 1 << 20

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateCheckout(ctx context.Context, productID int64, referralCode string) (*provider.CheckoutSession, error)
	ProcessPayment(ctx context.Context, providerName string, body []byte) (*service.WebhookResult, error)
	LookupCredential(ctx context.Context, checkoutID, orderID string) (*model.DownloadCredential, error)
	Download(ctx context.Context, token string) (*service.Delivery, error)
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	service   Service
	logger    *zap.Logger
	verifier  *middleware.SignatureVerifier
	validator *validator.Validate
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, verifier *middleware.SignatureVerifier) *Handler {
	if verifier == nil {
		verifier = middleware.NewSignatureVerifier(nil)
	}
	return &Handler{
		service:   s,
		logger:    logger,
		verifier:  verifier,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type errorResponse struct {
	Error   string   `json:"error"`
	Missing []string `json:"missing,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

type checkoutRequest struct {
	ProductID    int64  `json:"product_id" validate:"required,gt=0"`
	ReferralCode string `json:"referral_code" validate:"omitempty,max=64,printascii"`
}

type checkoutResponse struct {
	CheckoutID  string `json:"checkout_id"`
	CheckoutURL string `json:"checkout_url"`
}

// CreateCheckout создаёт сессию оплаты для продукта.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.ReferralCode = strings.TrimSpace(req.ReferralCode)

	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	session, err := h.service.CreateCheckout(r.Context(), req.ProductID, req.ReferralCode)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrNotFound):
			writeError(w, http.StatusNotFound, "product not found")
		case errors.Is(err, model.ErrUpstream):
			h.logger.Error("create checkout upstream error", zap.Error(err), zap.Int64("productID", req.ProductID))
			writeError(w, http.StatusBadGateway, "payment provider unavailable")
		default:
			h.logger.Error("create checkout error", zap.Error(err), zap.Int64("productID", req.ProductID))
			writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{
		CheckoutID:  session.CheckoutID,
		CheckoutURL: session.CheckoutURL,
	})
}

type webhookResponse struct {
	Message  string `json:"message"`
	Redirect string `json:"redirect,omitempty"`
}

// Webhook принимает уведомление провайдера об оплате.
// Подпись проверяется middleware до вызова обработчика.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	if !webhook.SupportedProvider(providerName) {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}

	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.service.ProcessPayment(r.Context(), providerName, body)
	if err != nil {
		var missing *model.MissingFieldError
		switch {
		case errors.As(err, &missing):
			h.logger.Warn("webhook missing fields", zap.String("provider", providerName), zap.Strings("fields", missing.Fields))
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing required fields", Missing: missing.Fields})
		case errors.Is(err, model.ErrValidation):
			writeError(w, http.StatusBadRequest, "invalid payload")
		case errors.Is(err, model.ErrNotFound):
			h.logger.Warn("webhook product not found", zap.String("provider", providerName), zap.Error(err))
			writeError(w, http.StatusNotFound, "product not found")
		default:
			h.logger.Error("process webhook error", zap.String("provider", providerName), zap.Error(err))
			writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}
		return
	}

	if res.Ignored {
		writeJSON(w, http.StatusOK, webhookResponse{Message: "ignored"})
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{
		Message:  "OK",
		Redirect: res.Redirect,
	})
}

type tokenResponse struct {
	Token     *string `json:"token"`
	File      string  `json:"file,omitempty"`
	ExpiresAt string  `json:"expires_at,omitempty"`
}

// LookupToken возвращает действующий токен скачивания по идентификатору checkout или платежа.
func (h *Handler) LookupToken(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	checkoutID := strings.TrimSpace(q.Get("checkout_id"))
	orderID := strings.TrimSpace(q.Get("transaction_id"))

	c, err := h.service.LookupCredential(r.Context(), checkoutID, orderID)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrValidation):
			writeError(w, http.StatusBadRequest, "checkout_id or transaction_id required")
		case errors.Is(err, model.ErrNotReady):
			writeError(w, http.StatusNotFound, "not ready yet")
		default:
			// Покупатель опрашивает этот адрес и видит только общий ответ.
			h.logger.Error("lookup token error", zap.Error(err), zap.String("checkoutID", checkoutID), zap.String("orderID", orderID))
			writeError(w, http.StatusNotFound, "not ready yet")
		}
		return
	}

	if c == nil {
		writeJSON(w, http.StatusOK, tokenResponse{})
		return
	}

	resp := tokenResponse{Token: &c.Token, File: c.FilePath}
	if c.ExpiresAt != nil {
		resp.ExpiresAt = c.ExpiresAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Download отдаёт файл по одноразовому токену.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeError(w, http.StatusBadRequest, "token required")
		return
	}

	d, err := h.service.Download(r.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrExpired):
			writeError(w, http.StatusGone, "link expired")
		case errors.Is(err, model.ErrAlreadyConsumed):
			writeError(w, http.StatusForbidden, "link already used")
		case errors.Is(err, model.ErrFileMissing):
			h.logger.Error("product file missing", zap.Error(err))
			writeError(w, http.StatusNotFound, "file not found")
		case errors.Is(err, model.ErrNotFound):
			writeError(w, http.StatusForbidden, "invalid link")
		default:
			h.logger.Error("download error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}
		return
	}

	w.Header().Set("Content-Type", d.ContentType)
	w.Header().Set("Content-Disposition", contentDisposition(d.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(d.Content)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(d.Content); err != nil {
		h.logger.Warn("write download error", zap.Error(err))
	}
}

func contentDisposition(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}
