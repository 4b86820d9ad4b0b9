// Package provider предоставляет клиент API платёжного провайдера для создания сессий оплаты.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mmeshcher/digital-fulfillment/internal/model"
)

// CheckoutRequest описывает запрос на создание сессии оплаты одного продукта.
type CheckoutRequest struct {
	ProductExternalID string
	ReferralCode      string
}

// CheckoutSession описывает созданную у провайдера сессию оплаты.
type CheckoutSession struct {
	CheckoutID  string `json:"checkout_id"`
	CheckoutURL string `json:"checkout_url"`
}

// DodoClient инкапсулирует HTTP-взаимодействие с API Dodo Payments.
type DodoClient struct {
	http       *resty.Client
	businessID string
	returnURL  string
}

type dodoCartItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type dodoCheckoutRequest struct {
	BusinessID  string            `json:"business_id"`
	ProductCart []dodoCartItem    `json:"product_cart"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ReturnURL   string            `json:"return_url,omitempty"`
}

type dodoCheckoutResponse struct {
	SessionID   string `json:"session_id"`
	CheckoutID  string `json:"checkout_id"`
	ID          string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
}

// NewDodoClient создаёт клиент API провайдера по указанному адресу.
func NewDodoClient(baseURL, apiKey, businessID, returnURL string) *DodoClient {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	client := resty.New().
		SetBaseURL(base).
		SetTimeout(10*time.Second).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json")

	return &DodoClient{
		http:       client,
		businessID: businessID,
		returnURL:  returnURL,
	}
}

// CreateCheckout создаёт сессию оплаты. Ошибки провайдера возвращаются как model.ErrUpstream
// и не повторяются: повтор выполняет покупатель.
func (c *DodoClient) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if c == nil || c.http == nil {
		return nil, fmt.Errorf("%w: dodo client not configured", model.ErrUpstream)
	}

	body := dodoCheckoutRequest{
		BusinessID:  c.businessID,
		ProductCart: []dodoCartItem{{ProductID: req.ProductExternalID, Quantity: 1}},
		ReturnURL:   c.returnURL,
	}
	if req.ReferralCode != "" {
		body.Metadata = map[string]string{"referral_code": req.ReferralCode}
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/checkouts")
	if err != nil {
		return nil, fmt.Errorf("%w: do request: %v", model.ErrUpstream, err)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("%w: unexpected status: %d", model.ErrUpstream, resp.StatusCode())
	}

	var out dodoCheckoutResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", model.ErrUpstream, err)
	}

	id := out.SessionID
	if id == "" {
		id = out.CheckoutID
	}
	if id == "" {
		id = out.ID
	}
	if id == "" || out.CheckoutURL == "" {
		return nil, fmt.Errorf("%w: incomplete checkout response", model.ErrUpstream)
	}

	return &CheckoutSession{CheckoutID: id, CheckoutURL: out.CheckoutURL}, nil
}
