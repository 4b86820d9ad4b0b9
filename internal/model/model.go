// Package model содержит доменные сущности сервиса выдачи цифровых товаров.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultAffiliateRate применяется, если у продукта не задана ставка комиссии.
var DefaultAffiliateRate = decimal.RequireFromString("0.5")

// Product описывает продаваемый файл. Продукты неизменяемы и только читаются конвейером.
type Product struct {
	ID            int64
	ExternalID    string
	Name          string
	FilePath      string
	Price         decimal.Decimal
	Currency      string
	AffiliateRate decimal.Decimal
}

// CommissionRate возвращает ставку комиссии продукта или ставку по умолчанию.
func (p *Product) CommissionRate() decimal.Decimal {
	if p.AffiliateRate.IsPositive() {
		return p.AffiliateRate
	}
	return DefaultAffiliateRate
}

// Purchase описывает оплаченную покупку. Одна запись на идентификатор checkout провайдера.
type Purchase struct {
	ID                 int64
	Email              string
	Provider           string
	ProviderOrderID    string
	ProviderCheckoutID string
	ProductID          int64
	Amount             decimal.Decimal
	Currency           string
	Fulfilled          bool
	CreatedAt          time.Time
}

// DownloadCredential описывает одноразовый токен на скачивание файла.
// Заготовка (placeholder) не имеет токена и срока действия.
type DownloadCredential struct {
	ID         int64
	Token      string
	CheckoutID string
	PurchaseID *int64
	ProductID  int64
	FilePath   string
	ExpiresAt  *time.Time
	Used       bool
	CreatedAt  time.Time
}

// IsPlaceholder сообщает, что токен ещё не выпущен.
func (c *DownloadCredential) IsPlaceholder() bool {
	return c.Token == "" || c.ExpiresAt == nil
}

// IsExpired сообщает, истёк ли срок действия токена на момент now.
func (c *DownloadCredential) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// Affiliate описывает партнёра с реферальным кодом.
type Affiliate struct {
	ID   int64
	Code string
	Name string
}

// CommissionStatus описывает статус партнёрской комиссии.
type CommissionStatus string

const (
	CommissionStatusPending   CommissionStatus = "pending"
	CommissionStatusPaid      CommissionStatus = "paid"
	CommissionStatusCancelled CommissionStatus = "cancelled"
)

// AffiliateCommission описывает начисленную партнёру комиссию.
type AffiliateCommission struct {
	ID           int64
	AffiliateID  int64
	PurchaseID   int64
	ProductID    int64
	Amount       decimal.Decimal
	Currency     string
	Status       CommissionStatus
	ReferralCode string
	Source       string
	CreatedAt    time.Time
}

// PaymentEvent содержит нормализованные данные уведомления об оплате.
type PaymentEvent struct {
	Provider          string
	EventType         string
	Email             string
	OrderID           string
	CheckoutID        string
	ProductExternalID string
	Amount            *decimal.Decimal
	Currency          string
	ReferralCode      string
}

// FulfillmentEvent публикуется после выдачи токена и используется внешней рассылкой писем.
type FulfillmentEvent struct {
	PurchaseID int64     `json:"purchase_id"`
	CheckoutID string    `json:"checkout_id"`
	OrderID    string    `json:"order_id"`
	Provider   string    `json:"provider"`
	Email      string    `json:"email"`
	ProductID  int64     `json:"product_id"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
	Amount     string    `json:"amount"`
	Currency   string    `json:"currency"`
}
