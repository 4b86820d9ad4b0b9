package service

import (
	"context"
	"errors"
	"net/url"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/digital-fulfillment/internal/model"
	"github.com/mmeshcher/digital-fulfillment/internal/webhook"
)

const defaultCurrency = "USD"

// WebhookResult описывает итог обработки уведомления об оплате.
type WebhookResult struct {
	Ignored    bool
	PurchaseID int64
	Created    bool
	CheckoutID string
	Redirect   string
	Credential *model.DownloadCredential
	Commission *CommissionResult
}

// ProcessPayment обрабатывает уведомление провайдера об оплате.
//
// Ошибки до записи покупки возвращаются вызывающему, чтобы провайдер повторил доставку.
// Ошибки выпуска токена, начисления комиссии и публикации события только логируются:
// запись о покупке важнее и не должна теряться из-за второстепенного шага.
func (s *Service) ProcessPayment(ctx context.Context, providerName string, body []byte) (*WebhookResult, error) {
	ev, err := s.normalizer.Normalize(providerName, body)
	if err != nil {
		if errors.Is(err, webhook.ErrEventIgnored) {
			s.logger.Info("webhook event ignored", zap.String("provider", providerName), zap.Error(err))
			return &WebhookResult{Ignored: true}, nil
		}
		return nil, err
	}

	log := s.logger.With(
		zap.String("provider", ev.Provider),
		zap.String("checkoutID", ev.CheckoutID),
		zap.String("orderID", ev.OrderID),
	)

	product, err := s.products.GetProductByExternalID(ctx, ev.ProductExternalID)
	if err != nil {
		return nil, err
	}

	amount := product.Price
	if ev.Amount != nil {
		amount = *ev.Amount
	}
	currency := ev.Currency
	if currency == "" {
		currency = product.Currency
	}
	if currency == "" {
		currency = defaultCurrency
	}

	purchaseID, created, err := s.repo.RecordPurchase(ctx, &model.Purchase{
		Email:              ev.Email,
		Provider:           ev.Provider,
		ProviderOrderID:    ev.OrderID,
		ProviderCheckoutID: ev.CheckoutID,
		ProductID:          product.ID,
		Amount:             amount,
		Currency:           currency,
		Fulfilled:          true,
	})
	if err != nil {
		return nil, err
	}

	if created {
		log.Info("purchase recorded", zap.Int64("purchaseID", purchaseID), zap.String("amount", amount.StringFixed(2)))
	} else {
		log.Info("purchase already recorded", zap.Int64("purchaseID", purchaseID))
		// Комиссия считается от записанной суммы, а не от суммы повторного события.
		stored, err := s.repo.GetPurchaseByCheckoutID(ctx, ev.CheckoutID)
		if err != nil {
			return nil, err
		}
		amount, currency = stored.Amount, stored.Currency
	}

	res := &WebhookResult{
		PurchaseID: purchaseID,
		Created:    created,
		CheckoutID: ev.CheckoutID,
		Redirect:   s.thankYouURL(ev.CheckoutID),
	}

	cred, issued, err := s.ConfirmCredential(ctx, ev.CheckoutID, purchaseID, product)
	if err != nil {
		log.Error("issue download credential error", zap.Error(err))
	} else {
		res.Credential = cred
	}

	commission, err := s.AttributeCommission(ctx, ev.ReferralCode, purchaseID, product, amount, currency, ev.Provider+"-webhook")
	if err != nil {
		log.Error("affiliate commission error", zap.Error(err), zap.String("referralCode", ev.ReferralCode))
	} else {
		res.Commission = commission
		if commission.Outcome == CommissionNoAffiliate {
			log.Warn("affiliate not found", zap.String("referralCode", ev.ReferralCode))
		}
	}

	if issued {
		s.publishFulfillment(ctx, log, ev, purchaseID, product, cred, amount, currency)
	}

	return res, nil
}

func (s *Service) publishFulfillment(ctx context.Context, log *zap.Logger, ev *model.PaymentEvent, purchaseID int64, product *model.Product, cred *model.DownloadCredential, amount decimal.Decimal, currency string) {
	out := model.FulfillmentEvent{
		PurchaseID: purchaseID,
		CheckoutID: ev.CheckoutID,
		OrderID:    ev.OrderID,
		Provider:   ev.Provider,
		Email:      ev.Email,
		ProductID:  product.ID,
		Token:      cred.Token,
		Amount:     amount.StringFixed(2),
		Currency:   currency,
	}
	if cred.ExpiresAt != nil {
		out.ExpiresAt = *cred.ExpiresAt
	}

	if err := s.publisher.PublishFulfillment(ctx, out); err != nil {
		log.Error("publish fulfillment event error", zap.Error(err))
	}
}

func (s *Service) thankYouURL(checkoutID string) string {
	if s.opts.ThankYouURL == "" {
		return ""
	}

	u, err := url.Parse(s.opts.ThankYouURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("purchase_id", checkoutID)
	u.RawQuery = q.Encode()
	return u.String()
}
