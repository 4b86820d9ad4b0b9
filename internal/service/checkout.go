package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/digital-fulfillment/internal/model"
	"github.com/mmeshcher/digital-fulfillment/internal/provider"
)

// CreateCheckout создаёт сессию оплаты у провайдера и заготовку токена для неё.
// Сбой создания заготовки не прерывает checkout: вебхук создаст токен сам.
func (s *Service) CreateCheckout(ctx context.Context, productID int64, referralCode string) (*provider.CheckoutSession, error) {
	if s.provider == nil {
		return nil, fmt.Errorf("%w: checkout provider not configured", model.ErrUpstream)
	}

	product, err := s.repo.GetProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	session, err := s.provider.CreateCheckout(ctx, provider.CheckoutRequest{
		ProductExternalID: product.ExternalID,
		ReferralCode:      referralCode,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.IssuePlaceholder(ctx, session.CheckoutID, product.ID); err != nil {
		s.logger.Warn("create placeholder credential error",
			zap.Error(err),
			zap.String("checkoutID", session.CheckoutID),
			zap.Int64("productID", product.ID),
		)
	}

	return session, nil
}
