package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/digital-fulfillment/internal/model"
	"github.com/mmeshcher/digital-fulfillment/internal/validation"
)

// IssuePlaceholder создаёт заготовку токена при создании checkout, чтобы вебхук
// записал настоящий токен в уже существующую строку.
func (s *Service) IssuePlaceholder(ctx context.Context, checkoutID string, productID int64) (bool, error) {
	if !validation.IsValidIdentifier(checkoutID) {
		return false, fmt.Errorf("%w: checkout id", model.ErrValidation)
	}
	return s.repo.CreatePlaceholder(ctx, checkoutID, productID)
}

// ConfirmCredential выпускает токен для оплаченного checkout. Возвращает токен и признак выпуска нового.
//
// Сначала заполняется заготовка, затем вставляется новая строка. Если для checkout уже есть
// выпущенный токен (повтор вебхука), он возвращается без изменений: флаг used никогда не сбрасывается.
func (s *Service) ConfirmCredential(ctx context.Context, checkoutID string, purchaseID int64, product *model.Product) (*model.DownloadCredential, bool, error) {
	token, err := s.newToken()
	if err != nil {
		return nil, false, fmt.Errorf("generate token: %w", err)
	}

	expiresAt := s.nowFn().Add(s.opts.TokenTTL)
	c := &model.DownloadCredential{
		Token:      token,
		CheckoutID: checkoutID,
		PurchaseID: &purchaseID,
		ProductID:  product.ID,
		FilePath:   product.FilePath,
		ExpiresAt:  &expiresAt,
	}

	filled, err := s.repo.FillPlaceholder(ctx, c)
	if err != nil {
		return nil, false, err
	}
	if filled {
		return c, true, nil
	}

	inserted, err := s.repo.InsertCredential(ctx, c)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return c, true, nil
	}

	existing, err := s.repo.AttachPurchase(ctx, checkoutID, purchaseID)
	if err != nil {
		return nil, false, err
	}
	if !existing.IsPlaceholder() {
		return existing, false, nil
	}

	// Заготовка появилась между заполнением и вставкой: checkout создан одновременно с вебхуком.
	filled, err = s.repo.FillPlaceholder(ctx, c)
	if err != nil {
		return nil, false, err
	}
	if !filled {
		return nil, false, fmt.Errorf("%w: credential for checkout %s not issued", model.ErrPersistence, checkoutID)
	}
	return c, true, nil
}

// Peek проверяет токен без его использования. Результат носит справочный характер:
// право на выдачу файла определяет только Consume.
func (s *Service) Peek(ctx context.Context, token string) (*model.DownloadCredential, error) {
	if !validation.IsValidToken(token) {
		return nil, fmt.Errorf("%w: malformed token", model.ErrNotFound)
	}

	c, err := s.repo.GetCredentialByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if err := credentialState(c, s.nowFn()); err != nil {
		return nil, err
	}
	return c, nil
}

// Consume атомарно использует токен и возвращает путь к файлу.
// Успешен не более одного вызова на токен; истёкший токен отклоняется с ErrExpired независимо от used.
func (s *Service) Consume(ctx context.Context, token string) (string, error) {
	if !validation.IsValidToken(token) {
		return "", fmt.Errorf("%w: malformed token", model.ErrNotFound)
	}

	now := s.nowFn()
	filePath, ok, err := s.repo.ConsumeCredential(ctx, token, now)
	if err != nil {
		return "", err
	}
	if ok {
		return filePath, nil
	}

	// Строка перечитывается только чтобы назвать причину отказа.
	c, err := s.repo.GetCredentialByToken(ctx, token)
	if err != nil {
		return "", err
	}
	if err := credentialState(c, now); err != nil {
		return "", err
	}
	return "", model.ErrAlreadyConsumed
}

func credentialState(c *model.DownloadCredential, now time.Time) error {
	switch {
	case c.IsPlaceholder():
		return fmt.Errorf("%w: credential not issued", model.ErrNotFound)
	case c.IsExpired(now):
		return model.ErrExpired
	case c.Used:
		return model.ErrAlreadyConsumed
	}
	return nil
}

// LookupCredential ищет действующий токен по идентификатору checkout или платежа провайдера.
// Пока покупка не записана, возвращает ErrNotReady; если покупка есть, но токена нет, возвращает nil без ошибки.
func (s *Service) LookupCredential(ctx context.Context, checkoutID, orderID string) (*model.DownloadCredential, error) {
	var (
		p   *model.Purchase
		err error
	)

	switch {
	case checkoutID != "":
		p, err = s.repo.GetPurchaseByCheckoutID(ctx, checkoutID)
	case orderID != "":
		p, err = s.repo.GetPurchaseByOrderID(ctx, orderID)
	default:
		return nil, fmt.Errorf("%w: checkout or transaction id required", model.ErrValidation)
	}
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.ErrNotReady
		}
		return nil, err
	}

	c, err := s.repo.FindActiveCredential(ctx, p.ID, p.ProviderCheckoutID, s.nowFn())
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.logger.Debug("credential not issued yet", zap.Int64("purchaseID", p.ID))
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}
