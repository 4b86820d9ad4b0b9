package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/digital-fulfillment/internal/model"
)

// RecordPurchase сохраняет покупку и возвращает её идентификатор и признак создания новой записи.
// Повторная доставка вебхука с тем же checkout id возвращает существующую запись без изменений:
// единственность обеспечивает ограничение UNIQUE(provider_checkout_id), а не предварительная проверка.
func (r *PostgresRepository) RecordPurchase(ctx context.Context, p *model.Purchase) (int64, bool, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO purchases
		   (email, provider, provider_order_id, provider_checkout_id, product_id, amount, currency, fulfilled)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (provider_checkout_id) DO NOTHING
		 RETURNING id`,
		p.Email, p.Provider, p.ProviderOrderID, p.ProviderCheckoutID,
		p.ProductID, toMinor(p.Amount), p.Currency, p.Fulfilled,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) && !isUniqueViolation(err) {
		return 0, false, persistenceError("insert purchase", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT id FROM purchases WHERE provider_checkout_id = $1`,
		p.ProviderCheckoutID,
	).Scan(&id)
	if err != nil {
		return 0, false, persistenceError("select existing purchase", err)
	}

	return id, false, nil
}

const purchaseColumns = `id, email, provider, provider_order_id, provider_checkout_id,
	product_id, amount, currency, fulfilled, created_at`

// GetPurchaseByCheckoutID возвращает покупку по идентификатору checkout провайдера.
func (r *PostgresRepository) GetPurchaseByCheckoutID(ctx context.Context, checkoutID string) (*model.Purchase, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE provider_checkout_id = $1`,
		checkoutID,
	)
	return scanPurchase(row, "purchase for checkout "+checkoutID)
}

// GetPurchaseByOrderID возвращает самую раннюю покупку по идентификатору платежа провайдера.
func (r *PostgresRepository) GetPurchaseByOrderID(ctx context.Context, orderID string) (*model.Purchase, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+purchaseColumns+` FROM purchases
		 WHERE provider_order_id = $1
		 ORDER BY id
		 LIMIT 1`,
		orderID,
	)
	return scanPurchase(row, "purchase for order "+orderID)
}

func scanPurchase(row pgx.Row, what string) (*model.Purchase, error) {
	var (
		p      model.Purchase
		amount int64
	)

	err := row.Scan(&p.ID, &p.Email, &p.Provider, &p.ProviderOrderID, &p.ProviderCheckoutID,
		&p.ProductID, &amount, &p.Currency, &p.Fulfilled, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", model.ErrNotFound, what)
		}
		return nil, persistenceError("get purchase", err)
	}

	p.Amount = fromMinor(amount)
	return &p, nil
}
