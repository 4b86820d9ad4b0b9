package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/digital-fulfillment/internal/model"
)

const productColumns = `id, external_id, name, file_path, price, currency, affiliate_rate_bps`

// GetProductByID возвращает продукт по внутреннему идентификатору.
func (r *PostgresRepository) GetProductByID(ctx context.Context, id int64) (*model.Product, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`,
		id,
	)
	return scanProduct(row, fmt.Sprintf("product %d", id))
}

// GetProductByExternalID возвращает продукт по идентификатору продукта у провайдера.
func (r *PostgresRepository) GetProductByExternalID(ctx context.Context, externalID string) (*model.Product, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE external_id = $1`,
		externalID,
	)
	return scanProduct(row, "product "+externalID)
}

func scanProduct(row pgx.Row, what string) (*model.Product, error) {
	var (
		p       model.Product
		price   int64
		rateBps *int32
	)

	err := row.Scan(&p.ID, &p.ExternalID, &p.Name, &p.FilePath, &price, &p.Currency, &rateBps)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", model.ErrNotFound, what)
		}
		return nil, persistenceError("get product", err)
	}

	p.Price = fromMinor(price)
	if rateBps != nil {
		p.AffiliateRate = decimal.New(int64(*rateBps), -4)
	}

	return &p, nil
}
