package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/digital-fulfillment/internal/model"
)

// GetAffiliateByCode возвращает партнёра по реферальному коду.
func (r *PostgresRepository) GetAffiliateByCode(ctx context.Context, code string) (*model.Affiliate, error) {
	var a model.Affiliate
	err := r.pool.QueryRow(ctx,
		`SELECT id, code, name FROM affiliates WHERE code = $1`,
		code,
	).Scan(&a.ID, &a.Code, &a.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: affiliate %q", model.ErrNotFound, code)
		}
		return nil, persistenceError("get affiliate", err)
	}
	return &a, nil
}

// InsertCommission сохраняет комиссию партнёра. Возвращает false, если комиссия
// для пары (партнёр, покупка) уже записана.
func (r *PostgresRepository) InsertCommission(ctx context.Context, c *model.AffiliateCommission) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`INSERT INTO affiliate_commissions
		   (affiliate_id, purchase_id, product_id, amount, currency, status, referral_code, source)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (affiliate_id, purchase_id) DO NOTHING`,
		c.AffiliateID, c.PurchaseID, c.ProductID, toMinor(c.Amount), c.Currency,
		string(c.Status), c.ReferralCode, c.Source,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, fmt.Errorf("%w: commission references: %v", model.ErrNotFound, err)
		}
		return false, persistenceError("insert commission", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}
