package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/digital-fulfillment/internal/model"
)

const credentialColumns = `id, token, checkout_id, purchase_id, product_id, file_path, expires_at, used, created_at`

// CreatePlaceholder создаёт заготовку токена для checkout до подтверждения оплаты.
// Возвращает false, если запись для checkout уже существует.
func (r *PostgresRepository) CreatePlaceholder(ctx context.Context, checkoutID string, productID int64) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`INSERT INTO download_tokens (checkout_id, product_id)
		 VALUES ($1, $2)
		 ON CONFLICT (checkout_id) DO NOTHING`,
		checkoutID, productID,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, fmt.Errorf("%w: product %d", model.ErrNotFound, productID)
		}
		return false, persistenceError("insert placeholder", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// FillPlaceholder записывает токен в заготовку для checkout. Уже выпущенные токены не перезаписываются.
func (r *PostgresRepository) FillPlaceholder(ctx context.Context, c *model.DownloadCredential) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE download_tokens
		 SET token = $2, purchase_id = $3, product_id = $4, file_path = $5, expires_at = $6, used = false
		 WHERE checkout_id = $1 AND token IS NULL`,
		c.CheckoutID, c.Token, c.PurchaseID, c.ProductID, c.FilePath, c.ExpiresAt,
	)
	if err != nil {
		return false, persistenceError("fill placeholder", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// InsertCredential вставляет новый токен, если для checkout ещё нет ни заготовки, ни токена.
func (r *PostgresRepository) InsertCredential(ctx context.Context, c *model.DownloadCredential) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`INSERT INTO download_tokens (token, checkout_id, purchase_id, product_id, file_path, expires_at, used)
		 VALUES ($1, $2, $3, $4, $5, $6, false)
		 ON CONFLICT (checkout_id) DO NOTHING`,
		c.Token, c.CheckoutID, c.PurchaseID, c.ProductID, c.FilePath, c.ExpiresAt,
	)
	if err != nil {
		return false, persistenceError("insert credential", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// AttachPurchase привязывает существующую запись токена к покупке, если привязки ещё нет,
// и возвращает запись в текущем состоянии.
func (r *PostgresRepository) AttachPurchase(ctx context.Context, checkoutID string, purchaseID int64) (*model.DownloadCredential, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE download_tokens
		 SET purchase_id = COALESCE(purchase_id, $2)
		 WHERE checkout_id = $1
		 RETURNING `+credentialColumns,
		checkoutID, purchaseID,
	)
	return scanCredential(row, "credential for checkout "+checkoutID)
}

// GetCredentialByToken возвращает запись токена. Результат носит справочный характер.
func (r *PostgresRepository) GetCredentialByToken(ctx context.Context, token string) (*model.DownloadCredential, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM download_tokens WHERE token = $1`,
		token,
	)
	return scanCredential(row, "credential")
}

// FindActiveCredential возвращает неиспользованный и неистёкший токен покупки.
// Приоритет у записи, привязанной к покупке, затем по checkout id.
func (r *PostgresRepository) FindActiveCredential(ctx context.Context, purchaseID int64, checkoutID string, now time.Time) (*model.DownloadCredential, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM download_tokens
		 WHERE (purchase_id = $1 OR checkout_id = $2)
		   AND token IS NOT NULL
		   AND used = false
		   AND expires_at > $3
		 ORDER BY (purchase_id = $1) DESC NULLS LAST, id
		 LIMIT 1`,
		purchaseID, checkoutID, now,
	)
	return scanCredential(row, fmt.Sprintf("active credential for purchase %d", purchaseID))
}

// ConsumeCredential атомарно помечает токен использованным и возвращает путь к файлу.
// Успех определяется только числом изменённых строк: из двух конкурентных вызовов успешен не более чем один.
func (r *PostgresRepository) ConsumeCredential(ctx context.Context, token string, now time.Time) (string, bool, error) {
	var filePath string
	err := r.pool.QueryRow(ctx,
		`UPDATE download_tokens
		 SET used = true
		 WHERE token = $1 AND used = false AND expires_at > $2
		 RETURNING file_path`,
		token, now,
	).Scan(&filePath)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, persistenceError("consume credential", err)
	}
	return filePath, true, nil
}

// DeleteExpiredCredentials удаляет истёкшие токены и заготовки, созданные раньше placeholderBefore.
func (r *PostgresRepository) DeleteExpiredCredentials(ctx context.Context, now, placeholderBefore time.Time) (int64, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`DELETE FROM download_tokens
		 WHERE expires_at < $1
		    OR (token IS NULL AND created_at < $2)`,
		now, placeholderBefore,
	)
	if err != nil {
		return 0, persistenceError("delete expired credentials", err)
	}
	return cmdTag.RowsAffected(), nil
}

func scanCredential(row pgx.Row, what string) (*model.DownloadCredential, error) {
	var (
		c        model.DownloadCredential
		token    *string
		filePath *string
	)

	err := row.Scan(&c.ID, &token, &c.CheckoutID, &c.PurchaseID, &c.ProductID,
		&filePath, &c.ExpiresAt, &c.Used, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", model.ErrNotFound, what)
		}
		return nil, persistenceError("get credential", err)
	}

	if token != nil {
		c.Token = *token
	}
	if filePath != nil {
		c.FilePath = *filePath
	}

	return &c, nil
}
