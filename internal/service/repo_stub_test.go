package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mmeshcher/digital-fulfillment/internal/model"
)

// memRepo хранит данные в памяти и повторяет ограничения уникальности схемы.
type memRepo struct {
	mu sync.Mutex

	products    map[int64]*model.Product
	purchases   []*model.Purchase
	credentials []*model.DownloadCredential
	affiliates  map[string]*model.Affiliate
	commissions []*model.AffiliateCommission

	recordErr     error
	fillErr       error
	insertErr     error
	affiliateErr  error
	commissionErr error
	sweepErr      error

	// onFillMiss вызывается один раз после FillPlaceholder, не нашедшего заготовку.
	onFillMiss func(r *memRepo)
	sweeps    int
	nextID    int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		products:   make(map[int64]*model.Product),
		affiliates: make(map[string]*model.Affiliate),
	}
}

func (r *memRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memRepo) Close() error { return nil }

func (r *memRepo) GetProductByID(_ context.Context, id int64) (*model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %d", model.ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (r *memRepo) GetProductByExternalID(_ context.Context, externalID string) (*model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.products {
		if p.ExternalID == externalID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: product %q", model.ErrNotFound, externalID)
}

func (r *memRepo) RecordPurchase(_ context.Context, p *model.Purchase) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recordErr != nil {
		return 0, false, r.recordErr
	}
	for _, existing := range r.purchases {
		if existing.ProviderCheckoutID == p.ProviderCheckoutID {
			return existing.ID, false, nil
		}
	}
	cp := *p
	cp.ID = r.id()
	r.purchases = append(r.purchases, &cp)
	return cp.ID, true, nil
}

func (r *memRepo) GetPurchaseByCheckoutID(_ context.Context, checkoutID string) (*model.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.purchases {
		if p.ProviderCheckoutID == checkoutID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, model.ErrNotFound
}

func (r *memRepo) GetPurchaseByOrderID(_ context.Context, orderID string) (*model.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.purchases {
		if p.ProviderOrderID == orderID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, model.ErrNotFound
}

func (r *memRepo) credentialByCheckout(checkoutID string) *model.DownloadCredential {
	for _, c := range r.credentials {
		if c.CheckoutID == checkoutID {
			return c
		}
	}
	return nil
}

func (r *memRepo) CreatePlaceholder(_ context.Context, checkoutID string, productID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[productID]; !ok {
		return false, model.ErrNotFound
	}
	if r.credentialByCheckout(checkoutID) != nil {
		return false, nil
	}
	r.credentials = append(r.credentials, &model.DownloadCredential{
		ID:         r.id(),
		CheckoutID: checkoutID,
		ProductID:  productID,
		CreatedAt:  time.Now().UTC(),
	})
	return true, nil
}

func (r *memRepo) FillPlaceholder(_ context.Context, c *model.DownloadCredential) (bool, error) {
	filled, err := r.fillPlaceholder(c)

	r.mu.Lock()
	hook := r.onFillMiss
	if !filled && err == nil {
		r.onFillMiss = nil
	} else {
		hook = nil
	}
	r.mu.Unlock()

	if hook != nil {
		hook(r)
	}
	return filled, err
}

func (r *memRepo) fillPlaceholder(c *model.DownloadCredential) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fillErr != nil {
		return false, r.fillErr
	}
	existing := r.credentialByCheckout(c.CheckoutID)
	if existing == nil || existing.Token != "" {
		return false, nil
	}
	existing.Token = c.Token
	existing.PurchaseID = c.PurchaseID
	existing.ProductID = c.ProductID
	existing.FilePath = c.FilePath
	existing.ExpiresAt = c.ExpiresAt
	existing.Used = false
	return true, nil
}

func (r *memRepo) InsertCredential(_ context.Context, c *model.DownloadCredential) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return false, r.insertErr
	}
	if r.credentialByCheckout(c.CheckoutID) != nil {
		return false, nil
	}
	cp := *c
	cp.ID = r.id()
	cp.CreatedAt = time.Now().UTC()
	r.credentials = append(r.credentials, &cp)
	return true, nil
}

func (r *memRepo) AttachPurchase(_ context.Context, checkoutID string, purchaseID int64) (*model.DownloadCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.credentialByCheckout(checkoutID)
	if c == nil {
		return nil, model.ErrNotFound
	}
	if c.PurchaseID == nil {
		id := purchaseID
		c.PurchaseID = &id
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) GetCredentialByToken(_ context.Context, token string) (*model.DownloadCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.credentials {
		if c.Token != "" && c.Token == token {
			cp := *c
			return &cp, nil
		}
	}
	return nil, model.ErrNotFound
}

func (r *memRepo) FindActiveCredential(_ context.Context, purchaseID int64, checkoutID string, now time.Time) (*model.DownloadCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var byCheckout *model.DownloadCredential
	for _, c := range r.credentials {
		if c.IsPlaceholder() || c.Used || c.IsExpired(now) {
			continue
		}
		if c.PurchaseID != nil && *c.PurchaseID == purchaseID {
			cp := *c
			return &cp, nil
		}
		if byCheckout == nil && c.CheckoutID == checkoutID {
			byCheckout = c
		}
	}
	if byCheckout == nil {
		return nil, model.ErrNotFound
	}
	cp := *byCheckout
	return &cp, nil
}

func (r *memRepo) ConsumeCredential(_ context.Context, token string, now time.Time) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.credentials {
		if c.Token == token && !c.Used && c.ExpiresAt != nil && now.Before(*c.ExpiresAt) {
			c.Used = true
			return c.FilePath, true, nil
		}
	}
	return "", false, nil
}

func (r *memRepo) DeleteExpiredCredentials(_ context.Context, now, placeholderBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweeps++
	if r.sweepErr != nil {
		return 0, r.sweepErr
	}
	kept := r.credentials[:0]
	var deleted int64
	for _, c := range r.credentials {
		switch {
		case c.ExpiresAt != nil && c.ExpiresAt.Before(now):
			deleted++
		case c.Token == "" && c.CreatedAt.Before(placeholderBefore):
			deleted++
		default:
			kept = append(kept, c)
		}
	}
	r.credentials = kept
	return deleted, nil
}

func (r *memRepo) GetAffiliateByCode(_ context.Context, code string) (*model.Affiliate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.affiliateErr != nil {
		return nil, r.affiliateErr
	}
	a, ok := r.affiliates[code]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memRepo) InsertCommission(_ context.Context, c *model.AffiliateCommission) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commissionErr != nil {
		return false, r.commissionErr
	}
	for _, existing := range r.commissions {
		if existing.AffiliateID == c.AffiliateID && existing.PurchaseID == c.PurchaseID {
			return false, nil
		}
	}
	cp := *c
	cp.ID = r.id()
	r.commissions = append(r.commissions, &cp)
	return true, nil
}

func (r *memRepo) counts() (purchases, credentials, commissions int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.purchases), len(r.credentials), len(r.commissions)
}

func (r *memRepo) sweepCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweeps
}
