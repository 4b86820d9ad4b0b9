package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/digital-fulfillment/internal/model"
)

type stubSource struct {
	calls    int
	products map[string]*model.Product
}

func (s *stubSource) GetProductByExternalID(_ context.Context, externalID string) (*model.Product, error) {
	s.calls++
	p, ok := s.products[externalID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return p, nil
}

func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestProductCache_FallsBackWhenRedisUnavailable(t *testing.T) {
	src := &stubSource{products: map[string]*model.Product{
		"pdt_1": {ID: 1, ExternalID: "pdt_1", FilePath: "guide.pdf", Price: decimal.RequireFromString("10.00")},
	}}
	client := unreachableClient()
	defer client.Close()

	c := NewProductCache(client, src, time.Minute, nil)

	p, err := c.GetProductByExternalID(context.Background(), "pdt_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ID)
	assert.Equal(t, 1, src.calls)
}

func TestProductCache_NotFoundPropagates(t *testing.T) {
	src := &stubSource{products: map[string]*model.Product{}}
	client := unreachableClient()
	defer client.Close()

	c := NewProductCache(client, src, time.Minute, nil)

	_, err := c.GetProductByExternalID(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestConnect_BadURL(t *testing.T) {
	_, err := Connect(context.Background(), "redis://localhost:6379/notanumber")
	assert.Error(t, err)
}
