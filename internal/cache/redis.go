// Package cache содержит кеш продуктов в Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mmeshcher/digital-fulfillment/internal/model"
)

const productKeyPrefix = "fulfillment:product:"

// Connect создаёт клиента Redis по URL вида redis://... или по адресу host:port.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// ProductSource возвращает продукт по внешнему идентификатору.
type ProductSource interface {
	GetProductByExternalID(ctx context.Context, externalID string) (*model.Product, error)
}

// ProductCache кеширует продукты перед источником. Продукты неизменяемы,
// поэтому запись живёт до истечения ttl. Сбои Redis не ломают чтение:
// запрос уходит в источник.
type ProductCache struct {
	client *redis.Client
	next   ProductSource
	ttl    time.Duration
	logger *zap.Logger
}

// NewProductCache создаёт кеш продуктов.
func NewProductCache(client *redis.Client, next ProductSource, ttl time.Duration, logger *zap.Logger) *ProductCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProductCache{client: client, next: next, ttl: ttl, logger: logger}
}

// GetProductByExternalID возвращает продукт из кеша или из источника.
func (c *ProductCache) GetProductByExternalID(ctx context.Context, externalID string) (*model.Product, error) {
	key := productKeyPrefix + externalID

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p model.Product
		if err := json.Unmarshal(raw, &p); err == nil {
			return &p, nil
		}
		c.logger.Warn("corrupted product cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("product cache read error", zap.Error(err))
	}

	p, err := c.next.GetProductByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(p); err == nil {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("product cache write error", zap.Error(err))
		}
	}
	return p, nil
}
