package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/digital-fulfillment/internal/repository"
)

// StartTokenSweeper периодически удаляет истёкшие токены и устаревшие заготовки.
// Блокируется до отмены контекста.
func (s *Service) StartTokenSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepCredentials(ctx)
		}
	}
}

func (s *Service) sweepCredentials(ctx context.Context) {
	now := s.nowFn()

	var deleted int64
	err := repository.WithRetry(ctx, func() error {
		n, err := s.repo.DeleteExpiredCredentials(ctx, now, now.Add(-s.opts.PlaceholderMaxAge))
		deleted = n
		return err
	})
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("sweep credentials error", zap.Error(err))
		}
		return
	}

	if deleted > 0 {
		s.logger.Info("expired credentials deleted", zap.Int64("count", deleted))
	}
}
