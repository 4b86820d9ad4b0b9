// Package service реализует конвейер выдачи цифровых товаров:
// от уведомления об оплате до одноразовой ссылки на скачивание.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/digital-fulfillment/internal/model"
	"github.com/mmeshcher/digital-fulfillment/internal/provider"
	"github.com/mmeshcher/digital-fulfillment/internal/webhook"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetProductByID(ctx context.Context, id int64) (*model.Product, error)
	GetProductByExternalID(ctx context.Context, externalID string) (*model.Product, error)
	RecordPurchase(ctx context.Context, p *model.Purchase) (int64, bool, error)
	GetPurchaseByCheckoutID(ctx context.Context, checkoutID string) (*model.Purchase, error)
	GetPurchaseByOrderID(ctx context.Context, orderID string) (*model.Purchase, error)
	CreatePlaceholder(ctx context.Context, checkoutID string, productID int64) (bool, error)
	FillPlaceholder(ctx context.Context, c *model.DownloadCredential) (bool, error)
	InsertCredential(ctx context.Context, c *model.DownloadCredential) (bool, error)
	AttachPurchase(ctx context.Context, checkoutID string, purchaseID int64) (*model.DownloadCredential, error)
	GetCredentialByToken(ctx context.Context, token string) (*model.DownloadCredential, error)
	FindActiveCredential(ctx context.Context, purchaseID int64, checkoutID string, now time.Time) (*model.DownloadCredential, error)
	ConsumeCredential(ctx context.Context, token string, now time.Time) (string, bool, error)
	DeleteExpiredCredentials(ctx context.Context, now, placeholderBefore time.Time) (int64, error)
	GetAffiliateByCode(ctx context.Context, code string) (*model.Affiliate, error)
	InsertCommission(ctx context.Context, c *model.AffiliateCommission) (bool, error)
}

// ProductResolver сопоставляет идентификатор продукта провайдера с внутренним продуктом.
type ProductResolver interface {
	GetProductByExternalID(ctx context.Context, externalID string) (*model.Product, error)
}

// FileStore выдаёт содержимое продаваемых файлов.
type FileStore interface {
	ReadFile(ctx context.Context, name string) ([]byte, error)
}

// CheckoutProvider создаёт сессии оплаты у платёжного провайдера.
type CheckoutProvider interface {
	CreateCheckout(ctx context.Context, req provider.CheckoutRequest) (*provider.CheckoutSession, error)
}

// EventPublisher публикует события о выданных покупках для внешней рассылки писем.
type EventPublisher interface {
	PublishFulfillment(ctx context.Context, ev model.FulfillmentEvent) error
}

// Options содержит настраиваемые параметры конвейера.
type Options struct {
	TokenTTL          time.Duration
	SweepInterval     time.Duration
	PlaceholderMaxAge time.Duration
	ThankYouURL       string
}

const (
	defaultTokenTTL          = 24 * time.Hour
	defaultSweepInterval     = time.Hour
	defaultPlaceholderMaxAge = 72 * time.Hour
)

// Deps содержит зависимости сервиса. Создаются один раз при старте процесса.
type Deps struct {
	Repo       Repository
	Products   ProductResolver
	Files      FileStore
	Provider   CheckoutProvider
	Publisher  EventPublisher
	Normalizer *webhook.Normalizer
	Logger     *zap.Logger
}

// Service содержит бизнес-логику выдачи покупок.
type Service struct {
	repo       Repository
	products   ProductResolver
	files      FileStore
	provider   CheckoutProvider
	publisher  EventPublisher
	normalizer *webhook.Normalizer
	logger     *zap.Logger
	opts       Options

	nowFn    func() time.Time
	newToken func() (string, error)
}

// NewService создаёт сервис. Необязательные зависимости заменяются значениями по умолчанию:
// продукты читаются из репозитория, события не публикуются.
func NewService(deps Deps, opts Options) *Service {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = defaultTokenTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.PlaceholderMaxAge <= 0 {
		opts.PlaceholderMaxAge = defaultPlaceholderMaxAge
	}

	s := &Service{
		repo:       deps.Repo,
		products:   deps.Products,
		files:      deps.Files,
		provider:   deps.Provider,
		publisher:  deps.Publisher,
		normalizer: deps.Normalizer,
		logger:     deps.Logger,
		opts:       opts,
		nowFn:      func() time.Time { return time.Now().UTC() },
		newToken:   newToken,
	}

	if s.products == nil {
		s.products = deps.Repo
	}
	if s.publisher == nil {
		s.publisher = nopPublisher{}
	}
	if s.normalizer == nil {
		s.normalizer = webhook.NewNormalizer(nil)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// newToken выдаёт случайный UUIDv4 из crypto/rand, не связанный с данными покупки.
func newToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

type nopPublisher struct{}

func (nopPublisher) PublishFulfillment(context.Context, model.FulfillmentEvent) error { return nil }
