package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/folioshelf/api/internal/domain"
	"github.com/folioshelf/api/internal/platform/config"
	"github.com/folioshelf/api/internal/platform/pagination"
	"github.com/folioshelf/api/internal/platform/storage"
	"github.com/folioshelf/api/internal/repositories"
	"github.com/folioshelf/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Publications services.PublicationService
	Promotions   services.PromotionService
	Catalog      services.CatalogService
}

// Adapters are the outbound integrations built by main from configuration. Store and Judge are
// required; the rest are optional and skipped when nil.
type Adapters struct {
	Store         storage.ObjectStore
	Judge         services.ContentJudge
	Subscriptions services.SubscriptionVerifier
	Events        services.EventPublisher
	Metrics       services.Metrics
	Logger        func(ctx context.Context, event string, fields map[string]any)
	Clock         func() time.Time
}

// Container wires repositories, services, and outbound adapters for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply in-memory registries and
// adapters.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, adapters Adapters) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	svc, err := buildServices(ctx, reg, cfg, adapters)
	if err != nil {
		return nil, err
	}
	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients and caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

// QuotaTable converts the configured plan table to the gate's tier keys.
func QuotaTable(cfg config.QuotaConfig) services.QuotaTable {
	tiers := make(map[domain.PlanTier]services.QuotaLimits, len(cfg.Tiers))
	for name, quota := range cfg.Tiers {
		tiers[domain.PlanTier(name)] = services.QuotaLimits{
			Listings:   quota.Listings,
			Promotions: quota.Promotions,
		}
	}
	return services.QuotaTable{Version: cfg.Version, Tiers: tiers}
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, adapters Adapters) (Services, error) {
	clock := adapters.Clock
	if clock == nil {
		clock = time.Now
	}

	quotas := services.NewQuotaGate(QuotaTable(cfg.Quotas))
	guard, err := services.NewDuplicateGuard(reg.Publications(), reg.Affiliates())
	if err != nil {
		return Services{}, fmt.Errorf("build duplicate guard: %w", err)
	}

	judge, err := services.NewModerationJudge(services.ModerationJudgeDeps{
		Judge:         adapters.Judge,
		Timeout:       cfg.Moderation.Timeout,
		MaxAssetBytes: int(cfg.Moderation.MaxAssetBytes),
		Metrics:       adapters.Metrics,
		Clock:         clock,
		Logger:        adapters.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build moderation judge: %w", err)
	}

	ingestor, err := services.NewAssetIngestor(services.AssetIngestorDeps{
		Store:          adapters.Store,
		CoverFolder:    cfg.Storage.CoverFolder,
		DocumentFolder: cfg.Storage.DocumentFolder,
		Logger:         adapters.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build asset ingestor: %w", err)
	}

	var notifier services.Notifier
	if notifications := reg.Notifications(); notifications != nil {
		notifier, err = services.NewNotifier(services.NotifierDeps{
			Notifications: notifications,
			Clock:         clock,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build notifier: %w", err)
		}
	}

	publications, err := services.NewPublicationService(services.PublicationServiceDeps{
		Merchants:     reg.Merchants(),
		Publications:  reg.Publications(),
		Reviews:       reg.Reviews(),
		Quotas:        quotas,
		Guard:         guard,
		Judge:         judge,
		Assets:        ingestor,
		Subscriptions: adapters.Subscriptions,
		Notifier:      notifier,
		Events:        adapters.Events,
		Metrics:       adapters.Metrics,
		Clock:         clock,
		Logger:        adapters.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build publication service: %w", err)
	}

	promotions, err := services.NewPromotionService(services.PromotionServiceDeps{
		Merchants:     reg.Merchants(),
		Publications:  reg.Publications(),
		Affiliates:    reg.Affiliates(),
		Quotas:        quotas,
		Guard:         guard,
		Subscriptions: adapters.Subscriptions,
		Notifier:      notifier,
		Events:        adapters.Events,
		Metrics:       adapters.Metrics,
		CatalogHost:   cfg.Catalog.Host,
		Clock:         clock,
		Logger:        adapters.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build promotion service: %w", err)
	}

	catalog, err := services.NewCatalogService(services.CatalogServiceDeps{
		Publications: reg.Publications(),
		Reviews:      reg.Reviews(),
		Paging: pagination.Options{
			DefaultLimit: cfg.Catalog.DefaultPageSize,
			MaxLimit:     cfg.Catalog.MaxPageSize,
		},
		Logger: adapters.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}

	return Services{
		Publications: publications,
		Promotions:   promotions,
		Catalog:      catalog,
	}, nil
}
