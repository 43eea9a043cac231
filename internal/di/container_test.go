package di

import (
	"context"
	"errors"
	"testing"

	domain "github.com/folioshelf/api/internal/domain"
	"github.com/folioshelf/api/internal/platform/config"
	"github.com/folioshelf/api/internal/platform/storage"
	"github.com/folioshelf/api/internal/repositories"
	"github.com/folioshelf/api/internal/services"
)

type registry struct {
	closed bool
}

func (r *registry) Close(context.Context) error                             { r.closed = true; return nil }
func (r *registry) Merchants() repositories.MerchantRepository           { return emptyMerchants{} }
func (r *registry) Publications() repositories.PublicationRepository     { return emptyPublications{} }
func (r *registry) Affiliates() repositories.AffiliateRepository         { return emptyAffiliates{} }
func (r *registry) Reviews() repositories.ReviewRepository               { return emptyReviews{} }
func (r *registry) Notifications() repositories.NotificationRepository   { return nil }
func (r *registry) Health() repositories.HealthRepository                { return nil }

var errEmpty = errors.New("empty")

type emptyMerchants struct{}

func (emptyMerchants) FindByID(context.Context, string) (domain.Merchant, error) {
	return domain.Merchant{}, errEmpty
}

type emptyPublications struct{}

func (emptyPublications) Create(context.Context, domain.Publication, repositories.CreateOptions) error {
	return errEmpty
}
func (emptyPublications) FindByID(context.Context, string) (domain.Publication, error) {
	return domain.Publication{}, errEmpty
}
func (emptyPublications) ExistsByVendorTitle(context.Context, string, string) (bool, error) {
	return false, nil
}
func (emptyPublications) CountByVendor(context.Context, string) (int, error) { return 0, nil }
func (emptyPublications) ListCatalog(context.Context, repositories.CatalogBucketQuery) (repositories.CatalogBucketPage, error) {
	return repositories.CatalogBucketPage{}, nil
}

type emptyAffiliates struct{}

func (emptyAffiliates) Create(context.Context, domain.Affiliate, repositories.CreateOptions) error {
	return errEmpty
}
func (emptyAffiliates) Exists(context.Context, string, string) (bool, error) { return false, nil }
func (emptyAffiliates) CountByMerchant(context.Context, string) (int, error) { return 0, nil }

type emptyReviews struct{}

func (emptyReviews) ListByPublication(context.Context, string) ([]domain.Review, error) {
	return nil, nil
}
func (emptyReviews) AverageRatings(context.Context, []string) (map[string]float64, error) {
	return map[string]float64{}, nil
}

type stubJudge struct{}

func (stubJudge) Evaluate(context.Context, string, []services.Attachment) (string, error) {
	return `{"status":"Approved"}`, nil
}

func testConfig() config.Config {
	return config.Config{
		Catalog: config.CatalogConfig{Host: "https://folio.test"},
		Quotas:  config.DefaultQuotaConfig(),
	}
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	if _, err := NewContainer(context.Background(), testConfig(), nil, Adapters{}); err == nil {
		t.Fatal("expected error without registry")
	}
}

func TestNewContainerBuildsServices(t *testing.T) {
	reg := &registry{}
	container, err := NewContainer(context.Background(), testConfig(), reg, Adapters{
		Store: storage.NewMemoryStore("https://cdn.test"),
		Judge: stubJudge{},
	})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if container.Services.Publications == nil || container.Services.Promotions == nil || container.Services.Catalog == nil {
		t.Fatalf("expected all services, got %+v", container.Services)
	}

	page, err := container.Services.Catalog.ListPublications(context.Background(), services.CatalogRequest{})
	if err != nil || page.TotalPages != 0 {
		t.Fatalf("unexpected empty catalog result %+v %v", page, err)
	}

	if err := container.Close(context.Background()); err != nil || !reg.closed {
		t.Fatalf("expected registry closed, err=%v", err)
	}
}

func TestNewContainerRequiresJudgeAndStore(t *testing.T) {
	if _, err := NewContainer(context.Background(), testConfig(), &registry{}, Adapters{Store: storage.NewMemoryStore("")}); !errors.Is(err, services.ErrDependencyMissing) {
		t.Fatalf("expected missing judge, got %v", err)
	}
	if _, err := NewContainer(context.Background(), testConfig(), &registry{}, Adapters{Judge: stubJudge{}}); !errors.Is(err, services.ErrDependencyMissing) {
		t.Fatalf("expected missing store, got %v", err)
	}
}

func TestQuotaTableKeysByTier(t *testing.T) {
	table := QuotaTable(config.DefaultQuotaConfig())
	gate := services.NewQuotaGate(table)

	if got := gate.Limit(domain.PlanStarter, services.QuotaListing); got != 5 {
		t.Fatalf("expected starter listing limit 5, got %d", got)
	}
	if err := gate.Check(domain.PlanPremium, services.QuotaPromotion, 10_000); err != nil {
		t.Fatalf("premium should be unlimited, got %v", err)
	}
}
