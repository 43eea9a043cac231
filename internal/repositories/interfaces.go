package repositories

import (
	"context"
	"errors"

	domain "github.com/folioshelf/api/internal/domain"
)

// ErrLimitReached is returned by create operations when the owner already holds the permitted number of records.
var ErrLimitReached = errors.New("repositories: limit reached")

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Merchants() MerchantRepository
	Publications() PublicationRepository
	Affiliates() AffiliateRepository
	Reviews() ReviewRepository
	Notifications() NotificationRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CreateOptions bounds a create operation by the owner's current record count.
// A Limit of zero or less disables the check.
type CreateOptions struct {
	Limit int
}

// MerchantRepository reads merchant accounts.
type MerchantRepository interface {
	FindByID(ctx context.Context, merchantID string) (domain.Merchant, error)
}

// PublicationRepository persists catalog entries and serves catalog buckets.
type PublicationRepository interface {
	// Create stores the publication. A (vendor, title) collision is reported as a conflict.
	Create(ctx context.Context, publication domain.Publication, opts CreateOptions) error
	FindByID(ctx context.Context, publicationID string) (domain.Publication, error)
	ExistsByVendorTitle(ctx context.Context, vendorID string, title string) (bool, error)
	CountByVendor(ctx context.Context, vendorID string) (int, error)
	ListCatalog(ctx context.Context, query CatalogBucketQuery) (CatalogBucketPage, error)
}

// CatalogFilter narrows the catalog before ranking.
type CatalogFilter struct {
	AffiliateOnly    bool
	TitleContains    string
	CategoryContains string
}

// LanguageMatch selects how the bucket relates to the requested language.
type LanguageMatch int

const (
	// LanguageAny ignores the language.
	LanguageAny LanguageMatch = iota
	// LanguageEquals keeps publications written in the language.
	LanguageEquals
	// LanguageExcludes keeps publications written in any other language.
	LanguageExcludes
)

// CatalogBucketQuery requests one language bucket ordered by creation time, newest first.
// A Limit of zero returns only the total.
type CatalogBucketQuery struct {
	Filter   CatalogFilter
	Language string
	Match    LanguageMatch
	Offset   int
	Limit    int
}

// CatalogBucketPage holds a window of a bucket plus the bucket's full size.
type CatalogBucketPage struct {
	Items []domain.Publication
	Total int
}

// AffiliateRepository persists promotion links.
type AffiliateRepository interface {
	// Create stores the affiliate. A (merchant, publication) collision is reported as a conflict.
	Create(ctx context.Context, affiliate domain.Affiliate, opts CreateOptions) error
	Exists(ctx context.Context, merchantID string, publicationID string) (bool, error)
	CountByMerchant(ctx context.Context, merchantID string) (int, error)
}

// ReviewRepository exposes read-side review data.
type ReviewRepository interface {
	ListByPublication(ctx context.Context, publicationID string) ([]domain.Review, error)
	// AverageRatings returns the mean rating keyed by publication id. Ids without reviews are omitted.
	AverageRatings(ctx context.Context, publicationIDs []string) (map[string]float64, error)
}

// NotificationRepository stores in-app notification records.
type NotificationRepository interface {
	Insert(ctx context.Context, notification domain.Notification) error
}

// HealthRepository reports dependency health for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
