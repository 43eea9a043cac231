package services

import (
	"context"
	"time"

	domain "github.com/folioshelf/api/internal/domain"
)

// PublicationService runs the submission pipeline and serves single publications.
type PublicationService interface {
	Submit(ctx context.Context, cmd SubmitPublicationCommand) (domain.Publication, error)
	GetPublication(ctx context.Context, publicationID string, opts GetPublicationOptions) (PublicationDetail, error)
}

// PromotionService binds merchants to publications with referral links.
type PromotionService interface {
	Promote(ctx context.Context, cmd PromoteCommand) (domain.Affiliate, error)
}

// CatalogService serves ranked, paginated catalog reads.
type CatalogService interface {
	ListPublications(ctx context.Context, req CatalogRequest) (CatalogPage, error)
	SearchPublications(ctx context.Context, req CatalogRequest) (CatalogPage, error)
	FilterPublications(ctx context.Context, req CatalogRequest) (CatalogPage, error)
}

// QuotaGate decides whether a tier permits one more record of a kind.
type QuotaGate interface {
	Check(tier domain.PlanTier, kind QuotaKind, current int) error
	// Limit is the ceiling repositories re-check inside the create transaction. Zero means unlimited.
	Limit(tier domain.PlanTier, kind QuotaKind) int
}

// DuplicateGuard rejects listings and promotions that already exist.
type DuplicateGuard interface {
	CheckListing(ctx context.Context, vendorID, title string) error
	CheckPromotion(ctx context.Context, merchantID, publicationID string) error
}

// ModerationJudge validates assets locally and asks the content judge for a verdict.
type ModerationJudge interface {
	Judge(ctx context.Context, req ModerationRequest) (ModerationVerdict, error)
}

// AssetIngestor uploads the cover and document of a submission.
type AssetIngestor interface {
	Ingest(ctx context.Context, req IngestRequest) (IngestResult, error)
}

// ContentJudge is the external model that evaluates a prompt with binary attachments and
// answers in free text.
type ContentJudge interface {
	Evaluate(ctx context.Context, prompt string, attachments []Attachment) (string, error)
}

// Attachment is one binary input to the content judge.
type Attachment struct {
	Name     string
	MimeType string
	Data     []byte
}

// SubscriptionVerifier reports the live status of a merchant's subscription.
type SubscriptionVerifier interface {
	Verify(ctx context.Context, subscriptionRef string) (domain.SubscriptionStatus, error)
}

// Notifier persists in-app notification records.
type Notifier interface {
	PublicationListed(ctx context.Context, merchant domain.Merchant, publication domain.Publication) error
	PromotionCreated(ctx context.Context, merchant domain.Merchant, affiliate domain.Affiliate) error
}

// EventPublisher emits domain events to downstream consumers.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event DomainEvent) (string, error)
}

const (
	EventPublicationCreated = "publication.created"
	EventAffiliateCreated   = "affiliate.created"
)

// DomainEvent is the payload published after a successful write.
type DomainEvent struct {
	Type          string    `json:"type"`
	MerchantID    string    `json:"merchantId"`
	PublicationID string    `json:"publicationId"`
	AffiliateID   string    `json:"affiliateId,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Metrics records pipeline outcomes. Implementations must tolerate concurrent use.
type Metrics interface {
	RecordModeration(ctx context.Context, outcome string, elapsed time.Duration)
	RecordSubmission(ctx context.Context, outcome string)
	RecordPromotion(ctx context.Context, outcome string)
}

// Upload is a file received with a submission.
type Upload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// SubmitPublicationCommand carries a vendor's listing request.
type SubmitPublicationCommand struct {
	MerchantID       string
	Title            string  `json:"title" validate:"required,max=200"`
	Author           string  `json:"author" validate:"required,max=200"`
	Language         string  `json:"language" validate:"required,max=35"`
	Category         string  `json:"category" validate:"required,max=100"`
	Pages            int     `json:"pages" validate:"min=1"`
	Description      string  `json:"description" validate:"required,max=5000"`
	Price            float64 `json:"price" validate:"gte=0"`
	Discount         float64 `json:"discount" validate:"gte=0,lte=100"`
	EnableDownloads  bool    `json:"enableDownloads"`
	EnableAffiliates bool    `json:"enableAffiliates"`
	Commission       float64 `json:"commission" validate:"gte=0,lte=100"`
	Document         Upload  `json:"file"`
	Cover            Upload  `json:"cover"`
}

// GetPublicationOptions selects the affiliate or buyer view of a publication.
type GetPublicationOptions struct {
	ForAffiliates bool
}

// PublicationDetail is a publication with its reviews.
type PublicationDetail struct {
	Publication   domain.Publication
	Reviews       []domain.Review
	ForAffiliates bool
}

// PromoteCommand asks to promote a publication on behalf of a merchant.
type PromoteCommand struct {
	MerchantID    string
	PublicationID string
}

// CatalogRequest is a catalog page request. Query is the title or category substring.
type CatalogRequest struct {
	Language      string
	Page          int
	Limit         int
	ForAffiliates bool
	Query         string
}

// CatalogEntry is one listing in a catalog page. Commission is set only for affiliate reads.
type CatalogEntry struct {
	ID         string
	Title      string
	Author     string
	Cover      string
	Price      float64
	Discount   float64
	AvgRating  float64
	Commission *float64
}

// CatalogPage is a window of ranked entries.
type CatalogPage struct {
	Items      []CatalogEntry
	TotalPages int
}

// ModerationRequest is the metadata and assets submitted for judgment.
type ModerationRequest struct {
	Title       string
	Author      string
	Language    string
	Pages       int
	Description string
	Document    Upload
	Cover       Upload
}

// VerdictStatus is the judge's decision.
type VerdictStatus string

const (
	VerdictApproved    VerdictStatus = "Approved"
	VerdictNotApproved VerdictStatus = "Not Approved"
)

// ModerationVerdict is a parsed judge decision.
type ModerationVerdict struct {
	Status VerdictStatus
	Reason string
}

// IngestRequest identifies the assets of one submission.
type IngestRequest struct {
	MerchantID  string
	Title       string
	SubmittedAt time.Time
	Document    Upload
	Cover       Upload
}

// IngestResult holds references to uploaded assets. Rollback deletes them best-effort and
// is safe to call more than once.
type IngestResult struct {
	Cover    domain.AssetRef
	Document domain.AssetRef
	Rollback func(ctx context.Context)
}
