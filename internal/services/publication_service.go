package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/folioshelf/api/internal/domain"
	"github.com/folioshelf/api/internal/repositories"
)

// PublicationServiceDeps bundles collaborators for the submission pipeline.
type PublicationServiceDeps struct {
	Merchants     repositories.MerchantRepository
	Publications  repositories.PublicationRepository
	Reviews       repositories.ReviewRepository
	Quotas        QuotaGate
	Guard         DuplicateGuard
	Judge         ModerationJudge
	Assets        AssetIngestor
	Subscriptions SubscriptionVerifier
	Notifier      Notifier
	Events        EventPublisher
	Metrics       Metrics
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type publicationService struct {
	merchants    repositories.MerchantRepository
	publications repositories.PublicationRepository
	reviews      repositories.ReviewRepository
	quotas       QuotaGate
	guard        DuplicateGuard
	judge        ModerationJudge
	assets       AssetIngestor
	tiers        tierResolver
	notifier     Notifier
	events       EventPublisher
	metrics      Metrics
	now          func() time.Time
	newID        func() string
	log          func(ctx context.Context, event string, fields map[string]any)
}

// NewPublicationService wires the submission pipeline.
func NewPublicationService(deps PublicationServiceDeps) (PublicationService, error) {
	switch {
	case deps.Merchants == nil, deps.Publications == nil, deps.Reviews == nil:
		return nil, fmt.Errorf("%w: publication repositories", ErrDependencyMissing)
	case deps.Quotas == nil, deps.Guard == nil:
		return nil, fmt.Errorf("%w: quota gate or duplicate guard", ErrDependencyMissing)
	case deps.Judge == nil:
		return nil, fmt.Errorf("%w: moderation judge", ErrDependencyMissing)
	case deps.Assets == nil:
		return nil, fmt.Errorf("%w: asset ingestor", ErrDependencyMissing)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return newPrefixedID("pub") }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &publicationService{
		merchants:    deps.Merchants,
		publications: deps.Publications,
		reviews:      deps.Reviews,
		quotas:       deps.Quotas,
		guard:        deps.Guard,
		judge:        deps.Judge,
		assets:       deps.Assets,
		tiers:        tierResolver{verifier: deps.Subscriptions, log: logger},
		notifier:     deps.Notifier,
		events:       deps.Events,
		metrics:      deps.Metrics,
		now:          func() time.Time { return clock().UTC() },
		newID:        newID,
		log:          logger,
	}, nil
}

func (s *publicationService) Submit(ctx context.Context, cmd SubmitPublicationCommand) (domain.Publication, error) {
	publication, err := s.submit(ctx, cmd)
	if s.metrics != nil {
		s.metrics.RecordSubmission(ctx, submissionOutcome(err))
	}
	return publication, err
}

func (s *publicationService) submit(ctx context.Context, cmd SubmitPublicationCommand) (domain.Publication, error) {
	if strings.TrimSpace(cmd.MerchantID) == "" {
		return domain.Publication{}, ErrUnauthorized
	}
	cmd, err := normalizeSubmission(cmd)
	if err != nil {
		return domain.Publication{}, err
	}

	merchant, err := lookupMerchant(ctx, s.merchants, cmd.MerchantID)
	if err != nil {
		return domain.Publication{}, err
	}
	tier := s.tiers.effectiveTier(ctx, merchant)

	current, err := s.publications.CountByVendor(ctx, merchant.ID)
	if err != nil {
		return domain.Publication{}, fmt.Errorf("count listings: %w", err)
	}
	if err := s.quotas.Check(tier, QuotaListing, current); err != nil {
		return domain.Publication{}, err
	}
	if err := s.guard.CheckListing(ctx, merchant.ID, cmd.Title); err != nil {
		return domain.Publication{}, err
	}

	if _, err := s.judge.Judge(ctx, ModerationRequest{
		Title:       cmd.Title,
		Author:      cmd.Author,
		Language:    cmd.Language,
		Pages:       cmd.Pages,
		Description: cmd.Description,
		Document:    cmd.Document,
		Cover:       cmd.Cover,
	}); err != nil {
		return domain.Publication{}, err
	}

	now := s.now()
	assets, err := s.assets.Ingest(ctx, IngestRequest{
		MerchantID:  merchant.ID,
		Title:       cmd.Title,
		SubmittedAt: now,
		Document:    cmd.Document,
		Cover:       cmd.Cover,
	})
	if err != nil {
		return domain.Publication{}, err
	}

	publication := domain.Publication{
		ID:               s.newID(),
		VendorID:         merchant.ID,
		Title:            cmd.Title,
		Author:           cmd.Author,
		Language:         cmd.Language,
		Category:         cmd.Category,
		Pages:            cmd.Pages,
		Description:      cmd.Description,
		Document:         assets.Document,
		Cover:            assets.Cover,
		Price:            cmd.Price,
		Discount:         cmd.Discount,
		EnableDownloads:  cmd.EnableDownloads,
		EnableAffiliates: cmd.EnableAffiliates,
		Commission:       cmd.Commission,
		Status:           domain.PublicationApproved,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	opts := repositories.CreateOptions{Limit: s.quotas.Limit(tier, QuotaListing)}
	if err := s.publications.Create(ctx, publication, opts); err != nil {
		if assets.Rollback != nil {
			assets.Rollback(ctx)
		}
		switch {
		case errors.Is(err, repositories.ErrLimitReached):
			return domain.Publication{}, &QuotaExceededError{Tier: tier, Kind: QuotaListing, Limit: opts.Limit}
		case isRepoConflict(err):
			return domain.Publication{}, &DuplicateEntityError{Entity: entityPublication}
		}
		return domain.Publication{}, fmt.Errorf("create publication: %w", err)
	}

	s.log(ctx, "publication_created", map[string]any{
		"publicationId": publication.ID,
		"merchantId":    merchant.ID,
		"tier":          string(tier),
	})
	s.afterCreate(ctx, merchant, publication)
	return publication, nil
}

// afterCreate runs best-effort side effects. Failures are logged and never change the result.
func (s *publicationService) afterCreate(ctx context.Context, merchant domain.Merchant, publication domain.Publication) {
	if s.notifier != nil {
		if err := s.notifier.PublicationListed(ctx, merchant, publication); err != nil {
			s.log(ctx, "publication_notification_failed", map[string]any{"publicationId": publication.ID, "error": err})
		}
	}
	if s.events != nil {
		_, err := s.events.PublishEvent(ctx, DomainEvent{
			Type:          EventPublicationCreated,
			MerchantID:    merchant.ID,
			PublicationID: publication.ID,
			OccurredAt:    publication.CreatedAt,
		})
		if err != nil {
			s.log(ctx, "publication_event_failed", map[string]any{"publicationId": publication.ID, "error": err})
		}
	}
}

func (s *publicationService) GetPublication(ctx context.Context, publicationID string, opts GetPublicationOptions) (PublicationDetail, error) {
	publicationID = strings.TrimSpace(publicationID)
	if publicationID == "" {
		return PublicationDetail{}, &ValidationError{Messages: []string{"id is required"}}
	}
	publication, err := s.publications.FindByID(ctx, publicationID)
	if err != nil {
		if isRepoNotFound(err) {
			return PublicationDetail{}, &NotFoundError{Entity: entityPublication, ID: publicationID}
		}
		return PublicationDetail{}, fmt.Errorf("load publication: %w", err)
	}
	reviews, err := s.reviews.ListByPublication(ctx, publicationID)
	if err != nil {
		return PublicationDetail{}, fmt.Errorf("load reviews: %w", err)
	}
	return PublicationDetail{
		Publication:   publication,
		Reviews:       reviews,
		ForAffiliates: opts.ForAffiliates,
	}, nil
}

func submissionOutcome(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrDuplicateEntity):
		return "duplicate"
	case errors.Is(err, ErrAssetTypeInvalid), errors.Is(err, ErrAssetTooLarge):
		return "asset_rejected"
	case errors.Is(err, ErrModerationRejected):
		return "moderation_rejected"
	case errors.Is(err, ErrModerationParseFailure):
		return "moderation_unparsable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "error"
	}
}
