package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	domain "github.com/folioshelf/api/internal/domain"
	"github.com/folioshelf/api/internal/repositories"
)

// PromotionServiceDeps bundles collaborators for the affiliate linker.
type PromotionServiceDeps struct {
	Merchants     repositories.MerchantRepository
	Publications  repositories.PublicationRepository
	Affiliates    repositories.AffiliateRepository
	Quotas        QuotaGate
	Guard         DuplicateGuard
	Subscriptions SubscriptionVerifier
	Notifier      Notifier
	Events        EventPublisher
	Metrics       Metrics
	CatalogHost   string
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type promotionService struct {
	merchants    repositories.MerchantRepository
	publications repositories.PublicationRepository
	affiliates   repositories.AffiliateRepository
	quotas       QuotaGate
	guard        DuplicateGuard
	tiers        tierResolver
	notifier     Notifier
	events       EventPublisher
	metrics      Metrics
	host         string
	now          func() time.Time
	newID        func() string
	log          func(ctx context.Context, event string, fields map[string]any)
}

// NewPromotionService wires the affiliate linker.
func NewPromotionService(deps PromotionServiceDeps) (PromotionService, error) {
	switch {
	case deps.Merchants == nil, deps.Publications == nil, deps.Affiliates == nil:
		return nil, fmt.Errorf("%w: promotion repositories", ErrDependencyMissing)
	case deps.Quotas == nil, deps.Guard == nil:
		return nil, fmt.Errorf("%w: quota gate or duplicate guard", ErrDependencyMissing)
	}
	host := strings.TrimRight(strings.TrimSpace(deps.CatalogHost), "/")
	if host == "" {
		return nil, fmt.Errorf("%w: catalog host", ErrDependencyMissing)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return newPrefixedID("aff") }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &promotionService{
		merchants:    deps.Merchants,
		publications: deps.Publications,
		affiliates:   deps.Affiliates,
		quotas:       deps.Quotas,
		guard:        deps.Guard,
		tiers:        tierResolver{verifier: deps.Subscriptions, log: logger},
		notifier:     deps.Notifier,
		events:       deps.Events,
		metrics:      deps.Metrics,
		host:         host,
		now:          func() time.Time { return clock().UTC() },
		newID:        newID,
		log:          logger,
	}, nil
}

func (s *promotionService) Promote(ctx context.Context, cmd PromoteCommand) (domain.Affiliate, error) {
	affiliate, err := s.promote(ctx, cmd)
	if s.metrics != nil {
		s.metrics.RecordPromotion(ctx, submissionOutcome(err))
	}
	return affiliate, err
}

func (s *promotionService) promote(ctx context.Context, cmd PromoteCommand) (domain.Affiliate, error) {
	merchantID := strings.TrimSpace(cmd.MerchantID)
	if merchantID == "" {
		return domain.Affiliate{}, ErrUnauthorized
	}
	publicationID := strings.TrimSpace(cmd.PublicationID)
	if publicationID == "" {
		return domain.Affiliate{}, &ValidationError{Messages: []string{"id is required"}}
	}

	merchant, err := lookupMerchant(ctx, s.merchants, merchantID)
	if err != nil {
		return domain.Affiliate{}, err
	}
	tier := s.tiers.effectiveTier(ctx, merchant)

	current, err := s.affiliates.CountByMerchant(ctx, merchant.ID)
	if err != nil {
		return domain.Affiliate{}, fmt.Errorf("count promotions: %w", err)
	}
	if err := s.quotas.Check(tier, QuotaPromotion, current); err != nil {
		return domain.Affiliate{}, err
	}

	publication, err := s.publications.FindByID(ctx, publicationID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Affiliate{}, &NotFoundError{Entity: entityPublication, ID: publicationID}
		}
		return domain.Affiliate{}, fmt.Errorf("load publication: %w", err)
	}
	if err := s.guard.CheckPromotion(ctx, merchant.ID, publication.ID); err != nil {
		return domain.Affiliate{}, err
	}

	affiliate := domain.Affiliate{
		ID:              s.newID(),
		MerchantID:      merchant.ID,
		PublicationID:   publication.ID,
		Link:            ReferralLink(s.host, publication.ID, merchant.ID),
		Cover:           publication.Cover.URL,
		Title:           publication.Title,
		EnableDownloads: publication.EnableDownloads,
		CreatedAt:       s.now(),
	}
	opts := repositories.CreateOptions{Limit: s.quotas.Limit(tier, QuotaPromotion)}
	if err := s.affiliates.Create(ctx, affiliate, opts); err != nil {
		switch {
		case errors.Is(err, repositories.ErrLimitReached):
			return domain.Affiliate{}, &QuotaExceededError{Tier: tier, Kind: QuotaPromotion, Limit: opts.Limit}
		case isRepoConflict(err):
			return domain.Affiliate{}, &DuplicateEntityError{Entity: entityAffiliate}
		}
		return domain.Affiliate{}, fmt.Errorf("create affiliate: %w", err)
	}

	s.log(ctx, "affiliate_created", map[string]any{
		"affiliateId":   affiliate.ID,
		"publicationId": publication.ID,
		"merchantId":    merchant.ID,
	})
	s.afterCreate(ctx, merchant, affiliate)
	return affiliate, nil
}

func (s *promotionService) afterCreate(ctx context.Context, merchant domain.Merchant, affiliate domain.Affiliate) {
	if s.notifier != nil {
		if err := s.notifier.PromotionCreated(ctx, merchant, affiliate); err != nil {
			s.log(ctx, "affiliate_notification_failed", map[string]any{"affiliateId": affiliate.ID, "error": err})
		}
	}
	if s.events != nil {
		_, err := s.events.PublishEvent(ctx, DomainEvent{
			Type:          EventAffiliateCreated,
			MerchantID:    merchant.ID,
			PublicationID: affiliate.PublicationID,
			AffiliateID:   affiliate.ID,
			OccurredAt:    affiliate.CreatedAt,
		})
		if err != nil {
			s.log(ctx, "affiliate_event_failed", map[string]any{"affiliateId": affiliate.ID, "error": err})
		}
	}
}

// ReferralLink builds <host>/pub/<publicationID>?ref=<merchantID>.
func ReferralLink(host, publicationID, merchantID string) string {
	return strings.TrimRight(host, "/") + "/pub/" + url.PathEscape(publicationID) + "?ref=" + url.QueryEscape(merchantID)
}
