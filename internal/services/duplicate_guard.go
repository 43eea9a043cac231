package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/folioshelf/api/internal/platform/textutil"
	"github.com/folioshelf/api/internal/repositories"
)

const (
	entityPublication = "publication"
	entityAffiliate   = "affiliate"
)

type duplicateGuard struct {
	publications repositories.PublicationRepository
	affiliates   repositories.AffiliateRepository
}

// NewDuplicateGuard wires the existence checks run before listing and promotion writes.
func NewDuplicateGuard(publications repositories.PublicationRepository, affiliates repositories.AffiliateRepository) (DuplicateGuard, error) {
	if publications == nil || affiliates == nil {
		return nil, fmt.Errorf("%w: duplicate guard repositories", ErrDependencyMissing)
	}
	return &duplicateGuard{publications: publications, affiliates: affiliates}, nil
}

func (g *duplicateGuard) CheckListing(ctx context.Context, vendorID, title string) error {
	exists, err := g.publications.ExistsByVendorTitle(ctx, strings.TrimSpace(vendorID), NormalizeTitle(title))
	if err != nil {
		return fmt.Errorf("check listing title: %w", err)
	}
	if exists {
		return &DuplicateEntityError{Entity: entityPublication}
	}
	return nil
}

func (g *duplicateGuard) CheckPromotion(ctx context.Context, merchantID, publicationID string) error {
	exists, err := g.affiliates.Exists(ctx, strings.TrimSpace(merchantID), strings.TrimSpace(publicationID))
	if err != nil {
		return fmt.Errorf("check promotion: %w", err)
	}
	if exists {
		return &DuplicateEntityError{Entity: entityAffiliate}
	}
	return nil
}

// NormalizeTitle trims and collapses inner whitespace. Case is preserved, so titles differing
// only in case are distinct.
func NormalizeTitle(title string) string {
	return textutil.CollapseSpace(title)
}
