package services

import (
	"context"
	"fmt"
	"strings"

	domain "github.com/folioshelf/api/internal/domain"
	"github.com/folioshelf/api/internal/platform/pagination"
	"github.com/folioshelf/api/internal/platform/textutil"
	"github.com/folioshelf/api/internal/repositories"
)

// CatalogServiceDeps bundles collaborators for catalog reads.
type CatalogServiceDeps struct {
	Publications repositories.PublicationRepository
	Reviews      repositories.ReviewRepository
	Paging       pagination.Options
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	publications repositories.PublicationRepository
	reviews      repositories.ReviewRepository
	paging       pagination.Options
	log          func(ctx context.Context, event string, fields map[string]any)
}

// NewCatalogService wires ranked catalog reads.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Publications == nil || deps.Reviews == nil {
		return nil, fmt.Errorf("%w: catalog repositories", ErrDependencyMissing)
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &catalogService{
		publications: deps.Publications,
		reviews:      deps.Reviews,
		paging:       deps.Paging,
		log:          logger,
	}, nil
}

func (s *catalogService) ListPublications(ctx context.Context, req CatalogRequest) (CatalogPage, error) {
	return s.page(ctx, req, repositories.CatalogFilter{AffiliateOnly: req.ForAffiliates})
}

func (s *catalogService) SearchPublications(ctx context.Context, req CatalogRequest) (CatalogPage, error) {
	return s.page(ctx, req, repositories.CatalogFilter{
		AffiliateOnly: req.ForAffiliates,
		TitleContains: strings.TrimSpace(req.Query),
	})
}

func (s *catalogService) FilterPublications(ctx context.Context, req CatalogRequest) (CatalogPage, error) {
	return s.page(ctx, req, repositories.CatalogFilter{
		AffiliateOnly:    req.ForAffiliates,
		CategoryContains: strings.TrimSpace(req.Query),
	})
}

// page ranks publications in the requested language ahead of the rest, newest first within
// each group, and merges average ratings into the returned window.
func (s *catalogService) page(ctx context.Context, req CatalogRequest, filter repositories.CatalogFilter) (CatalogPage, error) {
	params := pagination.Normalize(req.Page, req.Limit, s.paging)
	if !params.InRange() {
		return CatalogPage{Items: []CatalogEntry{}, TotalPages: 0}, nil
	}
	items, total, err := s.window(ctx, filter, textutil.NormalizeLanguage(req.Language), params.Skip(), params.Limit)
	if err != nil {
		return CatalogPage{}, err
	}
	if len(items) == 0 {
		return CatalogPage{Items: []CatalogEntry{}, TotalPages: 0}, nil
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	ratings, err := s.reviews.AverageRatings(ctx, ids)
	if err != nil {
		s.log(ctx, "catalog_ratings_failed", map[string]any{"count": len(ids), "error": err})
		ratings = nil
	}

	entries := make([]CatalogEntry, len(items))
	for i, item := range items {
		entries[i] = catalogEntry(item, ratings[item.ID], req.ForAffiliates)
	}
	return CatalogPage{Items: entries, TotalPages: params.TotalPages(total)}, nil
}

// window reads [skip, skip+limit) of the ranked sequence. The preferred bucket is consulted
// first; the other bucket supplies the remainder and always reports its size.
func (s *catalogService) window(ctx context.Context, filter repositories.CatalogFilter, lang string, skip, limit int) ([]domain.Publication, int, error) {
	if lang == "" {
		page, err := s.publications.ListCatalog(ctx, repositories.CatalogBucketQuery{
			Filter: filter,
			Match:  repositories.LanguageAny,
			Offset: skip,
			Limit:  limit,
		})
		if err != nil {
			return nil, 0, fmt.Errorf("list catalog: %w", err)
		}
		return page.Items, page.Total, nil
	}

	preferred, err := s.publications.ListCatalog(ctx, repositories.CatalogBucketQuery{
		Filter:   filter,
		Language: lang,
		Match:    repositories.LanguageEquals,
		Offset:   skip,
		Limit:    limit,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list preferred catalog: %w", err)
	}
	items := preferred.Items
	if len(items) > limit {
		items = items[:limit]
	}

	rest, err := s.publications.ListCatalog(ctx, repositories.CatalogBucketQuery{
		Filter:   filter,
		Language: lang,
		Match:    repositories.LanguageExcludes,
		Offset:   max(0, skip-preferred.Total),
		Limit:    limit - len(items),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list remaining catalog: %w", err)
	}
	items = append(items, rest.Items...)
	return items, preferred.Total + rest.Total, nil
}

func catalogEntry(publication domain.Publication, rating float64, forAffiliates bool) CatalogEntry {
	entry := CatalogEntry{
		ID:        publication.ID,
		Title:     publication.Title,
		Author:    publication.Author,
		Cover:     publication.Cover.URL,
		Price:     publication.Price,
		Discount:  publication.Discount,
		AvgRating: rating,
	}
	if forAffiliates {
		commission := publication.Commission
		entry.Commission = &commission
	}
	return entry
}
