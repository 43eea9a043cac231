package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/folioshelf/api/internal/domain"
	pfirestore "github.com/folioshelf/api/internal/platform/firestore"
	"github.com/folioshelf/api/internal/platform/textutil"
	"github.com/folioshelf/api/internal/repositories"
)

const (
	publicationsCollection      = "publications"
	publicationTitlesCollection = "publicationTitles"
)

type assetDocument struct {
	ID  string `firestore:"id"`
	URL string `firestore:"url"`
}

type publicationDocument struct {
	VendorID         string        `firestore:"vendorId"`
	Title            string        `firestore:"title"`
	Author           string        `firestore:"author"`
	Language         string        `firestore:"language"`
	Category         string        `firestore:"category"`
	Pages            int           `firestore:"pages"`
	Description      string        `firestore:"description"`
	Document         assetDocument `firestore:"document"`
	Cover            assetDocument `firestore:"cover"`
	Price            float64       `firestore:"price"`
	Discount         float64       `firestore:"discount"`
	EnableDownloads  bool          `firestore:"enableDownloads"`
	EnableAffiliates bool          `firestore:"enableAffiliates"`
	Commission       float64       `firestore:"commission"`
	Status           string        `firestore:"status"`
	UnitsSold        int           `firestore:"unitsSold"`
	Earnings         float64       `firestore:"earnings"`
	CreatedAt        time.Time     `firestore:"createdAt"`
	UpdatedAt        time.Time     `firestore:"updatedAt"`
}

// PublicationRepository persists publications together with a (vendor, title) guard document.
type PublicationRepository struct {
	provider     *pfirestore.Provider
	publications *pfirestore.Collection[publicationDocument]
	titles       *pfirestore.Collection[guardDocument]
}

// NewPublicationRepository constructs a Firestore-backed publication repository.
func NewPublicationRepository(provider *pfirestore.Provider) (*PublicationRepository, error) {
	if provider == nil {
		return nil, errors.New("publication repository requires firestore provider")
	}
	return &PublicationRepository{
		provider:     provider,
		publications: pfirestore.NewCollection[publicationDocument](provider, publicationsCollection),
		titles:       pfirestore.NewCollection[guardDocument](provider, publicationTitlesCollection),
	}, nil
}

// Create writes the publication and its title guard in one transaction. When opts.Limit is
// positive the vendor's listings are re-counted first and ErrLimitReached is returned at the
// ceiling.
func (r *PublicationRepository) Create(ctx context.Context, publication domain.Publication, opts repositories.CreateOptions) error {
	pubRef, err := r.publications.Doc(ctx, publication.ID)
	if err != nil {
		return err
	}
	guardRef, err := r.titles.Doc(ctx, guardID(publication.VendorID, publication.Title))
	if err != nil {
		return err
	}
	coll, err := r.publications.Ref(ctx)
	if err != nil {
		return err
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if opts.Limit > 0 {
			count, err := pfirestore.CountInTx(tx, coll.Where("vendorId", "==", publication.VendorID), opts.Limit)
			if err != nil {
				return err
			}
			if count >= opts.Limit {
				return repositories.ErrLimitReached
			}
		}
		if err := tx.Create(guardRef, guardDocument{
			OwnerID:   publication.VendorID,
			Key:       publication.Title,
			EntityID:  publication.ID,
			CreatedAt: publication.CreatedAt,
		}); err != nil {
			return err
		}
		return tx.Create(pubRef, toPublicationDocument(publication))
	})
}

func (r *PublicationRepository) FindByID(ctx context.Context, publicationID string) (domain.Publication, error) {
	doc, err := r.publications.Get(ctx, strings.TrimSpace(publicationID))
	if err != nil {
		return domain.Publication{}, err
	}
	return fromPublicationDocument(doc.ID, doc.Data), nil
}

func (r *PublicationRepository) ExistsByVendorTitle(ctx context.Context, vendorID string, title string) (bool, error) {
	return r.titles.Exists(ctx, guardID(vendorID, title))
}

func (r *PublicationRepository) CountByVendor(ctx context.Context, vendorID string) (int, error) {
	return r.publications.Count(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("vendorId", "==", vendorID)
	})
}

// ListCatalog serves one language bucket newest first. Buckets that only need equality filters
// are paged and counted server side. Substring and language-exclusion buckets are streamed in
// creation order and filtered here, since Firestore has no substring match and a != filter
// would force ordering by language.
func (r *PublicationRepository) ListCatalog(ctx context.Context, query repositories.CatalogBucketQuery) (repositories.CatalogBucketPage, error) {
	base := func(q firestore.Query) firestore.Query {
		if query.Filter.AffiliateOnly {
			q = q.Where("enableAffiliates", "==", true)
		}
		if query.Match == repositories.LanguageEquals {
			q = q.Where("language", "==", query.Language)
		}
		return q
	}
	if query.Offset < 0 {
		query.Offset = 0
	}

	if !needsClientFilter(query) {
		total, err := r.publications.Count(ctx, base)
		if err != nil {
			return repositories.CatalogBucketPage{}, err
		}
		page := repositories.CatalogBucketPage{Total: total}
		if query.Limit <= 0 || query.Offset >= total {
			return page, nil
		}
		docs, err := r.publications.Query(ctx, func(q firestore.Query) firestore.Query {
			return base(q).OrderBy("createdAt", firestore.Desc).Offset(query.Offset).Limit(query.Limit)
		})
		if err != nil {
			return repositories.CatalogBucketPage{}, err
		}
		for _, doc := range docs {
			page.Items = append(page.Items, fromPublicationDocument(doc.ID, doc.Data))
		}
		return page, nil
	}

	docs, err := r.publications.Query(ctx, func(q firestore.Query) firestore.Query {
		return base(q).OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return repositories.CatalogBucketPage{}, err
	}
	var page repositories.CatalogBucketPage
	for _, doc := range docs {
		if !matchesCatalog(doc.Data, query) {
			continue
		}
		if page.Total >= query.Offset && len(page.Items) < query.Limit {
			page.Items = append(page.Items, fromPublicationDocument(doc.ID, doc.Data))
		}
		page.Total++
	}
	return page, nil
}

func needsClientFilter(query repositories.CatalogBucketQuery) bool {
	return query.Match == repositories.LanguageExcludes ||
		strings.TrimSpace(query.Filter.TitleContains) != "" ||
		strings.TrimSpace(query.Filter.CategoryContains) != ""
}

func matchesCatalog(doc publicationDocument, query repositories.CatalogBucketQuery) bool {
	if query.Match == repositories.LanguageExcludes && doc.Language == query.Language {
		return false
	}
	if needle := strings.TrimSpace(query.Filter.TitleContains); needle != "" && !textutil.ContainsFold(doc.Title, needle) {
		return false
	}
	if needle := strings.TrimSpace(query.Filter.CategoryContains); needle != "" && !textutil.ContainsFold(doc.Category, needle) {
		return false
	}
	return true
}

func toPublicationDocument(p domain.Publication) publicationDocument {
	return publicationDocument{
		VendorID:         p.VendorID,
		Title:            p.Title,
		Author:           p.Author,
		Language:         p.Language,
		Category:         p.Category,
		Pages:            p.Pages,
		Description:      p.Description,
		Document:         assetDocument{ID: p.Document.ID, URL: p.Document.URL},
		Cover:            assetDocument{ID: p.Cover.ID, URL: p.Cover.URL},
		Price:            p.Price,
		Discount:         p.Discount,
		EnableDownloads:  p.EnableDownloads,
		EnableAffiliates: p.EnableAffiliates,
		Commission:       p.Commission,
		Status:           string(p.Status),
		UnitsSold:        p.UnitsSold,
		Earnings:         p.Earnings,
		CreatedAt:        p.CreatedAt.UTC(),
		UpdatedAt:        p.UpdatedAt.UTC(),
	}
}

func fromPublicationDocument(id string, doc publicationDocument) domain.Publication {
	return domain.Publication{
		ID:               id,
		VendorID:         doc.VendorID,
		Title:            doc.Title,
		Author:           doc.Author,
		Language:         doc.Language,
		Category:         doc.Category,
		Pages:            doc.Pages,
		Description:      doc.Description,
		Document:         domain.AssetRef{ID: doc.Document.ID, URL: doc.Document.URL},
		Cover:            domain.AssetRef{ID: doc.Cover.ID, URL: doc.Cover.URL},
		Price:            doc.Price,
		Discount:         doc.Discount,
		EnableDownloads:  doc.EnableDownloads,
		EnableAffiliates: doc.EnableAffiliates,
		Commission:       doc.Commission,
		Status:           domain.PublicationStatus(doc.Status),
		UnitsSold:        doc.UnitsSold,
		Earnings:         doc.Earnings,
		CreatedAt:        doc.CreatedAt.UTC(),
		UpdatedAt:        doc.UpdatedAt.UTC(),
	}
}
