package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/folioshelf/api/internal/domain"
	pfirestore "github.com/folioshelf/api/internal/platform/firestore"
	"github.com/folioshelf/api/internal/repositories"
)

const (
	affiliatesCollection     = "affiliates"
	affiliateLinksCollection = "affiliateLinks"
)

type affiliateDocument struct {
	MerchantID      string    `firestore:"merchantId"`
	PublicationID   string    `firestore:"publicationId"`
	Link            string    `firestore:"link"`
	Cover           string    `firestore:"cover"`
	Title           string    `firestore:"title"`
	EnableDownloads bool      `firestore:"enableDownloads"`
	TotalClicks     int       `firestore:"totalClicks"`
	UniqueClicks    int       `firestore:"uniqueClicks"`
	Conversions     int       `firestore:"conversions"`
	Commissions     float64   `firestore:"commissions"`
	CreatedAt       time.Time `firestore:"createdAt"`
}

// AffiliateRepository persists promotion links with a (merchant, publication) guard document.
type AffiliateRepository struct {
	provider   *pfirestore.Provider
	affiliates *pfirestore.Collection[affiliateDocument]
	links      *pfirestore.Collection[guardDocument]
}

// NewAffiliateRepository constructs a Firestore-backed affiliate repository.
func NewAffiliateRepository(provider *pfirestore.Provider) (*AffiliateRepository, error) {
	if provider == nil {
		return nil, errors.New("affiliate repository requires firestore provider")
	}
	return &AffiliateRepository{
		provider:   provider,
		affiliates: pfirestore.NewCollection[affiliateDocument](provider, affiliatesCollection),
		links:      pfirestore.NewCollection[guardDocument](provider, affiliateLinksCollection),
	}, nil
}

func (r *AffiliateRepository) Create(ctx context.Context, affiliate domain.Affiliate, opts repositories.CreateOptions) error {
	ref, err := r.affiliates.Doc(ctx, affiliate.ID)
	if err != nil {
		return err
	}
	guardRef, err := r.links.Doc(ctx, guardID(affiliate.MerchantID, affiliate.PublicationID))
	if err != nil {
		return err
	}
	coll, err := r.affiliates.Ref(ctx)
	if err != nil {
		return err
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if opts.Limit > 0 {
			count, err := pfirestore.CountInTx(tx, coll.Where("merchantId", "==", affiliate.MerchantID), opts.Limit)
			if err != nil {
				return err
			}
			if count >= opts.Limit {
				return repositories.ErrLimitReached
			}
		}
		if err := tx.Create(guardRef, guardDocument{
			OwnerID:   affiliate.MerchantID,
			Key:       affiliate.PublicationID,
			EntityID:  affiliate.ID,
			CreatedAt: affiliate.CreatedAt,
		}); err != nil {
			return err
		}
		return tx.Create(ref, affiliateDocument{
			MerchantID:      affiliate.MerchantID,
			PublicationID:   affiliate.PublicationID,
			Link:            affiliate.Link,
			Cover:           affiliate.Cover,
			Title:           affiliate.Title,
			EnableDownloads: affiliate.EnableDownloads,
			TotalClicks:     affiliate.TotalClicks,
			UniqueClicks:    affiliate.UniqueClicks,
			Conversions:     affiliate.Conversions,
			Commissions:     affiliate.Commissions,
			CreatedAt:       affiliate.CreatedAt.UTC(),
		})
	})
}

func (r *AffiliateRepository) Exists(ctx context.Context, merchantID string, publicationID string) (bool, error) {
	return r.links.Exists(ctx, guardID(merchantID, publicationID))
}

func (r *AffiliateRepository) CountByMerchant(ctx context.Context, merchantID string) (int, error) {
	return r.affiliates.Count(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("merchantId", "==", merchantID)
	})
}
