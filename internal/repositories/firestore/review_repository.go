package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/folioshelf/api/internal/domain"
	pfirestore "github.com/folioshelf/api/internal/platform/firestore"
)

const (
	reviewsCollection = "reviews"
	// Firestore caps "in" filters at 30 values.
	maxInFilterValues = 30
)

type reviewDocument struct {
	UserID        string    `firestore:"userId"`
	PublicationID string    `firestore:"publicationId"`
	Rating        float64   `firestore:"rating"`
	Comment       string    `firestore:"comment"`
	CreatedAt     time.Time `firestore:"createdAt"`
}

// ReviewRepository reads buyer reviews.
type ReviewRepository struct {
	reviews *pfirestore.Collection[reviewDocument]
}

// NewReviewRepository constructs a Firestore-backed review repository.
func NewReviewRepository(provider *pfirestore.Provider) (*ReviewRepository, error) {
	if provider == nil {
		return nil, errors.New("review repository requires firestore provider")
	}
	return &ReviewRepository{reviews: pfirestore.NewCollection[reviewDocument](provider, reviewsCollection)}, nil
}

func (r *ReviewRepository) ListByPublication(ctx context.Context, publicationID string) ([]domain.Review, error) {
	docs, err := r.reviews.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("publicationId", "==", strings.TrimSpace(publicationID)).OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}
	reviews := make([]domain.Review, 0, len(docs))
	for _, doc := range docs {
		reviews = append(reviews, domain.Review{
			ID:            doc.ID,
			UserID:        doc.Data.UserID,
			PublicationID: doc.Data.PublicationID,
			Rating:        doc.Data.Rating,
			Comment:       doc.Data.Comment,
			CreatedAt:     doc.Data.CreatedAt.UTC(),
		})
	}
	return reviews, nil
}

// AverageRatings reads reviews for the ids in chunks and averages them per publication.
func (r *ReviewRepository) AverageRatings(ctx context.Context, publicationIDs []string) (map[string]float64, error) {
	ids := uniqueIDs(publicationIDs)
	sums := make(map[string]float64, len(ids))
	counts := make(map[string]int, len(ids))

	for start := 0; start < len(ids); start += maxInFilterValues {
		chunk := ids[start:min(start+maxInFilterValues, len(ids))]
		docs, err := r.reviews.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("publicationId", "in", chunk).Select("publicationId", "rating")
		})
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			sums[doc.Data.PublicationID] += doc.Data.Rating
			counts[doc.Data.PublicationID]++
		}
	}

	averages := make(map[string]float64, len(counts))
	for id, n := range counts {
		averages[id] = sums[id] / float64(n)
	}
	return averages, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
