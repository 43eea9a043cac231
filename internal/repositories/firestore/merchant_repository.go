package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/folioshelf/api/internal/domain"
	pfirestore "github.com/folioshelf/api/internal/platform/firestore"
)

const merchantsCollection = "merchants"

type merchantDocument struct {
	UserID             string    `firestore:"userId"`
	Plan               string    `firestore:"plan"`
	SubscriptionID     string    `firestore:"subscriptionId,omitempty"`
	SubscriptionStatus string    `firestore:"subscriptionStatus,omitempty"`
	Earnings           float64   `firestore:"earnings"`
	Withdrawals        float64   `firestore:"withdrawals"`
	BankAccountID      string    `firestore:"bankAccountId,omitempty"`
	CreatedAt          time.Time `firestore:"createdAt"`
	UpdatedAt          time.Time `firestore:"updatedAt"`
}

// MerchantRepository reads merchant accounts. Merchant documents are keyed by the owner's
// Firebase UID.
type MerchantRepository struct {
	merchants *pfirestore.Collection[merchantDocument]
}

// NewMerchantRepository constructs a Firestore-backed merchant repository.
func NewMerchantRepository(provider *pfirestore.Provider) (*MerchantRepository, error) {
	if provider == nil {
		return nil, errors.New("merchant repository requires firestore provider")
	}
	return &MerchantRepository{merchants: pfirestore.NewCollection[merchantDocument](provider, merchantsCollection)}, nil
}

func (r *MerchantRepository) FindByID(ctx context.Context, merchantID string) (domain.Merchant, error) {
	doc, err := r.merchants.Get(ctx, strings.TrimSpace(merchantID))
	if err != nil {
		return domain.Merchant{}, err
	}
	status := domain.SubscriptionStatus(strings.ToLower(strings.TrimSpace(doc.Data.SubscriptionStatus)))
	if status == "" {
		status = domain.SubscriptionNone
	}
	userID := doc.Data.UserID
	if userID == "" {
		userID = doc.ID
	}
	return domain.Merchant{
		ID:                 doc.ID,
		UserID:             userID,
		Plan:               domain.ParsePlanTier(doc.Data.Plan),
		SubscriptionID:     doc.Data.SubscriptionID,
		SubscriptionStatus: status,
		Earnings:           doc.Data.Earnings,
		Withdrawals:        doc.Data.Withdrawals,
		BankAccountID:      doc.Data.BankAccountID,
		CreatedAt:          doc.Data.CreatedAt.UTC(),
		UpdatedAt:          doc.Data.UpdatedAt.UTC(),
	}, nil
}
