package services

import (
	"context"
	"errors"
	"strings"

	"github.com/oklog/ulid/v2"

	domain "github.com/folioshelf/api/internal/domain"
	"github.com/folioshelf/api/internal/repositories"
)

// tierResolver computes the plan a merchant is entitled to right now.
type tierResolver struct {
	verifier SubscriptionVerifier
	log      func(ctx context.Context, event string, fields map[string]any)
}

// effectiveTier returns the merchant's plan while its subscription is active or trialing, and
// starter otherwise. With no verifier, or when verification fails, the stored status is used.
func (r tierResolver) effectiveTier(ctx context.Context, merchant domain.Merchant) domain.PlanTier {
	plan := domain.ParsePlanTier(string(merchant.Plan))
	if plan == domain.PlanStarter {
		return plan
	}
	status := merchant.SubscriptionStatus
	if r.verifier != nil && strings.TrimSpace(merchant.SubscriptionID) != "" {
		live, err := r.verifier.Verify(ctx, merchant.SubscriptionID)
		if err != nil {
			r.log(ctx, "subscription_verify_failed", map[string]any{
				"merchantId": merchant.ID,
				"plan":       string(plan),
				"error":      err,
			})
		} else {
			status = live
		}
	}
	if status.Entitled() {
		return plan
	}
	return domain.PlanStarter
}

func lookupMerchant(ctx context.Context, repo repositories.MerchantRepository, merchantID string) (domain.Merchant, error) {
	merchant, err := repo.FindByID(ctx, merchantID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Merchant{}, &NotFoundError{Entity: "merchant", ID: merchantID}
		}
		return domain.Merchant{}, err
	}
	if merchant.ID == "" {
		merchant.ID = merchantID
	}
	return merchant, nil
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func newPrefixedID(prefix string) string {
	return prefix + "_" + strings.ToLower(ulid.Make().String())
}

func noopLogger(context.Context, string, map[string]any) {}
