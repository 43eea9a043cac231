// Package payments verifies merchant subscriptions with the payment provider.
package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	domain "github.com/folioshelf/api/internal/domain"
)

// ErrSubscriptionRefMissing is returned when there is no subscription to look up.
var ErrSubscriptionRefMissing = errors.New("payments: subscription reference is required")

// SubscriptionVerifier reports the live status of a subscription reference.
type SubscriptionVerifier interface {
	Verify(ctx context.Context, subscriptionRef string) (domain.SubscriptionStatus, error)
}

type stripeSubscriptionAPI interface {
	Get(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

// StripeConfig configures the Stripe verifier. Backends may point the SDK at a test server.
type StripeConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
}

// StripeSubscriptionVerifier looks subscriptions up through the Stripe API.
type StripeSubscriptionVerifier struct {
	api     stripeSubscriptionAPI
	account string
}

// NewStripeSubscriptionVerifier constructs a verifier using the provided configuration.
func NewStripeSubscriptionVerifier(cfg StripeConfig) (*StripeSubscriptionVerifier, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("stripe: api key is required")
	}
	sc := client.New(apiKey, cfg.Backends)
	return &StripeSubscriptionVerifier{api: sc.Subscriptions, account: strings.TrimSpace(cfg.AccountID)}, nil
}

// Verify fetches the subscription and maps its status onto the domain states.
func (v *StripeSubscriptionVerifier) Verify(ctx context.Context, subscriptionRef string) (domain.SubscriptionStatus, error) {
	ref := strings.TrimSpace(subscriptionRef)
	if ref == "" {
		return domain.SubscriptionNone, ErrSubscriptionRefMissing
	}

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	if v.account != "" {
		params.SetStripeAccount(v.account)
	}
	sub, err := v.api.Get(ref, params)
	if err != nil {
		return domain.SubscriptionNone, err
	}
	if sub == nil {
		return domain.SubscriptionNone, nil
	}
	return mapStripeStatus(sub.Status), nil
}

func mapStripeStatus(status stripe.SubscriptionStatus) domain.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive:
		return domain.SubscriptionActive
	case stripe.SubscriptionStatusTrialing:
		return domain.SubscriptionTrialing
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncomplete:
		return domain.SubscriptionPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return domain.SubscriptionCanceled
	default:
		return domain.SubscriptionNone
	}
}
