package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/folioshelf/api/internal/platform/firestore"
	"github.com/folioshelf/api/internal/repositories"
)

// RegistryOption customises the registry.
type RegistryOption func(*Registry)

// WithReviewRepository replaces the review repository, typically with a caching decorator
// around the Firestore one.
func WithReviewRepository(wrap func(repositories.ReviewRepository) repositories.ReviewRepository) RegistryOption {
	return func(r *Registry) {
		if wrap != nil {
			r.reviews = wrap(r.reviews)
		}
	}
}

// WithHealthRepository sets the readiness probe set.
func WithHealthRepository(health repositories.HealthRepository) RegistryOption {
	return func(r *Registry) {
		r.health = health
	}
}

// WithCloser registers an extra resource released by Close, after the Firestore client.
func WithCloser(closer func(context.Context) error) RegistryOption {
	return func(r *Registry) {
		if closer != nil {
			r.closers = append(r.closers, closer)
		}
	}
}

// Registry implements repositories.Registry over a shared Firestore provider.
type Registry struct {
	provider      *pfirestore.Provider
	merchants     repositories.MerchantRepository
	publications  repositories.PublicationRepository
	affiliates    repositories.AffiliateRepository
	reviews       repositories.ReviewRepository
	notifications repositories.NotificationRepository
	health        repositories.HealthRepository
	closers       []func(context.Context) error
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every Firestore repository on provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}
	merchants, err := NewMerchantRepository(provider)
	if err != nil {
		return nil, err
	}
	publications, err := NewPublicationRepository(provider)
	if err != nil {
		return nil, err
	}
	affiliates, err := NewAffiliateRepository(provider)
	if err != nil {
		return nil, err
	}
	reviews, err := NewReviewRepository(provider)
	if err != nil {
		return nil, err
	}
	notifications, err := NewNotificationRepository(provider)
	if err != nil {
		return nil, err
	}

	reg := &Registry{
		provider:      provider,
		merchants:     merchants,
		publications:  publications,
		affiliates:    affiliates,
		reviews:       reviews,
		notifications: notifications,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(reg)
		}
	}
	return reg, nil
}

func (r *Registry) Merchants() repositories.MerchantRepository         { return r.merchants }
func (r *Registry) Publications() repositories.PublicationRepository   { return r.publications }
func (r *Registry) Affiliates() repositories.AffiliateRepository       { return r.affiliates }
func (r *Registry) Reviews() repositories.ReviewRepository             { return r.reviews }
func (r *Registry) Notifications() repositories.NotificationRepository { return r.notifications }
func (r *Registry) Health() repositories.HealthRepository              { return r.health }

// Close releases the Firestore client and any registered closers.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	if err := r.provider.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close firestore: %w", err))
	}
	for _, closer := range r.closers {
		if err := closer(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
