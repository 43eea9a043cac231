package services

import (
	"errors"
	"strings"
	"testing"

	domain "github.com/folioshelf/api/internal/domain"
)

func defaultTestQuotas() QuotaTable {
	return QuotaTable{
		Version: "test",
		Tiers: map[domain.PlanTier]QuotaLimits{
			domain.PlanStarter: {Listings: 5, Promotions: 10},
			domain.PlanPro:     {Listings: 25, Promotions: 50},
			domain.PlanPremium: {},
		},
	}
}

func TestQuotaGateStarterListingBoundary(t *testing.T) {
	gate := NewQuotaGate(defaultTestQuotas())

	if err := gate.Check(domain.PlanStarter, QuotaListing, 4); err != nil {
		t.Fatalf("fifth listing should pass, got %v", err)
	}
	err := gate.Check(domain.PlanStarter, QuotaListing, 5)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("sixth listing should exceed quota, got %v", err)
	}
	var quotaErr *QuotaExceededError
	if !errors.As(err, &quotaErr) || quotaErr.Limit != 5 || quotaErr.Tier != domain.PlanStarter {
		t.Fatalf("unexpected quota error %#v", err)
	}
	if !strings.Contains(err.Error(), "starter") {
		t.Fatalf("message should name the tier, got %q", err.Error())
	}
}

func TestQuotaGatePromotionLimitsPerTier(t *testing.T) {
	gate := NewQuotaGate(defaultTestQuotas())

	if err := gate.Check(domain.PlanStarter, QuotaPromotion, 10); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected starter promotion ceiling, got %v", err)
	}
	if err := gate.Check(domain.PlanPro, QuotaPromotion, 10); err != nil {
		t.Fatalf("pro should allow 11th promotion, got %v", err)
	}
	if got := gate.Limit(domain.PlanPro, QuotaPromotion); got != 50 {
		t.Fatalf("expected pro promotion limit 50, got %d", got)
	}
}

func TestQuotaGateUnlimitedTiers(t *testing.T) {
	table := defaultTestQuotas()
	gate := NewQuotaGate(table)

	if err := gate.Check(domain.PlanPremium, QuotaListing, 10_000); err != nil {
		t.Fatalf("premium should be unlimited, got %v", err)
	}
	if err := gate.Check(domain.PlanTier("enterprise"), QuotaListing, 10_000); err != nil {
		t.Fatalf("tiers missing from the table should be unlimited, got %v", err)
	}

	// the gate copies the table, so later edits do not leak in
	table.Tiers[domain.PlanPremium] = QuotaLimits{Listings: 1}
	if err := gate.Check(domain.PlanPremium, QuotaListing, 3); err != nil {
		t.Fatalf("gate should not observe caller mutations, got %v", err)
	}
}
