package services

import (
	domain "github.com/folioshelf/api/internal/domain"
)

// QuotaLimits holds the ceilings for one plan tier. A limit of zero or less means unlimited.
type QuotaLimits struct {
	Listings   int
	Promotions int
}

// QuotaTable is the versioned plan-limit table injected into the gate.
type QuotaTable struct {
	Version string
	Tiers   map[domain.PlanTier]QuotaLimits
}

func (t QuotaTable) limit(tier domain.PlanTier, kind QuotaKind) int {
	limits, ok := t.Tiers[tier]
	if !ok {
		return 0
	}
	switch kind {
	case QuotaListing:
		return limits.Listings
	case QuotaPromotion:
		return limits.Promotions
	default:
		return 0
	}
}

type quotaGate struct {
	table QuotaTable
}

// NewQuotaGate returns a gate reading limits from table. Tiers absent from the table are unlimited.
func NewQuotaGate(table QuotaTable) QuotaGate {
	tiers := make(map[domain.PlanTier]QuotaLimits, len(table.Tiers))
	for tier, limits := range table.Tiers {
		tiers[tier] = limits
	}
	return &quotaGate{table: QuotaTable{Version: table.Version, Tiers: tiers}}
}

func (g *quotaGate) Check(tier domain.PlanTier, kind QuotaKind, current int) error {
	limit := g.table.limit(tier, kind)
	if limit <= 0 {
		return nil
	}
	if current >= limit {
		return &QuotaExceededError{Tier: tier, Kind: kind, Limit: limit}
	}
	return nil
}

// Limit returns the ceiling for tier and kind, or zero when unlimited.
func (g *quotaGate) Limit(tier domain.PlanTier, kind QuotaKind) int {
	return g.table.limit(tier, kind)
}
