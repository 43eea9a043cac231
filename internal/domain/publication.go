package domain

import (
	"strings"
	"time"
)

// PlanTier identifies the subscription plan a merchant is on.
type PlanTier string

const (
	// PlanStarter is the free entry tier.
	PlanStarter PlanTier = "starter"
	// PlanPro is the mid tier.
	PlanPro PlanTier = "pro"
	// PlanPremium has no listing or promotion ceiling by default.
	PlanPremium PlanTier = "premium"
)

// ParsePlanTier normalises raw plan names. Unknown values fall back to starter.
func ParsePlanTier(raw string) PlanTier {
	switch PlanTier(strings.ToLower(strings.TrimSpace(raw))) {
	case PlanPro:
		return PlanPro
	case PlanPremium:
		return PlanPremium
	default:
		return PlanStarter
	}
}

// SubscriptionStatus mirrors the payment provider's subscription state.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionNone     SubscriptionStatus = "none"
)

// Entitled reports whether the status grants paid-plan benefits.
func (s SubscriptionStatus) Entitled() bool {
	return s == SubscriptionActive || s == SubscriptionTrialing
}

// Merchant is a user account enabled to sell and promote publications.
type Merchant struct {
	ID                 string
	UserID             string
	Plan               PlanTier
	SubscriptionID     string
	SubscriptionStatus SubscriptionStatus
	Earnings           float64
	Withdrawals        float64
	BankAccountID      string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// PublicationStatus is the lifecycle state of a catalog entry.
type PublicationStatus string

const (
	// PublicationPending is defined for a review queue that the submission pipeline never enters.
	PublicationPending PublicationStatus = "pending"
	// PublicationApproved is assigned on creation after moderation passes.
	PublicationApproved PublicationStatus = "approved"
	// PublicationPaused hides a listing at the vendor's request.
	PublicationPaused PublicationStatus = "paused"
)

// AssetRef points at an object held by the storage backend.
type AssetRef struct {
	ID  string
	URL string
}

// Publication is a listed digital work.
type Publication struct {
	ID               string
	VendorID         string
	Title            string
	Author           string
	Language         string
	Category         string
	Pages            int
	Description      string
	Document         AssetRef
	Cover            AssetRef
	Price            float64
	Discount         float64
	EnableDownloads  bool
	EnableAffiliates bool
	Commission       float64
	Status           PublicationStatus
	UnitsSold        int
	Earnings         float64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Affiliate is a merchant's referral binding to a publication.
type Affiliate struct {
	ID              string
	MerchantID      string
	PublicationID   string
	Link            string
	Cover           string
	Title           string
	EnableDownloads bool
	TotalClicks     int
	UniqueClicks    int
	Conversions     int
	Commissions     float64
	CreatedAt       time.Time
}

// Review is a buyer rating for a publication.
type Review struct {
	ID            string
	UserID        string
	PublicationID string
	Rating        float64
	Comment       string
	CreatedAt     time.Time
}

// Notification is an in-app message record addressed to a user.
type Notification struct {
	ID        string
	UserID    string
	Subject   string
	Body      string
	Read      bool
	CreatedAt time.Time
}
