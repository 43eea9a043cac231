package services

import (
	"errors"
	"fmt"
	"strings"

	domain "github.com/folioshelf/api/internal/domain"
)

var (
	// ErrValidation marks field-level input problems.
	ErrValidation = errors.New("publication: validation failed")
	// ErrQuotaExceeded indicates the merchant's plan allows no more records of the kind.
	ErrQuotaExceeded = errors.New("publication: quota exceeded")
	// ErrDuplicateEntity indicates a listing title or promotion already exists.
	ErrDuplicateEntity = errors.New("publication: duplicate entity")
	// ErrAssetTypeInvalid indicates a document or cover has an unsupported MIME type.
	ErrAssetTypeInvalid = errors.New("publication: asset type invalid")
	// ErrAssetTooLarge indicates an asset exceeds the size ceiling.
	ErrAssetTooLarge = errors.New("publication: asset too large")
	// ErrModerationRejected indicates the content judge did not approve the submission.
	ErrModerationRejected = errors.New("publication: moderation rejected")
	// ErrModerationParseFailure indicates the judge's reply could not be read as a verdict.
	ErrModerationParseFailure = errors.New("publication: moderation response unparsable")
	// ErrNotFound indicates a missing merchant or publication.
	ErrNotFound = errors.New("publication: not found")
	// ErrUnauthorized indicates the caller has no session.
	ErrUnauthorized = errors.New("publication: unauthorized")
	// ErrDependencyMissing is returned by constructors when a required collaborator is nil.
	ErrDependencyMissing = errors.New("publication: dependency not configured")
)

// ValidationError lists every field message found while validating input.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Messages, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// QuotaKind is the kind of record a quota limits.
type QuotaKind string

const (
	QuotaListing   QuotaKind = "listing"
	QuotaPromotion QuotaKind = "promotion"
)

// QuotaExceededError names the plan and ceiling that blocked the action.
type QuotaExceededError struct {
	Tier  domain.PlanTier
	Kind  QuotaKind
	Limit int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s plan allows at most %d %ss; upgrade your plan to add more", e.Tier, e.Limit, e.Kind)
}

func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }

// DuplicateEntityError reports which kind of record already exists.
type DuplicateEntityError struct {
	Entity string
}

func (e *DuplicateEntityError) Error() string {
	switch e.Entity {
	case "publication":
		return "a publication with this title already exists in your catalog"
	case "affiliate":
		return "you are already promoting this publication"
	default:
		return e.Entity + " already exists"
	}
}

func (e *DuplicateEntityError) Unwrap() error { return ErrDuplicateEntity }

// AssetError is a local pre-moderation rejection of the document or cover.
type AssetError struct {
	Asset  string
	Reason string
	err    error
}

func newAssetError(asset, reason string, sentinel error) *AssetError {
	return &AssetError{Asset: asset, Reason: reason, err: sentinel}
}

func (e *AssetError) Error() string { return e.Asset + ": " + e.Reason }

func (e *AssetError) Unwrap() error { return e.err }

// ModerationRejectedError carries the judge's stated reason verbatim.
type ModerationRejectedError struct {
	Reason string
}

func (e *ModerationRejectedError) Error() string {
	if strings.TrimSpace(e.Reason) == "" {
		return "publication was not approved"
	}
	return e.Reason
}

func (e *ModerationRejectedError) Unwrap() error { return ErrModerationRejected }

// ModerationParseError keeps the raw judge reply for diagnostics.
type ModerationParseError struct {
	Raw    string
	Detail string
}

func (e *ModerationParseError) Error() string {
	return "moderation response unparsable: " + e.Detail
}

func (e *ModerationParseError) Unwrap() error { return ErrModerationParseFailure }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string { return e.Entity + " not found" }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
