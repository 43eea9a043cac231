package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/folioshelf/api/internal/platform/httpx"
	"github.com/folioshelf/api/internal/platform/requestctx"
	"github.com/folioshelf/api/internal/services"
)

const moderationUnavailableMessage = "content review failed"

// writePublicationError is the single translation point from pipeline errors to responses.
// Operational errors surface their message; anything else is logged and answered generically.
func writePublicationError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var validation *services.ValidationError
	if errors.As(err, &validation) {
		httpx.WriteError(ctx, w, httpx.NewValidationError(validation.Messages))
		return
	}

	switch {
	case errors.Is(err, services.ErrUnauthorized):
		httpx.WriteError(ctx, w, httpx.NewError("unauthorized", "authentication required", http.StatusUnauthorized))
	case errors.Is(err, services.ErrQuotaExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("quota_exceeded", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrDuplicateEntity):
		httpx.WriteError(ctx, w, httpx.NewError("duplicate_entity", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAssetTypeInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("asset_type_invalid", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAssetTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("asset_too_large", err.Error(), http.StatusRequestEntityTooLarge))
	case errors.Is(err, services.ErrModerationRejected):
		httpx.WriteError(ctx, w, httpx.NewError("moderation_rejected", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrModerationParseFailure):
		requestctx.Logger(ctx).Error("moderation response unparsable", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("moderation_unavailable", moderationUnavailableMessage, http.StatusInternalServerError))
	default:
		requestctx.Logger(ctx).Error("request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
	}
}
