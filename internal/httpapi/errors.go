package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"matchpicks/internal/apperr"
	"matchpicks/internal/claims"
	"matchpicks/internal/fixtures"
	"matchpicks/internal/quota"
	"matchpicks/internal/service"
	"matchpicks/internal/storage"
)

var errUnauthenticated = errors.New("missing " + UserHeader + " header")

// statusFor maps a domain error to its HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case apperr.IsValidation(err):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, claims.ErrNotOwner):
		return http.StatusForbidden, "not_owner"
	case errors.Is(err, claims.ErrFixtureNotFound):
		return http.StatusNotFound, "fixture_not_found"
	case errors.Is(err, claims.ErrAlreadyClaimed):
		return http.StatusConflict, "already_claimed"
	case errors.Is(err, service.ErrBusy):
		return http.StatusConflict, "job_running"
	case errors.Is(err, claims.ErrFixtureNotClaimable):
		return http.StatusUnprocessableEntity, "fixture_not_claimable"
	case errors.Is(err, quota.ErrQuotaExceeded), errors.Is(err, fixtures.ErrProviderRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case storage.IsStorageError(err):
		return http.StatusServiceUnavailable, "storage_unavailable"
	case errors.Is(err, service.ErrSyncDisabled):
		return http.StatusServiceUnavailable, "sync_disabled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, code := statusFor(err)
	body := gin.H{"error": code, "message": err.Error()}

	var exceeded *quota.ExceededError
	if errors.As(err, &exceeded) {
		body["status"] = exceeded.Status
	}
	var claimed *claims.AlreadyClaimedError
	if errors.As(err, &claimed) {
		body["claimedBy"] = claimed.By
	}

	event := h.logger.Warn()
	if status >= http.StatusInternalServerError {
		event = h.logger.Error()
	}
	event.Err(err).
		Int("status", status).
		Str("method", c.Request.Method).
		Str("path", c.FullPath()).
		Msg("request failed")

	c.AbortWithStatusJSON(status, body)
}
