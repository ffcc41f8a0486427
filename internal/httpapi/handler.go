// Package httpapi exposes the claim registry and quota tracker over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"matchpicks/internal/claims"
	"matchpicks/internal/fixtures"
	"matchpicks/internal/logging"
	"matchpicks/internal/quota"
)

// UserHeader carries the caller identity set by the upstream auth layer.
const UserHeader = "X-Authenticated-User"

const userKey = "matchpicks.user"

// ClaimService is the claim registry as seen by the handlers.
type ClaimService interface {
	Claim(ctx context.Context, fixtureID int64, username string) (claims.Result, error)
	Release(ctx context.Context, fixtureID int64, username string) (bool, error)
	ListActive(ctx context.Context) ([]claims.Claim, error)
	History(ctx context.Context, username string) ([]claims.HistoryEntry, error)
}

// QuotaService is the call budget as seen by the handlers.
type QuotaService interface {
	Status(ctx context.Context) (quota.Status, error)
	Analytics(ctx context.Context) (quota.Analytics, error)
	Reset(ctx context.Context) (quota.State, error)
}

// Jobs runs the background jobs on demand.
type Jobs interface {
	Sweep(ctx context.Context) (claims.SweepResult, error)
	SyncFixtures(ctx context.Context) (fixtures.SyncSummary, error)
}

// Handler serves the API routes.
type Handler struct {
	claims    ClaimService
	quota     QuotaService
	jobs      Jobs
	validator *validatorv10.Validate
	logger    zerolog.Logger
}

// NewHandler wires the handlers to their services.
func NewHandler(claimSvc ClaimService, quotaSvc QuotaService, jobs Jobs, logger zerolog.Logger) *Handler {
	return &Handler{
		claims:    claimSvc,
		quota:     quotaSvc,
		jobs:      jobs,
		validator: validatorv10.New(),
		logger:    logging.Component(logger, "httpapi"),
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.health)

	rate := r.Group("/api/rate-limit")
	rate.GET("/status", h.rateStatus)
	rate.GET("/analytics", h.rateAnalytics)
	rate.POST("/reset", h.requireUser, h.rateReset)

	r.POST("/api/admin/sync-fixtures", h.requireUser, h.syncFixtures)

	matches := r.Group("/api/matches")
	matches.GET("/selections", h.listSelections)
	matches.GET("/history", h.history)
	matches.POST("/archive-finished", h.requireUser, h.archiveFinished)
	matches.POST("/:fixtureId/select", h.requireUser, h.selectFixture)
	matches.DELETE("/:fixtureId/select", h.requireUser, h.releaseFixture)
}

func (h *Handler) requireUser(c *gin.Context) {
	user := strings.TrimSpace(c.GetHeader(UserHeader))
	if user == "" {
		h.fail(c, errUnauthenticated)
		return
	}
	c.Set(userKey, user)
	c.Next()
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) rateStatus(c *gin.Context) {
	status, err := h.quota.Status(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) rateAnalytics(c *gin.Context) {
	analytics, err := h.quota.Analytics(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"analytics": analytics, "days": analytics.Days()})
}

func (h *Handler) rateReset(c *gin.Context) {
	state, err := h.quota.Reset(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Warn().Str("username", c.GetString(userKey)).Msg("quota tracker reset via api")
	c.JSON(http.StatusOK, gin.H{"reset": true, "lastReset": state.LastReset})
}

func (h *Handler) syncFixtures(c *gin.Context) {
	summary, err := h.jobs.SyncFixtures(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) selectFixture(c *gin.Context) {
	var p fixtureParam
	if err := bindURI(c, &p, h.validator); err != nil {
		h.fail(c, err)
		return
	}
	result, err := h.claims.Claim(c.Request.Context(), p.FixtureID, c.GetString(userKey))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) releaseFixture(c *gin.Context) {
	var p fixtureParam
	if err := bindURI(c, &p, h.validator); err != nil {
		h.fail(c, err)
		return
	}
	removed, err := h.claims.Release(c.Request.Context(), p.FixtureID, c.GetString(userKey))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fixtureId": p.FixtureID, "removed": removed})
}

func (h *Handler) listSelections(c *gin.Context) {
	active, err := h.claims.ListActive(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"selections": active, "count": len(active)})
}

func (h *Handler) archiveFinished(c *gin.Context) {
	result, err := h.jobs.Sweep(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) history(c *gin.Context) {
	var q historyQuery
	if err := bindQuery(c, &q, h.validator); err != nil {
		h.fail(c, err)
		return
	}
	entries, err := h.claims.History(c.Request.Context(), q.Username)
	if err != nil {
		h.fail(c, err)
		return
	}
	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}
	c.JSON(http.StatusOK, gin.H{"history": entries, "count": len(entries)})
}
