// Reconciliation HTTP handlers.
//
// This file exposes the operator endpoints over the reconciliation engine:
//   - POST /refresh      (scan the welcome channel down to the cutoff)
//   - GET  /unwelcomed   (deep links to joins nobody has welcomed yet)
//   - GET  /stats        (counts over the join registry and the ledger)
//
// Handlers are transport-thin: they validate query parameters, delegate to
// the engine and translate its errors into the ErrorResponse envelope.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/welcome-tracker/internal/repo"
	"github.com/tbourn/welcome-tracker/internal/services"
	"github.com/tbourn/welcome-tracker/internal/utils"
)

// MaxUnwelcomedLimit caps the limit query parameter.
const MaxUnwelcomedLimit = 100

// ReconcileService is the subset of the engine the handlers depend on.
type ReconcileService interface {
	Refresh(ctx context.Context) (services.ScanResult, error)
	ListUnwelcomed(ctx context.Context, limit int) ([]string, error)
	Stats(ctx context.Context) (repo.Stats, error)
}

// Handlers groups the HTTP handlers and their dependencies.
type Handlers struct {
	svc ReconcileService
}

// New returns Handlers backed by svc.
func New(svc ReconcileService) *Handlers {
	return &Handlers{svc: svc}
}

// RefreshResponse is returned by POST /refresh.
type RefreshResponse struct {
	Result services.ScanResult `json:"result"`
}

// UnwelcomedResponse is returned by GET /unwelcomed.
type UnwelcomedResponse struct {
	Links []string `json:"links"`
	Count int      `json:"count"`
	// Scan is present when the request refreshed before listing.
	Scan *services.ScanResult `json:"scan,omitempty"`
}

// Refresh godoc
// @ID          refresh
// @Summary     Scan the welcome channel
// @Description Walks the welcome channel from its newest message down to the cutoff and records joins and welcome replies. Safe to repeat.
// @Tags        Reconcile
// @Produce     json
// @Success     200  {object} handlers.RefreshResponse
// @Failure     429  {object} handlers.ErrorResponse "Rate limited"
// @Failure     502  {object} handlers.ErrorResponse "Discord page fetch failed"
// @Failure     503  {object} handlers.ErrorResponse "No Discord connection"
// @Failure     500  {object} handlers.ErrorResponse "Internal server error"
// @Router      /refresh [post]
func (h *Handlers) Refresh(c *gin.Context) {
	res, err := h.svc.Refresh(c.Request.Context())
	if err != nil {
		h.failRefresh(c, err)
		return
	}
	ok(c, http.StatusOK, RefreshResponse{Result: res})
}

// ListUnwelcomed godoc
// @ID          listUnwelcomed
// @Summary     List unwelcomed joins
// @Description Returns deep links to joins without a welcome reply, oldest first. By default a refresh runs first.
// @Tags        Reconcile
// @Produce     json
// @Param       limit    query  int   false "Max links (1..100, 0 = configured default)" example(20)
// @Param       refresh  query  bool  false "Refresh before listing" default(true)
// @Success     200  {object} handlers.UnwelcomedResponse
// @Failure     400  {object} handlers.ErrorResponse "Invalid query parameter"
// @Failure     502  {object} handlers.ErrorResponse "Discord page fetch failed"
// @Failure     503  {object} handlers.ErrorResponse "No Discord connection"
// @Failure     500  {object} handlers.ErrorResponse "Internal server error"
// @Router      /unwelcomed [get]
func (h *Handlers) ListUnwelcomed(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit = utils.AtoiDefault(raw, -1)
	}
	if limit < 0 || limit > MaxUnwelcomedLimit {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "limit must be between 0 and 100")
		return
	}

	refresh := true
	if v := c.Query("refresh"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "refresh must be a boolean")
			return
		}
		refresh = b
	}

	ctx := c.Request.Context()
	var resp UnwelcomedResponse
	if refresh {
		res, err := h.svc.Refresh(ctx)
		if err != nil {
			h.failRefresh(c, err)
			return
		}
		resp.Scan = &res
	}

	links, err := h.svc.ListUnwelcomed(ctx, limit)
	if err != nil {
		if errors.Is(err, services.ErrNoProvider) {
			fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if links == nil {
		links = []string{}
	}
	resp.Links = links
	resp.Count = len(links)
	ok(c, http.StatusOK, resp)
}

// Stats godoc
// @ID          stats
// @Summary     Reconciliation counters
// @Tags        Reconcile
// @Produce     json
// @Success     200  {object} repo.Stats
// @Failure     500  {object} handlers.ErrorResponse "Internal server error"
// @Router      /stats [get]
func (h *Handlers) Stats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeStatsFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, st)
}

func (h *Handlers) failRefresh(c *gin.Context, err error) {
	var pfe *services.PageFetchError
	switch {
	case errors.As(err, &pfe):
		fail(c, http.StatusBadGateway, ErrCodePageFetchFailed, err.Error())
	case errors.Is(err, services.ErrNoProvider):
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeRefreshFailed, err.Error())
	}
}
