// Package services – Reconciler
//
// Reconciler is the single value built at startup that carries the store
// handle, the platform provider and the channel configuration. Every entry
// point (slash commands, HTTP API, scheduler, CLI) goes through it; nothing
// in the engine reads globals for these.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/welcome-tracker/internal/repo"
)

// Config is the channel configuration consumed by the engine.
type Config struct {
	GuildID          string
	WelcomeChannelID string
	// CutoffID is the oldest message id the scanner will ever evaluate.
	CutoffID        string
	PageSize        int
	UnwelcomedLimit int
	LinkHost        string
}

// Reconciler exposes the refresh and listing operations.
type Reconciler struct {
	DB       *gorm.DB
	Provider Provider
	Config   Config
}

// NewReconciler fills config defaults and returns a ready Reconciler.
func NewReconciler(db *gorm.DB, p Provider, cfg Config) *Reconciler {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.UnwelcomedLimit <= 0 {
		cfg.UnwelcomedLimit = DefaultUnwelcomedLimit
	}
	if cfg.LinkHost == "" {
		cfg.LinkHost = DefaultLinkHost
	}
	return &Reconciler{DB: db, Provider: p, Config: cfg}
}

// Refresh scans the welcome channel from its head down to the cutoff. It is
// idempotent; overlapping calls are safe.
func (r *Reconciler) Refresh(ctx context.Context) (ScanResult, error) {
	if r.Provider == nil {
		return ScanResult{}, ErrNoProvider
	}
	s := &Scanner{
		Provider: r.Provider,
		Classifier: &Classifier{
			DB:               r.DB,
			Provider:         r.Provider,
			WelcomeChannelID: r.Config.WelcomeChannelID,
		},
		PageSize: r.Config.PageSize,
	}

	start := time.Now()
	res, err := s.Scan(ctx, r.Config.WelcomeChannelID, r.Config.CutoffID)
	scanDuration.Observe(time.Since(start).Seconds())

	var pfe *PageFetchError
	switch {
	case err == nil:
		scansTotal.WithLabelValues("ok").Inc()
	case errors.As(err, &pfe):
		scansTotal.WithLabelValues("page_error").Inc()
	default:
		scansTotal.WithLabelValues("store_error").Inc()
	}

	ev := log.Info()
	if err != nil {
		ev = log.Error().Err(err)
	}
	ev.Int("pages", res.Pages).
		Int("joins", res.Joins).
		Int("welcomes", res.Welcomes).
		Int("ignored", res.Ignored).
		Dur("took", time.Since(start)).
		Msg("welcome channel scan finished")

	return res, err
}

// ListUnwelcomed returns deep links to up to limit unwelcomed joins, oldest
// first, pruning joins whose message was deleted. A limit <= 0 uses the
// configured default.
func (r *Reconciler) ListUnwelcomed(ctx context.Context, limit int) ([]string, error) {
	if r.Provider == nil {
		return nil, ErrNoProvider
	}
	rep := &Reporter{
		DB:           r.DB,
		Provider:     r.Provider,
		GuildID:      r.Config.GuildID,
		ChannelID:    r.Config.WelcomeChannelID,
		LinkHost:     r.Config.LinkHost,
		DefaultLimit: r.Config.UnwelcomedLimit,
	}
	return rep.UnwelcomedLinks(ctx, limit)
}

// Stats returns counts over the join registry and the ledger.
func (r *Reconciler) Stats(ctx context.Context) (repo.Stats, error) {
	return repo.ReconcileStats(ctx, r.DB)
}
