package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/welcome-tracker/internal/config"
	"github.com/tbourn/welcome-tracker/internal/discord"
	httpapi "github.com/tbourn/welcome-tracker/internal/http"
	"github.com/tbourn/welcome-tracker/internal/observability"
	"github.com/tbourn/welcome-tracker/internal/scheduler"
	"github.com/tbourn/welcome-tracker/internal/services"
)

const shutdownGrace = 15 * time.Second

func newServeCommand(e *env, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Discord bot, the operator HTTP API and the scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.serve(cmd.Context(), version)
		},
	}
}

func (e *env) serve(parent context.Context, version string) error {
	cfg := e.cfg
	if err := cfg.RequireToken(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTEL, version,
		attribute.String("discord.guild_id", cfg.Discord.GuildID))
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	session, err := discord.NewSession(cfg.Discord.Token)
	if err != nil {
		return err
	}
	engine := services.NewReconciler(e.db, discord.NewProvider(session, cfg.Discord.RequireMarker), engineConfig(cfg))

	bot := &discord.Bot{
		Session:          session,
		Engine:           engine,
		Commands:         discord.NewCommands(engine, cfg.Reconcile.ScanTimeout),
		GuildID:          cfg.Discord.GuildID,
		RegisterCommands: cfg.Discord.RegisterCommands,
		RefreshOnStart:   cfg.Discord.RefreshOnStart,
		ScanTimeout:      cfg.Reconcile.ScanTimeout,
	}
	if err := bot.Open(); err != nil {
		return err
	}
	defer func() {
		if err := bot.Close(); err != nil {
			log.Warn().Err(err).Msg("close gateway")
		}
	}()

	sched := scheduler.New(engine, cfg.Reconcile.RefreshInterval, cfg.Reconcile.ScanTimeout)
	sched.Start(ctx)
	defer sched.Stop()

	srv := newHTTPServer(cfg, engine)
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("operator API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(sctx)
}

// newHTTPServer builds the operator API server from cfg.
func newHTTPServer(cfg config.Config, engine *services.Reconciler) *http.Server {
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, engine, cfg)

	return &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
}
