// Package cli implements the welcomebot command line: the long-running
// serve command and one-shot refresh, unwelcomed and stats commands that
// share its configuration and store.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/welcome-tracker/internal/config"
	"github.com/tbourn/welcome-tracker/internal/discord"
	"github.com/tbourn/welcome-tracker/internal/repo"
	"github.com/tbourn/welcome-tracker/internal/services"
	"github.com/tbourn/welcome-tracker/internal/sysutil"
)

// RootOptions holds global flags.
type RootOptions struct {
	EnvFile  string
	DBPath   string
	LogLevel string
	JSON     bool
}

// env is what every subcommand runs against, built in PersistentPreRunE.
type env struct {
	cfg config.Config
	db  *gorm.DB
}

// newProvider builds the Discord-backed provider. Replaced in tests.
var newProvider = func(cfg config.Config) (services.Provider, error) {
	if err := cfg.RequireToken(); err != nil {
		return nil, err
	}
	s, err := discord.NewSession(cfg.Discord.Token)
	if err != nil {
		return nil, err
	}
	return discord.NewProvider(s, cfg.Discord.RequireMarker), nil
}

// newRootCommand returns the welcomebot command tree and the env its
// subcommands share. Run it through execute so the store is released.
func newRootCommand(version string) (*cobra.Command, *env) {
	opts := &RootOptions{}
	e := &env{}

	cmd := &cobra.Command{
		Use:           "welcomebot",
		Short:         "Track which Discord join messages got a welcome reply",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.load(cmd, opts)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file to load before reading the environment (missing is fine)")
	pf.StringVar(&opts.DBPath, "db", "", "SQLite path (overrides DB_PATH)")
	pf.StringVar(&opts.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	pf.BoolVar(&opts.JSON, "json", false, "print results as JSON")

	cmd.AddCommand(newServeCommand(e, version))
	cmd.AddCommand(newRefreshCommand(e, opts))
	cmd.AddCommand(newUnwelcomedCommand(e, opts))
	cmd.AddCommand(newStatsCommand(e, opts))
	return cmd, e
}

// Execute runs the command tree and returns the process exit code.
func Execute(version string) int {
	if err := execute(newRootCommand(version)); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

// execute runs cmd, then closes the store whether or not the command failed.
// Cobra skips post-run hooks after a RunE error.
func execute(cmd *cobra.Command, e *env) error {
	err := cmd.Execute()
	if cerr := e.close(); cerr != nil && err == nil {
		err = fmt.Errorf("close store: %w", cerr)
	}
	return err
}

func (e *env) load(cmd *cobra.Command, opts *RootOptions) error {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", opts.EnvFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if opts.DBPath != "" {
		cfg.DBPath = opts.DBPath
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	sysutil.SetupLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogPretty)

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	log.Debug().Str("db_path", cfg.DBPath).Msg("store ready")

	e.cfg, e.db = cfg, db
	return nil
}

func (e *env) close() error {
	if e.db == nil {
		return nil
	}
	sqlDB, err := e.db.DB()
	if err != nil {
		return err
	}
	e.db = nil
	return sqlDB.Close()
}

// reconciler builds the engine over p, or over the Discord provider when p
// is nil.
func (e *env) reconciler(p services.Provider) (*services.Reconciler, error) {
	if p == nil {
		var err error
		if p, err = newProvider(e.cfg); err != nil {
			return nil, err
		}
	}
	return services.NewReconciler(e.db, p, engineConfig(e.cfg)), nil
}

func engineConfig(cfg config.Config) services.Config {
	return services.Config{
		GuildID:          cfg.Discord.GuildID,
		WelcomeChannelID: cfg.Discord.WelcomeChannelID,
		CutoffID:         cfg.Discord.CutoffID,
		PageSize:         cfg.Reconcile.PageSize,
		UnwelcomedLimit:  cfg.Reconcile.UnwelcomedLimit,
		LinkHost:         cfg.Reconcile.LinkHost,
	}
}
