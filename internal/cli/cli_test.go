package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/welcome-tracker/internal/config"
	"github.com/tbourn/welcome-tracker/internal/domain"
	"github.com/tbourn/welcome-tracker/internal/repo"
	"github.com/tbourn/welcome-tracker/internal/services"
)

type historyProvider struct {
	deleted map[string]bool
	pages   int
}

func (p *historyProvider) FetchPage(_ context.Context, _, before string, _ int) ([]domain.ChatMessage, error) {
	p.pages++
	if before != "" {
		return nil, nil
	}
	return []domain.ChatMessage{
		{ID: "1004", Kind: domain.KindOther},
		{ID: "1003", Kind: domain.KindReply, Reference: &domain.MessageRef{ChannelID: "900", MessageID: "1001"}},
		{ID: "1002", Kind: domain.KindJoin},
		{ID: "1001", Kind: domain.KindJoin},
	}, nil
}

func (p *historyProvider) FetchMessage(_ context.Context, _, id string) (*domain.FetchedMessage, error) {
	return &domain.FetchedMessage{ID: id, HasQualifyingAttachment: true}, nil
}

func (p *historyProvider) MessageExists(_ context.Context, _, id string) (bool, error) {
	return !p.deleted[id], nil
}

func setupEnv(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cli.sqlite")
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("GUILD_ID", "800")
	t.Setenv("WELCOME_CHANNEL_ID", "900")
	t.Setenv("MESSAGE_CUTOFF_ID", "1000")
	t.Setenv("DB_PATH", dbPath)
	t.Setenv("LOG_LEVEL", "error")

	prevNoColor, prevLogger, prevLevel := color.NoColor, log.Logger, zerolog.GlobalLevel()
	color.NoColor = true
	t.Cleanup(func() {
		color.NoColor = prevNoColor
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})
	return dbPath
}

func useProvider(t *testing.T, p services.Provider) {
	t.Helper()
	orig := newProvider
	newProvider = func(config.Config) (services.Provider, error) { return p, nil }
	t.Cleanup(func() { newProvider = orig })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := runEnv(t, args...)
	return out, err
}

func runEnv(t *testing.T, args ...string) (string, *env, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd, e := newRootCommand("test")
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := execute(cmd, e)
	return out.String(), e, err
}

func TestRefresh_PrintsSummary(t *testing.T) {
	setupEnv(t)
	useProvider(t, &historyProvider{})

	out, err := run(t, "refresh")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	want := "Refreshed! 4 new messages over 1 pages (2 joins, 1 welcomes, 1 ignored)\n"
	if out != want {
		t.Fatalf("output = %q; want %q", out, want)
	}

	out, err = run(t, "--json", "refresh")
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	var res services.ScanResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("json: %v (%s)", err, out)
	}
	if res.Processed() != 0 {
		t.Fatalf("second refresh processed %d messages", res.Processed())
	}
}

func TestUnwelcomed(t *testing.T) {
	setupEnv(t)
	p := &historyProvider{}
	useProvider(t, p)

	out, err := run(t, "unwelcomed")
	if err != nil {
		t.Fatalf("unwelcomed: %v", err)
	}
	if out != "https://discord.com/channels/800/900/1002\n" {
		t.Fatalf("output = %q", out)
	}

	// store-only listing skips the scan and prunes deleted joins
	p.deleted = map[string]bool{"1002": true}
	pages := p.pages
	out, err = run(t, "unwelcomed", "--no-refresh", "--json")
	if err != nil {
		t.Fatalf("unwelcomed --no-refresh: %v", err)
	}
	if p.pages != pages {
		t.Fatal("--no-refresh fetched history")
	}
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("json output = %q", out)
	}

	out, err = run(t, "unwelcomed", "--no-refresh")
	if err != nil || out != "No unwelcomed joins.\n" {
		t.Fatalf("empty output = %q, %v", out, err)
	}

	if _, err := run(t, "unwelcomed", "--limit", "101"); err == nil {
		t.Fatal("expected limit validation error")
	}
}

func TestStats_NeedsNoToken(t *testing.T) {
	dbPath := setupEnv(t)

	db, err := repo.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	if err := repo.FindOrCreateJoin(ctx, db, "1001"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := repo.MarkWelcomed(ctx, db, "1002", "1003"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	sqlDB, _ := db.DB()
	_ = sqlDB.Close()

	out, err := run(t, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	for _, want := range []string{"joins:       2", "welcomed:    1", "unwelcomed:  1", "newest join: 1002"} {
		if !strings.Contains(out, want) {
			t.Fatalf("stats output missing %q:\n%s", want, out)
		}
	}
}

func TestCommandsNeedingDiscord_RequireToken(t *testing.T) {
	setupEnv(t)
	for _, args := range [][]string{{"refresh"}, {"unwelcomed"}, {"serve"}} {
		if _, err := run(t, args...); !errors.Is(err, config.ErrMissingToken) {
			t.Fatalf("%v: err = %v; want ErrMissingToken", args, err)
		}
	}
}

func TestInvalidConfig(t *testing.T) {
	setupEnv(t)
	t.Setenv("WELCOME_CHANNEL_ID", "general")
	if _, err := run(t, "stats"); err == nil || !strings.Contains(err.Error(), "WELCOME_CHANNEL_ID") {
		t.Fatalf("err = %v", err)
	}
}

func TestEnvFileLoaded(t *testing.T) {
	setupEnv(t)
	os.Unsetenv("GUILD_ID")
	envFile := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(envFile, []byte("GUILD_ID=801\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("GUILD_ID") })

	useProvider(t, &historyProvider{})
	var out, errOut bytes.Buffer
	cmd, e := newRootCommand("test")
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"--env-file", envFile, "unwelcomed"})
	if err := execute(cmd, e); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), "/channels/801/900/1002") {
		t.Fatalf("guild from env file not used: %q", out.String())
	}
}

type failingProvider struct{ historyProvider }

func (failingProvider) FetchPage(context.Context, string, string, int) ([]domain.ChatMessage, error) {
	return nil, errors.New("discord 503")
}

func TestStoreClosedWhenCommandFails(t *testing.T) {
	setupEnv(t)
	useProvider(t, &failingProvider{})

	for _, name := range []string{"refresh", "unwelcomed"} {
		_, e, err := runEnv(t, name)
		var pfe *services.PageFetchError
		if !errors.As(err, &pfe) {
			t.Fatalf("%s: expected page fetch error, got %v", name, err)
		}
		if e.db != nil {
			t.Fatalf("%s: store left open after failure", name)
		}
	}

	_, e, err := runEnv(t, "stats")
	if err != nil || e.db != nil {
		t.Fatalf("stats: err=%v open=%v", err, e.db != nil)
	}
}

func TestNewHTTPServer(t *testing.T) {
	cfg := config.Config{Port: "9090", GinMode: "test", APIBasePath: "/api/v1", RateBurst: 1, MaxHeaderBytes: 1 << 10}
	srv := newHTTPServer(cfg, services.NewReconciler(nil, nil, services.Config{}))
	if srv.Addr != ":9090" || srv.MaxHeaderBytes != 1<<10 || srv.Handler == nil {
		t.Fatalf("unexpected server %+v", srv)
	}
}
