package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/proposalgate/proposalgate/internal/codec"
	"github.com/proposalgate/proposalgate/internal/config"
	"github.com/proposalgate/proposalgate/internal/directory"
	"github.com/proposalgate/proposalgate/internal/notify"
	"github.com/proposalgate/proposalgate/internal/service"
	"github.com/proposalgate/proposalgate/internal/store"
	"github.com/proposalgate/proposalgate/internal/sweeper"
	"github.com/proposalgate/proposalgate/internal/telemetry"
)

// loadConfig decodes and validates the configuration assembled by initConfig.
func loadConfig() (*config.Config, error) {
	if configErr != nil {
		return nil, configErr
	}
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger. Logs always go to stderr so the MCP
// stdio transport keeps stdout to itself.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// app is the wired set of collaborators shared by serve, mcp and the admin
// subcommands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	store     store.Store
	directory directory.Source
	issuer    *service.Issuer
	validator *service.Validator
	promoter  *service.Promoter
	sweeper   *sweeper.Sweeper
	auth      *service.AuthService
}

func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	metrics := telemetry.New()

	st, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	dir, err := directory.Open(cfg.DirectoryOptions())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open directory: %w", err)
	}
	sender, err := notify.New(cfg.NotifyOptions(), logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init notifier: %w", err)
	}

	var signer *codec.Signer
	if cfg.Strategy() == codec.StrategySigned {
		signer, err = codec.NewSigner(cfg.Codec.SigningSecret, cfg.Codec.Issuer, nil)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("init signer: %w", err)
		}
	}

	deps := service.IssuerDeps{
		Store:   st,
		Signer:  signer,
		Logger:  logger,
		Metrics: metrics,
	}
	var recipients service.RecipientDirectory
	if dir != nil {
		deps.Resources = dir
		deps.Directory = dir
		recipients = dir
	}
	if sender != nil {
		deps.Notifier = sender
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		store:     st,
		directory: dir,
		issuer:    service.NewIssuer(cfg.IssuanceConfig(), deps),
		validator: service.NewValidator(cfg.ValidatorConfig(), st, signer, recipients, logger, metrics),
		promoter:  service.NewPromoter(cfg.SessionConfig(), st, logger, metrics),
		sweeper:   sweeper.New(st, cfg.SweeperConfig(), nil, logger, metrics),
		auth:      service.NewAuthService(cfg.Auth.JWTSecret, cfg.Codec.Issuer),
	}, nil
}

// resources returns the resource lookup, or nil when no directory is set.
func (a *app) resources() service.ResourceLookup {
	if a.directory == nil {
		return nil
	}
	return a.directory
}

// Close waits for queued notifications and releases the store and directory.
func (a *app) Close() {
	a.issuer.Wait()
	if a.directory != nil {
		if err := a.directory.Close(); err != nil {
			a.logger.Warn("close directory", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", "error", err)
	}
}

// openCommandApp is the common prologue of the admin subcommands.
func openCommandApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openApp(ctx, cfg, newLogger(cfg.Logging))
}

// wantJSON reports whether output should be JSON: when asked for, or when
// stdout is not a terminal.
func wantJSON(flag bool) bool {
	return flag || !term.IsTerminal(int(os.Stdout.Fd()))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// remaining formats the time left until t for table output.
func remaining(t, now time.Time) string {
	d := t.Sub(now)
	if d <= 0 {
		return "-"
	}
	return d.Truncate(time.Second).String()
}

// truncate shortens s to n runes for table columns.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
