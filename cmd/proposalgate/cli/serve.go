package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/proposalgate/proposalgate/internal/handler"
	"github.com/proposalgate/proposalgate/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the proposalgate API server",
		Long: `Start the HTTP server that validates presented credentials, manages
browsing sessions and exposes the staff admin API. The background sweeper runs
alongside it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)
	ctx := cmd.Context()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	a.metrics.SetBuildInfo(versionString(), appCommit)
	logger.Info("store opened", "driver", cfg.Store.Driver)
	logger.Info("credential strategy", "strategy", cfg.Strategy(), "single_use", cfg.Issuance.SingleUse)
	if a.directory == nil {
		logger.Warn("no recipient directory configured; resources are not checked at issuance")
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth.jwt_secret is empty; the admin API will reject every request")
	}

	a.sweeper.Start()
	defer a.sweeper.Shutdown()

	srv := server.New(server.Config{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		ShutdownTimeout:    cfg.Server.ShutdownTimeout,
		CORSOrigins:        cfg.Server.CORSOrigins,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		Version:            versionString(),
	}, server.Deps{
		Access: handler.NewAccessHandler(a.validator, a.promoter, a.resources(), logger),
		Admin: handler.NewAdminHandler(handler.AdminDeps{
			Issuer:    a.issuer,
			Validator: a.validator,
			Promoter:  a.promoter,
			Store:     a.store,
			Sweeper:   a.sweeper,
			Logger:    logger,
		}),
		Auth:    a.auth,
		Store:   a.store,
		Metrics: a.metrics,
		Logger:  logger,
	})

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "→ proposalgate %s\n", versionString())
	fmt.Fprintf(out, "→ Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(out, "→ Access API: http://%s:%d/api/v1/access\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(out, "→ OpenAPI:    http://%s:%d/openapi.json\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(out, "→ Metrics:    http://%s:%d/metrics\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(out, "→ Health:     http://%s:%d/healthz\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintln(out)

	return srv.ListenAndServe(ctx)
}
