package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dropDatabas3/agentlink/internal/app"
	"github.com/dropDatabas3/agentlink/internal/config"
	"github.com/dropDatabas3/agentlink/internal/connection"
	httpserver "github.com/dropDatabas3/agentlink/internal/http"
	"github.com/dropDatabas3/agentlink/internal/metrics"
	"github.com/dropDatabas3/agentlink/internal/observability/logger"
	"github.com/dropDatabas3/agentlink/internal/providers"
	"github.com/dropDatabas3/agentlink/internal/security/secretbox"
	migrations "github.com/dropDatabas3/agentlink/migrations/postgres"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	// .env es opcional; en prod las variables vienen del entorno.
	_ = godotenv.Load()

	configPath := envOr("AGENTLINK_CONFIG", "")

	root := &cobra.Command{
		Use:           "agentlink",
		Short:         "Conecta integraciones (Slack, GitHub, Linear) con el agente",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", configPath, "Path al YAML de config (env AGENTLINK_CONFIG); vacío = sólo env")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logger.Init(logger.Config{
			Env:         cfg.App.Env,
			Level:       cfg.App.LogLevel,
			ServiceName: "agentlink",
			Version:     version,
		})
		return cfg, nil
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servidor HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return serve(cmd.Context(), cfg)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones de postgres pendientes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != "postgres" {
				return fmt.Errorf("migrate requiere storage.driver=postgres (actual: %s)", cfg.Storage.Driver)
			}
			st, err := app.OpenStores(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			n, err := st.PG.Migrate(cmd.Context(), migrations.FS, migrations.Dir)
			if err != nil {
				return err
			}
			fmt.Printf("migraciones aplicadas: %d\n", n)
			return nil
		},
	}

	reencryptCmd := &cobra.Command{
		Use:   "reencrypt",
		Short: "Sella tokens guardados en texto plano (legado) con la master key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			box, err := app.OpenBox(cfg)
			if err != nil {
				return err
			}
			st, err := app.OpenStores(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			m := connection.NewManager(st.Connections, nil, providers.NewRegistry(), box, connection.Config{})
			n, err := m.ReencryptLegacy(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("conexiones re-encriptadas: %d\n", n)
			return nil
		},
	}

	keygenCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Genera una master key para SECRETBOX_MASTER_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := secretbox.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Println(k)
			return nil
		},
	}

	root.AddCommand(serveCmd, migrateCmd, reencryptCmd, keygenCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		stop()
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.Named("main")

	if err := metrics.Register(nil); err != nil {
		return err
	}

	a, err := app.Build(ctx, cfg, version)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		return err
	}

	log.Info("agentlink starting", zap.String("version", version), zap.String("env", cfg.App.Env))
	serveErr := httpserver.Serve(ctx, cfg.Server.Addr, a.Handler, cfg.Server.ShutdownTimeout)

	if err := a.Stop(cfg.Server.ShutdownTimeout); err != nil {
		log.Warn("reaction queue not drained", logger.Err(err))
	}
	return serveErr
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
