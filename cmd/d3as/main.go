package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/catalog"
	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/config"
	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/db"
	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/download"
	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/hub"
	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/logctx"
	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/web"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "d3as",
		Short: "Simulated download server with single-flight sessions and live monitoring",
		RunE:  run,
	}

	f := rootCmd.Flags()
	f.Int("port", 5000, "HTTP port for the API")
	f.String("db-path", "d3as.db", "path to the sqlite database file")
	f.Duration("tick-interval", 500*time.Millisecond, "delay between simulated chunks")
	f.Duration("stale-after", 5*time.Minute, "age after which a busy download is presumed abandoned")
	f.Duration("reap-interval", 10*time.Minute, "period of the global stale-download sweep (0 disables)")
	f.String("log-level", "INFO", "log level (DEBUG, INFO, WARN, ERROR)")

	// Bind flags to viper. Viper keys use underscores (db_path) so they match
	// the env var suffix after stripping the D3AS_ prefix.
	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("port", "port")
	bindFlag("db_path", "db-path")
	bindFlag("tick_interval", "tick-interval")
	bindFlag("stale_after", "stale-after")
	bindFlag("reap_interval", "reap-interval")
	bindFlag("log_level", "log-level")

	viper.SetEnvPrefix("D3AS")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	logger.Info("d3as starting",
		"version", config.Version,
		"port", cfg.Port,
		"db_path", cfg.DBPath,
		"tick_interval", cfg.TickInterval.String(),
		"stale_after", cfg.StaleAfter.String(),
		"reap_interval", cfg.ReapInterval.String(),
	)

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close() //nolint:errcheck

	broadcast := hub.New()
	objects := catalog.NewStore(database.Conn())
	mgr := download.New(&cfg, database, objects, broadcast, logger)
	server := web.New(&cfg, mgr, objects, broadcast, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	ctx = logctx.WithLogger(ctx, logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start()
	})

	g.Go(func() error {
		mgr.RunReaper(ctx, cfg.ReapInterval)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
