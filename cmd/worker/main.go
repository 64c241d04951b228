// Package main provides the entry point for the strategy worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm/logger"

	"github.com/Heartcoolman/wordforge-sub001/internal/config"
	"github.com/Heartcoolman/wordforge-sub001/internal/db/gorm"
	"github.com/Heartcoolman/wordforge-sub001/internal/maintenance"
	"github.com/Heartcoolman/wordforge-sub001/internal/metrics"
	"github.com/Heartcoolman/wordforge-sub001/internal/worker"
	"github.com/Heartcoolman/wordforge-sub001/pkg/models"
)

var Version = "dev"

const (
	serviceName = "wordforge-worker"
	meterName   = "github.com/Heartcoolman/wordforge-sub001"
)

var settingsPath string

var rootCmd = &cobra.Command{
	Use:           serviceName,
	Short:         "Adaptive study-strategy engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP worker",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations and exit",
	RunE:  runMigrate,
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print persisted per-algorithm metrics of one day as JSON",
	RunE:  runMetrics,
}

var daysCmd = &cobra.Command{
	Use:   "days",
	Short: "List days with persisted metrics, newest first",
	RunE:  runDays,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Run store maintenance once: prune old metrics and optimize",
	RunE:  runPrune,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&settingsPath, "config", "", "settings file (default: data dir settings.yaml)")
	metricsCmd.Flags().String("day", "", "day as YYYY-MM-DD (default: today, UTC)")
	daysCmd.Flags().Int("limit", 30, "maximum number of days")

	rootCmd.AddCommand(serveCmd, migrateCmd, metricsCmd, daysCmd, pruneCmd)
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if settingsPath != "" {
		cfg, err = config.LoadFrom(settingsPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return cfg, nil
}

func openStore(cfg *config.Config) (*gorm.Store, error) {
	if cfg.DBDriver == gorm.DriverSQLite {
		if err := config.EnsureDataDir(); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	gormLevel := logger.Silent
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gormLevel = logger.Warn
	}
	store, err := gorm.NewStore(gorm.Config{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DBDSN,
		MaxConns: cfg.MaxConns,
		LogLevel: gormLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("database close error")
		}
	}()

	log.Info().
		Str("version", Version).
		Str("driver", store.Driver()).
		Msg("starting strategy worker")

	svc := worker.NewService(cfg, store, Version, log.Logger)

	provider, err := metrics.NewMeterProvider(cfg.MetricsExport, serviceName, Version, os.Stdout)
	if err != nil {
		return err
	}
	otel.SetMeterProvider(provider)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("meter provider shutdown error")
		}
	}()

	reg, err := metrics.RegisterObservables(otel.Meter(meterName), svc.Registry())
	if err != nil {
		log.Warn().Err(err).Msg("metrics not exported")
	} else {
		defer func() { _ = reg.Unregister() }()
	}
	log.Info().Str("exporter", cfg.MetricsExport.Exporter).Msg("metrics export configured")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return svc.Run(ctx)
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	log.Info().Str("driver", store.Driver()).Msg("schema up to date")
	return nil
}

func runMetrics(cmd *cobra.Command, _ []string) error {
	day, _ := cmd.Flags().GetString("day")
	day = strings.TrimSpace(day)
	if day == "" {
		day = time.Now().UTC().Format(models.DayLayout)
	}
	if _, err := time.Parse(models.DayLayout, day); err != nil {
		return fmt.Errorf("invalid --day %q: want YYYY-MM-DD", day)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	snaps, err := store.ListMetricsDaily(ctx, day)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(map[string]any{"day": day, "algorithms": snaps}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func runDays(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	days, err := store.ListMetricsDays(ctx, limit)
	if err != nil {
		return err
	}
	for _, d := range days {
		fmt.Fprintln(cmd.OutOrStdout(), d)
	}
	return nil
}

func runPrune(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := maintenance.NewService(store, cfg.Maintenance, log.Logger)
	svc.RunOnce(cmd.Context())

	st := svc.Stats()
	log.Info().
		Int64("pruned_buckets", st.PrunedBuckets).
		Int("retention_days", st.RetentionDays).
		Msg("maintenance complete")
	return nil
}
