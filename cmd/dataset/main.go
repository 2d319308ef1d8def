// Command dataset builds the labeled tornado-day table for a date range and
// region, writing it to the CSV cache. Service settings (archive URLs, cache
// directory, Kafka) come from the environment; per-run parameters come from
// flags.
//
// Usage:
//
//	go run ./cmd/dataset --start 2020-05-01 --end 2020-05-31 --region Kansas
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/couchcryptid/tornado-dataset-etl/internal/adapter/cachefile"
	"github.com/couchcryptid/tornado-dataset-etl/internal/adapter/era5"
	httpadapter "github.com/couchcryptid/tornado-dataset-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/tornado-dataset-etl/internal/adapter/kafka"
	"github.com/couchcryptid/tornado-dataset-etl/internal/adapter/stormevents"
	"github.com/couchcryptid/tornado-dataset-etl/internal/config"
	"github.com/couchcryptid/tornado-dataset-etl/internal/domain"
	"github.com/couchcryptid/tornado-dataset-etl/internal/observability"
	"github.com/couchcryptid/tornado-dataset-etl/internal/pipeline"
)

var cli struct {
	Start string `help:"First day of the range (YYYY-MM-DD)." default:"2020-05-01"`
	End   string `help:"Last day of the range, inclusive (YYYY-MM-DD)." default:"2020-05-31"`

	Region string  `help:"Region name, matched against storm-event state fields." default:"Kansas"`
	South  float64 `help:"Southern bounding-box latitude." default:"37.0"`
	North  float64 `help:"Northern bounding-box latitude." default:"40.0"`
	West   float64 `help:"Western bounding-box longitude." default:"-102.0"`
	East   float64 `help:"Eastern bounding-box longitude." default:"-94.6"`

	Hour int `help:"Observation hour (UTC). Overrides OBSERVATION_HOUR when set." default:"-1"`

	ForceRefresh bool `help:"Rebuild from the sources even when a cache entry exists."`
	Serve        bool `help:"Keep the health/metrics endpoints up after the build until interrupted."`
	Quiet        bool `help:"Suppress the build summary on stdout."`
}

func main() {
	kong.Parse(&cli)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	q, err := buildQuery(cfg)
	if err != nil {
		logger.Error("invalid arguments", "error", err)
		os.Exit(1)
	}

	climate := era5.NewClient(cfg, metrics, logger)
	events := stormevents.NewClient(cfg, metrics, logger)
	store := cachefile.NewStore(cfg.CacheDir, metrics, logger)

	assembler := pipeline.New(climate, events, store, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, assembler, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	result, err := assembler.GetDataset(ctx, q, cli.ForceRefresh)
	if err != nil {
		logger.Error("dataset build failed", "error", err)
		shutdown(srv, cfg.ShutdownTimeout, logger)
		os.Exit(1)
	}

	if !cli.Quiet {
		printSummary(q, result)
	}

	if cfg.KafkaEnabled() {
		writer := kafkaadapter.NewWriter(cfg, metrics, logger)
		if err := writer.PublishSamples(ctx, q, result.Samples); err != nil {
			logger.Error("publish failed", "error", err)
		}
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	if cli.Serve {
		logger.Info("serving until interrupted", "addr", cfg.HTTPAddr)
		<-ctx.Done()
	}

	shutdown(srv, cfg.ShutdownTimeout, logger)
	logger.Info("shutdown complete")
}

// buildQuery turns the CLI flags plus config defaults into a validated Query.
func buildQuery(cfg *config.Config) (domain.Query, error) {
	start, err := time.ParseInLocation(domain.DateFormat, cli.Start, time.UTC)
	if err != nil {
		return domain.Query{}, fmt.Errorf("invalid --start: %w", err)
	}
	end, err := time.ParseInLocation(domain.DateFormat, cli.End, time.UTC)
	if err != nil {
		return domain.Query{}, fmt.Errorf("invalid --end: %w", err)
	}

	r, err := domain.NewDateRange(start, end)
	if err != nil {
		return domain.Query{}, err
	}

	hour := cfg.ObservationHour
	if cli.Hour >= 0 {
		hour = cli.Hour
	}

	q := domain.Query{
		Range: r,
		Region: domain.Region{
			Name:  cli.Region,
			South: cli.South,
			North: cli.North,
			West:  cli.West,
			East:  cli.East,
		},
		Hour: hour,
	}
	return q, q.Validate()
}

func printSummary(q domain.Query, result pipeline.Result) {
	tornadoDays := 0
	for _, s := range result.Samples {
		if s.Tornado {
			tornadoDays++
		}
	}

	source := "sources"
	if result.FromCache {
		source = "cache"
	}

	fmt.Printf("%s %s..%s: %d rows (%d tornado days) from %s\n",
		q.Region.Name,
		q.Range.Start.Format(domain.DateFormat),
		q.Range.End.Format(domain.DateFormat),
		len(result.Samples), tornadoDays, source,
	)
	if result.DroppedDates > 0 {
		fmt.Printf("warning: %d date(s) dropped for lack of climate coverage\n", result.DroppedDates)
	}
	fmt.Printf("cache file: %s\n", result.CachePath)
}

func shutdown(srv *httpadapter.Server, timeout time.Duration, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
}
