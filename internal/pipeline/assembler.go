// Package pipeline assembles the labeled dataset: it owns the cache-or-fetch
// decision, joins the two remote sources, and hands the finished table back
// to the caller. Nothing else in the service talks to the remote archives.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/tornado-dataset-etl/internal/domain"
	"github.com/couchcryptid/tornado-dataset-etl/internal/observability"
)

// ClimateFetcher pulls grid-cell observations for a query.
type ClimateFetcher interface {
	FetchRange(ctx context.Context, q domain.Query) ([]domain.RawClimateRecord, int, error)
}

// EventFetcher pulls storm-event records for a query.
type EventFetcher interface {
	FetchRange(ctx context.Context, q domain.Query) ([]domain.RawEventRecord, error)
}

// CacheStore persists assembled datasets between runs.
type CacheStore interface {
	Load(key string) ([]domain.Sample, bool)
	Save(key string, samples []domain.Sample) error
	Path(key string) string
}

// Result is one assembled dataset plus its coverage report. DroppedDates is
// the number of dates excluded for lack of climate data; the caller decides
// whether a partial dataset is acceptable.
type Result struct {
	Samples      []domain.Sample
	DroppedDates int
	MissingDays  int
	FromCache    bool
	CachePath    string
}

// Assembler orchestrates cache, fetch, and merge.
type Assembler struct {
	climate ClimateFetcher
	events  EventFetcher
	cache   CacheStore
	logger  *slog.Logger
	metrics *observability.Metrics
	ready   atomic.Bool
}

// New creates an Assembler with the given stages and observability.
func New(climate ClimateFetcher, events EventFetcher, cache CacheStore, logger *slog.Logger, metrics *observability.Metrics) *Assembler {
	return &Assembler{
		climate: climate,
		events:  events,
		cache:   cache,
		logger:  logger,
		metrics: metrics,
	}
}

// CheckReadiness returns nil once a dataset has been assembled or loaded.
func (a *Assembler) CheckReadiness(_ context.Context) error {
	if !a.ready.Load() {
		return errors.New("no dataset assembled yet")
	}
	return nil
}

// GetDataset returns the labeled table for a query. Unless forceRefresh is
// set, a usable cache entry short-circuits all network access; repeated calls
// with identical arguments return identical rows. On a miss the two sources
// are fetched concurrently, merged, written back to the cache, and returned.
func (a *Assembler) GetDataset(ctx context.Context, q domain.Query, forceRefresh bool) (Result, error) {
	if err := q.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid query: %w", err)
	}

	key := q.CacheKey()

	if !forceRefresh {
		if samples, ok := a.cache.Load(key); ok {
			a.logger.Info("dataset loaded from cache", "key", key, "rows", len(samples))
			a.markReady()
			return Result{Samples: samples, FromCache: true, CachePath: a.cache.Path(key)}, nil
		}
	}

	start := time.Now()
	climateRecs, missingDays, eventRecs, err := a.fetchBoth(ctx, q)
	if err != nil {
		return Result{}, err
	}

	features := domain.AggregateDaily(climateRecs)
	labels := domain.LabelDates(eventRecs, q.Range, q.Region)
	samples, dropped := domain.MergeSamples(features, labels, q.Range)

	a.metrics.SamplesBuilt.Add(float64(len(samples)))
	a.metrics.DroppedDates.Add(float64(dropped))
	a.metrics.AssemblyDuration.Observe(time.Since(start).Seconds())

	if dropped > 0 {
		a.logger.Warn("dates dropped for lack of climate coverage",
			"dropped", dropped,
			"missing_days", missingDays,
			"range_start", q.Range.Start.Format(domain.DateFormat),
			"range_end", q.Range.End.Format(domain.DateFormat),
		)
	}

	if err := a.cache.Save(key, samples); err != nil {
		return Result{}, fmt.Errorf("persist dataset: %w", err)
	}

	a.logger.Info("dataset assembled",
		"key", key,
		"rows", len(samples),
		"tornado_days", countTornadoDays(samples),
		"dropped", dropped,
	)
	a.markReady()

	return Result{
		Samples:      samples,
		DroppedDates: dropped,
		MissingDays:  missingDays,
		CachePath:    a.cache.Path(key),
	}, nil
}

// fetchBoth runs the two independent source fetches concurrently and joins
// them; the fetches share no state, and nothing downstream starts until both
// have finished. The climate error wins when both fail.
func (a *Assembler) fetchBoth(ctx context.Context, q domain.Query) ([]domain.RawClimateRecord, int, []domain.RawEventRecord, error) {
	var (
		wg sync.WaitGroup

		climateRecs []domain.RawClimateRecord
		missingDays int
		climateErr  error

		eventRecs []domain.RawEventRecord
		eventErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		climateRecs, missingDays, climateErr = a.climate.FetchRange(ctx, q)
	}()
	go func() {
		defer wg.Done()
		eventRecs, eventErr = a.events.FetchRange(ctx, q)
	}()
	wg.Wait()

	if climateErr != nil {
		return nil, 0, nil, fmt.Errorf("fetch climate: %w", climateErr)
	}
	if eventErr != nil {
		return nil, 0, nil, fmt.Errorf("fetch events: %w", eventErr)
	}
	return climateRecs, missingDays, eventRecs, nil
}

func (a *Assembler) markReady() {
	a.ready.Store(true)
	a.metrics.DatasetReady.Set(1)
}

func countTornadoDays(samples []domain.Sample) int {
	n := 0
	for _, s := range samples {
		if s.Tornado {
			n++
		}
	}
	return n
}
