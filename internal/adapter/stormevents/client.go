// Package stormevents fetches historical storm-event records from a NOAA
// Storm Events-style archive: one gzipped CSV file per calendar year,
// filtered client-side to tornado events in the study region.
package stormevents

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/tornado-dataset-etl/internal/config"
	"github.com/couchcryptid/tornado-dataset-etl/internal/domain"
	"github.com/couchcryptid/tornado-dataset-etl/internal/observability"
)

const maxBackoff = 5 * time.Second

// Columns this client needs from the yearly detail files. Archive vintages
// add and reorder columns, so rows are addressed by header name, never by
// position.
const (
	colYearMonth = "BEGIN_YEARMONTH"
	colDay       = "BEGIN_DAY"
	colState     = "STATE"
	colCounty    = "CZ_NAME"
	colEventType = "EVENT_TYPE"
)

// Client queries the tabular storm-event archive.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retries    int
	backoff    time.Duration
	clock      clockwork.Clock
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an event archive client from service config.
func NewClient(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		baseURL: cfg.EventsBaseURL,
		httpClient: &http.Client{
			Timeout: cfg.FetchTimeout,
		},
		retries: cfg.FetchRetries,
		backoff: cfg.FetchBackoff,
		clock:   clockwork.NewRealClock(),
		metrics: metrics,
		logger:  logger,
	}
}

// SetClock swaps the retry-sleep time source. Tests inject a fake clock.
func (c *Client) SetClock(clock clockwork.Clock) {
	c.clock = clock
}

// FetchRange downloads the yearly file for every year the range touches and
// returns the tornado events recorded in the query's region. A year the
// archive does not hold (HTTP 404) is skipped with a warning; the labeler
// treats its dates as tornado-free.
func (c *Client) FetchRange(ctx context.Context, q domain.Query) ([]domain.RawEventRecord, error) {
	var events []domain.RawEventRecord

	for _, year := range q.Range.Years() {
		recs, ok, err := c.fetchYear(ctx, year, q.Region)
		if err != nil {
			return nil, err
		}
		if !ok {
			c.logger.Warn("event archive has no file for year", "year", year)
			continue
		}
		events = append(events, recs...)
	}

	return events, nil
}

// fetchYear downloads and parses one yearly file with bounded retries.
// The second return is false when the archive holds no file for that year.
func (c *Client) fetchYear(ctx context.Context, year int, region domain.Region) ([]domain.RawEventRecord, bool, error) {
	fullURL := fmt.Sprintf("%s/StormEvents_details_%d.csv.gz", c.baseURL, year)

	backoff := c.backoff
	var lastErr error

	for attempt := 1; attempt <= c.retries; attempt++ {
		recs, found, err := c.doRequest(ctx, fullURL, region)
		if err == nil {
			if !found {
				c.metrics.FetchRequests.WithLabelValues("events", "absent").Inc()
				return nil, false, nil
			}
			c.metrics.FetchRequests.WithLabelValues("events", "success").Inc()
			return recs, true, nil
		}
		if errors.Is(err, domain.ErrSourceFormat) {
			c.metrics.FetchRequests.WithLabelValues("events", "error").Inc()
			return nil, false, err
		}

		lastErr = err
		if attempt < c.retries {
			c.metrics.FetchRequests.WithLabelValues("events", "retry").Inc()
			c.logger.Warn("event fetch failed, retrying",
				"year", year,
				"attempt", attempt,
				"backoff", backoff,
				"error", err,
			)
			if !sleepWithClock(ctx, c.clock, backoff) {
				return nil, false, ctx.Err()
			}
			backoff = nextBackoff(backoff, maxBackoff)
		}
	}

	c.metrics.FetchRequests.WithLabelValues("events", "error").Inc()
	return nil, false, fmt.Errorf("event archive year %d, %d attempts: %w: %w", year, c.retries, domain.ErrSourceUnavailable, lastErr)
}

func (c *Client) doRequest(ctx context.Context, fullURL string, region domain.Region) ([]domain.RawEventRecord, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}

	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("event archive request: %w", err)
	}
	defer resp.Body.Close()
	c.metrics.FetchDuration.WithLabelValues("events").Observe(c.clock.Since(start).Seconds())

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decompress and parse
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, nil
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, fmt.Errorf("event archive status %d: %s", resp.StatusCode, body)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, fmt.Errorf("%w: event archive status %d: %s", domain.ErrSourceFormat, resp.StatusCode, body)
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("%w: event file is not gzip: %v", domain.ErrSourceFormat, err)
	}
	defer gz.Close()

	recs, err := parseEvents(gz, region)
	if err != nil {
		return nil, false, err
	}
	return recs, true, nil
}

// parseEvents reads the yearly CSV and keeps tornado events in the region.
func parseEvents(r io.Reader, region domain.Region) ([]domain.RawEventRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // some vintages pad trailing columns

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read event header: %v", domain.ErrSourceFormat, err)
	}

	colIdx := make(map[string]int, len(header))
	for i, h := range header {
		colIdx[strings.TrimSpace(h)] = i
	}
	for _, col := range []string{colYearMonth, colDay, colState, colEventType} {
		if _, ok := colIdx[col]; !ok {
			return nil, fmt.Errorf("%w: event file missing column %q", domain.ErrSourceFormat, col)
		}
	}

	var events []domain.RawEventRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read event row: %v", domain.ErrSourceFormat, err)
		}

		eventType := get(row, colIdx, colEventType)
		if !domain.IsTornado(eventType) {
			continue
		}
		state := get(row, colIdx, colState)
		if !region.MatchesState(state) {
			continue
		}

		date, err := parseEventDate(get(row, colIdx, colYearMonth), get(row, colIdx, colDay))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrSourceFormat, err)
		}

		events = append(events, domain.RawEventRecord{
			Date:      date,
			State:     state,
			County:    get(row, colIdx, colCounty),
			EventType: eventType,
		})
	}

	return events, nil
}

// parseEventDate combines the yyyymm and day-of-month columns.
func parseEventDate(yearMonth, day string) (time.Time, error) {
	yearMonth = strings.TrimSpace(yearMonth)
	if len(yearMonth) != 6 {
		return time.Time{}, fmt.Errorf("event yearmonth %q: want YYYYMM", yearMonth)
	}
	year, err := strconv.Atoi(yearMonth[:4])
	if err != nil {
		return time.Time{}, fmt.Errorf("event year %q: %v", yearMonth[:4], err)
	}
	month, err := strconv.Atoi(yearMonth[4:])
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("event month %q out of range", yearMonth[4:])
	}
	d, err := strconv.Atoi(strings.TrimSpace(day))
	if err != nil || d < 1 || d > 31 {
		return time.Time{}, fmt.Errorf("event day %q out of range", day)
	}
	return time.Date(year, time.Month(month), d, 0, 0, 0, 0, time.UTC), nil
}

func get(row []string, idx map[string]int, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

func sleepWithClock(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-clock.After(d):
		return true
	}
}
