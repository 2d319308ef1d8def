// Package era5 fetches gridded reanalysis fields from an ERA5-style archive
// over HTTP. The archive is treated as an opaque read-only query interface:
// one subset request per calendar day, bounded to the study region and a
// single UTC observation hour.
package era5

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/tornado-dataset-etl/internal/config"
	"github.com/couchcryptid/tornado-dataset-etl/internal/domain"
	"github.com/couchcryptid/tornado-dataset-etl/internal/observability"
)

const maxBackoff = 5 * time.Second

// Client queries the gridded climate archive.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retries    int
	backoff    time.Duration
	clock      clockwork.Clock
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a climate archive client from service config.
func NewClient(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		baseURL: cfg.ClimateBaseURL,
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

// FetchRange retrieves every grid-cell observation for the query, one request
// per calendar day. Days the archive does not hold (HTTP 404) are skipped and
// counted rather than failing the whole range. Returns the records and the
// number of absent days.
func (c *Client) FetchRange(ctx context.Context, q domain.Query) ([]domain.RawClimateRecord, int, error) {
	var records []domain.RawClimateRecord
	absent := 0

	for _, day := range q.Range.Days() {
		recs, ok, err := c.fetchDay(ctx, day, q)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			absent++
			c.logger.Warn("climate archive has no data for day", "date", day.Format(domain.DateFormat))
			continue
		}
		records = append(records, recs...)
	}

	return records, absent, nil
}

// fetchDay requests one day's subset with bounded retries. The second return
// is false when the archive holds no data for that day.
func (c *Client) fetchDay(ctx context.Context, day time.Time, q domain.Query) ([]domain.RawClimateRecord, bool, error) {
	params := url.Values{
		"date":  {day.Format(domain.DateFormat)},
		"hour":  {fmt.Sprintf("%d", q.Hour)},
		"north": {fmt.Sprintf("%.4f", q.Region.North)},
		"south": {fmt.Sprintf("%.4f", q.Region.South)},
		"west":  {fmt.Sprintf("%.4f", q.Region.West)},
		"east":  {fmt.Sprintf("%.4f", q.Region.East)},
	}
	fullURL := c.baseURL + "/grid.json?" + params.Encode()

	backoff := c.backoff
	var lastErr error

	for attempt := 1; attempt <= c.retries; attempt++ {
		recs, found, err := c.doRequest(ctx, fullURL)
		if err == nil {
			if !found {
				c.metrics.FetchRequests.WithLabelValues("climate", "absent").Inc()
				return nil, false, nil
			}
			c.metrics.FetchRequests.WithLabelValues("climate", "success").Inc()
			return recs, true, nil
		}
		if errors.Is(err, domain.ErrSourceFormat) {
			c.metrics.FetchRequests.WithLabelValues("climate", "error").Inc()
			return nil, false, err
		}

		lastErr = err
		if attempt < c.retries {
			c.metrics.FetchRequests.WithLabelValues("climate", "retry").Inc()
			c.logger.Warn("climate fetch failed, retrying",
				"date", day.Format(domain.DateFormat),
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

	c.metrics.FetchRequests.WithLabelValues("climate", "error").Inc()
	return nil, false, fmt.Errorf("climate archive, %d attempts: %w: %w", c.retries, domain.ErrSourceUnavailable, lastErr)
}

// doRequest performs one HTTP request. The middle return is false when the
// archive answered 404 for the day.
func (c *Client) doRequest(ctx context.Context, fullURL string) ([]domain.RawClimateRecord, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}

	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("climate archive request: %w", err)
	}
	defer resp.Body.Close()
	c.metrics.FetchDuration.WithLabelValues("climate").Observe(c.clock.Since(start).Seconds())

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, nil
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, fmt.Errorf("climate archive status %d: %s", resp.StatusCode, body)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, fmt.Errorf("%w: climate archive status %d: %s", domain.ErrSourceFormat, resp.StatusCode, body)
	}

	var gridResp response
	if err := json.NewDecoder(resp.Body).Decode(&gridResp); err != nil {
		return nil, false, fmt.Errorf("%w: decode grid response: %v", domain.ErrSourceFormat, err)
	}

	records := make([]domain.RawClimateRecord, 0, len(gridResp.Records))
	for _, cell := range gridResp.Records {
		t, err := time.Parse(time.RFC3339, cell.Time)
		if err != nil {
			return nil, false, fmt.Errorf("%w: grid cell time %q: %v", domain.ErrSourceFormat, cell.Time, err)
		}
		records = append(records, domain.RawClimateRecord{
			Time:            t,
			Lat:             cell.Lat,
			Lon:             cell.Lon,
			CAPE:            floatOrNaN(cell.CAPE),
			Temp2M:          floatOrNaN(cell.Temp2M),
			Dewpoint2M:      floatOrNaN(cell.Dewpoint2M),
			UWind10M:        floatOrNaN(cell.UWind10M),
			VWind10M:        floatOrNaN(cell.VWind10M),
			SurfacePressure: floatOrNaN(cell.SurfacePressure),
		})
	}
	return records, true, nil
}

// floatOrNaN maps a missing (null or absent) variable to NaN so downstream
// means can exclude it instead of treating it as zero.
func floatOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
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

// Archive response types.

type response struct {
	Records []gridCell `json:"records"`
}

type gridCell struct {
	Time            string   `json:"time"`
	Lat             float64  `json:"lat"`
	Lon             float64  `json:"lon"`
	CAPE            *float64 `json:"cape"`
	Temp2M          *float64 `json:"t2m"`
	Dewpoint2M      *float64 `json:"d2m"`
	UWind10M        *float64 `json:"u10"`
	VWind10M        *float64 `json:"v10"`
	SurfacePressure *float64 `json:"sp"`
}
