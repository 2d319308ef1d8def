// Package cachefile persists assembled datasets as plain CSV files, one file
// per cache key. The format is deliberately human-inspectable: the cached
// table is exactly the table downstream model evaluation consumes.
package cachefile

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/couchcryptid/tornado-dataset-etl/internal/domain"
	"github.com/couchcryptid/tornado-dataset-etl/internal/observability"
)

// header is the cache file's column order. Round-trip invariant: every row
// written by Save parses back into an equivalent Sample.
var header = []string{
	"date",
	"mean_cape",
	"mean_temp_2m",
	"mean_dewpoint_2m",
	"mean_wind_u_10m",
	"mean_wind_v_10m",
	"mean_surface_pressure",
	"wind_speed",
	"dewpoint_depression",
	"tornado",
}

// Store reads and writes dataset cache files under a single directory.
type Store struct {
	dir     string
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewStore creates a cache store rooted at dir. The directory is created on
// the first Save, not here.
func NewStore(dir string, metrics *observability.Metrics, logger *slog.Logger) *Store {
	return &Store{dir: dir, metrics: metrics, logger: logger}
}

// Path returns the cache file path for a key.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, key+".csv")
}

// Load returns the cached samples for a key, or (nil, false) when no usable
// cache exists. A corrupt or truncated file is treated as absent: the caller
// regenerates, and the next Save replaces the bad file. Corruption is never
// an error here.
func (s *Store) Load(key string) ([]domain.Sample, bool) {
	path := s.Path(key)

	f, err := os.Open(path)
	if err != nil {
		s.metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	defer f.Close()

	samples, err := readSamples(f)
	if err != nil {
		s.metrics.CacheLookups.WithLabelValues("corrupt").Inc()
		s.logger.Warn("cache file unreadable, regenerating", "path", path, "error", err)
		return nil, false
	}

	s.metrics.CacheLookups.WithLabelValues("hit").Inc()
	return samples, true
}

// Save writes the samples atomically: the full file is written to a temp
// name in the same directory, synced, then renamed over the final path, so a
// crash mid-write never leaves a partial file visible to the next Load.
func (s *Store) Save(key string, samples []domain.Sample) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	path := s.Path(key)
	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name()) // no-op after successful rename
	}()

	if err := writeSamples(tmp, samples); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename cache file: %w", err)
	}

	s.logger.Info("cache file written", "path", path, "rows", len(samples))
	return nil
}

func writeSamples(w io.Writer, samples []domain.Sample) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(header); err != nil {
		return err
	}
	for _, sample := range samples {
		if err := cw.Write(formatRow(sample)); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatRow(s domain.Sample) []string {
	label := "0"
	if s.Tornado {
		label = "1"
	}
	return []string{
		s.Date.Format(domain.DateFormat),
		formatFloat(s.Features.MeanCAPE),
		formatFloat(s.Features.MeanTemp2M),
		formatFloat(s.Features.MeanDewpoint2M),
		formatFloat(s.Features.MeanUWind10M),
		formatFloat(s.Features.MeanVWind10M),
		formatFloat(s.Features.MeanSurfacePressure),
		formatFloat(s.Features.WindSpeed),
		formatFloat(s.Features.DewpointDepression),
		label,
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func readSamples(r io.Reader) ([]domain.Sample, error) {
	cr := csv.NewReader(r)

	got, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(got) != len(header) {
		return nil, fmt.Errorf("header has %d columns, want %d", len(got), len(header))
	}
	for i, name := range header {
		if got[i] != name {
			return nil, fmt.Errorf("header column %d is %q, want %q", i, got[i], name)
		}
	}

	var samples []domain.Sample
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		sample, err := parseRow(row)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}

	return samples, nil
}

func parseRow(row []string) (domain.Sample, error) {
	if len(row) != len(header) {
		return domain.Sample{}, fmt.Errorf("row has %d columns, want %d", len(row), len(header))
	}

	date, err := time.Parse(domain.DateFormat, row[0])
	if err != nil {
		return domain.Sample{}, fmt.Errorf("row date %q: %w", row[0], err)
	}

	var fields [8]float64
	for i := range fields {
		fields[i], err = strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return domain.Sample{}, fmt.Errorf("row %s column %s: %w", row[0], header[i+1], err)
		}
	}

	var tornado bool
	switch row[9] {
	case "0":
	case "1":
		tornado = true
	default:
		return domain.Sample{}, fmt.Errorf("row %s label %q: want 0 or 1", row[0], row[9])
	}

	return domain.Sample{
		Date: date,
		Features: domain.FeatureVector{
			MeanCAPE:            fields[0],
			MeanTemp2M:          fields[1],
			MeanDewpoint2M:      fields[2],
			MeanUWind10M:        fields[3],
			MeanVWind10M:        fields[4],
			MeanSurfacePressure: fields[5],
			WindSpeed:           fields[6],
			DewpointDepression:  fields[7],
		},
		Tornado: tornado,
	}, nil
}
