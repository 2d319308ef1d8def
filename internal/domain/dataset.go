package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateFormat is the calendar-date layout used everywhere in this service:
// cache rows, CLI flags, and archive requests.
const DateFormat = "2006-01-02"

// DateRange is an inclusive range of calendar dates. Times of day are
// ignored; both endpoints are normalized to midnight UTC.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange builds a validated range from inclusive endpoints.
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: Midnight(start), End: Midnight(end)}
	if r.End.Before(r.Start) {
		return DateRange{}, fmt.Errorf("date range end %s before start %s",
			r.End.Format(DateFormat), r.Start.Format(DateFormat))
	}
	return r, nil
}

// Days returns every date in the range, in order.
func (r DateRange) Days() []time.Time {
	var days []time.Time
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Contains reports whether the date (ignoring time of day) falls in the range.
func (r DateRange) Contains(t time.Time) bool {
	d := Midnight(t)
	return !d.Before(r.Start) && !d.After(r.End)
}

// Years returns every calendar year touched by the range, ascending.
func (r DateRange) Years() []int {
	var years []int
	for y := r.Start.Year(); y <= r.End.Year(); y++ {
		years = append(years, y)
	}
	return years
}

// Midnight truncates a time to its UTC calendar date.
func Midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Region is the study area: a display name used to match event records
// (state name, case-insensitive) and a bounding box used to subset the grid.
// Longitudes are degrees east, negative west of Greenwich.
type Region struct {
	Name  string
	South float64
	North float64
	West  float64
	East  float64
}

// Validate checks the bounding box is well-formed.
func (g Region) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return errors.New("region name is required")
	}
	if g.North <= g.South {
		return fmt.Errorf("region %s: north %.2f must exceed south %.2f", g.Name, g.North, g.South)
	}
	if g.East <= g.West {
		return fmt.Errorf("region %s: east %.2f must exceed west %.2f", g.Name, g.East, g.West)
	}
	return nil
}

// MatchesState reports whether an event-record state identifier belongs to
// this region. NOAA event files carry state names in upper case.
func (g Region) MatchesState(state string) bool {
	return strings.EqualFold(strings.TrimSpace(state), g.Name)
}

// Query identifies one dataset build: the date range, the region, and the
// UTC observation hour sampled from the grid. Two builds with equal queries
// share a cache entry.
type Query struct {
	Range  DateRange
	Region Region
	Hour   int
}

// Validate checks all query components.
func (q Query) Validate() error {
	if err := q.Region.Validate(); err != nil {
		return err
	}
	if q.Hour < 0 || q.Hour > 23 {
		return fmt.Errorf("observation hour %d out of range", q.Hour)
	}
	if q.Range.End.Before(q.Range.Start) {
		return errors.New("date range end before start")
	}
	return nil
}

// CacheKey derives the deterministic cache identity for this query.
// The human-readable prefix makes cache directories inspectable; the hash
// suffix covers the parameters the prefix omits (bounding box, hour) so any
// parameter change produces a fresh entry rather than a stale hit.
func (q Query) CacheKey() string {
	canonical := fmt.Sprintf("%s|%s|%s|%.4f|%.4f|%.4f|%.4f|%02d",
		strings.ToLower(q.Region.Name),
		q.Range.Start.Format(DateFormat), q.Range.End.Format(DateFormat),
		q.Region.South, q.Region.North, q.Region.West, q.Region.East, q.Hour)
	hash := sha256.Sum256([]byte(canonical))
	short := hex.EncodeToString(hash[:4])

	return fmt.Sprintf("%s_%s_%s_%s",
		slugify(q.Region.Name),
		q.Range.Start.Format("20060102"),
		q.Range.End.Format("20060102"),
		short)
}

func slugify(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, name)
}

// RawClimateRecord is one grid-cell observation at one timestep, as returned
// by the gridded archive. Missing variables are NaN, never zero.
type RawClimateRecord struct {
	Time            time.Time `json:"time"`
	Lat             float64   `json:"lat"`
	Lon             float64   `json:"lon"`
	CAPE            float64   `json:"cape"`
	Temp2M          float64   `json:"t2m"`
	Dewpoint2M      float64   `json:"d2m"`
	UWind10M        float64   `json:"u10"`
	VWind10M        float64   `json:"v10"`
	SurfacePressure float64   `json:"sp"`
}

// RawEventRecord is one storm-event entry from the tabular archive.
type RawEventRecord struct {
	Date      time.Time `json:"date"`
	State     string    `json:"state"`
	County    string    `json:"county"`
	EventType string    `json:"event_type"`
}

// FeatureVector holds the spatially-aggregated environment for one date:
// unweighted means over every grid cell and timestep of that date, plus the
// two derived features.
type FeatureVector struct {
	MeanCAPE            float64 `json:"mean_cape"`
	MeanTemp2M          float64 `json:"mean_temp_2m"`
	MeanDewpoint2M      float64 `json:"mean_dewpoint_2m"`
	MeanUWind10M        float64 `json:"mean_wind_u_10m"`
	MeanVWind10M        float64 `json:"mean_wind_v_10m"`
	MeanSurfacePressure float64 `json:"mean_surface_pressure"`
	WindSpeed           float64 `json:"wind_speed"`
	DewpointDepression  float64 `json:"dewpoint_depression"`
}

// Sample is one row of the assembled dataset: a date, its aggregated
// environment, and whether a tornado was recorded in the region that day.
type Sample struct {
	Date     time.Time     `json:"date"`
	Features FeatureVector `json:"features"`
	Tornado  bool          `json:"tornado"`
}
