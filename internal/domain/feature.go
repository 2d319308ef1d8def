package domain

import (
	"math"
	"sort"
	"strings"
	"time"
)

// meanAccumulator tracks a running sum that ignores NaN inputs, so a grid
// cell missing one variable still contributes its other variables.
type meanAccumulator struct {
	sum   float64
	count int
}

func (a *meanAccumulator) add(v float64) {
	if math.IsNaN(v) {
		return
	}
	a.sum += v
	a.count++
}

func (a *meanAccumulator) mean() float64 {
	if a.count == 0 {
		return math.NaN()
	}
	return a.sum / float64(a.count)
}

// dailyAccumulator collects one date's worth of grid observations.
type dailyAccumulator struct {
	cape, t2m, d2m, u10, v10, sp meanAccumulator
}

// AggregateDaily groups climate records by calendar date and computes the
// unweighted arithmetic mean of each variable across all grid cells and
// timesteps of that date. Derived features are computed from the means:
// wind speed from the mean wind components, dewpoint depression as mean
// temperature minus mean dewpoint.
func AggregateDaily(records []RawClimateRecord) map[time.Time]FeatureVector {
	acc := make(map[time.Time]*dailyAccumulator)
	for _, rec := range records {
		day := Midnight(rec.Time)
		a, ok := acc[day]
		if !ok {
			a = &dailyAccumulator{}
			acc[day] = a
		}
		a.cape.add(rec.CAPE)
		a.t2m.add(rec.Temp2M)
		a.d2m.add(rec.Dewpoint2M)
		a.u10.add(rec.UWind10M)
		a.v10.add(rec.VWind10M)
		a.sp.add(rec.SurfacePressure)
	}

	features := make(map[time.Time]FeatureVector, len(acc))
	for day, a := range acc {
		fv := FeatureVector{
			MeanCAPE:            a.cape.mean(),
			MeanTemp2M:          a.t2m.mean(),
			MeanDewpoint2M:      a.d2m.mean(),
			MeanUWind10M:        a.u10.mean(),
			MeanVWind10M:        a.v10.mean(),
			MeanSurfacePressure: a.sp.mean(),
		}
		fv.WindSpeed = WindSpeed(fv.MeanUWind10M, fv.MeanVWind10M)
		fv.DewpointDepression = DewpointDepression(fv.MeanTemp2M, fv.MeanDewpoint2M)
		features[day] = fv
	}
	return features
}

// WindSpeed is the magnitude of the horizontal wind vector.
func WindSpeed(u, v float64) float64 {
	return math.Sqrt(u*u + v*v)
}

// DewpointDepression is temperature minus dewpoint, a proxy for near-surface
// moisture deficit. Near zero means saturated air.
func DewpointDepression(temp, dewpoint float64) float64 {
	return temp - dewpoint
}

// LabelDates returns the set of dates within the range on which at least one
// tornado event was recorded inside the region. Events outside the range or
// region never label; duplicate events on one date label it once.
func LabelDates(events []RawEventRecord, dateRange DateRange, region Region) map[time.Time]bool {
	labels := make(map[time.Time]bool)
	for _, ev := range events {
		if !IsTornado(ev.EventType) {
			continue
		}
		if !region.MatchesState(ev.State) {
			continue
		}
		if !dateRange.Contains(ev.Date) {
			continue
		}
		labels[Midnight(ev.Date)] = true
	}
	return labels
}

// IsTornado reports whether an archive event type counts as a tornado for
// labeling. The NOAA files use "Tornado"; casing varies across vintages.
func IsTornado(eventType string) bool {
	return strings.EqualFold(strings.TrimSpace(eventType), "Tornado")
}

// MergeSamples joins the feature map and label set into one Sample per date
// in the range, in strict date order. Dates with no climate data are dropped
// rather than emitted with empty features; the count of dropped dates is
// returned so the caller can report the gap instead of losing it silently.
func MergeSamples(features map[time.Time]FeatureVector, labels map[time.Time]bool, dateRange DateRange) ([]Sample, int) {
	days := dateRange.Days()
	samples := make([]Sample, 0, len(days))
	dropped := 0

	for _, day := range days {
		fv, ok := features[day]
		if !ok {
			dropped++
			continue
		}
		samples = append(samples, Sample{
			Date:     day,
			Features: fv,
			Tornado:  labels[day],
		})
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].Date.Before(samples[j].Date) })
	return samples, dropped
}
