// Package domain models the tornado-day dataset: raw records from the two
// remote archives, the per-date feature rows assembled from them, and the
// pure functions that aggregate, label, and merge.
//
// # Data Sources
//
// Climate fields come from an ERA5-style gridded reanalysis archive exposed
// over HTTP. Each request subsets one calendar day to the study bounding box
// and a single UTC observation hour (18 UTC by default, peak afternoon
// instability over the US plains). Variables per grid cell:
//
//	cape  Convective Available Potential Energy (J/kg)
//	t2m   2-meter temperature (K)
//	d2m   2-meter dewpoint (K)
//	u10   10-meter zonal wind (m/s)
//	v10   10-meter meridional wind (m/s)
//	sp    surface pressure (Pa)
//
// A variable missing from a grid cell is NaN, never zero; means skip NaN
// inputs per field.
//
// # Storm Events
//
// Tornado occurrences come from NOAA Storm Events-style yearly CSV files
// (gzipped, one file per calendar year). Records are matched to the study
// region by state name, case-insensitively, and to the event type "Tornado".
//
// # Assembled Rows
//
// One Sample per calendar date: unweighted arithmetic means of the six
// variables over all grid cells of that date, two derived features
// (wind speed = sqrt(u²+v²), dewpoint depression = t2m − d2m), and a binary
// label: did any tornado event occur in the region that date. Dates with no
// climate coverage at all are dropped and counted, not emitted empty.
//
// # Cache Identity
//
// A dataset build is identified by (date range, region bounding box, region
// name, observation hour). Query.CacheKey hashes the canonical form of those
// parameters into a short deterministic suffix, so a changed parameter makes
// a new cache entry instead of silently reusing a stale one.
package domain
