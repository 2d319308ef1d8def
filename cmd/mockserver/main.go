// Command mockserver serves deterministic stand-ins for the two remote
// archives, for local development without network access to the real sources.
// The same date, hour, and bounding box always produce the same response, so
// cache keys and assembled datasets are reproducible across runs.
//
// Routes:
//
//	GET /era5/grid.json?date=&hour=&north=&south=&west=&east=
//	GET /stormevents/StormEvents_details_{year}.csv.gz
package main

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/binary"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

const gridStep = 0.5

func main() {
	addr := ":8081"
	if v := os.Getenv("MOCK_ADDR"); v != "" {
		addr = v
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	r := mux.NewRouter()
	r.HandleFunc("/era5/grid.json", handleGrid(logger)).Methods(http.MethodGet)
	r.HandleFunc("/stormevents/StormEvents_details_{year:[0-9]{4}}.csv.gz", handleEvents(logger)).Methods(http.MethodGet)

	logger.Info("mock archives listening", "addr", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// gridCell mirrors the climate archive's subset response rows.
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

func handleGrid(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qs := r.URL.Query()

		day, err := time.ParseInLocation("2006-01-02", qs.Get("date"), time.UTC)
		if err != nil {
			http.Error(w, "invalid date", http.StatusBadRequest)
			return
		}
		hour, err := strconv.Atoi(qs.Get("hour"))
		if err != nil || hour < 0 || hour > 23 {
			http.Error(w, "invalid hour", http.StatusBadRequest)
			return
		}
		south, north, west, east, err := parseBBox(qs)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		// Every 13th day is absent from the archive, so the builder's
		// missing-day handling is exercised locally.
		if day.YearDay()%13 == 0 {
			http.NotFound(w, r)
			return
		}

		ts := day.Add(time.Duration(hour) * time.Hour).Format(time.RFC3339)
		var cells []gridCell
		for lat := south; lat <= north; lat += gridStep {
			for lon := west; lon <= east; lon += gridStep {
				cells = append(cells, synthCell(ts, day, lat, lon))
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{"records": cells}); err != nil {
			logger.Error("encode grid response", "error", err)
		}
	}
}

// synthCell derives plausible field values from a hash of date and position.
// One cell in sixteen reports CAPE as missing.
func synthCell(ts string, day time.Time, lat, lon float64) gridCell {
	h := cellHash(day, lat, lon)

	cape := float64(h%4000) + 100
	temp := 285 + float64(h%20)
	dew := temp - 2 - float64((h>>8)%15)
	u := float64(int64(h>>16)%21) - 10
	v := float64(int64(h>>24)%21) - 10
	sp := 95000 + float64(h%4000)

	cell := gridCell{
		Time: ts, Lat: lat, Lon: lon,
		CAPE: &cape, Temp2M: &temp, Dewpoint2M: &dew,
		UWind10M: &u, VWind10M: &v, SurfacePressure: &sp,
	}
	if h%16 == 0 {
		cell.CAPE = nil
	}
	return cell
}

func cellHash(day time.Time, lat, lon float64) uint64 {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%.4f|%.4f", day.Format("2006-01-02"), lat, lon)))
	return binary.BigEndian.Uint64(sum[:8])
}

func parseBBox(qs map[string][]string) (south, north, west, east float64, err error) {
	get := func(key string) (float64, error) {
		vs := qs[key]
		if len(vs) == 0 {
			return 0, fmt.Errorf("missing %s", key)
		}
		return strconv.ParseFloat(vs[0], 64)
	}
	if south, err = get("south"); err != nil {
		return
	}
	if north, err = get("north"); err != nil {
		return
	}
	if west, err = get("west"); err != nil {
		return
	}
	if east, err = get("east"); err != nil {
		return
	}
	if south >= north || west >= east {
		err = fmt.Errorf("degenerate bounding box")
	}
	return
}

// handleEvents streams a year of synthetic storm events as gzipped CSV in the
// bulk-file layout the events client expects. Kansas gets a tornado roughly
// every fifth day; hail rows are mixed in so filtering is exercised.
func handleEvents(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		year, err := strconv.Atoi(mux.Vars(r)["year"])
		if err != nil || year < 1950 || year > time.Now().Year() {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/gzip")
		gz := gzip.NewWriter(w)
		cw := csv.NewWriter(gz)

		if err := writeEventRows(cw, year); err != nil {
			logger.Error("write event rows", "error", err, "year", year)
			return
		}

		cw.Flush()
		if err := gz.Close(); err != nil {
			logger.Error("close gzip stream", "error", err)
		}
	}
}

func writeEventRows(cw *csv.Writer, year int) error {
	if err := cw.Write([]string{"BEGIN_YEARMONTH", "BEGIN_DAY", "STATE", "CZ_NAME", "EVENT_TYPE"}); err != nil {
		return err
	}

	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	for d := start; d.Year() == year; d = d.AddDate(0, 0, 1) {
		ym := d.Format("200601")
		dd := strconv.Itoa(d.Day())

		if d.YearDay()%5 == 2 {
			if err := cw.Write([]string{ym, dd, "KANSAS", "SEDGWICK", "Tornado"}); err != nil {
				return err
			}
		}
		if d.YearDay()%3 == 0 {
			if err := cw.Write([]string{ym, dd, "KANSAS", "RENO", "Hail"}); err != nil {
				return err
			}
		}
		if d.YearDay()%7 == 4 {
			if err := cw.Write([]string{ym, dd, "OKLAHOMA", "TULSA", "Tornado"}); err != nil {
				return err
			}
		}
	}
	return nil
}
