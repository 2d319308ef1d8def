// Command validate runs integrity checks over a cached dataset CSV: header
// shape, date ordering, label values, and internal consistency of the derived
// feature columns. Use it to vet a cache file before handing it to a model
// run.
//
// Usage:
//
//	go run ./cmd/validate -file data_cache/kansas_20200501_20200531_a1b2c3d4.csv
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"
)

const dateFormat = "2006-01-02"

var wantHeader = []string{
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

// phase tracks pass/fail for one validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	file := flag.String("file", "", "path to a dataset cache CSV")
	flag.Parse()

	if *file == "" {
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(*file))
}

func run(path string) int {
	fmt.Println("=== Dataset Cache Validation ===")
	fmt.Println()

	rows, err := loadCSV(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateHeader(rows),
		validateDates(rows),
		validateLabels(rows),
		validateFeatures(rows),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-40s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Rows: %d data rows in %s\n", len(rows)-1, path)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func loadCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty file %s", path)
	}
	return rows, nil
}

// ── Phase 1: Header ──

func validateHeader(rows [][]string) *phase {
	p := &phase{name: "Phase 1: Header shape"}

	got := rows[0]
	if len(got) != len(wantHeader) {
		p.errorf("header has %d columns, expected %d", len(got), len(wantHeader))
		return p
	}
	for i, want := range wantHeader {
		if got[i] != want {
			p.errorf("column %d: got %q, expected %q", i, got[i], want)
		}
	}
	for i, row := range rows[1:] {
		if len(row) != len(wantHeader) {
			p.errorf("line %d: %d columns, expected %d", i+2, len(row), len(wantHeader))
		}
	}
	return p
}

// ── Phase 2: Dates ──
// Data rows must be strictly increasing calendar days with no duplicates.

func validateDates(rows [][]string) *phase {
	p := &phase{name: "Phase 2: Date ordering"}

	var prev time.Time
	for i, row := range rows[1:] {
		if len(row) == 0 {
			continue
		}
		d, err := time.ParseInLocation(dateFormat, row[0], time.UTC)
		if err != nil {
			p.errorf("line %d: unparseable date %q", i+2, row[0])
			continue
		}
		if i > 0 && !d.After(prev) {
			p.errorf("line %d: date %s not after previous %s", i+2, row[0], prev.Format(dateFormat))
		}
		prev = d
	}
	return p
}

// ── Phase 3: Labels ──

func validateLabels(rows [][]string) *phase {
	p := &phase{name: "Phase 3: Label values"}

	for i, row := range rows[1:] {
		if len(row) != len(wantHeader) {
			continue
		}
		if v := row[len(row)-1]; v != "0" && v != "1" {
			p.errorf("line %d: label %q not in {0, 1}", i+2, v)
		}
	}
	return p
}

// ── Phase 4: Derived features ──
// wind_speed and dewpoint_depression must be recomputable from the mean
// columns they derive from, to within float tolerance. NaN means no grid cell
// reported the variable that day; derived values are then NaN too.

func validateFeatures(rows [][]string) *phase {
	p := &phase{name: "Phase 4: Derived features"}

	col := map[string]int{}
	for i, h := range wantHeader {
		col[h] = i
	}

	for i, row := range rows[1:] {
		if len(row) != len(wantHeader) {
			continue
		}
		line := i + 2

		u, uOK := parseField(p, line, "mean_wind_u_10m", row[col["mean_wind_u_10m"]])
		v, vOK := parseField(p, line, "mean_wind_v_10m", row[col["mean_wind_v_10m"]])
		ws, wsOK := parseField(p, line, "wind_speed", row[col["wind_speed"]])
		if uOK && vOK && wsOK {
			checkDerived(p, line, "wind_speed", ws, math.Sqrt(u*u+v*v))
		}

		tmp, tOK := parseField(p, line, "mean_temp_2m", row[col["mean_temp_2m"]])
		dew, dOK := parseField(p, line, "mean_dewpoint_2m", row[col["mean_dewpoint_2m"]])
		dd, ddOK := parseField(p, line, "dewpoint_depression", row[col["dewpoint_depression"]])
		if tOK && dOK && ddOK {
			checkDerived(p, line, "dewpoint_depression", dd, tmp-dew)
		}
	}
	return p
}

func parseField(p *phase, line int, name, s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.errorf("line %d: %s %q is not a float", line, name, s)
		return 0, false
	}
	return v, true
}

func checkDerived(p *phase, line int, name string, got, want float64) {
	if math.IsNaN(got) && math.IsNaN(want) {
		return
	}
	if math.IsNaN(got) != math.IsNaN(want) {
		p.errorf("line %d: %s: got %g, recomputed %g", line, name, got, want)
		return
	}
	if math.Abs(got-want) > 1e-6 {
		p.errorf("line %d: %s: got %g, recomputed %g (diff %g)", line, name, got, want, math.Abs(got-want))
	}
}
