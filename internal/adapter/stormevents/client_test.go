package stormevents

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/tornado-dataset-etl/internal/domain"
	"github.com/couchcryptid/tornado-dataset-etl/internal/observability"
)

var kansas = domain.Region{Name: "Kansas", South: 37.0, North: 40.0, West: -102.0, East: -94.6}

var testQuery = domain.Query{
	Range: domain.DateRange{
		Start: time.Date(2020, time.May, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2020, time.May, 3, 0, 0, 0, 0, time.UTC),
	},
	Region: kansas,
	Hour:   18,
}

const eventsCSV = `BEGIN_YEARMONTH,BEGIN_DAY,STATE,CZ_NAME,EVENT_TYPE
202005,2,KANSAS,SEDGWICK,Tornado
202005,2,KANSAS,RENO,Tornado
202005,3,OKLAHOMA,TULSA,Tornado
202005,3,KANSAS,SEDGWICK,Hail
202006,10,KANSAS,ELLIS,Tornado
`

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func testClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		retries:    3,
		backoff:    0,
		clock:      clockwork.NewRealClock(),
		metrics:    observability.NewMetricsForTesting(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestFetchRange_FiltersTornadoesInRegion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/StormEvents_details_2020.csv.gz", r.URL.Path)
		_, _ = w.Write(gzipped(t, eventsCSV))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	events, err := c.FetchRange(context.Background(), testQuery)
	require.NoError(t, err)

	// Two Kansas tornadoes on 05-02, one on 06-10; the Oklahoma tornado and
	// the Kansas hail report are filtered out.
	require.Len(t, events, 3)
	assert.Equal(t, time.Date(2020, time.May, 2, 0, 0, 0, 0, time.UTC), events[0].Date)
	assert.Equal(t, "KANSAS", events[0].State)
	assert.Equal(t, "SEDGWICK", events[0].County)
	assert.Equal(t, "Tornado", events[0].EventType)
}

func TestFetchRange_OneRequestPerYear(t *testing.T) {
	var years []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		years = append(years, r.URL.Path)
		_, _ = w.Write(gzipped(t, "BEGIN_YEARMONTH,BEGIN_DAY,STATE,CZ_NAME,EVENT_TYPE\n"))
	}))
	defer srv.Close()

	q := testQuery
	q.Range.Start = time.Date(2019, time.December, 30, 0, 0, 0, 0, time.UTC)

	c := testClient(srv.URL)
	_, err := c.FetchRange(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/StormEvents_details_2019.csv.gz",
		"/StormEvents_details_2020.csv.gz",
	}, years)
}

func TestFetchRange_MissingYearSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "2019") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(gzipped(t, eventsCSV))
	}))
	defer srv.Close()

	q := testQuery
	q.Range.Start = time.Date(2019, time.December, 30, 0, 0, 0, 0, time.UTC)

	c := testClient(srv.URL)
	events, err := c.FetchRange(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestFetchRange_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write(gzipped(t, eventsCSV))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	events, err := c.FetchRange(context.Background(), testQuery)
	require.NoError(t, err)
	assert.Len(t, events, 3)
	assert.Equal(t, int64(2), calls.Load())
}

func TestFetchRange_UnavailableAfterRetries(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.FetchRange(context.Background(), testQuery)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.Equal(t, int64(3), calls.Load())
}

func TestFetchRange_NotGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("plain text, not gzip"))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.FetchRange(context.Background(), testQuery)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSourceFormat)
}

func TestFetchRange_MissingColumn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(gzipped(t, "BEGIN_YEARMONTH,BEGIN_DAY,STATE\n202005,2,KANSAS\n"))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.FetchRange(context.Background(), testQuery)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSourceFormat)
	assert.Contains(t, err.Error(), "EVENT_TYPE")
}

func TestParseEventDate(t *testing.T) {
	cases := []struct {
		name      string
		yearMonth string
		day       string
		wantErr   bool
	}{
		{name: "valid", yearMonth: "202005", day: "2"},
		{name: "short yearmonth", yearMonth: "2020", day: "2", wantErr: true},
		{name: "bad month", yearMonth: "202013", day: "2", wantErr: true},
		{name: "bad day", yearMonth: "202005", day: "32", wantErr: true},
		{name: "non-numeric day", yearMonth: "202005", day: "x", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := parseEventDate(tc.yearMonth, tc.day)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, time.Date(2020, time.May, 2, 0, 0, 0, 0, time.UTC), d)
		})
	}
}
