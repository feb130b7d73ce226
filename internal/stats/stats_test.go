package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudscope/fraudscope/internal/snapshot"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var allColumns = []string{
	snapshot.ColumnHourOfDay, snapshot.ColumnDeviceID,
	snapshot.ColumnBrowser, snapshot.ColumnCountry,
}

func newEngine(t *testing.T, records []snapshot.Record, columns ...string) *Engine {
	t.Helper()
	s, err := snapshot.New(records, columns...)
	require.NoError(t, err)
	return NewEngine(s)
}

// fourRecords is the reference dataset: three fraud cases, one legitimate.
func fourRecords() []snapshot.Record {
	return []snapshot.Record{
		{Class: 1, HourOfDay: 10, DeviceID: "D1", Browser: "Chrome", Country: "US"},
		{Class: 0, HourOfDay: 10, DeviceID: "D2", Browser: "Safari", Country: "US"},
		{Class: 1, HourOfDay: 14, DeviceID: "D1", Browser: "Chrome", Country: "DE"},
		{Class: 1, HourOfDay: 10, DeviceID: "D3", Browser: "Chrome", Country: "US"},
	}
}

func TestReferenceDataset(t *testing.T) {
	e := newEngine(t, fourRecords(), allColumns...)

	summary, err := e.Summarize()
	require.NoError(t, err)
	assert.Equal(t, Summary{TotalTransactions: 4, FraudCases: 3, NonFraudCases: 1, FraudPercentage: 75.0}, summary)

	trends, err := e.TrendsByHour()
	require.NoError(t, err)
	assert.Equal(t, []TrendBucket{{HourOfDay: 10, Count: 2}, {HourOfDay: 14, Count: 1}}, trends)

	devices, err := e.ByDeviceAndBrowser()
	require.NoError(t, err)
	assert.Equal(t, []DeviceBrowserBucket{
		{DeviceID: "D1", Browser: "Chrome", FraudCount: 2},
		{DeviceID: "D3", Browser: "Chrome", FraudCount: 1},
	}, devices)

	geo, err := e.ByCountry()
	require.NoError(t, err)
	assert.Equal(t, []GeoBucket{{Country: "DE", FraudCount: 1}, {Country: "US", FraudCount: 2}}, geo)
}

func TestSummarize_EmptyDataset(t *testing.T) {
	e := newEngine(t, nil, allColumns...)

	_, err := e.Summarize()
	assert.ErrorIs(t, err, ErrEmptyDataset)

	// Grouped aggregations over nothing are empty, not errors.
	trends, err := e.TrendsByHour()
	require.NoError(t, err)
	assert.Empty(t, trends)
	assert.NotNil(t, trends)
}

func TestMissingColumns(t *testing.T) {
	records := []snapshot.Record{{Class: 1, HourOfDay: 3}}

	tests := []struct {
		name    string
		columns []string
		run     func(e *Engine) error
		want    string
	}{
		{
			name: "country",
			run:  func(e *Engine) error { _, err := e.ByCountry(); return err },
			want: snapshot.ColumnCountry,
		},
		{
			name: "hour_of_day",
			run:  func(e *Engine) error { _, err := e.TrendsByHour(); return err },
			want: snapshot.ColumnHourOfDay,
		},
		{
			name:    "browser",
			columns: []string{snapshot.ColumnDeviceID},
			run:     func(e *Engine) error { _, err := e.ByDeviceAndBrowser(); return err },
			want:    snapshot.ColumnBrowser,
		},
		{
			name: "device_id",
			run:  func(e *Engine) error { _, err := e.ByDeviceAndBrowser(); return err },
			want: snapshot.ColumnDeviceID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, records, tt.columns...)
			err := tt.run(e)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMissingColumn)

			var mc *MissingColumnError
			require.True(t, errors.As(err, &mc))
			assert.Equal(t, tt.want, mc.Column)
		})
	}
}

func TestSummarize_WithoutOptionalColumns(t *testing.T) {
	e := newEngine(t, []snapshot.Record{{Class: 0}, {Class: 1}})

	summary, err := e.Summarize()
	require.NoError(t, err)
	assert.Equal(t, 50.0, summary.FraudPercentage)
}

// Every fraud row lands in exactly one bucket of every grouping.
func TestBucketSumsMatchFraudCases(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	browsers := []string{"Chrome", "FireFox", "IE", "Opera", "Safari"}
	countries := []string{"Brazil", "China", "Japan", "United States", snapshot.UnknownCountry}

	records := make([]snapshot.Record, 2000)
	for i := range records {
		records[i] = snapshot.Record{
			Class:     rng.Intn(2),
			HourOfDay: rng.Intn(24),
			DeviceID:  fmt.Sprintf("D%d", rng.Intn(40)),
			Browser:   browsers[rng.Intn(len(browsers))],
			Country:   countries[rng.Intn(len(countries))],
		}
	}
	e := newEngine(t, records, allColumns...)

	summary, err := e.Summarize()
	require.NoError(t, err)
	assert.Equal(t, summary.TotalTransactions, summary.FraudCases+summary.NonFraudCases)
	assert.GreaterOrEqual(t, summary.FraudPercentage, 0.0)
	assert.LessOrEqual(t, summary.FraudPercentage, 100.0)

	trends, err := e.TrendsByHour()
	require.NoError(t, err)
	sum := 0
	for i, b := range trends {
		sum += b.Count
		assert.Positive(t, b.Count)
		if i > 0 {
			assert.Less(t, trends[i-1].HourOfDay, b.HourOfDay)
		}
	}
	assert.Equal(t, summary.FraudCases, sum)

	devices, err := e.ByDeviceAndBrowser()
	require.NoError(t, err)
	sum = 0
	for i, b := range devices {
		sum += b.FraudCount
		if i > 0 {
			prev := devices[i-1]
			assert.True(t, prev.DeviceID < b.DeviceID || (prev.DeviceID == b.DeviceID && prev.Browser < b.Browser))
		}
	}
	assert.Equal(t, summary.FraudCases, sum)

	geo, err := e.ByCountry()
	require.NoError(t, err)
	sum = 0
	for _, b := range geo {
		sum += b.FraudCount
	}
	assert.Equal(t, summary.FraudCases, sum)
}

func TestEngine_ConcurrentReads(t *testing.T) {
	e := newEngine(t, fourRecords(), allColumns...)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := e.Report()
			assert.NoError(t, err)
			assert.Equal(t, 3, r.Summary.FraudCases)
			geo, err := e.ByCountry()
			assert.NoError(t, err)
			assert.Len(t, geo, 2)
		}()
	}
	wg.Wait()
}

func serve(h *Handler, path string) *httptest.ResponseRecorder {
	r := gin.New()
	h.RegisterRoutes(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	return w
}

func TestFraudStatsHandler(t *testing.T) {
	h := NewHandler(newEngine(t, fourRecords(), allColumns...))

	w := serve(h, "/fraud-stats")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"summary": {"total_transactions": 4, "fraud_cases": 3, "non_fraud_cases": 1, "fraud_percentage": 75},
		"fraud_trends": [{"hour_of_day": 10, "count": 2}, {"hour_of_day": 14, "count": 1}],
		"device_browser_fraud": [
			{"device_id": "D1", "browser": "Chrome", "fraud_count": 2},
			{"device_id": "D3", "browser": "Chrome", "fraud_count": 1}
		]
	}`, w.Body.String())
}

func TestFraudGeolocationHandler(t *testing.T) {
	h := NewHandler(newEngine(t, fourRecords(), allColumns...))

	w := serve(h, "/fraud-geolocation")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"geolocation": [{"country": "DE", "fraud_count": 1}, {"country": "US", "fraud_count": 2}]}`, w.Body.String())
}

func TestHandlers_Failures(t *testing.T) {
	noGeo := NewHandler(newEngine(t, fourRecords(), snapshot.ColumnHourOfDay, snapshot.ColumnDeviceID, snapshot.ColumnBrowser))
	empty := NewHandler(newEngine(t, nil, allColumns...))

	tests := []struct {
		name    string
		h       *Handler
		path    string
		wantErr string
	}{
		{name: "no geolocation", h: noGeo, path: "/fraud-geolocation", wantErr: `required column "country" missing from dataset`},
		{name: "empty stats", h: empty, path: "/fraud-stats", wantErr: "dataset is empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(tt.h, tt.path)
			assert.Equal(t, http.StatusInternalServerError, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantErr, body["error"])
		})
	}

	// Stats without geolocation still work.
	assert.Equal(t, http.StatusOK, serve(noGeo, "/fraud-stats").Code)
}

func TestDefectiveColumn(t *testing.T) {
	records := fourRecords()
	records[2].Country = ""
	e := newEngine(t, records, allColumns...)

	_, err := e.ByCountry()
	require.ErrorIs(t, err, ErrDefectiveColumn)
	var de *DefectiveColumnError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, snapshot.ColumnCountry, de.Defect.Column)
	assert.Equal(t, 2, de.Defect.Row)
	assert.False(t, errors.Is(err, ErrMissingColumn))

	report, err := e.Report()
	require.NoError(t, err)
	assert.Equal(t, 3, report.Summary.FraudCases)

	h := NewHandler(e)
	w := serve(h, "/fraud-geolocation")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, `column "country" is unusable: row 2: country is empty`, body["error"])
	assert.Equal(t, http.StatusOK, serve(h, "/fraud-stats").Code)
}
