// Package stats computes fraud aggregations over a transaction snapshot.
//
// Every method is a pure function of the snapshot it was built with, so an
// Engine can be shared freely across request goroutines.
package stats

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fraudscope/fraudscope/internal/snapshot"
)

var (
	// ErrEmptyDataset is returned by Summarize for a zero-row snapshot.
	ErrEmptyDataset = errors.New("dataset is empty")
	// ErrMissingColumn is matched by every *MissingColumnError.
	ErrMissingColumn = errors.New("required column missing")
	// ErrDefectiveColumn is matched by every *DefectiveColumnError.
	ErrDefectiveColumn = errors.New("required column defective")
)

// MissingColumnError reports an aggregation that needs a column the
// snapshot was loaded without.
type MissingColumnError struct {
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("required column %q missing from dataset", e.Column)
}

// Is lets errors.Is(err, ErrMissingColumn) match.
func (e *MissingColumnError) Is(target error) bool {
	return target == ErrMissingColumn
}

// DefectiveColumnError reports an aggregation over a column that is present
// but has a bad cell.
type DefectiveColumnError struct {
	Defect snapshot.Defect
}

func (e *DefectiveColumnError) Error() string {
	return fmt.Sprintf("column %q is unusable: %s", e.Defect.Column, e.Defect)
}

// Is lets errors.Is(err, ErrDefectiveColumn) match.
func (e *DefectiveColumnError) Is(target error) bool {
	return target == ErrDefectiveColumn
}

// Summary is the headline count over the whole snapshot.
type Summary struct {
	TotalTransactions int     `json:"total_transactions"`
	FraudCases        int     `json:"fraud_cases"`
	NonFraudCases     int     `json:"non_fraud_cases"`
	FraudPercentage   float64 `json:"fraud_percentage"`
}

// TrendBucket counts fraud cases for one hour of the day.
type TrendBucket struct {
	HourOfDay int `json:"hour_of_day"`
	Count     int `json:"count"`
}

// DeviceBrowserBucket counts fraud cases for one device and browser pair.
type DeviceBrowserBucket struct {
	DeviceID   string `json:"device_id"`
	Browser    string `json:"browser"`
	FraudCount int    `json:"fraud_count"`
}

// GeoBucket counts fraud cases for one country.
type GeoBucket struct {
	Country    string `json:"country"`
	FraudCount int    `json:"fraud_count"`
}

// Engine aggregates a fixed snapshot.
type Engine struct {
	snap *snapshot.Snapshot
}

// NewEngine creates an Engine over snap.
func NewEngine(snap *snapshot.Snapshot) *Engine {
	return &Engine{snap: snap}
}

// Snapshot returns the snapshot the engine aggregates.
func (e *Engine) Snapshot() *snapshot.Snapshot {
	return e.snap
}

// Summarize counts all, fraud and legitimate transactions.
func (e *Engine) Summarize() (Summary, error) {
	total := e.snap.Len()
	if total == 0 {
		return Summary{}, ErrEmptyDataset
	}

	fraud := 0
	e.snap.Each(func(_ int, r snapshot.Record) {
		if r.IsFraud() {
			fraud++
		}
	})

	return Summary{
		TotalTransactions: total,
		FraudCases:        fraud,
		NonFraudCases:     total - fraud,
		FraudPercentage:   100 * float64(fraud) / float64(total),
	}, nil
}

// TrendsByHour counts fraud cases per hour of day. Hours with no fraud are
// omitted; buckets are ascending by hour.
func (e *Engine) TrendsByHour() ([]TrendBucket, error) {
	if err := e.require(snapshot.ColumnHourOfDay); err != nil {
		return nil, err
	}

	var counts [24]int
	e.snap.Each(func(_ int, r snapshot.Record) {
		if r.IsFraud() {
			counts[r.HourOfDay]++
		}
	})

	out := []TrendBucket{}
	for hour, n := range counts {
		if n > 0 {
			out = append(out, TrendBucket{HourOfDay: hour, Count: n})
		}
	}
	return out, nil
}

// ByDeviceAndBrowser counts fraud cases per (device_id, browser), ordered by
// device then browser.
func (e *Engine) ByDeviceAndBrowser() ([]DeviceBrowserBucket, error) {
	if err := e.require(snapshot.ColumnDeviceID, snapshot.ColumnBrowser); err != nil {
		return nil, err
	}

	type key struct{ device, browser string }
	counts := map[key]int{}
	e.snap.Each(func(_ int, r snapshot.Record) {
		if r.IsFraud() {
			counts[key{r.DeviceID, r.Browser}]++
		}
	})

	out := make([]DeviceBrowserBucket, 0, len(counts))
	for k, n := range counts {
		out = append(out, DeviceBrowserBucket{DeviceID: k.device, Browser: k.browser, FraudCount: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DeviceID != out[j].DeviceID {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].Browser < out[j].Browser
	})
	return out, nil
}

// ByCountry counts fraud cases per country, ordered by country. A snapshot
// without geolocation is an error, never an empty result.
func (e *Engine) ByCountry() ([]GeoBucket, error) {
	if err := e.require(snapshot.ColumnCountry); err != nil {
		return nil, err
	}

	counts := map[string]int{}
	e.snap.Each(func(_ int, r snapshot.Record) {
		if r.IsFraud() {
			counts[r.Country]++
		}
	})

	out := make([]GeoBucket, 0, len(counts))
	for country, n := range counts {
		out = append(out, GeoBucket{Country: country, FraudCount: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Country < out[j].Country })
	return out, nil
}

func (e *Engine) require(columns ...string) error {
	for _, c := range columns {
		if !e.snap.HasColumn(c) {
			return &MissingColumnError{Column: c}
		}
		if d, bad := e.snap.Defect(c); bad {
			return &DefectiveColumnError{Defect: d}
		}
	}
	return nil
}
