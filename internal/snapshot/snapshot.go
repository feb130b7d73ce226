// Package snapshot holds the immutable table of historical transactions the
// service aggregates over. A Snapshot is built once at startup, from a CSV
// export or a PostgreSQL table, and is read-only afterwards.
package snapshot

import (
	"errors"
	"fmt"
	"sort"
)

// Column names understood by the loaders.
const (
	ColumnClass     = "class"
	ColumnHourOfDay = "hour_of_day"
	ColumnDeviceID  = "device_id"
	ColumnBrowser   = "browser"
	ColumnCountry   = "country"
	ColumnIPAddress = "ip_address"
)

// UnknownCountry is attached to rows whose IP address cannot be located.
const UnknownCountry = "Unknown"

var (
	// ErrInvalidRecord is wrapped by every class violation found while
	// building a snapshot. Bad optional cells produce a Defect instead.
	ErrInvalidRecord = errors.New("invalid transaction record")
	// ErrMissingClass is returned when a source has no class column.
	ErrMissingClass = errors.New("snapshot source has no class column")
)

// Record is one historical transaction. Identity is its row index.
type Record struct {
	DeviceID  string
	Browser   string
	Country   string
	HourOfDay int
	Class     int // 0 = legitimate, 1 = fraud

	extra map[string]string
}

// Field returns a carried-through column that has no dedicated field.
func (r Record) Field(name string) (string, bool) {
	v, ok := r.extra[name]
	return v, ok
}

// IsFraud reports whether the record is labelled as fraud.
func (r Record) IsFraud() bool {
	return r.Class == 1
}

// Defect marks a present column that cannot be aggregated because of a bad
// cell. Row is the index of the first offending record.
type Defect struct {
	Column string `json:"column"`
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

func (d Defect) String() string {
	return fmt.Sprintf("row %d: %s", d.Row, d.Reason)
}

// Snapshot is an ordered, immutable sequence of records plus the set of
// columns the source actually provided and any of those that are defective.
type Snapshot struct {
	records []Record
	columns map[string]bool
	defects map[string]Defect
}

// New validates records and freezes them into a Snapshot. columns lists the
// optional columns that are present; class is always implied.
//
// A class outside {0, 1} fails the whole snapshot. An hour_of_day outside
// 0..23 or an empty country only marks that column defective.
func New(records []Record, columns ...string) (*Snapshot, error) {
	return build(records, columns, nil)
}

// build is New with defects already found by a loader, such as blank cells
// that never made it into a Record.
func build(records []Record, columns []string, found map[string]Defect) (*Snapshot, error) {
	cols := map[string]bool{ColumnClass: true}
	for _, c := range columns {
		cols[c] = true
	}
	defects := make(map[string]Defect, len(found))
	for c, d := range found {
		defects[c] = d
	}
	mark := func(col string, row int, format string, args ...any) {
		if d, ok := defects[col]; ok && d.Row <= row {
			return
		}
		defects[col] = Defect{Column: col, Row: row, Reason: fmt.Sprintf(format, args...)}
	}

	frozen := make([]Record, len(records))
	for i, r := range records {
		if r.Class != 0 && r.Class != 1 {
			return nil, fmt.Errorf("%w: row %d: class must be 0 or 1, got %d", ErrInvalidRecord, i, r.Class)
		}
		if cols[ColumnHourOfDay] && (r.HourOfDay < 0 || r.HourOfDay > 23) {
			mark(ColumnHourOfDay, i, "hour_of_day must be in 0..23, got %d", r.HourOfDay)
		}
		if cols[ColumnCountry] && r.Country == "" {
			mark(ColumnCountry, i, "country is empty")
		}
		frozen[i] = r
		if r.extra != nil {
			extra := make(map[string]string, len(r.extra))
			for k, v := range r.extra {
				extra[k] = v
			}
			frozen[i].extra = extra
		}
	}

	for c := range defects {
		if !cols[c] {
			delete(defects, c)
		}
	}

	return &Snapshot{records: frozen, columns: cols, defects: defects}, nil
}

// Len returns the number of records.
func (s *Snapshot) Len() int {
	return len(s.records)
}

// At returns the record at row i.
func (s *Snapshot) At(i int) Record {
	return s.records[i]
}

// Each calls fn for every record in row order.
func (s *Snapshot) Each(fn func(i int, r Record)) {
	for i, r := range s.records {
		fn(i, r)
	}
}

// HasColumn reports whether the source provided the named column.
func (s *Snapshot) HasColumn(name string) bool {
	return s.columns[name]
}

// Defect reports whether a present column is defective.
func (s *Snapshot) Defect(name string) (Defect, bool) {
	d, ok := s.defects[name]
	return d, ok
}

// Defects returns every defective column, sorted by column name.
func (s *Snapshot) Defects() []Defect {
	out := make([]Defect, 0, len(s.defects))
	for _, d := range s.defects {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Column < out[j].Column })
	return out
}

// Columns returns the present column names, sorted.
func (s *Snapshot) Columns() []string {
	out := make([]string, 0, len(s.columns))
	for c := range s.columns {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
