package snapshot

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// LoadCSVFile reads a snapshot from the CSV file at path.
func LoadCSVFile(path string) (*Snapshot, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()

	s, err := LoadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", path, err)
	}
	return s, nil
}

// LoadCSV reads a snapshot from CSV with a header row. Header names are
// matched case-insensitively. class is required; hour_of_day, device_id,
// browser and country are recognised when present and every other column is
// carried through on the record.
func LoadCSV(r io.Reader) (*Snapshot, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty file", ErrMissingClass)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := idx[name]; dup {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		idx[name] = i
	}
	if _, ok := idx[ColumnClass]; !ok {
		return nil, ErrMissingClass
	}

	known := map[string]bool{
		ColumnClass: true, ColumnHourOfDay: true, ColumnDeviceID: true,
		ColumnBrowser: true, ColumnCountry: true,
	}
	var present []string
	for name := range known {
		if _, ok := idx[name]; ok && name != ColumnClass {
			present = append(present, name)
		}
	}

	var (
		records []Record
		defects = map[string]Defect{}
	)
	for row := 1; ; row++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row, err)
		}

		get := func(name string) (string, bool) {
			i, ok := idx[name]
			if !ok {
				return "", false
			}
			return strings.TrimSpace(fields[i]), true
		}

		var rec Record

		raw, _ := get(ColumnClass)
		if rec.Class, err = parseWholeNumber(raw); err != nil {
			return nil, fmt.Errorf("%w: row %d: class: %v", ErrInvalidRecord, row, err)
		}
		if raw, ok := get(ColumnHourOfDay); ok {
			if rec.HourOfDay, err = parseWholeNumber(raw); err != nil {
				if _, seen := defects[ColumnHourOfDay]; !seen {
					defects[ColumnHourOfDay] = Defect{
						Column: ColumnHourOfDay,
						Row:    len(records),
						Reason: hourReason(raw, err),
					}
				}
			}
		}
		rec.DeviceID, _ = get(ColumnDeviceID)
		rec.Browser, _ = get(ColumnBrowser)
		rec.Country, _ = get(ColumnCountry)

		for name, i := range idx {
			if known[name] {
				continue
			}
			if rec.extra == nil {
				rec.extra = make(map[string]string, len(idx)-len(known))
			}
			rec.extra[name] = strings.TrimSpace(fields[i])
		}

		records = append(records, rec)
	}

	if _, ok := idx[ColumnIPAddress]; ok {
		present = append(present, ColumnIPAddress)
	}

	return build(records, present, defects)
}

func hourReason(raw string, err error) string {
	if raw == "" {
		return "hour_of_day is blank"
	}
	return "hour_of_day: " + err.Error()
}

// parseWholeNumber accepts "1" as well as "1.0", which is how pandas writes
// integer columns that once held NaN.
func parseWholeNumber(raw string) (int, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", raw)
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a whole number: %q", raw)
	}
	return int(f), nil
}
