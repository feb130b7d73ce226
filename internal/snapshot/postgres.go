package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/lib/pq"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// LoadPostgres reads every row of table into a snapshot, in id order.
//
// An optional column whose value is NULL in every row is treated as absent.
// A column that is NULL in only some rows is present but defective.
func LoadPostgres(ctx context.Context, db *sql.DB, table string) (*Snapshot, error) {
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid snapshot table name %q", table)
	}

	query := fmt.Sprintf( // #nosec G201 -- table validated against identRe and quoted
		`SELECT class, hour_of_day, device_id, browser, country, ip_address FROM %s ORDER BY id`,
		pq.QuoteIdentifier(table),
	)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		records   []Record
		seen      = map[string]int{}
		firstNull = map[string]int{}
	)
	for rows.Next() {
		var (
			class int
			n     struct {
				hour                   sql.NullInt64
				device, browser, cntry sql.NullString
				ip                     sql.NullString
			}
		)
		if err := rows.Scan(&class, &n.hour, &n.device, &n.browser, &n.cntry, &n.ip); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		rec := Record{
			Class:     class,
			HourOfDay: int(n.hour.Int64),
			DeviceID:  n.device.String,
			Browser:   n.browser.String,
			Country:   n.cntry.String,
		}
		if n.ip.Valid {
			rec.extra = map[string]string{ColumnIPAddress: n.ip.String}
		}
		for col, valid := range map[string]bool{
			ColumnHourOfDay: n.hour.Valid,
			ColumnDeviceID:  n.device.Valid,
			ColumnBrowser:   n.browser.Valid,
			ColumnCountry:   n.cntry.Valid,
			ColumnIPAddress: n.ip.Valid,
		} {
			if valid {
				seen[col]++
			} else if _, ok := firstNull[col]; !ok {
				firstNull[col] = len(records)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}

	var present []string
	defects := map[string]Defect{}
	for _, col := range []string{ColumnHourOfDay, ColumnDeviceID, ColumnBrowser, ColumnCountry, ColumnIPAddress} {
		switch n := seen[col]; {
		case len(records) == 0:
			present = append(present, col)
		case n == 0:
		case n == len(records):
			present = append(present, col)
		default:
			present = append(present, col)
			defects[col] = Defect{
				Column: col,
				Row:    firstNull[col],
				Reason: fmt.Sprintf("%s is NULL in %d of %d rows", col, len(records)-n, len(records)),
			}
		}
	}

	return build(records, present, defects)
}
