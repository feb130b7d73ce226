package snapshot

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fraudCSV = `user_id,purchase_value,device_id,browser,class,hour_of_day,country
22058,34,QVPSPJUOCKZAR,Chrome,1,10,US
333320,16,EOGFQPIZPYXFZ,Safari,0,10,US
1359,15,YSSKYOSJHPPLJ,Chrome,1,14,DE
150084,44,ATGTXKYKUDUQN,Chrome,1,10,US
`

func TestLoadCSV(t *testing.T) {
	s, err := LoadCSV(strings.NewReader(fraudCSV))
	require.NoError(t, err)

	assert.Equal(t, 4, s.Len())
	for _, col := range []string{ColumnClass, ColumnHourOfDay, ColumnDeviceID, ColumnBrowser, ColumnCountry} {
		assert.True(t, s.HasColumn(col), col)
	}
	assert.False(t, s.HasColumn(ColumnIPAddress))

	r := s.At(2)
	assert.Equal(t, "YSSKYOSJHPPLJ", r.DeviceID)
	assert.Equal(t, "Chrome", r.Browser)
	assert.Equal(t, "DE", r.Country)
	assert.Equal(t, 14, r.HourOfDay)
	assert.True(t, r.IsFraud())

	v, ok := r.Field("purchase_value")
	assert.True(t, ok)
	assert.Equal(t, "15", v)
	_, ok = r.Field("class")
	assert.False(t, ok)
}

func TestLoadCSV_OptionalColumnsAbsent(t *testing.T) {
	s, err := LoadCSV(strings.NewReader("Class,purchase_value\n0,10\n1.0,20\n"))
	require.NoError(t, err)

	assert.Equal(t, 2, s.Len())
	assert.True(t, s.HasColumn(ColumnClass))
	assert.False(t, s.HasColumn(ColumnCountry))
	assert.False(t, s.HasColumn(ColumnHourOfDay))
	assert.Equal(t, 1, s.At(1).Class)
	assert.Equal(t, []string{ColumnClass}, s.Columns())
}

func TestLoadCSV_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr error
		msg     string
	}{
		{name: "empty", doc: "", wantErr: ErrMissingClass},
		{name: "no class", doc: "device_id,browser\nA,Chrome\n", wantErr: ErrMissingClass},
		{name: "class out of range", doc: "class\n2\n", wantErr: ErrInvalidRecord, msg: "class must be 0 or 1"},
		{name: "class not a number", doc: "class\nyes\n", wantErr: ErrInvalidRecord, msg: "not a number"},
		{name: "fractional class", doc: "class\n0.5\n", wantErr: ErrInvalidRecord, msg: "not a whole number"},
		{name: "duplicate column", doc: "class,Class\n1,1\n", msg: "duplicate column"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCSV(strings.NewReader(tt.doc))
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.msg != "" {
				assert.Contains(t, err.Error(), tt.msg)
			}
		})
	}
}

func TestLoadCSV_DefectiveColumns(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		column string
		row    int
		reason string
	}{
		{name: "empty country", doc: "class,country\n1,US\n0,\n1,\n", column: ColumnCountry, row: 1, reason: "country is empty"},
		{name: "blank hour", doc: "class,hour_of_day\n1,3\n1,\n", column: ColumnHourOfDay, row: 1, reason: "hour_of_day is blank"},
		{name: "hour out of range", doc: "class,hour_of_day\n1,24\n", column: ColumnHourOfDay, row: 0, reason: "hour_of_day must be in 0..23"},
		{name: "hour not a number", doc: "class,hour_of_day\n1,2\n0,noon\n", column: ColumnHourOfDay, row: 1, reason: "not a number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := LoadCSV(strings.NewReader(tt.doc))
			require.NoError(t, err)
			assert.True(t, s.HasColumn(tt.column))

			d, bad := s.Defect(tt.column)
			require.True(t, bad)
			assert.Equal(t, tt.column, d.Column)
			assert.Equal(t, tt.row, d.Row)
			assert.Contains(t, d.Reason, tt.reason)
			assert.Equal(t, []Defect{d}, s.Defects())
		})
	}
}

func TestNew_DefectsAreCarriedThroughEnrich(t *testing.T) {
	s, err := LoadCSV(strings.NewReader("class,hour_of_day,ip_address\n1,,1.1.1.1\n"))
	require.NoError(t, err)

	enriched, _, err := Enrich(s, mapResolver{})
	require.NoError(t, err)
	assert.True(t, enriched.HasColumn(ColumnCountry))
	_, bad := enriched.Defect(ColumnHourOfDay)
	assert.True(t, bad)
	_, bad = enriched.Defect(ColumnCountry)
	assert.False(t, bad)
}

func TestLoadCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fraud.csv")
	require.NoError(t, os.WriteFile(path, []byte(fraudCSV), 0o600))

	s, err := LoadCSVFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Len())

	_, err = LoadCSVFile(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestNew_CopiesInput(t *testing.T) {
	records := []Record{{Class: 1, DeviceID: "A"}}
	s, err := New(records)
	require.NoError(t, err)

	records[0].DeviceID = "mutated"
	assert.Equal(t, "A", s.At(0).DeviceID)
}

func TestEach_VisitsRowsInOrder(t *testing.T) {
	s, err := LoadCSV(strings.NewReader(fraudCSV))
	require.NoError(t, err)

	var order []int
	s.Each(func(i int, _ Record) { order = append(order, i) })
	assert.Equal(t, []int{0, 1, 2, 3}, order)
}

func TestParseIP(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		err  bool
	}{
		{raw: "8.8.8.8", want: "8.8.8.8"},
		{raw: "134744072", want: "8.8.8.8"},
		{raw: "732758368.79972", want: "43.173.1.96"},
		{raw: "0", want: "0.0.0.0"},
		{raw: "-1", err: true},
		{raw: "4294967296", err: true},
		{raw: "not-an-ip", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			ip, err := ParseIP(tt.raw)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ip.String())
		})
	}
}

type mapResolver map[string]string

func (m mapResolver) Country(ip net.IP) (string, error) {
	if ip.String() == "10.0.0.1" {
		return "", errors.New("lookup failed")
	}
	return m[ip.String()], nil
}

func TestEnrich(t *testing.T) {
	doc := "class,ip_address\n1,8.8.8.8\n0,134744072\n1,1.1.1.1\n1,garbage\n0,10.0.0.1\n"
	s, err := LoadCSV(strings.NewReader(doc))
	require.NoError(t, err)
	require.True(t, s.HasColumn(ColumnIPAddress))

	enriched, unknown, err := Enrich(s, mapResolver{"8.8.8.8": "United States"})
	require.NoError(t, err)

	assert.True(t, enriched.HasColumn(ColumnCountry))
	assert.False(t, s.HasColumn(ColumnCountry))
	assert.Equal(t, 3, unknown)

	var got []string
	enriched.Each(func(_ int, r Record) { got = append(got, r.Country) })
	assert.Equal(t, []string{"United States", "United States", UnknownCountry, UnknownCountry, UnknownCountry}, got)
}

func TestEnrich_NoOpCases(t *testing.T) {
	withCountry, err := LoadCSV(strings.NewReader(fraudCSV))
	require.NoError(t, err)
	out, unknown, err := Enrich(withCountry, mapResolver{})
	require.NoError(t, err)
	assert.Same(t, withCountry, out)
	assert.Zero(t, unknown)

	noIP, err := LoadCSV(strings.NewReader("class\n1\n"))
	require.NoError(t, err)
	out, _, err = Enrich(noIP, mapResolver{})
	require.NoError(t, err)
	assert.Same(t, noIP, out)
	assert.False(t, out.HasColumn(ColumnCountry))
}

func TestOpenGeoIP_MissingFile(t *testing.T) {
	_, err := OpenGeoIP(filepath.Join(t.TempDir(), "nope.mmdb"))
	assert.Error(t, err)
}
