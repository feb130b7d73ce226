package snapshot

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// CountryResolver maps an IP address to a country name. An empty name means
// the address is not covered.
type CountryResolver interface {
	Country(ip net.IP) (string, error)
}

// GeoIPResolver resolves countries from a MaxMind GeoLite2/GeoIP2 database.
type GeoIPResolver struct {
	reader *geoip2.Reader
}

// OpenGeoIP opens the .mmdb database at path.
func OpenGeoIP(path string) (*GeoIPResolver, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &GeoIPResolver{reader: reader}, nil
}

// Country returns the English country name, falling back to the ISO code.
func (g *GeoIPResolver) Country(ip net.IP) (string, error) {
	rec, err := g.reader.Country(ip)
	if err != nil {
		return "", err
	}
	if name := rec.Country.Names["en"]; name != "" {
		return name, nil
	}
	return rec.Country.IsoCode, nil
}

// Close releases the database.
func (g *GeoIPResolver) Close() error {
	return g.reader.Close()
}

// ParseIP accepts a dotted address or the integer form used by the raw
// fraud exports, where an IPv4 address is stored as a (possibly fractional)
// number.
func ParseIP(raw string) (net.IP, error) {
	raw = strings.TrimSpace(raw)
	if ip := net.ParseIP(raw); ip != nil {
		return ip, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 || f > math.MaxUint32 || math.IsNaN(f) {
		return nil, fmt.Errorf("unparseable ip address %q", raw)
	}
	ip := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(ip, uint32(f))
	return ip, nil
}

// Enrich derives the country column from ip_address when the snapshot has
// the latter but not the former. Addresses that cannot be parsed or located
// become UnknownCountry. The returned count is the number of such rows.
//
// A snapshot that already has countries, or has no addresses, is returned
// unchanged.
func Enrich(s *Snapshot, resolver CountryResolver) (*Snapshot, int, error) {
	if s.HasColumn(ColumnCountry) || !s.HasColumn(ColumnIPAddress) {
		return s, 0, nil
	}

	unknown := 0
	records := make([]Record, s.Len())
	s.Each(func(i int, r Record) {
		r.Country = lookupCountry(r, resolver)
		if r.Country == UnknownCountry {
			unknown++
		}
		records[i] = r
	})

	enriched, err := build(records, append(s.Columns(), ColumnCountry), s.defects)
	if err != nil {
		return nil, 0, fmt.Errorf("enrich snapshot: %w", err)
	}
	return enriched, unknown, nil
}

func lookupCountry(r Record, resolver CountryResolver) string {
	raw, ok := r.Field(ColumnIPAddress)
	if !ok || raw == "" {
		return UnknownCountry
	}
	ip, err := ParseIP(raw)
	if err != nil {
		return UnknownCountry
	}
	name, err := resolver.Country(ip)
	if err != nil || name == "" {
		return UnknownCountry
	}
	return name
}
