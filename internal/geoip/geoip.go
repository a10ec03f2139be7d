// Package geoip resolves IP addresses to country names using a MaxMind
// GeoLite2-Country database.
package geoip

import (
	"errors"
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"
)

// UnknownCountry is returned for addresses the database has no entry for.
const UnknownCountry = "Unknown Country"

// ErrInvalidIP is returned for strings that do not parse as an IP address.
var ErrInvalidIP = errors.New("geoip: invalid ip address")

// geoRecord matches the GeoLite2-Country database structure.
type geoRecord struct {
	Country struct {
		ISOCode string            `maxminddb:"iso_code"`
		Names   map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
}

func (r geoRecord) name() string {
	if n := r.Country.Names["en"]; n != "" {
		return n
	}
	return r.Country.ISOCode
}

// Lookup is safe for concurrent use.
type Lookup struct {
	db *maxminddb.Reader
}

// Open loads the database at path.
func Open(path string) (*Lookup, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %s: %w", path, err)
	}
	return &Lookup{db: db}, nil
}

// Close releases the database.
func (l *Lookup) Close() error {
	return l.db.Close()
}

// Country returns the English country name for ip, or UnknownCountry if the
// address is not in the database.
func (l *Lookup) Country(ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}

	var rec geoRecord
	network, ok, err := l.db.LookupNetwork(parsed, &rec)
	if err != nil {
		return "", fmt.Errorf("geoip lookup %s: %w", ip, err)
	}
	if !ok || network == nil || rec.name() == "" {
		return UnknownCountry, nil
	}
	return rec.name(), nil
}

// Pair is an address together with the country the database assigns it.
type Pair struct {
	IP      string
	Country string
}

// Sample walks the database and returns up to limit IPv4 addresses that
// resolve to a named country, one per network.
func (l *Lookup) Sample(limit int) ([]Pair, error) {
	var out []Pair
	networks := l.db.Networks(maxminddb.SkipAliasedNetworks)
	for networks.Next() && len(out) < limit {
		var rec geoRecord
		network, err := networks.Network(&rec)
		if err != nil {
			return nil, fmt.Errorf("geoip walk: %w", err)
		}
		ip4 := network.IP.To4()
		if ip4 == nil || rec.name() == "" {
			continue
		}
		out = append(out, Pair{IP: ip4.String(), Country: rec.name()})
	}
	if err := networks.Err(); err != nil {
		return nil, fmt.Errorf("geoip walk: %w", err)
	}
	return out, nil
}
