package clientinfo

import (
	"errors"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

var ErrGeoIPNotConfigured = errors.New("clientinfo: GeoIP database path not configured")

// Locator resolve o código ISO do país de um IP; "" quando desconhecido.
type Locator interface {
	Country(ip string) string
}

type GeoIPReader struct {
	db *geoip2.Reader
}

// OpenGeoIP abre uma base GeoLite2-Country ou GeoLite2-City.
func OpenGeoIP(path string) (*GeoIPReader, error) {
	if path == "" {
		return nil, ErrGeoIPNotConfigured
	}
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("clientinfo: open geoip database: %w", err)
	}
	return &GeoIPReader{db: db}, nil
}

// Country implementa Locator. Seguro com receiver nil.
func (r *GeoIPReader) Country(ip string) string {
	if r == nil || r.db == nil {
		return ""
	}
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsLoopback() || parsed.IsPrivate() {
		return ""
	}
	rec, err := r.db.Country(parsed)
	if err != nil {
		return ""
	}
	return rec.Country.IsoCode
}

func (r *GeoIPReader) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
