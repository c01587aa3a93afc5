package geo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// GeoLiteProvider answers lookups from local MaxMind GeoLite2 databases. The
// ASN database is optional and only supplies the ISP name.
type GeoLiteProvider struct {
	cityPath string
	asnPath  string

	mu   sync.RWMutex
	city *geoip2.Reader
	asn  *geoip2.Reader
}

func OpenGeoLiteProvider(cityPath, asnPath string) (*GeoLiteProvider, error) {
	provider := &GeoLiteProvider{cityPath: cityPath, asnPath: strings.TrimSpace(asnPath)}
	if err := provider.Reload(); err != nil {
		return nil, err
	}
	return provider, nil
}

// Reload reopens the database files, typically after an update replaced them.
// The previous readers stay in use if the new files cannot be opened.
func (p *GeoLiteProvider) Reload() error {
	city, err := geoip2.Open(p.cityPath)
	if err != nil {
		return fmt.Errorf("geo: open city database: %w", err)
	}

	var asn *geoip2.Reader
	if p.asnPath != "" {
		asn, err = geoip2.Open(p.asnPath)
		if err != nil {
			_ = city.Close()
			return fmt.Errorf("geo: open asn database: %w", err)
		}
	}

	p.mu.Lock()
	oldCity, oldASN := p.city, p.asn
	p.city, p.asn = city, asn
	p.mu.Unlock()

	closeReaders(oldCity, oldASN)
	return nil
}

func (p *GeoLiteProvider) Lookup(_ context.Context, ip string) (Location, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Location{}, fmt.Errorf("%w: invalid ip %q", ErrLookupFailed, ip)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.city == nil {
		return Location{}, fmt.Errorf("%w: geolite database closed", ErrLookupFailed)
	}

	record, err := p.city.City(parsed)
	if err != nil {
		return Location{}, fmt.Errorf("geo: city lookup %s: %w", ip, err)
	}
	if record.Country.IsoCode == "" {
		return Location{}, fmt.Errorf("%w: %s not in database", ErrLookupFailed, ip)
	}

	loc := Location{
		Lat:     record.Location.Latitude,
		Lon:     record.Location.Longitude,
		Country: englishName(record.Country.Names, record.Country.IsoCode),
		City:    englishName(record.City.Names, "Unknown"),
		ISP:     "Unknown",
	}

	if p.asn != nil {
		if asn, err := p.asn.ASN(parsed); err == nil && asn.AutonomousSystemOrganization != "" {
			loc.ISP = asn.AutonomousSystemOrganization
		}
	}

	return loc, nil
}

func (p *GeoLiteProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := closeReaders(p.city, p.asn)
	p.city, p.asn = nil, nil
	return err
}

func closeReaders(readers ...*geoip2.Reader) error {
	var errs []error
	for _, reader := range readers {
		if reader != nil {
			errs = append(errs, reader.Close())
		}
	}
	return errors.Join(errs...)
}

func englishName(names map[string]string, fallback string) string {
	if name := names["en"]; name != "" {
		return name
	}
	return fallback
}
