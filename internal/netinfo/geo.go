package netinfo

import (
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"
)

// GeoInfo annotates the peer address. Fields the database does not carry
// stay empty.
type GeoInfo struct {
	Country string
	City    string
	ASN     uint
	ASOrg   string
}

type geoRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	ASN   uint   `maxminddb:"autonomous_system_number"`
	ASOrg string `maxminddb:"autonomous_system_organization"`
}

// GeoDB reads a MaxMind database such as GeoLite2-City or GeoLite2-ASN.
type GeoDB struct {
	reader *maxminddb.Reader
}

func OpenGeoDB(path string) (*GeoDB, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip db: %w", err)
	}
	return &GeoDB{reader: reader}, nil
}

func (g *GeoDB) Lookup(ip net.IP) (GeoInfo, error) {
	var rec geoRecord
	if err := g.reader.Lookup(ip, &rec); err != nil {
		return GeoInfo{}, fmt.Errorf("geoip lookup %s: %w", ip, err)
	}
	return GeoInfo{
		Country: rec.Country.ISOCode,
		City:    rec.City.Names["en"],
		ASN:     rec.ASN,
		ASOrg:   rec.ASOrg,
	}, nil
}

// DatabaseType names the loaded database, e.g. "GeoLite2-ASN".
func (g *GeoDB) DatabaseType() string {
	return g.reader.Metadata.DatabaseType
}

func (g *GeoDB) Close() error {
	return g.reader.Close()
}
