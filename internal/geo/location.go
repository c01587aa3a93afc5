package geo

import (
	"context"
	"strings"
)

type Location struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
	City    string  `json:"city"`
	ISP     string  `json:"isp"`
}

// Provider resolves a public IP address. Any error makes the enricher fall
// back to UnknownLocation.
type Provider interface {
	Lookup(ctx context.Context, ip string) (Location, error)
}

var (
	PrivateLocation = Location{Country: "Local Network", City: "Internal", ISP: "Private"}
	UnknownLocation = Location{Country: "Unknown", City: "Unknown", ISP: "Unknown"}
)

var privatePrefixes = []string{"192.168.", "10.", "127."}

// IsPrivate reports whether ip is answered locally without a provider call.
func IsPrivate(ip string) bool {
	for _, prefix := range privatePrefixes {
		if strings.HasPrefix(ip, prefix) {
			return true
		}
	}
	return false
}
