package geo

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrUnavailable indicates the enrichment provider could not be reached or
// returned an unusable answer. Callers log it and proceed with a nil geo
// field; it never fails the decision that triggered the lookup.
var ErrUnavailable = errors.New("geo: enrichment unavailable")

// Location is coarse location metadata attached to audit events.
type Location struct {
	Country     string  `json:"country,omitempty"`
	CountryCode string  `json:"country_code,omitempty"`
	Region      string  `json:"region,omitempty"`
	City        string  `json:"city,omitempty"`
	Lat         float64 `json:"lat,omitempty"`
	Lon         float64 `json:"lon,omitempty"`
	Timezone    string  `json:"timezone,omitempty"`
}

// Local is the fixed placeholder for private and loopback addresses; those
// never trigger a network lookup.
var Local = Location{Country: "Local", City: "Local"}

// Resolver maps a public IP to coarse location metadata. Implementations must
// honor context cancellation; the audit path calls them with a short budget.
type Resolver interface {
	Resolve(ctx context.Context, ip string) (*Location, error)
}

// IsPrivate reports whether ip is a loopback, RFC1918/ULA, link-local or
// otherwise non-routable address.
func IsPrivate(ip string) bool {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return true
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return true
	}
	return parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsLinkLocalUnicast() ||
		parsed.IsLinkLocalMulticast() || parsed.IsUnspecified()
}

// Noop is a Resolver that always reports unavailability. Deployments without
// a provider configured use it; audit events then carry a nil geo field.
type Noop struct{}

func (Noop) Resolve(ctx context.Context, ip string) (*Location, error) {
	if IsPrivate(ip) {
		local := Local
		return &local, nil
	}
	return nil, ErrUnavailable
}
