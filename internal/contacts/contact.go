// Package contacts defines the narrow interface the resolver uses to
// consult the repeater tracking datastore. The datastore itself (a
// relational table of known contacts with coordinates, timestamps, roles,
// star flag, and public keys) is an external collaborator — this package
// only specifies the query shapes the core relies on and ships one
// reference sqlite implementation, not the "real" store an integrator runs
// in production.
package contacts

import (
	"context"
	"time"

	"github.com/jtstockton/meshresolver/internal/scoring"
)

// Role values the resolver treats as eligible repeater/roomserver candidates.
const (
	RoleRepeater   = "repeater"
	RoleRoomserver = "roomserver"
)

// Record is the contact-store view of one known node. Coordinates
// (0, 0) mean "unknown location".
type Record struct {
	LastHeard           *time.Time
	LastAdvertTimestamp *time.Time
	SignalStrength      *float64
	SNR                 *float64
	HopCount            *int
	PublicKey           string
	Name                string
	Role                string
	City                string
	State               string
	Country             string
	Latitude            float64
	Longitude           float64
	AdvertCount         int
	IsStarred           bool
	IsActive            bool
}

// Prefix returns the two-hex-digit prefix of the record's public key.
func (r Record) Prefix() string {
	if len(r.PublicKey) < 2 {
		return ""
	}
	return r.PublicKey[:2]
}

// HasCoordinates reports whether the record carries a known, non-origin
// location means "unknown").
func (r Record) HasCoordinates() bool {
	return r.Latitude != 0 || r.Longitude != 0
}

// MostRecent returns the later of LastHeard and LastAdvertTimestamp, used
// throughout the resolver's recency scoring ("recency uses the
// max").
func (r Record) MostRecent() (time.Time, bool) {
	switch {
	case r.LastAdvertTimestamp != nil && r.LastHeard != nil:
		if r.LastAdvertTimestamp.After(*r.LastHeard) {
			return *r.LastAdvertTimestamp, true
		}
		return *r.LastHeard, true
	case r.LastAdvertTimestamp != nil:
		return *r.LastAdvertTimestamp, true
	case r.LastHeard != nil:
		return *r.LastHeard, true
	default:
		return time.Time{}, false
	}
}

// HasSNR reports whether a direct-hear SNR sample is present, one of the
// two zero-hop signals alongside HopCount == 0.
func (r Record) HasSNR() bool {
	return r.SNR != nil
}

// IsZeroHop reports whether the record's hop count is known and zero.
func (r Record) IsZeroHop() bool {
	return r.HopCount != nil && *r.HopCount == 0
}

// Store is the narrow interface the candidate resolver consults. Any
// backing datastore that can honor these three query shapes
// may implement it; this package's own sqlite subpackage is a reference
// implementation, not a mandated one.
type Store interface {
	// ByPrefix returns candidates sharing prefix, restricted to
	// repeater/roomserver roles and the recency floor maxAgeDays (0 means
	// no floor), ordered by coalesced recency descending.
	ByPrefix(ctx context.Context, prefix string, maxAgeDays int) ([]Record, error)

	// ByPublicKey returns the single record for a full public key, if any.
	ByPublicKey(ctx context.Context, publicKey string) (Record, bool, error)

	// BestCoordinates returns the best-known coordinates for a prefix,
	// preferring starred candidates, then, if ref is non-nil, the one
	// closer to ref, then the most recent (see BetterCoordinateSource).
	BestCoordinates(ctx context.Context, prefix string, ref *LatLon) (LatLon, bool, error)
}

// LatLon is a plain coordinate pair, used both for the bot's own location
// and as an optional reference point for range-aware coordinate lookups.
type LatLon struct {
	Lat float64
	Lon float64
}

// BetterCoordinateSource reports whether a beats b as the coordinate
// source for a shared prefix: starred first, then, when ref is given,
// shorter distance to it (radio range is limited, so under a collision
// the closer node is the likelier neighbor), then the more recent
// record. Both records are assumed to carry coordinates.
func BetterCoordinateSource(a, b Record, ref *LatLon) bool {
	if a.IsStarred != b.IsStarred {
		return a.IsStarred
	}
	if ref != nil {
		da := scoring.HaversineKM(ref.Lat, ref.Lon, a.Latitude, a.Longitude)
		db := scoring.HaversineKM(ref.Lat, ref.Lon, b.Latitude, b.Longitude)
		if da != db {
			return da < db
		}
	}
	at, _ := a.MostRecent()
	bt, _ := b.MostRecent()
	return at.After(bt)
}
