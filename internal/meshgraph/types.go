// Package meshgraph implements the observed mesh-network edge graph: a
// directed multigraph of two-hex-digit node-prefix observations, persisted
// through a pluggable Store and consulted by the candidate resolver to
// disambiguate prefix collisions.
package meshgraph

import (
	"errors"
	"strings"
	"time"
)

// ErrEmptyPrefix names the empty-prefix condition. No operation in this
// package returns it: a prefix that normalizes to the empty string is
// treated as a silent no-op, not a hard failure.
var ErrEmptyPrefix = errors.New("meshgraph: empty prefix")

// NormalizePrefix lowercases and validates a node prefix. A prefix is only
// ever two hex digits; anything else normalizes to "" so callers can treat
// it as empty and reject silently.
func NormalizePrefix(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if len(p) != 2 {
		return ""
	}
	for _, c := range p {
		if !isHexDigit(c) {
			return ""
		}
	}
	return p
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}

// Edge is a directed observation that a node with FromPrefix was seen
// immediately followed by a node with ToPrefix, keyed by the prefix pair
// (not by full public key).
type Edge struct {
	FirstSeen          time.Time
	LastSeen           time.Time
	FromPrefix         string
	ToPrefix           string
	FromPublicKey      string
	ToPublicKey        string
	AvgHopPosition     *float64
	GeographicDistance *float64
	ObservationCount   int
}

// Key returns the map key identifying this edge's (from, to) pair.
func (e *Edge) Key() EdgeKey {
	return EdgeKey{From: e.FromPrefix, To: e.ToPrefix}
}

// EdgeKey identifies an edge by its directed prefix pair.
type EdgeKey struct {
	From string
	To   string
}

// Clone returns a deep copy of the edge so callers can't mutate graph
// internals through a returned pointer.
func (e *Edge) Clone() *Edge {
	if e == nil {
		return nil
	}
	cp := *e
	if e.AvgHopPosition != nil {
		v := *e.AvgHopPosition
		cp.AvgHopPosition = &v
	}
	if e.GeographicDistance != nil {
		v := *e.GeographicDistance
		cp.GeographicDistance = &v
	}
	return &cp
}
