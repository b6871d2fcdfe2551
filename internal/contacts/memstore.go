package contacts

import (
	"context"
	"sort"
	"strings"
	"time"
)

// MemStore is an in-memory Store, used by resolver and decoder tests in
// place of a real datastore (a throwaway-store-per-test
// pattern).
type MemStore struct {
	Records []Record
	Now     func() time.Time
}

// NewMemStore creates an empty in-memory contact store.
func NewMemStore() *MemStore {
	return &MemStore{Now: time.Now}
}

// Add appends a record, for test setup.
func (m *MemStore) Add(r Record) *MemStore {
	m.Records = append(m.Records, r)
	return m
}

func (m *MemStore) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// ByPrefix implements Store.
func (m *MemStore) ByPrefix(ctx context.Context, prefix string, maxAgeDays int) ([]Record, error) {
	prefix = strings.ToLower(prefix)
	var cutoff time.Time
	if maxAgeDays > 0 {
		cutoff = m.now().AddDate(0, 0, -maxAgeDays)
	}

	var out []Record
	for _, r := range m.Records {
		if strings.ToLower(r.Prefix()) != prefix {
			continue
		}
		if r.Role != RoleRepeater && r.Role != RoleRoomserver {
			continue
		}
		if !cutoff.IsZero() {
			ts, ok := r.MostRecent()
			if !ok || ts.Before(cutoff) {
				continue
			}
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ti, _ := out[i].MostRecent()
		tj, _ := out[j].MostRecent()
		return ti.After(tj)
	})
	return out, nil
}

// ByPublicKey implements Store.
func (m *MemStore) ByPublicKey(ctx context.Context, publicKey string) (Record, bool, error) {
	for _, r := range m.Records {
		if r.PublicKey == publicKey {
			return r, true, nil
		}
	}
	return Record{}, false, nil
}

// BestCoordinates implements Store: starred candidates outrank the
// rest, then, when ref is supplied, shorter distance to it wins (radio
// range is the limiting factor under a prefix collision), then the most
// recent.
func (m *MemStore) BestCoordinates(ctx context.Context, prefix string, ref *LatLon) (LatLon, bool, error) {
	candidates, err := m.ByPrefix(ctx, prefix, 0)
	if err != nil {
		return LatLon{}, false, err
	}

	var best *Record
	for i := range candidates {
		c := &candidates[i]
		if !c.HasCoordinates() {
			continue
		}
		if best == nil || BetterCoordinateSource(*c, *best, ref) {
			best = c
		}
	}
	if best == nil {
		return LatLon{}, false, nil
	}
	return LatLon{Lat: best.Latitude, Lon: best.Longitude}, true, nil
}

var _ Store = (*MemStore)(nil)
