package contacts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(publicKey, name, role string, heardAgo time.Duration, now time.Time) Record {
	heard := now.Add(-heardAgo)
	return Record{
		PublicKey: publicKey,
		Name:      name,
		Role:      role,
		LastHeard: &heard,
		IsActive:  true,
	}
}

func TestByPrefix_FiltersRoleAndRecency(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m := NewMemStore()
	m.Now = func() time.Time { return now }

	m.Add(record("7e11", "Hilltop", RoleRepeater, time.Hour, now)).
		Add(record("7e22", "Lounge", RoleRoomserver, 2*time.Hour, now)).
		Add(record("7e33", "Somebody", "chat", time.Hour, now)).
		Add(record("7e44", "Ancient", RoleRepeater, 40*24*time.Hour, now)).
		Add(record("0155", "Gateway", RoleRepeater, time.Hour, now))

	got, err := m.ByPrefix(context.Background(), "7e", 14)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Hilltop", got[0].Name, "ordered by recency descending")
	assert.Equal(t, "Lounge", got[1].Name)
}

func TestByPrefix_ZeroMaxAgeMeansNoFloor(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m := NewMemStore()
	m.Now = func() time.Time { return now }
	m.Add(record("7e44", "Ancient", RoleRepeater, 400*24*time.Hour, now))

	got, err := m.ByPrefix(context.Background(), "7e", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMostRecent_UsesMaxOfTimestamps(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	heard := now.Add(-2 * time.Hour)
	advert := now.Add(-time.Hour)

	r := Record{LastHeard: &heard, LastAdvertTimestamp: &advert}
	ts, ok := r.MostRecent()
	require.True(t, ok)
	assert.Equal(t, advert, ts)

	r = Record{LastHeard: &heard}
	ts, ok = r.MostRecent()
	require.True(t, ok)
	assert.Equal(t, heard, ts)

	_, ok = Record{}.MostRecent()
	assert.False(t, ok)
}

func TestBestCoordinates_PrefersStarredThenRecent(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m := NewMemStore()
	m.Now = func() time.Time { return now }

	recent := record("7e11", "Recent", RoleRepeater, time.Hour, now)
	recent.Latitude, recent.Longitude = -33.8, 151.2
	starred := record("7e22", "Starred", RoleRepeater, 10*time.Hour, now)
	starred.Latitude, starred.Longitude = -34.0, 151.0
	starred.IsStarred = true
	m.Add(recent).Add(starred)

	loc, ok, err := m.BestCoordinates(context.Background(), "7e", nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, -34.0, loc.Lat)
}

func TestBestCoordinates_StarredOutranksCloser(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m := NewMemStore()
	m.Now = func() time.Time { return now }

	near := record("7e11", "Near", RoleRepeater, 10*time.Hour, now)
	near.Latitude, near.Longitude = -33.86, 151.20
	farStarred := record("7e22", "FarStarred", RoleRepeater, time.Hour, now)
	farStarred.Latitude, farStarred.Longitude = -37.81, 144.96
	farStarred.IsStarred = true
	m.Add(near).Add(farStarred)

	ref := &LatLon{Lat: -33.87, Lon: 151.21}
	loc, ok, err := m.BestCoordinates(context.Background(), "7e", ref)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, -37.81, loc.Lat, "an operator-starred candidate beats proximity")
}

func TestBestCoordinates_RefPrefersCloserAmongUnstarred(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m := NewMemStore()
	m.Now = func() time.Time { return now }

	near := record("7e11", "Near", RoleRepeater, 10*time.Hour, now)
	near.Latitude, near.Longitude = -33.86, 151.20
	far := record("7e22", "Far", RoleRepeater, time.Hour, now)
	far.Latitude, far.Longitude = -37.81, 144.96
	m.Add(near).Add(far)

	ref := &LatLon{Lat: -33.87, Lon: 151.21}
	loc, ok, err := m.BestCoordinates(context.Background(), "7e", ref)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, -33.86, loc.Lat, "shorter distance beats recency under a collision")
}

func TestBestCoordinates_SkipsUnknownLocations(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m := NewMemStore()
	m.Now = func() time.Time { return now }
	m.Add(record("7e11", "NoLocation", RoleRepeater, time.Hour, now))

	_, ok, err := m.BestCoordinates(context.Background(), "7e", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}
