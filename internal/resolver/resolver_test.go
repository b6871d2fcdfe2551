package resolver

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/jtstockton/meshresolver/internal/config"
	"github.com/jtstockton/meshresolver/internal/contacts"
	"github.com/jtstockton/meshresolver/internal/meshgraph"
)

// nopStore satisfies meshgraph.Store without persisting anything.
type nopStore struct{}

func (nopStore) UpsertEdge(ctx context.Context, e *meshgraph.Edge) error { return nil }
func (nopStore) LoadEdges(ctx context.Context, since time.Time) ([]*meshgraph.Edge, error) {
	return nil, nil
}
func (nopStore) FlushBatch(ctx context.Context, edges []*meshgraph.Edge) error { return nil }
func (nopStore) Close() error                                                  { return nil }

// fullKey pads a prefix out to a 64-hex-digit public key.
func fullKey(prefix, fill string) string {
	return prefix + strings.Repeat(fill, (64-len(prefix))/len(fill))
}

type ResolverSuite struct {
	suite.Suite
	now   time.Time
	clock time.Time
	store *contacts.MemStore
	graph *meshgraph.MeshGraph
	cfg   config.Config
}

func (s *ResolverSuite) SetupTest() {
	s.now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.clock = s.now
	s.store = contacts.NewMemStore()
	s.store.Now = func() time.Time { return s.clock }
	s.graph = meshgraph.New(nopStore{}, meshgraph.Config{
		WriteStrategy: meshgraph.WriteImmediate,
		Now:           func() time.Time { return s.clock },
	})
	s.cfg = config.Default()
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) newResolver() *Resolver {
	return New(s.cfg, s.store, s.graph, Options{Now: func() time.Time { return s.clock }})
}

// repeater builds a recent repeater record on the given prefix.
func (s *ResolverSuite) repeater(prefix, fill, name string) contacts.Record {
	heard := s.now.Add(-30 * time.Minute)
	return contacts.Record{
		PublicKey: fullKey(prefix, fill),
		Name:      name,
		Role:      contacts.RoleRepeater,
		LastHeard: &heard,
		IsActive:  true,
	}
}

func (s *ResolverSuite) addEdges(from, to string, n int, opts meshgraph.AddEdgeOptions) {
	for i := 0; i < n; i++ {
		s.graph.AddEdge(from, to, opts)
	}
}

// =============================================================================
// GOOD SCENARIOS - Expected normal operations
// =============================================================================

func (s *ResolverSuite) TestResolve_SingleCandidateNoAnnotation() {
	s.store.Add(s.repeater("7e", "1", "Hilltop"))

	res := s.newResolver().ResolveToken(context.Background(), []string{"01", "7e"}, 1, "")

	s.Equal(Found, res.Kind)
	s.Equal("Hilltop", res.Record.Name)
	s.Empty(res.Method, "no choice was made")
	s.Nil(res.Confidence)
}

func (s *ResolverSuite) TestResolve_GraphSelectsByStoredKey() {
	a := s.repeater("7e", "1", "Hilltop")
	b := s.repeater("7e", "2", "Ridge")
	s.store.Add(s.repeater("01", "0", "Gateway")).Add(a).Add(b)

	s.addEdges("01", "7e", 10, meshgraph.AddEdgeOptions{ToPublicKey: a.PublicKey})

	res := s.newResolver().ResolveToken(context.Background(), []string{"01", "7e"}, 1, "")

	s.Equal(Found, res.Kind)
	s.Equal(a.PublicKey, res.Record.PublicKey, "the stored key disambiguates the collision")
	s.Equal(MethodGraph, res.Method)
	s.NotNil(res.Confidence)
	s.Greater(*res.Confidence, 0.7)
}

func (s *ResolverSuite) TestResolve_StarBiasBreaksEvenGraphEvidence() {
	a := s.repeater("7e", "1", "Hilltop")
	b := s.repeater("7e", "2", "Ridge")
	b.IsStarred = true
	s.store.Add(a).Add(b)

	s.addEdges("01", "7e", 6, meshgraph.AddEdgeOptions{})

	res := s.newResolver().ResolveToken(context.Background(), []string{"01", "7e"}, 1, "")

	s.Equal(Found, res.Kind)
	s.Equal(b.PublicKey, res.Record.PublicKey, "equal evidence, the starred candidate wins")
}

func (s *ResolverSuite) TestResolve_FinalHopPrefersCandidateWithCoordinates() {
	lat, lon := -33.87, 151.21
	s.cfg.BotLatitude = &lat
	s.cfg.BotLongitude = &lon

	// Graph evidence (stored key plus star bias) points at a candidate
	// with no known location and a fading recency; geography points at a
	// fresh candidate right next to the bot.
	a := s.repeater("7e", "1", "Mystery")
	a.IsStarred = true
	aHeard := s.now.Add(-25 * time.Hour)
	a.LastHeard = &aHeard
	b := s.repeater("7e", "2", "Harbor")
	b.Latitude, b.Longitude = -33.86, 151.20
	s.store.Add(a).Add(b)

	s.addEdges("01", "7e", 10, meshgraph.AddEdgeOptions{ToPublicKey: a.PublicKey})

	res := s.newResolver().ResolveToken(context.Background(), []string{"01", "7e"}, 1, "")

	s.Equal(Found, res.Kind)
	s.Equal(b.PublicKey, res.Record.PublicKey)
	s.Equal(MethodGeographic, res.Method)
}

func (s *ResolverSuite) TestResolve_MultiHopFallbackOnAgedEdges() {
	s.cfg.GraphUseBidirectional = false

	a := s.repeater("7e", "1", "Hilltop")
	b := s.repeater("7e", "2", "Ridge")
	s.store.Add(a).Add(b)

	// Weak, aged direct evidence plus strong reverse edges: the two-hop
	// inference outranks the direct average.
	s.addEdges("01", "7e", 3, meshgraph.AddEdgeOptions{})
	s.addEdges("7e", "86", 3, meshgraph.AddEdgeOptions{})
	s.addEdges("7e", "01", 3, meshgraph.AddEdgeOptions{})
	s.addEdges("86", "7e", 3, meshgraph.AddEdgeOptions{})
	s.clock = s.clock.Add(48 * time.Hour)

	heard := s.clock.Add(-time.Hour)
	for i := range s.store.Records {
		s.store.Records[i].LastHeard = &heard
	}

	res := s.newResolver().ResolveToken(context.Background(), []string{"01", "7e", "86"}, 1, "")

	s.Equal(Found, res.Kind)
	s.Equal(MethodGraphMultiHop, res.Method)
	s.NotNil(res.Confidence)
	s.GreaterOrEqual(*res.Confidence, 0.5)
}

func (s *ResolverSuite) TestResolve_GeographicSimpleSelection() {
	lat, lon := -33.87, 151.21
	s.cfg.BotLatitude = &lat
	s.cfg.BotLongitude = &lon

	near := s.repeater("7e", "1", "Near")
	near.Latitude, near.Longitude = -33.86, 151.20
	far := s.repeater("7e", "2", "Far")
	far.Latitude, far.Longitude = -37.81, 144.96 // ~700 km, beyond the range limit
	s.store.Add(near).Add(far)

	res := s.newResolver().ResolveToken(context.Background(), []string{"01", "7e"}, 1, "")

	s.Equal(Found, res.Kind)
	s.Equal(near.PublicKey, res.Record.PublicKey)
	s.Equal(MethodGeographic, res.Method)
	s.NotNil(res.Confidence)
	s.GreaterOrEqual(*res.Confidence, 0.5)
}

func (s *ResolverSuite) TestResolve_CombinedModeAgreement() {
	lat, lon := -33.87, 151.21
	s.cfg.BotLatitude = &lat
	s.cfg.BotLongitude = &lon
	s.cfg.GraphCombinedMode = true

	a := s.repeater("7e", "1", "Hilltop")
	a.Latitude, a.Longitude = -33.86, 151.20
	b := s.repeater("7e", "2", "Ridge")
	b.Latitude, b.Longitude = -34.5, 150.5
	s.store.Add(a).Add(b)

	s.addEdges("01", "7e", 10, meshgraph.AddEdgeOptions{ToPublicKey: a.PublicKey})

	res := s.newResolver().ResolveToken(context.Background(), []string{"01", "7e"}, 1, "")

	s.Equal(Found, res.Kind)
	s.Equal(a.PublicKey, res.Record.PublicKey)
	s.Equal(MethodCombined, res.Method, "both methods agree on the same key")
}

// =============================================================================
// EDGE SCENARIOS - Boundary conditions
// =============================================================================

func (s *ResolverSuite) TestResolve_NoCandidatesIsNotFound() {
	res := s.newResolver().ResolveToken(context.Background(), []string{"7e"}, 0, "")
	s.Equal(NotFound, res.Kind)
}

func (s *ResolverSuite) TestResolve_CollisionWhenNoMethodDecides() {
	s.store.Add(s.repeater("7e", "1", "Hilltop")).Add(s.repeater("7e", "2", "Ridge"))

	res := s.newResolver().ResolveToken(context.Background(), []string{"01", "7e"}, 1, "")

	s.Equal(Collision, res.Kind)
	s.Len(res.Matches, 2)
}

func (s *ResolverSuite) TestResolve_LiveContactsFallback() {
	live := s.repeater("7e", "9", "LiveOnly")
	res := New(s.cfg, s.store, s.graph, Options{
		Now:  func() time.Time { return s.clock },
		Live: staticLive{rec: live},
	}).ResolveToken(context.Background(), []string{"7e"}, 0, "")

	s.Equal(Found, res.Kind)
	s.Equal("LiveOnly", res.Record.Name)
	s.Empty(res.Method)
}

func (s *ResolverSuite) TestResolve_StaleCandidateFilteredByStore() {
	stale := s.repeater("7e", "1", "Stale")
	old := s.now.AddDate(0, 0, -30)
	stale.LastHeard = &old
	s.store.Add(stale)

	res := s.newResolver().ResolveToken(context.Background(), []string{"7e"}, 0, "")
	s.Equal(NotFound, res.Kind)
}

func (s *ResolverSuite) TestResolve_GraphDisabledFallsBackToGeography() {
	s.cfg.GraphBasedValidation = false
	lat, lon := -33.87, 151.21
	s.cfg.BotLatitude = &lat
	s.cfg.BotLongitude = &lon

	near := s.repeater("7e", "1", "Near")
	near.Latitude, near.Longitude = -33.86, 151.20
	far := s.repeater("7e", "2", "Far")
	far.Latitude, far.Longitude = -37.81, 144.96
	s.store.Add(near).Add(far)

	s.addEdges("01", "7e", 10, meshgraph.AddEdgeOptions{ToPublicKey: far.PublicKey})

	res := s.newResolver().ResolveToken(context.Background(), []string{"01", "7e"}, 1, "")

	s.Equal(Found, res.Kind)
	s.Equal(near.PublicKey, res.Record.PublicKey, "graph evidence is ignored when disabled")
	s.Equal(MethodGeographic, res.Method)
}

func (s *ResolverSuite) TestResolve_MaxProximityRangeRejects() {
	lat, lon := -33.87, 151.21
	s.cfg.BotLatitude = &lat
	s.cfg.BotLongitude = &lon
	s.cfg.MaxProximityRangeKM = 50

	far := s.repeater("7e", "1", "Far")
	far.Latitude, far.Longitude = -37.81, 144.96 // ~700 km out
	other := s.repeater("7e", "2", "AlsoFar")
	other.Latitude, other.Longitude = -37.80, 144.95
	s.store.Add(far).Add(other)

	res := s.newResolver().ResolveToken(context.Background(), []string{"7e"}, 0, "")
	s.Equal(Collision, res.Kind, "everything beyond the range limit leaves the collision unresolved")
}

func (s *ResolverSuite) TestResolve_ExplainBreakdown() {
	a := s.repeater("7e", "1", "Hilltop")
	b := s.repeater("7e", "2", "Ridge")
	s.store.Add(a).Add(b)
	s.addEdges("01", "7e", 10, meshgraph.AddEdgeOptions{ToPublicKey: a.PublicKey})

	r := New(s.cfg, s.store, s.graph, Options{
		Now:     func() time.Time { return s.clock },
		Explain: true,
	})
	res := r.ResolveToken(context.Background(), []string{"01", "7e"}, 1, "")

	s.Equal(Found, res.Kind)
	s.Require().NotNil(res.Breakdown)
	s.Greater(res.Breakdown.GraphBase, 0.0)
	s.InDelta(0.2, res.Breakdown.StoredKeyBonus, 0.0001)
}

// staticLive is a LiveContacts stub returning one fixed record.
type staticLive struct {
	rec contacts.Record
}

func (l staticLive) ByPrefix(ctx context.Context, prefix string) (contacts.Record, bool, error) {
	return l.rec, strings.HasPrefix(l.rec.PublicKey, prefix), nil
}
