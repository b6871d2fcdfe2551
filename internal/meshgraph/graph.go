package meshgraph

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// AddEdgeOptions carries the optional fields an observer may supply when
// recording an edge.
type AddEdgeOptions struct {
	FromPublicKey      string
	ToPublicKey        string
	HopPosition        *int
	GeographicDistance *float64
}

// Config configures a MeshGraph's write strategy and startup rehydration.
type Config struct {
	// WriteStrategy selects immediate, batched, or hybrid persistence.
	WriteStrategy WriteStrategy
	// BatchInterval is how often the background worker flushes queued
	// edges under WriteBatched / WriteHybrid.
	BatchInterval time.Duration
	// BatchMaxPending forces an early flush once this many edges are queued.
	BatchMaxPending int
	// StartupLoadWindow restricts rehydration to edges last seen within
	// this window. Zero means "load everything".
	StartupLoadWindow time.Duration
	// LocationResolver looks up coordinates for a full public key, used to
	// recompute GeographicDistance on flush when a better key becomes
	// available. Optional; nil disables distance recomputation.
	LocationResolver LocationResolver
	// OnEdgeObserved, when set, is called after every edge insert or
	// update with a snapshot of the edge and whether it was newly
	// created. External consumers (a topology viewer, metrics) subscribe
	// here; the hook runs outside the graph's lock and must not block.
	OnEdgeObserved func(e *Edge, created bool)
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// LocationResolver resolves a full public key to coordinates, consulted
// only from within a flush cycle (a per-flush cache avoids repeated hits).
type LocationResolver interface {
	ResolveLocation(ctx context.Context, publicKey string) (lat, lon float64, ok bool)
}

// MeshGraph is the in-memory directed multigraph of observed prefix edges.
// It is the single source of truth; Store is an eventually-consistent
// projection. Safe for concurrent use: edge lookups/inserts
// are serialized by mu, the pending-write set by its own mutex so batch
// flushes only hold it long enough to swap the queue out.
type MeshGraph struct {
	now func() time.Time

	store  Store
	cfg    Config
	writer *batchWriter

	edges map[EdgeKey]*Edge
	out   map[string][]EdgeKey
	in    map[string][]EdgeKey

	mu sync.RWMutex
}

// New creates an empty MeshGraph backed by store. Call Rehydrate to load
// persisted edges and StartWriter to begin the background batch worker
// (which has nothing to flush under WriteImmediate).
func New(store Store, cfg Config) *MeshGraph {
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = 30 * time.Second
	}
	if cfg.BatchMaxPending <= 0 {
		cfg.BatchMaxPending = 100
	}
	g := &MeshGraph{
		store: store,
		cfg:   cfg,
		edges: make(map[EdgeKey]*Edge),
		out:   make(map[string][]EdgeKey),
		in:    make(map[string][]EdgeKey),
		now:   time.Now,
	}
	if cfg.Now != nil {
		g.now = cfg.Now
	}
	g.writer = newBatchWriter(g)
	return g
}

// Rehydrate loads persisted edges into the in-memory map verbatim,
// optionally filtered to the configured startup load window.
func (g *MeshGraph) Rehydrate(ctx context.Context) error {
	var since time.Time
	if g.cfg.StartupLoadWindow > 0 {
		since = g.now().Add(-g.cfg.StartupLoadWindow)
	}

	edges, err := g.store.LoadEdges(ctx, since)
	if err != nil {
		return err
	}

	totalObs := 0
	g.mu.Lock()
	for _, e := range edges {
		g.edges[e.Key()] = e
		g.linkAdjacency(e.Key())
		totalObs += e.ObservationCount
	}
	g.mu.Unlock()

	log.Info().
		Int("edges", len(edges)).
		Int("total_observations", totalObs).
		Msg("meshgraph: rehydrated from persistent storage")
	return nil
}

// StartWriter begins the background batch-flush worker. Safe to call even
// under WriteImmediate; the worker simply has nothing to flush.
func (g *MeshGraph) StartWriter(ctx context.Context) {
	g.writer.Start(ctx)
}

// Serve runs the batch-flush loop in the calling goroutine until ctx is
// canceled, flushing pending writes on the way out. It satisfies
// suture.Service so the daemon can supervise persistence with restart
// semantics instead of using StartWriter/Shutdown directly.
func (g *MeshGraph) Serve(ctx context.Context) error {
	return g.writer.serve(ctx)
}

// Shutdown stops the background worker (flushing any pending writes) and
// closes the underlying store. It never drops pending writes: a flush
// that fails mid-shutdown is re-queued, not discarded.
func (g *MeshGraph) Shutdown(ctx context.Context) error {
	g.writer.Stop()
	g.writer.Wait()
	return g.store.Close()
}

// AddEdge idempotently inserts or updates the (fromPrefix, toPrefix) edge
// and schedules its persistence according to the configured write
// strategy. Empty prefixes are silently ignored.
func (g *MeshGraph) AddEdge(fromPrefix, toPrefix string, opts AddEdgeOptions) {
	from := NormalizePrefix(fromPrefix)
	to := NormalizePrefix(toPrefix)
	if from == "" || to == "" {
		log.Debug().Str("from", fromPrefix).Str("to", toPrefix).Msg("meshgraph: ignoring edge with empty prefix")
		return
	}

	key := EdgeKey{From: from, To: to}
	now := g.now()

	g.mu.Lock()
	e, existed := g.edges[key]
	if !existed {
		e = &Edge{
			FromPrefix:       from,
			ToPrefix:         to,
			ObservationCount: 1,
			FirstSeen:        now,
			LastSeen:         now,
		}
		if opts.FromPublicKey != "" {
			e.FromPublicKey = opts.FromPublicKey
		}
		if opts.ToPublicKey != "" {
			e.ToPublicKey = opts.ToPublicKey
		}
		if opts.HopPosition != nil {
			v := float64(*opts.HopPosition)
			e.AvgHopPosition = &v
		}
		if opts.GeographicDistance != nil {
			v := *opts.GeographicDistance
			e.GeographicDistance = &v
		}
		g.edges[key] = e
		g.linkAdjacency(key)
	} else {
		e.ObservationCount++
		e.LastSeen = now
		if opts.FromPublicKey != "" {
			e.FromPublicKey = opts.FromPublicKey
		}
		if opts.ToPublicKey != "" {
			e.ToPublicKey = opts.ToPublicKey
		}
		if opts.HopPosition != nil {
			updateRunningAvg(e, float64(*opts.HopPosition))
		}
		if opts.GeographicDistance != nil {
			applyDistanceIfSignificant(e, *opts.GeographicDistance)
		}
	}
	var snapshot *Edge
	if g.cfg.OnEdgeObserved != nil {
		snapshot = e.Clone()
	}
	g.mu.Unlock()

	g.scheduleWrite(key, existed)
	if snapshot != nil {
		g.cfg.OnEdgeObserved(snapshot, !existed)
	}
}

// updateRunningAvg applies the running mean
// new_avg = (old_avg*(n-1) + new_pos) / n, where n is the post-increment
// observation count.
func updateRunningAvg(e *Edge, pos float64) {
	n := float64(e.ObservationCount)
	if e.AvgHopPosition == nil {
		e.AvgHopPosition = &pos
		return
	}
	avg := (*e.AvgHopPosition*(n-1) + pos) / n
	e.AvgHopPosition = &avg
}

// applyDistanceIfSignificant overwrites GeographicDistance only if it
// changed by more than 20% of the stored value.
func applyDistanceIfSignificant(e *Edge, newDist float64) {
	if e.GeographicDistance == nil {
		e.GeographicDistance = &newDist
		return
	}
	old := *e.GeographicDistance
	if old == 0 {
		e.GeographicDistance = &newDist
		return
	}
	delta := newDist - old
	if delta < 0 {
		delta = -delta
	}
	if delta > 0.2*old {
		e.GeographicDistance = &newDist
	}
}

func (g *MeshGraph) linkAdjacency(key EdgeKey) {
	if !containsKey(g.out[key.From], key) {
		g.out[key.From] = append(g.out[key.From], key)
	}
	if !containsKey(g.in[key.To], key) {
		g.in[key.To] = append(g.in[key.To], key)
	}
}

func containsKey(keys []EdgeKey, k EdgeKey) bool {
	for _, existing := range keys {
		if existing == k {
			return true
		}
	}
	return false
}

func (g *MeshGraph) scheduleWrite(key EdgeKey, wasUpdate bool) {
	switch g.cfg.WriteStrategy {
	case WriteBatched:
		g.writer.enqueue(key)
	case WriteHybrid:
		if wasUpdate {
			g.writer.enqueue(key)
		} else {
			g.writeThrough(key)
		}
	default: // WriteImmediate and unset
		g.writeThrough(key)
	}
}

func (g *MeshGraph) writeThrough(key EdgeKey) {
	e, ok := g.GetEdge(key.From, key.To)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.store.UpsertEdge(ctx, e); err != nil {
		log.Warn().Err(err).Str("from", key.From).Str("to", key.To).Msg("meshgraph: immediate write failed")
	}
}

// GetEdge returns a copy of the edge, if any, between the two prefixes.
func (g *MeshGraph) GetEdge(from, to string) (*Edge, bool) {
	from = NormalizePrefix(from)
	to = NormalizePrefix(to)
	if from == "" || to == "" {
		return nil, false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.edges[EdgeKey{From: from, To: to}]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// HasEdge reports whether an edge exists between the two prefixes.
func (g *MeshGraph) HasEdge(from, to string) bool {
	_, ok := g.GetEdge(from, to)
	return ok
}

// OutgoingEdges returns all edges leaving prefix.
func (g *MeshGraph) OutgoingEdges(prefix string) []*Edge {
	return g.edgesFor(prefix, g.out)
}

// IncomingEdges returns all edges arriving at prefix.
func (g *MeshGraph) IncomingEdges(prefix string) []*Edge {
	return g.edgesFor(prefix, g.in)
}

func (g *MeshGraph) edgesFor(prefix string, adj map[string][]EdgeKey) []*Edge {
	prefix = NormalizePrefix(prefix)
	if prefix == "" {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	keys := adj[prefix]
	out := make([]*Edge, 0, len(keys))
	for _, k := range keys {
		if e, ok := g.edges[k]; ok {
			out = append(out, e.Clone())
		}
	}
	return out
}

// Stats summarizes the in-memory graph's current size, for the status
// surface and startup logs.
type Stats struct {
	OldestFirstSeen   time.Time
	NewestLastSeen    time.Time
	EdgeCount         int
	TotalObservations int
}

// Stats returns a snapshot of graph size and observation-time bounds.
func (g *MeshGraph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := Stats{EdgeCount: len(g.edges)}
	first := true
	for _, e := range g.edges {
		s.TotalObservations += e.ObservationCount
		if first || e.FirstSeen.Before(s.OldestFirstSeen) {
			s.OldestFirstSeen = e.FirstSeen
		}
		if first || e.LastSeen.After(s.NewestLastSeen) {
			s.NewestLastSeen = e.LastSeen
		}
		first = false
	}
	return s
}
