package meshgraph

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/jtstockton/meshresolver/internal/scoring"
)

// batchWriter is the background batch-flush worker for WriteBatched and
// WriteHybrid strategies, a scheduled-maintenance style
// loop: a ticker, a stop channel, a done channel, joinable via Wait.
type batchWriter struct {
	g *MeshGraph

	pendingMu sync.Mutex
	pending   map[EdgeKey]struct{}

	earlyFlush chan struct{}
	stopCh     chan struct{}
	doneCh     chan struct{}

	sf singleflight.Group

	mu      sync.Mutex
	running bool
}

func newBatchWriter(g *MeshGraph) *batchWriter {
	return &batchWriter{
		g:          g,
		pending:    make(map[EdgeKey]struct{}),
		earlyFlush: make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// enqueue queues an edge key for the next flush, forcing an early flush
// once BatchMaxPending is reached.
func (w *batchWriter) enqueue(key EdgeKey) {
	w.pendingMu.Lock()
	w.pending[key] = struct{}{}
	n := len(w.pending)
	w.pendingMu.Unlock()

	if n >= w.g.cfg.BatchMaxPending {
		select {
		case w.earlyFlush <- struct{}{}:
		default:
		}
	}
}

// Start begins the flush loop. Under WriteImmediate the loop runs but
// has nothing to flush, since nothing is ever enqueued in that mode.
func (w *batchWriter) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.loop(ctx)
}

func (w *batchWriter) loop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.g.cfg.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush(context.Background())
			return
		case <-w.stopCh:
			w.flush(context.Background())
			return
		case <-ticker.C:
			w.flush(ctx)
		case <-w.earlyFlush:
			w.flush(ctx)
		}
	}
}

// serve runs the flush loop inline until ctx is canceled, for callers
// supervising the writer as a restartable service rather than via
// Start/Stop. A final flush runs before returning.
func (w *batchWriter) serve(ctx context.Context) error {
	ticker := time.NewTicker(w.g.cfg.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush(context.Background())
			return ctx.Err()
		case <-ticker.C:
			w.flush(ctx)
		case <-w.earlyFlush:
			w.flush(ctx)
		}
	}
}

// Stop signals the loop to perform a final flush and exit.
func (w *batchWriter) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.stopCh)
}

// Wait blocks until the loop has exited. A writer that was never started
// returns immediately.
func (w *batchWriter) Wait() {
	w.mu.Lock()
	started := w.running
	w.mu.Unlock()
	if !started {
		return
	}
	<-w.doneCh
}

// flush swaps out the pending set, resolves each queued edge, recomputes
// geographic distance where a better public key is now known (using a
// per-flush location cache to avoid repeated store hits), and writes the
// batch atomically via the singleflight-deduplicated Store.FlushBatch.
func (w *batchWriter) flush(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	keys := make([]EdgeKey, 0, len(w.pending))
	for k := range w.pending {
		keys = append(keys, k)
	}
	w.pending = make(map[EdgeKey]struct{})
	w.pendingMu.Unlock()

	_, err, _ := w.sf.Do("flush", func() (any, error) {
		edges := make([]*Edge, 0, len(keys))
		for _, k := range keys {
			if e, ok := w.g.GetEdge(k.From, k.To); ok {
				edges = append(edges, e)
			}
		}

		w.recomputeDistances(ctx, edges)

		flushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return nil, w.g.store.FlushBatch(flushCtx, edges)
	})

	if err != nil {
		log.Warn().Err(err).Int("edges", len(keys)).Msg("meshgraph: batch flush failed, re-queueing")
		w.pendingMu.Lock()
		for _, k := range keys {
			w.pending[k] = struct{}{}
		}
		w.pendingMu.Unlock()
		return
	}

	log.Debug().Int("edges", len(keys)).Msg("meshgraph: batch flush complete")
}

// recomputeDistances resolves coordinates for edges whose endpoints have
// known public keys, using a per-flush cache so a repeated key is only
// resolved once.
func (w *batchWriter) recomputeDistances(ctx context.Context, edges []*Edge) {
	resolver := w.g.cfg.LocationResolver
	if resolver == nil {
		return
	}

	type coord struct {
		lat, lon float64
		ok       bool
	}
	cache := make(map[string]coord)
	lookup := func(pubkey string) coord {
		if pubkey == "" {
			return coord{}
		}
		if c, ok := cache[pubkey]; ok {
			return c
		}
		lat, lon, ok := resolver.ResolveLocation(ctx, pubkey)
		c := coord{lat: lat, lon: lon, ok: ok}
		cache[pubkey] = c
		return c
	}

	for _, e := range edges {
		from := lookup(e.FromPublicKey)
		to := lookup(e.ToPublicKey)
		if !from.ok || !to.ok {
			continue
		}
		dist := scoring.HaversineKM(from.lat, from.lon, to.lat, to.lon)
		applyDistanceIfSignificant(e, dist)
	}
}
