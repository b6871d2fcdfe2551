// Package resolver turns a routing trace of two-hex-digit node prefixes
// into repeater identities. For each position in a received path it pulls
// the candidates sharing that prefix from the contact store, scores them
// against the observed mesh graph and against geographic proximity, and
// either commits to one identity or reports the position as a collision.
package resolver

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jtstockton/meshresolver/internal/config"
	"github.com/jtstockton/meshresolver/internal/contacts"
	"github.com/jtstockton/meshresolver/internal/meshgraph"
	"github.com/jtstockton/meshresolver/internal/scoring"
)

// Options carries the resolver's optional collaborators.
type Options struct {
	// Live is the radio's live contacts cache; nil disables the fallback.
	Live LiveContacts
	// History is the path-observation store backing the path-validation
	// bonus; nil disables the bonus.
	History PathHistory
	// Now overrides the clock, for tests.
	Now func() time.Time
	// Explain populates a ScoreBreakdown on each decided result.
	Explain bool
}

// Resolver scores candidate repeaters for one prefix at one path
// position. Safe for concurrent use; every field is set at construction
// and never mutated.
type Resolver struct {
	now     func() time.Time
	store   contacts.Store
	graph   *meshgraph.MeshGraph
	live    LiveContacts
	history PathHistory
	botLoc  *contacts.LatLon
	log     zerolog.Logger
	cfg     config.Config
	explain bool
}

// New creates a Resolver. graph may be nil, which disables graph-based
// selection regardless of configuration. The bot's location comes from
// cfg; invalid coordinates were already dropped at config load.
func New(cfg config.Config, store contacts.Store, graph *meshgraph.MeshGraph, opts Options) *Resolver {
	r := &Resolver{
		cfg:     cfg,
		store:   store,
		graph:   graph,
		live:    opts.Live,
		history: opts.History,
		explain: opts.Explain,
		now:     opts.Now,
		log:     log.With().Str("component", "resolver").Logger(),
	}
	if r.now == nil {
		r.now = time.Now
	}
	if lat, lon, ok := cfg.BotLocation(); ok {
		r.botLoc = &contacts.LatLon{Lat: lat, Lon: lon}
	}
	return r
}

// ResolveToken resolves the prefix at path[idx]. The full path and the
// index are needed so first-hop and final-hop policies can anchor to the
// sender and the bot respectively. senderKey is the full public key of
// the packet's sender when known, used by the path proximity calculator.
func (r *Resolver) ResolveToken(ctx context.Context, path []string, idx int, senderKey string) Result {
	if idx < 0 || idx >= len(path) {
		return notFound()
	}
	prefix := meshgraph.NormalizePrefix(path[idx])
	if prefix == "" {
		return notFound()
	}

	cands, err := r.store.ByPrefix(ctx, prefix, r.cfg.MaxRepeaterAgeDays)
	if err != nil {
		r.log.Warn().Err(err).Str("prefix", prefix).Msg("contact store query failed, treating as empty")
		cands = nil
	}

	if len(cands) == 0 {
		if r.live != nil {
			if rec, ok, lerr := r.live.ByPrefix(ctx, prefix); lerr == nil && ok {
				return found(rec)
			}
		}
		return notFound()
	}
	if len(cands) == 1 {
		return found(cands[0])
	}

	var graphRes *selection
	if r.cfg.GraphBasedValidation && r.graph != nil {
		graphRes = r.selectGraph(ctx, cands, path, idx)
	}

	geoRes := r.selectGeographic(ctx, cands, path, idx, senderKey)

	winner := r.combine(graphRes, geoRes, idx == len(path)-1)
	if winner != nil && winner.confidence >= 0.5 {
		res := foundWith(winner.record, winner.method, scoring.Clamp01(winner.confidence))
		if r.explain {
			res.Breakdown = winner.breakdown
		}
		return res
	}

	return collision(cands)
}

// selection is one method's pick: a record, its confidence, and which
// method produced it.
type selection struct {
	breakdown  *ScoreBreakdown
	method     string
	record     contacts.Record
	confidence float64
}

// combine arbitrates between the graph's pick and the geographic pick.
func (r *Resolver) combine(g, h *selection, finalHop bool) *selection {
	switch {
	case g == nil && h == nil:
		return nil
	case h == nil:
		return g
	case g == nil:
		return h
	}

	// A graph pick with no usable coordinates loses the final hop to a
	// geographic pick that has them: the last prefix is the node that
	// handed the packet to the bot, so physical placement dominates.
	if finalHop && !g.record.HasCoordinates() && h.record.HasCoordinates() {
		return h
	}

	if r.cfg.GraphCombinedMode {
		if g.record.PublicKey == h.record.PublicKey {
			w := r.cfg.GraphCombinedWeight
			merged := *g
			merged.method = MethodCombined
			merged.confidence = scoring.Clamp01(w*g.confidence + (1-w)*h.confidence)
			return &merged
		}
		if g.confidence >= h.confidence {
			return g
		}
		return h
	}

	if g.confidence >= r.cfg.GraphConfidenceOverrideThreshold {
		return g
	}
	if h.confidence > g.confidence {
		return h
	}
	return g
}
