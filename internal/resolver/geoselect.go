package resolver

import (
	"context"
	"sort"

	"github.com/jtstockton/meshresolver/internal/config"
	"github.com/jtstockton/meshresolver/internal/contacts"
	"github.com/jtstockton/meshresolver/internal/meshgraph"
	"github.com/jtstockton/meshresolver/internal/scoring"
)

// proximityNormKM converts a distance to the bot or to a context node
// into a [0,1] proximity score.
const proximityNormKM = 1000

// scoredCandidate pairs a candidate with its blended geographic score.
type scoredCandidate struct {
	record   contacts.Record
	combined float64
	recency  float64
	prox     float64
}

// selectGeographic runs the configured proximity calculator. Returns nil
// when geography can't decide: no bot location for the simple method, or
// no usable context for the path method with fallback disabled.
func (r *Resolver) selectGeographic(ctx context.Context, cands []contacts.Record, path []string, idx int, senderKey string) *selection {
	if r.cfg.ProximityMethod == config.ProximityPath {
		if sel := r.selectGeoPath(ctx, cands, path, idx, senderKey); sel != nil {
			return sel
		}
		if !r.cfg.PathProximityFallback {
			return nil
		}
	}
	return r.selectGeoSimple(cands)
}

// selectGeoSimple scores each candidate by recency blended with
// proximity to the bot, then derives confidence from the winner's margin
// over the runner-up.
func (r *Resolver) selectGeoSimple(cands []contacts.Record) *selection {
	if r.botLoc == nil {
		return nil
	}

	scored := r.scoreByLocation(cands, []contacts.LatLon{*r.botLoc}, r.cfg.RecencyWeight)
	if len(scored) == 0 {
		return nil
	}

	winner := scored[0]
	conf, ok := 0.5, false
	if len(scored) == 1 {
		conf, ok = scoring.RatioConfidence(winner.combined, 0)
	} else {
		conf, ok = scoring.RatioConfidence(winner.combined, scored[1].combined)
	}
	if !ok {
		// Too close to call on score alone; fall through to the
		// deterministic tie-breakers at fixed confidence.
		winner = pickTieBreak(scored)
		conf = 0.5
	}

	return r.geoSelection(winner, conf)
}

// selectGeoPath anchors scoring to the candidate's neighbors in the
// path: the sender on the first hop, the bot on the last, and the
// best-known coordinates of the adjacent prefixes in between.
func (r *Resolver) selectGeoPath(ctx context.Context, cands []contacts.Record, path []string, idx int, senderKey string) *selection {
	var anchors []contacts.LatLon
	recencyWeight := r.cfg.RecencyWeight

	switch {
	case idx == 0:
		if loc, ok := r.senderLocation(ctx, senderKey); ok {
			anchors = []contacts.LatLon{loc}
			recencyWeight = 0
		}
	case idx == len(path)-1:
		if r.botLoc != nil {
			anchors = []contacts.LatLon{*r.botLoc}
			recencyWeight = 0
		}
	}

	if len(anchors) == 0 {
		anchors = r.adjacentLocations(ctx, path, idx)
	}
	if len(anchors) == 0 {
		return nil
	}

	scored := r.scoreByLocation(cands, anchors, recencyWeight)
	if len(scored) == 0 {
		return nil
	}

	winner := scored[0]
	if len(scored) > 1 && winner.combined == scored[1].combined {
		winner = pickTieBreak(scored)
	}
	return r.geoSelection(winner, scoring.PathConfidence(winner.combined))
}

func (r *Resolver) geoSelection(winner scoredCandidate, conf float64) *selection {
	sel := &selection{
		record:     winner.record,
		method:     MethodGeographic,
		confidence: conf,
	}
	if r.explain {
		sel.breakdown = &ScoreBreakdown{
			GeoRecency:   winner.recency,
			GeoProximity: winner.prox,
			GeoCombined:  winner.combined,
		}
	}
	return sel
}

// scoreByLocation blends recency with the average proximity to the given
// anchor locations, applies star bias and the direct-hear bonus, and
// rejects candidates that are too stale or beyond the hard range limit.
// Results come back sorted best-first.
func (r *Resolver) scoreByLocation(cands []contacts.Record, anchors []contacts.LatLon, recencyWeight float64) []scoredCandidate {
	now := r.now()
	var scored []scoredCandidate

	for _, c := range cands {
		rec := 0.0
		if ts, ok := c.MostRecent(); ok {
			if !scoring.PassesRecencyFloor(ts, now, r.cfg.RecencyDecayHalfLifeHours) {
				continue
			}
			rec = scoring.RecencyScore(ts, now, r.cfg.RecencyDecayHalfLifeHours)
		}

		prox := 0.0
		if c.HasCoordinates() {
			total := 0.0
			for _, a := range anchors {
				total += scoring.HaversineKM(a.Lat, a.Lon, c.Latitude, c.Longitude)
			}
			avgDist := total / float64(len(anchors))
			if r.cfg.MaxProximityRangeKM > 0 && avgDist > r.cfg.MaxProximityRangeKM {
				continue
			}
			prox = scoring.ProximityScore(avgDist, proximityNormKM)
		}

		combined := scoring.WeightedBlend(rec, prox, recencyWeight)
		combined = scoring.ApplyStarBias(combined, c.IsStarred, r.cfg.StarBiasMultiplier)
		combined += scoring.ZeroHopOrSNRBonus(combined, c.HasSNR(), c.IsZeroHop(), scoring.DefaultZeroHopBonusFraction)

		scored = append(scored, scoredCandidate{
			record:   c,
			combined: combined,
			recency:  rec,
			prox:     prox,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].combined > scored[j].combined
	})
	return scored
}

// senderLocation resolves the sending node's coordinates from its full
// public key.
func (r *Resolver) senderLocation(ctx context.Context, senderKey string) (contacts.LatLon, bool) {
	if senderKey == "" {
		return contacts.LatLon{}, false
	}
	rec, ok, err := r.store.ByPublicKey(ctx, senderKey)
	if err != nil {
		r.log.Debug().Err(err).Msg("sender location lookup failed")
		return contacts.LatLon{}, false
	}
	if !ok || !rec.HasCoordinates() {
		return contacts.LatLon{}, false
	}
	return contacts.LatLon{Lat: rec.Latitude, Lon: rec.Longitude}, true
}

// adjacentLocations looks up the best-known coordinates of the prefixes
// on either side of idx.
func (r *Resolver) adjacentLocations(ctx context.Context, path []string, idx int) []contacts.LatLon {
	var anchors []contacts.LatLon
	for _, neighbor := range []int{idx - 1, idx + 1} {
		if neighbor < 0 || neighbor >= len(path) {
			continue
		}
		p := meshgraph.NormalizePrefix(path[neighbor])
		if p == "" {
			continue
		}
		loc, ok, err := r.store.BestCoordinates(ctx, p, r.botLoc)
		if err != nil {
			r.log.Debug().Err(err).Str("prefix", p).Msg("adjacent coordinate lookup failed")
			continue
		}
		if ok {
			anchors = append(anchors, loc)
		}
	}
	return anchors
}

// pickTieBreak applies the deterministic tie-breakers in order: active
// status, most recent observation, advert count, then name.
func pickTieBreak(scored []scoredCandidate) scoredCandidate {
	best := scored[0]
	for _, s := range scored[1:] {
		if tieBreakLess(best.record, s.record) {
			best = s
		}
	}
	return best
}

// tieBreakLess reports whether b should beat a.
func tieBreakLess(a, b contacts.Record) bool {
	if a.IsActive != b.IsActive {
		return b.IsActive
	}
	at, aok := a.MostRecent()
	bt, bok := b.MostRecent()
	if aok != bok {
		return bok
	}
	if aok && !at.Equal(bt) {
		return bt.After(at)
	}
	if a.AdvertCount != b.AdvertCount {
		return b.AdvertCount > a.AdvertCount
	}
	return b.Name < a.Name
}
