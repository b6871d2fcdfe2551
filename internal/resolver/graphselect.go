package resolver

import (
	"context"

	"github.com/jtstockton/meshresolver/internal/contacts"
	"github.com/jtstockton/meshresolver/internal/meshgraph"
	"github.com/jtstockton/meshresolver/internal/scoring"
)

// Multi-hop inference only runs when direct-edge evidence is weaker than
// this.
const multiHopFallbackThreshold = 0.6

// storedKeyBonusPerEdge is added for each adjacent edge whose learned
// public key matches the candidate, up to twice.
const storedKeyBonusPerEdge = 0.2

// selectGraph scores every candidate against the mesh graph and returns
// the best, or nil when every candidate scores zero. On the final hop the
// proximity blend alone can give a candidate with no edge evidence a
// positive score, so such a candidate can still be returned.
func (r *Resolver) selectGraph(ctx context.Context, cands []contacts.Record, path []string, idx int) *selection {
	var best *selection
	var bestRaw float64

	for _, c := range cands {
		raw, method, bd := r.scoreGraphCandidate(ctx, c, path, idx)
		if raw <= 0 {
			continue
		}
		if best == nil || raw > bestRaw {
			bestRaw = raw
			sel := &selection{
				record:     c,
				method:     method,
				confidence: scoring.CompressOverflow(raw),
			}
			if r.explain {
				b := bd
				b.GraphRaw = raw
				sel.breakdown = &b
			}
			best = sel
		}
	}
	return best
}

// scoreGraphCandidate builds one candidate's graph score: direct-edge
// evidence plus the stored-key, signal, and path-history bonuses, a
// multi-hop fallback when direct evidence is weak, the intermediate-hop
// distance penalty, the final-hop proximity blend, and star bias last.
func (r *Resolver) scoreGraphCandidate(ctx context.Context, c contacts.Record, path []string, idx int) (float64, string, ScoreBreakdown) {
	var bd ScoreBreakdown
	prefix := meshgraph.NormalizePrefix(path[idx])

	var prev, next *string
	if idx > 0 {
		p := meshgraph.NormalizePrefix(path[idx-1])
		if p != "" {
			prev = &p
		}
	}
	if idx < len(path)-1 {
		n := meshgraph.NormalizePrefix(path[idx+1])
		if n != "" {
			next = &n
		}
	}

	hop := idx
	score := r.graph.CandidateScore(prefix, prev, next, meshgraph.CandidateScoreOptions{
		MinObs:           r.cfg.MinEdgeObservations,
		HopPosition:      &hop,
		UseBidirectional: r.cfg.GraphUseBidirectional,
		UseHopPosition:   r.cfg.GraphUseHopPosition,
	}, r.now())
	bd.GraphBase = score

	var prevEdge, nextEdge *meshgraph.Edge
	if prev != nil {
		prevEdge, _ = r.graph.GetEdge(*prev, prefix)
	}
	if next != nil {
		nextEdge, _ = r.graph.GetEdge(prefix, *next)
	}

	if r.cfg.GraphPreferStoredKeys && score > 0 {
		var bonus float64
		if prevEdge != nil && prevEdge.ToPublicKey != "" && prevEdge.ToPublicKey == c.PublicKey {
			bonus += storedKeyBonusPerEdge
		}
		if nextEdge != nil && nextEdge.FromPublicKey != "" && nextEdge.FromPublicKey == c.PublicKey {
			bonus += storedKeyBonusPerEdge
		}
		bd.StoredKeyBonus = bonus
		score += bonus
	}

	if score > 0 {
		switch {
		case c.HasSNR():
			bd.SignalBonus = scoring.SNRBonusMultiplier * r.cfg.GraphZeroHopBonus
		case c.IsZeroHop():
			bd.SignalBonus = r.cfg.GraphZeroHopBonus
		}
		score += bd.SignalBonus
	}

	if score > 0 {
		bd.PathHistoryBonus = r.pathHistoryBonus(ctx, c.PublicKey, path)
		score += bd.PathHistoryBonus
	}

	score = scoring.Clamp01(score)

	method := MethodGraph
	if score < multiHopFallbackThreshold && prev != nil && next != nil && r.cfg.GraphMultiHopEnabled {
		for _, ic := range r.graph.FindIntermediateNodes(*prev, *next, r.cfg.MinEdgeObservations, r.cfg.GraphMultiHopMaxHops, r.now()) {
			if ic.Prefix != prefix {
				continue
			}
			bd.MultiHopScore = ic.Score
			if ic.Score > score {
				score = ic.Score
				method = MethodGraphMultiHop
			}
			break
		}
	}

	if next != nil {
		penalty := r.hopDistancePenalty(prevEdge, nextEdge)
		bd.DistancePenalty = penalty
		score *= 1 - penalty
	} else {
		score = r.applyFinalHopProximity(c, score, &bd)
	}

	bd.StarMultiplier = 1
	if c.IsStarred {
		bd.StarMultiplier = r.cfg.StarBiasMultiplier
	}
	score = scoring.ApplyStarBias(score, c.IsStarred, r.cfg.StarBiasMultiplier)

	return score, method, bd
}

// pathHistoryBonus rewards a candidate whose historically observed paths
// share a long common prefix with the path being decoded.
func (r *Resolver) pathHistoryBonus(ctx context.Context, publicKey string, path []string) float64 {
	if r.history == nil || r.cfg.GraphPathValidationMaxBonus <= 0 {
		return 0
	}
	paths, err := r.history.PathsTo(ctx, publicKey)
	if err != nil {
		r.log.Debug().Err(err).Msg("path history lookup failed")
		return 0
	}

	var best float64
	for _, p := range paths {
		common := commonPrefixTokens(p.Prefixes, path)
		if common < 2 {
			continue
		}
		bonus := 0.05 * float64(common)
		if bonus > 0.2 {
			bonus = 0.2
		}
		obsPart := float64(p.Observations) / r.cfg.GraphPathValidationObsDiv
		if obsPart > 0.15 {
			obsPart = 0.15
		}
		bonus += obsPart
		if bonus > r.cfg.GraphPathValidationMaxBonus {
			bonus = r.cfg.GraphPathValidationMaxBonus
		}
		if bonus > best {
			best = bonus
		}
	}
	return best
}

// commonPrefixTokens counts matching prefix tokens from index 0, stopping
// at the first mismatch.
func commonPrefixTokens(a, b []string) int {
	n := 0
	for n < len(a) && n < len(b) {
		if meshgraph.NormalizePrefix(a[n]) != meshgraph.NormalizePrefix(b[n]) {
			break
		}
		n++
	}
	return n
}

// hopDistancePenalty penalizes an intermediate hop whose adjacent edges
// carry an implausibly long learned distance. Full strength ramps in
// past the threshold; a half-strength ramp starts at 80% of it.
func (r *Resolver) hopDistancePenalty(prevEdge, nextEdge *meshgraph.Edge) float64 {
	maxDist := -1.0
	for _, e := range []*meshgraph.Edge{prevEdge, nextEdge} {
		if e != nil && e.GeographicDistance != nil && *e.GeographicDistance > maxDist {
			maxDist = *e.GeographicDistance
		}
	}
	if maxDist < 0 {
		return 0
	}

	threshold := r.cfg.GraphDistancePenaltyKM
	strength := r.cfg.GraphDistancePenaltyStrength
	if threshold <= 0 || strength <= 0 {
		return 0
	}

	switch {
	case maxDist > threshold:
		excess := (maxDist - threshold) / threshold
		if excess > 1 {
			excess = 1
		}
		return excess * strength
	case maxDist >= 0.8*threshold:
		ramp := (maxDist - 0.8*threshold) / (0.2 * threshold)
		return 0.5 * strength * ramp
	default:
		return 0
	}
}

// applyFinalHopProximity blends the final hop's graph score with
// proximity to the bot: the last prefix in a path is the node the bot
// actually heard, so nearby candidates are strongly favored and a
// candidate with no known location is halved.
func (r *Resolver) applyFinalHopProximity(c contacts.Record, score float64, bd *ScoreBreakdown) float64 {
	if r.botLoc == nil {
		return score
	}
	if !c.HasCoordinates() {
		bd.FinalHopBlend = -0.5
		return score * 0.5
	}

	d := scoring.HaversineKM(r.botLoc.Lat, r.botLoc.Lon, c.Latitude, c.Longitude)
	if r.cfg.GraphFinalHopMaxDistanceKM > 0 && d > r.cfg.GraphFinalHopMaxDistanceKM {
		return score
	}

	prox := scoring.ProximityScore(d, r.cfg.GraphFinalHopNormalizationKM)
	w := r.cfg.GraphFinalHopWeight
	if d < 30 && w < 0.5 {
		w = 0.5
	}
	if d < 10 && w < 0.7 {
		w = 0.7
	}
	bd.FinalHopBlend = w * prox
	return (1-w)*score + w*prox
}
