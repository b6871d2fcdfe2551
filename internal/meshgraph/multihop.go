package meshgraph

import (
	"sort"
	"time"
)

// IntermediateCandidate is one result of FindIntermediateNodes: a prefix
// that could plausibly sit between `from` and `to`, with its score.
type IntermediateCandidate struct {
	Prefix string
	Score  float64
}

// FindIntermediateNodes infers plausible intermediates: given edges out
// of `from`, each destination is a candidate 2-hop intermediate if it
// also reaches `to`; if none qualify and maxHops >= 3,
// 3-hop paths are searched and the second intermediate is reported with a
// reliability penalty.
func (g *MeshGraph) FindIntermediateNodes(from, to string, minObs, maxHops int, now time.Time) []IntermediateCandidate {
	from = NormalizePrefix(from)
	to = NormalizePrefix(to)
	if from == "" || to == "" || from == to {
		return nil
	}

	var out []IntermediateCandidate
	seen := make(map[string]bool)

	for _, e1 := range g.OutgoingEdges(from) {
		i := e1.ToPrefix
		if i == from || i == to {
			continue
		}
		okFromI, confFromI := g.ValidateSegment(from, i, minObs, false, now)
		if !okFromI {
			continue
		}
		okIto, confIto := g.ValidateSegment(i, to, minObs, false, now)
		if !okIto {
			continue
		}

		score := min2(confFromI, confIto)
		score *= bidirectionalFactor(g, from, i, to, minObs)

		if !seen[i] {
			seen[i] = true
			out = append(out, IntermediateCandidate{Prefix: i, Score: score})
		}
	}

	if len(out) == 0 && maxHops >= 3 {
		out = g.find3HopIntermediates(from, to, minObs, now)
	}

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Score > out[b].Score
	})
	return out
}

// find3HopIntermediates searches from -> i1 -> i2 -> to and reports i2 as
// the candidate, penalized by 0.8x for the extra hop of uncertainty
//.
func (g *MeshGraph) find3HopIntermediates(from, to string, minObs int, now time.Time) []IntermediateCandidate {
	var out []IntermediateCandidate
	seen := make(map[string]bool)

	for _, e1 := range g.OutgoingEdges(from) {
		i1 := e1.ToPrefix
		if i1 == from || i1 == to {
			continue
		}
		ok1, conf1 := g.ValidateSegment(from, i1, minObs, false, now)
		if !ok1 {
			continue
		}

		for _, e2 := range g.OutgoingEdges(i1) {
			i2 := e2.ToPrefix
			if i2 == from || i2 == i1 || i2 == to {
				continue
			}
			ok2, conf2 := g.ValidateSegment(i1, i2, minObs, false, now)
			if !ok2 {
				continue
			}
			ok3, conf3 := g.ValidateSegment(i2, to, minObs, false, now)
			if !ok3 {
				continue
			}

			score := 0.8 * min3(conf1, conf2, conf3)
			if !seen[i2] {
				seen[i2] = true
				out = append(out, IntermediateCandidate{Prefix: i2, Score: score})
			}
		}
	}
	return out
}

// bidirectionalFactor returns 1.2 if both reverse edges (i->from, to->i)
// also exist with enough observations, 1.1 if exactly one does, else 1.0.
func bidirectionalFactor(g *MeshGraph, from, i, to string, minObs int) float64 {
	revCount := 0
	if e, ok := g.GetEdge(i, from); ok && e.ObservationCount >= minObs {
		revCount++
	}
	if e, ok := g.GetEdge(to, i); ok && e.ObservationCount >= minObs {
		revCount++
	}
	switch revCount {
	case 2:
		return 1.2
	case 1:
		return 1.1
	default:
		return 1.0
	}
}

func min2(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func min3(a, b, c float64) float64 {
	return min2(min2(a, b), c)
}
