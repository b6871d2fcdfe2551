package meshgraph

import (
	"math"
	"time"
)

// segmentObsConfidence converts an observation count into the [0,1]
// observation-confidence component of segment confidence:
// min(1.0, 0.3 + 0.7*(1 - 1/(1 + obs/10))).
func segmentObsConfidence(obs int) float64 {
	v := 0.3 + 0.7*(1-1/(1+float64(obs)/10))
	if v > 1.0 {
		return 1.0
	}
	return v
}

// segmentRecencyConfidence converts hours-since-last-seen into the
// recency-confidence component: 1 if hours < 1, else max(0, 2^(-hours/48)).
func segmentRecencyConfidence(hoursSinceLastSeen float64) float64 {
	if hoursSinceLastSeen < 0 {
		hoursSinceLastSeen = 0
	}
	if hoursSinceLastSeen < 1 {
		return 1.0
	}
	v := math.Pow(2, -hoursSinceLastSeen/48.0)
	if v < 0 {
		return 0
	}
	return v
}

// ValidateSegment reports the confidence that the directed edge
// (from -> to) is a real, fresh observation with at least minObs
// observations.
func (g *MeshGraph) ValidateSegment(from, to string, minObs int, checkBidirectional bool, now time.Time) (valid bool, confidence float64) {
	e, ok := g.GetEdge(from, to)
	if !ok || e.ObservationCount < minObs {
		return false, 0.0
	}

	hours := now.Sub(e.LastSeen).Hours()
	obsConf := segmentObsConfidence(e.ObservationCount)
	recConf := segmentRecencyConfidence(hours)
	conf := 0.6*obsConf + 0.4*recConf

	if checkBidirectional {
		if rev, ok := g.GetEdge(to, from); ok && rev.ObservationCount >= minObs {
			conf += 0.15
			if conf > 1.0 {
				conf = 1.0
			}
		}
	}

	return true, conf
}

// ValidatePath returns the average segment confidence across consecutive
// prefixes. Single-node or empty paths trivially validate as (true, 1.0).
func (g *MeshGraph) ValidatePath(prefixes []string, minObs int, now time.Time) (valid bool, avgConfidence float64) {
	if len(prefixes) < 2 {
		return true, 1.0
	}

	total := 0.0
	allValid := true
	segments := 0
	for i := 0; i < len(prefixes)-1; i++ {
		ok, conf := g.ValidateSegment(prefixes[i], prefixes[i+1], minObs, false, now)
		if !ok {
			allValid = false
		}
		total += conf
		segments++
	}

	if segments == 0 {
		return true, 1.0
	}
	return allValid, total / float64(segments)
}

// CandidateScoreOptions configures CandidateScore.
type CandidateScoreOptions struct {
	MinObs           int
	HopPosition      *int
	UseBidirectional bool
	UseHopPosition   bool
}

// CandidateScore rates how well a candidate prefix fits between an
// optional previous and next prefix in an observed path, based on graph
// evidence alone.
func (g *MeshGraph) CandidateScore(candidate string, prev, next *string, opts CandidateScoreOptions, now time.Time) float64 {
	var confs []float64
	var prevEdge, nextEdge *Edge

	if prev != nil {
		if ok, conf := g.ValidateSegment(*prev, candidate, opts.MinObs, opts.UseBidirectional, now); ok {
			confs = append(confs, conf)
			prevEdge, _ = g.GetEdge(*prev, candidate)
		}
	}
	if next != nil {
		if ok, conf := g.ValidateSegment(candidate, *next, opts.MinObs, opts.UseBidirectional, now); ok {
			confs = append(confs, conf)
			nextEdge, _ = g.GetEdge(candidate, *next)
		}
	}

	if len(confs) == 0 {
		return 0
	}

	sum := 0.0
	for _, c := range confs {
		sum += c
	}
	base := sum / float64(len(confs))

	if opts.UseHopPosition && opts.HopPosition != nil {
		hp := float64(*opts.HopPosition)
		match := prevEdge != nil && prevEdge.AvgHopPosition != nil &&
			math.Abs(hp-*prevEdge.AvgHopPosition) <= 0.5
		if !match && nextEdge != nil && nextEdge.AvgHopPosition != nil {
			// The outgoing edge was recorded one position later than the
			// candidate itself sits.
			match = math.Abs(hp-(*nextEdge.AvgHopPosition-1)) <= 0.5
		}
		if match {
			base += 0.1
		}
	}

	if (prevEdge != nil && prevEdge.GeographicDistance != nil) || (nextEdge != nil && nextEdge.GeographicDistance != nil) {
		base += 0.05
	}

	if base > 1.0 {
		return 1.0
	}
	return base
}
