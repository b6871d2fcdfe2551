package meshgraph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addN(g *MeshGraph, from, to string, n int) {
	for i := 0; i < n; i++ {
		g.AddEdge(from, to, AddEdgeOptions{})
	}
}

func TestValidateSegment_BelowMinObsIsInvalid(t *testing.T) {
	g, _, clock := newTestGraph(t, WriteImmediate)
	addN(g, "01", "7e", 2)

	valid, conf := g.ValidateSegment("01", "7e", 3, false, *clock)
	assert.False(t, valid)
	assert.Zero(t, conf)
}

func TestValidateSegment_MissingEdgeIsInvalid(t *testing.T) {
	g, _, clock := newTestGraph(t, WriteImmediate)

	valid, conf := g.ValidateSegment("01", "7e", 1, false, *clock)
	assert.False(t, valid)
	assert.Zero(t, conf)
}

func TestValidateSegment_FreshEdgeConfidence(t *testing.T) {
	g, _, clock := newTestGraph(t, WriteImmediate)
	addN(g, "01", "7e", 6)

	valid, conf := g.ValidateSegment("01", "7e", 3, false, *clock)
	require.True(t, valid)
	// obs_conf = 0.3 + 0.7*(1 - 1/1.6) = 0.5625; rec_conf = 1 (fresh)
	assert.InDelta(t, 0.6*0.5625+0.4*1.0, conf, 0.0001)
}

func TestValidateSegment_ConfidenceNonDecreasingInObservations(t *testing.T) {
	g, _, clock := newTestGraph(t, WriteImmediate)
	addN(g, "01", "7e", 3)
	_, low := g.ValidateSegment("01", "7e", 3, false, *clock)

	addN(g, "01", "7e", 20)
	_, high := g.ValidateSegment("01", "7e", 3, false, *clock)

	assert.GreaterOrEqual(t, high, low)
}

func TestValidateSegment_ConfidenceNonIncreasingWithAge(t *testing.T) {
	g, _, clock := newTestGraph(t, WriteImmediate)
	addN(g, "01", "7e", 6)

	_, fresh := g.ValidateSegment("01", "7e", 3, false, *clock)
	_, day := g.ValidateSegment("01", "7e", 3, false, clock.Add(24*time.Hour))
	_, week := g.ValidateSegment("01", "7e", 3, false, clock.Add(7*24*time.Hour))

	assert.GreaterOrEqual(t, fresh, day)
	assert.GreaterOrEqual(t, day, week)
}

func TestValidateSegment_BidirectionalBonus(t *testing.T) {
	g, _, clock := newTestGraph(t, WriteImmediate)
	addN(g, "01", "7e", 6)

	_, uni := g.ValidateSegment("01", "7e", 3, true, *clock)

	addN(g, "7e", "01", 3)
	_, bi := g.ValidateSegment("01", "7e", 3, true, *clock)

	assert.InDelta(t, uni+0.15, bi, 0.0001)
	assert.LessOrEqual(t, bi, 1.0)
}

func TestValidateSegment_BidirectionalReverseBelowMinObsNoBonus(t *testing.T) {
	g, _, clock := newTestGraph(t, WriteImmediate)
	addN(g, "01", "7e", 6)
	addN(g, "7e", "01", 2)

	_, uni := g.ValidateSegment("01", "7e", 3, false, *clock)
	_, checked := g.ValidateSegment("01", "7e", 3, true, *clock)

	assert.InDelta(t, uni, checked, 0.0001)
}

func TestValidatePath_TrivialPathsValidate(t *testing.T) {
	g, _, clock := newTestGraph(t, WriteImmediate)

	valid, conf := g.ValidatePath(nil, 3, *clock)
	assert.True(t, valid)
	assert.InDelta(t, 1.0, conf, 0.0001)

	valid, conf = g.ValidatePath([]string{"01"}, 3, *clock)
	assert.True(t, valid)
	assert.InDelta(t, 1.0, conf, 0.0001)
}

func TestValidatePath_AveragesSegments(t *testing.T) {
	g, _, clock := newTestGraph(t, WriteImmediate)
	addN(g, "01", "7e", 6)
	addN(g, "7e", "86", 6)

	valid, conf := g.ValidatePath([]string{"01", "7e", "86"}, 3, *clock)
	assert.True(t, valid)

	_, seg := g.ValidateSegment("01", "7e", 3, false, *clock)
	assert.InDelta(t, seg, conf, 0.0001, "identical segments average to themselves")
}

func TestValidatePath_OneMissingSegmentInvalidates(t *testing.T) {
	g, _, clock := newTestGraph(t, WriteImmediate)
	addN(g, "01", "7e", 6)

	valid, conf := g.ValidatePath([]string{"01", "7e", "86"}, 3, *clock)
	assert.False(t, valid)
	assert.Less(t, conf, 1.0)
}

func TestCandidateScore_NoValidSegmentIsZero(t *testing.T) {
	g, _, clock := newTestGraph(t, WriteImmediate)
	prev, next := "01", "86"

	score := g.CandidateScore("7e", &prev, &next, CandidateScoreOptions{MinObs: 3}, *clock)
	assert.Zero(t, score)
}

func TestCandidateScore_AveragesBothSegments(t *testing.T) {
	g, _, clock := newTestGraph(t, WriteImmediate)
	addN(g, "01", "7e", 6)
	addN(g, "7e", "86", 6)
	prev, next := "01", "86"

	_, seg := g.ValidateSegment("01", "7e", 3, false, *clock)
	score := g.CandidateScore("7e", &prev, &next, CandidateScoreOptions{MinObs: 3}, *clock)
	assert.InDelta(t, seg, score, 0.0001)
}

func TestCandidateScore_HopPositionBonus(t *testing.T) {
	g, _, clock := newTestGraph(t, WriteImmediate)
	pos := 1
	for i := 0; i < 6; i++ {
		g.AddEdge("01", "7e", AddEdgeOptions{HopPosition: &pos})
	}
	prev := "01"

	base := g.CandidateScore("7e", &prev, nil, CandidateScoreOptions{MinObs: 3}, *clock)
	hinted := g.CandidateScore("7e", &prev, nil, CandidateScoreOptions{
		MinObs:         3,
		HopPosition:    &pos,
		UseHopPosition: true,
	}, *clock)

	assert.InDelta(t, base+0.1, hinted, 0.0001)
}

func TestCandidateScore_GeographicDistanceBonus(t *testing.T) {
	g, _, clock := newTestGraph(t, WriteImmediate)
	d := 12.0
	for i := 0; i < 6; i++ {
		g.AddEdge("01", "7e", AddEdgeOptions{GeographicDistance: &d})
	}
	prev := "01"

	_, plain := g.ValidateSegment("01", "7e", 3, false, *clock)
	score := g.CandidateScore("7e", &prev, nil, CandidateScoreOptions{MinObs: 3}, *clock)
	assert.InDelta(t, plain+0.05, score, 0.0001)
}

func TestCandidateScore_CapsAtOne(t *testing.T) {
	g, _, clock := newTestGraph(t, WriteImmediate)
	d := 5.0
	pos := 1
	for i := 0; i < 100; i++ {
		g.AddEdge("01", "7e", AddEdgeOptions{GeographicDistance: &d, HopPosition: &pos})
		g.AddEdge("7e", "01", AddEdgeOptions{})
	}
	prev := "01"

	score := g.CandidateScore("7e", &prev, nil, CandidateScoreOptions{
		MinObs:           3,
		HopPosition:      &pos,
		UseBidirectional: true,
		UseHopPosition:   true,
	}, *clock)
	assert.LessOrEqual(t, score, 1.0)
}
