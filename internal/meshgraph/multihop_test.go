package meshgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindIntermediateNodes_TwoHop(t *testing.T) {
	g, _, clock := newTestGraph(t, WriteImmediate)
	addN(g, "01", "7e", 6)
	addN(g, "7e", "86", 6)

	results := g.FindIntermediateNodes("01", "86", 3, 2, *clock)
	require.Len(t, results, 1)
	assert.Equal(t, "7e", results[0].Prefix)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestFindIntermediateNodes_NeverReturnsEndpoints(t *testing.T) {
	g, _, clock := newTestGraph(t, WriteImmediate)
	addN(g, "01", "01", 6)
	addN(g, "01", "86", 6)
	addN(g, "86", "86", 6)

	for _, r := range g.FindIntermediateNodes("01", "86", 3, 3, *clock) {
		assert.NotEqual(t, "01", r.Prefix)
		assert.NotEqual(t, "86", r.Prefix)
	}
}

func TestFindIntermediateNodes_BidirectionalFactor(t *testing.T) {
	g, _, clock := newTestGraph(t, WriteImmediate)
	addN(g, "01", "7e", 6)
	addN(g, "7e", "86", 6)

	base := g.FindIntermediateNodes("01", "86", 3, 2, *clock)[0].Score

	addN(g, "7e", "01", 3)
	oneRev := g.FindIntermediateNodes("01", "86", 3, 2, *clock)[0].Score
	assert.InDelta(t, base*1.1, oneRev, 0.0001)

	addN(g, "86", "7e", 3)
	bothRev := g.FindIntermediateNodes("01", "86", 3, 2, *clock)[0].Score
	assert.InDelta(t, base*1.2, bothRev, 0.0001)
}

func TestFindIntermediateNodes_ThreeHopFallback(t *testing.T) {
	g, _, clock := newTestGraph(t, WriteImmediate)
	addN(g, "01", "aa", 6)
	addN(g, "aa", "bb", 6)
	addN(g, "bb", "86", 6)

	// No 2-hop path exists, so maxHops=2 finds nothing.
	assert.Empty(t, g.FindIntermediateNodes("01", "86", 3, 2, *clock))

	results := g.FindIntermediateNodes("01", "86", 3, 3, *clock)
	require.Len(t, results, 1)
	assert.Equal(t, "bb", results[0].Prefix, "the second intermediate is reported")

	// The 3-hop score carries the reliability penalty.
	_, seg := g.ValidateSegment("01", "aa", 3, false, *clock)
	assert.InDelta(t, 0.8*seg, results[0].Score, 0.0001)
}

func TestFindIntermediateNodes_ThreeHopExcludesLoops(t *testing.T) {
	g, _, clock := newTestGraph(t, WriteImmediate)
	addN(g, "01", "aa", 6)
	addN(g, "aa", "01", 6)
	addN(g, "aa", "aa", 6)
	addN(g, "01", "86", 6)

	for _, r := range g.FindIntermediateNodes("01", "86", 3, 3, *clock) {
		assert.NotEqual(t, "01", r.Prefix)
	}
}

func TestFindIntermediateNodes_SortedByScoreDescending(t *testing.T) {
	g, _, clock := newTestGraph(t, WriteImmediate)
	addN(g, "01", "aa", 3)
	addN(g, "aa", "86", 3)
	addN(g, "01", "bb", 20)
	addN(g, "bb", "86", 20)

	results := g.FindIntermediateNodes("01", "86", 3, 2, *clock)
	require.Len(t, results, 2)
	assert.Equal(t, "bb", results[0].Prefix, "stronger edges sort first")
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestFindIntermediateNodes_SameFromToReturnsNothing(t *testing.T) {
	g, _, clock := newTestGraph(t, WriteImmediate)
	addN(g, "01", "7e", 6)
	addN(g, "7e", "01", 6)

	assert.Empty(t, g.FindIntermediateNodes("01", "01", 3, 2, *clock))
}
