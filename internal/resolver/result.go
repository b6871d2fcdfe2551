package resolver

import "github.com/jtstockton/meshresolver/internal/contacts"

// Selection methods reported on a resolved token. Empty method means no
// choice was made (single candidate, or a live-contacts hit).
const (
	MethodGraph         = "graph"
	MethodGraphMultiHop = "graph_multihop"
	MethodGeographic    = "geographic"
	MethodCombined      = "graph_geographic_combined"
)

// Kind classifies one token's resolution outcome.
type Kind int

const (
	// Found means exactly one repeater identity was selected.
	Found Kind = iota
	// Collision means two or more recent candidates share the prefix and
	// no method produced confidence >= 0.5.
	Collision
	// NotFound means no candidate passed the recency floor.
	NotFound
)

// Result is the outcome of resolving one prefix at one path position.
type Result struct {
	Confidence *float64
	Breakdown  *ScoreBreakdown
	Method     string
	Matches    []contacts.Record
	Record     contacts.Record
	Kind       Kind
}

// ScoreBreakdown itemizes how the winning candidate's score was built,
// for debugging and for explaining a pick to an operator. Populated only
// when the resolver runs with explain enabled.
type ScoreBreakdown struct {
	GraphBase        float64 `json:"graph_base"`
	StoredKeyBonus   float64 `json:"stored_key_bonus"`
	SignalBonus      float64 `json:"signal_bonus"`
	PathHistoryBonus float64 `json:"path_history_bonus"`
	MultiHopScore    float64 `json:"multi_hop_score"`
	DistancePenalty  float64 `json:"distance_penalty"`
	FinalHopBlend    float64 `json:"final_hop_blend"`
	StarMultiplier   float64 `json:"star_multiplier"`
	GraphRaw         float64 `json:"graph_raw"`
	GeoRecency       float64 `json:"geo_recency"`
	GeoProximity     float64 `json:"geo_proximity"`
	GeoCombined      float64 `json:"geo_combined"`
}

func found(rec contacts.Record) Result {
	return Result{Kind: Found, Record: rec}
}

func foundWith(rec contacts.Record, method string, confidence float64) Result {
	return Result{Kind: Found, Record: rec, Method: method, Confidence: &confidence}
}

func collision(matches []contacts.Record) Result {
	return Result{Kind: Collision, Matches: matches}
}

func notFound() Result {
	return Result{Kind: NotFound}
}
