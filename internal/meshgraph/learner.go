package meshgraph

// PathObservation is one received packet's routing trace, handed to
// ObservePath by the advertisement/path observer. Prefixes are in path
// order; Keys maps a path index to the full public key when the observer
// happens to know it (it usually doesn't).
type PathObservation struct {
	Keys     map[int]string
	Prefixes []string
}

// ObservePath records every consecutive pair in the observed path as a
// directed edge, carrying the hop position and any known public keys.
// The decoder never calls this; learning happens on the passive
// observation path only.
func (g *MeshGraph) ObservePath(obs PathObservation) {
	for i := 0; i+1 < len(obs.Prefixes); i++ {
		pos := i
		g.AddEdge(obs.Prefixes[i], obs.Prefixes[i+1], AddEdgeOptions{
			FromPublicKey: obs.Keys[i],
			ToPublicKey:   obs.Keys[i+1],
			HopPosition:   &pos,
		})
	}
}
