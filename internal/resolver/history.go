package resolver

import (
	"context"

	"github.com/jtstockton/meshresolver/internal/contacts"
)

// ObservedPath is one historically observed routing trace terminating at
// a particular repeater, with how many times it was seen.
type ObservedPath struct {
	Prefixes     []string
	Observations int
}

// PathHistory is the optional store of paths historically observed
// terminating at a given full public key, consulted for the
// path-validation bonus. A nil PathHistory (or a zero
// graph_path_validation_max_bonus) disables the bonus without affecting
// any other scoring.
type PathHistory interface {
	PathsTo(ctx context.Context, publicKey string) ([]ObservedPath, error)
}

// LiveContacts is the radio's live contacts cache, scanned as a last
// resort when the persistent contact store has no candidate for a
// prefix. A hit is treated as an active single candidate, with no
// collision detection.
type LiveContacts interface {
	ByPrefix(ctx context.Context, prefix string) (contacts.Record, bool, error)
}
