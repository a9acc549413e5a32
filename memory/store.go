// Package memory persists the conversation log: an append-only, ordered
// sequence of turns per conversation key. Keys are stable client identifiers
// such as phone numbers. Implementations never edit a persisted turn in
// place; clearing a key removes its turns while keeping the key valid for
// future appends.
package memory

import (
	"context"

	"github.com/convoloop/convoloop/core"
)

// Store is the conversation memory contract consumed by the agent executor.
//
// Append must be idempotent on turn identity: delivering the same turn twice
// (at-least-once delivery) results in a single stored copy. Read returns the
// most recent limit turns in chronological order and an empty slice for an
// unknown key; limit <= 0 means all turns. Clear removes every turn for the
// key without invalidating the key itself.
type Store interface {
	Append(ctx context.Context, key string, turn core.Turn) error
	Read(ctx context.Context, key string, limit int) ([]core.Turn, error)
	Clear(ctx context.Context, key string) error
}
