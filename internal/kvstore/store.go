package kvstore

import (
	"context"
	"time"
)

// Store is the shared counter backend behind authentication rate limiting.
// All three operations must be atomic with respect to concurrent calls for
// the same key; callers never read-then-write counters themselves.
type Store interface {
	// Hit records one attempt under key and returns how many attempts the
	// current window holds, including this one.
	Hit(ctx context.Context, key string, window time.Duration) (int, error)

	// Block marks key as denied until the given time.
	Block(ctx context.Context, key string, until time.Time) error

	// BlockedUntil reports whether key is currently blocked and until when.
	BlockedUntil(ctx context.Context, key string) (time.Time, bool, error)
}
