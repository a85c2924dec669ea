// Package dedup provides short-lived idempotency keys for webhook deliveries.
// Providers retry deliveries aggressively; marking each delivery ID as seen
// lets handlers acknowledge duplicates without reprocessing.
package dedup

import (
	"context"
	"time"
)

// Store marks keys as seen for a bounded window.
type Store interface {
	// MarkSeen records the key and reports whether it was already present.
	// The key expires after ttl.
	MarkSeen(ctx context.Context, key string, ttl time.Duration) (alreadySeen bool, err error)
	// Forget releases a key so the next delivery with it is processed
	// again. Callers use it when processing fails after MarkSeen, so the
	// provider's retry is not swallowed as a duplicate.
	Forget(ctx context.Context, key string) error
}
