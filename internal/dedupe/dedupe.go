// Package dedupe provides the idempotency store: an atomic claim-once record
// per (ticket, message) pair. A claim's presence means an annotation for that
// exact message has already been attempted or posted.
package dedupe

import (
	"context"
	"errors"
	"time"
)

// ClaimTTL bounds how long a claim forecloses reprocessing.
const ClaimTTL = 7 * 24 * time.Hour

// ErrStoreUnavailable is returned when the store cannot be reached. Callers
// must treat this as retryable, never as "not yet claimed".
var ErrStoreUnavailable = errors.New("idempotency store unavailable")

// Store claims (ticketID, messageID) pairs atomically: exactly one concurrent
// caller for the same pair observes claimed=true.
type Store interface {
	Claim(ctx context.Context, ticketID, messageID int) (bool, error)
	Close() error
}
