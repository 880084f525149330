package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps claims in process memory. Claims do not survive a restart
// and are not shared across instances, so it is only suitable for tests and
// single-instance local runs.
type MemoryStore struct {
	c *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: cache.New(ClaimTTL, time.Hour)}
}

// Claim relies on cache.Add, which inserts only when no live entry exists and
// takes the cache lock, so concurrent claims for the same pair race safely.
func (s *MemoryStore) Claim(_ context.Context, ticketID, messageID int) (bool, error) {
	key := fmt.Sprintf("processed:%d:%d", ticketID, messageID)
	if err := s.c.Add(key, struct{}{}, ClaimTTL); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Close() error {
	s.c.Flush()
	return nil
}
