package auth

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/edugate/internal/models"
)

// MemoryBlacklist is a process-local Blacklist.
type MemoryBlacklist struct {
	mu      sync.Mutex
	entries map[string]revokedEntry
	now     func() time.Time
}

type revokedEntry struct {
	expiresAt time.Time
	reason    string
}

func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{entries: make(map[string]revokedEntry), now: time.Now}
}

func (b *MemoryBlacklist) Add(_ context.Context, token models.RevokedToken) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.entries[token.JTI]; ok && b.now().Before(e.expiresAt) {
		return true, nil
	}
	b.entries[token.JTI] = revokedEntry{expiresAt: token.ExpiresAt, reason: token.Reason}
	return false, nil
}

func (b *MemoryBlacklist) Lookup(_ context.Context, jti string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[jti]
	if !ok || !b.now().Before(e.expiresAt) {
		return "", false, nil
	}
	return e.reason, true, nil
}

// Prune removes entries whose tokens have expired.
func (b *MemoryBlacklist) Prune(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for jti, e := range b.entries {
		if !now.Before(e.expiresAt) {
			delete(b.entries, jti)
			removed++
		}
	}
	return removed
}
