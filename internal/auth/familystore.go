package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// FamilyStore maps (userID, familyID) to the currently valid refresh token
// id. A family holds at most one valid id at any time; the family is the
// unit of revocation.
type FamilyStore interface {
	// Put records tokenID as the current id for the family with the given TTL.
	Put(ctx context.Context, userID, familyID, tokenID string, ttl time.Duration) error
	// CompareAndDelete removes the family entry only if it currently holds
	// tokenID. It returns false when the entry is absent or holds a
	// different id, which rotation treats as evidence of token reuse.
	CompareAndDelete(ctx context.Context, userID, familyID, tokenID string) (bool, error)
	// RevokeAll deletes every family entry for the user.
	RevokeAll(ctx context.Context, userID string) error
}

func familyKey(userID, familyID string) string {
	return fmt.Sprintf("refresh:%s:%s", userID, familyID)
}

// RedisFamilyStore keeps family state in Redis with per-key TTLs.
type RedisFamilyStore struct {
	rdb *redis.Client
}

var _ FamilyStore = (*RedisFamilyStore)(nil)

// compareAndDelete runs the read-compare-delete sequence atomically on the
// server so two concurrent rotations cannot both observe the old id.
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedisFamilyStore(rdb *redis.Client) *RedisFamilyStore {
	return &RedisFamilyStore{rdb: rdb}
}

func (s *RedisFamilyStore) Put(ctx context.Context, userID, familyID, tokenID string, ttl time.Duration) error {
	return s.rdb.Set(ctx, familyKey(userID, familyID), tokenID, ttl).Err()
}

func (s *RedisFamilyStore) CompareAndDelete(ctx context.Context, userID, familyID, tokenID string) (bool, error) {
	n, err := compareAndDelete.Run(ctx, s.rdb, []string{familyKey(userID, familyID)}, tokenID).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisFamilyStore) RevokeAll(ctx context.Context, userID string) error {
	iter := s.rdb.Scan(ctx, 0, familyKey(userID, "*"), 100).Iterator()
	for iter.Next(ctx) {
		if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// MemoryFamilyStore is a mutex-guarded in-process implementation used in
// tests and single-node deployments.
type MemoryFamilyStore struct {
	mu      sync.Mutex
	entries map[string]memoryFamilyEntry
	now     func() time.Time
}

type memoryFamilyEntry struct {
	userID    string
	tokenID   string
	expiresAt time.Time
}

var _ FamilyStore = (*MemoryFamilyStore)(nil)

func NewMemoryFamilyStore(now func() time.Time) *MemoryFamilyStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryFamilyStore{entries: make(map[string]memoryFamilyEntry), now: now}
}

func (s *MemoryFamilyStore) Put(ctx context.Context, userID, familyID, tokenID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[familyKey(userID, familyID)] = memoryFamilyEntry{
		userID:    userID,
		tokenID:   tokenID,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryFamilyStore) CompareAndDelete(ctx context.Context, userID, familyID, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := familyKey(userID, familyID)
	entry, ok := s.entries[key]
	if !ok || s.now().After(entry.expiresAt) {
		delete(s.entries, key)
		return false, nil
	}
	if entry.tokenID != tokenID {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

func (s *MemoryFamilyStore) RevokeAll(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.entries {
		if entry.userID == userID {
			delete(s.entries, key)
		}
	}
	return nil
}
