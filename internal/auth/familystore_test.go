package auth

import (
	"context"
	"testing"
	"time"
)

func TestMemoryFamilyStoreCompareAndDelete(t *testing.T) {
	store := NewMemoryFamilyStore(nil)
	ctx := context.Background()

	if err := store.Put(ctx, "u1", "f1", "t1", time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ok, err := store.CompareAndDelete(ctx, "u1", "f1", "wrong")
	if err != nil {
		t.Fatalf("CompareAndDelete: %v", err)
	}
	if ok {
		t.Fatal("mismatched token id must not delete the entry")
	}

	ok, err = store.CompareAndDelete(ctx, "u1", "f1", "t1")
	if err != nil {
		t.Fatalf("CompareAndDelete: %v", err)
	}
	if !ok {
		t.Fatal("matching token id must delete the entry")
	}

	// Entry is gone; a second attempt observes absence.
	ok, _ = store.CompareAndDelete(ctx, "u1", "f1", "t1")
	if ok {
		t.Fatal("deleted entry must not match again")
	}
}

func TestMemoryFamilyStoreExpiry(t *testing.T) {
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := NewMemoryFamilyStore(func() time.Time { return clock })
	ctx := context.Background()

	if err := store.Put(ctx, "u1", "f1", "t1", time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	clock = clock.Add(2 * time.Minute)

	ok, err := store.CompareAndDelete(ctx, "u1", "f1", "t1")
	if err != nil {
		t.Fatalf("CompareAndDelete: %v", err)
	}
	if ok {
		t.Fatal("expired entry must behave like an absent one")
	}
}

func TestMemoryFamilyStoreRevokeAll(t *testing.T) {
	store := NewMemoryFamilyStore(nil)
	ctx := context.Background()

	_ = store.Put(ctx, "u1", "f1", "t1", time.Hour)
	_ = store.Put(ctx, "u1", "f2", "t2", time.Hour)
	_ = store.Put(ctx, "u2", "f3", "t3", time.Hour)

	if err := store.RevokeAll(ctx, "u1"); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}

	if ok, _ := store.CompareAndDelete(ctx, "u1", "f1", "t1"); ok {
		t.Fatal("family f1 should be revoked")
	}
	if ok, _ := store.CompareAndDelete(ctx, "u1", "f2", "t2"); ok {
		t.Fatal("family f2 should be revoked")
	}
	if ok, _ := store.CompareAndDelete(ctx, "u2", "f3", "t3"); !ok {
		t.Fatal("other users' families must survive")
	}
}

func TestFamilyKeyLayout(t *testing.T) {
	if got := familyKey("42", "fam"); got != "refresh:42:fam" {
		t.Fatalf("unexpected key layout: %s", got)
	}
}
