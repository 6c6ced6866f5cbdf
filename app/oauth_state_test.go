package app

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStateStoreSingleUse(t *testing.T) {
	s := newMemoryStateStore()
	ctx := context.Background()

	if err := s.Save(ctx, "state-1", "user_1", time.Minute); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Consume(ctx, "state-1")
	if err != nil || got != "user_1" {
		t.Fatalf("Consume = %q, %v", got, err)
	}
	if _, err := s.Consume(ctx, "state-1"); !errors.Is(err, errStateNotFound) {
		t.Fatalf("second Consume error = %v, want errStateNotFound", err)
	}
}

func TestMemoryStateStoreExpiry(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newMemoryStateStore()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_ = s.Save(ctx, "old", "user_1", oauthStateTTL)
	now = now.Add(oauthStateTTL + time.Second)

	if _, err := s.Consume(ctx, "old"); !errors.Is(err, errStateNotFound) {
		t.Fatalf("expired state error = %v", err)
	}

	// saving sweeps expired entries
	_ = s.Save(ctx, "stale", "user_2", time.Second)
	now = now.Add(time.Minute)
	_ = s.Save(ctx, "fresh", "user_3", time.Minute)
	if len(s.entries) != 1 {
		t.Fatalf("expected expired entries to be swept, have %d", len(s.entries))
	}
}
