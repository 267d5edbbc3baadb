package remote

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func testStore(t *testing.T, ttl time.Duration) *NonceStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewNonceStore(db, ttl)
	if err != nil {
		t.Fatalf("NewNonceStore() error = %v", err)
	}
	return store
}

func TestNonceStore_BlocksReplay(t *testing.T) {
	store := testStore(t, 2*time.Minute)
	ctx := context.Background()

	live, err := store.Live(ctx, "ISSUER-A", "nonce-1")
	if err != nil {
		t.Fatalf("Live() error = %v", err)
	}
	if live {
		t.Error("Live() = true before any record")
	}

	if err := store.Record(ctx, "ISSUER-A", "nonce-1"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	live, err = store.Live(ctx, "ISSUER-A", "nonce-1")
	if err != nil {
		t.Fatalf("Live() error = %v", err)
	}
	if !live {
		t.Error("Live() = false for a recorded nonce")
	}
}

func TestNonceStore_NonceReusableAfterTTL(t *testing.T) {
	store := testStore(t, 2*time.Minute)
	ctx := context.Background()

	base := time.Now()
	store.now = func() time.Time { return base }
	if err := store.Record(ctx, "ISSUER-A", "nonce-1"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	// Just inside the TTL: still live.
	store.now = func() time.Time { return base.Add(time.Minute) }
	if live, _ := store.Live(ctx, "ISSUER-A", "nonce-1"); !live {
		t.Error("Live() = false inside TTL")
	}

	// Past the TTL: pruned, reusable again.
	store.now = func() time.Time { return base.Add(3 * time.Minute) }
	if live, _ := store.Live(ctx, "ISSUER-A", "nonce-1"); live {
		t.Error("Live() = true past TTL")
	}
	if err := store.Record(ctx, "ISSUER-A", "nonce-1"); err != nil {
		t.Errorf("Record() after expiry error = %v", err)
	}
}

func TestNonceStore_IssuersIndependent(t *testing.T) {
	store := testStore(t, 2*time.Minute)
	ctx := context.Background()

	if err := store.Record(ctx, "ISSUER-A", "nonce-1"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	live, err := store.Live(ctx, "ISSUER-B", "nonce-1")
	if err != nil {
		t.Fatalf("Live() error = %v", err)
	}
	if live {
		t.Error("Live() = true for a different issuer's nonce")
	}
}

func TestNonceStore_SurvivesReopen(t *testing.T) {
	// A store rebuilt over the same database must still see old records.
	db, err := sql.Open("sqlite3", "file:noncetest?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	db.SetMaxOpenConns(1)
	defer db.Close()

	ctx := context.Background()
	first, err := NewNonceStore(db, 2*time.Minute)
	if err != nil {
		t.Fatalf("NewNonceStore() error = %v", err)
	}
	if err := first.Record(ctx, "ISSUER-A", "nonce-1"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	second, err := NewNonceStore(db, 2*time.Minute)
	if err != nil {
		t.Fatalf("NewNonceStore() reopen error = %v", err)
	}
	if live, _ := second.Live(ctx, "ISSUER-A", "nonce-1"); !live {
		t.Error("Live() = false after store rebuild")
	}
}
