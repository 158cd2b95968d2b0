package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
	"github.com/vladislavdragonenkov/inventory/internal/storage/memory"
)

func scoped(userID, key string) string {
	return domain.ScopedIdempotencyKey(domain.IdempotencyScopeOrderCreate, userID, key)
}

func TestIdempotencyRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Idempotency()
	ttl := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)
	key := scoped("client-1", "place-1")

	created, err := repo.CreateProcessing(ctx, key, "hash-1", ttl)
	if err != nil {
		t.Fatalf("CreateProcessing failed: %v", err)
	}
	if created.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("expected status %s, got %s", domain.IdempotencyStatusProcessing, created.Status)
	}

	got, err := repo.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.RequestHash != "hash-1" || !got.TTLAt.Equal(ttl) {
		t.Fatalf("unexpected record: %+v", got)
	}

	if _, err := repo.Get(ctx, scoped("client-2", "place-1")); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("other user's scope must be empty, got %v", err)
	}
}

func TestIdempotencyRepository_ConflictAndHashMismatch(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Idempotency()
	ttl := time.Now().UTC().Add(time.Hour)
	key := scoped("client-1", "place-2")

	if _, err := repo.CreateProcessing(ctx, key, "hash-a", ttl); err != nil {
		t.Fatalf("CreateProcessing failed: %v", err)
	}

	existing, err := repo.CreateProcessing(ctx, key, "hash-a", ttl)
	if !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("expected ErrIdempotencyKeyAlreadyExists, got %v", err)
	}
	if existing.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("existing record must be returned, got %+v", existing)
	}

	if _, err := repo.CreateProcessing(ctx, key, "hash-b", ttl); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("expected ErrIdempotencyHashMismatch, got %v", err)
	}

	if _, err := repo.CreateProcessing(ctx, " ", "hash", ttl); !errors.Is(err, domain.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
	if _, err := repo.CreateProcessing(ctx, key, "", ttl); !errors.Is(err, domain.ErrIdempotencyRequestHashRequired) {
		t.Fatalf("expected ErrIdempotencyRequestHashRequired, got %v", err)
	}
}

func TestIdempotencyRepository_ExpiredKeyIsTakenOver(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Idempotency()
	key := scoped("client-1", "place-3")

	if _, err := repo.CreateProcessing(ctx, key, "hash-old", time.Now().UTC().Add(-time.Second)); err != nil {
		t.Fatalf("CreateProcessing failed: %v", err)
	}
	if err := repo.MarkDone(ctx, key, []byte(`{"id":"order-old"}`), 201); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}

	fresh, err := repo.CreateProcessing(ctx, key, "hash-new", time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("expired key must be reusable, got %v", err)
	}
	if fresh.Status != domain.IdempotencyStatusProcessing || fresh.RequestHash != "hash-new" || len(fresh.ResponseBody) != 0 {
		t.Fatalf("expected a clean processing record, got %+v", fresh)
	}
}

func TestIdempotencyRepository_MarkDoneAndDeleteExpired(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Idempotency()
	now := time.Now().UTC()

	for i, ttl := range []time.Time{now.Add(-3 * time.Minute), now.Add(-2 * time.Minute), now.Add(-time.Minute)} {
		if _, err := repo.CreateProcessing(ctx, scoped("client-1", string(rune('a'+i))), "h", ttl); err != nil {
			t.Fatalf("CreateProcessing failed: %v", err)
		}
	}
	active := scoped("client-1", "active")
	if _, err := repo.CreateProcessing(ctx, active, "h", now.Add(time.Hour)); err != nil {
		t.Fatalf("CreateProcessing active failed: %v", err)
	}
	if err := repo.MarkDone(ctx, active, []byte(`{"ok":true}`), 201); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}

	got, err := repo.Get(ctx, active)
	if err != nil {
		t.Fatalf("Get active failed: %v", err)
	}
	if got.Status != domain.IdempotencyStatusDone || got.HTTPStatus != 201 {
		t.Fatalf("unexpected active record: %+v", got)
	}

	removed, err := repo.DeleteExpired(ctx, now, 2)
	if err != nil || removed != 2 {
		t.Fatalf("expected 2 removed, got %d (%v)", removed, err)
	}
	if _, err := repo.Get(ctx, scoped("client-1", "c")); err != nil {
		t.Fatalf("the youngest expired record must survive the first batch: %v", err)
	}

	removed, err = repo.DeleteExpired(ctx, now, 10)
	if err != nil || removed != 1 {
		t.Fatalf("expected 1 removed, got %d (%v)", removed, err)
	}
	if _, err := repo.Get(ctx, active); err != nil {
		t.Fatalf("active key must stay: %v", err)
	}

	if err := repo.MarkFailed(ctx, scoped("client-1", "missing"), nil, 400); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected ErrIdempotencyKeyNotFound, got %v", err)
	}
}

func TestIdempotencyRepository_DeleteStaleProcessing(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Idempotency()
	ttl := time.Now().UTC().Add(time.Hour)

	stuck := scoped("client-1", "stuck")
	done := scoped("client-1", "done")
	if _, err := repo.CreateProcessing(ctx, stuck, "h1", ttl); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.CreateProcessing(ctx, done, "h2", ttl); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkDone(ctx, done, []byte(`{}`), 201); err != nil {
		t.Fatal(err)
	}

	if removed, err := repo.DeleteStaleProcessing(ctx, time.Time{}, 10); err != nil || removed != 0 {
		t.Fatalf("zero cutoff must be a no-op, got %d (%v)", removed, err)
	}

	removed, err := repo.DeleteStaleProcessing(ctx, time.Now().UTC().Add(time.Second), 10)
	if err != nil || removed != 1 {
		t.Fatalf("expected only the processing record removed, got %d (%v)", removed, err)
	}
	if _, err := repo.Get(ctx, stuck); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("stuck key must be released, got %v", err)
	}
	if _, err := repo.Get(ctx, done); err != nil {
		t.Fatalf("finished key must stay: %v", err)
	}
}

func TestIdempotencyRepository_ReleaseOnlyProcessing(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Idempotency()
	ttl := time.Now().UTC().Add(time.Hour)

	inFlight, finished := scoped("client-1", "in-flight"), scoped("client-1", "finished")
	for _, key := range []string{inFlight, finished} {
		if _, err := repo.CreateProcessing(ctx, key, "hash", ttl); err != nil {
			t.Fatalf("CreateProcessing(%s) failed: %v", key, err)
		}
	}
	if err := repo.MarkDone(ctx, finished, []byte(`{}`), 201); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}

	for _, key := range []string{inFlight, finished, scoped("client-1", "missing")} {
		if err := repo.Release(ctx, key); err != nil {
			t.Fatalf("Release(%s) failed: %v", key, err)
		}
	}
	if _, err := repo.Get(ctx, inFlight); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("processing key must be released, got %v", err)
	}
	if _, err := repo.Get(ctx, finished); err != nil {
		t.Fatalf("finished key must stay: %v", err)
	}
	if err := repo.Release(ctx, " "); !errors.Is(err, domain.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
}
