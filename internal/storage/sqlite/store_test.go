package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/polyglot-time-awareness/internal/core/domain"
)

func newTestStore(t *testing.T, opts Options) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "correlations.db")
	store, err := New(path, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestStore_RecordRecall(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, Options{})
	created := time.Date(2026, 10, 15, 14, 30, 5, 0, time.UTC)
	store.now = func() time.Time { return created.Add(time.Minute) }

	if err := store.Record(ctx, "abc", domain.Correlation{Context: "C", CreatedAt: created}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, ok, err := store.Recall(ctx, "abc")
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if !ok {
		t.Fatal("Recall() found = false")
	}
	if got.Context != "C" || !got.CreatedAt.Equal(created) {
		t.Errorf("Recall() = %+v", got)
	}

	if _, ok, _ := store.Recall(ctx, "missing"); ok {
		t.Error("Recall(missing) found = true")
	}
}

func TestStore_RecordReplaces(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, Options{})

	_ = store.Record(ctx, "abc", domain.Correlation{Context: "old"})
	_ = store.Record(ctx, "abc", domain.Correlation{Context: "new"})

	got, _, _ := store.Recall(ctx, "abc")
	if got.Context != "new" {
		t.Errorf("Recall() context = %q, want new", got.Context)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestStore_ConsumeOnRead(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, Options{ConsumeOnRead: true})

	_ = store.Record(ctx, "abc", domain.Correlation{Context: "C"})
	if _, ok, _ := store.Recall(ctx, "abc"); !ok {
		t.Fatal("first Recall() found = false")
	}
	if _, ok, _ := store.Recall(ctx, "abc"); ok {
		t.Error("second Recall() found = true, want consumed")
	}
}

func TestStore_KeepsAfterReadByDefault(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, Options{})

	_ = store.Record(ctx, "abc", domain.Correlation{Context: "C"})
	for i := 0; i < 2; i++ {
		if _, ok, _ := store.Recall(ctx, "abc"); !ok {
			t.Fatalf("recall %d: entry gone", i)
		}
	}
}

func TestStore_TTL(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, Options{TTL: time.Minute})
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	_ = store.Record(ctx, "old", domain.Correlation{Context: "A", CreatedAt: now})

	now = now.Add(2 * time.Minute)
	if _, ok, _ := store.Recall(ctx, "old"); ok {
		t.Error("Recall() found expired row")
	}

	// The next write prunes the expired row.
	_ = store.Record(ctx, "fresh", domain.Correlation{Context: "B", CreatedAt: now})
	if store.Len() != 1 {
		t.Errorf("Len() = %d after prune, want 1", store.Len())
	}
}

func TestStore_NoExpiry(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, Options{TTL: -1})

	_ = store.Record(ctx, "abc", domain.Correlation{Context: "C", CreatedAt: time.Unix(0, 0)})
	if _, ok, _ := store.Recall(ctx, "abc"); !ok {
		t.Error("Recall() lost a row with expiry disabled")
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	store, path := newTestStore(t, Options{})

	if err := store.Record(ctx, "abc", domain.Correlation{Context: "C"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := New(path, Options{})
	if err != nil {
		t.Fatalf("New() reopen error = %v", err)
	}
	defer reopened.Close()

	got, ok, err := reopened.Recall(ctx, "abc")
	if err != nil || !ok || got.Context != "C" {
		t.Errorf("Recall() after reopen = %+v, %v, %v", got, ok, err)
	}
}

func TestStore_MaxRows(t *testing.T) {
	base := time.Date(2026, 10, 15, 14, 30, 5, 0, time.UTC)

	tests := []struct {
		name     string
		maxRows  int
		wantLen  int
		wantGone []string
	}{
		{"capped", 3, 3, []string{"ex-0", "ex-1"}},
		{"unlimited", -1, 5, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store, _ := newTestStore(t, Options{MaxRows: tt.maxRows})
			store.now = func() time.Time { return base.Add(time.Minute) }

			for i := 0; i < 5; i++ {
				c := domain.Correlation{Context: fmt.Sprintf("ctx-%d", i), CreatedAt: base.Add(time.Duration(i) * time.Second)}
				if err := store.Record(ctx, fmt.Sprintf("ex-%d", i), c); err != nil {
					t.Fatalf("Record() error = %v", err)
				}
			}

			if got := store.Len(); got != tt.wantLen {
				t.Errorf("Len() = %d, want %d", got, tt.wantLen)
			}
			for _, id := range tt.wantGone {
				if _, ok, _ := store.Recall(ctx, id); ok {
					t.Errorf("Recall(%s) found = true, want dropped", id)
				}
			}
			if got, ok, _ := store.Recall(ctx, "ex-4"); !ok || got.Context != "ctx-4" {
				t.Errorf("Recall(ex-4) = %+v, %v, want newest row kept", got, ok)
			}
		})
	}
}

func TestStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, Options{ConsumeOnRead: true})

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("ex-%d", i)
			want := fmt.Sprintf("ctx-%d", i)
			if err := store.Record(ctx, id, domain.Correlation{Context: want}); err != nil {
				errs <- err
				return
			}
			got, ok, err := store.Recall(ctx, id)
			if err != nil || !ok || got.Context != want {
				errs <- fmt.Errorf("%s: got %q found=%v err=%v", id, got.Context, ok, err)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}
