package sequence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"kasirinaja/settlement/internal/domain"
)

func TestMemoryConcurrentCallersGetContiguousNumbers(t *testing.T) {
	alloc := NewMemory()
	day := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	const callers = 200
	var mu sync.Mutex
	got := make([]int64, 0, callers)

	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			n, err := alloc.Next(context.Background(), "main-store", day)
			if err != nil {
				return err
			}
			mu.Lock()
			got = append(got, n)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("allocation failed: %v", err)
	}

	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	for i, n := range got {
		if n != int64(i+1) {
			t.Fatalf("expected contiguous sequence, position %d holds %d", i, n)
		}
	}
	if alloc.Last("main-store", day) != callers {
		t.Fatalf("expected last %d, got %d", callers, alloc.Last("main-store", day))
	}
}

func TestMemoryResetsPerBranchAndDay(t *testing.T) {
	alloc := NewMemory()
	ctx := context.Background()
	day1 := time.Date(2026, 10, 16, 23, 59, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := alloc.Next(ctx, "branch-a", day1); err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	n, _ := alloc.Next(ctx, "branch-a", day2)
	if n != 1 {
		t.Fatalf("expected new day to restart at 1, got %d", n)
	}
	n, _ = alloc.Next(ctx, "branch-b", day1)
	if n != 1 {
		t.Fatalf("expected other branch to start at 1, got %d", n)
	}
}

func TestMemoryFailsWhenContextDone(t *testing.T) {
	alloc := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	day := time.Now()

	if _, err := alloc.Next(ctx, "main-store", day); !errors.Is(err, domain.ErrSequenceUnavailable) {
		t.Fatalf("expected ErrSequenceUnavailable, got %v", err)
	}
	if alloc.Last("main-store", day) != 0 {
		t.Fatalf("expected no number consumed")
	}
}

func TestFormat(t *testing.T) {
	day := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	if got := Format("main-store", day, 42); got != "INV/MAIN-STORE/20261016/0042" {
		t.Fatalf("unexpected invoice number %s", got)
	}
}
