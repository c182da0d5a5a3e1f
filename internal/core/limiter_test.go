package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestImportLimiter_AcquireRelease(t *testing.T) {
	limiter := NewImportLimiter(2, time.Second)
	ctx := context.Background()

	if got := limiter.Status().Available; got != 2 {
		t.Errorf("initial Available = %d, want 2", got)
	}

	releaseParse, err := limiter.Acquire(ctx, OpParse)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	releaseCommit, err := limiter.Acquire(ctx, OpCommit)
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if got := limiter.Status().Active; got != 2 {
		t.Errorf("Active = %d, want 2", got)
	}
	if _, ok := limiter.TryAcquire(OpParse); ok {
		t.Error("TryAcquire succeeded on a full limiter")
	}

	releaseParse()
	releaseParse()
	releaseCommit()

	if got := limiter.Status(); got.Active != 0 || got.Available != 2 || got.MaxConcurrent != 2 {
		t.Errorf("after release, Status = %+v", got)
	}
}

func TestImportLimiter_StatusByOperation(t *testing.T) {
	tests := []struct {
		name           string
		ops            []ImportOp
		wantParsing    int
		wantCommitting int
		wantAvailable  int
	}{
		{name: "idle", ops: nil, wantParsing: 0, wantCommitting: 0, wantAvailable: 3},
		{name: "uploads only", ops: []ImportOp{OpParse, OpParse}, wantParsing: 2, wantCommitting: 0, wantAvailable: 1},
		{name: "mixed", ops: []ImportOp{OpParse, OpCommit, OpCommit}, wantParsing: 1, wantCommitting: 2, wantAvailable: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := NewImportLimiter(3, time.Second)
			for _, op := range tt.ops {
				release, ok := limiter.TryAcquire(op)
				if !ok {
					t.Fatalf("TryAcquire(%s) failed", op)
				}
				defer release()
			}

			got := limiter.Status()
			if got.Parsing != tt.wantParsing || got.Committing != tt.wantCommitting {
				t.Errorf("parsing/committing = %d/%d, want %d/%d",
					got.Parsing, got.Committing, tt.wantParsing, tt.wantCommitting)
			}
			if got.Active != len(tt.ops) || got.Available != tt.wantAvailable {
				t.Errorf("Status = %+v", got)
			}
		})
	}
}

func TestImportLimiter_TimesOutWhenFull(t *testing.T) {
	limiter := NewImportLimiter(1, 50*time.Millisecond)
	ctx := context.Background()

	release, err := limiter.Acquire(ctx, OpCommit)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	if _, err := limiter.Acquire(ctx, OpParse); !errors.Is(err, ErrTooManyImports) {
		t.Errorf("got %v, want ErrTooManyImports", err)
	}
	if got := limiter.Status(); got.Rejected != 1 || got.Waiting != 0 {
		t.Errorf("Status = %+v, want one rejection and no waiters", got)
	}
}

func TestImportLimiter_CallerCancel(t *testing.T) {
	limiter := NewImportLimiter(1, time.Minute)
	release, ok := limiter.TryAcquire(OpParse)
	if !ok {
		t.Fatal("TryAcquire failed on empty limiter")
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := limiter.Acquire(ctx, OpParse); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if got := limiter.Status().Rejected; got != 0 {
		t.Errorf("Rejected = %d, cancellation is not a rejection", got)
	}
}

func TestImportLimiter_ConcurrentAccess(t *testing.T) {
	const maxConcurrent = 3
	limiter := NewImportLimiter(maxConcurrent, time.Second)

	var wg sync.WaitGroup
	var mu sync.Mutex
	maxObserved := 0

	for i := range 10 {
		op := OpParse
		if i%2 == 0 {
			op = OpCommit
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := limiter.Acquire(context.Background(), op)
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			defer release()

			mu.Lock()
			if n := limiter.Status().Active; n > maxObserved {
				maxObserved = n
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
		}()
	}
	wg.Wait()

	if maxObserved > maxConcurrent {
		t.Errorf("observed %d concurrent imports, limit is %d", maxObserved, maxConcurrent)
	}
	if got := limiter.Status(); got.Active != 0 || got.Parsing != 0 || got.Committing != 0 {
		t.Errorf("after all released, Status = %+v", got)
	}
}

func TestImportLimiter_WaitForDrain(t *testing.T) {
	limiter := NewImportLimiter(2, time.Second)
	release, ok := limiter.TryAcquire(OpCommit)
	if !ok {
		t.Fatal("TryAcquire failed")
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := limiter.WaitForDrain(ctx); err != nil {
		t.Errorf("WaitForDrain: %v", err)
	}
}

func TestImportLimiter_WaitForDrainTimesOut(t *testing.T) {
	limiter := NewImportLimiter(1, time.Second)
	release, ok := limiter.TryAcquire(OpCommit)
	if !ok {
		t.Fatal("TryAcquire failed")
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := limiter.WaitForDrain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want context.DeadlineExceeded", err)
	}
}
