package lease

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocalSerialisesSameKey(t *testing.T) {
	t.Parallel()

	locker := NewLocal()
	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(context.Background(), "country:DK")
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			now := atomic.AddInt32(&active, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if now <= old || atomic.CompareAndSwapInt32(&peak, old, now) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			release()
		}()
	}
	wg.Wait()

	if peak != 1 {
		t.Fatalf("peak concurrency = %d, want 1", peak)
	}
	if held := locker.held(); held != 0 {
		t.Fatalf("held keys after release = %d, want 0", held)
	}
}

func TestLocalDifferentKeysDoNotBlock(t *testing.T) {
	t.Parallel()

	locker := NewLocal()
	releaseDK, err := locker.Acquire(context.Background(), "country:DK")
	if err != nil {
		t.Fatalf("Acquire(DK) error = %v", err)
	}
	defer releaseDK()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	releaseNO, err := locker.Acquire(ctx, "country:NO")
	if err != nil {
		t.Fatalf("Acquire(NO) blocked: %v", err)
	}
	releaseNO()
}

func TestLocalAcquireHonoursContext(t *testing.T) {
	t.Parallel()

	locker := NewLocal()
	release, err := locker.Acquire(context.Background(), "k")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(ctx, "k"); err == nil {
		t.Fatalf("expected context error while key is held")
	}

	release()
	release()
	if held := locker.held(); held != 0 {
		t.Fatalf("held keys = %d, want 0", held)
	}
}
