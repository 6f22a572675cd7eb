package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for %s", what)
	}
}

func TestWorkerPool_ReturnsTaskResult(t *testing.T) {
	p := NewWorkerPool(2)

	f := Submit(p, context.Background(), func(context.Context) (int, error) {
		return 42, nil
	})
	got, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if got != 42 {
		t.Errorf("Expected 42, got %d", got)
	}
}

func TestWorkerPool_FIFOAdmission(t *testing.T) {
	p := NewWorkerPool(2)
	gates := make([]chan struct{}, 4)
	futures := make([]*Future[int], 4)
	for i := range gates {
		gates[i] = make(chan struct{})
		gate := gates[i]
		n := i
		futures[i] = Submit(p, context.Background(), func(context.Context) (int, error) {
			<-gate
			return n, nil
		})
	}

	waitClosed(t, futures[0].Started(), "t1 start")
	waitClosed(t, futures[1].Started(), "t2 start")
	if isClosed(futures[2].Started()) || isClosed(futures[3].Started()) {
		t.Fatal("Expected t3 and t4 to stay queued while t1 and t2 run")
	}

	close(gates[1])
	waitClosed(t, futures[1].Done(), "t2 done")
	waitClosed(t, futures[2].Started(), "t3 start")
	if isClosed(futures[3].Started()) {
		t.Fatal("Expected t4 to stay queued until another slot frees")
	}

	close(gates[0])
	waitClosed(t, futures[3].Started(), "t4 start")
	close(gates[2])
	close(gates[3])
	p.Wait()
}

func TestWorkerPool_ConcurrencyBound(t *testing.T) {
	const k = 3
	p := NewWorkerPool(k)

	var running, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		f := Submit(p, context.Background(), func(context.Context) (struct{}, error) {
			n := atomic.AddInt64(&running, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt64(&running, -1)
			return struct{}{}, nil
		})
		go func() {
			defer wg.Done()
			_, _ = f.Wait(context.Background())
		}()
	}
	wg.Wait()

	if peak > k {
		t.Errorf("Expected at most %d concurrent tasks, saw %d", k, peak)
	}
	if s := p.Status(); s.Running != 0 || s.Queued != 0 {
		t.Errorf("Expected idle pool, got %+v", s)
	}
}

func TestWorkerPool_FailureIsolation(t *testing.T) {
	p := NewWorkerPool(1)
	boom := errors.New("boom")

	failing := Submit(p, context.Background(), func(context.Context) (string, error) {
		return "", boom
	})
	panicking := Submit(p, context.Background(), func(context.Context) (string, error) {
		panic("decoder exploded")
	})
	ok := Submit(p, context.Background(), func(context.Context) (string, error) {
		return "fine", nil
	})

	if _, err := failing.Wait(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Expected boom, got %v", err)
	}
	if _, err := panicking.Wait(context.Background()); err == nil {
		t.Error("Expected panic to be reported as an error")
	}
	got, err := ok.Wait(context.Background())
	if err != nil || got != "fine" {
		t.Errorf("Expected sibling to succeed, got %q, %v", got, err)
	}
}

func TestFuture_WaitHonoursCallerContext(t *testing.T) {
	p := NewWorkerPool(1)
	release := make(chan struct{})
	f := Submit(p, context.Background(), func(context.Context) (int, error) {
		<-release
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}

	close(release)
	if got, err := f.Wait(context.Background()); err != nil || got != 1 {
		t.Errorf("Expected task to finish anyway, got %d, %v", got, err)
	}
}
