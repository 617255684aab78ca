package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCall_ReturnsResult(t *testing.T) {
	p := NewWorkerPool(2)
	defer p.Close()

	got, err := Call(context.Background(), p, func() (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
}

func TestCall_PropagatesError(t *testing.T) {
	p := NewWorkerPool(1)
	defer p.Close()

	wantErr := errors.New("boom")
	_, err := Call(context.Background(), p, func() (string, error) {
		return "", wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("got %v, want %v", err, wantErr)
	}
}

func TestCall_CancelledWhileQueued(t *testing.T) {
	p := NewWorkerPool(1)
	defer p.Close()

	block := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = Call(context.Background(), p, func() (struct{}, error) {
			<-block
			return struct{}{}, nil
		})
	}()

	// The single worker is busy; a second call must give up on cancel.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Call(ctx, p, func() (struct{}, error) {
		return struct{}{}, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want context.DeadlineExceeded", err)
	}

	close(block)
	wg.Wait()
}

func TestCall_PoolClosed(t *testing.T) {
	p := NewWorkerPool(1)
	p.Close()

	_, err := Call(context.Background(), p, func() (int, error) {
		return 0, nil
	})
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("got %v, want ErrPoolClosed", err)
	}
}

func TestWorkerPool_CloseIdempotent(t *testing.T) {
	p := NewWorkerPool(2)
	p.Close()
	p.Close() // must not panic
}

func TestWorkerPool_Concurrency(t *testing.T) {
	p := NewWorkerPool(4)
	defer p.Close()

	var wg sync.WaitGroup
	results := make(chan int, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			v, err := Call(context.Background(), p, func() (int, error) {
				return n * 2, nil
			})
			if err != nil {
				t.Errorf("call %d: %v", n, err)
				return
			}
			results <- v
		}(i)
	}
	wg.Wait()
	close(results)

	count := 0
	for range results {
		count++
	}
	if count != 16 {
		t.Errorf("got %d results, want 16", count)
	}
}
