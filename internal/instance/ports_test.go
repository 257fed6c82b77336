package instance

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/Sakura4036/vllm-server/internal/store"
)

func TestAllocateReturnsLowestFree(t *testing.T) {
	a := NewPortAllocator(store.NewMemory(), 9000, 4)
	ctx := context.Background()

	p1, err := a.Allocate(ctx)
	if err != nil || p1 != 9000 {
		t.Fatalf("first allocate: port=%d err=%v", p1, err)
	}
	p2, err := a.Allocate(ctx)
	if err != nil || p2 != 9001 {
		t.Fatalf("second allocate: port=%d err=%v", p2, err)
	}
	if err := a.Release(ctx, 9000); err != nil {
		t.Fatalf("release: %v", err)
	}
	p3, err := a.Allocate(ctx)
	if err != nil || p3 != 9000 {
		t.Fatalf("expected released port 9000 back, got port=%d err=%v", p3, err)
	}
}

func TestConcurrentAllocationsNeverCollide(t *testing.T) {
	const capacity = 8
	a := NewPortAllocator(store.NewMemory(), 9000, capacity)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan int, capacity*2)
	failures := make(chan error, capacity*2)
	for i := 0; i < capacity*2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := a.Allocate(ctx)
			if err != nil {
				failures <- err
				return
			}
			results <- p
		}()
	}
	wg.Wait()
	close(results)
	close(failures)

	var ports []int
	for p := range results {
		ports = append(ports, p)
	}
	if len(ports) != capacity {
		t.Fatalf("expected %d successful allocations, got %d", capacity, len(ports))
	}
	sort.Ints(ports)
	for i := 1; i < len(ports); i++ {
		if ports[i] == ports[i-1] {
			t.Fatalf("duplicate port allocated: %d", ports[i])
		}
	}
	for err := range failures {
		if !IsResourceExhausted(err) {
			t.Fatalf("expected resource exhausted, got %v", err)
		}
	}
}

func TestAllocateExhausted(t *testing.T) {
	a := NewPortAllocator(store.NewMemory(), 9000, 1)
	ctx := context.Background()
	if _, err := a.Allocate(ctx); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	_, err := a.Allocate(ctx)
	if err == nil || !IsResourceExhausted(err) {
		t.Fatalf("expected resource exhausted, got %v", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	a := NewPortAllocator(store.NewMemory(), 9000, 2)
	ctx := context.Background()
	if err := a.Release(ctx, 9000); err != nil {
		t.Fatalf("release free port should be a no-op, got %v", err)
	}
	p, err := a.Allocate(ctx)
	if err != nil || p != 9000 {
		t.Fatalf("allocate after no-op release: port=%d err=%v", p, err)
	}
	if err := a.Release(ctx, p); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := a.Release(ctx, p); err != nil {
		t.Fatalf("second release: %v", err)
	}
}
