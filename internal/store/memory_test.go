package store

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMemoryGetPutDelete(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Put(ctx, "a", []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, err := s.Get(ctx, "a")
	if err != nil || string(v) != "1" {
		t.Fatalf("get: v=%q err=%v", v, err)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// deleting again is a no-op
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryUpdateRequiresExistingKey(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if err := s.Update(ctx, "a", []byte("1")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update of absent key must fail, got %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("failed update must not insert, got %v", err)
	}

	_ = s.Put(ctx, "a", []byte("1"))
	if err := s.Update(ctx, "a", []byte("2")); err != nil {
		t.Fatalf("update: %v", err)
	}
	v, err := s.Get(ctx, "a")
	if err != nil || string(v) != "2" {
		t.Fatalf("get after update: v=%q err=%v", v, err)
	}

	_ = s.Delete(ctx, "a")
	if err := s.Update(ctx, "a", []byte("3")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update after delete must fail, got %v", err)
	}
}

func TestMemoryListPrefix(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	_ = s.Put(ctx, "inst:a", []byte("1"))
	_ = s.Put(ctx, "inst:b", []byte("2"))
	_ = s.Put(ctx, "other:c", []byte("3"))

	out, err := s.List(ctx, "inst:")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(out))
	}
	if string(out["inst:a"]) != "1" || string(out["inst:b"]) != "2" {
		t.Fatalf("unexpected list content: %v", out)
	}
}

func TestMemorySetAddIsAtomic(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	const goroutines = 32
	var wg sync.WaitGroup
	added := make(chan bool, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.SetAdd(ctx, "ports", "9000")
			if err != nil {
				t.Errorf("set add: %v", err)
				return
			}
			added <- ok
		}()
	}
	wg.Wait()
	close(added)

	wins := 0
	for ok := range added {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one successful add, got %d", wins)
	}
}

func TestMemorySetRemoveIdempotent(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	if ok, _ := s.SetAdd(ctx, "ports", "9001"); !ok {
		t.Fatalf("expected first add to succeed")
	}
	if err := s.SetRemove(ctx, "ports", "9001"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.SetRemove(ctx, "ports", "9001"); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	members, err := s.SetMembers(ctx, "ports")
	if err != nil || len(members) != 0 {
		t.Fatalf("members=%v err=%v", members, err)
	}
	// removed member can be added again
	if ok, _ := s.SetAdd(ctx, "ports", "9001"); !ok {
		t.Fatalf("expected re-add to succeed")
	}
}
