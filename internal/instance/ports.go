package instance

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Sakura4036/vllm-server/internal/store"
)

// PortAllocator claims ports out of [base, base+capacity) through the shared
// store. The add-if-absent semantics of Store.SetAdd make allocation
// linearizable even when several control-plane replicas share one store: two
// concurrent callers can never both claim the same port.
type PortAllocator struct {
	store    store.Store
	base     int
	capacity int
}

// NewPortAllocator returns an allocator over [base, base+capacity).
func NewPortAllocator(s store.Store, base, capacity int) *PortAllocator {
	return &PortAllocator{store: s, base: base, capacity: capacity}
}

// Allocate claims the lowest free port in the range. Returns a
// resource-exhausted error when every port is taken.
func (a *PortAllocator) Allocate(ctx context.Context) (int, error) {
	for port := a.base; port < a.base+a.capacity; port++ {
		added, err := a.store.SetAdd(ctx, portSetKey, strconv.Itoa(port))
		if err != nil {
			return 0, fmt.Errorf("allocate port: %w", err)
		}
		if added {
			return port, nil
		}
	}
	return 0, ErrResourceExhausted(fmt.Sprintf(
		"no free port in range %d-%d", a.base, a.base+a.capacity-1))
}

// Release returns a port to the free set. Releasing a free port is a no-op.
func (a *PortAllocator) Release(ctx context.Context, port int) error {
	if err := a.store.SetRemove(ctx, portSetKey, strconv.Itoa(port)); err != nil {
		return fmt.Errorf("release port %d: %w", port, err)
	}
	return nil
}
