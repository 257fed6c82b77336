package instance

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Poll invokes fn at every interval until it returns true, the timeout
// elapses, or ctx is canceled. Reports whether fn ever returned true.
// The first probe fires immediately, not after one interval.
func Poll(ctx context.Context, interval, timeout time.Duration, fn func(context.Context) bool) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if fn(ctx) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// HealthGate polls a freshly launched vllm server until it answers its
// readiness endpoint, admitting it into the routable pool. Network errors
// while polling are expected (the server is still loading the model) and are
// swallowed until the deadline.
type HealthGate struct {
	client   *http.Client
	interval time.Duration
	path     string
}

const (
	healthPollInterval = 2 * time.Second
	healthProbePath    = "/v1/models"
)

// NewHealthGate returns a gate probing the vllm readiness endpoint.
func NewHealthGate() *HealthGate {
	// Timeout stays 0: every probe carries its own context deadline.
	return &HealthGate{
		client:   &http.Client{Timeout: 0},
		interval: healthPollInterval,
		path:     healthProbePath,
	}
}

// AwaitReady blocks until the server on port answers 2xx or timeout elapses.
// It holds no locks; many gates may wait concurrently.
func (g *HealthGate) AwaitReady(ctx context.Context, port int, timeout time.Duration) bool {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, g.path)
	return Poll(ctx, g.interval, timeout, func(ctx context.Context) bool {
		probeCtx, cancel := context.WithTimeout(ctx, g.interval)
		defer cancel()
		req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
		if err != nil {
			return false
		}
		resp, err := g.client.Do(req)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode >= 200 && resp.StatusCode < 300
	})
}
