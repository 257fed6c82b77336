package instance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func TestPollImmediateSuccess(t *testing.T) {
	calls := 0
	ok := Poll(context.Background(), time.Second, time.Second, func(context.Context) bool {
		calls++
		return true
	})
	if !ok || calls != 1 {
		t.Fatalf("ok=%v calls=%d", ok, calls)
	}
}

func TestPollEventualSuccess(t *testing.T) {
	calls := 0
	ok := Poll(context.Background(), 5*time.Millisecond, time.Second, func(context.Context) bool {
		calls++
		return calls >= 3
	})
	if !ok || calls != 3 {
		t.Fatalf("ok=%v calls=%d", ok, calls)
	}
}

func TestPollTimeout(t *testing.T) {
	start := time.Now()
	ok := Poll(context.Background(), 5*time.Millisecond, 30*time.Millisecond, func(context.Context) bool {
		return false
	})
	if ok {
		t.Fatalf("expected timeout")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("poll overran its timeout: %v", time.Since(start))
	}
}

func TestPollContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok := Poll(ctx, 5*time.Millisecond, time.Second, func(context.Context) bool { return false })
	if ok {
		t.Fatalf("expected false on canceled context")
	}
}

func serverPort(t *testing.T, ts *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	p, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return p
}

func TestAwaitReadySucceedsAfterWarmup(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("unexpected probe path %s", r.URL.Path)
		}
		// not ready for the first two probes
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	g := NewHealthGate()
	g.interval = 5 * time.Millisecond
	if !g.AwaitReady(context.Background(), serverPort(t, ts), time.Second) {
		t.Fatalf("expected ready")
	}
	if hits.Load() < 3 {
		t.Fatalf("expected at least 3 probes, got %d", hits.Load())
	}
}

func TestAwaitReadyTimesOutOnDeadPort(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	port := serverPort(t, ts)
	ts.Close() // nothing listens here anymore

	g := NewHealthGate()
	g.interval = 5 * time.Millisecond
	if g.AwaitReady(context.Background(), port, 50*time.Millisecond) {
		t.Fatalf("expected timeout against dead port")
	}
}
