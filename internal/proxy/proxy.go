// Package proxy maps inbound API calls to live vllm instances and forwards
// them, relaying streamed replies without buffering.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sakura4036/vllm-server/internal/instance"
	"github.com/Sakura4036/vllm-server/pkg/types"
)

// defaultMaxBody bounds how much of an inbound body is read for routing.
const defaultMaxBody int64 = 10 << 20

// hopHeaders are connection-specific and never forwarded in either direction.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Router resolves a request's target model (or explicit instance id) to a
// live worker and forwards the call.
type Router struct {
	mgr     *instance.Manager
	client  *http.Client
	maxBody int64
	log     zerolog.Logger
}

// NewRouter builds a Router over mgr.
func NewRouter(mgr *instance.Manager, log zerolog.Logger) *Router {
	// Timeout stays 0: proxied calls are bounded by the caller's request
	// context, and streamed completions may legitimately run for minutes.
	return &Router{
		mgr:     mgr,
		client:  &http.Client{Timeout: 0},
		maxBody: defaultMaxBody,
		log:     log,
	}
}

// openAIRequest carries the routing fields recognized at the top level of an
// OpenAI-compatible request body. The rest of the body is forwarded verbatim.
type openAIRequest struct {
	Model   string `json:"model"`
	Stream  bool   `json:"stream"`
	Timeout int    `json:"timeout"`
}

// RouteOpenAI handles /v1/chat/completions and /v1/completions: reads the
// body, routes on its model field, creates the instance when absent, and
// relays the response (streamed when the request asked for it).
func (rt *Router) RouteOpenAI(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, rt.maxBody))
	if err != nil {
		return instance.ErrInvalidRequest("failed to read request body")
	}
	var req openAIRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return instance.ErrInvalidRequest("invalid JSON body")
	}
	if req.Model == "" {
		return instance.ErrInvalidRequest("model field is required in request body")
	}

	start := time.Now()
	rec, err := rt.mgr.GetOrCreateForModel(r.Context(), req.Model, nil, req.Timeout)
	if err != nil {
		return err
	}
	rt.log.Debug().Str("model", req.Model).Str("id", rec.ID).
		Dur("resolve", time.Since(start)).Bool("stream", req.Stream).Msg("event=route")
	return rt.forward(w, r, rec.Port, r.URL.Path, body, req.Stream)
}

// ProxyByID forwards an arbitrary call to the instance with the given id,
// refreshing its last-active time. Streaming is inferred from the upstream
// content type.
func (rt *Router) ProxyByID(w http.ResponseWriter, r *http.Request, id, path string) error {
	rec, err := rt.mgr.Get(r.Context(), id)
	if err != nil {
		return err
	}
	rt.mgr.Touch(r.Context(), id)
	body, err := io.ReadAll(io.LimitReader(r.Body, rt.maxBody))
	if err != nil {
		return instance.ErrInvalidRequest("failed to read request body")
	}
	return rt.forward(w, r, rec.Port, path, body, false)
}

// ListModels aggregates the model names of all running instances into the
// OpenAI list shape. It is answered locally, not proxied to any worker.
func (rt *Router) ListModels(ctx context.Context) (types.OpenAIModelList, error) {
	infos, err := rt.mgr.List(ctx)
	if err != nil {
		return types.OpenAIModelList{}, err
	}
	list := types.OpenAIModelList{Object: "list", Data: []types.OpenAIModel{}}
	seen := make(map[string]struct{})
	for _, info := range infos {
		if info.Status != types.StatusRunning {
			continue
		}
		if _, dup := seen[info.ModelName]; dup {
			continue
		}
		seen[info.ModelName] = struct{}{}
		list.Data = append(list.Data, types.OpenAIModel{
			ID: info.ModelName, Object: "model", OwnedBy: "vllm",
		})
	}
	return list, nil
}

// forward relays method, headers (minus hop-specific ones) and body to the
// worker on port, then copies the reply back. When stream is set, or the
// upstream answers with an event stream, chunks are flushed as they arrive
// in upstream order without buffering the full body. Upstream failures are
// never retried here; the caller re-routes and may trigger re-creation.
func (rt *Router) forward(w http.ResponseWriter, r *http.Request, port int, path string, body []byte, stream bool) error {
	target := fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, bytes.NewReader(body))
	if err != nil {
		return instance.ErrUpstreamUnavailable(fmt.Sprintf("build upstream request: %v", err))
	}
	copyHeaders(req.Header, r.Header)
	req.Header.Del("Content-Length") // recomputed from the replayed body

	resp, err := rt.client.Do(req)
	if err != nil {
		return instance.ErrUpstreamUnavailable(fmt.Sprintf("upstream call failed: %v", err))
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	// The response has started; a mid-body upstream failure can only be
	// logged. Returning an error here would make the handler append an error
	// payload onto a partially written (possibly event-stream) reply.
	if stream || strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		if err := flushCopy(w, resp.Body); err != nil {
			rt.log.Warn().Err(err).Int("port", port).Msg("event=relay_aborted")
		}
		return nil
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		rt.log.Warn().Err(err).Int("port", port).Msg("event=relay_aborted")
	}
	return nil
}

// flushCopy relays upstream chunks live, flushing after every write so the
// client observes tokens as the worker produces them.
func flushCopy(w http.ResponseWriter, src io.Reader) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return rerr
		}
	}
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if key == "Host" || isHopHeader(key) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func isHopHeader(key string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(key, h) {
			return true
		}
	}
	return false
}
