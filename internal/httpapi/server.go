package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sakura4036/vllm-server/internal/instance"
	"github.com/Sakura4036/vllm-server/pkg/types"
)

// Service defines the instance-management methods required by the HTTP layer.
type Service interface {
	Create(ctx context.Context, modelName string, params map[string]any, timeoutSec int) (instance.Record, error)
	List(ctx context.Context) (map[string]types.InstanceInfo, error)
	Delete(ctx context.Context, id string) error
	Ready(ctx context.Context) bool
}

// Proxy defines the request-routing methods required by the HTTP layer.
type Proxy interface {
	RouteOpenAI(w http.ResponseWriter, r *http.Request) error
	ProxyByID(w http.ResponseWriter, r *http.Request, id, path string) error
	ListModels(ctx context.Context) (types.OpenAIModelList, error)
}

// NewMux wires all routes: instance CRUD, the OpenAI-compatible entrypoints,
// the per-instance proxy, and the health/metrics surface.
func NewMux(svc Service, px Proxy) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/instances", createInstanceHandler(svc))
	r.Get("/instances", listInstancesHandler(svc))
	r.Delete("/instances/{id}", deleteInstanceHandler(svc))

	r.HandleFunc("/proxy/{id}/*", proxyHandler(px))

	r.Post("/v1/chat/completions", openAIHandler(px))
	r.Post("/v1/completions", openAIHandler(px))
	r.Get("/v1/models", listModelsHandler(px))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready(r.Context()) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("store unavailable"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// createInstanceHandler creates a vllm instance.
//
// @Summary      Create a vllm instance
// @Description  Launches a vllm server for the given model, waits for readiness and registers it.
// @Accept       json
// @Produce      json
// @Param        request body types.CreateInstanceRequest true "creation request"
// @Success      200 {object} types.InstanceInfo
// @Failure      400 {object} types.ErrorResponse
// @Failure      503 {object} types.ErrorResponse
// @Router       /instances [post]
func createInstanceHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.CreateInstanceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.ModelName) == "" {
			writeJSONError(w, http.StatusBadRequest, "model_name is required")
			return
		}
		start := time.Now()
		rec, err := svc.Create(r.Context(), req.ModelName, req.Params, req.Timeout)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		if zlog != nil {
			z := zlog.Info().Str("model", req.ModelName).Str("id", rec.ID).Dur("dur", time.Since(start))
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				z = z.Str("request_id", rid)
			}
			z.Msg("instance created")
		}
		writeJSON(w, rec.Info())
	}
}

// listInstancesHandler lists all non-stopped instances.
//
// @Summary      List vllm instances
// @Produce      json
// @Success      200 {object} map[string]types.InstanceInfo
// @Router       /instances [get]
func listInstancesHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infos, err := svc.List(r.Context())
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, infos)
	}
}

// deleteInstanceHandler deletes an instance by id. Idempotent: deleting an
// unknown id still reports success.
//
// @Summary      Delete a vllm instance
// @Produce      json
// @Param        id path string true "instance id"
// @Success      200 {object} types.DeleteResponse
// @Router       /instances/{id} [delete]
func deleteInstanceHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := svc.Delete(r.Context(), id); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, types.DeleteResponse{Status: "deleted"})
	}
}

// proxyHandler forwards any call to the instance named in the path.
//
// @Summary      Proxy a request to a specific instance
// @Param        id path string true "instance id"
// @Router       /proxy/{id}/{path} [post]
func proxyHandler(px Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rest := "/" + chi.URLParam(r, "*")
		if err := px.ProxyByID(w, r, id, rest); err != nil {
			if r.Context().Err() != nil {
				return
			}
			writeMappedError(w, err)
		}
	}
}

// openAIHandler routes an OpenAI-compatible request by its model field.
//
// @Summary      OpenAI-compatible chat/completions entrypoint
// @Accept       json
// @Produce      json
// @Failure      400 {object} types.ErrorResponse
// @Failure      503 {object} types.ErrorResponse
// @Router       /v1/chat/completions [post]
func openAIHandler(px Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := px.RouteOpenAI(w, r); err != nil {
			// A canceled client is not an error worth reporting.
			if r.Context().Err() != nil {
				return
			}
			writeMappedError(w, err)
		}
	}
}

// listModelsHandler aggregates the models of all running instances.
//
// @Summary      List models served by running instances
// @Produce      json
// @Success      200 {object} types.OpenAIModelList
// @Router       /v1/models [get]
func listModelsHandler(px Proxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := px.ListModels(r.Context())
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, list)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}
