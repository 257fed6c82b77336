package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/Sakura4036/vllm-server/internal/instance"
	"github.com/Sakura4036/vllm-server/pkg/types"
)

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeMappedError maps core errors onto the HTTP status taxonomy. Anything
// unrecognized is reported as a generic 500 rather than leaking internals.
func writeMappedError(w http.ResponseWriter, err error) {
	switch {
	case instance.IsInvalidRequest(err):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case instance.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case instance.IsResourceExhausted(err):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	case instance.IsUpstreamUnavailable(err):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	default:
		if zlog != nil {
			zlog.Error().Err(err).Msg("unhandled error")
		}
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}
