// Package instance implements the vllm instance lifecycle: port allocation,
// process supervision, readiness gating, idle expiry and the persisted record
// each of those steps transitions through.
package instance

import (
	"fmt"
	"strings"

	"github.com/Sakura4036/vllm-server/pkg/types"
)

// Store key layout. Records are keyed by a stable prefix plus instance id so
// a prefix scan returns every instance; claimed ports live in one shared set.
const (
	recordKeyPrefix = "vllm:instance:"
	portSetKey      = "vllm:ports"
)

// Record is the persisted, authoritative state of one vllm instance.
// The PID is a weak cross-process reference: any control-plane replica may
// signal it, but only the replica that launched the process holds an OS
// handle (see Supervisor).
type Record struct {
	ID         string               `json:"instance_id"`
	ModelName  string               `json:"model_name"`
	Port       int                  `json:"port"`
	Status     types.InstanceStatus `json:"status"`
	LastActive int64                `json:"last_active"`
	Timeout    int                  `json:"timeout"`
	Params     map[string]any       `json:"params,omitempty"`
	PID        int                  `json:"pid,omitempty"`
}

// Info converts the record to its API descriptor.
func (r Record) Info() types.InstanceInfo {
	return types.InstanceInfo{
		ID:         r.ID,
		ModelName:  r.ModelName,
		Port:       r.Port,
		Status:     r.Status,
		LastActive: r.LastActive,
		Timeout:    r.Timeout,
		Params:     r.Params,
	}
}

// deriveID builds the stable instance id from model name and port.
// Slashes in model names (org/model) are flattened so the id is key-safe.
func deriveID(modelName string, port int) string {
	return fmt.Sprintf("%s_%d", strings.ReplaceAll(modelName, "/", "_"), port)
}

func recordKey(id string) string { return recordKeyPrefix + id }

// statusRank orders lifecycle states so transitions only ever move forward.
func statusRank(s types.InstanceStatus) int {
	switch s {
	case types.StatusStarting:
		return 0
	case types.StatusHealthChecking:
		return 1
	case types.StatusRunning:
		return 2
	case types.StatusStopped:
		return 3
	default:
		return -1
	}
}
