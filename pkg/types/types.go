package types

// InstanceStatus is the lifecycle state of a managed vllm instance.
type InstanceStatus string

const (
	// StatusStarting means launch was requested but the OS process is not confirmed yet.
	StatusStarting InstanceStatus = "starting"
	// StatusHealthChecking means the process is up (PID known) but readiness is unconfirmed.
	StatusHealthChecking InstanceStatus = "health_checking"
	// StatusRunning means readiness is confirmed; the instance may receive proxied traffic.
	StatusRunning InstanceStatus = "running"
	// StatusStopped is terminal; a stopped record is removed and never revived.
	StatusStopped InstanceStatus = "stopped"
)

// CreateInstanceRequest is the payload for POST /instances.
type CreateInstanceRequest struct {
	// Model name to serve (required).
	// example: meta-llama/Llama-3.1-8B-Instruct
	ModelName string `json:"model_name" example:"meta-llama/Llama-3.1-8B-Instruct"`
	// Extra vllm launch parameters merged over server defaults.
	Params map[string]any `json:"params,omitempty"`
	// Idle timeout in seconds before the instance is reclaimed. 0 uses the server default.
	// example: 600
	Timeout int `json:"timeout,omitempty" example:"600"`
}

// InstanceInfo describes a managed vllm instance.
type InstanceInfo struct {
	// Stable instance identifier derived from model name and port.
	// example: meta-llama_Llama-3.1-8B-Instruct_9000
	ID string `json:"instance_id" example:"meta-llama_Llama-3.1-8B-Instruct_9000"`
	// Model served by this instance.
	ModelName string `json:"model_name" example:"meta-llama/Llama-3.1-8B-Instruct"`
	// Local TCP port the instance listens on.
	// example: 9000
	Port int `json:"port" example:"9000"`
	// Current lifecycle status.
	// example: running
	Status InstanceStatus `json:"status" example:"running"`
	// Last time the instance was used or touched (unix seconds).
	// example: 1700000000
	LastActive int64 `json:"last_active" example:"1700000000"`
	// Idle timeout in seconds.
	// example: 600
	Timeout int `json:"timeout" example:"600"`
	// Effective launch parameters (server defaults merged with request params).
	Params map[string]any `json:"params,omitempty"`
}

// DeleteResponse is returned by DELETE /instances/{id}.
type DeleteResponse struct {
	// Operation status.
	// example: deleted
	Status string `json:"status" example:"deleted"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: model_name is required
	Error string `json:"error" example:"model_name is required"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// OpenAIModel is one entry of the aggregated GET /v1/models response.
type OpenAIModel struct {
	ID      string `json:"id" example:"meta-llama/Llama-3.1-8B-Instruct"`
	Object  string `json:"object" example:"model"`
	OwnedBy string `json:"owned_by" example:"vllm"`
}

// OpenAIModelList is the OpenAI-compatible model listing shape.
type OpenAIModelList struct {
	Object string        `json:"object" example:"list"`
	Data   []OpenAIModel `json:"data"`
}
