// Package tools exposes the fixed table of task operations the agent may
// call. Every registry is bound to one verified principal at construction;
// tool arguments never carry identity.
package tools

import (
	"context"

	"github.com/nbianchi/tasktalk/internal/taskstore"
)

// Tool is one named operation with its JSON-schema parameters.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`

	handler func(ctx context.Context, args map[string]any) (Result, error)
}

// Result is the JSON-serializable outcome handed back to the agent. Domain
// failures (reference not found, validation) are expressed here with
// Success=false rather than as errors, so the conversation can continue.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`

	Task  *taskstore.Task  `json:"task,omitempty"`
	Tasks []taskstore.Task `json:"tasks,omitempty"`

	// TotalTasks is the principal's current task count, reported alongside
	// failed lookups so the agent can answer helpfully.
	TotalTasks int `json:"total_tasks,omitempty"`
}

// Invocation records one executed tool call within a turn.
type Invocation struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args,omitempty"`
	Result Result         `json:"result"`
}
