package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nbianchi/tasktalk/internal/identity"
	"github.com/nbianchi/tasktalk/internal/reliability"
	"github.com/nbianchi/tasktalk/internal/taskstore"
)

// ErrToolUnavailable is returned when an invocation names a tool that is not
// in the registry. It signals a capability mismatch, not a transient failure.
type ErrToolUnavailable struct {
	ToolName string
}

func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}

const (
	storageUnavailableMsg = "Task storage is temporarily unavailable, please try again in a moment."
	storageFailedMsg      = "Something went wrong handling that task operation."
)

// Registry is the fixed tool table bound to one principal. The principal
// comes from the verified request context, never from tool arguments, so a
// caller cannot act as another tenant by passing a different id as data.
type Registry struct {
	principal identity.Principal
	store     taskstore.Store
	policy    reliability.Policy
	log       *zap.Logger

	tools map[string]*Tool
	order []string
}

func NewRegistry(principal identity.Principal, store taskstore.Store, policy reliability.Policy, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{
		principal: principal,
		store:     store,
		policy:    policy,
		log:       log,
		tools:     make(map[string]*Tool),
	}
	r.registerBuiltins()
	return r
}

// Tools returns the table in registration order, for handing to the agent.
func (r *Registry) Tools() []*Tool {
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Invoke runs the named tool. Unknown tools fail with ErrToolUnavailable;
// storage failures that survive the retry budget come back as an unsuccessful
// Result carrying a generic message, with the raw cause logged but never
// echoed.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (Result, error) {
	tool, ok := r.tools[name]
	if !ok {
		return Result{}, &ErrToolUnavailable{ToolName: name}
	}
	res, err := tool.handler(ctx, args)
	if err != nil {
		transient := reliability.Transient(err)
		r.log.Warn("tool failed",
			zap.String("tool", name),
			zap.String("principal", r.principal.LogID()),
			zap.Bool("transient", transient),
			zap.Error(err),
		)
		msg := storageFailedMsg
		if transient {
			msg = storageUnavailableMsg
		}
		return Result{Success: false, Message: msg}, nil
	}
	return res, nil
}

func (r *Registry) register(t *Tool) {
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
}

func (r *Registry) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	return reliability.Do(ctx, r.policy, fn)
}

func (r *Registry) registerBuiltins() {
	taskRefProperty := map[string]any{
		"type":        "string",
		"description": "The task id, or its position in the current list (1 = most recently created)",
	}

	r.register(&Tool{
		Name:        "add_task",
		Description: "Add a new task to the user's list.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":       map[string]any{"type": "string", "description": "Short task title"},
				"description": map[string]any{"type": "string", "description": "Optional longer description"},
				"priority":    map[string]any{"type": "string", "description": "Optional priority (low, medium, high)"},
				"category":    map[string]any{"type": "string", "description": "Optional category label"},
				"due_date":    map[string]any{"type": "string", "description": "Optional due date, YYYY-MM-DD or RFC3339"},
			},
			"required": []string{"title"},
		},
		handler: r.handleAdd,
	})

	r.register(&Tool{
		Name:        "list_tasks",
		Description: "List the user's tasks, optionally filtered.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status":   map[string]any{"type": "string", "description": "all, active or completed (default all)"},
				"priority": map[string]any{"type": "string", "description": "Filter by priority"},
				"category": map[string]any{"type": "string", "description": "Filter by category"},
				"due":      map[string]any{"type": "string", "description": "today, tomorrow, this_week, overdue or no_due_date"},
			},
		},
		handler: r.handleList,
	})

	r.register(&Tool{
		Name:        "complete_task",
		Description: "Mark a task as completed.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task": taskRefProperty,
			},
			"required": []string{"task"},
		},
		handler: r.handleComplete,
	})

	r.register(&Tool{
		Name:        "delete_task",
		Description: "Delete a task from the list.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task": taskRefProperty,
			},
			"required": []string{"task"},
		},
		handler: r.handleDelete,
	})

	r.register(&Tool{
		Name:        "update_task",
		Description: "Update fields of an existing task.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task":        taskRefProperty,
				"title":       map[string]any{"type": "string", "description": "New title"},
				"description": map[string]any{"type": "string", "description": "New description"},
				"priority":    map[string]any{"type": "string", "description": "New priority"},
				"category":    map[string]any{"type": "string", "description": "New category"},
				"due_date":    map[string]any{"type": "string", "description": "New due date, or 'none' to clear it"},
				"completed":   map[string]any{"type": "boolean", "description": "Completion state"},
			},
			"required": []string{"task"},
		},
		handler: r.handleUpdate,
	})
}

func (r *Registry) handleAdd(ctx context.Context, args map[string]any) (Result, error) {
	title := strings.TrimSpace(stringArg(args, "title"))
	if title == "" {
		return Result{Success: false, Message: "A task needs a title before I can add it."}, nil
	}

	task := taskstore.Task{
		UserID:      r.principal.UserID,
		Title:       title,
		Description: strings.TrimSpace(stringArg(args, "description")),
		Priority:    strings.ToLower(strings.TrimSpace(stringArg(args, "priority"))),
		Category:    strings.TrimSpace(stringArg(args, "category")),
	}
	if raw := strings.TrimSpace(stringArg(args, "due_date")); raw != "" {
		due, err := parseDueDate(raw)
		if err != nil {
			return Result{Success: false, Message: fmt.Sprintf("I couldn't read the due date %q; use YYYY-MM-DD.", raw)}, nil
		}
		task.DueDate = &due
	}

	var created taskstore.Task
	err := r.retry(ctx, func(ctx context.Context) error {
		var cerr error
		created, cerr = r.store.Create(ctx, task)
		return cerr
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("Added task %q.", created.Title),
		Task:    &created,
	}, nil
}

func (r *Registry) handleList(ctx context.Context, args map[string]any) (Result, error) {
	filter := taskstore.Filter{
		Priority: strings.ToLower(strings.TrimSpace(stringArg(args, "priority"))),
		Category: strings.TrimSpace(stringArg(args, "category")),
	}
	switch strings.ToLower(strings.TrimSpace(stringArg(args, "status"))) {
	case "", "all":
		filter.Status = taskstore.StatusAll
	case "active", "pending":
		filter.Status = taskstore.StatusActive
	case "completed", "done":
		filter.Status = taskstore.StatusCompleted
	default:
		return Result{Success: false, Message: "Status must be all, active or completed."}, nil
	}
	switch due := strings.ToLower(strings.TrimSpace(stringArg(args, "due"))); due {
	case "":
	case "today", "tomorrow", "this_week", "overdue", "no_due_date":
		filter.Due = taskstore.DueWindow(due)
	default:
		return Result{Success: false, Message: "Due filter must be today, tomorrow, this_week, overdue or no_due_date."}, nil
	}

	var listing []taskstore.Task
	err := r.retry(ctx, func(ctx context.Context) error {
		var lerr error
		listing, lerr = r.store.List(ctx, r.principal.UserID, filter)
		return lerr
	})
	if err != nil {
		return Result{}, err
	}

	msg := fmt.Sprintf("Found %d task(s).", len(listing))
	if len(listing) == 0 {
		msg = "No tasks matched."
	}
	return Result{Success: true, Message: msg, Tasks: listing, TotalTasks: len(listing)}, nil
}

func (r *Registry) handleComplete(ctx context.Context, args map[string]any) (Result, error) {
	ref := strings.TrimSpace(stringArg(args, "task"))
	id, err := r.resolveReference(ctx, ref)
	if err != nil {
		return Result{}, err
	}

	done := true
	var updated taskstore.Task
	err = r.retry(ctx, func(ctx context.Context) error {
		var uerr error
		updated, uerr = r.store.Update(ctx, id, r.principal.UserID, taskstore.Patch{Completed: &done})
		return uerr
	})
	if err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			return r.notFoundResult(ctx, ref)
		}
		return Result{}, err
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("Marked %q as completed.", updated.Title),
		Task:    &updated,
	}, nil
}

func (r *Registry) handleDelete(ctx context.Context, args map[string]any) (Result, error) {
	ref := strings.TrimSpace(stringArg(args, "task"))
	id, err := r.resolveReference(ctx, ref)
	if err != nil {
		return Result{}, err
	}

	// Fetch first so the confirmation can name the task.
	var victim taskstore.Task
	err = r.retry(ctx, func(ctx context.Context) error {
		var gerr error
		victim, gerr = r.store.Get(ctx, id, r.principal.UserID)
		return gerr
	})
	if err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			return r.notFoundResult(ctx, ref)
		}
		return Result{}, err
	}

	err = r.retry(ctx, func(ctx context.Context) error {
		derr := r.store.Delete(ctx, id, r.principal.UserID)
		if errors.Is(derr, taskstore.ErrNotFound) {
			// A concurrent turn already removed it; deletion is idempotent.
			return nil
		}
		return derr
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("Deleted task %q.", victim.Title),
		Task:    &victim,
	}, nil
}

func (r *Registry) handleUpdate(ctx context.Context, args map[string]any) (Result, error) {
	ref := strings.TrimSpace(stringArg(args, "task"))
	id, err := r.resolveReference(ctx, ref)
	if err != nil {
		return Result{}, err
	}

	var patch taskstore.Patch
	touched := false
	if v, ok := args["title"].(string); ok {
		title := strings.TrimSpace(v)
		if title == "" {
			return Result{Success: false, Message: "A task title cannot be empty."}, nil
		}
		patch.Title = &title
		touched = true
	}
	if v, ok := args["description"].(string); ok {
		patch.Description = &v
		touched = true
	}
	if v, ok := args["priority"].(string); ok {
		p := strings.ToLower(strings.TrimSpace(v))
		patch.Priority = &p
		touched = true
	}
	if v, ok := args["category"].(string); ok {
		c := strings.TrimSpace(v)
		patch.Category = &c
		touched = true
	}
	if v, ok := args["completed"].(bool); ok {
		patch.Completed = &v
		touched = true
	}
	if raw, ok := args["due_date"].(string); ok {
		raw = strings.TrimSpace(raw)
		switch strings.ToLower(raw) {
		case "none", "clear", "":
			patch.ClearDue = true
		default:
			due, derr := parseDueDate(raw)
			if derr != nil {
				return Result{Success: false, Message: fmt.Sprintf("I couldn't read the due date %q; use YYYY-MM-DD.", raw)}, nil
			}
			patch.DueDate = &due
		}
		touched = true
	}
	if !touched {
		return Result{Success: false, Message: "Nothing to update; provide at least one field."}, nil
	}

	var updated taskstore.Task
	err = r.retry(ctx, func(ctx context.Context) error {
		var uerr error
		updated, uerr = r.store.Update(ctx, id, r.principal.UserID, patch)
		return uerr
	})
	if err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			return r.notFoundResult(ctx, ref)
		}
		return Result{}, err
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("Updated task %q.", updated.Title),
		Task:    &updated,
	}, nil
}

// notFoundResult builds the structured lookup failure: a friendly message
// plus the principal's current total so the agent can answer "you have N
// tasks, I couldn't find X".
func (r *Registry) notFoundResult(ctx context.Context, ref string) (Result, error) {
	var total int
	err := r.retry(ctx, func(ctx context.Context) error {
		var cerr error
		total, cerr = r.store.Count(ctx, r.principal.UserID)
		return cerr
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Success:    false,
		Message:    fmt.Sprintf("I couldn't find a task matching %q. You currently have %d task(s).", ref, total),
		TotalTasks: total,
	}, nil
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key]; ok {
		switch t := v.(type) {
		case string:
			return t
		case float64:
			// JSON numbers decode as float64; ordinals arrive this way when
			// the agent sends them unquoted.
			if t == float64(int64(t)) {
				return fmt.Sprintf("%d", int64(t))
			}
			return fmt.Sprintf("%v", t)
		}
	}
	return ""
}

func parseDueDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
