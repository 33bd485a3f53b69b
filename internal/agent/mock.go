package agent

import (
	"context"
	"fmt"
	"strings"
)

// MockAgent provides deterministic offline replies with a tiny intent
// heuristic, so the full pipeline (including tool dispatch) can run without a
// reasoning provider.
type MockAgent struct{}

func NewMockAgent() *MockAgent { return &MockAgent{} }

func (a *MockAgent) Invoke(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	text := strings.TrimSpace(req.Message)
	lower := strings.ToLower(text)
	if req.Tools == nil {
		return Response{Text: fmt.Sprintf("I heard you: %s", text)}, nil
	}

	switch {
	case strings.HasPrefix(lower, "add "):
		title := strings.TrimSpace(text[len("add "):])
		res, err := req.Tools.Invoke(ctx, "add_task", map[string]any{"title": title})
		if err != nil {
			return Response{}, err
		}
		return Response{Text: res.Message}, nil

	case strings.HasPrefix(lower, "complete ") || strings.HasPrefix(lower, "done "):
		ref := lastWord(text)
		res, err := req.Tools.Invoke(ctx, "complete_task", map[string]any{"task": ref})
		if err != nil {
			return Response{}, err
		}
		return Response{Text: res.Message}, nil

	case strings.HasPrefix(lower, "delete ") || strings.HasPrefix(lower, "remove "):
		ref := lastWord(text)
		res, err := req.Tools.Invoke(ctx, "delete_task", map[string]any{"task": ref})
		if err != nil {
			return Response{}, err
		}
		return Response{Text: res.Message}, nil

	case strings.Contains(lower, "list") || (strings.Contains(lower, "what") && strings.Contains(lower, "task")):
		res, err := req.Tools.Invoke(ctx, "list_tasks", map[string]any{})
		if err != nil {
			return Response{}, err
		}
		reply := res.Message
		for i, task := range res.Tasks {
			reply += fmt.Sprintf("\n%d. %s", i+1, task.Title)
		}
		return Response{Text: reply}, nil
	}

	return Response{Text: fmt.Sprintf("I heard you: %s", text)}, nil
}

func lastWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
