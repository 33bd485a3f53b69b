// Package agent bridges the turn orchestrator with the external
// natural-language reasoning engine.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nbianchi/tasktalk/internal/tools"
)

// Exchange is one prior conversational turn, oldest first.
type Exchange struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolExecutor is the bound tool table handed to the agent for one turn. The
// orchestrator owns the implementation, so it can observe and de-duplicate
// calls; the agent can invoke tools but never chooses the principal.
type ToolExecutor interface {
	Tools() []*tools.Tool
	Invoke(ctx context.Context, name string, args map[string]any) (tools.Result, error)
}

// Request carries everything the agent sees for one turn: the full ordered
// history, the current message, and the tool table.
type Request struct {
	History []Exchange
	Message string
	Tools   ToolExecutor
}

// Response is the agent's final text for the turn. Tool side effects have
// already happened, sequentially, through the executor.
type Response struct {
	Text string
}

// Agent produces an assistant reply, invoking zero or more tools along the
// way. Failures are caught by the orchestrator and degrade to a fixed
// apology; they never abort the turn.
type Agent interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// Config controls agent construction.
type Config struct {
	Mode    string
	HTTPURL string
	Model   string
	APIKey  string
}

// New builds an agent for the configured mode. Auto prefers the HTTP
// endpoint when one is set and falls back to the offline mock.
func New(cfg Config) (Agent, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}
	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPAgent(cfg.HTTPURL, cfg.Model, cfg.APIKey), nil
		}
		return NewMockAgent(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("agent HTTP url is required for http mode")
		}
		return NewHTTPAgent(cfg.HTTPURL, cfg.Model, cfg.APIKey), nil
	case "mock":
		return NewMockAgent(), nil
	default:
		return nil, fmt.Errorf("unsupported agent mode %q", cfg.Mode)
	}
}
