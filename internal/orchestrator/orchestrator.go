// Package orchestrator runs one conversational turn end to end. It is
// stateless between turns: everything a turn needs is reloaded from storage,
// so any replica can serve any message.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/nbianchi/tasktalk/internal/agent"
	"github.com/nbianchi/tasktalk/internal/conversation"
	"github.com/nbianchi/tasktalk/internal/identity"
	"github.com/nbianchi/tasktalk/internal/observability"
	"github.com/nbianchi/tasktalk/internal/reliability"
	"github.com/nbianchi/tasktalk/internal/taskstore"
	"github.com/nbianchi/tasktalk/internal/tools"
)

// apologyResponse replaces the assistant reply when the agent fails. The
// user's message is already persisted by then, so nothing is lost.
const apologyResponse = "I'm sorry, I'm having trouble responding right now. Your message was saved, please try again in a moment."

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message exceeds the maximum length")
)

// TurnRequest is one inbound user message. An empty ConversationID starts a
// new conversation.
type TurnRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// TurnResult is everything a completed turn produced. Messages is the full
// updated conversation log, oldest first; ToolCalls names the distinct tools
// the agent invoked this turn.
type TurnResult struct {
	ConversationID string                 `json:"conversation_id"`
	Response       string                 `json:"response"`
	Degraded       bool                   `json:"degraded,omitempty"`
	Messages       []conversation.Message `json:"messages"`
	ToolCalls      []string               `json:"tool_calls,omitempty"`
	Invocations    []tools.Invocation     `json:"tool_invocations,omitempty"`
}

// Orchestrator coordinates the stores and the agent for single turns. It
// holds no per-conversation state.
type Orchestrator struct {
	conversations conversation.Store
	tasks         taskstore.Store
	agent         agent.Agent
	policy        reliability.Policy
	log           *zap.Logger
	metrics       *observability.Metrics

	maxMessageRunes int
	historyLimit    int
	agentTimeout    time.Duration
}

// Options tune per-turn limits. Zero values fall back to safe defaults.
type Options struct {
	MaxMessageRunes int
	HistoryLimit    int
	AgentTimeout    time.Duration
}

func New(conversations conversation.Store, tasks taskstore.Store, ag agent.Agent, policy reliability.Policy, log *zap.Logger, metrics *observability.Metrics, opts Options) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxMessageRunes <= 0 {
		opts.MaxMessageRunes = 10000
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 200
	}
	if opts.AgentTimeout <= 0 {
		opts.AgentTimeout = 45 * time.Second
	}
	return &Orchestrator{
		conversations:   conversations,
		tasks:           tasks,
		agent:           ag,
		policy:          policy,
		log:             log,
		metrics:         metrics,
		maxMessageRunes: opts.MaxMessageRunes,
		historyLimit:    opts.HistoryLimit,
		agentTimeout:    opts.AgentTimeout,
	}
}

// Run executes one turn for the given principal: validate, resolve the
// conversation, persist the user message, invoke the agent with a bound tool
// table, persist the reply. The agent failing degrades the reply to a fixed
// apology; the turn itself still completes and persists.
func (o *Orchestrator) Run(ctx context.Context, principal identity.Principal, req TurnRequest) (TurnResult, error) {
	start := time.Now()
	res, err := o.run(ctx, principal, req)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "failed"
	case res.Degraded:
		outcome = "degraded"
	}
	o.metrics.ObserveTurn(outcome, time.Since(start))
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, principal identity.Principal, req TurnRequest) (TurnResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return TurnResult{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(req.Message) > o.maxMessageRunes {
		return TurnResult{}, ErrMessageTooLong
	}

	conv, err := o.resolveConversation(ctx, principal, req.ConversationID)
	if err != nil {
		return TurnResult{}, err
	}

	prior, err := o.loadMessages(ctx, principal, conv.ID)
	if err != nil {
		return TurnResult{}, err
	}

	// The user message is persisted before the agent runs, so a degraded or
	// crashed turn never loses what the user said.
	userMsg, err := o.appendMessage(ctx, conv.ID, principal, conversation.RoleUser, req.Message)
	if err != nil {
		return TurnResult{}, err
	}

	registry := tools.NewRegistry(principal, o.tasks, o.policy, o.log)
	exec := newTurnExecutor(registry, o.metrics)

	agentCtx, cancel := context.WithTimeout(ctx, o.agentTimeout)
	defer cancel()

	reply, degraded := o.invokeAgent(agentCtx, principal, agent.Request{
		History: o.toHistory(prior),
		Message: req.Message,
		Tools:   exec,
	})

	assistantMsg, err := o.appendMessage(ctx, conv.ID, principal, conversation.RoleAssistant, reply)
	if err != nil {
		return TurnResult{}, err
	}

	full := make([]conversation.Message, 0, len(prior)+2)
	full = append(full, prior...)
	full = append(full, userMsg, assistantMsg)

	return TurnResult{
		ConversationID: conv.ID,
		Response:       reply,
		Degraded:       degraded,
		Messages:       full,
		ToolCalls:      distinctTools(exec.calls),
		Invocations:    exec.calls,
	}, nil
}

func distinctTools(calls []tools.Invocation) []string {
	if len(calls) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(calls))
	names := make([]string, 0, len(calls))
	for _, c := range calls {
		if _, ok := seen[c.Tool]; ok {
			continue
		}
		seen[c.Tool] = struct{}{}
		names = append(names, c.Tool)
	}
	return names
}

func (o *Orchestrator) resolveConversation(ctx context.Context, principal identity.Principal, id string) (conversation.Conversation, error) {
	var conv conversation.Conversation
	err := reliability.Do(ctx, o.policy, func(ctx context.Context) error {
		var err error
		if id == "" {
			conv, err = o.conversations.Create(ctx, principal.UserID)
		} else {
			conv, err = o.conversations.Get(ctx, id, principal.UserID)
		}
		return err
	})
	return conv, err
}

func (o *Orchestrator) loadMessages(ctx context.Context, principal identity.Principal, conversationID string) ([]conversation.Message, error) {
	var msgs []conversation.Message
	err := reliability.Do(ctx, o.policy, func(ctx context.Context) error {
		var err error
		msgs, err = o.conversations.Messages(ctx, conversationID, principal.UserID)
		return err
	})
	return msgs, err
}

// toHistory converts the stored log into agent exchanges, keeping only the
// most recent entries when the log outgrows the history limit.
func (o *Orchestrator) toHistory(msgs []conversation.Message) []agent.Exchange {
	if len(msgs) > o.historyLimit {
		msgs = msgs[len(msgs)-o.historyLimit:]
	}
	history := make([]agent.Exchange, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, agent.Exchange{Role: string(m.Role), Content: m.Content})
	}
	return history
}

func (o *Orchestrator) appendMessage(ctx context.Context, conversationID string, principal identity.Principal, role conversation.Role, content string) (conversation.Message, error) {
	var msg conversation.Message
	err := reliability.Do(ctx, o.policy, func(ctx context.Context) error {
		var err error
		msg, err = o.conversations.AppendMessage(ctx, conversationID, principal.UserID, role, content)
		return err
	})
	return msg, err
}

func (o *Orchestrator) invokeAgent(ctx context.Context, principal identity.Principal, req agent.Request) (reply string, degraded bool) {
	resp, err := o.agent.Invoke(ctx, req)
	if err != nil {
		o.log.Warn("agent failed, degrading to apology",
			zap.String("principal", principal.LogID()),
			zap.Error(err),
		)
		o.metrics.ObserveAgentFailure()
		return apologyResponse, true
	}
	if resp.Text == "" {
		return apologyResponse, true
	}
	return resp.Text, false
}

// turnExecutor wraps the tool registry for one turn. It records every
// invocation and short-circuits exact repeats of the same call, returning the
// first result instead of re-running the side effect.
type turnExecutor struct {
	inner   *tools.Registry
	metrics *observability.Metrics
	seen    map[string]tools.Result
	calls   []tools.Invocation
}

func newTurnExecutor(inner *tools.Registry, metrics *observability.Metrics) *turnExecutor {
	return &turnExecutor{
		inner:   inner,
		metrics: metrics,
		seen:    make(map[string]tools.Result),
	}
}

func (e *turnExecutor) Tools() []*tools.Tool {
	return e.inner.Tools()
}

func (e *turnExecutor) Invoke(ctx context.Context, name string, args map[string]any) (tools.Result, error) {
	key := invocationKey(name, args)
	if prev, ok := e.seen[key]; ok {
		return prev, nil
	}
	res, err := e.inner.Invoke(ctx, name, args)
	if err != nil {
		return res, err
	}
	e.seen[key] = res
	e.calls = append(e.calls, tools.Invocation{Tool: name, Args: args, Result: res})
	e.metrics.ObserveTool(name, res.Success)
	return res, nil
}

// invocationKey canonicalizes a call as tool name plus its arguments encoded
// with sorted keys, so semantically identical repeats collide.
func invocationKey(name string, args map[string]any) string {
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte("{}")
	}
	return name + ":" + string(raw)
}
