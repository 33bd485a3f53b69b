package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const systemPrompt = "You are a friendly task-list assistant. Use the provided tools to " +
	"manage the user's tasks and answer from tool results; never invent task ids."

// maxToolIterations bounds the conversation loop so a misbehaving model
// cannot spin forever.
const maxToolIterations = 8

// HTTPAgent drives an OpenAI-compatible chat-completions endpoint with tool
// calling. Tool invocations requested by the model run synchronously and in
// order through the executor before the next round trip.
type HTTPAgent struct {
	url    string
	model  string
	apiKey string
	client *http.Client
}

func NewHTTPAgent(url, model, apiKey string) *HTTPAgent {
	return &HTTPAgent{
		url:    strings.TrimRight(strings.TrimSpace(url), "/"),
		model:  model,
		apiKey: strings.TrimSpace(apiKey),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
}

func (a *HTTPAgent) Invoke(ctx context.Context, req Request) (Response, error) {
	messages := make([]wireMessage, 0, len(req.History)+2)
	messages = append(messages, wireMessage{Role: "system", Content: systemPrompt})
	for _, ex := range req.History {
		messages = append(messages, wireMessage{Role: ex.Role, Content: ex.Content})
	}
	messages = append(messages, wireMessage{Role: "user", Content: req.Message})

	var table []wireTool
	if req.Tools != nil {
		for _, t := range req.Tools.Tools() {
			var wt wireTool
			wt.Type = "function"
			wt.Function.Name = t.Name
			wt.Function.Description = t.Description
			wt.Function.Parameters = t.Parameters
			table = append(table, wt)
		}
	}

	for iter := 0; iter < maxToolIterations; iter++ {
		reply, err := a.complete(ctx, chatRequest{Model: a.model, Messages: messages, Tools: table})
		if err != nil {
			return Response{}, err
		}

		if len(reply.ToolCalls) == 0 {
			return Response{Text: strings.TrimSpace(reply.Content)}, nil
		}

		messages = append(messages, reply)
		for _, call := range reply.ToolCalls {
			args := map[string]any{}
			if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
				if err := json.Unmarshal([]byte(raw), &args); err != nil {
					return Response{}, fmt.Errorf("decode tool arguments for %s: %w", call.Function.Name, err)
				}
			}
			result, err := req.Tools.Invoke(ctx, call.Function.Name, args)
			if err != nil {
				return Response{}, fmt.Errorf("invoke tool %s: %w", call.Function.Name, err)
			}
			payload, err := json.Marshal(result)
			if err != nil {
				return Response{}, fmt.Errorf("encode tool result for %s: %w", call.Function.Name, err)
			}
			messages = append(messages, wireMessage{
				Role:       "tool",
				Content:    string(payload),
				ToolCallID: call.ID,
			})
		}
	}

	return Response{}, fmt.Errorf("agent exceeded %d tool iterations", maxToolIterations)
}

func (a *HTTPAgent) complete(ctx context.Context, req chatRequest) (wireMessage, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return wireMessage{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return wireMessage{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	res, err := a.client.Do(httpReq)
	if err != nil {
		return wireMessage{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return wireMessage{}, fmt.Errorf("agent http status %d: %s", res.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return wireMessage{}, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return wireMessage{}, fmt.Errorf("agent returned no choices")
	}
	return parsed.Choices[0].Message, nil
}
