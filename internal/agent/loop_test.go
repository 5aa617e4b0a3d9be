package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pigforge/gopig/internal/extensions"
	"github.com/pigforge/gopig/internal/providers"
	"github.com/pigforge/gopig/internal/queue"
	"github.com/pigforge/gopig/internal/session"
	"github.com/pigforge/gopig/internal/tools"
)

// scriptedProvider returns canned responses in order and records every
// request it saw.
type scriptedProvider struct {
	responses []*providers.ChatResponse
	err       error
	requests  []providers.ChatRequest
	calls     int
}

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++
	return p.responses[idx], nil
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk) error) (*providers.ChatResponse, error) {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Content != "" {
		if err := onChunk(providers.StreamChunk{Content: resp.Content}); err != nil {
			return nil, err
		}
	}
	if err := onChunk(providers.StreamChunk{Done: true}); err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *scriptedProvider) DefaultModel() string { return "stub-model" }
func (p *scriptedProvider) Name() string         { return "stub" }

func textResponse(content string) *providers.ChatResponse {
	return &providers.ChatResponse{Content: content, FinishReason: "stop"}
}

func toolResponse(calls ...providers.ToolCall) *providers.ChatResponse {
	return &providers.ChatResponse{ToolCalls: calls, FinishReason: "tool_calls"}
}

func newTestLoop(t *testing.T, p providers.Provider, reg *tools.Registry, q *queue.Queue, opts ...func(*Config)) (*Loop, *session.Session) {
	t.Helper()
	if reg == nil {
		reg = tools.NewRegistry()
	}
	if q == nil {
		q = queue.New()
	}
	cfg := Config{
		Provider:     p,
		Registry:     reg,
		Queue:        q,
		SystemPrompt: func() string { return "You are a helpful assistant." },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewLoop(cfg), session.New("test")
}

func registerDouble(t *testing.T, reg *tools.Registry) {
	t.Helper()
	err := reg.Register(tools.Descriptor{
		Name:        "double",
		Description: "Doubles a number.",
		Params:      []tools.Param{{Name: "x", Type: "number", Required: true}},
		Handler: func(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
			x, ok := args["x"].(float64)
			if !ok || x != 21 {
				return nil, errors.New("unexpected input")
			}
			return tools.NewResult("42"), nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
}

// TestRunPlainResponse verifies a text-only answer completes in one
// iteration and lands in the session.
func TestRunPlainResponse(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{textResponse("hello there")}}
	loop, s := newTestLoop(t, p, nil, nil)

	res, err := loop.Run(context.Background(), s, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "hello there" {
		t.Errorf("content = %q", res.Content)
	}
	if res.Iterations != 1 || res.Turns != 1 {
		t.Errorf("iterations = %d, turns = %d", res.Iterations, res.Turns)
	}

	path := s.PathToCurrent()
	if len(path) != 2 {
		t.Fatalf("path length = %d", len(path))
	}
	if path[0].Role != "user" || path[1].Role != "assistant" {
		t.Errorf("roles = %s, %s", path[0].Role, path[1].Role)
	}

	// System prompt is assembled, not stored.
	if p.requests[0].Messages[0].Role != "system" {
		t.Error("first message should be the system prompt")
	}
}

// TestRunToolRoundTrip verifies a tool call executes and its result reaches
// the next provider call as a tool message.
func TestRunToolRoundTrip(t *testing.T) {
	reg := tools.NewRegistry()
	registerDouble(t, reg)

	p := &scriptedProvider{responses: []*providers.ChatResponse{
		toolResponse(providers.ToolCall{ID: "call-1", Name: "double", Arguments: map[string]interface{}{"x": float64(21)}}),
		textResponse("The answer is 42."),
	}}
	loop, s := newTestLoop(t, p, reg, nil)

	res, err := loop.Run(context.Background(), s, "double 21")
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "The answer is 42." {
		t.Errorf("content = %q", res.Content)
	}
	if res.Iterations != 2 {
		t.Errorf("iterations = %d", res.Iterations)
	}

	// Second request must carry the tool result.
	second := p.requests[1].Messages
	var sawTool bool
	for _, m := range second {
		if m.Role == "tool" && m.Content == "42" && m.ToolCallID == "call-1" {
			sawTool = true
		}
	}
	if !sawTool {
		t.Errorf("tool result missing from second request: %+v", second)
	}

	// Assistant entry before the tool entry carries the call metadata.
	path := s.PathToCurrent()
	if len(path) != 4 {
		t.Fatalf("path length = %d", len(path))
	}
	if path[1].Role != "assistant" || path[2].Role != "tool" {
		t.Errorf("roles = %s, %s", path[1].Role, path[2].Role)
	}
}

// TestRunIterationCeiling verifies a model that never stops calling tools
// gets cut off with a notice, not an error.
func TestRunIterationCeiling(t *testing.T) {
	reg := tools.NewRegistry()
	if err := reg.Register(tools.Descriptor{
		Name: "noop",
		Handler: func(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
			return tools.NewResult("ok"), nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	p := &scriptedProvider{responses: []*providers.ChatResponse{
		toolResponse(providers.ToolCall{ID: "c", Name: "noop", Arguments: map[string]interface{}{}}),
	}}
	loop, s := newTestLoop(t, p, reg, nil, func(c *Config) { c.MaxIterations = 3 })

	res, err := loop.Run(context.Background(), s, "loop forever")
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "Maximum iterations reached without completion." {
		t.Errorf("content = %q", res.Content)
	}
	if res.Iterations != 3 {
		t.Errorf("iterations = %d", res.Iterations)
	}
	if p.calls != 3 {
		t.Errorf("provider calls = %d", p.calls)
	}

	last := s.Current()
	if last.Role != "assistant" || last.Content != res.Content {
		t.Errorf("final entry = %s %q", last.Role, last.Content)
	}
}

// TestRunToolErrorFeedsBack verifies a failing tool becomes an error-prefixed
// tool message instead of aborting the turn.
func TestRunToolErrorFeedsBack(t *testing.T) {
	reg := tools.NewRegistry()
	if err := reg.Register(tools.Descriptor{
		Name: "flaky",
		Handler: func(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
			return nil, errors.New("disk on fire")
		},
	}); err != nil {
		t.Fatal(err)
	}

	p := &scriptedProvider{responses: []*providers.ChatResponse{
		toolResponse(providers.ToolCall{ID: "c1", Name: "flaky", Arguments: map[string]interface{}{}}),
		textResponse("sorry about that"),
	}}
	loop, s := newTestLoop(t, p, reg, nil)

	res, err := loop.Run(context.Background(), s, "try it")
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "sorry about that" {
		t.Errorf("content = %q", res.Content)
	}

	var toolEntry *session.Entry
	for _, e := range s.PathToCurrent() {
		if e.Role == "tool" {
			toolEntry = e
		}
	}
	if toolEntry == nil {
		t.Fatal("no tool entry")
	}
	if !strings.HasPrefix(toolEntry.Content, "Error: ") {
		t.Errorf("tool entry = %q", toolEntry.Content)
	}
	if isErr, _ := toolEntry.Metadata["is_error"].(bool); !isErr {
		t.Error("is_error not set")
	}
}

// TestRunSteeringInjected verifies queued steering text appears as a user
// message before the next provider call.
func TestRunSteeringInjected(t *testing.T) {
	reg := tools.NewRegistry()
	if err := reg.Register(tools.Descriptor{
		Name: "noop",
		Handler: func(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
			return tools.NewResult("ok"), nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	q := queue.New()
	q.Enqueue("actually, stop and summarize")

	p := &scriptedProvider{responses: []*providers.ChatResponse{
		toolResponse(providers.ToolCall{ID: "c1", Name: "noop", Arguments: map[string]interface{}{}}),
		textResponse("summary: done"),
	}}
	loop, s := newTestLoop(t, p, reg, q, func(c *Config) { c.DrainMode = queue.DrainAll })

	if _, err := loop.Run(context.Background(), s, "go"); err != nil {
		t.Fatal(err)
	}

	second := p.requests[1].Messages
	var sawSteering bool
	for _, m := range second {
		if m.Role == "user" && m.Content == "actually, stop and summarize" {
			sawSteering = true
		}
	}
	if !sawSteering {
		t.Error("steering message missing from second request")
	}
	if q.Status().Steering != 0 {
		t.Error("steering queue not drained")
	}
}

// TestRunFollowUpTurns verifies follow-ups run as fresh turns after the
// first completes, in order.
func TestRunFollowUpTurns(t *testing.T) {
	q := queue.New()
	q.EnqueueFollowUp("and then say bye")

	p := &scriptedProvider{responses: []*providers.ChatResponse{
		textResponse("hi"),
		textResponse("bye"),
	}}
	loop, s := newTestLoop(t, p, nil, q)

	res, err := loop.Run(context.Background(), s, "say hi")
	if err != nil {
		t.Fatal(err)
	}
	if res.Turns != 2 {
		t.Errorf("turns = %d", res.Turns)
	}
	if res.Content != "bye" {
		t.Errorf("content = %q", res.Content)
	}

	path := s.PathToCurrent()
	if len(path) != 4 {
		t.Fatalf("path length = %d", len(path))
	}
	if path[2].Role != "user" || path[2].Content != "and then say bye" {
		t.Errorf("follow-up entry = %s %q", path[2].Role, path[2].Content)
	}
}

// TestRunFollowUpHeldAfterCeiling verifies a turn that exhausts its
// iteration budget leaves queued follow-ups alone.
func TestRunFollowUpHeldAfterCeiling(t *testing.T) {
	reg := tools.NewRegistry()
	if err := reg.Register(tools.Descriptor{
		Name: "noop",
		Handler: func(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
			return tools.NewResult("ok"), nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	q := queue.New()
	q.EnqueueFollowUp("still waiting")

	p := &scriptedProvider{responses: []*providers.ChatResponse{
		toolResponse(providers.ToolCall{ID: "c", Name: "noop", Arguments: map[string]interface{}{}}),
	}}
	loop, s := newTestLoop(t, p, reg, q, func(c *Config) { c.MaxIterations = 2 })

	res, err := loop.Run(context.Background(), s, "loop forever")
	if err != nil {
		t.Fatal(err)
	}
	if res.Turns != 1 {
		t.Errorf("turns = %d, want 1", res.Turns)
	}
	if res.Content != "Maximum iterations reached without completion." {
		t.Errorf("content = %q", res.Content)
	}
	if st := q.Status(); st.FollowUps != 1 {
		t.Errorf("follow-ups remaining = %d, want 1", st.FollowUps)
	}
}

// TestRunPromptResolvedPerCall verifies the system prompt is re-resolved
// for every provider call, so context-file edits land mid-run.
func TestRunPromptResolvedPerCall(t *testing.T) {
	reg := tools.NewRegistry()
	if err := reg.Register(tools.Descriptor{
		Name: "noop",
		Handler: func(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
			return tools.NewResult("ok"), nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	prompts := []string{"first prompt", "second prompt"}
	served := 0
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		toolResponse(providers.ToolCall{ID: "c1", Name: "noop", Arguments: map[string]interface{}{}}),
		textResponse("done"),
	}}
	loop, s := newTestLoop(t, p, reg, nil, func(c *Config) {
		c.SystemPrompt = func() string {
			prompt := prompts[served]
			if served < len(prompts)-1 {
				served++
			}
			return prompt
		}
	})

	if _, err := loop.Run(context.Background(), s, "go"); err != nil {
		t.Fatal(err)
	}

	if got := p.requests[0].Messages[0].Content; got != "first prompt" {
		t.Errorf("first call prompt = %q", got)
	}
	if got := p.requests[1].Messages[0].Content; got != "second prompt" {
		t.Errorf("second call prompt = %q", got)
	}
}

// TestRunUsesEffectivePath verifies a compacted session submits the
// summary entry plus the kept suffix, not the full history.
func TestRunUsesEffectivePath(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{textResponse("ok")}}
	loop, s := newTestLoop(t, p, nil, nil)

	for i := 0; i < 12; i++ {
		s.Append("user", "old chatter", nil)
	}
	if !s.Compact() {
		t.Fatal("Compact returned false")
	}

	if _, err := loop.Run(context.Background(), s, "what now"); err != nil {
		t.Fatal(err)
	}

	// system prompt + summary + 5 kept + the new user entry.
	msgs := p.requests[0].Messages
	if len(msgs) != 8 {
		t.Fatalf("request has %d messages, want 8", len(msgs))
	}
	if msgs[1].Role != "system" || !strings.Contains(msgs[1].Content, "summarized") {
		t.Errorf("messages[1] = %s %q", msgs[1].Role, msgs[1].Content)
	}
	if s.Len() != 13+2 {
		t.Errorf("tree size = %d, want 15", s.Len())
	}
}

// TestRunProviderErrorAborts verifies a provider failure surfaces as an
// error while keeping the user entry in the session.
func TestRunProviderErrorAborts(t *testing.T) {
	provErr := &providers.ProviderError{Provider: "stub", StatusCode: 401, Message: "bad key"}
	p := &scriptedProvider{err: provErr}
	loop, s := newTestLoop(t, p, nil, nil)

	_, err := loop.Run(context.Background(), s, "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	var pe *providers.ProviderError
	if !errors.As(err, &pe) {
		t.Errorf("error chain missing provider error: %v", err)
	}
	if s.Len() != 1 || s.Current().Role != "user" {
		t.Errorf("session state after failure: len=%d", s.Len())
	}
}

// TestRunStreaming verifies streamed tokens reach the callback and the
// final content matches.
func TestRunStreaming(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{textResponse("streamed reply")}}
	var streamed strings.Builder
	loop, s := newTestLoop(t, p, nil, nil, func(c *Config) {
		c.Stream = true
		c.OnToken = func(text string) { streamed.WriteString(text) }
	})

	res, err := loop.Run(context.Background(), s, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "streamed reply" {
		t.Errorf("content = %q", res.Content)
	}
	if streamed.String() != "streamed reply" {
		t.Errorf("streamed = %q", streamed.String())
	}
}

// TestRunParallelToolCalls verifies multiple calls in one batch produce
// tool entries in call order.
func TestRunParallelToolCalls(t *testing.T) {
	reg := tools.NewRegistry()
	if err := reg.Register(tools.Descriptor{
		Name:   "echo",
		Params: []tools.Param{{Name: "v", Type: "string", Required: true}},
		Handler: func(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
			return tools.NewResult(args["v"].(string)), nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	p := &scriptedProvider{responses: []*providers.ChatResponse{
		toolResponse(
			providers.ToolCall{ID: "a", Name: "echo", Arguments: map[string]interface{}{"v": "first"}},
			providers.ToolCall{ID: "b", Name: "echo", Arguments: map[string]interface{}{"v": "second"}},
			providers.ToolCall{ID: "c", Name: "echo", Arguments: map[string]interface{}{"v": "third"}},
		),
		textResponse("done"),
	}}
	loop, s := newTestLoop(t, p, reg, nil)

	if _, err := loop.Run(context.Background(), s, "run all"); err != nil {
		t.Fatal(err)
	}

	var got []string
	for _, e := range s.PathToCurrent() {
		if e.Role == "tool" {
			got = append(got, e.Content)
		}
	}
	want := []string{"first", "second", "third"}
	if len(got) != len(want) {
		t.Fatalf("tool entries = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}

// TestRunEmitsEvents verifies lifecycle events fire in the expected order.
func TestRunEmitsEvents(t *testing.T) {
	reg := tools.NewRegistry()
	if err := reg.Register(tools.Descriptor{
		Name: "noop",
		Handler: func(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
			return tools.NewResult("ok"), nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	hub := extensions.NewHub()
	var events []string
	record := func(event string, payload map[string]interface{}) error {
		events = append(events, event)
		return nil
	}
	hub.On(extensions.EventMessageReceived, record)
	hub.On(extensions.EventToolCallStart, record)
	hub.On(extensions.EventToolCallEnd, record)
	hub.On(extensions.EventResponseGenerated, record)

	p := &scriptedProvider{responses: []*providers.ChatResponse{
		toolResponse(providers.ToolCall{ID: "c1", Name: "noop", Arguments: map[string]interface{}{}}),
		textResponse("done"),
	}}
	loop, s := newTestLoop(t, p, reg, nil, func(c *Config) { c.Events = hub })

	if _, err := loop.Run(context.Background(), s, "go"); err != nil {
		t.Fatal(err)
	}

	want := []string{
		extensions.EventMessageReceived,
		extensions.EventToolCallStart,
		extensions.EventToolCallEnd,
		extensions.EventResponseGenerated,
	}
	if len(events) != len(want) {
		t.Fatalf("events = %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, events[i], want[i])
		}
	}
}
