// Package agent runs the think-act-observe loop: call the model, execute
// requested tools, feed results back, and repeat until the model answers
// in plain text or the iteration budget runs out.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pigforge/gopig/internal/extensions"
	"github.com/pigforge/gopig/internal/providers"
	"github.com/pigforge/gopig/internal/queue"
	"github.com/pigforge/gopig/internal/session"
	"github.com/pigforge/gopig/internal/tools"
	"github.com/pigforge/gopig/internal/tracing"
)

const (
	defaultMaxIterations = 10
	maxIterationsNotice  = "Maximum iterations reached without completion."
)

// Config configures a new Loop.
type Config struct {
	Provider providers.Provider
	Registry *tools.Registry
	Sessions *session.Manager
	Queue    *queue.Queue
	Events   *extensions.Hub // optional

	// SystemPrompt is resolved at every provider call, so edits to the
	// context files behind it take effect on the next iteration.
	SystemPrompt  func() string
	Model         string // empty = provider default
	MaxIterations int    // <= 0 = default
	DrainMode     queue.DrainMode
	Stream        bool
	OnToken       func(text string) // streaming output, optional
}

// Loop drives one session through provider calls and tool execution.
type Loop struct {
	provider providers.Provider
	registry *tools.Registry
	sessions *session.Manager
	queue    *queue.Queue
	events   *extensions.Hub

	systemPrompt  func() string
	model         string
	maxIterations int
	drainMode     queue.DrainMode
	stream        bool
	onToken       func(string)
}

func NewLoop(cfg Config) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.SystemPrompt == nil {
		cfg.SystemPrompt = func() string { return "" }
	}
	return &Loop{
		provider:      cfg.Provider,
		registry:      cfg.Registry,
		sessions:      cfg.Sessions,
		queue:         cfg.Queue,
		events:        cfg.Events,
		systemPrompt:  cfg.SystemPrompt,
		model:         cfg.Model,
		maxIterations: cfg.MaxIterations,
		drainMode:     cfg.DrainMode,
		stream:        cfg.Stream,
		onToken:       cfg.OnToken,
	}
}

// SetModel switches the model used for subsequent turns.
func (l *Loop) SetModel(model string) { l.model = model }

// Model returns the effective model name.
func (l *Loop) Model() string {
	if l.model != "" {
		return l.model
	}
	return l.provider.DefaultModel()
}

// RunResult is the output of a completed run.
type RunResult struct {
	Content    string          `json:"content"`
	RunID      string          `json:"run_id"`
	Iterations int             `json:"iterations"` // of the final turn
	Turns      int             `json:"turns"`      // initial turn + consumed follow-ups
	Usage      providers.Usage `json:"usage"`
}

// Run processes a user message through the loop. After the turn completes,
// queued follow-ups are consumed one at a time as fresh turns, each with a
// full iteration budget. A provider error aborts the run; the session
// keeps everything appended so far.
func (l *Loop) Run(ctx context.Context, s *session.Session, userText string) (*RunResult, error) {
	runID := uuid.NewString()
	ctx, span := tracing.StartRun(ctx, runID)
	runStart := time.Now()

	result := &RunResult{RunID: runID}

	// Follow-ups form a worklist, not recursion: each entry is one whole
	// turn, and new follow-ups queued during a turn line up behind it.
	work := []string{userText}
	for len(work) > 0 {
		text := work[0]
		work = work[1:]
		result.Turns++

		content, iterations, completed, err := l.runTurn(ctx, s, text, &result.Usage)
		if err != nil {
			tracing.EndWithError(span, err)
			return nil, err
		}
		result.Content = content
		result.Iterations = iterations

		// Follow-ups are only consumed after a clean completion; a turn
		// that hit the iteration ceiling leaves them queued.
		if !completed {
			continue
		}
		if m, ok := l.queue.PopFollowUp(); ok {
			slog.Debug("consuming follow-up", "run", runID, "seq", m.Seq)
			work = append(work, m.Text)
		}
	}

	tracing.RecordDuration(span, time.Since(runStart))
	tracing.EndWithError(span, nil)
	return result, nil
}

// RunStream is Run with streaming forced on and tokens delivered to
// onToken for this call only.
func (l *Loop) RunStream(ctx context.Context, s *session.Session, userText string, onToken func(string)) (*RunResult, error) {
	cp := *l
	cp.stream = true
	cp.onToken = onToken
	return cp.Run(ctx, s, userText)
}

// runTurn executes one turn with a fresh iteration budget. The returned
// bool reports whether the turn finished with a plain-text answer rather
// than exhausting the budget.
func (l *Loop) runTurn(ctx context.Context, s *session.Session, userText string, usage *providers.Usage) (string, int, bool, error) {
	l.emit(extensions.EventMessageReceived, map[string]interface{}{"text": userText})
	l.appendEntry(s, "user", userText, nil)

	for iteration := 1; iteration <= l.maxIterations; iteration++ {
		messages := l.buildMessages(s)
		slog.Debug("agent iteration", "session", s.ID, "iteration", iteration, "messages", len(messages))

		resp, err := l.chat(ctx, messages, iteration)
		if err != nil {
			return "", iteration, false, fmt.Errorf("LLM call failed (iteration %d): %w", iteration, err)
		}
		usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			l.appendEntry(s, "assistant", resp.Content, nil)
			l.emit(extensions.EventResponseGenerated, map[string]interface{}{"content": resp.Content})
			return resp.Content, iteration, true, nil
		}

		l.appendEntry(s, "assistant", resp.Content, map[string]interface{}{
			"tool_calls": encodeToolCalls(resp.ToolCalls),
		})

		l.executeToolCalls(ctx, s, resp.ToolCalls)

		// Steering arrives between tool batches: drained messages become
		// user entries the next provider call will see.
		for _, m := range l.queue.DrainSteering(l.drainMode) {
			slog.Info("steering injected", "session", s.ID, "seq", m.Seq)
			l.appendEntry(s, "user", m.Text, map[string]interface{}{"steering": true})
		}
	}

	slog.Warn("iteration budget exhausted", "session", s.ID, "max", l.maxIterations)
	l.appendEntry(s, "assistant", maxIterationsNotice, nil)
	l.emit(extensions.EventResponseGenerated, map[string]interface{}{"content": maxIterationsNotice})
	return maxIterationsNotice, l.maxIterations, false, nil
}

func (l *Loop) chat(ctx context.Context, messages []providers.Message, iteration int) (*providers.ChatResponse, error) {
	req := providers.ChatRequest{
		Messages: messages,
		Tools:    l.registry.Schemas(),
		Model:    l.model,
	}

	ctx, span := tracing.StartLLMCall(ctx, l.provider.Name(), l.Model(), iteration)
	defer span.End()

	var resp *providers.ChatResponse
	var err error
	if l.stream {
		resp, err = l.provider.ChatStream(ctx, req, func(chunk providers.StreamChunk) error {
			if chunk.Content != "" && l.onToken != nil {
				l.onToken(chunk.Content)
			}
			return ctx.Err()
		})
	} else {
		resp, err = l.provider.Chat(ctx, req)
	}
	if err != nil {
		tracing.EndWithError(span, err)
		return nil, err
	}
	if resp.Usage != nil {
		tracing.RecordUsage(span, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}
	return resp, nil
}

// executeToolCalls runs a batch of tool calls, in parallel when there is
// more than one, and appends each result as a tool entry in call order.
// Tool failures become error results for the model; they never abort the
// turn.
func (l *Loop) executeToolCalls(ctx context.Context, s *session.Session, calls []providers.ToolCall) {
	type indexedResult struct {
		idx    int
		tc     providers.ToolCall
		result *tools.Result
	}

	run := func(tc providers.ToolCall) *tools.Result {
		argsJSON, _ := json.Marshal(tc.Arguments)
		l.emit(extensions.EventToolCallStart, map[string]interface{}{
			"tool": tc.Name, "id": tc.ID, "args": tc.Arguments,
		})
		slog.Info("tool call", "tool", tc.Name, "args_len", len(argsJSON))

		toolCtx, span := tracing.StartToolCall(ctx, tc.Name, tc.ID)
		start := time.Now()
		result, err := l.registry.Execute(toolCtx, tc.Name, tc.Arguments)
		tracing.RecordDuration(span, time.Since(start))
		if err != nil {
			tracing.EndWithError(span, err)
			result = tools.ErrorResult(err.Error())
		} else {
			tracing.EndWithError(span, nil)
		}

		l.emit(extensions.EventToolCallEnd, map[string]interface{}{
			"tool": tc.Name, "id": tc.ID, "result": result.ForLLM, "is_error": result.IsError,
		})
		return result
	}

	var collected []indexedResult
	if len(calls) == 1 {
		collected = []indexedResult{{idx: 0, tc: calls[0], result: run(calls[0])}}
	} else {
		resultCh := make(chan indexedResult, len(calls))
		var wg sync.WaitGroup
		for i, tc := range calls {
			wg.Add(1)
			go func(idx int, tc providers.ToolCall) {
				defer wg.Done()
				resultCh <- indexedResult{idx: idx, tc: tc, result: run(tc)}
			}(i, tc)
		}
		go func() { wg.Wait(); close(resultCh) }()
		for r := range resultCh {
			collected = append(collected, r)
		}
		// Deterministic entry ordering regardless of completion order.
		sort.Slice(collected, func(i, j int) bool { return collected[i].idx < collected[j].idx })
	}

	for _, r := range collected {
		content := r.result.ForLLM
		if r.result.IsError {
			content = "Error: " + content
			slog.Warn("tool error", "tool", r.tc.Name, "error", truncate(r.result.ForLLM, 200))
		}
		l.appendEntry(s, "tool", content, map[string]interface{}{
			"tool_call_id": r.tc.ID,
			"tool":         r.tc.Name,
			"is_error":     r.result.IsError,
		})
	}
}

func (l *Loop) appendEntry(s *session.Session, role, content string, metadata map[string]interface{}) {
	if l.sessions != nil {
		l.sessions.AppendEntry(s, role, content, metadata)
		return
	}
	s.Append(role, content, metadata)
}

func (l *Loop) emit(event string, payload map[string]interface{}) {
	if l.events != nil {
		l.events.Emit(event, payload)
	}
}

// buildMessages converts the effective session path into provider
// messages, with the freshly resolved system prompt first. The effective
// path folds compacted prefixes into their summary entry.
func (l *Loop) buildMessages(s *session.Session) []providers.Message {
	path := s.EffectivePath()
	messages := make([]providers.Message, 0, len(path)+1)

	if prompt := l.systemPrompt(); prompt != "" {
		messages = append(messages, providers.Message{Role: "system", Content: prompt})
	}

	for _, e := range path {
		msg := providers.Message{Role: e.Role, Content: e.Content}
		switch e.Role {
		case "assistant":
			msg.ToolCalls = decodeToolCalls(e.Metadata)
		case "tool":
			if id, ok := e.Metadata["tool_call_id"].(string); ok {
				msg.ToolCallID = id
			}
		}
		messages = append(messages, msg)
	}
	return messages
}

// encodeToolCalls stores tool calls in entry metadata using JSON-shaped
// values so in-memory and reloaded sessions look identical.
func encodeToolCalls(calls []providers.ToolCall) []interface{} {
	out := make([]interface{}, 0, len(calls))
	for _, tc := range calls {
		out = append(out, map[string]interface{}{
			"id":        tc.ID,
			"name":      tc.Name,
			"arguments": tc.Arguments,
		})
	}
	return out
}

func decodeToolCalls(metadata map[string]interface{}) []providers.ToolCall {
	raw, ok := metadata["tool_calls"].([]interface{})
	if !ok {
		return nil
	}
	var calls []providers.ToolCall
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		tc := providers.ToolCall{}
		tc.ID, _ = m["id"].(string)
		tc.Name, _ = m["name"].(string)
		if args, ok := m["arguments"].(map[string]interface{}); ok {
			tc.Arguments = args
		} else {
			tc.Arguments = make(map[string]interface{})
		}
		calls = append(calls, tc)
	}
	return calls
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
