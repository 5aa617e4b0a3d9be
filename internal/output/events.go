// Package output implements the machine-readable surfaces: JSON event
// lines for piped consumers and a line-oriented RPC server over stdio.
package output

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/pigforge/gopig/internal/extensions"
)

// Event is one JSON line in --json mode.
type Event struct {
	Type      string                 `json:"type"`
	Timestamp string                 `json:"timestamp"`
	Role      string                 `json:"role,omitempty"`
	Content   string                 `json:"content,omitempty"`
	Tool      string                 `json:"tool,omitempty"`
	Args      map[string]interface{} `json:"args,omitempty"`
	Result    interface{}            `json:"result,omitempty"`
	IsError   bool                   `json:"is_error,omitempty"`
	Text      string                 `json:"text,omitempty"`
	Message   string                 `json:"message,omitempty"`
}

// Emitter writes one event per line. Safe for concurrent use.
type Emitter struct {
	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time
}

func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{enc: json.NewEncoder(w), now: time.Now}
}

func (e *Emitter) emit(ev Event) {
	ev.Timestamp = e.now().UTC().Format(time.RFC3339)
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.enc.Encode(ev)
}

func (e *Emitter) Message(role, content string) {
	e.emit(Event{Type: "message", Role: role, Content: content})
}

func (e *Emitter) ToolCallStart(tool string, args map[string]interface{}) {
	e.emit(Event{Type: "tool_call_start", Tool: tool, Args: args})
}

func (e *Emitter) ToolCallEnd(tool string, result string, isError bool) {
	e.emit(Event{Type: "tool_call_end", Tool: tool, Result: result, IsError: isError})
}

func (e *Emitter) Token(text string) {
	e.emit(Event{Type: "token", Text: text})
}

func (e *Emitter) Done(result interface{}) {
	e.emit(Event{Type: "done", Result: result})
}

func (e *Emitter) Error(err error) {
	e.emit(Event{Type: "error", Message: err.Error()})
}

// Subscribe wires the emitter to agent lifecycle events so tool calls and
// responses show up on the JSON stream without extra plumbing.
func (e *Emitter) Subscribe(hub *extensions.Hub) {
	hub.On(extensions.EventToolCallStart, func(event string, payload map[string]interface{}) error {
		tool, _ := payload["tool"].(string)
		args, _ := payload["args"].(map[string]interface{})
		e.ToolCallStart(tool, args)
		return nil
	})
	hub.On(extensions.EventToolCallEnd, func(event string, payload map[string]interface{}) error {
		tool, _ := payload["tool"].(string)
		result, _ := payload["result"].(string)
		isError, _ := payload["is_error"].(bool)
		e.ToolCallEnd(tool, result, isError)
		return nil
	})
	hub.On(extensions.EventResponseGenerated, func(event string, payload map[string]interface{}) error {
		content, _ := payload["content"].(string)
		e.Message("assistant", content)
		return nil
	})
}
