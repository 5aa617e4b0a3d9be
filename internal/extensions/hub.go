// Package extensions provides the registration surface for add-on tools,
// slash commands, and lifecycle event hooks, plus discovery of external
// MCP tool servers.
package extensions

import (
	"log/slog"
	"sync"
)

// Lifecycle event names.
const (
	EventToolCallStart     = "tool_call_start"
	EventToolCallEnd       = "tool_call_end"
	EventMessageReceived   = "message_received"
	EventResponseGenerated = "response_generated"
	EventSessionStart      = "session_start"
	EventSessionEnd        = "session_end"
)

// HandlerFunc receives an emitted event. Errors are logged and swallowed.
type HandlerFunc func(event string, payload map[string]interface{}) error

// Hub fans events out to subscribed handlers.
type Hub struct {
	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
}

func NewHub() *Hub {
	return &Hub{handlers: make(map[string][]HandlerFunc)}
}

// On subscribes a handler to an event name. Unknown names are fine; they
// simply never fire until something emits them.
func (h *Hub) On(event string, fn HandlerFunc) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[event] = append(h.handlers[event], fn)
}

// Emit runs every handler for the event in registration order. A panic or
// error in one handler is logged and the remaining handlers still run.
func (h *Hub) Emit(event string, payload map[string]interface{}) {
	h.mu.RLock()
	handlers := h.handlers[event]
	h.mu.RUnlock()

	for _, fn := range handlers {
		runHandler(event, fn, payload)
	}
}

func runHandler(event string, fn HandlerFunc, payload map[string]interface{}) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("event handler panicked", "event", event, "panic", rec)
		}
	}()
	if err := fn(event, payload); err != nil {
		slog.Warn("event handler failed", "event", event, "error", err)
	}
}
