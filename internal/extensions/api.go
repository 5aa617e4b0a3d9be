package extensions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/pigforge/gopig/internal/tools"
)

// CommandFunc handles a slash command. args is everything after the
// command name, trimmed.
type CommandFunc func(ctx context.Context, args string) (string, error)

// API is handed to each extension during setup.
type API struct {
	registry *tools.Registry
	hub      *Hub

	mu       sync.RWMutex
	commands map[string]CommandFunc
}

func NewAPI(registry *tools.Registry, hub *Hub) *API {
	return &API{
		registry: registry,
		hub:      hub,
		commands: make(map[string]CommandFunc),
	}
}

// RegisterTool adds a tool to the shared registry.
func (a *API) RegisterTool(d tools.Descriptor) error {
	return a.registry.Register(d)
}

// RegisterCommand adds a slash command. Re-registering a name replaces the
// previous handler.
func (a *API) RegisterCommand(name string, fn CommandFunc) error {
	if name == "" {
		return fmt.Errorf("register command: empty name")
	}
	if fn == nil {
		return fmt.Errorf("register command %q: nil handler", name)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.commands[name]; exists {
		slog.Warn("command re-registered, replacing", "command", name)
	}
	a.commands[name] = fn
	return nil
}

// Command looks up a registered slash command.
func (a *API) Command(name string) (CommandFunc, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	fn, ok := a.commands[name]
	return fn, ok
}

// CommandNames returns registered command names, sorted.
func (a *API) CommandNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.commands))
	for n := range a.commands {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// On subscribes an event handler.
func (a *API) On(event string, fn HandlerFunc) {
	a.hub.On(event, fn)
}

// Hub exposes the underlying event hub for emitters.
func (a *API) Hub() *Hub { return a.hub }

// SetupFunc initializes one compiled-in extension.
type SetupFunc func(api *API) error

var (
	builtinMu  sync.Mutex
	builtinExt = make(map[string]SetupFunc)
)

// Register records a compiled-in extension by name. Called from init
// functions before startup.
func Register(name string, setup SetupFunc) {
	builtinMu.Lock()
	defer builtinMu.Unlock()
	builtinExt[name] = setup
}

// EnableAll runs the setup of every enabled extension in lexicographic
// order. A failing extension is logged and skipped, never fatal.
func EnableAll(api *API, enabled []string) {
	builtinMu.Lock()
	defer builtinMu.Unlock()

	names := make([]string, len(enabled))
	copy(names, enabled)
	sort.Strings(names)

	for _, name := range names {
		setup, ok := builtinExt[name]
		if !ok {
			slog.Warn("unknown extension in config, skipping", "extension", name)
			continue
		}
		if err := setup(api); err != nil {
			slog.Warn("extension setup failed, skipping", "extension", name, "error", err)
			continue
		}
		slog.Info("extension enabled", "extension", name)
	}
}
