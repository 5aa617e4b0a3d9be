package extensions

import (
	"context"
	"errors"
	"testing"

	"github.com/pigforge/gopig/internal/tools"
)

// TestEmitOrder verifies handlers run in registration order.
func TestEmitOrder(t *testing.T) {
	hub := NewHub()
	var order []string
	hub.On(EventMessageReceived, func(event string, payload map[string]interface{}) error {
		order = append(order, "first")
		return nil
	})
	hub.On(EventMessageReceived, func(event string, payload map[string]interface{}) error {
		order = append(order, "second")
		return nil
	})

	hub.Emit(EventMessageReceived, nil)
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("order = %v", order)
	}
}

// TestEmitIsolation verifies a panicking or failing handler does not stop
// the remaining handlers.
func TestEmitIsolation(t *testing.T) {
	hub := NewHub()
	var reached bool
	hub.On(EventToolCallStart, func(event string, payload map[string]interface{}) error {
		panic("bad handler")
	})
	hub.On(EventToolCallStart, func(event string, payload map[string]interface{}) error {
		return errors.New("also bad")
	})
	hub.On(EventToolCallStart, func(event string, payload map[string]interface{}) error {
		reached = true
		return nil
	})

	hub.Emit(EventToolCallStart, map[string]interface{}{"tool": "x"})
	if !reached {
		t.Error("later handler did not run after earlier failures")
	}
}

// TestEmitUnknownEvent verifies emitting an unsubscribed event is a no-op.
func TestEmitUnknownEvent(t *testing.T) {
	hub := NewHub()
	hub.Emit("never_subscribed", nil)
}

// TestRegisterCommand verifies command registration, replacement, and lookup.
func TestRegisterCommand(t *testing.T) {
	api := NewAPI(tools.NewRegistry(), NewHub())

	if err := api.RegisterCommand("", nil); err == nil {
		t.Error("empty command name should fail")
	}

	err := api.RegisterCommand("greet", func(ctx context.Context, args string) (string, error) {
		return "hello " + args, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	err = api.RegisterCommand("greet", func(ctx context.Context, args string) (string, error) {
		return "hi " + args, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	fn, ok := api.Command("greet")
	if !ok {
		t.Fatal("command not found")
	}
	out, err := fn(context.Background(), "world")
	if err != nil || out != "hi world" {
		t.Errorf("out = %q, err = %v (replacement should win)", out, err)
	}
}

// TestRegisterToolThroughAPI verifies extension tools land in the shared
// registry.
func TestRegisterToolThroughAPI(t *testing.T) {
	reg := tools.NewRegistry()
	api := NewAPI(reg, NewHub())

	err := api.RegisterTool(tools.Descriptor{
		Name: "ext_tool",
		Handler: func(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
			return tools.NewResult("ok"), nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reg.Get("ext_tool"); !ok {
		t.Error("tool not registered")
	}
}

// TestEnableAllOrder verifies extensions enable in lexicographic order and
// failures are skipped.
func TestEnableAllOrder(t *testing.T) {
	api := NewAPI(tools.NewRegistry(), NewHub())
	var order []string

	Register("zeta", func(a *API) error {
		order = append(order, "zeta")
		return nil
	})
	Register("alpha", func(a *API) error {
		order = append(order, "alpha")
		return nil
	})
	Register("broken", func(a *API) error {
		order = append(order, "broken")
		return errors.New("nope")
	})

	EnableAll(api, []string{"zeta", "broken", "alpha", "missing"})
	want := []string{"alpha", "broken", "zeta"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}
