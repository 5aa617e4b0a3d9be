package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func echoTool(name string) Descriptor {
	return Descriptor{
		Name:        name,
		Description: "echo",
		Params: []Param{
			{Name: "text", Type: "string", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (*Result, error) {
			return NewResult(args["text"].(string)), nil
		},
	}
}

// TestRegisterValidation verifies empty names and nil handlers are rejected.
func TestRegisterValidation(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(Descriptor{Name: "", Handler: func(context.Context, map[string]interface{}) (*Result, error) { return nil, nil }}); err == nil {
		t.Error("empty name should fail")
	}
	if err := reg.Register(Descriptor{Name: "x"}); err == nil {
		t.Error("nil handler should fail")
	}
}

// TestRegisterReplace verifies re-registering a name replaces the previous
// descriptor.
func TestRegisterReplace(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(echoTool("echo")); err != nil {
		t.Fatal(err)
	}

	replaced := Descriptor{
		Name: "echo",
		Handler: func(ctx context.Context, args map[string]interface{}) (*Result, error) {
			return NewResult("replaced"), nil
		},
	}
	if err := reg.Register(replaced); err != nil {
		t.Fatal(err)
	}

	res, err := reg.Execute(context.Background(), "echo", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.ForLLM != "replaced" {
		t.Errorf("ForLLM = %q, want replaced handler output", res.ForLLM)
	}
	if got := len(reg.Names()); got != 1 {
		t.Errorf("Names() has %d entries, want 1", got)
	}
}

// TestExecuteUnknownTool verifies unknown names return a ToolError.
func TestExecuteUnknownTool(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Execute(context.Background(), "nope", nil)
	var te *ToolError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want ToolError", err)
	}
}

// TestExecuteMissingRequired verifies a missing required parameter fails
// while a default fills an absent optional one.
func TestExecuteMissingRequired(t *testing.T) {
	reg := NewRegistry()
	var gotLimit interface{}
	reg.Register(Descriptor{
		Name: "search",
		Params: []Param{
			{Name: "query", Type: "string", Required: true},
			{Name: "limit", Type: "number", Default: float64(10)},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (*Result, error) {
			gotLimit = args["limit"]
			return NewResult("ok"), nil
		},
	})

	if _, err := reg.Execute(context.Background(), "search", map[string]interface{}{}); err == nil {
		t.Error("missing required parameter should fail")
	}

	if _, err := reg.Execute(context.Background(), "search", map[string]interface{}{"query": "x"}); err != nil {
		t.Fatal(err)
	}
	if gotLimit != float64(10) {
		t.Errorf("limit default = %v, want 10", gotLimit)
	}
}

// TestExecuteTypeCheck verifies basic type validation of arguments.
func TestExecuteTypeCheck(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool("echo"))

	_, err := reg.Execute(context.Background(), "echo", map[string]interface{}{"text": 42})
	var te *ToolError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want ToolError for type mismatch", err)
	}
}

// TestExecuteHandlerPanic verifies a panicking handler is recovered into an
// error result instead of crashing the caller.
func TestExecuteHandlerPanic(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Descriptor{
		Name: "boom",
		Handler: func(ctx context.Context, args map[string]interface{}) (*Result, error) {
			panic("kaboom")
		},
	})

	res, err := reg.Execute(context.Background(), "boom", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError {
		t.Error("panic should produce an error result")
	}
}

// TestExecuteHandlerError verifies handler errors surface as error results.
func TestExecuteHandlerError(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Descriptor{
		Name: "fail",
		Handler: func(ctx context.Context, args map[string]interface{}) (*Result, error) {
			return nil, fmt.Errorf("network down")
		},
	})

	res, err := reg.Execute(context.Background(), "fail", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError || res.ForLLM != "network down" {
		t.Errorf("result = %+v", res)
	}
}

// TestExecuteAsync verifies async tools acknowledge immediately and deliver
// the real result through the callback.
func TestExecuteAsync(t *testing.T) {
	reg := NewRegistry()
	done := make(chan *Result, 1)
	reg.OnAsyncResult(func(tool string, result *Result) {
		done <- result
	})
	reg.Register(Descriptor{
		Name:  "slow",
		Async: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (*Result, error) {
			return NewResult("finished"), nil
		},
	})

	res, err := reg.Execute(context.Background(), "slow", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Async {
		t.Error("immediate result should be marked async")
	}
	final := <-done
	if final.ForLLM != "finished" {
		t.Errorf("async result = %q", final.ForLLM)
	}
}

// TestSchemas verifies the JSON-schema export shape and deterministic order.
func TestSchemas(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool("zeta"))
	reg.Register(echoTool("alpha"))

	defs := reg.Schemas()
	if len(defs) != 2 {
		t.Fatalf("got %d schemas", len(defs))
	}
	if defs[0].Function.Name != "alpha" || defs[1].Function.Name != "zeta" {
		t.Errorf("schemas not sorted: %s, %s", defs[0].Function.Name, defs[1].Function.Name)
	}
	params := defs[0].Function.Parameters
	if params["type"] != "object" {
		t.Errorf("schema type = %v", params["type"])
	}
	req, _ := params["required"].([]string)
	if len(req) != 1 || req[0] != "text" {
		t.Errorf("required = %v", params["required"])
	}
}
