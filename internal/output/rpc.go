package output

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// RPC error codes, JSON-RPC compatible where it matters.
const (
	codeParseError     = -32700
	codeInvalidParams  = -32602
	codeMethodNotFound = -32601
	codeInternalError  = -32603
)

// Runner is the agent surface the RPC server drives.
type Runner interface {
	Complete(ctx context.Context, message string) (interface{}, error)
	Stream(ctx context.Context, message string, onToken func(text string)) (interface{}, error)
	Status() interface{}
}

type rpcRequest struct {
	ID     *int64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     interface{} `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *rpcError   `json:"error,omitempty"`
}

type tokenEvent struct {
	ID    int64  `json:"id"`
	Event string `json:"event"`
	Text  string `json:"text"`
}

// Server reads one JSON request per line and writes one JSON response per
// line. Stream requests interleave token event lines before the final
// response. EOF on the input terminates cleanly.
type Server struct {
	runner Runner

	mu  sync.Mutex
	enc *json.Encoder
}

func NewServer(runner Runner, out io.Writer) *Server {
	return &Server{runner: runner, enc: json.NewEncoder(out)}
}

func (s *Server) write(v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(v)
}

// Run serves requests from in until EOF or context cancellation.
func (s *Server) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req rpcRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			s.write(rpcResponse{ID: nil, Error: &rpcError{Code: codeParseError, Message: "parse error: " + err.Error()}})
			continue
		}
		s.dispatch(ctx, &req)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, req *rpcRequest) {
	var id interface{}
	if req.ID != nil {
		id = *req.ID
	}
	slog.Debug("rpc request", "method", req.Method, "id", id)

	switch req.Method {
	case "ping":
		s.write(rpcResponse{ID: id, Result: "pong"})

	case "status":
		s.write(rpcResponse{ID: id, Result: s.runner.Status()})

	case "complete":
		message, rerr := messageParam(req.Params)
		if rerr != nil {
			s.write(rpcResponse{ID: id, Error: rerr})
			return
		}
		result, err := s.runner.Complete(ctx, message)
		if err != nil {
			s.write(rpcResponse{ID: id, Error: &rpcError{Code: codeInternalError, Message: err.Error()}})
			return
		}
		s.write(rpcResponse{ID: id, Result: result})

	case "stream":
		message, rerr := messageParam(req.Params)
		if rerr != nil {
			s.write(rpcResponse{ID: id, Error: rerr})
			return
		}
		var reqID int64
		if req.ID != nil {
			reqID = *req.ID
		}
		result, err := s.runner.Stream(ctx, message, func(text string) {
			s.write(tokenEvent{ID: reqID, Event: "token", Text: text})
		})
		if err != nil {
			s.write(rpcResponse{ID: id, Error: &rpcError{Code: codeInternalError, Message: err.Error()}})
			return
		}
		s.write(rpcResponse{ID: id, Result: result})

	default:
		s.write(rpcResponse{ID: id, Error: &rpcError{
			Code:    codeMethodNotFound,
			Message: fmt.Sprintf("method not found: %q", req.Method),
		}})
	}
}

func messageParam(params json.RawMessage) (string, *rpcError) {
	var p struct {
		Message string `json:"message"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return "", &rpcError{Code: codeInvalidParams, Message: "invalid params: " + err.Error()}
		}
	}
	if p.Message == "" {
		return "", &rpcError{Code: codeInvalidParams, Message: "invalid params: message is required"}
	}
	return p.Message, nil
}
