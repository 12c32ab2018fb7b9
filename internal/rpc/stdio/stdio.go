// Package stdio implements the JSON-RPC 2.0 stdio transport: a framed
// request/response loop over stdin/stdout that feeds the Tool Dispatcher.
// The framing and protocol error mapping are owned here; everything
// method-specific belongs to the dispatcher.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"go.uber.org/zap"

	"gmaildispatch/internal/dispatch"
	"gmaildispatch/internal/rpcerr"
	"gmaildispatch/pkg/logger"
)

// request is a JSON-RPC 2.0 request envelope. Only the two methods this
// server recognizes are meaningful: "tools/call" and "tools/list".
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  *contentResult  `json:"result,omitempty"`
	Error   *errorObject    `json:"error,omitempty"`
}

type contentResult struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type errorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Server runs the stdio JSON-RPC loop against a Dispatcher.
type Server struct {
	dispatcher *dispatch.Dispatcher
	in         *bufio.Reader
	out        io.Writer
	log        *zap.Logger
}

// New constructs a Server reading framed requests from in and writing
// framed responses to out, one JSON object per line.
func New(d *dispatch.Dispatcher, in io.Reader, out io.Writer) *Server {
	return &Server{
		dispatcher: d,
		in:         bufio.NewReader(in),
		out:        out,
		log:        logger.L().Named("rpc.stdio"),
	}
}

// Serve runs the read-dispatch-write loop until ctx is cancelled or the
// input stream is exhausted.
func (s *Server) Serve(ctx context.Context) error {
	lines := make(chan string)
	errs := make(chan error, 1)

	go func() {
		for {
			line, err := s.in.ReadString('\n')
			if len(line) > 0 {
				lines <- line
			}
			if err != nil {
				errs <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			if err == io.EOF {
				return nil
			}
			return err
		case line := <-lines:
			s.handleLine(line)
		}
	}
}

func (s *Server) handleLine(line string) {
	var req request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		s.writeError(nil, rpcerr.InvalidRequest("malformed JSON-RPC request: "+err.Error()))
		return
	}

	switch req.Method {
	case "tools/call":
		s.handleToolCall(req)
	case "tools/list":
		s.writeResult(req.ID, map[string]any{"tools": knownTools})
	default:
		s.writeError(req.ID, rpcerr.MethodNotFound(req.Method))
	}
}

func (s *Server) handleToolCall(req request) {
	var params toolCallParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.writeError(req.ID, rpcerr.InvalidParams("malformed tool call params: "+err.Error()))
			return
		}
	}

	result, err := s.dispatcher.Call(params.Name, params.Arguments)
	if err != nil {
		if typed, ok := rpcerr.As(err); ok {
			s.writeError(req.ID, typed)
			return
		}
		s.writeError(req.ID, rpcerr.Internal("unexpected dispatcher error", err))
		return
	}
	s.writeResult(req.ID, result)
}

func (s *Server) writeResult(id json.RawMessage, result any) {
	text, err := json.Marshal(result)
	if err != nil {
		s.writeError(id, rpcerr.Internal("marshaling result", err))
		return
	}
	s.write(response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  &contentResult{Content: []contentBlock{{Type: "text", Text: string(text)}}},
	})
}

func (s *Server) writeError(id json.RawMessage, err *rpcerr.Error) {
	s.write(response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &errorObject{Code: int(err.Code), Message: err.Error()},
	})
}

func (s *Server) write(resp response) {
	b, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("failed to marshal response", zap.Error(err))
		return
	}
	b = append(b, '\n')
	if _, err := s.out.Write(b); err != nil {
		s.log.Error("failed to write response", zap.Error(err))
	}
}

// knownTools is the static catalogue exposed by tools/list. The
// tool-definition registry itself (full parameter schemas) is an external
// collaborator; this is just the name surface.
var knownTools = []string{
	"authenticate", "list_emails", "search_emails", "categorize_emails",
	"get_email_stats", "archive_emails", "delete_emails", "get_job_status",
	"create_cleanup_policy", "update_cleanup_policy", "list_cleanup_policies",
	"delete_cleanup_policy", "trigger_cleanup", "create_cleanup_schedule",
	"save_search", "list_saved_searches",
}
