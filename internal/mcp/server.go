package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dayuer/agentbus/internal/logging"
	"github.com/dayuer/agentbus/internal/metrics"
)

// HandlerFunc answers one command. A returned error becomes an error
// response; a nil response becomes {"ok": true}.
type HandlerFunc func(ctx context.Context, req Request) (Response, error)

// Server is the child side of the protocol: a single-threaded loop that
// reads one request per line and writes exactly one response per line.
type Server struct {
	handlers map[string]HandlerFunc
	log      zerolog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server's logger. It must not write to the
// protocol output stream.
func WithServerLogger(log zerolog.Logger) ServerOption {
	return func(s *Server) { s.log = logging.Component(log, "mcp-server") }
}

// NewServer creates a server with no commands registered.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		handlers: make(map[string]HandlerFunc),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle registers h for cmd, replacing any previous handler.
func (s *Server) Handle(cmd string, h HandlerFunc) {
	s.handlers[cmd] = h
}

// Commands returns the registered command names, sorted.
func (s *Server) Commands() []string {
	cmds := make([]string, 0, len(s.handlers))
	for cmd := range s.handlers {
		cmds = append(cmds, cmd)
	}
	sort.Strings(cmds)
	return cmds
}

// ServeStdio serves the process's own standard input and output.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve runs the request loop until in reaches end of file (returns nil),
// an I/O error occurs, or ctx is cancelled between requests. Blank lines
// are skipped without a response.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	r := bufio.NewReader(in)
	w := bufio.NewWriter(out)

	s.log.Info().Strs("commands", s.Commands()).Msg("serving")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, readErr := r.ReadString('\n')
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			resp := s.handleLine(ctx, trimmed)
			if err := writeLine(w, resp); err != nil {
				return fmt.Errorf("mcp: write response: %w", err)
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				s.log.Info().Msg("input closed, stopping")
				return nil
			}
			return fmt.Errorf("mcp: read request: %w", readErr)
		}
	}
}

func (s *Server) handleLine(ctx context.Context, line string) Response {
	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil || req == nil {
		s.log.Warn().Str("raw", line).Msg("unparseable request")
		return invalidLine(line)
	}

	resp := s.Dispatch(ctx, req)
	if id, ok := req["id"]; ok {
		resp["id"] = id
	}
	return resp
}

// Dispatch runs the handler for req and always returns a well-formed
// response. Unknown commands yield unknown_cmd; handler errors and panics
// yield error responses carrying a trace.
func (s *Server) Dispatch(ctx context.Context, req Request) (resp Response) {
	cmd := req.Cmd()
	h, ok := s.handlers[cmd]
	if !ok {
		s.log.Warn().Str("cmd", cmd).Msg("unknown command")
		metrics.CommandsHandled.WithLabelValues("unknown", "false").Inc()
		return Failure(CodeUnknownCmd)
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error().Str("cmd", cmd).Interface("panic", rec).Msg("handler panicked")
			resp = Response{"ok": false, "error": fmt.Sprint(rec), "trace": string(debug.Stack())}
		}
		metrics.CommandsHandled.WithLabelValues(cmd, strconv.FormatBool(resp.OK())).Inc()
	}()

	out, err := h(ctx, req)
	if err != nil {
		s.log.Warn().Str("cmd", cmd).Err(err).Msg("handler failed")
		return Response{"ok": false, "error": err.Error(), "trace": fmt.Sprintf("%+v\n\n%s", err, debug.Stack())}
	}
	if out == nil {
		out = Response{}
	}
	if _, set := out["ok"]; !set {
		out["ok"] = true
	}
	return out
}

// writeLine encodes resp as one line and flushes it. A response that
// cannot be encoded is replaced by an error response so the one-line-per-
// request contract holds.
func writeLine(w *bufio.Writer, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		fallback := Failure("encode response: " + err.Error())
		if id, ok := resp["id"]; ok {
			if _, idErr := json.Marshal(id); idErr == nil {
				fallback["id"] = id
			}
		}
		data, _ = json.Marshal(fallback)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.Flush()
}
