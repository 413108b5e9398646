package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dayuer/agentbus/internal/logging"
	"github.com/dayuer/agentbus/internal/metrics"
)

// DefaultTimeout is used by Request when the caller passes a non-positive timeout.
const DefaultTimeout = 5 * time.Second

// ClientConfig describes the child process a Client spawns.
type ClientConfig struct {
	Command string
	Args    []string
	Env     []string // appended to the parent environment
	Dir     string

	// QueueSize bounds the number of parsed responses buffered ahead of
	// callers. Defaults to 256.
	QueueSize int

	// Correlate stamps every request with an "id" and drops queued
	// responses carrying a different id. Without it a response that
	// arrives after its request timed out is handed to the next caller.
	Correlate bool

	Logger zerolog.Logger
}

// Client turns a child process's stdin/stdout into a synchronous call
// interface. It is safe for concurrent use; requests are serialized on a
// single lock held across the write and the wait for the reply.
type Client struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu        sync.Mutex // held for write+wait of one request
	responses chan Response
	correlate bool
	seq       atomic.Uint64

	readers sync.WaitGroup
	done    chan struct{} // closed after the child has been reaped
	exitErr error         // valid after done is closed

	closed    chan struct{}
	closeOnce sync.Once

	log zerolog.Logger
}

// Start spawns the child and its reader goroutines. Spawn failures are
// returned; nothing after a successful Start is fatal to the client.
// Cancelling ctx kills the child.
func Start(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Command == "" {
		return nil, errors.New("mcp: command is required")
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = append(os.Environ(), cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcp: start %s: %w", cfg.Command, err)
	}

	c := &Client{
		cmd:       cmd,
		stdin:     stdin,
		responses: make(chan Response, queueSize),
		correlate: cfg.Correlate,
		done:      make(chan struct{}),
		closed:    make(chan struct{}),
		log:       logging.Component(cfg.Logger, "mcp-client").With().Int("pid", cmd.Process.Pid).Logger(),
	}

	c.readers.Add(2)
	go c.readLoop(stdout)
	go c.drainStderr(stderr)
	go c.waitExit()

	c.log.Info().Str("command", cfg.Command).Strs("args", cfg.Args).Bool("correlate", cfg.Correlate).Msg("server process started")
	return c, nil
}

// Request writes payload as one line and waits up to timeout for the next
// response. The client-wide lock is held for the whole call, so concurrent
// callers queue behind each other.
//
// In the default FIFO mode a response that arrives after its request timed
// out stays queued and is returned to the next caller. Set
// ClientConfig.Correlate to have such responses discarded instead.
//
// The timeout only covers the wait for the reply. The write happens first,
// so a live child that stops reading stdin can block Request past its
// timeout, with the lock held, once the pipe buffer fills.
func (c *Client) Request(ctx context.Context, payload Request, timeout time.Duration) (Response, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	resp, outcome, err := c.roundTrip(ctx, payload, timeout)
	metrics.RequestDuration.Observe(time.Since(start).Seconds())
	metrics.RequestsTotal.WithLabelValues(outcome).Inc()
	return resp, err
}

func (c *Client) roundTrip(ctx context.Context, payload Request, timeout time.Duration) (Response, string, error) {
	select {
	case <-c.done:
		return nil, "write_failure", fmt.Errorf("%w: server process already exited: %v", ErrWriteFailure, c.exitErr)
	case <-c.closed:
		return nil, "write_failure", fmt.Errorf("%w: client closed", ErrWriteFailure)
	default:
	}

	msg := make(Request, len(payload)+1)
	for k, v := range payload {
		msg[k] = v
	}
	var id string
	if c.correlate {
		id = strconv.FormatUint(c.seq.Add(1), 10)
		msg["id"] = id
	}

	line, err := json.Marshal(msg)
	if err != nil {
		return nil, "write_failure", fmt.Errorf("mcp: encode request: %w", err)
	}
	line = append(line, '\n')
	if _, err := c.stdin.Write(line); err != nil {
		return nil, "write_failure", fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case resp := <-c.responses:
			if c.accept(resp, id) {
				return resp, outcomeOf(resp), nil
			}
		case <-timer.C:
			return nil, "timeout", fmt.Errorf("%w after %s (cmd %q)", ErrTimeout, timeout, payload.Cmd())
		case <-c.done:
			for {
				select {
				case resp := <-c.responses:
					if c.accept(resp, id) {
						return resp, outcomeOf(resp), nil
					}
				default:
					return nil, "exited", fmt.Errorf("%w: %v", ErrProcessExited, c.exitErr)
				}
			}
		case <-ctx.Done():
			return nil, "cancelled", ctx.Err()
		}
	}
}

// accept reports whether resp answers the request stamped with id.
// Responses without an id (including synthetic invalid_json ones) are
// always accepted.
func (c *Client) accept(resp Response, id string) bool {
	if !c.correlate {
		return true
	}
	got, ok := resp["id"]
	if !ok {
		return true
	}
	if s, _ := got.(string); s == id {
		return true
	}
	metrics.StaleResponses.Inc()
	c.log.Warn().Interface("got_id", got).Str("want_id", id).Msg("discarding stale response")
	return false
}

func outcomeOf(resp Response) string {
	if resp.OK() {
		return "ok"
	}
	return "error_response"
}

// Done is closed once the child process has exited and been reaped.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// ExitErr returns the child's exit error. Only meaningful after Done is closed.
func (c *Client) ExitErr() error {
	select {
	case <-c.done:
		return c.exitErr
	default:
		return nil
	}
}

// Pid returns the child's process id.
func (c *Client) Pid() int {
	return c.cmd.Process.Pid
}

// Close kills the child without waiting for a graceful shutdown. It is
// safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.stdin.Close()
		if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			c.log.Debug().Err(err).Msg("kill server process")
		}
		c.log.Info().Msg("server process closed")
	})
	return nil
}

func (c *Client) readLoop(stdout io.Reader) {
	defer c.readers.Done()
	r := bufio.NewReader(stdout)
	for {
		line, err := r.ReadString('\n')
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			resp := parseResponse(trimmed)
			if resp.Malformed() {
				c.log.Warn().Str("raw", trimmed).Msg("server emitted a non-JSON line")
			}
			select {
			case c.responses <- resp:
			case <-c.closed:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				c.log.Warn().Err(err).Msg("read server stdout")
			}
			return
		}
	}
}

func (c *Client) drainStderr(stderr io.Reader) {
	defer c.readers.Done()
	r := bufio.NewReader(stderr)
	for {
		line, err := r.ReadString('\n')
		if trimmed := strings.TrimRight(line, "\r\n"); trimmed != "" {
			c.log.Info().Str("stream", "stderr").Msg(trimmed)
		}
		if err != nil {
			return
		}
	}
}

// waitExit reaps the child once both pipes are drained. cmd.Wait closes
// the pipes, so it must not run before the readers finish.
func (c *Client) waitExit() {
	c.readers.Wait()
	c.exitErr = c.cmd.Wait()
	if c.exitErr != nil {
		c.log.Info().Err(c.exitErr).Msg("server process exited")
	} else {
		c.log.Info().Msg("server process exited")
	}
	close(c.done)
}
