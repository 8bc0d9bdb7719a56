package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	mcperrors "github.com/dbxops/mcpwire/pkg/errors"
	"github.com/dbxops/mcpwire/pkg/logging"
	"github.com/dbxops/mcpwire/pkg/protocol"
)

// StdioTransport implements Transport over a local pipe: newline-delimited
// JSON-RPC messages on a subprocess's stdin/stdout, or on a caller-supplied
// reader/writer pair. The pipe itself is the unit of continuity; there is no
// out-of-band header channel, so session ids are installed by the layer
// above.
type StdioTransport struct {
	*BaseTransport
	command        string
	args           []string
	cmd            *exec.Cmd
	reader         io.Reader
	writer         io.Writer
	rawWriter      *bufio.Writer
	writeMu        sync.Mutex
	requestTimeout time.Duration
	logger         logging.Logger

	requestHandler RequestHandler
	handlerMu      sync.RWMutex

	stopOnce   sync.Once
	group      *errgroup.Group
	loopCtx    context.Context
	loopCancel context.CancelFunc
}

// RequestHandler serves an incoming request. Only meaningful for a transport
// used on the serving side of a pipe.
type RequestHandler func(ctx context.Context, req *protocol.Request) *protocol.Response

func newStdioTransport(config TransportConfig) (Transport, error) {
	return &StdioTransport{
		BaseTransport:  NewBaseTransport("stdio"),
		command:        config.Command,
		args:           config.Args,
		reader:         config.StdioReader,
		writer:         config.StdioWriter,
		requestTimeout: config.Connection.RequestTimeout,
		logger:         config.Logger.WithFields(logging.String("component", "stdio")),
	}, nil
}

// SetRequestHandler registers the handler used to serve incoming requests on
// the pipe.
func (t *StdioTransport) SetRequestHandler(handler RequestHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.requestHandler = handler
}

// Initialize launches the subprocess (when a command is configured), wires up
// the pipes, and starts the read loop.
func (t *StdioTransport) Initialize(ctx context.Context) error {
	if t.command != "" {
		cmd := exec.Command(t.command, t.args...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return mcperrors.NewConnectError(err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return mcperrors.NewConnectError(err)
		}
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return mcperrors.NewConnectError(fmt.Errorf("failed to start %s: %w", t.command, err))
		}
		t.cmd = cmd
		t.reader = stdout
		t.writer = stdin
	}

	if t.reader == nil {
		t.reader = os.Stdin
	}
	if t.writer == nil {
		t.writer = os.Stdout
	}
	t.rawWriter = bufio.NewWriter(t.writer)

	loopCtx, cancel := context.WithCancel(context.Background())
	t.loopCancel = cancel
	t.group, t.loopCtx = errgroup.WithContext(loopCtx)
	t.group.Go(t.readLoop)

	return nil
}

// readLoop consumes newline-delimited messages until EOF or Stop. A read
// failure is a hard transport error: every pending request fails, since no
// further correlation is possible.
func (t *StdioTransport) readLoop() error {
	scanner := bufio.NewScanner(t.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		select {
		case <-t.loopCtx.Done():
			return nil
		default:
		}

		line := scanner.Bytes()
		data := make([]byte, len(line))
		copy(data, line)
		t.processMessage(data)
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case <-t.loopCtx.Done():
		// Voluntary stop closed the pipe under the scanner.
		return nil
	default:
		t.logger.Debug("pipe closed", logging.ErrorField(err))
		t.FailPending(err)
		return err
	}
}

func (t *StdioTransport) processMessage(data []byte) {
	switch {
	case protocol.IsResponse(data):
		var resp protocol.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			t.logger.Warn("discarding malformed response", logging.ErrorField(err))
			return
		}
		t.HandleResponse(&resp)
	case protocol.IsRequest(data):
		var req protocol.Request
		if err := json.Unmarshal(data, &req); err != nil {
			t.logger.Warn("discarding malformed request", logging.ErrorField(err))
			return
		}
		t.handlerMu.RLock()
		handler := t.requestHandler
		t.handlerMu.RUnlock()
		if handler == nil {
			t.logger.Debug("no handler for incoming request", logging.String("method", req.Method))
			return
		}
		resp := handler(t.loopCtx, &req)
		if resp != nil {
			if err := t.writeMessage(resp); err != nil {
				t.logger.Warn("failed to write response", logging.ErrorField(err))
			}
		}
	case protocol.IsNotification(data):
		var n protocol.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			t.logger.Warn("discarding malformed notification", logging.ErrorField(err))
			return
		}
		t.HandleNotification(t.loopCtx, &n)
	default:
		t.logger.Debug("discarding unclassifiable message", logging.String("data", string(data)))
	}
}

// writeMessage writes one message followed by a newline and flushes.
func (t *StdioTransport) writeMessage(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return mcperrors.NewInternalError("failed to marshal message", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.rawWriter == nil {
		return mcperrors.NewTransportClosedError(nil)
	}
	if _, err := t.rawWriter.Write(data); err != nil {
		return mcperrors.NewTransportClosedError(err)
	}
	if err := t.rawWriter.WriteByte('\n'); err != nil {
		return mcperrors.NewTransportClosedError(err)
	}
	if err := t.rawWriter.Flush(); err != nil {
		return mcperrors.NewTransportClosedError(err)
	}
	return nil
}

// SendRequest sends a request down the pipe and waits for the correlated
// response from the read loop.
func (t *StdioTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := t.GenerateID()
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, mcperrors.NewInternalError("failed to build request", err)
	}

	ch, err := t.RegisterPending(id)
	if err != nil {
		return nil, err
	}

	if err := t.writeMessage(req); err != nil {
		t.RemovePending(id)
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, t.requestTimeout)
	defer cancel()

	resp, err := t.WaitForResponse(waitCtx, id, ch)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, mcperrors.NewTimeoutError(method, err)
		}
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// SendNotification sends a one-way message down the pipe.
func (t *StdioTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return mcperrors.NewInternalError("failed to build notification", err)
	}
	return t.writeMessage(n)
}

// SendResponse writes a response for a served request; used alongside
// SetRequestHandler when serving on the pipe.
func (t *StdioTransport) SendResponse(resp *protocol.Response) error {
	return t.writeMessage(resp)
}

// Stop closes the pipe, reaps the subprocess, and joins the read loop before
// failing anything still pending. Safe to call more than once.
func (t *StdioTransport) Stop(ctx context.Context) error {
	t.stopOnce.Do(func() {
		if t.loopCancel != nil {
			t.loopCancel()
		}

		t.writeMu.Lock()
		if t.rawWriter != nil {
			_ = t.rawWriter.Flush()
		}
		if closer, ok := t.writer.(io.Closer); ok {
			_ = closer.Close()
		}
		t.rawWriter = nil
		t.writeMu.Unlock()

		if closer, ok := t.reader.(io.Closer); ok {
			_ = closer.Close()
		}

		if t.cmd != nil {
			waited := make(chan error, 1)
			go func() { waited <- t.cmd.Wait() }()
			select {
			case <-waited:
			case <-time.After(3 * time.Second):
				_ = t.cmd.Process.Kill()
				<-waited
			}
		}

		if t.group != nil {
			if err := t.group.Wait(); err != nil {
				t.logger.Debug("read loop ended", logging.ErrorField(err))
			}
		}

		t.FailPending(errors.New("transport stopped"))
	})
	return nil
}
