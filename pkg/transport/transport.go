// Package transport implements the stdio JSON-RPC bridge over a spawned
// child process: newline framing with partial-message buffering,
// request/response correlation, retry-on-echo, heartbeating, and
// dead-connection detection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/mcpbridge/mcpbridge/pkg/jsonrpc"
	"github.com/mcpbridge/mcpbridge/pkg/process"
)

// Transport identity reported through Name and Version for diagnostics.
const (
	transportName    = "stdio-bridge"
	transportVersion = "0.1.0"
)

const (
	readyGrace        = 5 * time.Second
	requestTimeout    = 30 * time.Second
	retryDelay        = 2 * time.Second
	maxRetries        = 3
	heartbeatInterval = 15 * time.Second
	heartbeatIdle     = 10 * time.Second
	healthInterval    = 10 * time.Second
	maxInactivity     = 60 * time.Second
	pollInterval      = 500 * time.Millisecond
	maxBufferSize     = 100 * 1024
)

var (
	// ErrClosed is returned by Send after Close has been called.
	ErrClosed = errors.New("transport closed")
	// ErrInactive is reported through OnError when no traffic has been
	// observed for longer than the inactivity threshold.
	ErrInactive = errors.New("no activity on transport")
	// ErrNotReady is returned when an initialize send gives up waiting
	// for the server's readiness signal.
	ErrNotReady = errors.New("server never signalled ready")
)

// Observer receives a copy of every message crossing the bridge. Used by the
// recorder; both methods may be called from transport goroutines.
type Observer interface {
	OnSend(msg *jsonrpc.Message)
	OnReceive(msg *jsonrpc.Message, synthesized bool)
}

// Config tunes a StdioTransport. The zero value is usable; nil is accepted
// by New.
type Config struct {
	// Clock drives every timer and timestamp. Defaults to the real clock.
	Clock clock.WithTickerAndDelayedExecution
	// Logger receives transport diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
	// OutputLog enables the polling ingestion path for hosts that capture
	// child output out-of-band instead of handing over a stream. Only
	// consulted when the Handle reports no Output stream.
	OutputLog *process.OutputLog
	// Ready overrides the default readiness line matcher.
	Ready ReadyMatcher
	// RetryMethods is the set of methods eligible for retry when the
	// child echoes a request back instead of answering. Defaults to
	// resources/read and tools/call.
	RetryMethods []string
	// Observer, when set, is notified of all traffic.
	Observer Observer
	// OnReady fires once, when the server first signals readiness.
	OnReady func()
}

type pendingRequest struct {
	msg    *jsonrpc.Message
	wire   []byte
	sentAt time.Time
}

// StdioTransport bridges a JSON-RPC message channel onto the raw stdio
// streams of one spawned child process. All methods are safe for concurrent
// use; a single instance serves a single session.
type StdioTransport struct {
	handle   process.Handle
	clk      clock.WithTickerAndDelayedExecution
	log      *slog.Logger
	output   *process.OutputLog
	ready    ReadyMatcher
	observer Observer
	onReady  func()

	// Callback slots, assigned by the caller before Start.
	OnMessage func(*jsonrpc.Message)
	OnError   func(error)
	OnClose   func()

	writeMu sync.Mutex

	mu            sync.Mutex
	buffer        string
	pending       map[string]*pendingRequest
	retryCount    map[string]int
	retryTimers   map[string]clock.Timer
	retryEligible map[string]bool
	lastActivity  time.Time
	serverReady   bool
	started       bool
	closed        bool
	polled        int

	readyCh   chan struct{}
	readyOnce sync.Once
	stopCh    chan struct{}
	closeOnce sync.Once
	loopWG    sync.WaitGroup
}

// New wraps an already-spawned process handle. Read loops and the periodic
// timers begin immediately; Start only arms the readiness grace period.
func New(handle process.Handle, cfg *Config) *StdioTransport {
	if cfg == nil {
		cfg = &Config{}
	}

	t := &StdioTransport{
		handle:        handle,
		clk:           cfg.Clock,
		log:           cfg.Logger,
		output:        cfg.OutputLog,
		ready:         cfg.Ready,
		observer:      cfg.Observer,
		onReady:       cfg.OnReady,
		pending:       make(map[string]*pendingRequest),
		retryCount:    make(map[string]int),
		retryTimers:   make(map[string]clock.Timer),
		retryEligible: make(map[string]bool),
		readyCh:       make(chan struct{}),
		stopCh:        make(chan struct{}),
	}
	if t.clk == nil {
		t.clk = clock.RealClock{}
	}
	if t.log == nil {
		t.log = slog.Default()
	}
	if t.ready == nil {
		t.ready = DefaultReadyMatcher
	}
	methods := cfg.RetryMethods
	if methods == nil {
		methods = []string{"resources/read", "tools/call"}
	}
	for _, m := range methods {
		t.retryEligible[m] = true
	}
	t.lastActivity = t.clk.Now()

	if out := handle.Output(); out != nil {
		t.loopWG.Add(1)
		go t.readLoop(out)
	}
	if serr := handle.Stderr(); serr != nil {
		t.loopWG.Add(1)
		go t.stderrLoop(serr)
	}
	t.loopWG.Add(3)
	go t.pollLoop()
	go t.heartbeatLoop()
	go t.healthLoop()

	return t
}

// Name reports the fixed transport name for diagnostics.
func (t *StdioTransport) Name() string { return transportName }

// Version reports the transport version string for diagnostics.
func (t *StdioTransport) Version() string { return transportVersion }

// Start marks the transport started and arms the readiness grace period:
// if the child never emits an explicit ready marker, sends gated on
// initialization unblock after the grace period anyway. Safe to call more
// than once; calls after the first are no-ops.
func (t *StdioTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.mu.Unlock()

	t.clk.AfterFunc(readyGrace, func() {
		t.readyOnce.Do(func() {
			t.log.Debug("no ready signal within grace period, assuming initialized")
			close(t.readyCh)
		})
	})
	return nil
}

// Send serializes msg as one newline-terminated JSON-RPC line and writes it
// to the child's stdin. Messages carrying an id are registered for response
// correlation before the write so a same-instant echo can still be matched.
// An initialize request sent before the server signals ready waits for
// readiness, bounded by the request timeout.
func (t *StdioTransport) Send(ctx context.Context, msg *jsonrpc.Message) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.lastActivity = t.clk.Now()
	ready := t.serverReady
	t.mu.Unlock()

	if msg.Method == "initialize" && !ready {
		select {
		case <-t.readyCh:
		case <-t.clk.After(requestTimeout):
			// Readiness may have raced the timeout; prefer it.
			select {
			case <-t.readyCh:
			default:
				return fmt.Errorf("send initialize: %w", ErrNotReady)
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-t.stopCh:
			return ErrClosed
		}
	}

	wire, err := jsonrpc.Encode(msg)
	if err != nil {
		return err
	}

	if msg.ID != nil && msg.ID.IsValid() {
		t.mu.Lock()
		// Close may have swept the pending map since the first check; an
		// entry registered now would never be rejected.
		if t.closed {
			t.mu.Unlock()
			return ErrClosed
		}
		t.pending[msg.ID.Key()] = &pendingRequest{
			msg:    msg,
			wire:   wire,
			sentAt: t.clk.Now(),
		}
		t.mu.Unlock()
	}

	// Observe before the write: a same-instant response must find the call
	// already open, or the recorder counts it as unsolicited.
	if t.observer != nil {
		t.observer.OnSend(msg)
	}

	if err := t.writeLine(wire); err != nil {
		t.mu.Lock()
		if msg.ID != nil {
			delete(t.pending, msg.ID.Key())
		}
		t.mu.Unlock()
		t.reportError(fmt.Errorf("write message: %w", err))
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close tears the session down: stops the periodic timers and retry timers,
// rejects every outstanding request with a synthesized transport-closed
// error, closes the child's stdin when possible, and fires OnClose once.
// Safe to call multiple times.
//
// A read loop blocked in Read on a stream the child keeps open stays
// blocked until the child exits; callers who want the readers released
// promptly must kill the child (the CLI does, via Handle.Kill).
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		close(t.stopCh)

		for key, timer := range t.retryTimers {
			timer.Stop()
			delete(t.retryTimers, key)
		}

		var rejected []*jsonrpc.Message
		for key, pr := range t.pending {
			rejected = append(rejected, jsonrpc.NewErrorResponse(
				*pr.msg.ID, jsonrpc.CodeBridgeTimeout, "transport closed"))
			delete(t.pending, key)
			delete(t.retryCount, key)
		}
		t.mu.Unlock()

		for _, msg := range rejected {
			t.deliver(msg, true)
		}

		// Closing stdin unblocks the child; readers drain on their own
		// EOF. Already-closed streams are tolerated.
		if c, ok := t.handle.Input().(io.Closer); ok {
			if err := c.Close(); err != nil {
				t.log.Debug("closing child stdin", "err", err)
			}
		}

		if t.OnClose != nil {
			t.OnClose()
		}
	})
	return nil
}

// Ready reports whether the server has signalled readiness.
func (t *StdioTransport) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.serverReady
}

// PendingCount reports the number of requests awaiting responses.
func (t *StdioTransport) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *StdioTransport) writeLine(wire []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.handle.Input().Write(append(wire, '\n')); err != nil {
		return err
	}
	return nil
}

func (t *StdioTransport) deliver(msg *jsonrpc.Message, synthesized bool) {
	if t.observer != nil {
		t.observer.OnReceive(msg, synthesized)
	}
	if t.OnMessage != nil {
		t.OnMessage(msg)
	}
}

func (t *StdioTransport) reportError(err error) {
	if t.OnError != nil {
		t.OnError(err)
	}
}

// markReady flips the one-shot readiness state and unblocks initialization
// waiters. Subsequent signals are ignored.
func (t *StdioTransport) markReady() {
	t.mu.Lock()
	first := !t.serverReady
	t.serverReady = true
	t.mu.Unlock()

	if !first {
		return
	}
	t.log.Debug("server signalled ready")
	if t.onReady != nil {
		t.onReady()
	}
	t.readyOnce.Do(func() { close(t.readyCh) })
}
