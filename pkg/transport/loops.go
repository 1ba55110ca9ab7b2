package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/mcpbridge/mcpbridge/pkg/jsonrpc"
)

// readLoop is the direct ingestion path: it drains the child's stdout into
// the shared buffer until the stream ends. End-of-stream closes the
// session; read errors are reported but also end the loop.
func (t *StdioTransport) readLoop(r io.Reader) {
	defer t.loopWG.Done()

	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			t.ingest(string(chunk[:n]))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !t.isClosed() {
				t.reportError(fmt.Errorf("read child output: %w", err))
			}
			t.Close()
			return
		}
	}
}

// stderrLoop drains the child's stderr line by line. Stderr is diagnostic
// only: lines are logged, never parsed as protocol data, but they still
// count as liveness.
func (t *StdioTransport) stderrLoop(r io.Reader) {
	defer t.loopWG.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxBufferSize)
	for scanner.Scan() {
		line := scanner.Text()
		t.log.Debug("child stderr", "session", t.handle.Name(), "line", line)

		t.mu.Lock()
		t.lastActivity = t.clk.Now()
		t.mu.Unlock()
	}
	if err := scanner.Err(); err != nil && !t.isClosed() {
		t.reportError(fmt.Errorf("read child stderr: %w", err))
	}
}

// pollLoop is the fallback ingestion path for hosts that capture child
// output into an OutputLog instead of handing over a stream. It only reacts
// to growth past what it last observed, so the same bytes are never
// processed twice. The tick also drives the pending-request timeout sweep
// so requests expire even when the child goes completely silent.
func (t *StdioTransport) pollLoop() {
	defer t.loopWG.Done()

	ticker := t.clk.NewTicker(pollInterval)
	defer ticker.Stop()

	// The stream path wins when the handle provides one; polling the same
	// output through both paths would double-process bytes.
	poll := t.output != nil && t.handle.Output() == nil
	name := t.handle.Name()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C():
		}

		if poll {
			t.mu.Lock()
			seen := t.polled
			t.mu.Unlock()

			delta := t.output.Since(name, seen)
			if delta != "" {
				t.mu.Lock()
				t.polled = seen + len(delta)
				t.mu.Unlock()
				t.ingest(delta)
				continue // ingest already swept
			}
		}

		t.mu.Lock()
		expired := t.sweepTimeoutsLocked()
		t.mu.Unlock()
		for _, msg := range expired {
			t.deliver(msg, true)
		}
	}
}

// heartbeatLoop emits a fire-and-forget ping when the session has been
// started, the server is ready, and the channel has gone quiet. Liveness
// traffic, not a tracked request.
func (t *StdioTransport) heartbeatLoop() {
	defer t.loopWG.Done()

	ticker := t.clk.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C():
		}

		t.mu.Lock()
		due := t.started && t.serverReady &&
			t.clk.Since(t.lastActivity) >= heartbeatIdle
		if due {
			t.lastActivity = t.clk.Now()
		}
		t.mu.Unlock()
		if !due {
			continue
		}

		ping, err := jsonrpc.NewNotification("ping", nil)
		if err != nil {
			continue
		}
		wire, err := jsonrpc.Encode(ping)
		if err != nil {
			continue
		}
		if err := t.writeLine(wire); err != nil {
			t.log.Debug("heartbeat write failed", "err", err)
		}
	}
}

// healthLoop signals (but never acts on) a dead connection: prolonged
// silence is reported through OnError and the caller decides whether to
// tear the session down.
func (t *StdioTransport) healthLoop() {
	defer t.loopWG.Done()

	ticker := t.clk.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C():
		}

		t.mu.Lock()
		idle := t.clk.Since(t.lastActivity)
		t.mu.Unlock()

		if idle > maxInactivity {
			t.reportError(fmt.Errorf("%w for %s", ErrInactive, idle))
		}
	}
}

func (t *StdioTransport) isClosed() bool {
	select {
	case <-t.stopCh:
		return true
	default:
		return false
	}
}
