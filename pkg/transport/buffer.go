package transport

import (
	"bytes"

	"github.com/mcpbridge/mcpbridge/pkg/jsonrpc"
)

// ingest appends freshly read child output to the buffer and runs the
// framing state machine. Both ingestion paths (direct stream reads and the
// OutputLog poll) converge here.
func (t *StdioTransport) ingest(text string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.lastActivity = t.clk.Now()
	t.buffer += text

	lines, rest := jsonrpc.SplitLines(t.buffer)
	// A misbehaving child can flood the buffer with unterminated garbage;
	// keep only the most recent window of the unconsumed tail. Complete
	// lines are already extracted, so the cap never drops parseable frames.
	if len(rest) > maxBufferSize {
		rest = rest[len(rest)-maxBufferSize:]
	}
	t.buffer = rest

	var out []*jsonrpc.Message
	var synth []bool
	ready := false
	for _, line := range lines {
		msg, synthesized, signalsReady := t.processLine(line)
		if signalsReady {
			ready = true
		}
		if msg != nil {
			out = append(out, msg)
			synth = append(synth, synthesized)
		}
	}

	timedOut := t.sweepTimeoutsLocked()
	t.mu.Unlock()

	if ready {
		t.markReady()
	}
	for i, msg := range out {
		t.deliver(msg, synth[i])
	}
	for _, msg := range timedOut {
		t.deliver(msg, true)
	}
}

// processLine handles one complete line under t.mu. It returns the message
// to deliver (nil for log lines and absorbed echoes), whether that message
// was synthesized by the bridge, and whether the line signals readiness.
func (t *StdioTransport) processLine(line string) (*jsonrpc.Message, bool, bool) {
	obj := jsonrpc.ExtractObject(line)
	if obj == "" {
		if line != "" {
			t.log.Debug("child output", "line", line)
		}
		return nil, false, !t.serverReady && t.ready(line)
	}

	msg, err := jsonrpc.Decode([]byte(obj))
	if err != nil {
		// Braces inside ordinary log text; not protocol traffic.
		t.log.Debug("child output", "line", line)
		return nil, false, false
	}

	signalsReady := !t.serverReady && (msg.Method == "server/ready" ||
		msg.Method == "notifications/initialized" ||
		msg.Result != nil)

	// Response: correlate to the pending request, if any.
	if msg.IsResponse() {
		key := msg.ID.Key()
		if _, ok := t.pending[key]; ok {
			t.clearPendingLocked(key)
		}
		return msg, false, signalsReady
	}

	// A request echoed back verbatim means the child never processed it.
	// For retry-eligible methods, resend on a timer up to the retry
	// budget; exhaustion synthesizes an error response.
	if msg.IsRequest() {
		key := msg.ID.Key()
		if pr, ok := t.pending[key]; ok && t.retryEligible[msg.Method] && isEcho(pr, msg) {
			return t.handleEchoLocked(key, pr), true, signalsReady
		}
	}

	// Server-initiated request or notification: courier semantics, hand
	// it straight to the caller.
	return msg, false, signalsReady
}

// isEcho reports whether inbound is a byte-for-byte reflection of the
// pending request, comparing canonical serializations.
func isEcho(pr *pendingRequest, inbound *jsonrpc.Message) bool {
	wire, err := jsonrpc.Encode(inbound)
	if err != nil {
		return false
	}
	return bytes.Equal(pr.wire, wire)
}

// handleEchoLocked schedules a resend for the echoed request, or synthesizes
// the exhaustion error once the retry budget is spent. Returns a message
// only in the exhaustion case.
func (t *StdioTransport) handleEchoLocked(key string, pr *pendingRequest) *jsonrpc.Message {
	attempts := t.retryCount[key]
	if attempts >= maxRetries {
		t.log.Warn("echo retries exhausted", "method", pr.msg.Method, "id", pr.msg.ID.String())
		t.clearPendingLocked(key)
		return jsonrpc.NewErrorResponse(*pr.msg.ID, jsonrpc.CodeBridgeTimeout,
			"request echoed back; retries exhausted")
	}

	t.retryCount[key] = attempts + 1
	t.log.Debug("request echoed back, scheduling retry",
		"method", pr.msg.Method, "attempt", attempts+1)

	if timer, ok := t.retryTimers[key]; ok {
		timer.Stop()
	}
	// resend takes locks and reads the clock; keep the timer callback
	// trivial so it is safe from any timer implementation's goroutine.
	t.retryTimers[key] = t.clk.AfterFunc(retryDelay, func() {
		go t.resend(key)
	})
	return nil
}

// resend rewrites the original request line for a still-pending id.
func (t *StdioTransport) resend(key string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	pr, ok := t.pending[key]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.retryTimers, key)
	wire := pr.wire
	t.lastActivity = t.clk.Now()
	t.mu.Unlock()

	if err := t.writeLine(wire); err != nil {
		t.reportError(err)
	}
}

// sweepTimeoutsLocked expires pending requests older than the request
// timeout, returning the synthesized error responses to deliver.
func (t *StdioTransport) sweepTimeoutsLocked() []*jsonrpc.Message {
	now := t.clk.Now()
	var expired []*jsonrpc.Message
	for key, pr := range t.pending {
		if now.Sub(pr.sentAt) < requestTimeout {
			continue
		}
		t.log.Warn("request timed out", "method", pr.msg.Method, "id", pr.msg.ID.String())
		expired = append(expired, jsonrpc.NewErrorResponse(
			*pr.msg.ID, jsonrpc.CodeBridgeTimeout, "request timed out"))
		t.clearPendingLocked(key)
	}
	return expired
}

func (t *StdioTransport) clearPendingLocked(key string) {
	if timer, ok := t.retryTimers[key]; ok {
		timer.Stop()
		delete(t.retryTimers, key)
	}
	delete(t.pending, key)
	delete(t.retryCount, key)
}
