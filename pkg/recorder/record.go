// Package recorder captures the JSON-RPC traffic crossing a bridge
// transport: which requests went out, how each one resolved (real response,
// synthesized timeout, retry exhaustion), and the token cost of both sides.
package recorder

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/mcpbridge/mcpbridge/pkg/jsonrpc"
	"github.com/mcpbridge/mcpbridge/pkg/tokenizer"
)

// TokenCount holds input/output token estimates for one exchange.
type TokenCount struct {
	Input  int64 `json:"inputTokens"`
	Output int64 `json:"outputTokens"`
}

func NewTokenCount(input, output int64) TokenCount {
	return TokenCount{Input: input, Output: output}
}

// Call is one request/response exchange observed on the bridge.
type Call struct {
	Session     string     `json:"session"`
	Method      string     `json:"method"`
	ID          string     `json:"id"`
	SentAt      time.Time  `json:"sentAt"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
	Success     bool       `json:"success"`
	Synthesized bool       `json:"synthesized,omitempty"`
	Error       string     `json:"error,omitempty"`
	Tokens      TokenCount `json:"tokens"`
}

// History is a point-in-time snapshot of recorded traffic.
type History struct {
	Calls         []*Call `json:"calls"`
	Notifications int     `json:"notifications"`
	Unsolicited   int     `json:"unsolicited"`
}

// Totals sums token counts across all resolved calls.
func (h History) Totals() TokenCount {
	var total TokenCount
	for _, c := range h.Calls {
		total.Input += c.Tokens.Input
		total.Output += c.Tokens.Output
	}
	return total
}

// Recorder implements the transport's Observer hook. Safe for concurrent
// use from the transport's read and timer goroutines.
type Recorder struct {
	session string
	clock   func() time.Time

	mu            sync.Mutex
	calls         []*Call
	open          map[string]*Call
	notifications int
	unsolicited   int
}

// New creates a recorder for the named session.
func New(session string) *Recorder {
	return &Recorder{
		session: session,
		clock:   time.Now,
		open:    make(map[string]*Call),
	}
}

// OnSend records an outbound message. Requests open a call awaiting
// resolution; notifications are only counted.
func (r *Recorder) OnSend(msg *jsonrpc.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.IsNotification() {
		r.notifications++
		return
	}
	if msg.ID == nil || !msg.ID.IsValid() {
		return
	}

	inTokens, _ := tokenizer.Get().CountJSONTokens(msg.Params)
	call := &Call{
		Session: r.session,
		Method:  msg.Method,
		ID:      msg.ID.String(),
		SentAt:  r.clock(),
		Tokens:  NewTokenCount(int64(inTokens), 0),
	}
	r.calls = append(r.calls, call)
	r.open[msg.ID.Key()] = call
}

// OnReceive resolves the matching open call when msg is a response;
// anything without a match is counted as unsolicited inbound traffic.
func (r *Recorder) OnReceive(msg *jsonrpc.Message, synthesized bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !msg.IsResponse() {
		r.unsolicited++
		return
	}

	call, ok := r.open[msg.ID.Key()]
	if !ok {
		r.unsolicited++
		return
	}
	delete(r.open, msg.ID.Key())

	now := r.clock()
	call.ResolvedAt = &now
	call.Synthesized = synthesized
	if msg.Error != nil {
		call.Error = msg.Error.Message
	} else {
		call.Success = true
		outTokens, _ := tokenizer.Get().CountJSONTokens(msg.Result)
		call.Tokens.Output = int64(outTokens)
	}
}

// GetHistory returns a value copy of the recorded traffic; mutating the
// returned slices does not affect the recorder.
func (r *Recorder) GetHistory() History {
	r.mu.Lock()
	defer r.mu.Unlock()

	calls := make([]*Call, len(r.calls))
	copy(calls, r.calls)
	return History{
		Calls:         calls,
		Notifications: r.notifications,
		Unsolicited:   r.unsolicited,
	}
}

// MarshalReport renders the history as indented JSON for CLI output.
func (r *Recorder) MarshalReport() ([]byte, error) {
	return json.MarshalIndent(r.GetHistory(), "", "  ")
}
