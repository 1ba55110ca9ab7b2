package recorder

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpbridge/mcpbridge/pkg/jsonrpc"
)

func newTestRecorder() *Recorder {
	r := New("test-session")
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.clock = func() time.Time { return base }
	return r
}

func decode(t *testing.T, raw string) *jsonrpc.Message {
	t.Helper()
	msg, err := jsonrpc.Decode([]byte(raw))
	require.NoError(t, err)
	return msg
}

func TestRecorderResolvesCalls(t *testing.T) {
	testCases := map[string]struct {
		response        string
		wantSuccess     bool
		wantError       string
		wantSynthesized bool
	}{
		"successful response": {
			response:    `{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`,
			wantSuccess: true,
		},
		"error response": {
			response:  `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`,
			wantError: "method not found",
		},
		"synthesized timeout": {
			response:        `{"jsonrpc":"2.0","id":1,"error":{"code":-32001,"message":"request timed out"}}`,
			wantError:       "request timed out",
			wantSynthesized: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			r := newTestRecorder()

			req, err := jsonrpc.NewRequest(jsonrpc.IntID(1), "tools/list", nil)
			require.NoError(t, err)
			r.OnSend(req)
			r.OnReceive(decode(t, tc.response), tc.wantSynthesized)

			history := r.GetHistory()
			require.Len(t, history.Calls, 1)

			call := history.Calls[0]
			assert.Equal(t, "test-session", call.Session)
			assert.Equal(t, "tools/list", call.Method)
			assert.Equal(t, "1", call.ID)
			require.NotNil(t, call.ResolvedAt)
			assert.Equal(t, tc.wantSuccess, call.Success)
			assert.Equal(t, tc.wantError, call.Error)
			assert.Equal(t, tc.wantSynthesized, call.Synthesized)
		})
	}
}

func TestRecorderCountsNotifications(t *testing.T) {
	r := newTestRecorder()

	note, err := jsonrpc.NewNotification("notifications/initialized", nil)
	require.NoError(t, err)
	r.OnSend(note)
	r.OnSend(note)

	history := r.GetHistory()
	assert.Empty(t, history.Calls)
	assert.Equal(t, 2, history.Notifications)
}

func TestRecorderCountsUnsolicited(t *testing.T) {
	r := newTestRecorder()

	// A response with no matching request, and an inbound notification.
	r.OnReceive(decode(t, `{"jsonrpc":"2.0","id":99,"result":{}}`), false)
	r.OnReceive(decode(t, `{"jsonrpc":"2.0","method":"log","params":{}}`), false)

	history := r.GetHistory()
	assert.Empty(t, history.Calls)
	assert.Equal(t, 2, history.Unsolicited)
}

func TestRecorderMatchesNumericIDForms(t *testing.T) {
	r := newTestRecorder()

	req, err := jsonrpc.NewRequest(jsonrpc.IntID(42), "resources/read", nil)
	require.NoError(t, err)
	r.OnSend(req)

	// Decoded ids arrive as float64; the recorder must still match them.
	r.OnReceive(decode(t, `{"jsonrpc":"2.0","id":42,"result":{}}`), false)

	history := r.GetHistory()
	require.Len(t, history.Calls, 1)
	assert.True(t, history.Calls[0].Success)
	assert.Equal(t, 0, history.Unsolicited)
}

func TestHistoryTotals(t *testing.T) {
	r := newTestRecorder()

	for i := 1; i <= 3; i++ {
		req, err := jsonrpc.NewRequest(jsonrpc.IntID(int64(i)), "tools/call", map[string]any{
			"name": "echo", "arguments": map[string]any{"text": "hello world"},
		})
		require.NoError(t, err)
		r.OnSend(req)
		r.OnReceive(decode(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"content":"hello back"}}`, i)), false)
	}

	history := r.GetHistory()
	require.Len(t, history.Calls, 3)

	totals := history.Totals()
	assert.Positive(t, totals.Input)
	assert.Positive(t, totals.Output)
	assert.Equal(t, history.Calls[0].Tokens.Input*3, totals.Input)
}

func TestGetHistoryReturnsCopy(t *testing.T) {
	r := newTestRecorder()

	req, err := jsonrpc.NewRequest(jsonrpc.IntID(1), "tools/list", nil)
	require.NoError(t, err)
	r.OnSend(req)

	history := r.GetHistory()
	history.Calls[0] = nil

	assert.NotNil(t, r.GetHistory().Calls[0])
}

func TestRecorderConcurrentAccess(t *testing.T) {
	r := newTestRecorder()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(base int64) {
			defer wg.Done()
			for j := int64(0); j < 25; j++ {
				id := base*100 + j
				req, err := jsonrpc.NewRequest(jsonrpc.IntID(id), "tools/call", nil)
				if err != nil {
					continue
				}
				r.OnSend(req)
				resp, err := jsonrpc.Decode([]byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{}}`, id)))
				if err != nil {
					continue
				}
				r.OnReceive(resp, false)
			}
		}(int64(i))
	}
	wg.Wait()

	history := r.GetHistory()
	assert.Len(t, history.Calls, 200)
	for _, call := range history.Calls {
		assert.True(t, call.Success)
	}
}
