// Package jsonrpc defines the newline-delimited JSON-RPC 2.0 wire types
// exchanged by the bridge transport. The bridge is a courier, not a
// conformance checker: inbound messages are classified by which fields are
// present, and the jsonrpc version field is never enforced.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

const Version = "2.0"

// Message is a single JSON-RPC record. Requests carry Method and ID,
// notifications carry Method without ID, responses carry ID with Result or
// Error. Params, Result, and Error payloads stay raw so the transport never
// needs to understand them.
type Message struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IsResponse reports whether the message correlates to a request: it carries
// a result or error payload together with an id.
func (m *Message) IsResponse() bool {
	return m.ID != nil && (m.Result != nil || m.Error != nil)
}

// IsNotification reports whether the message is a fire-and-forget call.
func (m *Message) IsNotification() bool {
	return m.Method != "" && m.ID == nil
}

// IsRequest reports whether the message expects a correlated response.
func (m *Message) IsRequest() bool {
	return m.Method != "" && m.ID != nil
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// CodeBridgeTimeout is the bridge-synthesized error code used for request
// timeouts, echo-retry exhaustion, and close-time rejection. It sits in the
// implementation-defined range so callers can tell synthesized failures from
// errors the server actually produced.
const CodeBridgeTimeout = -32001

// ID is a JSON-RPC correlation id, either a string or a number.
type ID struct {
	value any
}

func IntID(v int64) ID     { return ID{value: v} }
func StringID(v string) ID { return ID{value: v} }

func (id ID) IsValid() bool { return id.value != nil }

// Key returns a stable map key for the id. JSON numbers arrive as float64,
// so integer-valued floats are collapsed to their integer form to keep
// lookups consistent between sent and received ids.
func (id ID) Key() string {
	switch v := id.value.(type) {
	case int64:
		return fmt.Sprintf("n:%d", v)
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("n:%d", int64(v))
		}
		return fmt.Sprintf("n:%v", v)
	case string:
		return "s:" + v
	default:
		return "null"
	}
}

func (id ID) String() string {
	switch v := id.value.(type) {
	case int64:
		return fmt.Sprintf("%d", v)
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	case string:
		return v
	default:
		return "<nil>"
	}
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		id.value = nil
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		id.value = n
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		id.value = f
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		id.value = s
		return nil
	}
	return &Error{Code: CodeInvalidRequest, Message: "id must be a number or string"}
}

// NewRequest builds a request message, marshalling params if non-nil.
func NewRequest(id ID, method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, ID: &id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification message (no id, no response expected).
func NewNotification(method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewErrorResponse builds a response carrying an error object for id.
func NewErrorResponse(id ID, code int, message string) *Message {
	return &Message{
		JSONRPC: Version,
		ID:      &id,
		Error:   &Error{Code: code, Message: message},
	}
}

// Encode serializes a message to its wire form, without the trailing
// newline the framing layer appends.
func Encode(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return data, nil
}

// Decode parses one line's worth of JSON into a Message.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &Error{Code: CodeParseError, Message: err.Error()}
	}
	return &msg, nil
}

func marshalParams(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return raw, nil
}
