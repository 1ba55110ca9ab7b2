package tokenizer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsSharedInstance(t *testing.T) {
	assert.Same(t, Get(), Get())
}

func TestCountTokens(t *testing.T) {
	tk := Get()

	count, err := tk.CountTokens("list the available tools on this server")
	require.NoError(t, err)
	assert.Positive(t, count)

	// Same text, same count.
	again, err := tk.CountTokens("list the available tools on this server")
	require.NoError(t, err)
	assert.Equal(t, count, again)

	empty, err := tk.CountTokens("")
	require.NoError(t, err)
	assert.Zero(t, empty)
}

func TestCountTokensFallback(t *testing.T) {
	// A tokenizer without an encoding estimates from byte length.
	tk := &Tokenizer{}

	count, err := tk.CountTokens("12345678")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = tk.CountTokens("123456789")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestCountJSONTokens(t *testing.T) {
	tk := Get()

	testCases := map[string]struct {
		value    any
		wantZero bool
	}{
		"nil value":        {value: nil, wantZero: true},
		"nil raw message":  {value: json.RawMessage(nil), wantZero: true},
		"null raw message": {value: json.RawMessage("null"), wantZero: true},
		"params object":    {value: map[string]any{"uri": "file:///tmp/a.txt"}, wantZero: false},
		"raw result":       {value: json.RawMessage(`{"tools":[{"name":"echo"}]}`), wantZero: false},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			count, err := tk.CountJSONTokens(tc.value)
			require.NoError(t, err)
			if tc.wantZero {
				assert.Zero(t, count)
			} else {
				assert.Positive(t, count)
			}
		})
	}
}
