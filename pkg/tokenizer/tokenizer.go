// Package tokenizer wraps tiktoken for estimating the token cost of
// JSON-RPC traffic crossing the bridge.
package tokenizer

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

var (
	once     sync.Once
	instance *Tokenizer
)

// Get returns the shared tokenizer. Loading the BPE ranks can fail offline;
// in that case the tokenizer falls back to a bytes/4 estimate.
func Get() *Tokenizer {
	once.Do(func() {
		enc, err := tiktoken.GetEncoding(encodingName)
		if err != nil {
			instance = &Tokenizer{}
			return
		}
		instance = &Tokenizer{enc: enc}
	})
	return instance
}

// CountTokens returns the token count of text.
func (t *Tokenizer) CountTokens(text string) (int, error) {
	if t.enc == nil {
		// Rough heuristic used when no encoding is available.
		return (len(text) + 3) / 4, nil
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

// CountJSONTokens serializes v and counts the tokens of the result. A nil
// value counts as zero, not as the token cost of "null".
func (t *Tokenizer) CountJSONTokens(v any) (int, error) {
	if v == nil {
		return 0, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal for token count: %w", err)
	}
	if len(data) == 0 || string(data) == "null" {
		return 0, nil
	}
	return t.CountTokens(string(data))
}
