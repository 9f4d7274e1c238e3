// Package tokenizer provides deterministic token counting for the whole
// pipeline. Chunk sizing and any downstream consumer that re-counts tokens
// must agree, so every component counts through the same Codec.
package tokenizer

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Codec counts tokens and extracts token-aligned suffixes. Implementations
// must be deterministic: the same text always yields the same counts.
type Codec interface {
	// Count returns the number of tokens in text.
	Count(text string) int
	// Tail returns the suffix of text covering at most n tokens.
	Tail(text string, n int) string
}

const encodingName = "cl100k_base"

// Tiktoken is a Codec backed by the cl100k_base BPE encoding, matching what
// retrieval consumers downstream count with.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the cl100k_base encoding.
func NewTiktoken() (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("load %s encoding: %w", encodingName, err)
	}
	return &Tiktoken{enc: enc}, nil
}

func (t *Tiktoken) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

func (t *Tiktoken) Tail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= n {
		return text
	}
	return t.enc.Decode(tokens[len(tokens)-n:])
}

// Words is a whitespace-delimited Codec. It backs tests and acts as a last
// resort when the BPE vocabulary cannot be loaded.
type Words struct{}

func (Words) Count(text string) int {
	return len(strings.Fields(text))
}

func (Words) Tail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	fields := strings.Fields(text)
	if len(fields) <= n {
		return text
	}
	return strings.Join(fields[len(fields)-n:], " ")
}
