// Package tokenizer provides the pluggable token-counting collaborator
// used by the query pipeline's token budget step (spec §4.9 step 8).
//
// Counting accuracy does not affect pipeline correctness (spec §9 Open
// Question (c)): the budget step only needs a monotonic, deterministic
// count so that "include top-down until budget reached" terminates.
package tokenizer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts tokens in a piece of text.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a plain function to Counter.
type CounterFunc func(string) int

func (f CounterFunc) Count(text string) int { return f(text) }

// TiktokenCounter counts tokens using the cl100k_base encoding, the
// default this implementation registers with the Registry for the
// tokenizer capability (SPEC_FULL.md §11).
type TiktokenCounter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter builds a Counter backed by tiktoken-go's cl100k_base
// encoding, the encoding used by most modern embedding/chat models.
func NewTiktokenCounter() (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count returns the number of tokens text encodes to.
func (c *TiktokenCounter) Count(text string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.Encode(text, nil, nil))
}

// WordCounter is a degraded-mode fallback (no external encoding table
// available) used when TiktokenCounter construction fails; it satisfies
// the monotonicity requirement but not accuracy.
type WordCounter struct{}

func (WordCounter) Count(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		isSpace := r == ' ' || r == '\t' || r == '\n' || r == '\r'
		if isSpace {
			inWord = false
			continue
		}
		if !inWord {
			count++
			inWord = true
		}
	}
	return count
}

var _ Counter = (*TiktokenCounter)(nil)
var _ Counter = WordCounter{}
