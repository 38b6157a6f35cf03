package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWordCounterMonotonic(t *testing.T) {
	c := WordCounter{}
	short := c.Count("func authenticate")
	long := c.Count("func authenticate(user string, pass string) error")
	require.Less(t, short, long)
}

func TestWordCounterEmpty(t *testing.T) {
	require.Equal(t, 0, WordCounter{}.Count(""))
	require.Equal(t, 0, WordCounter{}.Count("   \n\t"))
}

func TestTiktokenCounterIfAvailable(t *testing.T) {
	c, err := NewTiktokenCounter()
	if err != nil {
		t.Skipf("tiktoken encoding table unavailable in this environment: %v", err)
	}
	require.Greater(t, c.Count("func authenticate(user string) error"), 0)
}
