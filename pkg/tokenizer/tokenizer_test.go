package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWordsCount(t *testing.T) {
	w := Words{}
	assert.Equal(t, 0, w.Count(""))
	assert.Equal(t, 0, w.Count("   \n\t"))
	assert.Equal(t, 3, w.Count("one two three"))
	assert.Equal(t, 3, w.Count("  one\n two\tthree  "))
}

func TestWordsTail(t *testing.T) {
	w := Words{}
	assert.Equal(t, "", w.Tail("one two three", 0))
	assert.Equal(t, "", w.Tail("one two three", -1))
	assert.Equal(t, "three", w.Tail("one two three", 1))
	assert.Equal(t, "two three", w.Tail("one two three", 2))
	// Asking for more than exists returns the text untouched.
	assert.Equal(t, "one two three", w.Tail("one two three", 10))
}

func TestWordsTailCoversCount(t *testing.T) {
	w := Words{}
	text := "a b c d e f g h"
	for n := 1; n <= 8; n++ {
		assert.Equal(t, n, w.Count(w.Tail(text, n)))
	}
}
