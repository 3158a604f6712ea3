package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeMessage(t *testing.T) {
	assert.Equal(t, `plain text`, escapeMessage(`plain text`))
	assert.Equal(t, `\\`, escapeMessage(`\`))
	assert.Equal(t, `\[b]bold`, escapeMessage(`[b]bold`))
	assert.Equal(t, `a\\\[x`, escapeMessage(`a\[x`))
}

func TestSplitMessageShortTextSingleChunk(t *testing.T) {
	chunks := splitMessage("hello", 100)
	assert.Equal(t, []string{"hello"}, chunks)
}

func TestSplitMessagePrefersLineBreak(t *testing.T) {
	text := "first line\nsecond line that pushes past the budget"
	chunks := splitMessage(text, 20)

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, "first line\n", chunks[0])
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestSplitMessageNeverSplitsEscape(t *testing.T) {
	// Budget boundary lands right after the escaping backslash; the cut
	// must pull back one byte.
	text := strings.Repeat("a", 9) + `\[` + strings.Repeat("b", 9)
	chunks := splitMessage(text, 10)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 10)
		assert.Equal(t, 0, trailingBackslashes(chunk)%2,
			"chunk %q ends with a lone escaping backslash", chunk)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
	assert.Equal(t, strings.Repeat("a", 9), chunks[0])
}

func TestSplitMessageEvenBackslashRunMayCut(t *testing.T) {
	// Two backslashes are a complete escaped backslash; the boundary cut
	// is legal there.
	text := strings.Repeat("a", 8) + `\\` + strings.Repeat("b", 5)
	chunks := splitMessage(text, 10)

	assert.Equal(t, strings.Repeat("a", 8)+`\\`, chunks[0])
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestSplitMessageReassembles(t *testing.T) {
	inputs := []string{
		strings.Repeat("x", 3000),
		strings.Repeat("line\n", 700),
		strings.Repeat(`C:\dir\`, 400),
		strings.Repeat("[tag]", 600),
	}
	for _, raw := range inputs {
		escaped := escapeMessage(raw)
		for _, budget := range []int{50, 333, 2500} {
			chunks := splitMessage(escaped, budget)
			joined := strings.Join(chunks, "")
			assert.Equal(t, escaped, joined)
			for _, chunk := range chunks {
				assert.LessOrEqual(t, len(chunk), budget)
				assert.Equal(t, 0, trailingBackslashes(chunk)%2)
			}
		}
	}
}

func TestFiveThousandCharsNoNewlinesSplitsInTwo(t *testing.T) {
	budget := chunkBudget("")
	require.Equal(t, 2500, budget)

	text := strings.Repeat("q", 5000)
	chunks := splitMessage(text, budget)

	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], budget)
	assert.Len(t, chunks[1], 5000-budget)
}

func TestFiveThousandCharsBoundaryOnEscape(t *testing.T) {
	// Escaping backslash exactly at the budget boundary: the first chunk
	// ends one character early.
	budget := chunkBudget("")
	text := strings.Repeat("q", budget-1) + `\[` + strings.Repeat("q", budget-2)

	chunks := splitMessage(text, budget)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], budget-1)
	assert.Equal(t, text, strings.Join(chunks, ""))
}
