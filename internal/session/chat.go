package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/shepherd-project/shepherd/internal/events"
	"github.com/shepherd-project/shepherd/internal/protocol"
)

// escapeMessage backslash-escapes the two characters the remote chat
// protocol reserves: the escape character itself and the formatting
// metacharacter.
func escapeMessage(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\\':
			b.WriteString(`\\`)
		case '[':
			b.WriteString(`\[`)
		default:
			b.WriteByte(text[i])
		}
	}
	return b.String()
}

// chunkBudget is the usable byte budget per chunk once the configured
// prefix and the continuation ellipsis are reserved.
func chunkBudget(prefix string) int {
	return maxMessageLength - len(prefix) - len(continuationEllipsis)
}

// splitMessage splits already-escaped text into chunks of at most budget
// bytes. The cut prefers the last line break within the budget; failing
// that it lands on the budget boundary, pulled back one byte whenever the
// boundary would separate an escaping backslash from the character it
// escapes.
func splitMessage(text string, budget int) []string {
	if budget < 2 {
		return nil
	}

	var chunks []string
	for len(text) > budget {
		cut := budget
		if idx := strings.LastIndexByte(text[:budget], '\n'); idx >= 0 {
			cut = idx + 1
		} else if trailingBackslashes(text[:cut])%2 == 1 {
			cut--
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}

// trailingBackslashes counts the run of backslashes ending the string. An
// odd count means the last backslash is escaping whatever comes next.
func trailingBackslashes(s string) int {
	n := 0
	for i := len(s) - 1; i >= 0 && s[i] == '\\'; i-- {
		n++
	}
	return n
}

// SendChatMessage escapes, chunks, and sends a message to a chat group.
// Chunks are sent strictly in order under the per-session send lock; each
// chunk is paced and retried on transient failure before the whole send is
// reported failed.
func (s *Session) SendChatMessage(chatGroupID uint64, text string) error {
	if text == "" {
		return nil
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	prefix := s.pacing.ChatPrefix
	chunks := splitMessage(escapeMessage(text), chunkBudget(prefix))

	for i, chunk := range chunks {
		msg := prefix + chunk
		if i < len(chunks)-1 {
			msg += continuationEllipsis
		}
		if err := s.sendChunk(chatGroupID, msg); err != nil {
			return fmt.Errorf("chat send failed on chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}

// sendChunk delivers one chunk, retrying transient failures.
func (s *Session) sendChunk(chatGroupID uint64, msg string) error {
	var lastErr error

	for attempt := 0; attempt < chatSendRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(chatSendRetryDelay)
		}
		time.Sleep(chatSendPacing)

		ev, err := s.adapter.Call(func(jobID uint64) protocol.Frame {
			return protocol.BuildChatMessage(jobID, chatGroupID, msg)
		}, callTimeout)
		if err != nil {
			lastErr = err
			continue
		}

		payload, ok := ev.Payload.(events.ChatAckPayload)
		if !ok {
			lastErr = fmt.Errorf("unexpected chat ack payload")
			continue
		}

		switch payload.Result {
		case events.ResultOK:
			return nil
		case events.ResultRateLimitExceeded, events.ResultFail, events.ResultTimeout:
			lastErr = fmt.Errorf("chat send rejected: %s", payload.Result)
			continue
		default:
			return fmt.Errorf("chat send rejected: %s", payload.Result)
		}
	}
	return lastErr
}
