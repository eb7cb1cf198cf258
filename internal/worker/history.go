package worker

import (
	"sync"

	"github.com/san4s204/AI-ASSISTANT-main/internal/llm"
)

// historyRing keeps the last N dialogue turns per chat in memory.
// History is best-effort context for the model, not durable state; a
// restart simply starts fresh.
type historyRing struct {
	mu    sync.Mutex
	depth int
	chats map[int64][]llm.Message
}

func newHistoryRing(depth int) *historyRing {
	return &historyRing{depth: depth, chats: make(map[int64][]llm.Message)}
}

// Append records one user/assistant exchange, evicting the oldest turns
// beyond the depth.
func (h *historyRing) Append(chatID int64, user, assistant string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := append(h.chats[chatID],
		llm.Message{Role: "user", Content: user},
		llm.Message{Role: "assistant", Content: assistant},
	)
	if max := h.depth * 2; len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}
	h.chats[chatID] = msgs
}

// Get returns a copy of the chat's history, oldest first.
func (h *historyRing) Get(chatID int64) []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.chats[chatID]
	out := make([]llm.Message, len(msgs))
	copy(out, msgs)
	return out
}
