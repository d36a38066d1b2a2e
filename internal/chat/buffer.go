package chat

import (
	"sync"

	"github.com/whisper/instant-messaging/internal/protocol"
)

// DefaultBufferSize is the number of recent messages retained per chat when
// no size is configured.
const DefaultBufferSize = 50

// Buffer stores the last N realtime messages per chat in memory.
// It is goroutine-safe and uses a ring buffer internally.
type Buffer struct {
	mu      sync.RWMutex
	size    int
	buffers map[protocol.ID]*ringBuffer // chatID -> ring buffer
}

// ringBuffer is a fixed-size circular buffer of messages.
type ringBuffer struct {
	items []protocol.Message
	pos   int
	count int
}

// NewBuffer creates an empty Buffer holding up to size messages per chat.
// A non-positive size selects DefaultBufferSize.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{
		size:    size,
		buffers: make(map[protocol.ID]*ringBuffer),
	}
}

// Size returns the per-chat capacity.
func (b *Buffer) Size() int { return b.size }

// Add appends msg to its chat's ring buffer. If the buffer is full, the
// oldest message is overwritten.
func (b *Buffer) Add(msg protocol.Message) {
	chatID := msg.Chat.ID

	b.mu.Lock()
	defer b.mu.Unlock()

	rb, ok := b.buffers[chatID]
	if !ok {
		rb = &ringBuffer{
			items: make([]protocol.Message, b.size),
		}
		b.buffers[chatID] = rb
	}

	rb.items[rb.pos] = msg
	rb.pos = (rb.pos + 1) % b.size
	if rb.count < b.size {
		rb.count++
	}
}

// Get returns the buffered messages for a chat in chronological order
// (oldest first). Returns an empty slice if the chat has no buffer.
func (b *Buffer) Get(chatID protocol.ID) []protocol.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rb, ok := b.buffers[chatID]
	if !ok {
		return []protocol.Message{}
	}

	result := make([]protocol.Message, rb.count)
	// The oldest message is at position (pos - count) mod size.
	start := (rb.pos - rb.count + b.size) % b.size
	for i := 0; i < rb.count; i++ {
		result[i] = rb.items[(start+i)%b.size]
	}
	return result
}

// Reset drops every chat's buffer.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buffers = make(map[protocol.ID]*ringBuffer)
}
