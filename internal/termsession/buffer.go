package termsession

import (
	"sync"
)

// DefaultBufferSize is the default replay buffer capacity (64 KB).
const DefaultBufferSize = 64 * 1024

// ReplayBuffer is a thread-safe byte buffer that keeps the most recent
// terminal output for replay on reconnection. When an append pushes it past
// its capacity, the oldest bytes are dropped from the front.
type ReplayBuffer struct {
	mu     sync.Mutex
	data   []byte
	maxLen int
}

// NewReplayBuffer creates a buffer with the given capacity.
// If maxLen <= 0, DefaultBufferSize is used.
func NewReplayBuffer(maxLen int) *ReplayBuffer {
	if maxLen <= 0 {
		maxLen = DefaultBufferSize
	}
	return &ReplayBuffer{maxLen: maxLen}
}

// Write appends p, evicting from the front so that Len never exceeds Cap.
// It always reports len(p) so the buffer can sit behind an io.Writer.
func (b *ReplayBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(p) >= b.maxLen {
		b.data = append(b.data[:0], p[len(p)-b.maxLen:]...)
		return len(p), nil
	}
	b.data = append(b.data, p...)
	if over := len(b.data) - b.maxLen; over > 0 {
		b.data = b.data[over:]
	}
	return len(p), nil
}

// Snapshot returns a copy of the current contents.
func (b *ReplayBuffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	result := make([]byte, len(b.data))
	copy(result, b.data)
	return result
}

// Len returns the number of buffered bytes.
func (b *ReplayBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Cap returns the buffer capacity.
func (b *ReplayBuffer) Cap() int {
	return b.maxLen
}
