package protocol

import "unicode/utf8"

// UTF8Carry holds back an incomplete trailing rune from an output chunk until
// the next chunk completes it, so text frames never split a character.
// It is not safe for concurrent use.
type UTF8Carry struct {
	pending []byte
}

// Feed returns the complete prefix of the pending bytes plus chunk.
func (c *UTF8Carry) Feed(chunk []byte) []byte {
	data := chunk
	if len(c.pending) > 0 {
		data = append(c.pending, chunk...)
		c.pending = nil
	}

	start := len(data) - 1
	limit := len(data) - utf8.UTFMax
	for start >= 0 && start > limit && !utf8.RuneStart(data[start]) {
		start--
	}
	if start >= 0 && start > limit && !utf8.FullRune(data[start:]) {
		c.pending = append([]byte(nil), data[start:]...)
		data = data[:start]
	}
	return data
}

// Flush returns whatever is still held back.
func (c *UTF8Carry) Flush() []byte {
	p := c.pending
	c.pending = nil
	return p
}
