package protocol

import (
	"bytes"
	"errors"
)

// MaxPendingBytes bounds how much unterminated input a session buffers.
const MaxPendingBytes = 64 * 1024

// ErrLineTooLong is reported when MaxPendingBytes arrive without a newline.
// The pending bytes are dropped.
var ErrLineTooLong = errors.New("inbound line exceeds buffer limit")

// LineBuffer accumulates received bytes and splits them into
// newline-delimited lines. Bytes after the last newline stay buffered until
// more data completes the line.
type LineBuffer struct {
	pending []byte
}

// Write appends received bytes. It returns ErrLineTooLong (after dropping
// everything buffered) when the unterminated tail grows past MaxPendingBytes.
func (b *LineBuffer) Write(p []byte) error {
	b.pending = append(b.pending, p...)

	tail := b.pending
	if i := bytes.LastIndexByte(tail, '\n'); i >= 0 {
		tail = tail[i+1:]
	}
	if len(tail) > MaxPendingBytes {
		b.pending = b.pending[:0]
		return ErrLineTooLong
	}
	return nil
}

// Next splits off the first complete line, without its newline.
func (b *LineBuffer) Next() ([]byte, bool) {
	i := bytes.IndexByte(b.pending, '\n')
	if i < 0 {
		return nil, false
	}

	line := make([]byte, i)
	copy(line, b.pending[:i])

	rest := copy(b.pending, b.pending[i+1:])
	b.pending = b.pending[:rest]
	return line, true
}

// Len returns the number of buffered bytes.
func (b *LineBuffer) Len() int {
	return len(b.pending)
}

// Reset drops everything buffered.
func (b *LineBuffer) Reset() {
	b.pending = b.pending[:0]
}
