// Package linebuf splits a stream of text fragments into complete lines.
package linebuf

import (
	"bytes"
	"strings"
)

// Buffer accumulates fragments and yields complete lines. The zero value is
// ready to use. A Buffer must not be shared between goroutines.
type Buffer struct {
	partial []byte
}

// Feed appends chunk to the retained fragment and returns every complete line
// in order, with the "\n" or "\r\n" terminator stripped. The trailing
// unterminated segment is retained for the next call.
func (b *Buffer) Feed(chunk []byte) []string {
	var lines []string
	for {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			b.partial = append(b.partial, chunk...)
			return lines
		}

		var line string
		if len(b.partial) > 0 {
			b.partial = append(b.partial, chunk[:i]...)
			line = string(b.partial)
			b.partial = b.partial[:0]
		} else {
			line = string(chunk[:i])
		}
		lines = append(lines, strings.TrimSuffix(line, "\r"))
		chunk = chunk[i+1:]
	}
}

// Remainder returns and clears the retained fragment. ok is false when
// nothing was retained.
func (b *Buffer) Remainder() (line string, ok bool) {
	if len(b.partial) == 0 {
		return "", false
	}
	line = strings.TrimSuffix(string(b.partial), "\r")
	b.partial = b.partial[:0]
	return line, true
}

// Len returns the size of the retained fragment.
func (b *Buffer) Len() int {
	return len(b.partial)
}
