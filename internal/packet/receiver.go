// Package packet frames newline-terminated packets out of a byte stream.
//
// A Receiver reads into a buffer whose capacity starts at one chunk and grows
// by one chunk whenever it fills up without a newline. Only the span returned
// by the latest read is scanned. Bytes that follow a newline in the same read
// stay buffered for the next packet.
//
// Several packets arriving in one read are therefore returned one at a time,
// and the server appends and replies once per packet. "a\nb\n" in a single
// read yields the replies "a\n" and "a\nb\n". The C aesdsocket this replaces
// appended the whole read at once and replied a single time with "a\nb\n".
// Splitting keeps the log free of partial packets when a read ends mid-packet.
package packet

import (
	"bytes"
	"io"
)

// Terminator ends every packet
const Terminator = '\n'

// DefaultChunkSize is the initial capacity and growth increment
const DefaultChunkSize = 1000

// Receiver reads packets from r
type Receiver struct {
	r     io.Reader
	chunk int
	buf   []byte
	n     int // Buffered bytes in buf[:n]
	grows int
}

// NewReceiver creates a receiver with a buffer of one chunk
func NewReceiver(r io.Reader, chunk int) *Receiver {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	return &Receiver{
		r:     r,
		chunk: chunk,
		buf:   make([]byte, chunk),
	}
}

// Next returns the next packet including its terminating newline.
//
// io.EOF means the peer closed the stream. Any unterminated bytes left at that
// point are dropped and reported by Pending. Other read errors are returned
// as-is.
func (rc *Receiver) Next() ([]byte, error) {
	if i := bytes.IndexByte(rc.buf[:rc.n], Terminator); i >= 0 {
		return rc.take(i + 1), nil
	}

	for {
		if rc.n == len(rc.buf) {
			rc.grow()
		}

		start := rc.n
		m, err := rc.r.Read(rc.buf[start:])
		rc.n += m

		if m > 0 {
			if i := bytes.IndexByte(rc.buf[start:rc.n], Terminator); i >= 0 {
				return rc.take(start + i + 1), nil
			}
		}

		if err != nil {
			return nil, err
		}
	}
}

// Pending returns the number of buffered bytes not yet part of a packet
func (rc *Receiver) Pending() int {
	return rc.n
}

// Cap returns the current buffer capacity
func (rc *Receiver) Cap() int {
	return len(rc.buf)
}

// Grows returns how many times the buffer has grown
func (rc *Receiver) Grows() int {
	return rc.grows
}

func (rc *Receiver) grow() {
	bigger := make([]byte, len(rc.buf)+rc.chunk)
	copy(bigger, rc.buf[:rc.n])
	rc.buf = bigger
	rc.grows++
}

// take detaches the first k buffered bytes and shifts the rest down
func (rc *Receiver) take(k int) []byte {
	p := make([]byte, k)
	copy(p, rc.buf[:k])
	rc.n = copy(rc.buf, rc.buf[k:rc.n])
	return p
}
