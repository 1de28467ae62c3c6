// Package wire implements the datagram codec shared by every role.
//
// A datagram is a sequence of 16-bit big-endian unsigned chunks. The
// final chunk is the number of chunks that precede it, so a decoder
// reads the trailer first and then walks the payload front to back.
package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// MaxChunk is the largest value a single chunk can carry.
const MaxChunk = 1<<16 - 1

var (
	// ErrOutOfRange reports an encode argument outside [0, MaxChunk].
	ErrOutOfRange = errors.New("wire: chunk out of range")

	// ErrTruncated reports a datagram too short to hold its trailer, or
	// one whose length is not a whole number of chunks.
	ErrTruncated = errors.New("wire: truncated datagram")

	// ErrBadLength reports a trailer that disagrees with the datagram size.
	ErrBadLength = errors.New("wire: length trailer mismatch")
)

// Encode packs the given chunks and appends the length trailer.
func Encode(chunks ...int) ([]byte, error) {
	buf := make([]byte, 0, 2*(len(chunks)+1))
	for _, c := range chunks {
		if c < 0 || c > MaxChunk {
			return nil, errors.Wrapf(ErrOutOfRange, "value %d", c)
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(c))
	}
	return binary.BigEndian.AppendUint16(buf, uint16(len(chunks))), nil
}

// Decode unpacks a datagram produced by Encode, validating the trailer
// against the datagram size.
func Decode(b []byte) ([]int, error) {
	if len(b) < 2 || len(b)%2 != 0 {
		return nil, ErrTruncated
	}
	n := int(binary.BigEndian.Uint16(b[len(b)-2:]))
	if len(b) != 2*(n+1) {
		return nil, errors.Wrapf(ErrBadLength, "trailer %d, %d bytes", n, len(b))
	}
	chunks := make([]int, n)
	for i := range chunks {
		chunks[i] = int(binary.BigEndian.Uint16(b[2*i:]))
	}
	return chunks, nil
}
