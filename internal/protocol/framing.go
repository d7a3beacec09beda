package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// HeaderSize is the size of the little-endian length prefix of every frame.
const HeaderSize = 4

// EncodeFrame encodes d and prepends the length prefix, producing the exact
// bytes that go on the wire.
func EncodeFrame(d Datagram) ([]byte, error) {
	payload, err := Marshal(d)
	if err != nil {
		return nil, err
	}
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: payload of %d bytes does not fit a frame", ErrMalformed, len(payload))
	}

	frame := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame[:HeaderSize], uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// WriteFrame writes an already encoded frame in a single call.
func WriteFrame(w io.Writer, frame []byte) error {
	n, err := w.Write(frame)
	if err == nil && n != len(frame) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return fmt.Errorf("%w: write frame: %w", ErrIO, err)
	}
	return nil
}

// WriteDatagram encodes d and writes it as one frame.
func WriteDatagram(w io.Writer, d Datagram) error {
	frame, err := EncodeFrame(d)
	if err != nil {
		return err
	}
	return WriteFrame(w, frame)
}

// ReadDatagram reads one frame from r without a size limit.
func ReadDatagram(r io.Reader) (Datagram, error) {
	return NewReader(r, 0).ReadDatagram()
}

// Reader reads frames from a stream. A Reader is not safe for concurrent use;
// one goroutine owns the read side of a connection.
type Reader struct {
	r       io.Reader
	maxSize uint32
	header  [HeaderSize]byte
}

// NewReader returns a Reader on r. Frames whose payload is longer than
// maxSize are skipped and reported as ErrMalformed; zero disables the limit.
func NewReader(r io.Reader, maxSize uint32) *Reader {
	return &Reader{r: r, maxSize: maxSize}
}

// ReadDatagram reads exactly one frame and decodes it.
func (r *Reader) ReadDatagram() (Datagram, error) {
	if _, err := io.ReadFull(r.r, r.header[:]); err != nil {
		return nil, fmt.Errorf("%w: read length prefix: %w", ErrIO, err)
	}
	size := binary.LittleEndian.Uint32(r.header[:])

	if r.maxSize > 0 && size > r.maxSize {
		if _, err := io.CopyN(io.Discard, r.r, int64(size)); err != nil {
			return nil, fmt.Errorf("%w: skip oversized payload: %w", ErrIO, err)
		}
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds limit of %d", ErrMalformed, size, r.maxSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, fmt.Errorf("%w: read payload: %w", ErrIO, err)
	}
	return Unmarshal(payload)
}
