// Package ipc implements the control-plane protocol spoken over the
// daemon's Unix socket: length-prefixed CBOR request/response frames.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxMessageSize is the largest frame payload either side accepts.
const MaxMessageSize = 1 << 20

// frameHeaderLength is the size of the big-endian uint32 length prefix.
const frameHeaderLength = 4

// ErrFrameTooLarge is returned when a frame announces a payload above the limit.
var ErrFrameTooLarge = errors.New("frame too large")

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrFrameTooLarge, len(payload), MaxMessageSize)
	}

	buf := make([]byte, frameHeaderLength+len(payload))
	binary.BigEndian.PutUint32(buf[:frameHeaderLength], uint32(len(payload)))
	copy(buf[frameHeaderLength:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame. The announced length is checked against max
// before any payload buffer is allocated.
func ReadFrame(r io.Reader, max int) ([]byte, error) {
	if max <= 0 {
		max = MaxMessageSize
	}

	var header [frameHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := uint64(binary.BigEndian.Uint32(header[:]))
	if length > uint64(max) {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFrameTooLarge, length, max)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read frame payload: %w", err)
	}
	return payload, nil
}

// WriteMessage encodes v and writes it as one frame.
func WriteMessage(w io.Writer, v any) error {
	payload, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return WriteFrame(w, payload)
}

// ReadMessage reads one frame and decodes it into v.
func ReadMessage(r io.Reader, max int, v any) error {
	payload, err := ReadFrame(r, max)
	if err != nil {
		return err
	}
	if err := Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	return nil
}
