package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/opendiag/vcicore/internal/autelpacket"
)

// AutelCodec frames the Autel VCI packet wire format over any byte
// stream, accumulating bytes across short reads until autelpacket.Parse
// reports a complete frame (spec.md §4.2).
type AutelCodec struct {
	buf []byte
}

// NewAutelCodec returns a ready-to-use AutelCodec.
func NewAutelCodec() *AutelCodec { return &AutelCodec{} }

func (c *AutelCodec) ReadFrame(r io.Reader) ([]byte, error) {
	chunk := make([]byte, 512)
	for {
		_, n, err := autelpacket.Parse(c.buf)
		if err == nil {
			frame := append([]byte{}, c.buf[:n]...)
			c.buf = c.buf[n:]
			return frame, nil
		}
		var pe *autelpacket.ParseError
		if !errors.As(err, &pe) || !pe.NeedMoreBytes {
			// Unrecoverable framing error: drop the offending byte and
			// resynchronize on the next magic sequence, mirroring how a
			// line-oriented reader recovers from garbage.
			if len(c.buf) > 0 {
				c.buf = c.buf[1:]
				continue
			}
			return nil, fmt.Errorf("transport: autel frame error: %w", err)
		}
		read, readErr := r.Read(chunk)
		if read > 0 {
			c.buf = append(c.buf, chunk[:read]...)
		}
		if readErr != nil {
			return nil, readErr
		}
	}
}

func (c *AutelCodec) WriteFrame(frame []byte) []byte {
	return frame
}

// ELM327Codec frames the ELM327 ASCII dialect: responses terminate on
// the '>' prompt byte (spec.md §4.8), accumulating across short reads.
type ELM327Codec struct {
	buf []byte
}

// NewELM327Codec returns a ready-to-use ELM327Codec.
func NewELM327Codec() *ELM327Codec { return &ELM327Codec{} }

func (c *ELM327Codec) ReadFrame(r io.Reader) ([]byte, error) {
	chunk := make([]byte, 256)
	for {
		if idx := bytes.IndexByte(c.buf, '>'); idx >= 0 {
			frame := append([]byte{}, c.buf[:idx+1]...)
			c.buf = c.buf[idx+1:]
			return frame, nil
		}
		n, err := r.Read(chunk)
		if n > 0 {
			c.buf = append(c.buf, chunk[:n]...)
		}
		if err != nil {
			return nil, err
		}
	}
}

func (c *ELM327Codec) WriteFrame(frame []byte) []byte {
	return frame
}
