package transport

import (
	"io"
	"net"
)

// Pipe returns two connected in-memory ReadWriteClosers, useful for
// exercising a Transport end-to-end in tests without a real device or
// socket (net.Pipe gives synchronous, unbuffered delivery).
func Pipe() (a, b ReadWriteCloser) {
	ca, cb := net.Pipe()
	return ca, cb
}

// byteFrameCodec is a trivial FrameCodec for tests: every call to
// ReadFrame returns whatever single Read syscall produces, with no
// length framing. Real codecs (autelpacket, ELM327) parse the wire
// format themselves.
type byteFrameCodec struct {
	bufSize int
}

// NewRawCodec builds a FrameCodec with no structure, used only to drive
// Transport conformance tests with bufSize-sized Read calls.
func NewRawCodec(bufSize int) FrameCodec {
	return &byteFrameCodec{bufSize: bufSize}
}

func (c *byteFrameCodec) ReadFrame(r io.Reader) ([]byte, error) {
	buf := make([]byte, c.bufSize)
	n, err := r.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c *byteFrameCodec) WriteFrame(frame []byte) []byte {
	return frame
}
