// Package isotp implements the ISO 15765-2 transport-protocol segmenter
// spec.md §4.5 requires for VIN reads and any payload over 7 bytes.
package isotp

import "fmt"

// FrameType identifies an ISO-TP PCI (protocol control information) type.
type FrameType byte

const (
	FrameSingle      FrameType = 0x0
	FrameFirst       FrameType = 0x1
	FrameConsecutive FrameType = 0x2
	FrameFlowControl FrameType = 0x3
)

// FlowStatus values carried by a flow-control frame's low nibble.
type FlowStatus byte

const (
	FlowContinueToSend FlowStatus = 0x0
	FlowWait           FlowStatus = 0x1
	FlowOverflow       FlowStatus = 0x2
)

// MaxSingleFrame is the largest payload a single frame can carry on
// classic (non-FD) CAN: 7 data bytes after the 1-byte PCI.
const MaxSingleFrame = 7

// maxConsecutivePayload is the data capacity of one consecutive frame.
const maxConsecutivePayload = 7

// BuildSingleFrame builds a `0x0N D0..D6` single frame for payloads up to
// 7 bytes (spec.md §4.5).
func BuildSingleFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxSingleFrame {
		return nil, fmt.Errorf("isotp: payload of %d bytes exceeds single-frame max %d", len(payload), MaxSingleFrame)
	}
	frame := make([]byte, 1+len(payload))
	frame[0] = byte(FrameSingle)<<4 | byte(len(payload))
	copy(frame[1:], payload)
	return frame, nil
}

// BuildFirstFrame builds the `0x1NNN` first frame for a payload longer
// than 7 bytes: the 12-bit total length split across the low nibble of
// byte 0 and all of byte 1, followed by up to 6 data bytes.
func BuildFirstFrame(payload []byte) (frame []byte, consumed int) {
	total := len(payload)
	frame = make([]byte, 8)
	frame[0] = byte(FrameFirst)<<4 | byte((total>>8)&0x0F)
	frame[1] = byte(total & 0xFF)
	consumed = total
	if consumed > 6 {
		consumed = 6
	}
	copy(frame[2:], payload[:consumed])
	return frame, consumed
}

// BuildConsecutiveFrame builds one `0x2x` consecutive frame carrying up
// to 7 bytes, with x the 4-bit running sequence number (spec.md §4.5).
func BuildConsecutiveFrame(seq byte, payload []byte) []byte {
	frame := make([]byte, 1+len(payload))
	frame[0] = byte(FrameConsecutive)<<4 | (seq & 0x0F)
	copy(frame[1:], payload)
	return frame
}

// BuildFlowControl builds a `0x30 BS STmin` flow-control frame. The
// codec tolerates (but does not require) the tester sending its own
// `0x30 00 00` (spec.md §4.5).
func BuildFlowControl(status FlowStatus, blockSize, stMin byte) []byte {
	return []byte{byte(FrameFlowControl)<<4 | byte(status), blockSize, stMin}
}

// Segment splits payload into the frames a sender must transmit for a
// multi-frame ISO-TP exchange: either a single frame, or a first frame
// followed by as many consecutive frames as needed. Flow control is a
// session-level concern (the sender must wait for a flow-control frame
// between the first frame and the consecutive frames) and is not modeled
// here; see orchestrator.UDSLink's writeSegmented for that orchestration.
func Segment(payload []byte) [][]byte {
	if len(payload) <= MaxSingleFrame {
		f, _ := BuildSingleFrame(payload)
		return [][]byte{f}
	}
	first, consumed := BuildFirstFrame(payload)
	frames := [][]byte{first}
	remaining := payload[consumed:]
	seq := byte(1)
	for len(remaining) > 0 {
		n := maxConsecutivePayload
		if n > len(remaining) {
			n = len(remaining)
		}
		frames = append(frames, BuildConsecutiveFrame(seq, remaining[:n]))
		remaining = remaining[n:]
		seq = (seq + 1) & 0x0F
	}
	return frames
}

// Reassembler accumulates consecutive frames into a complete payload
// after a first frame announces the total length.
type Reassembler struct {
	total   int
	buf     []byte
	nextSeq byte
	active  bool
}

// Feed processes one received CAN-layer frame. It returns (payload, true,
// nil) once the full multi-frame payload has been reassembled, or
// (nil, false, nil) while more consecutive frames are still expected. A
// single frame completes immediately.
func (r *Reassembler) Feed(frame []byte) ([]byte, bool, error) {
	if len(frame) == 0 {
		return nil, false, fmt.Errorf("isotp: empty frame")
	}
	frameType := FrameType(frame[0] >> 4)
	switch frameType {
	case FrameSingle:
		n := int(frame[0] & 0x0F)
		if len(frame)-1 < n {
			return nil, false, fmt.Errorf("isotp: single frame too short for declared length %d", n)
		}
		return append([]byte{}, frame[1:1+n]...), true, nil

	case FrameFirst:
		if len(frame) < 2 {
			return nil, false, fmt.Errorf("isotp: truncated first frame")
		}
		total := int(frame[0]&0x0F)<<8 | int(frame[1])
		r.total = total
		r.buf = append([]byte{}, frame[2:]...)
		if len(r.buf) > total {
			r.buf = r.buf[:total]
		}
		r.nextSeq = 1
		r.active = true
		if len(r.buf) >= total {
			r.active = false
			return append([]byte{}, r.buf...), true, nil
		}
		return nil, false, nil

	case FrameConsecutive:
		if !r.active {
			return nil, false, fmt.Errorf("isotp: consecutive frame with no first frame in progress")
		}
		seq := frame[0] & 0x0F
		if seq != r.nextSeq {
			r.active = false
			return nil, false, fmt.Errorf("isotp: out-of-order consecutive frame: got seq %d, want %d", seq, r.nextSeq)
		}
		r.buf = append(r.buf, frame[1:]...)
		if len(r.buf) > r.total {
			r.buf = r.buf[:r.total]
		}
		r.nextSeq = (r.nextSeq + 1) & 0x0F
		if len(r.buf) >= r.total {
			r.active = false
			return append([]byte{}, r.buf...), true, nil
		}
		return nil, false, nil

	case FrameFlowControl:
		// The codec tolerates an echoed/self-sent flow-control frame
		// (spec.md §4.5); it carries no reassembly payload.
		return nil, false, nil

	default:
		return nil, false, fmt.Errorf("isotp: unknown frame type 0x%X", frameType)
	}
}
