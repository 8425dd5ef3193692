package isotp

import (
	"bytes"
	"testing"
)

func TestVINMultiFrameReassembly(t *testing.T) {
	frames := [][]byte{
		{0x10, 0x14, 0x49, 0x02, 0x01, 0x31, 0x4F, 0x50},
		{0x21, 0x45, 0x4E, 0x44, 0x49, 0x41, 0x47, 0x30},
		{0x22, 0x54, 0x45, 0x53, 0x54, 0x31, 0x32, 0x33},
	}
	var r Reassembler
	var got []byte
	for i, f := range frames {
		payload, done, err := r.Feed(f)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if done {
			got = payload
		}
	}
	want := []byte{0x49, 0x02, 0x01, 0x31, 0x4F, 0x50, 0x45, 0x4E, 0x44, 0x49, 0x41, 0x47, 0x30, 0x54, 0x45, 0x53, 0x54, 0x31, 0x32, 0x33}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % X, want % X", got, want)
	}
	if string(want[3:]) != "1OPENDIAG0TEST123" {
		t.Fatalf("sanity check on expected ASCII failed: %q", want[3:])
	}
}

func TestSingleAndMultiFrameSameReassembly(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}

	single, err := BuildSingleFrame(payload)
	if err != nil {
		t.Fatalf("BuildSingleFrame: %v", err)
	}
	var r1 Reassembler
	got1, done, err := r1.Feed(single)
	if err != nil || !done {
		t.Fatalf("single frame feed: done=%v err=%v", done, err)
	}

	longer := append(append([]byte{}, payload...), 0xAA)
	frames := Segment(longer)
	if len(frames) < 2 {
		t.Fatalf("expected multi-frame segmentation, got %d frame(s)", len(frames))
	}
	var r2 Reassembler
	var got2 []byte
	for _, f := range frames {
		p, done, err := r2.Feed(f)
		if err != nil {
			t.Fatalf("multi-frame feed: %v", err)
		}
		if done {
			got2 = p
		}
	}
	if !bytes.Equal(got2[:len(payload)], got1) {
		t.Fatalf("reassembled prefix %X does not match single-frame reassembly %X", got2[:len(payload)], got1)
	}
}

func TestSegmentSingleFrameRoundTrip(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03}
	frames := Segment(payload)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	var r Reassembler
	got, done, err := r.Feed(frames[0])
	if err != nil || !done {
		t.Fatalf("Feed: done=%v err=%v", done, err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got % X, want % X", got, payload)
	}
}

func TestSegmentMultiFrameRoundTrip(t *testing.T) {
	payload := make([]byte, 20)
	for i := range payload {
		payload[i] = byte(i)
	}
	frames := Segment(payload)
	var r Reassembler
	var got []byte
	for _, f := range frames {
		p, done, err := r.Feed(f)
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		if done {
			got = p
		}
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got % X, want % X", got, payload)
	}
}

func TestFlowControlFrameTolerated(t *testing.T) {
	var r Reassembler
	fc := BuildFlowControl(FlowContinueToSend, 0, 0)
	_, done, err := r.Feed(fc)
	if err != nil || done {
		t.Fatalf("flow control frame should be ignored, got done=%v err=%v", done, err)
	}
}

func TestOutOfOrderConsecutiveFrame(t *testing.T) {
	payload := make([]byte, 20)
	frames := Segment(payload)
	var r Reassembler
	if _, _, err := r.Feed(frames[0]); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	// Skip frames[1], feed frames[2] (sequence 2) out of order.
	if len(frames) < 3 {
		t.Fatalf("expected at least 3 frames")
	}
	if _, _, err := r.Feed(frames[2]); err == nil {
		t.Fatalf("expected error for out-of-order consecutive frame")
	}
}
