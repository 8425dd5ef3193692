package autelpacket

import (
	"bytes"
	"testing"
)

func TestIdentifyFrame(t *testing.T) {
	sess := NewSession()
	b := NewBuilder(sess)
	frame := b.Identify()

	if !bytes.HasPrefix(frame, Magic[:]) {
		t.Fatalf("frame does not start with magic: % X", frame[:4])
	}
	totalLength := getU32(frame[4:8])
	if int(totalLength) != len(frame)-8 {
		t.Fatalf("total_length = %d, want %d (len(frame)-8)", totalLength, len(frame)-8)
	}
	if !crcVerifyTestHelper(frame) {
		t.Fatalf("CRC does not verify")
	}
}

func TestPassThruOpenFrame(t *testing.T) {
	sess := NewSession()
	b := NewBuilder(sess)
	frame := b.PassThruOpen(6)

	p, n, err := Parse(frame)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if n != len(frame) {
		t.Fatalf("consumed %d, want %d", n, len(frame))
	}
	if p.Command != CmdPassThru {
		t.Fatalf("command = 0x%X, want 0x%X", p.Command, CmdPassThru)
	}
	if p.SubCommand != SubPassThruOpen {
		t.Fatalf("sub_command = 0x%X, want 0x%X", p.SubCommand, SubPassThruOpen)
	}
	if len(p.Payload) != 8 {
		t.Fatalf("payload len = %d, want 8", len(p.Payload))
	}
	if !bytes.Equal(p.Payload[0:4], []byte{0x06, 0x00, 0x00, 0x00}) {
		t.Fatalf("payload[0:4] = % X, want 06 00 00 00", p.Payload[0:4])
	}
	if !bytes.Equal(p.Payload[4:8], []byte{0, 0, 0, 0}) {
		t.Fatalf("payload[4:8] = % X, want zeros", p.Payload[4:8])
	}
}

func TestParseTruncated(t *testing.T) {
	sess := NewSession()
	frame := NewBuilder(sess).GetVersion()

	_, _, err := Parse(frame[:len(frame)-5])
	var pe *ParseError
	if err == nil {
		t.Fatalf("expected error on truncated input")
	}
	if pe2, ok := err.(*ParseError); !ok || !pe2.NeedMoreBytes {
		t.Fatalf("expected NeedMoreBytes ParseError, got %v (%T)", err, err)
	}
	_ = pe
}

func TestParseLeadingZeroByte(t *testing.T) {
	sess := NewSession()
	frame := NewBuilder(sess).GetVersion()
	prefixed := append([]byte{0x00}, frame...)

	p, n, err := Parse(prefixed)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !p.LeadingZero {
		t.Fatalf("expected LeadingZero=true")
	}
	if n != len(prefixed) {
		t.Fatalf("consumed %d, want %d", n, len(prefixed))
	}
}

func TestParseBadCRC(t *testing.T) {
	sess := NewSession()
	frame := NewBuilder(sess).GetVersion()
	frame[len(frame)-1] ^= 0xFF

	_, _, err := Parse(frame)
	if err == nil {
		t.Fatalf("expected CRC mismatch error")
	}
}

func TestSessionCountersAreInstanceScoped(t *testing.T) {
	a := NewSession()
	b := NewSession()
	a.Next()
	a.Next()
	if a.Counter() == b.Counter() {
		t.Fatalf("counters should not be coupled across sessions")
	}
	if a.ID() == b.ID() {
		t.Fatalf("session ids should (almost certainly) differ")
	}
}

func crcVerifyTestHelper(frame []byte) bool {
	p, n, err := Parse(frame)
	return err == nil && p != nil && n == len(frame)
}
