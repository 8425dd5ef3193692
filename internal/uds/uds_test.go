package uds

import (
	"testing"
	"time"

	"github.com/opendiag/vcicore/internal/vcierr"
)

func TestBuildRequestTesterPresent(t *testing.T) {
	sub := byte(0x00)
	req := BuildRequest(SIDTesterPresent, &sub)
	if len(req) != 2 || req[0] != 0x3E || req[1] != 0x00 {
		t.Fatalf("got % X", req)
	}
}

func TestParseResponsePositive(t *testing.T) {
	resp, err := ParseResponse([]byte{0x50, 0x03})
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if !resp.Positive || resp.SID != 0x10 || len(resp.Data) != 1 || resp.Data[0] != 0x03 {
		t.Fatalf("got %+v", resp)
	}
}

func TestParseResponseNegativeMapsToKind(t *testing.T) {
	resp, err := ParseResponse([]byte{0x7F, 0x27, byte(NRCInvalidKey)})
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if resp.Positive {
		t.Fatalf("expected negative response")
	}
	asErr := resp.AsError()
	if asErr == nil {
		t.Fatalf("expected non-nil error")
	}
	ve, ok := asErr.(*vcierr.Error)
	if !ok || ve.Kind != vcierr.KindInvalidKey {
		t.Fatalf("got %#v", asErr)
	}
}

func TestParseDTCInformation(t *testing.T) {
	// status-availability mask (0xFF) + one quartet (P0300 status 0x08).
	data := []byte{0xFF, 0x03, 0x00, 0x00, 0x08}
	dtcs, err := ParseDTCInformation(data)
	if err != nil {
		t.Fatalf("ParseDTCInformation: %v", err)
	}
	if len(dtcs) != 1 || dtcs[0].Code != "P0300" {
		t.Fatalf("got %+v", dtcs)
	}
}

func TestDefaultSecurityKeyFuncRoundTrip(t *testing.T) {
	seed := []byte{0x12, 0x34, 0x56, 0x78}
	key := DefaultSecurityKeyFunc(seed)
	// XOR is its own inverse.
	again := DefaultSecurityKeyFunc(key)
	for i := range seed {
		if again[i] != seed[i] {
			t.Fatalf("XOR not self-inverse at %d: %v vs %v", i, again, seed)
		}
	}
}

func TestSecurityBackoffGrowsAndCaps(t *testing.T) {
	var b SecurityBackoff
	d1 := b.Fail()
	d2 := b.Fail()
	d3 := b.Fail()
	if d1 != time.Second || d2 != 2*time.Second || d3 != 4*time.Second {
		t.Fatalf("got %v %v %v", d1, d2, d3)
	}
	for i := 0; i < 10; i++ {
		b.Fail()
	}
	if got := b.Fail(); got != maxBackoff {
		t.Fatalf("expected cap at %v, got %v", maxBackoff, got)
	}
	b.Reset()
	if b.Attempts() != 0 {
		t.Fatalf("Reset did not clear attempts")
	}
}
