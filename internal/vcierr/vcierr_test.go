package vcierr

import (
	"errors"
	"testing"
)

func TestNewAndIs(t *testing.T) {
	err := New(KindTimeout, "command %q timed out", "010C")
	if !Is(err, KindTimeout) {
		t.Fatal("expected Is(err, KindTimeout) to be true")
	}
	if Is(err, KindBus) {
		t.Fatal("expected Is(err, KindBus) to be false")
	}
	if err.Error() != "vcierr[timeout]: command \"010C\" timed out" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindTransportIO, cause, "send failed")
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
	if !Is(err, KindTransportIO) {
		t.Fatal("expected Is(err, KindTransportIO) to be true")
	}
}

func TestIsFalseForPlainError(t *testing.T) {
	if Is(errors.New("plain"), KindTimeout) {
		t.Fatal("expected Is to be false for a non-vcierr error")
	}
}

func TestKindStrings(t *testing.T) {
	cases := map[Kind]string{
		KindNotConnected:    "not_connected",
		KindTimeout:         "timeout",
		KindProtocolFraming: "protocol_framing",
		KindBus:             "bus",
		KindUdsNegative:     "uds_negative",
		KindSecurityDenied:  "security_denied",
		KindInvalidKey:      "invalid_key",
		KindUnsupported:     "unsupported",
		KindTransportIO:     "transport_io",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", int(k), got, want)
		}
	}
}
