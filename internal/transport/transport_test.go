package transport

import (
	"context"
	"testing"
	"time"

	"github.com/opendiag/vcicore/internal/autelpacket"
)

func TestStreamTransportSendReceiveRaw(t *testing.T) {
	a, b := Pipe()
	ta := NewStreamTransport(a, NewRawCodec(64))
	tb := NewStreamTransport(b, NewRawCodec(64))
	defer ta.Close()
	defer tb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := ta.Send(ctx, []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := tb.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestStreamTransportStates(t *testing.T) {
	a, b := Pipe()
	defer b.Close()
	ta := NewStreamTransport(a, NewRawCodec(64))

	seen := map[State]bool{}
	timeout := time.After(time.Second)
	for len(seen) < 2 {
		select {
		case s := <-ta.States():
			seen[s] = true
		case <-timeout:
			t.Fatalf("timed out waiting for states, got %v", seen)
		}
	}
	if !seen[Connecting] || !seen[Connected] {
		t.Fatalf("expected Connecting and Connected, got %v", seen)
	}
	ta.Close()
}

func TestStreamTransportCloseStopsReceive(t *testing.T) {
	a, b := Pipe()
	ta := NewStreamTransport(a, NewRawCodec(64))
	tb := NewStreamTransport(b, NewRawCodec(64))
	defer tb.Close()

	ta.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := tb.Receive(ctx); err == nil {
		t.Fatalf("expected error after peer closed")
	}
}

func TestAutelCodecFramesAcrossShortReads(t *testing.T) {
	a, b := Pipe()
	codecA := NewAutelCodec()
	codecB := NewAutelCodec()
	ta := NewStreamTransport(a, codecA)
	tb := NewStreamTransport(b, codecB)
	defer ta.Close()
	defer tb.Close()

	session := autelpacket.NewSession()
	builder := autelpacket.NewBuilder(session)
	frame := builder.Identify()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		ta.Send(ctx, frame)
	}()

	got, err := tb.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	pkt, n, err := autelpacket.Parse(got)
	if err != nil {
		t.Fatalf("Parse reassembled frame: %v", err)
	}
	if n != len(got) {
		t.Fatalf("expected to consume whole frame, consumed %d of %d", n, len(got))
	}
	if pkt.Command != autelpacket.CmdControl {
		t.Fatalf("got command 0x%02X", pkt.Command)
	}
}

func TestELM327CodecFramesOnPrompt(t *testing.T) {
	a, b := Pipe()
	ta := NewStreamTransport(a, NewELM327Codec())
	tb := NewStreamTransport(b, NewELM327Codec())
	defer ta.Close()
	defer tb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		ta.Send(ctx, []byte("41 00 BE 3E B8 11\r\r>"))
	}()

	got, err := tb.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got[len(got)-1] != '>' {
		t.Fatalf("expected frame to end with prompt byte, got %q", got)
	}
}
