package vcisession

import (
	"context"
	"testing"
	"time"

	"github.com/opendiag/vcicore/internal/autelpacket"
	"github.com/opendiag/vcicore/internal/crc32ieee"
	"github.com/opendiag/vcicore/internal/transport"
)

// fakeVCI reads Autel frames from one side of a pipe and replies with a
// canned success response carrying the same session_id/message_counter,
// mimicking the real adapter's echo-the-correlation-key behavior.
func fakeVCI(t *testing.T, conn transport.ReadWriteCloser, payloadFor func(cmd, sub uint32) []byte) {
	tr := transport.NewStreamTransport(conn, transport.NewAutelCodec())
	go func() {
		ctx := context.Background()
		for {
			frame, err := tr.Receive(ctx)
			if err != nil {
				return
			}
			pkt, _, err := autelpacket.Parse(frame)
			if err != nil {
				continue
			}
			payload := payloadFor(pkt.Command, pkt.SubCommand)
			resp := buildSuccessResponse(pkt.SessionID, pkt.MessageCounter, payload)
			tr.Send(ctx, resp)
		}
	}()
}

// buildSuccessResponse hand-assembles a minimal success response frame
// (command=0x00 signals success per spec.md §4.2) carrying payload.
func buildSuccessResponse(sessionID, counter uint32, payload []byte) []byte {
	total := 32 + len(payload)
	frame := make([]byte, 36+len(payload)+4)
	copy(frame[0:4], []byte{0x55, 0x55, 0xAA, 0xAA})
	putU32(frame[4:8], uint32(total))
	putU32(frame[8:12], sessionID)
	putU32(frame[12:16], counter)
	putU32(frame[16:20], uint32(len(payload)+8))
	putU32(frame[20:24], sessionID)
	putU32(frame[24:28], 0xFFFFFFFF)
	putU32(frame[28:32], 0x00)
	putU32(frame[32:36], 0x00)
	copy(frame[36:], payload)
	crc := crc32ieee.Checksum(frame[0 : 36+len(payload)])
	putU32(frame[36+len(payload):], crc)
	return frame
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func TestConnectSequence(t *testing.T) {
	a, b := transport.Pipe()
	defer b.Close()

	fakeVCI(t, b, func(cmd, sub uint32) []byte {
		switch sub {
		case autelpacket.SubPassThruOpen:
			return []byte{0x07, 0x00, 0x00, 0x00} // channel id 7
		default:
			return nil
		}
	})

	ta := transport.NewStreamTransport(a, transport.NewAutelCodec())
	sess := New(ta)
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := sess.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if sess.ChannelID() != 7 {
		t.Fatalf("got channel id %d, want 7", sess.ChannelID())
	}
}

func TestCallTimesOutAgainstSilentTransport(t *testing.T) {
	a, b := transport.Pipe()
	defer b.Close()
	ta := transport.NewStreamTransport(a, transport.NewAutelCodec())
	sess := New(ta)
	defer sess.Close()

	start := time.Now()
	ctx := context.Background()
	_, err := sess.call(ctx, sess.builder.GetVersion(), 200*time.Millisecond)
	elapsed := time.Since(start)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if elapsed < 200*time.Millisecond || elapsed > 500*time.Millisecond {
		t.Fatalf("timeout fired at unexpected time: %v", elapsed)
	}
}

func TestDisconnectDrainsPending(t *testing.T) {
	a, b := transport.Pipe()
	ta := transport.NewStreamTransport(a, transport.NewAutelCodec())
	sess := New(ta)

	resultCh := make(chan error, 1)
	go func() {
		_, err := sess.call(context.Background(), sess.builder.GetVersion(), 5*time.Second)
		resultCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	b.Close() // peer drops: triggers a Receive error in the loop

	select {
	case err := <-resultCh:
		if err == nil {
			t.Fatalf("expected NotConnected error after disconnect")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pending call was not drained after disconnect")
	}
}
