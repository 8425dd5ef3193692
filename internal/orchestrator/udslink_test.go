package orchestrator

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/opendiag/vcicore/internal/autelpacket"
	"github.com/opendiag/vcicore/internal/crc32ieee"
	"github.com/opendiag/vcicore/internal/isotp"
	"github.com/opendiag/vcicore/internal/transport"
	"github.com/opendiag/vcicore/internal/uds"
	"github.com/opendiag/vcicore/internal/vcisession"
)

// fakeModule answers PassThru_WriteMsgs/ReadMsgs by feeding each written
// ISO-TP frame's data bytes to respond, letting the test script the
// reply for one SID at a time, the same shape as vcisession's own
// fakeVCI helper.
func fakeModule(side transport.ReadWriteCloser, respond func(isoTPFrame []byte) []byte) {
	tr := transport.NewStreamTransport(side, transport.NewAutelCodec())
	go func() {
		ctx := context.Background()
		var pending []byte
		for {
			frame, err := tr.Receive(ctx)
			if err != nil {
				return
			}
			pkt, _, err := autelpacket.Parse(frame)
			if err != nil {
				continue
			}
			var payload []byte
			switch pkt.SubCommand {
			case autelpacket.SubPassThruOpen:
				payload = []byte{0x07, 0x00, 0x00, 0x00}
			case autelpacket.SubPassThruWriteMsgs:
				if len(pkt.Payload) >= 16 {
					pending = respond(pkt.Payload[16:])
				}
			case autelpacket.SubPassThruReadMsgs:
				payload = pending
			}
			tr.Send(ctx, buildResponse(pkt.SessionID, pkt.MessageCounter, payload))
		}
	}()
}

func buildResponse(sessionID, counter uint32, payload []byte) []byte {
	frame := make([]byte, 36+len(payload)+4)
	copy(frame[0:4], autelpacket.Magic[:])
	le := binary.LittleEndian
	le.PutUint32(frame[4:8], uint32(32+len(payload)))
	le.PutUint32(frame[8:12], sessionID)
	le.PutUint32(frame[12:16], counter)
	le.PutUint32(frame[16:20], uint32(len(payload)+8))
	le.PutUint32(frame[20:24], sessionID)
	le.PutUint32(frame[24:28], 0xFFFFFFFF)
	le.PutUint32(frame[28:32], 0x00)
	le.PutUint32(frame[32:36], 0x00)
	copy(frame[36:], payload)
	crc := crc32ieee.Checksum(frame[0 : 36+len(payload)])
	le.PutUint32(frame[36+len(payload):], crc)
	return frame
}

func connectedSession(t *testing.T, respond func(isoTPFrame []byte) []byte) (*vcisession.Session, func()) {
	t.Helper()
	a, b := transport.Pipe()
	fakeModule(b, respond)
	sess := vcisession.New(transport.NewStreamTransport(a, transport.NewAutelCodec()))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := sess.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return sess, func() { sess.Close(); b.Close() }
}

func TestUDSLinkSendUDSSingleFrame(t *testing.T) {
	sess, cleanup := connectedSession(t, func(isoTPFrame []byte) []byte {
		// Echo a positive TesterPresent response as a single ISO-TP frame.
		resp := []byte{uds.SIDTesterPresent + 0x40, 0x00}
		f, _ := isotp.BuildSingleFrame(resp)
		return f
	})
	defer cleanup()

	link := NewUDSLink(sess)
	req := uds.BuildRequest(uds.SIDTesterPresent, bytePtr(0x00))
	got, err := link.send(context.Background(), req, 2*time.Second)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	resp, err := uds.ParseResponse(got)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if !resp.Positive || resp.SID != uds.SIDTesterPresent {
		t.Fatalf("got %+v", resp)
	}
}

func TestUDSLinkReadDTCs(t *testing.T) {
	sess, cleanup := connectedSession(t, func(isoTPFrame []byte) []byte {
		sid := isoTPFrame[1]
		switch sid {
		case uds.SIDReadDTCInformation:
			// subfn echo + status mask + one quartet (P0300 status 0x08).
			resp := []byte{uds.SIDReadDTCInformation + 0x40, uds.SubFnReportDTCByStatusMask, 0xFF, 0x03, 0x00, 0x00, 0x08}
			f, _ := isotp.BuildSingleFrame(resp)
			return f
		default:
			resp := []byte{sid + 0x40, 0x00}
			f, _ := isotp.BuildSingleFrame(resp)
			return f
		}
	})
	defer cleanup()

	link := NewUDSLink(sess)
	dtcs, err := link.ReadDTCs(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("ReadDTCs: %v", err)
	}
	if len(dtcs) != 1 || dtcs[0].Code != "P0300" {
		t.Fatalf("got %+v", dtcs)
	}
}

func TestUDSLinkUnlockRoundTrip(t *testing.T) {
	sess, cleanup := connectedSession(t, func(isoTPFrame []byte) []byte {
		sid := isoTPFrame[1]
		subFn := isoTPFrame[2]
		switch {
		case sid == uds.SIDSecurityAccess && subFn == uds.SubFnRequestSeed:
			resp := []byte{uds.SIDSecurityAccess + 0x40, uds.SubFnRequestSeed, 0x12, 0x34, 0x56, 0x78}
			f, _ := isotp.BuildSingleFrame(resp)
			return f
		case sid == uds.SIDSecurityAccess && subFn == uds.SubFnSendKey:
			resp := []byte{uds.SIDSecurityAccess + 0x40, uds.SubFnSendKey}
			f, _ := isotp.BuildSingleFrame(resp)
			return f
		default:
			resp := []byte{sid + 0x40, 0x00}
			f, _ := isotp.BuildSingleFrame(resp)
			return f
		}
	})
	defer cleanup()

	link := NewUDSLink(sess)
	if err := link.Unlock(context.Background(), uds.DefaultSecurityKeyFunc, 2*time.Second); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if link.backoff.Attempts() != 0 {
		t.Fatalf("expected backoff reset after success, got %d attempts", link.backoff.Attempts())
	}
}

func TestUDSLinkSendUDSAddressedReprogramsFilter(t *testing.T) {
	sess, cleanup := connectedSession(t, func(isoTPFrame []byte) []byte {
		resp := []byte{uds.SIDTesterPresent + 0x40, 0x00}
		f, _ := isotp.BuildSingleFrame(resp)
		return f
	})
	defer cleanup()

	link := NewUDSLink(sess)
	req := uds.BuildRequest(uds.SIDTesterPresent, bytePtr(0x00))
	_, err := link.SendUDS(context.Background(), 0x7E0, req, 2*time.Second)
	if err != nil {
		t.Fatalf("SendUDS: %v", err)
	}
}
