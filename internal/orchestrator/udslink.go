package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/opendiag/vcicore/internal/autelpacket"
	"github.com/opendiag/vcicore/internal/diagsession"
	"github.com/opendiag/vcicore/internal/isotp"
	"github.com/opendiag/vcicore/internal/uds"
	"github.com/opendiag/vcicore/internal/vcierr"
	"github.com/opendiag/vcicore/internal/vcisession"
)

// UDSLink drives UDS request/response exchanges over an already-connected
// Autel VCI PassThru channel: every call segments the request through
// ISO-TP, writes the resulting frames, then reads and reassembles the
// response, extending the read on a 0x78 response-pending negative
// response (spec.md §4.5's four-layer stack: Autel framing wrapping
// ISO-TP segments wrapping UDS request/response bytes).
type UDSLink struct {
	session *vcisession.Session
	backoff uds.SecurityBackoff
}

// NewUDSLink wraps an already-Connect()ed session.
func NewUDSLink(session *vcisession.Session) *UDSLink {
	return &UDSLink{session: session}
}

// Send exists only to satisfy orchestrator.Link so a UDSLink can be
// passed to New; the Autel path has no ASCII AT-command layer to speak.
func (u *UDSLink) Send(ctx context.Context, line string, timeout time.Duration) (string, error) {
	return "", vcierr.New(vcierr.KindUnsupported, "UDSLink does not support ASCII AT commands")
}

// SendOBD implements the orchestrator's obdLink contract. Unlike
// ReadDataByIdentifier-based UDS access, SAE J1979 OBD-II requests keep
// using the mode byte as their own pseudo-SID even when tunneled over
// ISO15765 CAN, so live-data streaming and VIN read work unchanged over
// this link.
func (u *UDSLink) SendOBD(ctx context.Context, mode, pid byte, timeout time.Duration) ([]byte, error) {
	respFrame, err := u.send(ctx, []byte{mode, pid}, timeout)
	if err != nil {
		return nil, err
	}
	if len(respFrame) < 2 || respFrame[0] != mode+0x40 {
		return nil, vcierr.New(vcierr.KindProtocolFraming, "unexpected OBD response 0x%X over UDS link", respFrame)
	}
	return respFrame[2:], nil
}

// SendUDS implements scanner.AddressableLink: it reprograms the
// channel's flow-control filter to address before issuing request,
// since a single PassThru channel only has one active filter pair at a
// time (spec.md §4.9).
func (u *UDSLink) SendUDS(ctx context.Context, address uint16, request []byte, timeout time.Duration) ([]byte, error) {
	responseID := uint32(address) + 8
	if err := u.session.Filter(ctx, uint32(address), responseID); err != nil {
		return nil, fmt.Errorf("udslink: filter 0x%03X: %w", address, err)
	}
	return u.send(ctx, request, timeout)
}

// send segments request through ISO-TP, writes it, then reads and
// reassembles the response.
func (u *UDSLink) send(ctx context.Context, request []byte, timeout time.Duration) ([]byte, error) {
	timeoutMs := uint32(timeout / time.Millisecond)
	if err := u.writeSegmented(ctx, request, timeoutMs); err != nil {
		return nil, err
	}

	var reasm isotp.Reassembler
	for {
		pkt, err := u.session.ReadMsgsWithPendingExtension(ctx, 1, timeoutMs, isResponsePending)
		if err != nil {
			return nil, fmt.Errorf("udslink: read: %w", err)
		}
		if !pkt.Success() {
			return nil, vcierr.New(vcierr.KindProtocolFraming, "pass_thru_read_msgs reported failure")
		}
		payload, complete, ferr := reasm.Feed(pkt.Payload)
		if ferr != nil {
			return nil, fmt.Errorf("udslink: isotp reassembly: %w", ferr)
		}
		if complete {
			return payload, nil
		}
	}
}

// writeSegmented sends request as one or more ISO-TP frames, waiting for
// a flow-control frame before sending the consecutive frames of a
// multi-frame request (spec.md §4.5).
func (u *UDSLink) writeSegmented(ctx context.Context, request []byte, timeoutMs uint32) error {
	frames := isotp.Segment(request)
	if _, err := u.session.WriteMsgs(ctx, frames[0], timeoutMs); err != nil {
		return fmt.Errorf("udslink: write first frame: %w", err)
	}
	if len(frames) == 1 {
		return nil
	}

	for {
		fcPkt, err := u.session.ReadMsgs(ctx, 1, timeoutMs, time.Duration(timeoutMs)*time.Millisecond)
		if err != nil {
			return fmt.Errorf("udslink: flow control: %w", err)
		}
		if len(fcPkt.Payload) == 0 || fcPkt.Payload[0]>>4 != byte(isotp.FrameFlowControl) {
			return vcierr.New(vcierr.KindProtocolFraming, "expected ISO-TP flow control frame")
		}
		status := isotp.FlowStatus(fcPkt.Payload[0] & 0x0F)
		if status == isotp.FlowOverflow {
			return vcierr.New(vcierr.KindProtocolFraming, "ISO-TP flow control overflow")
		}
		if status != isotp.FlowWait {
			break
		}
	}

	for _, frame := range frames[1:] {
		if _, err := u.session.WriteMsgs(ctx, frame, timeoutMs); err != nil {
			return fmt.Errorf("udslink: write consecutive frame: %w", err)
		}
	}
	return nil
}

// isResponsePending reports whether pkt carries a single-frame UDS 0x78
// (requestCorrectlyReceived-ResponsePending) negative response, the only
// shape ReadMsgsWithPendingExtension should extend its wait for
// (spec.md §7). It decodes the ISO-TP PCI directly rather than
// consuming the link's Reassembler, since a 0x78 NRC always fits one
// frame.
func isResponsePending(pkt *autelpacket.Packet) bool {
	if !pkt.Success() || len(pkt.Payload) < 1 || pkt.Payload[0]>>4 != byte(isotp.FrameSingle) {
		return false
	}
	n := int(pkt.Payload[0] & 0x0F)
	if n < 3 || len(pkt.Payload) < 1+n {
		return false
	}
	resp, err := uds.ParseResponse(pkt.Payload[1 : 1+n])
	return err == nil && !resp.Positive && resp.NRC == uds.NRCResponsePending
}

// ExtendedSession issues UDS service 0x10 (DiagnosticSessionControl)
// sub-function 0x03 (extended diagnostic session), the prerequisite most
// modules require before SecurityAccess or ClearDiagnosticInformation
// will proceed (spec.md §4.4).
func (u *UDSLink) ExtendedSession(ctx context.Context, timeout time.Duration) error {
	const extendedDiagnosticSession = 0x03
	resp, err := u.request(ctx, uds.SIDDiagnosticSessionControl, bytePtr(extendedDiagnosticSession), timeout)
	if err != nil {
		return err
	}
	return resp.AsError()
}

// ReadDTCs issues UDS service 0x19 (ReadDTCInformation) sub-function
// 0x02 (reportDTCByStatusMask) for confirmed and pending codes, and
// decodes the result (spec.md §4.4, §4.8).
func (u *UDSLink) ReadDTCs(ctx context.Context, timeout time.Duration) ([]diagsession.DTC, error) {
	const statusMaskConfirmedAndPending = 0x0D
	resp, err := u.request(ctx, uds.SIDReadDTCInformation, bytePtr(uds.SubFnReportDTCByStatusMask), timeout, statusMaskConfirmedAndPending)
	if err != nil {
		return nil, err
	}
	if !resp.Positive {
		return nil, resp.AsError()
	}
	if len(resp.Data) < 1 {
		return nil, vcierr.New(vcierr.KindProtocolFraming, "ReadDTCInformation response missing sub-function echo")
	}
	return uds.ParseDTCInformation(resp.Data[1:]) // Data[0] echoes the sub-function byte
}

// ClearDTCs issues UDS service 0x14 (ClearDiagnosticInformation) across
// all DTC groups (spec.md §4.4).
func (u *UDSLink) ClearDTCs(ctx context.Context, timeout time.Duration) error {
	resp, err := u.request(ctx, uds.SIDClearDiagnosticInfo, nil, timeout, 0xFF, 0xFF, 0xFF)
	if err != nil {
		return err
	}
	return resp.AsError()
}

// Unlock drives UDS service 0x27 (SecurityAccess): request a seed,
// compute the key with keyFunc, and send it, recording failures against
// the link's SecurityBackoff on an invalid-key response (spec.md §4.4,
// §9).
func (u *UDSLink) Unlock(ctx context.Context, keyFunc uds.SecurityKeyFunc, timeout time.Duration) error {
	seedResp, err := u.request(ctx, uds.SIDSecurityAccess, bytePtr(uds.SubFnRequestSeed), timeout)
	if err != nil {
		return err
	}
	if !seedResp.Positive {
		return seedResp.AsError()
	}
	if len(seedResp.Data) < 2 {
		return vcierr.New(vcierr.KindProtocolFraming, "security access seed response too short")
	}
	seed := seedResp.Data[1:] // Data[0] echoes the sub-function byte

	key := keyFunc(seed)
	keyResp, err := u.request(ctx, uds.SIDSecurityAccess, bytePtr(uds.SubFnSendKey), timeout, key...)
	if err != nil {
		return err
	}
	if !keyResp.Positive {
		u.backoff.Fail()
		return keyResp.AsError()
	}
	u.backoff.Reset()
	return nil
}

// request builds, sends and parses one UDS request/response round trip.
func (u *UDSLink) request(ctx context.Context, sid byte, subFunction *byte, timeout time.Duration, params ...byte) (uds.Response, error) {
	respFrame, err := u.send(ctx, uds.BuildRequest(sid, subFunction, params...), timeout)
	if err != nil {
		return uds.Response{}, err
	}
	return uds.ParseResponse(respFrame)
}

func bytePtr(b byte) *byte { return &b }
