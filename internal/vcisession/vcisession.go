// Package vcisession drives the Autel VCI connect sequence and the
// request/response correlation spec.md §4.7 and §5 describe: one
// in-flight command at a time, matched to its reply by
// (session_id, message_counter), with per-call timeouts and a drain on
// disconnect. Grounded on the accept/dispatch loop of
// _examples/snapetech-plexTuner/internal/hdhomerun/control.go, adapted
// from a server accepting requests to a client issuing them.
package vcisession

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/opendiag/vcicore/internal/autelpacket"
	"github.com/opendiag/vcicore/internal/transport"
	"github.com/opendiag/vcicore/internal/vcierr"
)

// Timeouts per spec.md §5.
const (
	DefaultTimeout  = 5 * time.Second
	VINTimeout      = 15 * time.Second
	ConnectTimeout  = 15 * time.Second
	responsePendingExtension = 5 * time.Second
	maxPendingExtensions     = 3
)

// ProtocolID values for pass_thru_open/connect (spec.md §6).
const (
	ProtocolJ1850VPW uint32 = 1
	ProtocolJ1850PWM uint32 = 2
	ProtocolISO9141  uint32 = 3
	ProtocolISO14230 uint32 = 4
	ProtocolCAN      uint32 = 5
	ProtocolISO15765 uint32 = 6
)

type correlationKey struct {
	sessionID uint32
	counter   uint32
}

// pendingCall is the bookkeeping for one in-flight request.
type pendingCall struct {
	resp chan *autelpacket.Packet
	err  chan error
}

// Session owns one Autel VCI conversation end to end: the transport, the
// outbound packet builder, and correlation of inbound frames to the
// request that caused them.
type Session struct {
	transport transport.Transport
	autel     *autelpacket.Session
	builder   *autelpacket.Builder

	sendMu sync.Mutex // serializes command issuance (spec.md §5)

	mu         sync.Mutex
	pending    map[correlationKey]*pendingCall
	closed     bool
	channelID  uint32

	// OutOfBand receives parsed packets that did not match any pending
	// request's correlation key (spec.md §4.7: "asynchronous errors ...
	// surfaced ... as out-of-band events").
	OutOfBand chan *autelpacket.Packet

	cancelRecv context.CancelFunc
	recvDone   chan struct{}
}

// New wraps t in a Session with a fresh autelpacket.Session (instance
// scoped per spec.md §9) and starts its receive-dispatch loop.
func New(t transport.Transport) *Session {
	autelSess := autelpacket.NewSession()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		transport:  t,
		autel:      autelSess,
		builder:    autelpacket.NewBuilder(autelSess),
		pending:    make(map[correlationKey]*pendingCall),
		OutOfBand:  make(chan *autelpacket.Packet, 16),
		cancelRecv: cancel,
		recvDone:   make(chan struct{}),
	}
	go s.receiveLoop(ctx)
	return s
}

func (s *Session) receiveLoop(ctx context.Context) {
	defer close(s.recvDone)
	for {
		frame, err := s.transport.Receive(ctx)
		if err != nil {
			s.drain(vcierr.New(vcierr.KindNotConnected, "transport closed: %v", err))
			return
		}
		pkt, _, err := autelpacket.Parse(frame)
		if err != nil {
			log.Printf("vcisession: dropping unparseable frame: %v", err)
			continue
		}
		key := correlationKey{sessionID: pkt.SessionID, counter: pkt.MessageCounter}
		s.mu.Lock()
		call, ok := s.pending[key]
		if ok {
			delete(s.pending, key)
		}
		s.mu.Unlock()
		if ok {
			call.resp <- pkt
			continue
		}
		select {
		case s.OutOfBand <- pkt:
		default:
			log.Printf("vcisession: out-of-band buffer full, dropping packet")
		}
	}
}

// drain fails every pending call with err, per spec.md §7's disconnect
// behavior ("drains the pending queue").
func (s *Session) drain(err error) {
	s.mu.Lock()
	s.closed = true
	calls := s.pending
	s.pending = make(map[correlationKey]*pendingCall)
	s.mu.Unlock()
	for _, c := range calls {
		c.err <- err
	}
}

// call sends frame and waits for the matching response, honoring ctx and
// timeout; the timeout bounds the send as well as the wait. It does not
// extend the wait on NRC 0x78 response-pending frames; that is
// ReadMsgsWithPendingExtension's job.
func (s *Session) call(ctx context.Context, frame []byte, timeout time.Duration) (*autelpacket.Packet, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, vcierr.New(vcierr.KindNotConnected, "session closed")
	}
	pkt, _, err := autelpacket.Parse(frame)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("vcisession: cannot self-parse outbound frame: %w", err)
	}
	key := correlationKey{sessionID: pkt.SessionID, counter: pkt.MessageCounter}
	pc := &pendingCall{resp: make(chan *autelpacket.Packet, 1), err: make(chan error, 1)}
	s.pending[key] = pc
	s.mu.Unlock()

	callCtx, cancelCall := context.WithTimeout(ctx, timeout)
	defer cancelCall()
	if err := s.transport.Send(callCtx, frame); err != nil {
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
		if ctx.Err() == nil && callCtx.Err() != nil {
			return nil, vcierr.New(vcierr.KindTimeout, "command timed out after %v", timeout)
		}
		return nil, vcierr.Wrap(vcierr.KindTransportIO, err, "send failed")
	}

	select {
	case resp := <-pc.resp:
		return resp, nil
	case err := <-pc.err:
		return nil, err
	case <-callCtx.Done():
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, vcierr.New(vcierr.KindTimeout, "command timed out after %v", timeout)
	}
}

// ReadMsgsWithPendingExtension reads a UDS response over the open
// channel, extending the read timeout by responsePendingExtension (up
// to maxPendingExtensions times) whenever the decoded UDS payload is a
// 0x78 response-pending negative response (spec.md §7). isPending
// decodes the raw diagnostic payload out of pkt and reports whether it
// is a 0x78 placeholder.
func (s *Session) ReadMsgsWithPendingExtension(ctx context.Context, numMsgs, timeoutMs uint32, isPending func(*autelpacket.Packet) bool) (*autelpacket.Packet, error) {
	timeout := DefaultTimeout
	for extensions := 0; ; extensions++ {
		pkt, err := s.ReadMsgs(ctx, numMsgs, timeoutMs, timeout)
		if err != nil {
			return nil, err
		}
		if !isPending(pkt) || extensions >= maxPendingExtensions {
			return pkt, nil
		}
		timeout = responsePendingExtension
	}
}

// Connect drives the identify/open/connect/filter sequence of spec.md
// §4.7.
func (s *Session) Connect(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	resp, err := s.call(connectCtx, s.builder.Identify(), ConnectTimeout)
	if err != nil {
		return fmt.Errorf("vcisession: identify failed: %w", err)
	}
	if !resp.Success() {
		return vcierr.New(vcierr.KindProtocolFraming, "identify did not report success")
	}

	if _, err := s.call(connectCtx, s.builder.GetVersion(), ConnectTimeout); err != nil {
		return fmt.Errorf("vcisession: get_version failed: %w", err)
	}

	openResp, err := s.call(connectCtx, s.builder.PassThruOpen(ProtocolISO15765), ConnectTimeout)
	if err != nil {
		return fmt.Errorf("vcisession: pass_thru_open failed: %w", err)
	}
	channelID, err := channelIDFromOpenResponse(openResp)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.channelID = channelID
	s.mu.Unlock()

	const defaultBaudrate = 500000
	if _, err := s.call(connectCtx, s.builder.PassThruConnect(channelID, ProtocolISO15765, 0, defaultBaudrate), ConnectTimeout); err != nil {
		return fmt.Errorf("vcisession: pass_thru_connect failed: %w", err)
	}

	mask := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	pattern := []byte{0x00, 0x00, 0x07, 0xDF}
	flow := []byte{0x00, 0x00, 0x07, 0xE8}
	if _, err := s.call(connectCtx, s.builder.PassThruStartMsgFilter(channelID, autelpacket.FilterFlowControl, mask, pattern, flow), ConnectTimeout); err != nil {
		return fmt.Errorf("vcisession: pass_thru_start_msg_filter failed: %w", err)
	}
	return nil
}

// channelIDFromOpenResponse extracts the PassThru channel handle the
// adapter assigned, carried as the first 4 payload bytes of a successful
// pass_thru_open response.
func channelIDFromOpenResponse(pkt *autelpacket.Packet) (uint32, error) {
	if !pkt.Success() || len(pkt.Payload) < 4 {
		return 0, vcierr.New(vcierr.KindProtocolFraming, "pass_thru_open response missing channel id")
	}
	return uint32(pkt.Payload[0]) | uint32(pkt.Payload[1])<<8 | uint32(pkt.Payload[2])<<16 | uint32(pkt.Payload[3])<<24, nil
}

// ChannelID returns the PassThru channel handle established by Connect.
func (s *Session) ChannelID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelID
}

// WriteMsgs sends diagnostic bytes over the open channel.
func (s *Session) WriteMsgs(ctx context.Context, data []byte, timeoutMs uint32) (*autelpacket.Packet, error) {
	return s.call(ctx, s.builder.PassThruWriteMsgs(s.ChannelID(), timeoutMs, data), DefaultTimeout)
}

// ReadMsgs reads up to numMsgs diagnostic messages from the open channel.
func (s *Session) ReadMsgs(ctx context.Context, numMsgs, timeoutMs uint32, timeout time.Duration) (*autelpacket.Packet, error) {
	return s.call(ctx, s.builder.PassThruReadMsgs(s.ChannelID(), numMsgs, timeoutMs), timeout)
}

// Filter reprograms the open channel's flow-control filter to a single
// request/response CAN ID pair, per spec.md §4.9 ("a real driver
// reprograms the filter's pattern/flow-control pair per address before
// each call"): a single PassThru channel only has one active filter, so
// addressing a different module means starting a new one.
func (s *Session) Filter(ctx context.Context, requestID, responseID uint32) error {
	mask := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	pattern := u32BE(requestID)
	flow := u32BE(responseID)
	_, err := s.call(ctx, s.builder.PassThruStartMsgFilter(s.ChannelID(), autelpacket.FilterFlowControl, mask, pattern, flow), DefaultTimeout)
	return err
}

func u32BE(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// Close tears down the PassThru channel and the transport, draining all
// pending calls with NotConnected.
func (s *Session) Close() error {
	s.mu.Lock()
	already := s.closed
	s.mu.Unlock()
	if !already {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
		s.call(ctx, s.builder.PassThruClose(s.ChannelID()), DefaultTimeout)
		cancel()
	}
	s.drain(vcierr.New(vcierr.KindNotConnected, "session closed"))
	s.cancelRecv()
	err := s.transport.Close()
	<-s.recvDone
	return err
}
