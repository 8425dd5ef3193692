// Package orchestrator implements the diagnostic session operations of
// spec.md §4.8: ELM327 initialization, round-robin live-data streaming,
// DTC read/clear, readiness monitors and VIN read. Grounded on the
// command/response loop of
// _examples/snapetech-plexTuner/internal/hdhomerun/control.go, adapted
// from a server dispatching requests to a client issuing ASCII commands.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/opendiag/vcicore/internal/obd"
	"github.com/opendiag/vcicore/internal/transport"
	"github.com/opendiag/vcicore/internal/vcierr"
)

// Link is the narrow command/response contract the orchestrator needs
// from whatever is underneath it: an ELM327 adapter (ELM327Link) or a
// UDS-over-Autel channel (UDSLink, which translates through internal/uds
// and internal/isotp).
type Link interface {
	// Send issues one ASCII command line and returns its response text,
	// with the trailing prompt/CRLF terminator stripped.
	Send(ctx context.Context, line string, timeout time.Duration) (string, error)
}

// ELM327Link drives a transport.Transport framed with
// transport.ELM327Codec, serializing one command at a time per spec.md
// §5 ("single logical command per session at a time").
type ELM327Link struct {
	t  transport.Transport
	mu sync.Mutex
}

// NewELM327Link wraps t, which must already be using an ELM327Codec.
func NewELM327Link(t transport.Transport) *ELM327Link {
	return &ELM327Link{t: t}
}

func (l *ELM327Link) Send(ctx context.Context, line string, timeout time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := l.t.Send(sendCtx, []byte(line+"\r")); err != nil {
		return "", vcierr.Wrap(vcierr.KindTransportIO, err, "send %q failed", line)
	}
	raw, err := l.t.Receive(sendCtx)
	if err != nil {
		if sendCtx.Err() != nil {
			return "", vcierr.New(vcierr.KindTimeout, "command %q timed out after %v", line, timeout)
		}
		return "", vcierr.Wrap(vcierr.KindTransportIO, err, "receive failed for %q", line)
	}
	text := strings.TrimRight(string(raw), "\r\n>")
	text = strings.TrimSpace(text)
	if strings.Contains(text, "NO DATA") || strings.Contains(text, "UNABLE TO CONNECT") {
		return "", nil
	}
	if strings.Contains(text, "BUS INIT") {
		return "", vcierr.New(vcierr.KindBus, "bus initialization error responding to %q", line)
	}
	return text, nil
}

// SendOBD issues a Mode+PID OBD-II request and parses a single positive
// response line, returning the raw data bytes after the mode|0x40 and PID
// echo (spec.md §4.3). An empty string response (NO DATA) yields a nil
// data slice and no error, per spec.md §7 ("NO DATA is returned ... as a
// first-class empty result, not an error").
func (l *ELM327Link) SendOBD(ctx context.Context, mode, pid byte, timeout time.Duration) ([]byte, error) {
	line := fmt.Sprintf("%02X%02X", mode, pid)
	resp, err := l.Send(ctx, line, timeout)
	if err != nil {
		return nil, err
	}
	if resp == "" {
		return nil, nil
	}
	// Multi-line responses (mode 03/07/09 with several frames) are
	// newline-joined by the adapter; concatenate all data bytes in order.
	var data []byte
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		_, _, d, perr := obd.ParseResponse(line)
		if perr != nil {
			continue
		}
		data = append(data, d...)
	}
	return data, nil
}
