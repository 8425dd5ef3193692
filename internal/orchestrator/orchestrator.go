package orchestrator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/opendiag/vcicore/internal/diagsession"
	"github.com/opendiag/vcicore/internal/obd"
	"github.com/opendiag/vcicore/internal/vcierr"
)

// Timeouts per spec.md §5.
const (
	DefaultTimeout = 5 * time.Second
	VINTimeout     = 15 * time.Second
	initStepDelay  = 500 * time.Millisecond
)

// liveDataRateHz is the total sample cadence §4.8 targets, shared across
// however many PIDs are subscribed.
const liveDataRateHz = 10

// State mirrors transport.State but names the orchestrator's own session
// lifecycle so callers don't need to import transport just to read it.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateReady
	StateError
)

// LiveSample is one round-robin PID reading (spec.md §4.8). Err is set,
// and Value left zero, when that PID's read timed out — the stream
// itself keeps running (spec.md: "on timeout of any PID, omit its
// sample").
type LiveSample struct {
	PID   byte
	Name  string
	Value obd.Value
	Unit  string
	Err   error
}

// Orchestrator drives one ELM327 diagnostic session end to end.
type Orchestrator struct {
	link  Link
	state State
}

// New returns an Orchestrator bound to link, initially Idle.
func New(link Link) *Orchestrator {
	return &Orchestrator{link: link, state: StateIdle}
}

func (o *Orchestrator) State() State { return o.state }

// Initialize runs the ELM327 init sequence of spec.md §4.8: ATZ (with a
// settle delay), ATE0, ATL0, ATS0, ATH0, ATSP0, then 0100 to trigger
// protocol autodetection. A failure at any step marks the session Error.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.state = StateInitializing
	for i, cmd := range obd.InitSequence {
		if _, err := o.link.Send(ctx, cmd, DefaultTimeout); err != nil {
			o.state = StateError
			return vcierr.Wrap(vcierr.KindBus, err, "init step %q failed", cmd)
		}
		if i == 0 { // ATZ — give the adapter time to reset
			select {
			case <-time.After(initStepDelay):
			case <-ctx.Done():
				o.state = StateError
				return ctx.Err()
			}
		}
	}
	o.state = StateReady
	return nil
}

// obdLink narrows Link to the SendOBD method the orchestrator needs for
// typed Mode/PID requests; asserted at each call site rather than
// widening the Link interface. ELM327Link and UDSLink each implement
// SendOBD in their own way.
type obdLink interface {
	SendOBD(ctx context.Context, mode, pid byte, timeout time.Duration) ([]byte, error)
}

func (o *Orchestrator) sendOBD(ctx context.Context, mode, pid byte, timeout time.Duration) ([]byte, error) {
	ol, ok := o.link.(obdLink)
	if !ok {
		return nil, fmt.Errorf("orchestrator: link does not support typed OBD requests")
	}
	return ol.SendOBD(ctx, mode, pid, timeout)
}

// ReadLiveData starts a round-robin stream over pids at a combined cadence
// of liveDataRateHz samples/second. The returned channel is closed when
// ctx is canceled.
func (o *Orchestrator) ReadLiveData(ctx context.Context, pids []byte) (<-chan LiveSample, error) {
	if len(pids) == 0 {
		return nil, fmt.Errorf("orchestrator: ReadLiveData requires at least one PID")
	}
	out := make(chan LiveSample, len(pids))
	limiter := rate.NewLimiter(rate.Limit(liveDataRateHz), 1)

	go func() {
		defer close(out)
		i := 0
		for {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			pid := pids[i%len(pids)]
			i++

			sample := LiveSample{PID: pid}
			if p, ok := obd.Table[pid]; ok {
				sample.Name = p.Name
				sample.Unit = p.Unit
			}
			data, err := o.sendOBD(ctx, 0x01, pid, DefaultTimeout)
			if err != nil {
				sample.Err = err
			} else if data == nil {
				sample.Err = vcierr.New(vcierr.KindTimeout, "PID 0x%02X: no data", pid)
			} else {
				v, decErr := obd.Decode(pid, data)
				if decErr != nil {
					sample.Err = decErr
				} else {
					sample.Value = v
				}
			}

			select {
			case out <- sample:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ReadStoredDTCs issues Mode 03 (stored DTCs).
func (o *Orchestrator) ReadStoredDTCs(ctx context.Context) ([]diagsession.DTC, error) {
	return o.readDTCMode(ctx, 0x03)
}

// ReadPendingDTCs issues Mode 07 (pending DTCs).
func (o *Orchestrator) ReadPendingDTCs(ctx context.Context) ([]diagsession.DTC, error) {
	return o.readDTCMode(ctx, 0x07)
}

func (o *Orchestrator) readDTCMode(ctx context.Context, mode byte) ([]diagsession.DTC, error) {
	data, err := o.sendOBD(ctx, mode, 0x00, DefaultTimeout)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	return diagsession.DecodeOBDDTCs(data)
}

// ClearDTCs issues Mode 04 (clear codes and stored values).
func (o *Orchestrator) ClearDTCs(ctx context.Context) error {
	_, err := o.sendOBD(ctx, 0x04, 0x00, DefaultTimeout)
	return err
}

// ReadReadinessMonitors issues Mode 01 PID 01 and decodes it into a
// ReadinessReport.
func (o *Orchestrator) ReadReadinessMonitors(ctx context.Context) (obd.ReadinessReport, error) {
	data, err := o.sendOBD(ctx, 0x01, 0x01, DefaultTimeout)
	if err != nil {
		return obd.ReadinessReport{}, err
	}
	if len(data) < 4 {
		return obd.ReadinessReport{}, vcierr.New(vcierr.KindProtocolFraming, "readiness response too short: %d bytes", len(data))
	}
	var buf [4]byte
	copy(buf[:], data[:4])
	return obd.DecodeReadiness(buf), nil
}

// ReadVIN issues Mode 09 PID 02, which the adapter delivers as a
// multi-frame ISO-TP payload the ELM327 firmware has already reassembled
// into concatenated hex; the first returned byte is an ISO 9141 item
// count that precedes the ASCII VIN bytes.
func (o *Orchestrator) ReadVIN(ctx context.Context) (string, error) {
	data, err := o.sendOBD(ctx, 0x09, 0x02, VINTimeout)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", vcierr.New(vcierr.KindTimeout, "no VIN data received")
	}
	vin := data
	if len(vin) > 0 && vin[0] < 0x20 {
		vin = vin[1:] // drop the leading item-count byte, if present
	}
	return string(vin), nil
}
