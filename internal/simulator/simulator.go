package simulator

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/opendiag/vcicore/internal/diagsession"
	"github.com/opendiag/vcicore/internal/obd"
	"github.com/opendiag/vcicore/internal/transport"
)

// Simulator is a transport.Transport that answers the ELM327 ASCII
// dialect by evolving an internal vehicle state toward the current
// Scenario's targets (spec.md §4.10). It implements the same capability
// contract as a real adapter so the orchestrator "must not branch on
// transport identity" (spec.md §9).
type Simulator struct {
	mu         sync.Mutex
	profile    Profile
	scenario   Scenario
	st         state
	lastUpdate time.Time
	rng        *rand.Rand
	dtcs       []diagsession.DTC
	spaces     bool

	recvCh  chan []byte
	stateCh chan transport.State
	closed  bool
}

// New returns a Simulator seeded with profile, initially in the Off
// scenario with no stored DTCs.
func New(profile Profile, seed int64) *Simulator {
	s := &Simulator{
		profile:    profile,
		scenario:   Off,
		st:         targets(Off, profile),
		lastUpdate: time.Time{},
		rng:        rand.New(rand.NewSource(seed)),
		recvCh:     make(chan []byte, 16),
		stateCh:    make(chan transport.State, 4),
	}
	s.stateCh <- transport.Connecting
	s.stateCh <- transport.Connected
	return s
}

// SetScenario changes the target state the model ramps toward.
func (s *Simulator) SetScenario(sc Scenario) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenario = sc
}

// InjectDTC adds a fault code to the simulated stored-DTC list, for
// exercising EngineProblem/Overheating scenarios in tests.
func (s *Simulator) InjectDTC(code string, status diagsession.DTCStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dtcs = append(s.dtcs, diagsession.DTC{Code: code, Status: &status})
}

func (s *Simulator) advanceLocked() {
	now := time.Now()
	if s.lastUpdate.IsZero() {
		s.lastUpdate = now
		return
	}
	elapsed := now.Sub(s.lastUpdate).Seconds()
	s.lastUpdate = now
	tgt := targets(s.scenario, s.profile)
	s.st = step(s.st, tgt, elapsed, s.rng)
}

func (s *Simulator) Send(ctx context.Context, frame []byte) error {
	line := strings.TrimRight(string(frame), "\r\n")
	resp := s.dispatch(line)
	select {
	case s.recvCh <- []byte(resp + "\r\r>"):
	default:
	}
	return nil
}

func (s *Simulator) Receive(ctx context.Context) ([]byte, error) {
	select {
	case f := <-s.recvCh:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Simulator) States() <-chan transport.State { return s.stateCh }

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stateCh)
	return nil
}

func (s *Simulator) dispatch(line string) string {
	if at, ok := obd.ParseATCommand(line); ok {
		return s.handleAT(at)
	}
	req, err := obd.ParseRequest(line)
	if err != nil {
		return "?"
	}
	s.mu.Lock()
	s.advanceLocked()
	defer s.mu.Unlock()
	return s.handleOBD(req)
}

func (s *Simulator) handleAT(at obd.ATCommand) string {
	switch at.Name {
	case "ATZ":
		return "ELM327 v1.5"
	case "ATI":
		return "ELM327 v1.5"
	case "ATE":
		return "OK"
	case "ATL":
		return "OK"
	case "ATH":
		return "OK"
	case "ATSP":
		return "OK"
	case "ATS":
		s.mu.Lock()
		s.spaces = at.Arg != "0"
		s.mu.Unlock()
		return "OK"
	case "ATRV":
		s.mu.Lock()
		v := s.st.BatteryV
		s.mu.Unlock()
		return fmt.Sprintf("%.1fV", v)
	case "ATDP":
		return "ISO 15765-4 (CAN 11/500)"
	case "ATDPN":
		return "6"
	case "ATST", "ATAT":
		return "OK"
	default:
		return "OK"
	}
}

func (s *Simulator) handleOBD(req obd.Request) string {
	switch req.Mode {
	case 0x01:
		return s.mode01(req.PID)
	case 0x03:
		return s.formatDTCResponse(0x03, s.dtcs)
	case 0x04:
		s.dtcs = nil
		return obd.FormatResponse(0x04, 0x00, nil, s.spaces)
	case 0x07:
		return s.formatDTCResponse(0x07, nil)
	case 0x09:
		if req.PID == 0x02 {
			vin := s.profile.VIN
			data := append([]byte{byte(len(vin))}, []byte(vin)...)
			return obd.FormatResponse(0x09, 0x02, data, s.spaces)
		}
		return "NO DATA"
	default:
		return "NO DATA"
	}
}

func (s *Simulator) mode01(pid byte) string {
	switch pid {
	case 0x00, 0x20, 0x40, 0x60:
		// Advertise support for every PID this model can answer; the last
		// bit of a bitmap flags the next range's bitmap PID as supported.
		bitmaps := map[byte][4]byte{
			0x00: {0x9E, 0x3B, 0x80, 0x01}, // 01, 04-07, 0B-0D, 0F-11, 20
			0x20: {0x00, 0x02, 0x00, 0x01}, // 2F, 40
			0x40: {0x44, 0x00, 0x00, 0x10}, // 42, 46, 5C
		}
		bitmap := bitmaps[pid]
		return obd.FormatResponse(0x01, pid, bitmap[:], s.spaces)
	case 0x01:
		mil := byte(0)
		if len(s.dtcs) > 0 {
			mil = 0x80
		}
		b0 := mil | byte(len(s.dtcs)&0x7F)
		return obd.FormatResponse(0x01, pid, []byte{b0, 0x07, 0x65, 0x04}, s.spaces)
	case 0x04:
		load := clamp(s.st.RPM/s.profile.RedlineRPM*255, 0, 255)
		return obd.FormatResponse(0x01, pid, []byte{byte(load)}, s.spaces)
	case 0x05:
		return obd.FormatResponse(0x01, pid, []byte{byte(clamp(s.st.CoolantC+40, 0, 255))}, s.spaces)
	case 0x06:
		return obd.FormatResponse(0x01, pid, []byte{byte(clamp(s.st.FuelTrimSPct*128/100+128, 0, 255))}, s.spaces)
	case 0x07:
		return obd.FormatResponse(0x01, pid, []byte{byte(clamp(s.st.FuelTrimLPct*128/100+128, 0, 255))}, s.spaces)
	case 0x0B:
		return obd.FormatResponse(0x01, pid, []byte{byte(clamp(s.st.MAFgs*3, 0, 255))}, s.spaces)
	case 0x0C:
		enc := obd.EncodeRPM(s.st.RPM)
		return obd.FormatResponse(0x01, pid, enc[:], s.spaces)
	case 0x0D:
		return obd.FormatResponse(0x01, pid, []byte{byte(clamp(s.st.SpeedKPH, 0, 255))}, s.spaces)
	case 0x0F:
		return obd.FormatResponse(0x01, pid, []byte{byte(clamp(s.st.IntakeC+40, 0, 255))}, s.spaces)
	case 0x10:
		v := uint16(clamp(s.st.MAFgs*100, 0, 65535))
		return obd.FormatResponse(0x01, pid, []byte{byte(v >> 8), byte(v)}, s.spaces)
	case 0x11:
		return obd.FormatResponse(0x01, pid, []byte{byte(clamp(s.st.RPM/s.profile.RedlineRPM*255, 0, 255))}, s.spaces)
	case 0x2F:
		return obd.FormatResponse(0x01, pid, []byte{byte(clamp(s.st.FuelLevelPct*255/100, 0, 255))}, s.spaces)
	case 0x42:
		v := uint16(clamp(s.st.BatteryV*1000, 0, 65535))
		return obd.FormatResponse(0x01, pid, []byte{byte(v >> 8), byte(v)}, s.spaces)
	case 0x46:
		return obd.FormatResponse(0x01, pid, []byte{byte(clamp(s.st.AmbientC+40, 0, 255))}, s.spaces)
	case 0x5C:
		return obd.FormatResponse(0x01, pid, []byte{byte(clamp(s.st.OilC+40, 0, 255))}, s.spaces)
	default:
		return "NO DATA"
	}
}

// formatDTCResponse renders dtcs for mode (03 stored / 07 pending) as an
// ELM327 response: a count byte followed by 2-byte codewords per DTC,
// matching the seed scenario in spec.md §8 test 4.
func (s *Simulator) formatDTCResponse(mode byte, dtcs []diagsession.DTC) string {
	if len(dtcs) == 0 {
		return obd.FormatResponse(mode, 0x00, []byte{0x00}, s.spaces)
	}
	data := []byte{byte(len(dtcs))}
	for _, d := range dtcs {
		hi, lo, err := diagsession.EncodeDTC(d.Code)
		if err != nil {
			continue
		}
		data = append(data, hi, lo)
	}
	return obd.FormatResponse(mode, 0x00, data, s.spaces)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
