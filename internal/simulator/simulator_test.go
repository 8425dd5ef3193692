package simulator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/opendiag/vcicore/internal/diagsession"
	"github.com/opendiag/vcicore/internal/obd"
)

func sendAndRead(t *testing.T, s *Simulator, cmd string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Send(ctx, []byte(cmd)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	resp, err := s.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	return strings.TrimRight(string(resp), "\r>")
}

func TestInitSequenceAllOK(t *testing.T) {
	s := New(ProfileStandard, 1)
	for _, cmd := range obd.InitSequence[:len(obd.InitSequence)-1] {
		want := "OK"
		if cmd == "ATZ" { // reset answers with the adapter's ID banner
			want = "ELM327 v1.5"
		}
		resp := sendAndRead(t, s, cmd)
		if resp != want {
			t.Fatalf("%s: got %q, want %q", cmd, resp, want)
		}
	}
}

func TestIdleScenarioRPMNearIdleTarget(t *testing.T) {
	s := New(ProfileStandard, 1)
	s.SetScenario(Idle)
	// Warm up the ramp with a few ticks. The model closes 35% of the gap
	// to its target per second, starting from the Off state's 0 rpm, so
	// 5 x 500ms brings RPM to about 60% of the idle target.
	for i := 0; i < 5; i++ {
		sendAndRead(t, s, "010C")
		time.Sleep(500 * time.Millisecond)
	}
	resp := sendAndRead(t, s, "010C")
	_, _, data, err := obd.ParseResponse(resp)
	if err != nil {
		t.Fatalf("ParseResponse(%q): %v", resp, err)
	}
	v, err := obd.Decode(0x0C, data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v.Float < 400 || v.Float > 2000 {
		t.Fatalf("RPM %v not in plausible idle range", v.Float)
	}
}

func TestStoredDTCsRoundTrip(t *testing.T) {
	s := New(ProfileStandard, 1)
	s.InjectDTC("P0300", diagsession.DTCStatus{ConfirmedDTC: true})

	resp := sendAndRead(t, s, "0300")
	dtcs, err := diagsession.DecodeOBDDTCs(mustParseDTCData(t, resp))
	if err != nil {
		t.Fatalf("DecodeOBDDTCs: %v", err)
	}
	if len(dtcs) != 1 || dtcs[0].Code != "P0300" {
		t.Fatalf("got %+v", dtcs)
	}
}

func mustParseDTCData(t *testing.T, resp string) []byte {
	t.Helper()
	_, _, data, err := obd.ParseResponse(resp)
	if err != nil {
		t.Fatalf("ParseResponse(%q): %v", resp, err)
	}
	return data
}

func TestClearDTCsEmptiesStoredList(t *testing.T) {
	s := New(ProfileStandard, 1)
	s.InjectDTC("P0300", diagsession.DTCStatus{})
	sendAndRead(t, s, "0400")
	resp := sendAndRead(t, s, "0300")
	data := mustParseDTCData(t, resp)
	if len(data) != 1 || data[0] != 0x00 {
		t.Fatalf("expected empty DTC list after clear, got % X", data)
	}
}

func TestVINResponse(t *testing.T) {
	s := New(ProfileStandard, 1)
	resp := sendAndRead(t, s, "0902")
	data := mustParseDTCData(t, resp)
	if len(data) == 0 {
		t.Fatalf("empty VIN response")
	}
	if string(data[1:]) != ProfileStandard.VIN {
		t.Fatalf("got %q, want %q", string(data[1:]), ProfileStandard.VIN)
	}
}
