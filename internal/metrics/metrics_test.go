package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersAndIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CommandsTotal.WithLabelValues("identify", "ok").Inc()
	m.TimeoutsTotal.WithLabelValues("read_vin").Inc()
	m.ScanAddressesScanned.Add(16)
	m.ScanModulesFound.Set(3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"vcicore_commands_total", "vcicore_timeouts_total", "vcicore_scan_addresses_scanned_total", "vcicore_scan_modules_found"} {
		if !names[want] {
			t.Fatalf("missing metric family %q in %v", want, names)
		}
	}
}
