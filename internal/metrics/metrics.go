// Package metrics defines the Prometheus collectors this core exposes:
// commands sent, timeouts, DTCs found, and scan progress. Grounded on
// the prometheus.*Vec field layout of
// _examples/marmos91-dittofs/internal/adapter/nlm/metrics.go, repurposed
// from NFS lock-manager RPC counters to VCI command counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks vcicore-specific Prometheus metrics. All metrics use
// the vcicore_ prefix.
type Metrics struct {
	CommandsTotal    *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	TimeoutsTotal    *prometheus.CounterVec
	DTCsFoundTotal   *prometheus.CounterVec
	ScanAddressesScanned prometheus.Counter
	ScanModulesFound     prometheus.Gauge
	ConnectionState      prometheus.Gauge
}

// New creates vcicore metrics and registers them against reg (typically
// prometheus.DefaultRegisterer). Panics if registration fails, which can
// only happen from a duplicate-name bug at init time.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vcicore_commands_total",
				Help: "Total diagnostic/VCI commands sent, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vcicore_command_duration_seconds",
				Help:    "Command round-trip duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		TimeoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vcicore_timeouts_total",
				Help: "Total commands that timed out, by kind",
			},
			[]string{"kind"},
		),
		DTCsFoundTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vcicore_dtcs_found_total",
				Help: "Total DTCs observed, by status (stored/pending)",
			},
			[]string{"status"},
		),
		ScanAddressesScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vcicore_scan_addresses_scanned_total",
			Help: "Total CAN addresses probed across all scans",
		}),
		ScanModulesFound: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vcicore_scan_modules_found",
			Help: "Modules found by the most recent scan",
		}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vcicore_connection_state",
			Help: "Current diagnostic session state (0=Idle, 1=Initializing, 2=Ready, 3=Error)",
		}),
	}
	reg.MustRegister(
		m.CommandsTotal, m.CommandDuration, m.TimeoutsTotal, m.DTCsFoundTotal,
		m.ScanAddressesScanned, m.ScanModulesFound, m.ConnectionState,
	)
	return m
}
