// Command vcidiag is a CLI front end for vcicore: connect to a vehicle
// (simulated or real), scan for modules, read/clear DTCs, and stream
// live data, matching the flat cmd/+flag layout of
// _examples/snapetech-plexTuner/cmd/plex-tuner/main.go and the
// subcommand dispatch of _examples/marmos91-dittofs/cmd/dittofs/main.go.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opendiag/vcicore/internal/config"
	"github.com/opendiag/vcicore/internal/metrics"
	"github.com/opendiag/vcicore/internal/moduledb"
	"github.com/opendiag/vcicore/internal/obd"
	"github.com/opendiag/vcicore/internal/orchestrator"
	"github.com/opendiag/vcicore/internal/scanner"
	"github.com/opendiag/vcicore/internal/simulator"
	"github.com/opendiag/vcicore/internal/transport"
	"github.com/opendiag/vcicore/internal/uds"
	"github.com/opendiag/vcicore/internal/vcierr"
	"github.com/opendiag/vcicore/internal/vcisession"
)

const usage = `vcidiag - vehicle diagnostics core CLI

Usage:
  vcidiag <command>

Commands:
  connect   Initialize a session against the configured transport
  scan      Sweep module addresses and print what responds
  dtc       Read and print stored + pending DTCs, then clear them
  stream    Stream live data (RPM, coolant temp, speed) at 10 Hz
  vin       Read the vehicle's VIN

All configuration is via VCICORE_* environment variables; see
internal/config/config.go.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	cmd := os.Args[1]

	if err := config.LoadEnvFile(".env"); err != nil {
		log.Printf("vcidiag: .env: %v", err)
	}
	cfg := config.Load()

	m := newRegistry(cfg)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sig
		log.Println("vcidiag: shutting down")
		cancel()
	}()

	t, err := dialTransport(cfg)
	if err != nil {
		log.Fatalf("vcidiag: transport: %v", err)
	}
	defer t.Close()

	if cfg.Transport == config.TransportAutel {
		runAutel(ctx, cfg, t, m, cmd)
		return
	}
	runELM327(ctx, cfg, t, m, cmd)
}

// newRegistry enables the optional Prometheus /metrics endpoint per
// VCICORE_METRICS_ENABLED.
func newRegistry(cfg *config.Config) *metrics.Metrics {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			log.Printf("vcidiag: metrics listening on %s", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Printf("vcidiag: metrics server: %v", err)
			}
		}()
	}
	return m
}

// dialTransport builds the transport.Transport named by cfg.Transport.
// The Autel and ELM327-serial kinds dial a TCP bridge at the configured
// address (the common shape for WiFi OBD adapters and the Autel VCI's
// network PassThru mode); a true USB-serial backend needs a
// platform-specific driver this corpus doesn't carry.
func dialTransport(cfg *config.Config) (transport.Transport, error) {
	switch cfg.Transport {
	case config.TransportSimulator:
		profile := simProfile(cfg.SimProfile)
		sim := simulator.New(profile, cfg.SimSeed)
		sim.SetScenario(simScenario(cfg.SimScenario))
		return sim, nil
	case config.TransportAutel:
		conn, err := net.DialTimeout("tcp", cfg.AutelPath, cfg.ConnectTimeout)
		if err != nil {
			return nil, fmt.Errorf("dial autel bridge %s: %w", cfg.AutelPath, err)
		}
		return transport.NewStreamTransport(conn, transport.NewAutelCodec()), nil
	case config.TransportELM327Serial:
		conn, err := net.DialTimeout("tcp", cfg.SerialPort, cfg.ConnectTimeout)
		if err != nil {
			return nil, fmt.Errorf("dial elm327 bridge %s: %w", cfg.SerialPort, err)
		}
		return transport.NewStreamTransport(conn, transport.NewELM327Codec()), nil
	default:
		return nil, fmt.Errorf("unknown VCICORE_TRANSPORT %q", cfg.Transport)
	}
}

func simProfile(name string) simulator.Profile {
	switch name {
	case "sports":
		return simulator.ProfileSports
	case "diesel":
		return simulator.ProfileDiesel
	default:
		return simulator.ProfileStandard
	}
}

func simScenario(name string) simulator.Scenario {
	switch name {
	case "off":
		return simulator.Off
	case "city":
		return simulator.City
	case "highway":
		return simulator.Highway
	case "aggressive":
		return simulator.Aggressive
	case "cold_start":
		return simulator.ColdStart
	case "engine_problem":
		return simulator.EngineProblem
	case "overheating":
		return simulator.Overheating
	default:
		return simulator.Idle
	}
}

// runTimed executes fn, recording its duration and outcome against m
// under kind, and exits the process on error (matching the previous
// per-command log.Fatalf behavior).
func runTimed(m *metrics.Metrics, kind string, fn func() error) {
	start := time.Now()
	err := fn()
	m.CommandDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if vcierr.Is(err, vcierr.KindTimeout) {
			m.TimeoutsTotal.WithLabelValues(kind).Inc()
		}
	}
	m.CommandsTotal.WithLabelValues(kind, outcome).Inc()
	if err != nil {
		log.Fatalf("vcidiag: %s: %v", kind, err)
	}
}

// runELM327 drives the ASCII AT-command path (simulator and real ELM327
// adapters).
func runELM327(ctx context.Context, cfg *config.Config, t transport.Transport, m *metrics.Metrics, cmd string) {
	link := orchestrator.NewELM327Link(t)
	orch := orchestrator.New(link)

	switch cmd {
	case "connect":
		runTimed(m, cmd, func() error {
			if err := orch.Initialize(ctx); err != nil {
				m.ConnectionState.Set(float64(orchestrator.StateError))
				return err
			}
			m.ConnectionState.Set(float64(orch.State()))
			fmt.Printf("connected, state=%d\n", orch.State())
			return nil
		})
	case "scan":
		runTimed(m, cmd, func() error { return runScan(cfg, m) })
	case "dtc":
		runTimed(m, cmd, func() error {
			if err := orch.Initialize(ctx); err != nil {
				return err
			}
			return runDTC(ctx, orch, m)
		})
	case "stream":
		runTimed(m, cmd, func() error {
			if err := orch.Initialize(ctx); err != nil {
				return err
			}
			return runStream(ctx, orch)
		})
	case "vin":
		runTimed(m, cmd, func() error {
			if err := orch.Initialize(ctx); err != nil {
				return err
			}
			return runVIN(ctx, orch)
		})
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// runAutel drives the UDS-over-Autel path: vcisession.Connect performs
// the identify/open/connect/filter handshake (the Autel analogue of
// ELM327's AT init sequence), then an orchestrator.UDSLink carries the
// rest of the command.
func runAutel(ctx context.Context, cfg *config.Config, t transport.Transport, m *metrics.Metrics, cmd string) {
	session := vcisession.New(t)
	defer session.Close()

	runTimed(m, cmd, func() error {
		connectCtx, cancel := context.WithTimeout(ctx, vcisession.ConnectTimeout)
		err := session.Connect(connectCtx)
		cancel()
		if err != nil {
			m.ConnectionState.Set(float64(orchestrator.StateError))
			return err
		}
		m.ConnectionState.Set(float64(orchestrator.StateReady))

		link := orchestrator.NewUDSLink(session)
		orch := orchestrator.New(link)

		switch cmd {
		case "connect":
			fmt.Printf("connected, channel=0x%X\n", session.ChannelID())
			return nil
		case "scan":
			return runScanAutel(ctx, session, cfg, m)
		case "dtc":
			return runDTCAutel(ctx, link, m)
		case "stream":
			return runStream(ctx, orch)
		case "vin":
			return runVIN(ctx, orch)
		default:
			fmt.Fprint(os.Stderr, usage)
			os.Exit(1)
			return nil
		}
	})
}

func runScan(cfg *config.Config, m *metrics.Metrics) error {
	db, err := moduledb.Open(cfg.ModuleDBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Seed(); err != nil {
		return err
	}
	fmt.Println("scan: module reference dictionary loaded; live address sweep requires")
	fmt.Println("VCICORE_TRANSPORT=autel (see vcidiag scan over the Autel path).")
	return nil
}

// runScanAutel sweeps CAN addresses over the open Autel channel via a
// scanner.UDSProber bound to the session's UDSLink (spec.md §4.9).
func runScanAutel(ctx context.Context, session *vcisession.Session, cfg *config.Config, m *metrics.Metrics) error {
	db, err := moduledb.Open(cfg.ModuleDBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Seed(); err != nil {
		return err
	}

	link := orchestrator.NewUDSLink(session)
	prober := &scanner.UDSProber{Link: link}
	mode := scanner.Quick
	if cfg.ScanMode == "full" {
		mode = scanner.Full
	}

	progressCh := make(chan scanner.Progress, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range progressCh {
			m.ScanAddressesScanned.Inc()
			m.ScanModulesFound.Set(float64(p.Found))
			if !p.Complete {
				fmt.Println(p.Message)
			}
		}
	}()

	modules, err := scanner.Scan(ctx, mode, prober, progressCh)
	close(progressCh)
	<-done
	if err != nil {
		return err
	}
	for _, mod := range modules {
		fmt.Printf("0x%03X %-18s %s\n", mod.Address, mod.Category.Name, mod.Identification.PartNumber)
	}
	return nil
}

func runDTC(ctx context.Context, orch *orchestrator.Orchestrator, m *metrics.Metrics) error {
	stored, err := orch.ReadStoredDTCs(ctx)
	if err != nil {
		return err
	}
	for _, d := range stored {
		m.DTCsFoundTotal.WithLabelValues("stored").Inc()
		fmt.Printf("stored: %s\n", d.Code)
	}
	pending, err := orch.ReadPendingDTCs(ctx)
	if err != nil {
		return err
	}
	for _, d := range pending {
		m.DTCsFoundTotal.WithLabelValues("pending").Inc()
		fmt.Printf("pending: %s\n", d.Code)
	}
	if len(stored) == 0 && len(pending) == 0 {
		fmt.Println("no DTCs present")
		return nil
	}
	if err := orch.ClearDTCs(ctx); err != nil {
		return err
	}
	fmt.Println("DTCs cleared")
	return nil
}

// runDTCAutel drives the genuine UDS DTC workflow over the Autel path:
// enter an extended session, unlock security access, read DTCs via
// service 0x19, then clear them via service 0x14 (spec.md §4.4).
func runDTCAutel(ctx context.Context, link *orchestrator.UDSLink, m *metrics.Metrics) error {
	if err := link.ExtendedSession(ctx, vcisession.DefaultTimeout); err != nil {
		return fmt.Errorf("extended session: %w", err)
	}
	if err := link.Unlock(ctx, uds.DefaultSecurityKeyFunc, vcisession.DefaultTimeout); err != nil {
		return fmt.Errorf("security access: %w", err)
	}

	dtcs, err := link.ReadDTCs(ctx, vcisession.DefaultTimeout)
	if err != nil {
		return fmt.Errorf("read DTC information: %w", err)
	}
	for _, d := range dtcs {
		m.DTCsFoundTotal.WithLabelValues("stored").Inc()
		fmt.Printf("stored: %s\n", d.Code)
	}
	if len(dtcs) == 0 {
		fmt.Println("no DTCs present")
		return nil
	}
	if err := link.ClearDTCs(ctx, vcisession.DefaultTimeout); err != nil {
		return fmt.Errorf("clear diagnostic information: %w", err)
	}
	fmt.Println("DTCs cleared")
	return nil
}

func runStream(ctx context.Context, orch *orchestrator.Orchestrator) error {
	streamCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	samples, err := orch.ReadLiveData(streamCtx, []byte{0x0C, 0x05, 0x0D})
	if err != nil {
		return err
	}
	for s := range samples {
		if s.Err != nil {
			fmt.Printf("%s: %v\n", s.Name, s.Err)
			continue
		}
		if s.Value.Kind == obd.KindInt {
			fmt.Printf("%s = %d %s\n", s.Name, s.Value.Int, s.Unit)
			continue
		}
		fmt.Printf("%s = %v %s\n", s.Name, s.Value.Float, s.Unit)
	}
	return nil
}

func runVIN(ctx context.Context, orch *orchestrator.Orchestrator) error {
	vin, err := orch.ReadVIN(ctx)
	if err != nil {
		return err
	}
	fmt.Println(vin)
	return nil
}
