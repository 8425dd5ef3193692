// Package scanner implements the module address sweep of spec.md §4.9,
// grounded on the concurrency-capped sweep loop of
// _examples/snapetech-plexTuner/internal/sdtprobe/worker.go (semaphore +
// WaitGroup bounding concurrent probes, periodic progress reporting),
// adapted from probing IPTV stream URLs to probing UDS CAN addresses.
package scanner

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/opendiag/vcicore/internal/diagsession"
)

// Mode selects the address range a Scan probes (spec.md §4.9).
type Mode int

const (
	Quick Mode = iota
	Full
)

// quickAddresses and fullAddresses are the two ranges spec.md §4.9 names.
func addressesForMode(mode Mode) []uint16 {
	var lo, hi uint16
	switch mode {
	case Quick:
		lo, hi = 0x7E0, 0x7EF
	default:
		lo, hi = 0x700, 0x7FF
	}
	addrs := make([]uint16, 0, int(hi-lo)+1)
	for a := lo; a <= hi; a++ {
		addrs = append(addrs, a)
	}
	return addrs
}

// Progress is emitted after each address probe (spec.md §4.9).
type Progress struct {
	CurrentAddress uint16
	Scanned        int
	Total          int
	Found          int
	Message        string
	Complete       bool
}

// Prober is the per-address probe contract the scanner needs: send
// TesterPresent and, if the module answers, read its identification DIDs.
// Implementations wrap a vcisession.Session or an orchestrator.Link over
// the appropriate CAN addressing.
type Prober interface {
	// Probe returns (present, identification, error) for address. A
	// positive response, or a negative response with any NRC other than
	// "service not supported", counts as present; no response (timeout)
	// or a "service not supported" NRC returns present=false.
	Probe(ctx context.Context, address uint16) (present bool, ident diagsession.Identification, err error)
}

// Concurrency bounds how many addresses are probed in parallel, kept
// low because most VCI links are single-channel and heavy concurrency
// just serializes at the transport anyway.
const Concurrency = 4

// Scan sweeps addressesForMode(mode), reporting Progress on progressCh
// (buffered; callers that don't drain it miss intermediate updates but
// Scan never blocks on a full channel) and returning the discovered
// modules sorted first by ModuleCategory.Index then by address, per
// spec.md §4.9.
func Scan(ctx context.Context, mode Mode, prober Prober, progressCh chan<- Progress) ([]*diagsession.VehicleModule, error) {
	addrs := addressesForMode(mode)
	total := len(addrs)

	var (
		mu      sync.Mutex
		found   []*diagsession.VehicleModule
		scanned int
	)

	sem := make(chan struct{}, Concurrency)
	var wg sync.WaitGroup

	emit := func(p Progress) {
		select {
		case progressCh <- p:
		default:
		}
	}

	for _, addr := range addrs {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(address uint16) {
			defer wg.Done()
			defer func() { <-sem }()

			present, ident, err := prober.Probe(ctx, address)

			mu.Lock()
			scanned++
			if err == nil && present {
				m := diagsession.NewVehicleModule(address)
				m.Category = diagsession.CategoryForAddress(address)
				m.Identification = ident
				found = append(found, m)
			}
			snapshotFound := len(found)
			snapshotScanned := scanned
			mu.Unlock()

			msg := fmt.Sprintf("probed 0x%03X", address)
			if err != nil {
				msg = fmt.Sprintf("probed 0x%03X: %v", address, err)
			}
			emit(Progress{
				CurrentAddress: address,
				Scanned:        snapshotScanned,
				Total:          total,
				Found:          snapshotFound,
				Message:        msg,
			})
		}(addr)
	}
	wg.Wait()

	mu.Lock()
	result := found
	finalScanned := scanned
	mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Category.Index != result[j].Category.Index {
			return result[i].Category.Index < result[j].Category.Index
		}
		return result[i].Address < result[j].Address
	})

	emit(Progress{Scanned: finalScanned, Total: total, Found: len(result), Complete: true, Message: "scan complete"})

	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}
