package diagsession

import "time"

// ModuleCategory classifies a VehicleModule for the scanner's result
// ordering (spec.md §4.9: "first by ModuleCategory.index then by numeric
// address"). Supplements spec.md's bare VehicleModule description per
// SPEC_FULL.md §D.
type ModuleCategory struct {
	Name  string
	Index int
}

var (
	CategoryEngine       = ModuleCategory{Name: "Engine", Index: 0}
	CategoryTransmission = ModuleCategory{Name: "Transmission", Index: 1}
	CategoryABS          = ModuleCategory{Name: "ABS", Index: 2}
	CategoryAirbag       = ModuleCategory{Name: "Airbag", Index: 3}
	CategoryBodyControl  = ModuleCategory{Name: "Body Control", Index: 4}
	CategoryInstrument   = ModuleCategory{Name: "Instrument Cluster", Index: 5}
	CategoryClimate      = ModuleCategory{Name: "Climate Control", Index: 6}
	CategoryUnknown      = ModuleCategory{Name: "Unknown", Index: 99}
)

// Identification holds the DIDs the scanner reads from a present module
// (spec.md §4.9: F194 app SW id, F18C ECU serial, F187 part number).
type Identification struct {
	SoftwareVersion string
	HardwareVersion string
	SerialNumber    string
	PartNumber      string
}

// VehicleModule is an ECU discovered at a CAN address (spec.md §3).
type VehicleModule struct {
	Address         uint16 // 11-bit CAN address, typically 0x700-0x7FF
	ResponseAddress uint16 // defaults to Address + 8
	Category        ModuleCategory
	Identification  Identification
	DTCs            []DTC
	SupportedFuncs  []byte // UDS SIDs this module answered positively to
	SecurityUnlocked bool
	CurrentSession  byte // UDS diagnostic session type (0x01 default, 0x03 extended, ...)
}

// NewVehicleModule returns a module at address with the default response
// address convention (address + 8) and Unknown category.
func NewVehicleModule(address uint16) *VehicleModule {
	return &VehicleModule{
		Address:         address,
		ResponseAddress: address + 8,
		Category:        CategoryUnknown,
		CurrentSession:  0x01,
	}
}

// CategoryForAddress classifies address into a ModuleCategory using the
// coarse address-range convention common to aftermarket scan tools. Real
// deployments override this from internal/moduledb's reference table;
// this is the fallback when no entry is found there.
func CategoryForAddress(address uint16) ModuleCategory {
	switch {
	case address == 0x7E0 || address == 0x7E8:
		return CategoryEngine
	case address == 0x7E1 || address == 0x7E9:
		return CategoryTransmission
	case address == 0x7E2 || address == 0x7EA:
		return CategoryABS
	case address == 0x7E3 || address == 0x7EB:
		return CategoryAirbag
	case address == 0x7E4 || address == 0x7EC:
		return CategoryBodyControl
	case address == 0x7E5 || address == 0x7ED:
		return CategoryInstrument
	case address == 0x7E6 || address == 0x7EE:
		return CategoryClimate
	default:
		return CategoryUnknown
	}
}

// ReadinessMonitors is a per-session snapshot, kept as raw booleans here
// rather than as an obd.ReadinessReport; no code in this module fills it
// from an obd.ReadinessReport.
type ReadinessMonitors struct {
	MIL      bool
	DTCCount int
	Monitors map[string]bool // monitor name -> ready
}

// DiagnosticSession is the immutable-after-end record of one diagnostic
// encounter with a vehicle (spec.md §3).
type DiagnosticSession struct {
	ID        string
	Start     time.Time
	End       *time.Time
	VIN       string
	DTCs      []DTC
	Readings  map[string]obdReading
	Readiness *ReadinessMonitors
}

// obdReading is a single named PID snapshot taken during the session.
type obdReading struct {
	PID       byte
	Name      string
	Value     float64
	Unit      string
	Timestamp time.Time
}

// NewReading constructs an obdReading, the unexported value type stored in
// DiagnosticSession.Readings. The Readings map itself is an exported field
// and stays writable after End.
func NewReading(pid byte, name string, value float64, unit string, at time.Time) obdReading {
	return obdReading{PID: pid, Name: name, Value: value, Unit: unit, Timestamp: at}
}

// AddReading appends a reading. Returns an error if the session has ended.
func (s *DiagnosticSession) AddReading(r obdReading) error {
	if s.End != nil {
		return errSessionEnded
	}
	if s.Readings == nil {
		s.Readings = make(map[string]obdReading)
	}
	s.Readings[r.Name] = r
	return nil
}

// Finish marks the session ended at t. Calling it twice is a no-op.
func (s *DiagnosticSession) Finish(t time.Time) {
	if s.End != nil {
		return
	}
	s.End = &t
}

var errSessionEnded = sessionEndedError{}

type sessionEndedError struct{}

func (sessionEndedError) Error() string { return "diagsession: session has ended" }
