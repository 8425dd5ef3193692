// Package obd implements the ELM327 ASCII dialect and Mode 01/03/04/07/09
// PID decode formulas described in spec.md §4.3, grounded on the
// mode/PID request-response conventions used in
// other_examples/2fbbfa91_anodyne74-iload-obd2__main.go.go (response
// byte-count prefix, `mode|0x40` echo) generalized from CAN frames to the
// ELM327 ASCII wire.
package obd

import "fmt"

// ValueKind tags the decoded PID value's dynamic type, per spec.md §9's
// guidance to replace the source's value union with a statically-tagged
// variant.
type ValueKind int

const (
	KindInt ValueKind = iota
	KindFloat
	KindString
	KindBytes
)

// Value is a decoded PID reading. Exactly one of the typed accessors is
// meaningful, selected by Kind — the decode formula determines the tag
// statically per PID.
type Value struct {
	Kind  ValueKind
	Int   int64
	Float float64
	Str   string
	Bytes []byte
}

// PID identifies a Mode 01 parameter.
type PID struct {
	Code    byte
	Name    string
	Unit    string
	MinLen  int // minimum data bytes (A, [B, ...]) required to decode
	Decode  func(data []byte) Value
}

// Table is the fixed closed set of Mode 01 PIDs this core decodes
// (spec.md §4.3).
var Table = map[byte]*PID{
	0x04: {Code: 0x04, Name: "Engine load", Unit: "%", MinLen: 1, Decode: func(d []byte) Value {
		return Value{Kind: KindFloat, Float: float64(d[0]) * 100 / 255}
	}},
	0x05: {Code: 0x05, Name: "Coolant temp", Unit: "°C", MinLen: 1, Decode: func(d []byte) Value {
		return Value{Kind: KindInt, Int: int64(d[0]) - 40}
	}},
	0x06: {Code: 0x06, Name: "Short fuel trim bank 1", Unit: "%", MinLen: 1, Decode: fuelTrim},
	0x07: {Code: 0x07, Name: "Long fuel trim bank 1", Unit: "%", MinLen: 1, Decode: fuelTrim},
	0x0B: {Code: 0x0B, Name: "Intake MAP", Unit: "kPa", MinLen: 1, Decode: func(d []byte) Value {
		return Value{Kind: KindInt, Int: int64(d[0])}
	}},
	0x0C: {Code: 0x0C, Name: "Engine RPM", Unit: "rpm", MinLen: 2, Decode: func(d []byte) Value {
		return Value{Kind: KindFloat, Float: float64(256*int(d[0])+int(d[1])) / 4}
	}},
	0x0D: {Code: 0x0D, Name: "Vehicle speed", Unit: "km/h", MinLen: 1, Decode: func(d []byte) Value {
		return Value{Kind: KindInt, Int: int64(d[0])}
	}},
	0x0E: {Code: 0x0E, Name: "Timing advance", Unit: "°", MinLen: 1, Decode: func(d []byte) Value {
		return Value{Kind: KindFloat, Float: float64(d[0])/2 - 64}
	}},
	0x0F: {Code: 0x0F, Name: "Intake air temp", Unit: "°C", MinLen: 1, Decode: func(d []byte) Value {
		return Value{Kind: KindInt, Int: int64(d[0]) - 40}
	}},
	0x10: {Code: 0x10, Name: "MAF air flow", Unit: "g/s", MinLen: 2, Decode: func(d []byte) Value {
		return Value{Kind: KindFloat, Float: float64(256*int(d[0])+int(d[1])) / 100}
	}},
	0x11: {Code: 0x11, Name: "Throttle position", Unit: "%", MinLen: 1, Decode: func(d []byte) Value {
		return Value{Kind: KindFloat, Float: float64(d[0]) * 100 / 255}
	}},
	0x1F: {Code: 0x1F, Name: "Runtime since engine start", Unit: "s", MinLen: 2, Decode: func(d []byte) Value {
		return Value{Kind: KindInt, Int: int64(256*int(d[0]) + int(d[1]))}
	}},
	0x2F: {Code: 0x2F, Name: "Fuel level", Unit: "%", MinLen: 1, Decode: func(d []byte) Value {
		return Value{Kind: KindFloat, Float: float64(d[0]) * 100 / 255}
	}},
	0x42: {Code: 0x42, Name: "Control module voltage", Unit: "V", MinLen: 2, Decode: func(d []byte) Value {
		return Value{Kind: KindFloat, Float: float64(256*int(d[0])+int(d[1])) / 1000}
	}},
	0x46: {Code: 0x46, Name: "Ambient air temp", Unit: "°C", MinLen: 1, Decode: func(d []byte) Value {
		return Value{Kind: KindInt, Int: int64(d[0]) - 40}
	}},
	0x5C: {Code: 0x5C, Name: "Engine oil temp", Unit: "°C", MinLen: 1, Decode: func(d []byte) Value {
		return Value{Kind: KindInt, Int: int64(d[0]) - 40}
	}},
	0x5E: {Code: 0x5E, Name: "Fuel rate", Unit: "L/h", MinLen: 2, Decode: func(d []byte) Value {
		return Value{Kind: KindFloat, Float: float64(256*int(d[0])+int(d[1])) / 20}
	}},
}

func fuelTrim(d []byte) Value {
	return Value{Kind: KindFloat, Float: float64(int(d[0])-128) * 100 / 128}
}

// Decode looks up pid in Table and decodes data, which must hold at least
// MinLen bytes.
func Decode(pid byte, data []byte) (Value, error) {
	p, ok := Table[pid]
	if !ok {
		return Value{}, fmt.Errorf("obd: unsupported PID 0x%02X", pid)
	}
	if len(data) < p.MinLen {
		return Value{}, fmt.Errorf("obd: PID 0x%02X needs %d data byte(s), got %d", pid, p.MinLen, len(data))
	}
	return p.Decode(data), nil
}

// EncodeRPM is the inverse of the 0x0C decode formula, used by §8's
// decode/encode bijectivity property and by the simulator to turn a
// target RPM into wire bytes.
func EncodeRPM(rpm float64) [2]byte {
	quarterRPM := uint16(rpm * 4)
	return [2]byte{byte(quarterRPM >> 8), byte(quarterRPM & 0xFF)}
}

// SupportedPIDsBitmap decodes a 4-byte Mode 01 supported-PIDs response
// (PIDs 0x00, 0x20, 0x40, 0x60) into the set of supported PID codes in
// [base+1, base+32], per spec.md §4.3.
func SupportedPIDsBitmap(base byte, data [4]byte) []byte {
	var supported []byte
	bitmap := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	for i := 0; i < 32; i++ {
		if bitmap&(1<<(31-i)) != 0 {
			supported = append(supported, base+byte(i)+1)
		}
	}
	return supported
}

// MonitorStatus decodes Mode 01 PID 0x01's first byte into MIL state and
// DTC count, per spec.md §4.3.
type MonitorStatus struct {
	MIL      bool
	DTCCount int
}

func DecodeMonitorStatus(b0 byte) MonitorStatus {
	return MonitorStatus{
		MIL:      b0&0x80 != 0,
		DTCCount: int(b0 & 0x7F),
	}
}

// ReadinessReport is a structured decode of the Mode 01 PID 0x01
// readiness-monitor bytes, supplementing the raw byte-level description in
// spec.md §4.3 with named accessors (SPEC_FULL.md §E).
type ReadinessReport struct {
	CompressionIgnition bool // byte 2 bit 3 selects spark- vs compression-ignition monitor set
	MIL                 bool
	DTCCount            int

	// Continuously-monitored components (always applicable).
	MisfireSupported, MisfireReady           bool
	FuelSystemSupported, FuelSystemReady     bool
	ComponentsSupported, ComponentsReady     bool

	// Non-continuous monitors, meaning depends on CompressionIgnition.
	CatalystSupported, CatalystReady         bool
	HeatedCatalystSupported, HeatedCatalystReady bool
	EvapSupported, EvapReady                 bool
	SecondaryAirSupported, SecondaryAirReady bool
	O2SensorSupported, O2SensorReady         bool
	O2HeaterSupported, O2HeaterReady         bool
	EGRSupported, EGRReady                   bool
}

// DecodeReadiness decodes the 4-byte Mode 01 PID 0x01 response (the first
// byte carries MIL + DTC count, the remaining 3 bytes carry readiness
// monitor bits) into a ReadinessReport.
func DecodeReadiness(data [4]byte) ReadinessReport {
	ms := DecodeMonitorStatus(data[0])
	b2, b3, b4 := data[1], data[2], data[3]
	ci := b2&0x08 != 0

	r := ReadinessReport{
		CompressionIgnition: ci,
		MIL:                 ms.MIL,
		DTCCount:             ms.DTCCount,

		MisfireSupported:    b2&0x01 != 0,
		MisfireReady:        b3&0x01 == 0 && b2&0x01 != 0,
		FuelSystemSupported: b2&0x02 != 0,
		FuelSystemReady:     b3&0x02 == 0 && b2&0x02 != 0,
		ComponentsSupported: b2&0x04 != 0,
		ComponentsReady:     b3&0x04 == 0 && b2&0x04 != 0,
	}

	if ci {
		r.EGRSupported = b4&0x80 != 0
		r.EGRReady = b4&0x08 == 0 && r.EGRSupported
		// Compression-ignition specific monitors beyond EGR (PM filter,
		// boost pressure, NOx/SCR, exhaust gas sensor) are not decoded
		// individually: spec.md's Mode 01 PID table does not name them,
		// and this core targets spark-ignition diagnostics primarily.
	} else {
		r.CatalystSupported = b4&0x01 != 0
		r.CatalystReady = b3&0x01 == 0 && r.CatalystSupported
		r.HeatedCatalystSupported = b4&0x02 != 0
		r.HeatedCatalystReady = b3&0x02 == 0 && r.HeatedCatalystSupported
		r.EvapSupported = b4&0x04 != 0
		r.EvapReady = b3&0x04 == 0 && r.EvapSupported
		r.SecondaryAirSupported = b4&0x08 != 0
		r.SecondaryAirReady = b3&0x08 == 0 && r.SecondaryAirSupported
		r.O2SensorSupported = b4&0x20 != 0
		r.O2SensorReady = b3&0x20 == 0 && r.O2SensorSupported
		r.O2HeaterSupported = b4&0x40 != 0
		r.O2HeaterReady = b3&0x40 == 0 && r.O2HeaterSupported
		r.EGRSupported = b4&0x80 != 0
		r.EGRReady = b3&0x80 == 0 && r.EGRSupported
	}
	return r
}
