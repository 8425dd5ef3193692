// Package diagsession holds the core data model shared by the protocol
// codecs and the orchestrator: DTCs, vehicle modules and the diagnostic
// session record itself (spec.md §3).
package diagsession

import "fmt"

// DTCPrefix is the letter selected by the top two bits of a DTC codeword,
// per ISO 15031-6.
type DTCPrefix byte

const (
	PrefixP DTCPrefix = 'P' // Powertrain
	PrefixC DTCPrefix = 'C' // Chassis
	PrefixB DTCPrefix = 'B' // Body
	PrefixU DTCPrefix = 'U' // Network/communication
)

// DTCStatus carries the 8 status flags a UDS DTC status byte encodes
// (spec.md §3). Bit layout follows ISO 14229-1 Table status mask: bit0
// testFailed, bit1 testFailedThisOperationCycle, bit2 pendingDTC,
// bit3 confirmedDTC, bit4 testNotCompletedSinceLastClear,
// bit5 testFailedSinceLastClear, bit6 testNotCompletedThisOperationCycle,
// bit7 warningIndicatorRequested.
type DTCStatus struct {
	TestFailed                        bool
	TestFailedThisOperationCycle      bool
	PendingDTC                        bool
	ConfirmedDTC                      bool
	TestNotCompletedSinceLastClear    bool
	TestFailedSinceLastClear          bool
	TestNotCompletedThisOperationCycle bool
	WarningIndicatorRequested         bool
}

// DecodeDTCStatus unpacks a UDS DTC status byte.
func DecodeDTCStatus(b byte) DTCStatus {
	return DTCStatus{
		TestFailed:                         b&0x01 != 0,
		TestFailedThisOperationCycle:       b&0x02 != 0,
		PendingDTC:                         b&0x04 != 0,
		ConfirmedDTC:                       b&0x08 != 0,
		TestNotCompletedSinceLastClear:     b&0x10 != 0,
		TestFailedSinceLastClear:           b&0x20 != 0,
		TestNotCompletedThisOperationCycle: b&0x40 != 0,
		WarningIndicatorRequested:          b&0x80 != 0,
	}
}

// Encode packs the status flags back into a single byte.
func (s DTCStatus) Encode() byte {
	var b byte
	if s.TestFailed {
		b |= 0x01
	}
	if s.TestFailedThisOperationCycle {
		b |= 0x02
	}
	if s.PendingDTC {
		b |= 0x04
	}
	if s.ConfirmedDTC {
		b |= 0x08
	}
	if s.TestNotCompletedSinceLastClear {
		b |= 0x10
	}
	if s.TestFailedSinceLastClear {
		b |= 0x20
	}
	if s.TestNotCompletedThisOperationCycle {
		b |= 0x40
	}
	if s.WarningIndicatorRequested {
		b |= 0x80
	}
	return b
}

// DTC is a decoded 5-character diagnostic trouble code.
type DTC struct {
	Code      string     // e.g. "P0300"
	Status    *DTCStatus // nil for OBD-II Mode 03/07 reads, which carry no status byte
	FaultType *byte      // UDS DTCLowByte (fault-type detail); nil for OBD-II 2-byte reads
}

var prefixFromBits = [4]DTCPrefix{PrefixP, PrefixC, PrefixB, PrefixU}
var bitsFromPrefix = map[DTCPrefix]byte{PrefixP: 0, PrefixC: 1, PrefixB: 2, PrefixU: 3}

// DecodeDTC decodes the two-byte DTC codeword per ISO 15031-6 (spec.md
// §3): bits 7..6 of the high byte select the prefix, bits 5..4 form digit
// 1, bits 3..0 form digit 2; the low byte splits into digits 3 and 4.
func DecodeDTC(hi, lo byte) string {
	prefix := prefixFromBits[hi>>6]
	d1 := (hi >> 4) & 0x03
	d2 := hi & 0x0F
	d3 := (lo >> 4) & 0x0F
	d4 := lo & 0x0F
	return fmt.Sprintf("%c%X%X%X%X", prefix, d1, d2, d3, d4)
}

// EncodeDTC is the inverse of DecodeDTC, used by the CRC/DTC round-trip
// property in spec.md §8: encode(decode(W)) == W for all 16-bit codewords.
func EncodeDTC(code string) (hi, lo byte, err error) {
	if len(code) != 5 {
		return 0, 0, fmt.Errorf("diagsession: DTC %q must be 5 characters", code)
	}
	prefix, ok := bitsFromPrefix[DTCPrefix(code[0])]
	if !ok {
		return 0, 0, fmt.Errorf("diagsession: DTC %q has unknown prefix %q", code, code[0:1])
	}
	digits := make([]byte, 4)
	for i := 0; i < 4; i++ {
		v, err := hexDigit(code[i+1])
		if err != nil {
			return 0, 0, fmt.Errorf("diagsession: DTC %q: %w", code, err)
		}
		digits[i] = v
	}
	hi = prefix<<6 | digits[0]<<4 | digits[1]
	lo = digits[2]<<4 | digits[3]
	return hi, lo, nil
}

func hexDigit(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex digit %q", c)
	}
}

// DecodeDTCs parses repeating [DTCHighByte|DTCMiddleByte|DTCLowByte|status]
// quartets, as UDS service 0x19 sub-function 0x02 responses carry them
// (spec.md §4.4), de-duplicating by the resulting 5-character code. The
// 5-character code is derived from the high and middle bytes using the
// same ISO 15031-6 bit layout as the 2-byte OBD-II form (spec.md §3); the
// low byte is an additional UDS fault-type detail, preserved in
// DTC.FaultType but not folded into Code.
//
// For OBD-II Mode 03/07 (2-byte codeword, no status byte), use
// DecodeOBDDTCs instead.
func DecodeDTCs(data []byte, withStatus bool) ([]DTC, error) {
	stride := 2
	if withStatus {
		stride = 4
	}
	if len(data)%stride != 0 {
		return nil, fmt.Errorf("diagsession: DTC payload length %d not a multiple of %d", len(data), stride)
	}
	seen := make(map[string]bool)
	var out []DTC
	for i := 0; i < len(data); i += stride {
		var code string
		d := DTC{}
		if withStatus {
			hi, mid, lo, status := data[i], data[i+1], data[i+2], data[i+3]
			code = DecodeDTC(hi, mid)
			ft := lo
			d.FaultType = &ft
			st := DecodeDTCStatus(status)
			d.Status = &st
		} else {
			code = DecodeDTC(data[i], data[i+1])
		}
		if seen[code] {
			continue
		}
		seen[code] = true
		d.Code = code
		out = append(out, d)
	}
	return out, nil
}

// DecodeOBDDTCs parses an OBD-II Mode 03/04/07 response payload: a leading
// count byte followed by that many 2-byte DTC codewords (spec.md §8 test
// case 4: payload `01 03 00` decodes to one DTC, "P0300").
func DecodeOBDDTCs(payload []byte) ([]DTC, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("diagsession: empty OBD DTC payload")
	}
	count := int(payload[0])
	rest := payload[1:]
	if len(rest) < count*2 {
		return nil, fmt.Errorf("diagsession: OBD DTC payload too short for count=%d", count)
	}
	return DecodeDTCs(rest[:count*2], false)
}
