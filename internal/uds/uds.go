// Package uds implements the ISO 14229 request/response framing, NRC
// taxonomy and security-access flow of spec.md §4.4, grounded on the
// PGN/service-framing style of
// other_examples/2f5149d9_serebryakov7-j1708-stats__internal-j1939-j1939.go.go
// (DM1/DM2 active vs. previously-active DTC split) generalized from J1939
// to UDS.
package uds

import (
	"fmt"

	"github.com/opendiag/vcicore/internal/diagsession"
	"github.com/opendiag/vcicore/internal/vcierr"
)

// Service IDs (spec.md §4.4).
const (
	SIDDiagnosticSessionControl byte = 0x10
	SIDECUReset                 byte = 0x11
	SIDClearDiagnosticInfo      byte = 0x14
	SIDReadDTCInformation       byte = 0x19
	SIDReadDataByIdentifier     byte = 0x22
	SIDSecurityAccess           byte = 0x27
	SIDWriteDataByIdentifier    byte = 0x2E
	SIDRoutineControl           byte = 0x31
	SIDTesterPresent            byte = 0x3E
	SIDControlDTCSetting        byte = 0x85

	negativeResponseSID byte = 0x7F
	positiveResponseBit byte = 0x40
)

// ReadDTCInformation sub-functions.
const (
	SubFnReportNumberOfDTCByStatusMask byte = 0x01
	SubFnReportDTCByStatusMask         byte = 0x02
)

// Security access sub-functions.
const (
	SubFnRequestSeed byte = 0x01
	SubFnSendKey     byte = 0x02
)

// NRC is a UDS negative response code.
type NRC byte

const (
	NRCServiceNotSupported             NRC = 0x11
	NRCSubFunctionNotSupported         NRC = 0x12
	NRCIncorrectLength                 NRC = 0x13
	NRCConditionsNotCorrect             NRC = 0x22
	NRCRequestOutOfRange                NRC = 0x31
	NRCSecurityAccessDenied             NRC = 0x33
	NRCInvalidKey                       NRC = 0x35
	NRCExceededAttempts                 NRC = 0x36
	NRCRequiredTimeDelayNotExpired      NRC = 0x37
	NRCResponsePending                  NRC = 0x78
	NRCServiceNotSupportedInSession     NRC = 0x7F
)

// Kind maps an NRC to the user-facing error taxonomy (spec.md §4.4, §7).
func (n NRC) Kind() vcierr.Kind {
	switch n {
	case NRCSecurityAccessDenied:
		return vcierr.KindSecurityDenied
	case NRCInvalidKey:
		return vcierr.KindInvalidKey
	case NRCServiceNotSupported, NRCSubFunctionNotSupported, NRCServiceNotSupportedInSession:
		return vcierr.KindUnsupported
	default:
		return vcierr.KindUdsNegative
	}
}

func (n NRC) String() string {
	switch n {
	case NRCServiceNotSupported:
		return "serviceNotSupported"
	case NRCSubFunctionNotSupported:
		return "subFunctionNotSupported"
	case NRCIncorrectLength:
		return "incorrectMessageLengthOrInvalidFormat"
	case NRCConditionsNotCorrect:
		return "conditionsNotCorrect"
	case NRCRequestOutOfRange:
		return "requestOutOfRange"
	case NRCSecurityAccessDenied:
		return "securityAccessDenied"
	case NRCInvalidKey:
		return "invalidKey"
	case NRCExceededAttempts:
		return "exceededNumberOfAttempts"
	case NRCRequiredTimeDelayNotExpired:
		return "requiredTimeDelayNotExpired"
	case NRCResponsePending:
		return "requestCorrectlyReceived-ResponsePending"
	case NRCServiceNotSupportedInSession:
		return "serviceNotSupportedInActiveSession"
	default:
		return fmt.Sprintf("NRC(0x%02X)", byte(n))
	}
}

// BuildRequest assembles a UDS request: SID, optional sub-function, then
// parameters (spec.md §4.4).
func BuildRequest(sid byte, subFunction *byte, params ...byte) []byte {
	req := make([]byte, 0, 2+len(params))
	req = append(req, sid)
	if subFunction != nil {
		req = append(req, *subFunction)
	}
	req = append(req, params...)
	return req
}

// Response is a decoded UDS response.
type Response struct {
	SID     byte // the request SID this responds to
	Positive bool
	NRC     NRC    // valid when !Positive
	Data    []byte // payload after SID (+0x40) for positive responses
}

// ParseResponse decodes a raw UDS response frame.
func ParseResponse(frame []byte) (Response, error) {
	if len(frame) == 0 {
		return Response{}, fmt.Errorf("uds: empty response")
	}
	if frame[0] == negativeResponseSID {
		if len(frame) < 3 {
			return Response{}, fmt.Errorf("uds: truncated negative response")
		}
		return Response{SID: frame[1], Positive: false, NRC: NRC(frame[2])}, nil
	}
	if frame[0]&positiveResponseBit == 0 {
		return Response{}, fmt.Errorf("uds: response 0x%02X is neither positive nor negative", frame[0])
	}
	return Response{SID: frame[0] &^ positiveResponseBit, Positive: true, Data: frame[1:]}, nil
}

// AsError converts a negative Response into a *vcierr.Error, or nil for a
// positive response.
func (r Response) AsError() error {
	if r.Positive {
		return nil
	}
	return &vcierr.Error{Kind: r.NRC.Kind(), NRC: byte(r.NRC), Msg: fmt.Sprintf("service 0x%02X: %s", r.SID, r.NRC)}
}

// ParseDTCInformation decodes a service 0x19 sub-function 0x02 response's
// data after the SID and the echoed sub-function byte (i.e. Response.Data[1:]):
// a status-availability mask byte followed by repeating DTC quartets
// (spec.md §4.4).
func ParseDTCInformation(data []byte) ([]diagsession.DTC, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("uds: empty ReadDTCInformation data")
	}
	// data[0] is the status-availability mask; the quartets follow it.
	return diagsession.DecodeDTCs(data[1:], true)
}

// SecurityKeyFunc computes a key from a seed. Implementations are
// module-specific (spec.md §4.4, §9); DefaultSecurityKeyFunc is the
// generic placeholder used by the simulator.
type SecurityKeyFunc func(seed []byte) []byte

// DefaultSecurityKeyFunc XORs the seed, interpreted as a big-endian
// 32-bit integer, with 0xA5A5A5A5 (spec.md §9). Real modules require an
// OEM-specific algorithm selected per address; this is only correct
// against the simulator.
func DefaultSecurityKeyFunc(seed []byte) []byte {
	key := make([]byte, len(seed))
	mask := []byte{0xA5, 0xA5, 0xA5, 0xA5}
	for i := range seed {
		key[i] = seed[i] ^ mask[i%4]
	}
	return key
}
