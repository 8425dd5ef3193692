package scanner

import (
	"context"
	"time"

	"github.com/opendiag/vcicore/internal/diagsession"
	"github.com/opendiag/vcicore/internal/uds"
	"github.com/opendiag/vcicore/internal/vcierr"
)

// DIDs the scanner reads from every present module (spec.md §4.9).
const (
	didApplicationSoftwareID uint16 = 0xF194
	didECUSerialNumber       uint16 = 0xF18C
	didManufacturerPartNum   uint16 = 0xF187
)

const probeTimeout = 2 * time.Second

// AddressableLink sends one UDS request to a specific CAN address and
// returns the raw response bytes (after ISO-TP reassembly), or an error
// for a timeout/bus fault. It is narrower than vcisession.Session because
// a single Autel PassThru channel only has one active filter at a time;
// a real driver reprograms the filter's pattern/flow-control pair per
// address before each call (see DESIGN.md).
type AddressableLink interface {
	SendUDS(ctx context.Context, address uint16, request []byte, timeout time.Duration) ([]byte, error)
}

// UDSProber implements Prober over an AddressableLink using UDS
// TesterPresent + ReadDataByIdentifier, per spec.md §4.9.
type UDSProber struct {
	Link AddressableLink
}

func (p *UDSProber) Probe(ctx context.Context, address uint16) (bool, diagsession.Identification, error) {
	req := uds.BuildRequest(uds.SIDTesterPresent, bytePtr(0x00))
	resp, err := p.Link.SendUDS(ctx, address, req, probeTimeout)
	if err != nil {
		if vcierr.Is(err, vcierr.KindTimeout) {
			return false, diagsession.Identification{}, nil
		}
		return false, diagsession.Identification{}, err
	}
	parsed, perr := uds.ParseResponse(resp)
	if perr != nil {
		return false, diagsession.Identification{}, nil
	}
	if !parsed.Positive && parsed.NRC == uds.NRCServiceNotSupported {
		return false, diagsession.Identification{}, nil
	}
	// Positive, or negative-with-any-other-NRC: the module is present
	// and simply rejected TesterPresent's sub-function (spec.md §4.9).
	ident := p.readIdentification(ctx, address)
	return true, ident, nil
}

func (p *UDSProber) readIdentification(ctx context.Context, address uint16) diagsession.Identification {
	return diagsession.Identification{
		SoftwareVersion: p.readDIDString(ctx, address, didApplicationSoftwareID),
		SerialNumber:    p.readDIDString(ctx, address, didECUSerialNumber),
		PartNumber:      p.readDIDString(ctx, address, didManufacturerPartNum),
	}
}

func (p *UDSProber) readDIDString(ctx context.Context, address uint16, did uint16) string {
	req := uds.BuildRequest(uds.SIDReadDataByIdentifier, nil, byte(did>>8), byte(did))
	resp, err := p.Link.SendUDS(ctx, address, req, probeTimeout)
	if err != nil {
		return ""
	}
	parsed, perr := uds.ParseResponse(resp)
	if perr != nil || !parsed.Positive || len(parsed.Data) < 2 {
		return ""
	}
	return sanitizePrintable(parsed.Data[2:]) // skip the echoed 2-byte DID
}

// sanitizePrintable strips data down to the printable ASCII subset, per
// spec.md §4.9 ("sanitizing responses to the printable ASCII subset").
func sanitizePrintable(data []byte) string {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		if b >= 0x20 && b <= 0x7E {
			out = append(out, b)
		}
	}
	return string(out)
}

func bytePtr(b byte) *byte { return &b }
