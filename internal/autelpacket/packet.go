// Package autelpacket implements the Autel VCI wire framing described in
// spec.md §3/§4.2: a 36-byte little-endian header wrapping a variable
// payload, sealed with a trailing CRC-32/IEEE-802.3. It is the Autel
// analogue of the teacher's HDHomeRun packet codec
// (internal/hdhomerun/packet.go) — same shape (fixed header, variable
// payload, trailing CRC) but a different header layout and endianness.
package autelpacket

import (
	"encoding/binary"
	"fmt"

	"github.com/opendiag/vcicore/internal/crc32ieee"
)

// Magic is the 4-byte frame marker every Autel packet begins with.
var Magic = [4]byte{0x55, 0x55, 0xAA, 0xAA}

// TrailerMagic is the sentinel written into the last 4 bytes of a padded
// null-terminated payload when enough slack remains. Its semantic role is
// unclear (spec.md §9); it is preserved bit-for-bit.
var TrailerMagic = [4]byte{0x99, 0x99, 0x66, 0x66}

// HeaderLen is the fixed header size: magic (4) + 8 little-endian u32
// fields (32).
const HeaderLen = 4 + 8*4

// Command groups. Only pass_thru_open's values are pinned by spec.md §8;
// the rest follow the same convention (see DESIGN.md).
const (
	CmdControl  uint32 = 0x00 // identify, get_version, disconnect
	CmdPassThru uint32 = 0x01 // all PassThru J2534 calls
)

// Sub-commands. SubPassThruOpen = 0x10004 is the one value spec.md pins
// explicitly; the others are assigned from the same block by convention.
const (
	SubIdentify               uint32 = 0x10001
	SubGetVersion             uint32 = 0x10002
	SubDisconnect             uint32 = 0x10003
	SubPassThruOpen           uint32 = 0x10004
	SubPassThruConnect        uint32 = 0x10005
	SubPassThruClose          uint32 = 0x10006
	SubPassThruReadMsgs       uint32 = 0x10007
	SubPassThruWriteMsgs      uint32 = 0x10008
	SubPassThruStartMsgFilter uint32 = 0x10009
	SubPassThruStopMsgFilter  uint32 = 0x1000A
	SubPassThruIoctl          uint32 = 0x1000B
)

// Filter types for pass_thru_start_msg_filter.
const (
	FilterPass        uint32 = 1
	FilterBlock       uint32 = 2
	FilterFlowControl uint32 = 3
)

// DefaultFlags is the flags field's observed default on the wire.
const DefaultFlags uint32 = 0xFFFFFFFF

// IdentifyVendorString is the vendor string a successful identify response
// is expected to carry back (spec.md §4.7 step 1).
const IdentifyVendorString = "AUTEL:SAE J2534"

// IdentifyDeviceString is the string the identify request itself carries.
const IdentifyDeviceString = "J2534-1:MAXI FLASH"

// Packet is a fully decoded Autel VCI frame.
type Packet struct {
	TotalLength    uint32
	SessionID      uint32
	MessageCounter uint32
	PayloadLength  uint32
	Flags          uint32
	Command        uint32
	SubCommand     uint32
	Payload        []byte
	CRC            uint32

	// LeadingZero records whether the frame was prefixed with the optional
	// single 0x00 byte the parser must tolerate on response traffic.
	LeadingZero bool
}

// Success reports whether the packet's command field (used as a status
// code on the response path) indicates success.
func (p *Packet) Success() bool { return p.Command == 0 }

func putU32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func getU32(b []byte) uint32    { return binary.LittleEndian.Uint32(b) }

// build assembles a complete frame for the given command/sub-command and
// payload, computing total_length, payload_length and the trailing CRC per
// spec.md §4.2.
func build(sessionID, counter, command, subCommand uint32, payload []byte) []byte {
	payloadDataLen := len(payload)
	totalLength := uint32(32 + payloadDataLen)
	payloadLength := uint32(payloadDataLen + 8)

	frame := make([]byte, 0, HeaderLen+payloadDataLen+4)
	frame = append(frame, Magic[:]...)

	hdr := make([]byte, 32)
	putU32(hdr[0:4], totalLength)
	putU32(hdr[4:8], sessionID)
	putU32(hdr[8:12], counter)
	putU32(hdr[12:16], payloadLength)
	putU32(hdr[16:20], sessionID)
	putU32(hdr[20:24], DefaultFlags)
	putU32(hdr[24:28], command)
	putU32(hdr[28:32], subCommand)
	frame = append(frame, hdr...)
	frame = append(frame, payload...)

	return crc32ieee.AppendLE(frame)
}

// padNullTerminated null-terminates s and pads to a multiple of 4 bytes at
// least minLen long. When 5 or more bytes of slack remain after the null
// terminator, the last 4 bytes of the buffer are overwritten with
// TrailerMagic (spec.md §4.2, §9 — preserved bit-for-bit, role unclear).
func padNullTerminated(s string, minLen int) []byte {
	raw := len(s) + 1 // + null terminator
	bufLen := raw
	if bufLen < minLen {
		bufLen = minLen
	}
	if rem := bufLen % 4; rem != 0 {
		bufLen += 4 - rem
	}
	buf := make([]byte, bufLen)
	copy(buf, s)
	if slack := bufLen - raw; slack >= 5 {
		copy(buf[bufLen-4:], TrailerMagic[:])
	}
	return buf
}

func u32Payload(vs ...uint32) []byte {
	buf := make([]byte, 4*len(vs))
	for i, v := range vs {
		putU32(buf[i*4:i*4+4], v)
	}
	return buf
}

func zeroPayload(n int) []byte { return make([]byte, n) }

// ParseError carries enough information for a caller to decide whether to
// wait for more bytes or drop the frame.
type ParseError struct {
	NeedMoreBytes bool
	ExpectedTotal int // total frame length once complete, if known
	Reason        string
}

func (e *ParseError) Error() string {
	if e.NeedMoreBytes {
		return fmt.Sprintf("autelpacket: need more bytes (expect %d total): %s", e.ExpectedTotal, e.Reason)
	}
	return "autelpacket: " + e.Reason
}

// Parse decodes a single frame from data, which may carry one leading 0x00
// byte (spec.md §4.2: "Response packets MAY have a leading 00 byte").
// On success it returns the decoded packet and the number of bytes
// consumed from data. On truncated input it returns a *ParseError with
// NeedMoreBytes set and the total byte count Parse expects once the rest
// arrives.
func Parse(data []byte) (*Packet, int, error) {
	offset := 0
	leadingZero := false
	if len(data) > 0 && data[0] == 0x00 {
		// Only treat the byte as the optional prefix if what follows looks
		// like the real magic; otherwise it's genuinely truncated input.
		if len(data) >= 5 && data[1] == Magic[0] && data[2] == Magic[1] && data[3] == Magic[2] && data[4] == Magic[3] {
			leadingZero = true
			offset = 1
		}
	}

	if len(data)-offset < 4 {
		return nil, 0, &ParseError{NeedMoreBytes: true, Reason: "short of magic"}
	}
	if data[offset] != Magic[0] || data[offset+1] != Magic[1] || data[offset+2] != Magic[2] || data[offset+3] != Magic[3] {
		return nil, 0, &ParseError{Reason: "bad magic"}
	}

	if len(data)-offset < HeaderLen {
		return nil, 0, &ParseError{NeedMoreBytes: true, Reason: "short of header"}
	}

	hdr := data[offset+4 : offset+HeaderLen]
	totalLength := getU32(hdr[0:4])
	sessionID := getU32(hdr[4:8])
	counter := getU32(hdr[8:12])
	payloadLength := getU32(hdr[12:16])
	flags := getU32(hdr[20:24])
	command := getU32(hdr[24:28])
	subCommand := getU32(hdr[28:32])

	// total_length covers everything from the total_length field itself
	// through the end of the payload (spec.md §4.2): 28 remaining header
	// bytes + payload. Full frame length adds back magic, the optional
	// leading zero, and the trailing CRC.
	if totalLength < 32 {
		return nil, 0, &ParseError{Reason: "total_length too small"}
	}
	payloadDataLen := int(totalLength) - 32
	fullLen := offset + HeaderLen + payloadDataLen + 4

	if len(data) < fullLen {
		return nil, 0, &ParseError{NeedMoreBytes: true, ExpectedTotal: fullLen, Reason: "short of payload/CRC"}
	}

	payload := make([]byte, payloadDataLen)
	copy(payload, data[offset+HeaderLen:offset+HeaderLen+payloadDataLen])

	frame := data[offset:fullLen]
	if !crc32ieee.Verify(frame) {
		return nil, 0, &ParseError{Reason: "CRC mismatch"}
	}
	crc := getU32(frame[len(frame)-4:])

	p := &Packet{
		TotalLength:    totalLength,
		SessionID:      sessionID,
		MessageCounter: counter,
		PayloadLength:  payloadLength,
		Flags:          flags,
		Command:        command,
		SubCommand:     subCommand,
		Payload:        payload,
		CRC:            crc,
		LeadingZero:    leadingZero,
	}
	return p, fullLen, nil
}
