package autelpacket

// Builder assembles outbound frames for one Session, stamping each with
// the session's current session_id and the next message_counter value.
type Builder struct {
	Session *Session
}

// NewBuilder returns a Builder bound to session.
func NewBuilder(session *Session) *Builder { return &Builder{Session: session} }

func (b *Builder) frame(command, subCommand uint32, payload []byte) []byte {
	return build(b.Session.ID(), b.Session.Next(), command, subCommand, payload)
}

// Identify builds the device-identification frame carrying the ASCII
// device string, null-terminated and padded per spec.md §4.2.
func (b *Builder) Identify() []byte {
	payload := padNullTerminated(IdentifyDeviceString, 0)
	return b.frame(CmdControl, SubIdentify, payload)
}

// GetVersion builds the get_version frame (4 zero-byte payload).
func (b *Builder) GetVersion() []byte {
	return b.frame(CmdControl, SubGetVersion, zeroPayload(4))
}

// Disconnect builds the disconnect frame (4 zero-byte payload).
func (b *Builder) Disconnect() []byte {
	return b.frame(CmdControl, SubDisconnect, zeroPayload(4))
}

// PassThruOpen builds a PassThru_Open request for the given J2534 protocol
// ID (see spec.md §6 for the protocol ID table).
func (b *Builder) PassThruOpen(protocolID uint32) []byte {
	payload := u32Payload(protocolID, 0)
	return b.frame(CmdPassThru, SubPassThruOpen, payload)
}

// PassThruClose builds a PassThru_Close request.
func (b *Builder) PassThruClose(channelID uint32) []byte {
	return b.frame(CmdPassThru, SubPassThruClose, u32Payload(channelID))
}

// PassThruConnect builds a PassThru_Connect request, re-stating the
// protocol ID alongside flags and baudrate as spec.md §4.7 step 4
// requires.
func (b *Builder) PassThruConnect(channelID, protocolID, flags, baudrate uint32) []byte {
	return b.frame(CmdPassThru, SubPassThruConnect, u32Payload(channelID, protocolID, flags, baudrate))
}

// PassThruReadMsgs builds a PassThru_ReadMsgs request.
func (b *Builder) PassThruReadMsgs(channelID, numMsgs, timeoutMs uint32) []byte {
	return b.frame(CmdPassThru, SubPassThruReadMsgs, u32Payload(channelID, numMsgs, timeoutMs))
}

// PassThruWriteMsgs builds a PassThru_WriteMsgs request carrying one
// message's data bytes.
func (b *Builder) PassThruWriteMsgs(channelID, timeoutMs uint32, data []byte) []byte {
	payload := make([]byte, 0, 16+len(data))
	payload = append(payload, u32Payload(channelID, 1, timeoutMs, uint32(len(data)))...)
	payload = append(payload, data...)
	return b.frame(CmdPassThru, SubPassThruWriteMsgs, payload)
}

// PassThruStartMsgFilter builds a PassThru_StartMsgFilter request. mask,
// pattern and flowControl are concatenated after the five u32 header
// fields, in that order, per spec.md §4.2.
func (b *Builder) PassThruStartMsgFilter(channelID, filterType uint32, mask, pattern, flowControl []byte) []byte {
	payload := make([]byte, 0, 20+len(mask)+len(pattern)+len(flowControl))
	payload = append(payload, u32Payload(channelID, filterType, uint32(len(mask)), uint32(len(pattern)), uint32(len(flowControl)))...)
	payload = append(payload, mask...)
	payload = append(payload, pattern...)
	payload = append(payload, flowControl...)
	return b.frame(CmdPassThru, SubPassThruStartMsgFilter, payload)
}

// PassThruStopMsgFilter builds a PassThru_StopMsgFilter request.
func (b *Builder) PassThruStopMsgFilter(channelID, filterID uint32) []byte {
	return b.frame(CmdPassThru, SubPassThruStopMsgFilter, u32Payload(channelID, filterID))
}

// PassThruIoctl builds a PassThru_Ioctl request.
func (b *Builder) PassThruIoctl(channelID, ioctlID uint32, input []byte) []byte {
	payload := make([]byte, 0, 12+len(input))
	payload = append(payload, u32Payload(channelID, ioctlID, uint32(len(input)))...)
	payload = append(payload, input...)
	return b.frame(CmdPassThru, SubPassThruIoctl, payload)
}
