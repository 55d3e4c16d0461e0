package smb2

import "encoding/binary"

const (
	SMB2SessionSetupRequestMinSize       = 24
	SMB2SessionSetupRequestStructureSize = 25

	SMB2SessionSetupResponseMinSize       = 8
	SMB2SessionSetupResponseStructureSize = 9
)

// SessionSetupRequest represents an SMB2_SESSION_SETUP request.
type SessionSetupRequest struct {
	Flags             uint8
	SecurityMode      uint8
	Capabilities      uint32
	Channel           uint32
	PreviousSessionID uint64
	SecurityBuffer    []byte
}

// Command implements Message.
func (ssr *SessionSetupRequest) Command() uint16 { return SMB2_SESSION_SETUP }

// Size implements Message.
func (ssr *SessionSetupRequest) Size() int {
	return SMB2SessionSetupRequestMinSize + len(ssr.SecurityBuffer)
}

// Encode implements Message.
func (ssr *SessionSetupRequest) Encode(b []byte) {
	binary.LittleEndian.PutUint16(b[:2], SMB2SessionSetupRequestStructureSize)
	b[2] = ssr.Flags
	b[3] = ssr.SecurityMode
	binary.LittleEndian.PutUint32(b[4:8], ssr.Capabilities)
	binary.LittleEndian.PutUint32(b[8:12], ssr.Channel)
	binary.LittleEndian.PutUint16(b[12:14], SMB2HeaderSize+SMB2SessionSetupRequestMinSize)
	binary.LittleEndian.PutUint16(b[14:16], uint16(len(ssr.SecurityBuffer)))
	binary.LittleEndian.PutUint64(b[16:24], ssr.PreviousSessionID)
	copy(b[SMB2SessionSetupRequestMinSize:], ssr.SecurityBuffer)
}

// Decode implements Message.
func (ssr *SessionSetupRequest) Decode(b []byte) error {
	if err := checkStructureSize(b, SMB2SessionSetupRequestMinSize, SMB2SessionSetupRequestStructureSize); err != nil {
		return err
	}

	buf, err := bufferAt(b, uint32(binary.LittleEndian.Uint16(b[12:14])), uint32(binary.LittleEndian.Uint16(b[14:16])))
	if err != nil {
		return err
	}

	*ssr = SessionSetupRequest{
		Flags:             b[2],
		SecurityMode:      b[3],
		Capabilities:      binary.LittleEndian.Uint32(b[4:8]),
		Channel:           binary.LittleEndian.Uint32(b[8:12]),
		PreviousSessionID: binary.LittleEndian.Uint64(b[16:24]),
		SecurityBuffer:    buf,
	}
	return nil
}

// SessionSetupResponse represents an SMB2_SESSION_SETUP response.
type SessionSetupResponse struct {
	SessionFlags   uint16
	SecurityBuffer []byte
}

// Command implements Message.
func (ssr *SessionSetupResponse) Command() uint16 { return SMB2_SESSION_SETUP }

// Size implements Message.
func (ssr *SessionSetupResponse) Size() int {
	return SMB2SessionSetupResponseMinSize + len(ssr.SecurityBuffer)
}

// Encode implements Message.
func (ssr *SessionSetupResponse) Encode(b []byte) {
	binary.LittleEndian.PutUint16(b[:2], SMB2SessionSetupResponseStructureSize)
	binary.LittleEndian.PutUint16(b[2:4], ssr.SessionFlags)
	binary.LittleEndian.PutUint16(b[4:6], SMB2HeaderSize+SMB2SessionSetupResponseMinSize)
	binary.LittleEndian.PutUint16(b[6:8], uint16(len(ssr.SecurityBuffer)))
	copy(b[SMB2SessionSetupResponseMinSize:], ssr.SecurityBuffer)
}

// Decode implements Message.
func (ssr *SessionSetupResponse) Decode(b []byte) error {
	if err := checkStructureSize(b, SMB2SessionSetupResponseMinSize, SMB2SessionSetupResponseStructureSize); err != nil {
		return err
	}

	buf, err := bufferAt(b, uint32(binary.LittleEndian.Uint16(b[4:6])), uint32(binary.LittleEndian.Uint16(b[6:8])))
	if err != nil {
		return err
	}

	ssr.SessionFlags = binary.LittleEndian.Uint16(b[2:4])
	ssr.SecurityBuffer = buf
	return nil
}
