package smb2

import "encoding/binary"

const (
	SMB2LogoffRequestMinSize       = 4
	SMB2LogoffRequestStructureSize = 4

	SMB2LogoffResponseMinSize       = 4
	SMB2LogoffResponseStructureSize = 4
)

// emptyBody encodes and decodes the 4-byte bodies shared by LOGOFF and TREE_DISCONNECT.
type emptyBody struct{}

func (emptyBody) Size() int { return 4 }

func (emptyBody) Encode(b []byte) {
	binary.LittleEndian.PutUint16(b[:2], 4)
}

func (emptyBody) Decode(b []byte) error {
	return checkStructureSize(b, 4, 4)
}

// LogoffRequest represents an SMB2_LOGOFF request.
type LogoffRequest struct{ emptyBody }

// Command implements Message.
func (LogoffRequest) Command() uint16 { return SMB2_LOGOFF }

// LogoffResponse represents an SMB2_LOGOFF response.
type LogoffResponse struct{ emptyBody }

// Command implements Message.
func (LogoffResponse) Command() uint16 { return SMB2_LOGOFF }
