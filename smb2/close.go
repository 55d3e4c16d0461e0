package smb2

import "encoding/binary"

const (
	SMB2CloseRequestMinSize       = 24
	SMB2CloseRequestStructureSize = 24

	SMB2CloseResponseMinSize       = 60
	SMB2CloseResponseStructureSize = 60
)

const (
	CLOSE_FLAG_POSTQUERY_ATTRIB = 0x0001
)

// CloseRequest represents an SMB2_CLOSE request.
type CloseRequest struct {
	Flags  uint16
	FileID FileID
}

// Command implements Message.
func (cr *CloseRequest) Command() uint16 { return SMB2_CLOSE }

// Size implements Message.
func (cr *CloseRequest) Size() int { return SMB2CloseRequestMinSize }

// Encode implements Message.
func (cr *CloseRequest) Encode(b []byte) {
	binary.LittleEndian.PutUint16(b[:2], SMB2CloseRequestStructureSize)
	binary.LittleEndian.PutUint16(b[2:4], cr.Flags)
	copy(b[8:24], cr.FileID[:])
}

// Decode implements Message.
func (cr *CloseRequest) Decode(b []byte) error {
	if err := checkStructureSize(b, SMB2CloseRequestMinSize, SMB2CloseRequestStructureSize); err != nil {
		return err
	}

	cr.Flags = binary.LittleEndian.Uint16(b[2:4])
	copy(cr.FileID[:], b[8:24])
	return nil
}

// CloseResponse represents an SMB2_CLOSE response. The attribute fields are
// only filled when the request asked for CLOSE_FLAG_POSTQUERY_ATTRIB.
type CloseResponse struct {
	Flags          uint16
	CreationTime   uint64
	LastAccessTime uint64
	LastWriteTime  uint64
	ChangeTime     uint64
	AllocationSize uint64
	EndOfFile      uint64
	FileAttributes uint32
}

// Command implements Message.
func (cr *CloseResponse) Command() uint16 { return SMB2_CLOSE }

// Size implements Message.
func (cr *CloseResponse) Size() int { return SMB2CloseResponseMinSize }

// Encode implements Message.
func (cr *CloseResponse) Encode(b []byte) {
	binary.LittleEndian.PutUint16(b[:2], SMB2CloseResponseStructureSize)
	binary.LittleEndian.PutUint16(b[2:4], cr.Flags)
	binary.LittleEndian.PutUint64(b[8:16], cr.CreationTime)
	binary.LittleEndian.PutUint64(b[16:24], cr.LastAccessTime)
	binary.LittleEndian.PutUint64(b[24:32], cr.LastWriteTime)
	binary.LittleEndian.PutUint64(b[32:40], cr.ChangeTime)
	binary.LittleEndian.PutUint64(b[40:48], cr.AllocationSize)
	binary.LittleEndian.PutUint64(b[48:56], cr.EndOfFile)
	binary.LittleEndian.PutUint32(b[56:60], cr.FileAttributes)
}

// Decode implements Message.
func (cr *CloseResponse) Decode(b []byte) error {
	if err := checkStructureSize(b, SMB2CloseResponseMinSize, SMB2CloseResponseStructureSize); err != nil {
		return err
	}

	*cr = CloseResponse{
		Flags:          binary.LittleEndian.Uint16(b[2:4]),
		CreationTime:   binary.LittleEndian.Uint64(b[8:16]),
		LastAccessTime: binary.LittleEndian.Uint64(b[16:24]),
		LastWriteTime:  binary.LittleEndian.Uint64(b[24:32]),
		ChangeTime:     binary.LittleEndian.Uint64(b[32:40]),
		AllocationSize: binary.LittleEndian.Uint64(b[40:48]),
		EndOfFile:      binary.LittleEndian.Uint64(b[48:56]),
		FileAttributes: binary.LittleEndian.Uint32(b[56:60]),
	}
	return nil
}
