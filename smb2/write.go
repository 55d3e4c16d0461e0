package smb2

import "encoding/binary"

const (
	SMB2WriteRequestMinSize       = 48
	SMB2WriteRequestStructureSize = 49

	SMB2WriteResponseMinSize       = 16
	SMB2WriteResponseStructureSize = 17
)

const (
	// Write flags.
	WRITEFLAG_WRITE_THROUGH    = 0x00000001
	WRITEFLAG_WRITE_UNBUFFERED = 0x00000002
)

// WriteRequest represents an SMB2_WRITE request.
type WriteRequest struct {
	Offset         uint64
	FileID         FileID
	Channel        uint32
	RemainingBytes uint32
	Flags          uint32
	Data           []byte
}

// Command implements Message.
func (wr *WriteRequest) Command() uint16 { return SMB2_WRITE }

// Size implements Message.
func (wr *WriteRequest) Size() int {
	return SMB2WriteRequestMinSize + max(len(wr.Data), 1)
}

// Encode implements Message.
func (wr *WriteRequest) Encode(b []byte) {
	binary.LittleEndian.PutUint16(b[:2], SMB2WriteRequestStructureSize)
	binary.LittleEndian.PutUint16(b[2:4], SMB2HeaderSize+SMB2WriteRequestMinSize)
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(wr.Data)))
	binary.LittleEndian.PutUint64(b[8:16], wr.Offset)
	copy(b[16:32], wr.FileID[:])
	binary.LittleEndian.PutUint32(b[32:36], wr.Channel)
	binary.LittleEndian.PutUint32(b[36:40], wr.RemainingBytes)
	binary.LittleEndian.PutUint32(b[44:48], wr.Flags)
	copy(b[SMB2WriteRequestMinSize:], wr.Data)
}

// Decode implements Message.
func (wr *WriteRequest) Decode(b []byte) error {
	if err := checkStructureSize(b, SMB2WriteRequestMinSize, SMB2WriteRequestStructureSize); err != nil {
		return err
	}

	data, err := bufferAt(b, uint32(binary.LittleEndian.Uint16(b[2:4])), binary.LittleEndian.Uint32(b[4:8]))
	if err != nil {
		return err
	}

	*wr = WriteRequest{
		Offset:         binary.LittleEndian.Uint64(b[8:16]),
		Channel:        binary.LittleEndian.Uint32(b[32:36]),
		RemainingBytes: binary.LittleEndian.Uint32(b[36:40]),
		Flags:          binary.LittleEndian.Uint32(b[44:48]),
		Data:           data,
	}
	copy(wr.FileID[:], b[16:32])
	return nil
}

// WriteResponse represents an SMB2_WRITE response.
type WriteResponse struct {
	Count     uint32
	Remaining uint32
}

// Command implements Message.
func (wr *WriteResponse) Command() uint16 { return SMB2_WRITE }

// Size implements Message.
func (wr *WriteResponse) Size() int { return SMB2WriteResponseMinSize }

// Encode implements Message.
func (wr *WriteResponse) Encode(b []byte) {
	binary.LittleEndian.PutUint16(b[:2], SMB2WriteResponseStructureSize)
	binary.LittleEndian.PutUint32(b[4:8], wr.Count)
	binary.LittleEndian.PutUint32(b[8:12], wr.Remaining)
}

// Decode implements Message.
func (wr *WriteResponse) Decode(b []byte) error {
	if err := checkStructureSize(b, SMB2WriteResponseMinSize, SMB2WriteResponseStructureSize); err != nil {
		return err
	}

	wr.Count = binary.LittleEndian.Uint32(b[4:8])
	wr.Remaining = binary.LittleEndian.Uint32(b[8:12])
	return nil
}
