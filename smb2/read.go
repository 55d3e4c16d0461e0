package smb2

import "encoding/binary"

const (
	SMB2ReadRequestMinSize       = 48
	SMB2ReadRequestStructureSize = 49

	SMB2ReadResponseMinSize       = 16
	SMB2ReadResponseStructureSize = 17
)

const (
	// Read flags.
	READFLAG_READ_UNBUFFERED    = 0x01
	READFLAG_REQUEST_COMPRESSED = 0x02
)

// readResponseDataOffset is where the client asks the server to place read data.
const readResponseDataOffset = SMB2HeaderSize + SMB2ReadResponseMinSize

// ReadRequest represents an SMB2_READ request.
type ReadRequest struct {
	Padding        uint8
	Flags          uint8
	Length         uint32
	Offset         uint64
	FileID         FileID
	MinimumCount   uint32
	Channel        uint32
	RemainingBytes uint32
}

// Command implements Message.
func (rr *ReadRequest) Command() uint16 { return SMB2_READ }

// Size implements Message. The one-byte buffer is mandatory.
func (rr *ReadRequest) Size() int { return SMB2ReadRequestStructureSize }

// Encode implements Message.
func (rr *ReadRequest) Encode(b []byte) {
	binary.LittleEndian.PutUint16(b[:2], SMB2ReadRequestStructureSize)
	b[2] = rr.Padding
	b[3] = rr.Flags
	binary.LittleEndian.PutUint32(b[4:8], rr.Length)
	binary.LittleEndian.PutUint64(b[8:16], rr.Offset)
	copy(b[16:32], rr.FileID[:])
	binary.LittleEndian.PutUint32(b[32:36], rr.MinimumCount)
	binary.LittleEndian.PutUint32(b[36:40], rr.Channel)
	binary.LittleEndian.PutUint32(b[40:44], rr.RemainingBytes)
}

// Decode implements Message.
func (rr *ReadRequest) Decode(b []byte) error {
	if err := checkStructureSize(b, SMB2ReadRequestMinSize, SMB2ReadRequestStructureSize); err != nil {
		return err
	}

	*rr = ReadRequest{
		Padding:        b[2],
		Flags:          b[3],
		Length:         binary.LittleEndian.Uint32(b[4:8]),
		Offset:         binary.LittleEndian.Uint64(b[8:16]),
		MinimumCount:   binary.LittleEndian.Uint32(b[32:36]),
		Channel:        binary.LittleEndian.Uint32(b[36:40]),
		RemainingBytes: binary.LittleEndian.Uint32(b[40:44]),
	}
	copy(rr.FileID[:], b[16:32])
	return nil
}

// ReadResponse represents an SMB2_READ response.
type ReadResponse struct {
	DataRemaining uint32
	Data          []byte
}

// Command implements Message.
func (rr *ReadResponse) Command() uint16 { return SMB2_READ }

// Size implements Message.
func (rr *ReadResponse) Size() int {
	return SMB2ReadResponseMinSize + len(rr.Data)
}

// Encode implements Message.
func (rr *ReadResponse) Encode(b []byte) {
	binary.LittleEndian.PutUint16(b[:2], SMB2ReadResponseStructureSize)
	b[2] = readResponseDataOffset
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(rr.Data)))
	binary.LittleEndian.PutUint32(b[8:12], rr.DataRemaining)
	copy(b[SMB2ReadResponseMinSize:], rr.Data)
}

// Decode implements Message.
func (rr *ReadResponse) Decode(b []byte) error {
	if err := checkStructureSize(b, SMB2ReadResponseMinSize, SMB2ReadResponseStructureSize); err != nil {
		return err
	}

	data, err := bufferAt(b, uint32(b[2]), binary.LittleEndian.Uint32(b[4:8]))
	if err != nil {
		return err
	}

	rr.DataRemaining = binary.LittleEndian.Uint32(b[8:12])
	rr.Data = data
	return nil
}
