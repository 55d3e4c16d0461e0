package smb2

import (
	"encoding/binary"
	"errors"
)

const (
	PROTOCOL_SMB             = 0x424d53ff
	PROTOCOL_SMB2            = 0x424d53fe
	PROTOCOL_SMB2_ENCRYPTED  = 0x424d53fd
	PROTOCOL_SMB2_COMPRESSED = 0x424d53fc
)

const (
	// SMB2 command codes.
	SMB2_NEGOTIATE                     = 0x0000
	SMB2_SESSION_SETUP                 = 0x0001
	SMB2_LOGOFF                        = 0x0002
	SMB2_TREE_CONNECT                  = 0x0003
	SMB2_TREE_DISCONNECT               = 0x0004
	SMB2_CREATE                        = 0x0005
	SMB2_CLOSE                         = 0x0006
	SMB2_FLUSH                         = 0x0007
	SMB2_READ                          = 0x0008
	SMB2_WRITE                         = 0x0009
	SMB2_LOCK                          = 0x000a
	SMB2_IOCTL                         = 0x000b
	SMB2_CANCEL                        = 0x000c
	SMB2_ECHO                          = 0x000d
	SMB2_QUERY_DIRECTORY               = 0x000e
	SMB2_CHANGE_NOTIFY                 = 0x000f
	SMB2_QUERY_INFO                    = 0x0010
	SMB2_SET_INFO                      = 0x0011
	SMB2_OPLOCK_BREAK                  = 0x0012
	SMB2_SERVER_TO_CLIENT_NOTIFICATION = 0x0013
)

var commandNames = map[uint16]string{
	SMB2_NEGOTIATE:       "NEGOTIATE",
	SMB2_SESSION_SETUP:   "SESSION_SETUP",
	SMB2_LOGOFF:          "LOGOFF",
	SMB2_TREE_CONNECT:    "TREE_CONNECT",
	SMB2_TREE_DISCONNECT: "TREE_DISCONNECT",
	SMB2_CREATE:          "CREATE",
	SMB2_CLOSE:           "CLOSE",
	SMB2_FLUSH:           "FLUSH",
	SMB2_READ:            "READ",
	SMB2_WRITE:           "WRITE",
	SMB2_LOCK:            "LOCK",
	SMB2_IOCTL:           "IOCTL",
	SMB2_CANCEL:          "CANCEL",
	SMB2_ECHO:            "ECHO",
	SMB2_QUERY_DIRECTORY: "QUERY_DIRECTORY",
	SMB2_CHANGE_NOTIFY:   "CHANGE_NOTIFY",
	SMB2_QUERY_INFO:      "QUERY_INFO",
	SMB2_SET_INFO:        "SET_INFO",
	SMB2_OPLOCK_BREAK:    "OPLOCK_BREAK",
}

// CommandName returns a printable name of the command code.
func CommandName(command uint16) string {
	if name, ok := commandNames[command]; ok {
		return name
	}
	return "UNKNOWN"
}

const (
	// SMB2 header flags.
	FLAGS_SERVER_TO_REDIR    = 0x00000001
	FLAGS_ASYNC_COMMAND      = 0x00000002
	FLAGS_RELATED_OPERATIONS = 0x00000004
	FLAGS_SIGNED             = 0x00000008
	FLAGS_PRIORITY_MASK      = 0x00000070
	FLAGS_DFS_OPERATIONS     = 0x10000000
	FLAGS_REPLAY_OPERATION   = 0x20000000
)

var (
	ErrEncryptedMessage = errors.New("message encryption not supported")
	ErrWrongLength      = errors.New("wrong data length")
	ErrWrongFormat      = errors.New("wrong data format")
	ErrWrongProtocol    = errors.New("unsupported protocol")
)

const (
	SMB2HeaderSize = 64

	SMB2CompressionTransformHeaderSize = 16
	SMB2CompressionPayloadHeaderOffset = 8
	SMB2CompressionPayloadHeaderSize   = 8

	SMB2HeaderStructureSize = 64
)

// Header extends the raw byte sequence with SMB2 functionality.
type Header []byte

// IsSmb2 returns true if the SMB2 signature is detected in the header.
func (h Header) IsSmb2() bool {
	return len(h) >= 4 && h.ProtocolID() == PROTOCOL_SMB2
}

// IsCompressed returns true if the message starts with an SMB2_COMPRESSION_TRANSFORM_HEADER.
func (h Header) IsCompressed() bool {
	return len(h) >= 4 && h.ProtocolID() == PROTOCOL_SMB2_COMPRESSED
}

// Validate returns an error if the header is malformed, nil otherwise.
// Only the protocol signature and the structure size are looked at.
func (h Header) Validate() error {
	if len(h) < 4 {
		return ErrWrongLength
	}

	switch h.ProtocolID() {
	case PROTOCOL_SMB2:
	case PROTOCOL_SMB2_ENCRYPTED:
		return ErrEncryptedMessage
	default:
		return ErrWrongProtocol
	}

	if len(h) < SMB2HeaderSize {
		return ErrWrongLength
	}

	if binary.LittleEndian.Uint16(h[4:6]) != SMB2HeaderStructureSize {
		return ErrWrongFormat
	}

	return nil
}

// ProtocolID returns the ProtocolID of the header.
func (h Header) ProtocolID() uint32 {
	return binary.LittleEndian.Uint32(h[:4])
}

// SetProtocolID sets the ProtocolID of the header.
func (h Header) SetProtocolID(id uint32) {
	binary.LittleEndian.PutUint32(h[:4], id)
}

// CreditCharge returns the CreditCharge field of the SMB2 header.
func (h Header) CreditCharge() uint16 {
	return binary.LittleEndian.Uint16(h[6:8])
}

// Status returns the Status field of the SMB2 header.
func (h Header) Status() uint32 {
	return binary.LittleEndian.Uint32(h[8:12])
}

// Command returns the Command field of the SMB2 header.
func (h Header) Command() uint16 {
	return binary.LittleEndian.Uint16(h[12:14])
}

// Credits returns the CreditRequest/CreditResponse field of the SMB2 header.
func (h Header) Credits() uint16 {
	return binary.LittleEndian.Uint16(h[14:16])
}

// Flags returns the Flags field of the SMB2 header.
func (h Header) Flags() uint32 {
	return binary.LittleEndian.Uint32(h[16:20])
}

// SetFlags sets the Flags field of the SMB2 header.
func (h Header) SetFlags(flags uint32) {
	binary.LittleEndian.PutUint32(h[16:20], flags)
}

// IsFlagSet returns true if the specified bit(s) is (are) set in the Flags field of the SMB2 header.
func (h Header) IsFlagSet(flag uint32) bool {
	return h.Flags()&flag > 0
}

// SetFlag sets the specified bit(s) in the Flags field of the SMB2 header.
func (h Header) SetFlag(flag uint32) {
	h.SetFlags(h.Flags() | flag)
}

// NextCommand returns the NextCommand field of the SMB2 header.
func (h Header) NextCommand() uint32 {
	return binary.LittleEndian.Uint32(h[20:24])
}

// MessageID returns the MessageID field of the SMB2 header.
func (h Header) MessageID() uint64 {
	return binary.LittleEndian.Uint64(h[24:32])
}

// AsyncID returns the AsyncID field of the SMB2 header.
func (h Header) AsyncID() uint64 {
	return binary.LittleEndian.Uint64(h[32:40])
}

// TreeID returns the TreeID field of the SMB2 header.
func (h Header) TreeID() uint32 {
	return binary.LittleEndian.Uint32(h[36:40])
}

// SessionID returns the SessionID field of the SMB2 header.
func (h Header) SessionID() uint64 {
	return binary.LittleEndian.Uint64(h[40:48])
}

// Signature returns the Signature field of the SMB2 header.
func (h Header) Signature() []byte {
	signature := make([]byte, 16)
	copy(signature, h[48:64])
	return signature
}

// SetSignature sets the Signature field of the SMB2 header.
func (h Header) SetSignature(signature []byte) {
	copy(h[48:64], signature)
}

// WipeSignature clears the Signature field of the SMB2 header.
func (h Header) WipeSignature() {
	clear(h[48:64])
}

// OriginalCompressedSegmentSize returns the OriginalCompressedSegmentSize field of
// the SMB2_COMPRESSION_TRANSFORM_HEADER.
func (h Header) OriginalCompressedSegmentSize() uint32 {
	return binary.LittleEndian.Uint32(h[4:8])
}

// SetOriginalCompressedSegmentSize sets the OriginalCompressedSegmentSize field of
// the SMB2_COMPRESSION_TRANSFORM_HEADER.
func (h Header) SetOriginalCompressedSegmentSize(size uint32) {
	binary.LittleEndian.PutUint32(h[4:8], size)
}

// CompressionAlgorithm returns the CompressionAlgorithm field of the
// unchained SMB2_COMPRESSION_TRANSFORM_HEADER.
func (h Header) CompressionAlgorithm() uint16 {
	return binary.LittleEndian.Uint16(h[8:10])
}

// SetCompressionAlgorithm sets the CompressionAlgorithm field of the
// unchained SMB2_COMPRESSION_TRANSFORM_HEADER.
func (h Header) SetCompressionAlgorithm(algo uint16) {
	binary.LittleEndian.PutUint16(h[8:10], algo)
}

// CompressionFlags returns the Flags field of the SMB2_COMPRESSION_TRANSFORM_HEADER.
func (h Header) CompressionFlags() uint16 {
	return binary.LittleEndian.Uint16(h[10:12])
}

// SetCompressionFlags sets the Flags field of the SMB2_COMPRESSION_TRANSFORM_HEADER.
func (h Header) SetCompressionFlags(flags uint16) {
	binary.LittleEndian.PutUint16(h[10:12], flags)
}

// Offset returns the Offset field of the unchained SMB2_COMPRESSION_TRANSFORM_HEADER.
func (h Header) Offset() uint32 {
	return binary.LittleEndian.Uint32(h[12:16])
}

// SetOffset sets the Offset field of the unchained SMB2_COMPRESSION_TRANSFORM_HEADER.
func (h Header) SetOffset(offset uint32) {
	binary.LittleEndian.PutUint32(h[12:16], offset)
}

// PayloadHeader is a typecast from SMB2_COMPRESSION_TRANSFORM_HEADER to
// SMB2_COMPRESSION_CHAINED_PAYLOAD_HEADER.
type PayloadHeader []byte

// CompressionAlgorithm returns the CompressionAlgorithm field of the
// SMB2_COMPRESSION_CHAINED_PAYLOAD_HEADER.
func (ph PayloadHeader) CompressionAlgorithm() uint16 {
	return binary.LittleEndian.Uint16(ph[:2])
}

// SetCompressionAlgorithm sets the CompressionAlgorithm field of the
// SMB2_COMPRESSION_CHAINED_PAYLOAD_HEADER.
func (ph PayloadHeader) SetCompressionAlgorithm(algo uint16) {
	binary.LittleEndian.PutUint16(ph[:2], algo)
}

// Flags returns the Flags field of the SMB2_COMPRESSION_CHAINED_PAYLOAD_HEADER.
func (ph PayloadHeader) Flags() uint16 {
	return binary.LittleEndian.Uint16(ph[2:4])
}

// SetFlags sets the Flags field of the SMB2_COMPRESSION_CHAINED_PAYLOAD_HEADER.
func (ph PayloadHeader) SetFlags(flags uint16) {
	binary.LittleEndian.PutUint16(ph[2:4], flags)
}

// Length returns the Length field of the SMB2_COMPRESSION_CHAINED_PAYLOAD_HEADER.
func (ph PayloadHeader) Length() uint32 {
	return binary.LittleEndian.Uint32(ph[4:8])
}

// SetLength sets the Length field of the SMB2_COMPRESSION_CHAINED_PAYLOAD_HEADER.
func (ph PayloadHeader) SetLength(length uint32) {
	binary.LittleEndian.PutUint32(ph[4:8], length)
}

// PatternV1 represents a SMB2_COMPRESSION_PATTERN_PAYLOAD_V1 structure.
type PatternV1 struct {
	Pattern     uint8
	Repetitions uint32
}

// Marshal converts a PatternV1 structure into a byte sequence.
func (p PatternV1) Marshal() []byte {
	b := make([]byte, 8)
	b[0] = p.Pattern
	binary.LittleEndian.PutUint32(b[4:8], p.Repetitions)
	return b
}

// Unmarshal converts a byte sequence into a PatternV1 structure.
func (p *PatternV1) Unmarshal(b []byte) error {
	if len(b) != 8 {
		return ErrWrongLength
	}
	p.Pattern = b[0]
	p.Repetitions = binary.LittleEndian.Uint32(b[4:8])
	return nil
}

// PacketHeader is the decoded form of the 64-byte SMB2 header.
type PacketHeader struct {
	CreditCharge uint16
	Status       uint32
	Command      uint16
	Credits      uint16 // CreditRequest on requests, CreditResponse on responses
	Flags        uint32
	NextCommand  uint32
	MessageID    uint64
	AsyncID      uint64 // only when FLAGS_ASYNC_COMMAND is set
	TreeID       uint32 // only when FLAGS_ASYNC_COMMAND is clear
	SessionID    uint64
	Signature    [16]byte
}

// IsResponse reports whether the header belongs to a server response.
func (ph *PacketHeader) IsResponse() bool {
	return ph.Flags&FLAGS_SERVER_TO_REDIR != 0
}

// IsAsync reports whether the header uses the asynchronous layout.
func (ph *PacketHeader) IsAsync() bool {
	return ph.Flags&FLAGS_ASYNC_COMMAND != 0
}

// encode writes the header into the first 64 bytes of b.
func (ph *PacketHeader) encode(b []byte) {
	h := Header(b)
	h.SetProtocolID(PROTOCOL_SMB2)
	binary.LittleEndian.PutUint16(b[4:6], SMB2HeaderStructureSize)
	binary.LittleEndian.PutUint16(b[6:8], ph.CreditCharge)
	binary.LittleEndian.PutUint32(b[8:12], ph.Status)
	binary.LittleEndian.PutUint16(b[12:14], ph.Command)
	binary.LittleEndian.PutUint16(b[14:16], ph.Credits)
	binary.LittleEndian.PutUint32(b[16:20], ph.Flags)
	binary.LittleEndian.PutUint32(b[20:24], ph.NextCommand)
	binary.LittleEndian.PutUint64(b[24:32], ph.MessageID)
	if ph.IsAsync() {
		binary.LittleEndian.PutUint64(b[32:40], ph.AsyncID)
	} else {
		binary.LittleEndian.PutUint32(b[32:36], 0)
		binary.LittleEndian.PutUint32(b[36:40], ph.TreeID)
	}
	binary.LittleEndian.PutUint64(b[40:48], ph.SessionID)
	copy(b[48:64], ph.Signature[:])
}

// decode reads the header from a validated 64-byte prefix.
func (ph *PacketHeader) decode(b []byte) {
	h := Header(b)
	*ph = PacketHeader{
		CreditCharge: h.CreditCharge(),
		Status:       h.Status(),
		Command:      h.Command(),
		Credits:      h.Credits(),
		Flags:        h.Flags(),
		NextCommand:  h.NextCommand(),
		MessageID:    h.MessageID(),
		SessionID:    h.SessionID(),
	}
	if ph.IsAsync() {
		ph.AsyncID = h.AsyncID()
	} else {
		ph.TreeID = h.TreeID()
	}
	copy(ph.Signature[:], b[48:64])
}
