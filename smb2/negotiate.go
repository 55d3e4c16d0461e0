package smb2

import (
	"encoding/binary"
	"errors"
	"slices"

	"github.com/VasilyKirillov/smbjclient/utils"
)

const (
	SMB2NegotiateRequestMinSize       = 36
	SMB2NegotiateRequestStructureSize = 36

	SMB2NegotiateResponseMinSize       = 64
	SMB2NegotiateResponseStructureSize = 65
)

var (
	ErrDialectNotSupported = errors.New("dialect not supported")
	ErrInvalidParameter    = errors.New("wrong parameter supplied")
)

// NegotiateContext is a single SMB2 NEGOTIATE_CONTEXT, used by dialect 3.1.1.
type NegotiateContext struct {
	ContextType uint16
	Data        []byte
}

// NegotiateRequest represents an SMB2_NEGOTIATE request.
type NegotiateRequest struct {
	SecurityMode      uint16
	Capabilities      uint32
	ClientGuid        [16]byte
	Dialects          []uint16
	NegotiateContexts []NegotiateContext
}

// Command implements Message.
func (nr *NegotiateRequest) Command() uint16 { return SMB2_NEGOTIATE }

func (nr *NegotiateRequest) contextOffset() int {
	return utils.Roundup(SMB2HeaderSize+SMB2NegotiateRequestMinSize+2*len(nr.Dialects), 8)
}

// Size implements Message.
func (nr *NegotiateRequest) Size() int {
	if len(nr.NegotiateContexts) == 0 {
		return SMB2NegotiateRequestMinSize + 2*len(nr.Dialects)
	}
	return nr.contextOffset() - SMB2HeaderSize + negotiateContextsSize(nr.NegotiateContexts)
}

// Encode implements Message.
func (nr *NegotiateRequest) Encode(b []byte) {
	binary.LittleEndian.PutUint16(b[:2], SMB2NegotiateRequestStructureSize)
	binary.LittleEndian.PutUint16(b[2:4], uint16(len(nr.Dialects)))
	binary.LittleEndian.PutUint16(b[4:6], nr.SecurityMode)
	binary.LittleEndian.PutUint32(b[8:12], nr.Capabilities)
	copy(b[12:28], nr.ClientGuid[:])
	for i, d := range nr.Dialects {
		binary.LittleEndian.PutUint16(b[36+2*i:38+2*i], d)
	}

	if len(nr.NegotiateContexts) > 0 {
		off := nr.contextOffset()
		binary.LittleEndian.PutUint32(b[28:32], uint32(off))
		binary.LittleEndian.PutUint16(b[32:34], uint16(len(nr.NegotiateContexts)))
		encodeNegotiateContexts(b[off-SMB2HeaderSize:], nr.NegotiateContexts)
	}
}

// Decode implements Message.
func (nr *NegotiateRequest) Decode(b []byte) error {
	if err := checkStructureSize(b, SMB2NegotiateRequestMinSize, SMB2NegotiateRequestStructureSize); err != nil {
		return err
	}

	count := int(binary.LittleEndian.Uint16(b[2:4]))
	if count == 0 {
		return ErrInvalidParameter
	}
	if len(b) < SMB2NegotiateRequestMinSize+2*count {
		return ErrWrongLength
	}

	*nr = NegotiateRequest{
		SecurityMode: binary.LittleEndian.Uint16(b[4:6]),
		Capabilities: binary.LittleEndian.Uint32(b[8:12]),
		Dialects:     make([]uint16, count),
	}
	copy(nr.ClientGuid[:], b[12:28])
	for i := range count {
		nr.Dialects[i] = binary.LittleEndian.Uint16(b[36+2*i : 38+2*i])
	}

	if n := int(binary.LittleEndian.Uint16(b[32:34])); n > 0 {
		off := int(binary.LittleEndian.Uint32(b[28:32]))
		if off < SMB2HeaderSize || off-SMB2HeaderSize > len(b) {
			return ErrWrongFormat
		}
		ncs, err := decodeNegotiateContexts(b[off-SMB2HeaderSize:], n)
		if err != nil {
			return err
		}
		nr.NegotiateContexts = ncs
	}

	return nil
}

// MaxCommonDialect returns the highest dialect in the request that is also in supported.
func (nr *NegotiateRequest) MaxCommonDialect(supported []uint16) uint16 {
	dialect := uint16(SMB_DIALECT_UNKNOWN)
	for _, d := range nr.Dialects {
		if slices.Contains(supported, d) && (dialect == SMB_DIALECT_UNKNOWN || d > dialect) {
			dialect = d
		}
	}
	return dialect
}

// NegotiateResponse represents an SMB2_NEGOTIATE response.
type NegotiateResponse struct {
	SecurityMode      uint16
	DialectRevision   uint16
	ServerGuid        [16]byte
	Capabilities      uint32
	MaxTransactSize   uint32
	MaxReadSize       uint32
	MaxWriteSize      uint32
	SystemTime        uint64
	ServerStartTime   uint64
	SecurityBuffer    []byte
	NegotiateContexts []NegotiateContext
}

// Command implements Message.
func (nr *NegotiateResponse) Command() uint16 { return SMB2_NEGOTIATE }

func (nr *NegotiateResponse) contextOffset() int {
	return utils.Roundup(SMB2HeaderSize+SMB2NegotiateResponseMinSize+len(nr.SecurityBuffer), 8)
}

// Size implements Message.
func (nr *NegotiateResponse) Size() int {
	if len(nr.NegotiateContexts) == 0 {
		return SMB2NegotiateResponseMinSize + len(nr.SecurityBuffer)
	}
	return nr.contextOffset() - SMB2HeaderSize + negotiateContextsSize(nr.NegotiateContexts)
}

// Encode implements Message.
func (nr *NegotiateResponse) Encode(b []byte) {
	binary.LittleEndian.PutUint16(b[:2], SMB2NegotiateResponseStructureSize)
	binary.LittleEndian.PutUint16(b[2:4], nr.SecurityMode)
	binary.LittleEndian.PutUint16(b[4:6], nr.DialectRevision)
	binary.LittleEndian.PutUint16(b[6:8], uint16(len(nr.NegotiateContexts)))
	copy(b[8:24], nr.ServerGuid[:])
	binary.LittleEndian.PutUint32(b[24:28], nr.Capabilities)
	binary.LittleEndian.PutUint32(b[28:32], nr.MaxTransactSize)
	binary.LittleEndian.PutUint32(b[32:36], nr.MaxReadSize)
	binary.LittleEndian.PutUint32(b[36:40], nr.MaxWriteSize)
	binary.LittleEndian.PutUint64(b[40:48], nr.SystemTime)
	binary.LittleEndian.PutUint64(b[48:56], nr.ServerStartTime)
	binary.LittleEndian.PutUint16(b[56:58], SMB2HeaderSize+SMB2NegotiateResponseMinSize)
	binary.LittleEndian.PutUint16(b[58:60], uint16(len(nr.SecurityBuffer)))
	copy(b[SMB2NegotiateResponseMinSize:], nr.SecurityBuffer)

	if len(nr.NegotiateContexts) > 0 {
		off := nr.contextOffset()
		binary.LittleEndian.PutUint32(b[60:64], uint32(off))
		encodeNegotiateContexts(b[off-SMB2HeaderSize:], nr.NegotiateContexts)
	}
}

// Decode implements Message.
func (nr *NegotiateResponse) Decode(b []byte) error {
	if err := checkStructureSize(b, SMB2NegotiateResponseMinSize, SMB2NegotiateResponseStructureSize); err != nil {
		return err
	}

	*nr = NegotiateResponse{
		SecurityMode:    binary.LittleEndian.Uint16(b[2:4]),
		DialectRevision: binary.LittleEndian.Uint16(b[4:6]),
		Capabilities:    binary.LittleEndian.Uint32(b[24:28]),
		MaxTransactSize: binary.LittleEndian.Uint32(b[28:32]),
		MaxReadSize:     binary.LittleEndian.Uint32(b[32:36]),
		MaxWriteSize:    binary.LittleEndian.Uint32(b[36:40]),
		SystemTime:      binary.LittleEndian.Uint64(b[40:48]),
		ServerStartTime: binary.LittleEndian.Uint64(b[48:56]),
	}
	copy(nr.ServerGuid[:], b[8:24])

	sec, err := bufferAt(b, uint32(binary.LittleEndian.Uint16(b[56:58])), uint32(binary.LittleEndian.Uint16(b[58:60])))
	if err != nil {
		return err
	}
	nr.SecurityBuffer = sec

	if n := int(binary.LittleEndian.Uint16(b[6:8])); n > 0 && nr.DialectRevision == SMB_DIALECT_311 {
		off := int(binary.LittleEndian.Uint32(b[60:64]))
		if off < SMB2HeaderSize || off-SMB2HeaderSize > len(b) {
			return ErrWrongFormat
		}
		ncs, err := decodeNegotiateContexts(b[off-SMB2HeaderSize:], n)
		if err != nil {
			return err
		}
		nr.NegotiateContexts = ncs
	}

	return nil
}

func negotiateContextsSize(ncs []NegotiateContext) int {
	size := 0
	for i, nc := range ncs {
		if i > 0 {
			size = utils.Roundup(size, 8)
		}
		size += 8 + len(nc.Data)
	}
	return size
}

// encodeNegotiateContexts writes the contexts into b, which must start 8-byte aligned.
func encodeNegotiateContexts(b []byte, ncs []NegotiateContext) {
	off := 0
	for i, nc := range ncs {
		if i > 0 {
			off = utils.Roundup(off, 8)
		}
		binary.LittleEndian.PutUint16(b[off:off+2], nc.ContextType)
		binary.LittleEndian.PutUint16(b[off+2:off+4], uint16(len(nc.Data)))
		copy(b[off+8:], nc.Data)
		off += 8 + len(nc.Data)
	}
}

func decodeNegotiateContexts(b []byte, count int) ([]NegotiateContext, error) {
	ncs := make([]NegotiateContext, 0, count)
	off := 0
	for i := range count {
		if i > 0 {
			off = utils.Roundup(off, 8)
		}
		if off+8 > len(b) {
			return nil, ErrWrongLength
		}
		typ := binary.LittleEndian.Uint16(b[off : off+2])
		length := int(binary.LittleEndian.Uint16(b[off+2 : off+4]))
		if off+8+length > len(b) {
			return nil, ErrWrongLength
		}
		var data []byte
		if length > 0 {
			data = append(data, b[off+8:off+8+length]...)
		}
		ncs = append(ncs, NegotiateContext{ContextType: typ, Data: data})
		off += 8 + length
	}
	return ncs, nil
}

// GetPreauthIntegrityCapabilities returns the SMB2_PREAUTH_INTEGRITY_CAPABILITIES context.
// Exactly one such context must be present.
func GetPreauthIntegrityCapabilities(ncs []NegotiateContext) (hashAlgos []uint16, salt []byte, err error) {
	for _, nc := range ncs {
		if nc.ContextType == PREAUTH_INTEGRITY_CAPABILITIES {
			if len(hashAlgos) != 0 {
				return nil, nil, ErrInvalidParameter
			}
			if len(nc.Data) < 6 {
				return nil, nil, ErrInvalidParameter
			}
			count := int(binary.LittleEndian.Uint16(nc.Data[:2]))
			length := int(binary.LittleEndian.Uint16(nc.Data[2:4]))
			if count == 0 || len(nc.Data) < 4+2*count+length {
				return nil, nil, ErrInvalidParameter
			}
			salt = append([]byte(nil), nc.Data[4+2*count:4+2*count+length]...)
			for i := range count {
				hashAlgos = append(hashAlgos, binary.LittleEndian.Uint16(nc.Data[4+i*2:6+i*2]))
			}
		}
	}
	if len(hashAlgos) == 0 {
		return nil, nil, ErrInvalidParameter
	}
	return
}

// GetCompressionCapabilities returns the SMB2_COMPRESSION_CAPABILITIES context, if present.
func GetCompressionCapabilities(ncs []NegotiateContext) (flags uint32, algos []uint16, err error) {
	for _, nc := range ncs {
		if nc.ContextType == COMPRESSION_CAPABILITIES {
			if len(algos) != 0 {
				return 0, nil, ErrInvalidParameter
			}
			if len(nc.Data) < 8 {
				return 0, nil, ErrInvalidParameter
			}
			count := int(binary.LittleEndian.Uint16(nc.Data[:2]))
			if count == 0 || len(nc.Data) < 8+2*count {
				return 0, nil, ErrInvalidParameter
			}
			flags = binary.LittleEndian.Uint32(nc.Data[4:8])
			for i := range count {
				algos = append(algos, binary.LittleEndian.Uint16(nc.Data[8+i*2:10+i*2]))
			}
		}
	}
	return
}

// GetSigningCapabilities returns the SMB2_SIGNING_CAPABILITIES context, if present.
func GetSigningCapabilities(ncs []NegotiateContext) (algos []uint16, err error) {
	for _, nc := range ncs {
		if nc.ContextType == SIGNING_CAPABILITIES {
			if len(algos) != 0 {
				return nil, ErrInvalidParameter
			}
			if len(nc.Data) < 4 {
				return nil, ErrInvalidParameter
			}
			count := int(binary.LittleEndian.Uint16(nc.Data[:2]))
			if count == 0 || len(nc.Data) < 2+2*count {
				return nil, ErrInvalidParameter
			}
			for i := range count {
				algos = append(algos, binary.LittleEndian.Uint16(nc.Data[2+i*2:4+i*2]))
			}
		}
	}
	return
}

// PreauthIntegrityCapabilities forms an SMB2_PREAUTH_INTEGRITY_CAPABILITIES context
// offering SHA-512 with the given salt.
func PreauthIntegrityCapabilities(salt []byte) NegotiateContext {
	data := make([]byte, 6+len(salt))
	binary.LittleEndian.PutUint16(data[:2], 1)
	binary.LittleEndian.PutUint16(data[2:4], uint16(len(salt)))
	binary.LittleEndian.PutUint16(data[4:6], SHA_512)
	copy(data[6:], salt)
	return NegotiateContext{ContextType: PREAUTH_INTEGRITY_CAPABILITIES, Data: data}
}

// CompressionCapabilities forms an SMB2_COMPRESSION_CAPABILITIES context.
func CompressionCapabilities(flags uint32, algos []uint16) NegotiateContext {
	data := make([]byte, 8+2*len(algos))
	binary.LittleEndian.PutUint16(data[:2], uint16(len(algos)))
	binary.LittleEndian.PutUint32(data[4:8], flags)
	for i, algo := range algos {
		binary.LittleEndian.PutUint16(data[8+i*2:10+i*2], algo)
	}
	return NegotiateContext{ContextType: COMPRESSION_CAPABILITIES, Data: data}
}

// SigningCapabilities forms an SMB2_SIGNING_CAPABILITIES context listing algos
// in order of preference.
func SigningCapabilities(algos []uint16) NegotiateContext {
	data := make([]byte, 2+2*len(algos))
	binary.LittleEndian.PutUint16(data[:2], uint16(len(algos)))
	for i, algo := range algos {
		binary.LittleEndian.PutUint16(data[2+i*2:4+i*2], algo)
	}
	return NegotiateContext{ContextType: SIGNING_CAPABILITIES, Data: data}
}
