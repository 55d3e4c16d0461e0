package compress

import (
	"encoding/binary"
	"errors"
	"slices"

	"github.com/VasilyKirillov/smbjclient/smb2"
)

var (
	// ErrNotCompressed is returned by Decompress for a frame without a compression transform header.
	ErrNotCompressed = errors.New("message is not compressed")

	// ErrInvalidPayload is returned when a compressed frame is inconsistent.
	ErrInvalidPayload = errors.New("invalid compressed payload")
)

const (
	// minCompressSize is the smallest segment handed to a compressor.
	minCompressSize = 1024

	// patternScanSize is the smallest message scanned for leading and trailing runs.
	patternScanSize = 32
)

// Transform applies the SMB 3.1.1 compression transform with the
// algorithms negotiated on one connection.
type Transform struct {
	Algorithms []uint16
	Chained    bool
	MaxSize    uint32 // largest OriginalCompressedSegmentSize accepted
}

// Enabled reports whether any algorithm was negotiated.
func (t *Transform) Enabled() bool {
	return t != nil && len(t.Algorithms) > 0
}

// algorithm returns the first negotiated algorithm that needs a compressor.
func (t *Transform) algorithm() uint16 {
	for _, id := range t.Algorithms {
		if id != smb2.COMPRESSION_PATTERN_V1 && id != smb2.COMPRESSION_NONE {
			return id
		}
	}
	return smb2.COMPRESSION_NONE
}

// Compress wraps msg in a compression transform header. The message is
// returned unchanged when compression would not make it smaller.
func (t *Transform) Compress(msg []byte) []byte {
	if !t.Enabled() {
		return msg
	}
	if t.Chained {
		return t.compressChained(msg)
	}
	return t.compressUnchained(msg)
}

func (t *Transform) compressUnchained(msg []byte) []byte {
	algo := t.algorithm()
	if algo == smb2.COMPRESSION_NONE {
		return msg
	}

	output, err := New(algo).Compress(msg)
	if err != nil || len(output)+smb2.SMB2CompressionTransformHeaderSize >= len(msg) {
		return msg
	}

	h := smb2.Header(make([]byte, smb2.SMB2CompressionTransformHeaderSize))
	h.SetProtocolID(smb2.PROTOCOL_SMB2_COMPRESSED)
	h.SetOriginalCompressedSegmentSize(uint32(len(msg)))
	h.SetCompressionAlgorithm(algo)
	h.SetCompressionFlags(smb2.COMPRESSION_CAPABILITIES_FLAG_NONE)
	return append(h, output...)
}

// chain accumulates SMB2_COMPRESSION_CHAINED_PAYLOAD_HEADER entries.
type chain struct {
	out []byte
}

func (c *chain) add(algo uint16, originalSize int, payload []byte) {
	ph := smb2.PayloadHeader(make([]byte, smb2.SMB2CompressionPayloadHeaderSize))
	ph.SetCompressionAlgorithm(algo)
	if len(c.out) == 0 {
		ph.SetFlags(smb2.COMPRESSION_CAPABILITIES_FLAG_CHAINED)
	}

	length := len(payload)
	if algo != smb2.COMPRESSION_NONE && algo != smb2.COMPRESSION_PATTERN_V1 {
		length += 4
	}
	ph.SetLength(uint32(length))

	c.out = append(c.out, ph...)
	if algo != smb2.COMPRESSION_NONE && algo != smb2.COMPRESSION_PATTERN_V1 {
		c.out = binary.LittleEndian.AppendUint32(c.out, uint32(originalSize))
	}
	c.out = append(c.out, payload...)
}

func (t *Transform) compressChained(msg []byte) []byte {
	var c chain
	start, end := 0, len(msg)

	var bck *smb2.PatternV1
	if len(msg) > patternScanSize && slices.Contains(t.Algorithms, smb2.COMPRESSION_PATTERN_V1) {
		var fwd *smb2.PatternV1
		fwd, bck = ScanForDataPatternsV1(msg)
		if fwd.Repetitions > 0 {
			c.add(smb2.COMPRESSION_PATTERN_V1, int(fwd.Repetitions), fwd.Marshal())
			start += int(fwd.Repetitions)
		}
		if bck != nil && bck.Repetitions > 0 {
			end -= int(bck.Repetitions)
		}
	}

	if start < end {
		segment := msg[start:end]
		algo := t.algorithm()
		var buf []byte
		if algo != smb2.COMPRESSION_NONE && len(segment) > minCompressSize {
			var err error
			if buf, err = New(algo).Compress(segment); err != nil {
				buf = nil
			}
		}
		if buf != nil {
			c.add(algo, len(segment), buf)
		} else {
			c.add(smb2.COMPRESSION_NONE, len(segment), segment)
		}
	}

	if bck != nil && bck.Repetitions > 0 {
		c.add(smb2.COMPRESSION_PATTERN_V1, int(bck.Repetitions), bck.Marshal())
	}

	headerSize := smb2.SMB2CompressionTransformHeaderSize - smb2.SMB2CompressionPayloadHeaderSize
	if len(c.out)+headerSize >= len(msg) {
		return msg
	}

	h := smb2.Header(make([]byte, headerSize, headerSize+len(c.out)))
	h.SetProtocolID(smb2.PROTOCOL_SMB2_COMPRESSED)
	h.SetOriginalCompressedSegmentSize(uint32(len(msg)))
	return append(h, c.out...)
}

// Decompress restores the SMB2 message carried by a compression transform.
func (t *Transform) Decompress(msg []byte) ([]byte, error) {
	if !smb2.Header(msg).IsCompressed() {
		return nil, ErrNotCompressed
	}
	if len(msg) < smb2.SMB2CompressionTransformHeaderSize-smb2.SMB2CompressionPayloadHeaderSize {
		return nil, smb2.ErrWrongLength
	}

	ocss := smb2.Header(msg).OriginalCompressedSegmentSize()
	if t.MaxSize > 0 && ocss > t.MaxSize {
		return nil, ErrInvalidPayload
	}

	var (
		output []byte
		prefix int
		err    error
	)
	if len(msg) >= smb2.SMB2CompressionTransformHeaderSize && t.Chained &&
		smb2.Header(msg).CompressionFlags() == smb2.COMPRESSION_CAPABILITIES_FLAG_CHAINED {
		output, err = t.decompressChained(msg, ocss)
	} else {
		output, prefix, err = t.decompressUnchained(msg, ocss)
	}
	if err != nil {
		return nil, err
	}

	if uint32(len(output)-prefix) != ocss {
		return nil, smb2.ErrWrongLength
	}
	if !smb2.Header(output).IsSmb2() {
		return nil, smb2.ErrWrongProtocol
	}

	return output, nil
}

func (t *Transform) decompressChained(msg []byte, ocss uint32) ([]byte, error) {
	var output []byte
	offset := smb2.SMB2CompressionPayloadHeaderOffset
	for offset < len(msg) {
		if offset+smb2.SMB2CompressionPayloadHeaderSize > len(msg) {
			return nil, smb2.ErrWrongFormat
		}

		ph := smb2.PayloadHeader(msg[offset:])
		algo := ph.CompressionAlgorithm()
		if algo != smb2.COMPRESSION_NONE && !slices.Contains(t.Algorithms, algo) {
			return nil, ErrInvalidPayload
		}

		length := int(ph.Length())
		data := msg[offset+smb2.SMB2CompressionPayloadHeaderSize:]
		if length > len(data) {
			return nil, ErrInvalidPayload
		}
		data = data[:length]

		switch algo {
		case smb2.COMPRESSION_NONE:
			output = append(output, data...)

		case smb2.COMPRESSION_PATTERN_V1:
			var v1 smb2.PatternV1
			if err := v1.Unmarshal(data); err != nil {
				return nil, err
			}
			if v1.Repetitions > ocss {
				return nil, ErrInvalidPayload
			}
			output = append(output, expand(v1)...)

		default:
			if len(data) < 4 {
				return nil, ErrInvalidPayload
			}
			ops := binary.LittleEndian.Uint32(data[:4])
			if ops > ocss {
				return nil, ErrInvalidPayload
			}
			chunk, err := New(algo).Decompress(data[4:], int(ops))
			if err != nil {
				return nil, err
			}
			if uint32(len(chunk)) != ops {
				return nil, smb2.ErrWrongLength
			}
			output = append(output, chunk...)
		}

		if uint32(len(output)) > ocss {
			return nil, ErrInvalidPayload
		}
		offset += smb2.SMB2CompressionPayloadHeaderSize + length
	}

	return output, nil
}

func (t *Transform) decompressUnchained(msg []byte, ocss uint32) ([]byte, int, error) {
	if len(msg) < smb2.SMB2CompressionTransformHeaderSize {
		return nil, 0, smb2.ErrWrongLength
	}

	h := smb2.Header(msg)
	body := msg[smb2.SMB2CompressionTransformHeaderSize:]
	prefix := int(h.Offset())
	if prefix > len(body) {
		return nil, 0, ErrInvalidPayload
	}

	algo := h.CompressionAlgorithm()
	if !slices.Contains(t.Algorithms, algo) {
		return nil, 0, ErrInvalidPayload
	}

	output := append([]byte(nil), body[:prefix]...)
	switch algo {
	case smb2.COMPRESSION_PATTERN_V1:
		var v1 smb2.PatternV1
		if err := v1.Unmarshal(body[prefix:]); err != nil {
			return nil, 0, err
		}
		if v1.Repetitions > ocss {
			return nil, 0, ErrInvalidPayload
		}
		output = append(output, expand(v1)...)

	default:
		buf, err := New(algo).Decompress(body[prefix:], int(ocss))
		if err != nil {
			return nil, 0, err
		}
		output = append(output, buf...)
	}

	return output, prefix, nil
}
