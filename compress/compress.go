package compress

import (
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"

	"github.com/VasilyKirillov/smbjclient/smb2"
)

var (
	// ErrIncompressible is returned when the compressed form would not be smaller.
	ErrIncompressible = errors.New("data is incompressible")

	// ErrUnsupportedAlgorithm is returned for algorithms the package does not implement.
	ErrUnsupportedAlgorithm = errors.New("unsupported compression algorithm")

	errTruncated   = errors.New("truncated compressed stream")
	errTooLong     = errors.New("decompressed data exceeds the expected size")
	errBadDistance = errors.New("match distance out of range")
)

// Algorithms lists the compression algorithms the package implements, in
// order of preference.
var Algorithms = []uint16{
	smb2.COMPRESSION_LZ4,
	smb2.COMPRESSION_LZ77,
	smb2.COMPRESSION_LZNT1,
	smb2.COMPRESSION_PATTERN_V1,
}

// Compressor performs compression and decompression of data.
type Compressor struct {
	algorithm uint16
}

// New returns an initialized Compressor.
func New(algo uint16) *Compressor {
	return &Compressor{algo}
}

// Compress compresses the provided input.
func (c *Compressor) Compress(src []byte) ([]byte, error) {
	switch c.algorithm {
	case smb2.COMPRESSION_LZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		n, err := lz4.CompressBlock(src, dst, nil)
		if err != nil {
			return nil, err
		}
		if n == 0 || n >= len(src) {
			return nil, ErrIncompressible
		}
		return dst[:n], nil

	case smb2.COMPRESSION_LZ77:
		return smaller(lz77Compress(src), src)

	case smb2.COMPRESSION_LZNT1:
		return smaller(lznt1Compress(src), src)

	default:
		return nil, fmt.Errorf("%w: 0x%04x", ErrUnsupportedAlgorithm, c.algorithm)
	}
}

func smaller(out, src []byte) ([]byte, error) {
	if len(out) == 0 || len(out) >= len(src) {
		return nil, ErrIncompressible
	}
	return out, nil
}

// Decompress decompresses the provided input. The output never exceeds limit bytes.
func (c *Compressor) Decompress(src []byte, limit int) ([]byte, error) {
	switch c.algorithm {
	case smb2.COMPRESSION_LZ4:
		dst := make([]byte, limit)
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return nil, err
		}
		return dst[:n], nil

	case smb2.COMPRESSION_LZ77:
		return lz77Decompress(src, limit)

	case smb2.COMPRESSION_LZNT1:
		return lznt1Decompress(src, limit)

	default:
		return nil, fmt.Errorf("%w: 0x%04x", ErrUnsupportedAlgorithm, c.algorithm)
	}
}
