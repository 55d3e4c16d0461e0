package compress

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VasilyKirillov/smbjclient/smb2"
)

func writeMessage(data []byte) []byte {
	return smb2.Encode(&smb2.Packet{
		Header: smb2.PacketHeader{Command: smb2.SMB2_WRITE, MessageID: 7, CreditCharge: 1, SessionID: 42, TreeID: 3},
		Body:   &smb2.WriteRequest{Offset: 4096, FileID: smb2.FileID{1, 2, 3}, Data: data},
	})
}

func randomBytes(n int) []byte {
	r := rand.New(rand.NewSource(1))
	b := make([]byte, n)
	r.Read(b)
	return b
}

func TestCompressorLZ4(t *testing.T) {
	src := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 200)
	c := New(smb2.COMPRESSION_LZ4)

	out, err := c.Compress(src)
	require.NoError(t, err)
	assert.Less(t, len(out), len(src))

	back, err := c.Decompress(out, len(src))
	require.NoError(t, err)
	assert.Equal(t, src, back)

	_, err = c.Decompress(out, len(src)/2)
	assert.Error(t, err)

	_, err = c.Compress(randomBytes(4096))
	assert.ErrorIs(t, err, ErrIncompressible)
}

func TestCompressorUnsupported(t *testing.T) {
	_, err := New(smb2.COMPRESSION_LZ77_HUFFMAN).Compress([]byte("abc"))
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
	_, err = New(smb2.COMPRESSION_LZ77_HUFFMAN).Decompress([]byte("abc"), 3)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestScanForDataPatternsV1(t *testing.T) {
	buf := append(bytes.Repeat([]byte{'a'}, 100), []byte("xyz")...)
	buf = append(buf, bytes.Repeat([]byte{'b'}, 70)...)
	fwd, bck := ScanForDataPatternsV1(buf)
	require.NotNil(t, bck)
	assert.Equal(t, smb2.PatternV1{Pattern: 'a', Repetitions: 100}, *fwd)
	assert.Equal(t, smb2.PatternV1{Pattern: 'b', Repetitions: 70}, *bck)

	fwd, bck = ScanForDataPatternsV1([]byte("aaab" + string(bytes.Repeat([]byte{'c'}, 10))))
	assert.Zero(t, fwd.Repetitions)
	assert.Zero(t, bck.Repetitions)

	fwd, bck = ScanForDataPatternsV1(bytes.Repeat([]byte{0}, 200))
	assert.Equal(t, uint32(200), fwd.Repetitions)
	assert.Nil(t, bck)

	fwd, bck = ScanForDataPatternsV1(nil)
	assert.Nil(t, fwd)
	assert.Nil(t, bck)
}

func TestTransformChainedRoundTrip(t *testing.T) {
	tr := &Transform{Algorithms: []uint16{smb2.COMPRESSION_LZ4, smb2.COMPRESSION_PATTERN_V1}, Chained: true}
	msg := writeMessage(bytes.Repeat([]byte("0123456789abcdef"), 512))

	out := tr.Compress(msg)
	require.True(t, smb2.Header(out).IsCompressed())
	assert.Less(t, len(out), len(msg))
	assert.Equal(t, uint32(len(msg)), smb2.Header(out).OriginalCompressedSegmentSize())
	assert.Equal(t, uint16(smb2.COMPRESSION_LZ4), smb2.PayloadHeader(out[8:]).CompressionAlgorithm())
	assert.Equal(t, uint16(smb2.COMPRESSION_CAPABILITIES_FLAG_CHAINED), smb2.PayloadHeader(out[8:]).Flags())

	back, err := tr.Decompress(out)
	require.NoError(t, err)
	assert.Equal(t, msg, back)
}

func TestTransformChainedPattern(t *testing.T) {
	tr := &Transform{Algorithms: []uint16{smb2.COMPRESSION_PATTERN_V1}, Chained: true}
	msg := writeMessage(make([]byte, 4096))

	out := tr.Compress(msg)
	require.True(t, smb2.Header(out).IsCompressed())
	assert.Less(t, len(out), 256)

	// leading header bytes travel uncompressed, the zero tail as one pattern
	first := smb2.PayloadHeader(out[8:])
	assert.Equal(t, uint16(smb2.COMPRESSION_NONE), first.CompressionAlgorithm())
	last := smb2.PayloadHeader(out[len(out)-16:])
	assert.Equal(t, uint16(smb2.COMPRESSION_PATTERN_V1), last.CompressionAlgorithm())
	assert.Equal(t, uint32(8), last.Length())

	back, err := tr.Decompress(out)
	require.NoError(t, err)
	assert.Equal(t, msg, back)
}

func TestTransformUnchainedRoundTrip(t *testing.T) {
	tr := &Transform{Algorithms: []uint16{smb2.COMPRESSION_LZ4}}
	msg := writeMessage(bytes.Repeat([]byte("hello world "), 400))

	out := tr.Compress(msg)
	require.True(t, smb2.Header(out).IsCompressed())
	assert.Equal(t, uint16(smb2.COMPRESSION_LZ4), smb2.Header(out).CompressionAlgorithm())
	assert.Zero(t, smb2.Header(out).Offset())

	back, err := tr.Decompress(out)
	require.NoError(t, err)
	assert.Equal(t, msg, back)
}

func TestTransformUnchainedOffset(t *testing.T) {
	tr := &Transform{Algorithms: []uint16{smb2.COMPRESSION_LZ4}}
	msg := writeMessage(bytes.Repeat([]byte("abcd"), 1000))

	// header sent in the clear, body compressed
	body, err := New(smb2.COMPRESSION_LZ4).Compress(msg[smb2.SMB2HeaderSize:])
	require.NoError(t, err)
	h := smb2.Header(make([]byte, smb2.SMB2CompressionTransformHeaderSize))
	h.SetProtocolID(smb2.PROTOCOL_SMB2_COMPRESSED)
	h.SetOriginalCompressedSegmentSize(uint32(len(msg) - smb2.SMB2HeaderSize))
	h.SetCompressionAlgorithm(smb2.COMPRESSION_LZ4)
	h.SetOffset(smb2.SMB2HeaderSize)
	frame := append(append([]byte(h), msg[:smb2.SMB2HeaderSize]...), body...)

	back, err := tr.Decompress(frame)
	require.NoError(t, err)
	assert.Equal(t, msg, back)
}

func TestTransformIncompressible(t *testing.T) {
	msg := randomBytes(3000)
	for _, chained := range []bool{false, true} {
		tr := &Transform{Algorithms: []uint16{smb2.COMPRESSION_LZ4, smb2.COMPRESSION_PATTERN_V1}, Chained: chained}
		assert.Equal(t, msg, tr.Compress(msg))
	}

	var off *Transform
	assert.False(t, off.Enabled())
	assert.Equal(t, msg, off.Compress(msg))
}

func TestTransformDecompressErrors(t *testing.T) {
	tr := &Transform{Algorithms: []uint16{smb2.COMPRESSION_LZ4, smb2.COMPRESSION_PATTERN_V1}, Chained: true}
	msg := writeMessage(bytes.Repeat([]byte("0123456789abcdef"), 512))
	out := tr.Compress(msg)
	require.True(t, smb2.Header(out).IsCompressed())

	_, err := tr.Decompress(msg)
	assert.ErrorIs(t, err, ErrNotCompressed)

	bad := bytes.Clone(out)
	binary.LittleEndian.PutUint32(bad[4:8], uint32(len(msg)+1))
	_, err = tr.Decompress(bad)
	assert.ErrorIs(t, err, smb2.ErrWrongLength)

	limited := &Transform{Algorithms: tr.Algorithms, Chained: true, MaxSize: 1024}
	_, err = limited.Decompress(out)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	patternOnly := &Transform{Algorithms: []uint16{smb2.COMPRESSION_PATTERN_V1}, Chained: true}
	_, err = patternOnly.Decompress(out)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = tr.Decompress(out[:len(out)-3])
	assert.Error(t, err)
}
