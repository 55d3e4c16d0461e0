package compress

import "encoding/binary"

// LZNT1 splits the input into 4 KiB chunks. Each chunk is stored behind a
// two-byte header, compressed or raw, whichever is smaller.
const (
	lznt1ChunkSize  = 4096
	lznt1MinMatch   = 3
	lznt1ChainDepth = 16
	lznt1HashMask   = 0x0fff
	lznt1NoEntry    = uint16(0xffff)

	lznt1Compressed   = uint16(0xb000)
	lznt1Raw          = uint16(0x3000)
	lznt1SizeMask     = uint16(0x0fff)
	lznt1IsCompressed = uint16(0x8000)
)

// lznt1Window tracks how a match token is split between distance and
// length. The distance field widens as the position in the chunk grows.
type lznt1Window struct {
	lengthBits int
	limit      int
}

func newLZNT1Window() lznt1Window {
	return lznt1Window{lengthBits: 12, limit: 16}
}

// advance moves the window to pos bytes into the chunk.
func (w *lznt1Window) advance(pos int) {
	for pos > w.limit {
		if w.lengthBits > 0 {
			w.lengthBits--
		}
		w.limit <<= 1
	}
}

func (w lznt1Window) maxLength() int   { return 1<<w.lengthBits + 2 }
func (w lznt1Window) maxDistance() int { return 1 << (16 - w.lengthBits) }

func (w lznt1Window) encode(distance, length int) uint16 {
	return uint16((distance-1)<<w.lengthBits | (length - lznt1MinMatch))
}

func (w lznt1Window) decode(token uint16) (distance, length int) {
	return int(token>>w.lengthBits) + 1, int(token&(1<<w.lengthBits-1)) + lznt1MinMatch
}

func lznt1Hash(b []byte) int {
	return (int(b[0])<<6 ^ int(b[1])<<3 ^ int(b[2])) & lznt1HashMask
}

// lznt1Matcher keeps hash chains over the chunk being compressed.
type lznt1Matcher struct {
	head [lznt1HashMask + 1]uint16
	prev [lznt1ChunkSize]uint16
}

func (m *lznt1Matcher) insert(chunk []byte, pos int) {
	if pos+lznt1MinMatch > len(chunk) {
		return
	}
	h := lznt1Hash(chunk[pos:])
	m.prev[pos] = m.head[h]
	m.head[h] = uint16(pos)
}

// longest returns the longest earlier match for chunk[pos:] the window can encode.
func (m *lznt1Matcher) longest(chunk []byte, pos int, w lznt1Window) (distance, length int) {
	if pos+lznt1MinMatch > len(chunk) {
		return 0, 0
	}

	limit := min(len(chunk)-pos, w.maxLength())
	cand := m.head[lznt1Hash(chunk[pos:])]
	for depth := 0; cand != lznt1NoEntry && depth < lznt1ChainDepth; depth++ {
		c := int(cand)
		d := pos - c
		if d <= 0 || d > w.maxDistance() {
			break
		}

		n := 0
		for n < limit && chunk[c+n] == chunk[pos+n] {
			n++
		}
		if n > length {
			distance, length = d, n
			if n == limit {
				break
			}
		}
		cand = m.prev[c]
	}

	if length < lznt1MinMatch {
		return 0, 0
	}
	return distance, length
}

// appendChunk appends the header and body of one chunk to out.
func (m *lznt1Matcher) appendChunk(out, chunk []byte) []byte {
	for i := range m.head {
		m.head[i] = lznt1NoEntry
	}

	start := len(out)
	out = append(out, 0, 0)

	w := newLZNT1Window()
	flagAt, flagBit := 0, 8
	for pos := 0; pos < len(chunk); {
		if flagBit == 8 {
			flagAt, flagBit = len(out), 0
			out = append(out, 0)
		}

		if d, n := m.longest(chunk, pos, w); n > 0 {
			out[flagAt] |= 1 << flagBit
			out = binary.LittleEndian.AppendUint16(out, w.encode(d, n))
			for end := pos + n; pos < end; pos++ {
				m.insert(chunk, pos)
			}
		} else {
			out = append(out, chunk[pos])
			m.insert(chunk, pos)
			pos++
		}

		flagBit++
		w.advance(pos)
	}

	if size := len(out) - start - 2; size < len(chunk) {
		binary.LittleEndian.PutUint16(out[start:], lznt1Compressed|uint16(size-1))
		return out
	}

	out = binary.LittleEndian.AppendUint16(out[:start], lznt1Raw|uint16(len(chunk)-1))
	return append(out, chunk...)
}

func lznt1Compress(src []byte) []byte {
	var m lznt1Matcher
	out := make([]byte, 0, len(src)+2*(len(src)/lznt1ChunkSize+1))
	for len(src) > 0 {
		n := min(len(src), lznt1ChunkSize)
		out = m.appendChunk(out, src[:n])
		src = src[n:]
	}
	return out
}

// lznt1Decompress expands an LZNT1 stream of at most limit bytes.
func lznt1Decompress(src []byte, limit int) ([]byte, error) {
	out := make([]byte, 0, limit)
	for len(src) > 0 {
		if len(src) == 1 && src[0] == 0 {
			break
		}
		if len(src) < 2 {
			return nil, errTruncated
		}

		header := binary.LittleEndian.Uint16(src)
		if header == 0 {
			break
		}
		size := int(header&lznt1SizeMask) + 1
		if len(src) < 2+size {
			return nil, errTruncated
		}
		body := src[2 : 2+size]
		src = src[2+size:]

		if header&lznt1IsCompressed == 0 {
			if len(out)+size > limit {
				return nil, errTooLong
			}
			out = append(out, body...)
			continue
		}

		var err error
		if out, err = lznt1DecompressChunk(out, body, limit); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func lznt1DecompressChunk(out, body []byte, limit int) ([]byte, error) {
	start := len(out)
	w := newLZNT1Window()
	for len(body) > 0 {
		flags := body[0]
		body = body[1:]

		for bit := 0; bit < 8 && len(body) > 0; bit++ {
			if flags&(1<<bit) == 0 {
				if len(out) >= limit {
					return nil, errTooLong
				}
				out = append(out, body[0])
				body = body[1:]
			} else {
				if len(body) < 2 {
					return nil, errTruncated
				}
				d, n := w.decode(binary.LittleEndian.Uint16(body))
				body = body[2:]

				// matches never reach into the previous chunk
				if d > len(out)-start {
					return nil, errBadDistance
				}
				if len(out)+n > limit {
					return nil, errTooLong
				}
				for range n {
					out = append(out, out[len(out)-d])
				}
			}
			w.advance(len(out) - start)
		}
	}
	return out, nil
}
