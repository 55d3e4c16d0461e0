package compress

import "encoding/binary"

// Plain LZ77 as in MS-XCA: 32 flag bits precede each group of literals
// and matches; a match is a 13-bit distance and a 3-bit length with
// nibble, byte, 16-bit or 32-bit extensions.
const (
	lz77Window     = 8192
	lz77MinMatch   = 3
	lz77MaxMatch   = 1<<16 + lz77MinMatch
	lz77HashBits   = 15
	lz77ChainDepth = 32
	lz77GoodMatch  = 258
)

func lz77Hash(b []byte) int {
	h := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	return int(h * 0x9e3779b1 >> (32 - lz77HashBits))
}

type lz77Encoder struct {
	src  []byte
	out  []byte
	head []int32
	prev []int32

	flagAt   int
	flags    uint32
	nflags   int
	nibbleAt int // byte whose high nibble is still free, -1 when none
}

func lz77Compress(src []byte) []byte {
	if len(src) == 0 {
		return nil
	}

	e := &lz77Encoder{
		src:      src,
		out:      make([]byte, 4, len(src)+len(src)/8+8),
		head:     make([]int32, 1<<lz77HashBits),
		prev:     make([]int32, len(src)),
		nibbleAt: -1,
	}
	for i := range e.head {
		e.head[i] = -1
	}

	for pos := 0; pos < len(src); {
		if e.nflags == 32 {
			e.flushFlags()
		}

		if d, n := e.longest(pos); n > 0 {
			e.flag(1)
			e.appendMatch(d, n)
			for end := pos + n; pos < end; pos++ {
				e.insert(pos)
			}
		} else {
			e.flag(0)
			e.out = append(e.out, src[pos])
			e.insert(pos)
			pos++
		}
	}

	// The unused flag bits are ones: a match with no input left ends the stream.
	if e.nflags == 32 {
		e.flushFlags()
	}
	pad := 32 - e.nflags
	binary.LittleEndian.PutUint32(e.out[e.flagAt:], e.flags<<pad|(1<<pad-1))

	return e.out
}

func (e *lz77Encoder) flag(bit uint32) {
	e.flags = e.flags<<1 | bit
	e.nflags++
}

func (e *lz77Encoder) flushFlags() {
	binary.LittleEndian.PutUint32(e.out[e.flagAt:], e.flags)
	e.flagAt = len(e.out)
	e.out = append(e.out, 0, 0, 0, 0)
	e.flags, e.nflags = 0, 0
}

func (e *lz77Encoder) insert(pos int) {
	if pos+lz77MinMatch > len(e.src) {
		return
	}
	h := lz77Hash(e.src[pos:])
	e.prev[pos] = e.head[h]
	e.head[h] = int32(pos)
}

func (e *lz77Encoder) longest(pos int) (distance, length int) {
	src := e.src
	if pos+lz77MinMatch > len(src) {
		return 0, 0
	}

	limit := min(len(src)-pos, lz77MaxMatch)
	cand := e.head[lz77Hash(src[pos:])]
	for depth := 0; cand >= 0 && depth < lz77ChainDepth; depth++ {
		c := int(cand)
		d := pos - c
		if d > lz77Window {
			break
		}

		n := 0
		for n < limit && src[c+n] == src[pos+n] {
			n++
		}
		if n > length {
			distance, length = d, n
			if n >= lz77GoodMatch {
				break
			}
		}
		cand = e.prev[c]
	}

	if length < lz77MinMatch {
		return 0, 0
	}
	return distance, length
}

func (e *lz77Encoder) appendMatch(distance, length int) {
	n := length - lz77MinMatch
	e.out = binary.LittleEndian.AppendUint16(e.out, uint16((distance-1)<<3|min(n, 7)))
	if n < 7 {
		return
	}

	n -= 7
	nibble := byte(min(n, 15))
	if e.nibbleAt < 0 {
		e.nibbleAt = len(e.out)
		e.out = append(e.out, nibble)
	} else {
		e.out[e.nibbleAt] |= nibble << 4
		e.nibbleAt = -1
	}
	if n < 15 {
		return
	}

	n -= 15
	if n < 255 {
		e.out = append(e.out, byte(n))
		return
	}

	e.out = append(e.out, 0xff)
	if total := length - lz77MinMatch; total < 1<<16 {
		e.out = binary.LittleEndian.AppendUint16(e.out, uint16(total))
	} else {
		e.out = binary.LittleEndian.AppendUint16(e.out, 0)
		e.out = binary.LittleEndian.AppendUint32(e.out, uint32(total))
	}
}

// lz77Decompress expands a plain LZ77 stream of at most limit bytes.
func lz77Decompress(src []byte, limit int) ([]byte, error) {
	out := make([]byte, 0, limit)

	var (
		in       int
		flags    uint32
		nflags   int
		nibbleAt = -1
	)
	for {
		if nflags == 0 {
			if in == len(src) {
				return out, nil
			}
			if in+4 > len(src) {
				return nil, errTruncated
			}
			flags = binary.LittleEndian.Uint32(src[in:])
			in += 4
			nflags = 32
		}

		nflags--
		if flags>>nflags&1 == 0 {
			if in >= len(src) {
				return nil, errTruncated
			}
			if len(out) >= limit {
				return nil, errTooLong
			}
			out = append(out, src[in])
			in++
			continue
		}

		if in == len(src) {
			return out, nil
		}
		if in+2 > len(src) {
			return nil, errTruncated
		}
		token := binary.LittleEndian.Uint16(src[in:])
		in += 2

		distance := int(token>>3) + 1
		length := int(token & 7)
		if length == 7 {
			if nibbleAt < 0 {
				if in >= len(src) {
					return nil, errTruncated
				}
				nibbleAt = in
				length = int(src[in] & 0x0f)
				in++
			} else {
				length = int(src[nibbleAt] >> 4)
				nibbleAt = -1
			}

			if length == 15 {
				if in >= len(src) {
					return nil, errTruncated
				}
				length = int(src[in])
				in++

				if length == 255 {
					if in+2 > len(src) {
						return nil, errTruncated
					}
					length = int(binary.LittleEndian.Uint16(src[in:]))
					in += 2
					if length == 0 {
						if in+4 > len(src) {
							return nil, errTruncated
						}
						length = int(binary.LittleEndian.Uint32(src[in:]))
						in += 4
					}
					if length < 15+7 {
						return nil, ErrInvalidPayload
					}
					length -= 15 + 7
				}
				length += 15
			}
			length += 7
		}
		length += lz77MinMatch

		if distance > len(out) {
			return nil, errBadDistance
		}
		if len(out)+length > limit {
			return nil, errTooLong
		}
		for range length {
			out = append(out, out[len(out)-distance])
		}
	}
}
