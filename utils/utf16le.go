package utils

import (
	"encoding/binary"
	"unicode/utf16"
)

// EncodeString encodes a string in the UTF-16LE format without a terminator.
// An empty string yields nil.
func EncodeString(s string) []byte {
	if s == "" {
		return nil
	}
	var b []byte
	for _, r := range s {
		if utf16.RuneLen(r) == 2 {
			r1, r2 := utf16.EncodeRune(r)
			b = binary.LittleEndian.AppendUint16(b, uint16(r1))
			b = binary.LittleEndian.AppendUint16(b, uint16(r2))
			continue
		}
		b = binary.LittleEndian.AppendUint16(b, uint16(r))
	}
	return b
}

// DecodeString decodes a UTF-16LE byte sequence, dropping a trailing NUL.
// An odd trailing byte is ignored.
func DecodeString(b []byte) string {
	ws := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		ws = append(ws, binary.LittleEndian.Uint16(b[i:i+2]))
	}
	if n := len(ws); n > 0 && ws[n-1] == 0 {
		ws = ws[:n-1]
	}
	return string(utf16.Decode(ws))
}

// Roundup rounds x up to the next multiple of align, which must be a power of two.
func Roundup(x, align int) int {
	return (x + (align - 1)) &^ (align - 1)
}
