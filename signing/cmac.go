package signing

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"hash"
)

// cmacHash is AES-CMAC as defined in RFC 4493.
type cmacHash struct {
	block  cipher.Block
	k1, k2 [aes.BlockSize]byte
	buf    []byte
}

func newCMAC(block cipher.Block) hash.Hash {
	c := &cmacHash{block: block}

	var l [aes.BlockSize]byte
	block.Encrypt(l[:], l[:])
	shiftLeft(c.k1[:], l[:])
	if l[0]&0x80 != 0 {
		c.k1[aes.BlockSize-1] ^= 0x87
	}
	shiftLeft(c.k2[:], c.k1[:])
	if c.k1[0]&0x80 != 0 {
		c.k2[aes.BlockSize-1] ^= 0x87
	}

	return c
}

// shiftLeft stores src << 1 in dst.
func shiftLeft(dst, src []byte) {
	var carry byte
	for i := len(src) - 1; i >= 0; i-- {
		b := src[i]
		dst[i] = b<<1 | carry
		carry = b >> 7
	}
}

// Write implements hash.Hash.
func (c *cmacHash) Write(p []byte) (int, error) {
	c.buf = append(c.buf, p...)
	return len(p), nil
}

// Sum implements hash.Hash.
func (c *cmacHash) Sum(b []byte) []byte {
	n := (len(c.buf) + aes.BlockSize - 1) / aes.BlockSize
	complete := n > 0 && len(c.buf)%aes.BlockSize == 0
	if n == 0 {
		n = 1
	}

	var last [aes.BlockSize]byte
	tail := c.buf[(n-1)*aes.BlockSize:]
	if complete {
		subtle.XORBytes(last[:], tail, c.k1[:])
	} else {
		copy(last[:], tail)
		last[len(tail)] = 0x80
		subtle.XORBytes(last[:], last[:], c.k2[:])
	}

	var x [aes.BlockSize]byte
	for i := 0; i < n-1; i++ {
		subtle.XORBytes(x[:], x[:], c.buf[i*aes.BlockSize:(i+1)*aes.BlockSize])
		c.block.Encrypt(x[:], x[:])
	}
	subtle.XORBytes(x[:], x[:], last[:])
	c.block.Encrypt(x[:], x[:])

	return append(b, x[:]...)
}

// Reset implements hash.Hash.
func (c *cmacHash) Reset() { c.buf = c.buf[:0] }

// Size implements hash.Hash.
func (c *cmacHash) Size() int { return aes.BlockSize }

// BlockSize implements hash.Hash.
func (c *cmacHash) BlockSize() int { return aes.BlockSize }
