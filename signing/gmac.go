package signing

import (
	"crypto/aes"
	"crypto/cipher"
	"hash"
)

type gmacHash struct {
	aead  cipher.AEAD
	nonce []byte
	buf   []byte
}

// newGMAC returns an AES-GMAC hash over a GCM instance with a 12-byte nonce.
func newGMAC(aead cipher.AEAD, nonce []byte) hash.Hash {
	return &gmacHash{aead: aead, nonce: nonce}
}

// Write implements hash.Hash.
func (g *gmacHash) Write(p []byte) (int, error) {
	g.buf = append(g.buf, p...)
	return len(p), nil
}

// Sum implements hash.Hash.
func (g *gmacHash) Sum(b []byte) []byte {
	// GMAC = GCM with empty plaintext, AAD = message.
	tag := g.aead.Seal(nil, g.nonce, nil, g.buf) // output is just tag
	return append(b, tag...)
}

// Reset implements hash.Hash.
func (g *gmacHash) Reset() { g.buf = g.buf[:0] }

// Size implements hash.Hash.
func (g *gmacHash) Size() int { return g.aead.Overhead() } // 16

// BlockSize implements hash.Hash.
func (g *gmacHash) BlockSize() int { return aes.BlockSize } // 16
