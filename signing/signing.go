// Package signing signs and verifies SMB2 messages with the algorithm
// selected by the negotiated dialect.
package signing

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"

	"github.com/VasilyKirillov/smbjclient/smb2"
)

const (
	signatureOffset = 48
	signatureSize   = 16
)

var zero [signatureSize]byte

var ErrKeySize = errors.New("signing key must be 16 bytes")

// Signer signs outgoing and verifies incoming messages of one session.
// Both methods work on a single, uncompounded message.
type Signer interface {
	// Sign sets FLAGS_SIGNED and writes the signature in place.
	Sign(msg []byte)
	// Verify reports whether the signature field matches the message.
	Verify(msg []byte) bool
	// Algorithm returns HMAC_SHA256, AES_CMAC or AES_GMAC.
	Algorithm() uint16
}

// New returns the signer for the dialect. algorithm is only looked at for
// 3.1.1, where it comes from the signing capabilities context; other 3.x
// dialects always use AES-CMAC and 2.x always uses HMAC-SHA256.
func New(dialect, algorithm uint16, key []byte) (Signer, error) {
	if len(key) != signatureSize {
		return nil, ErrKeySize
	}

	if !smb2.Is3X(dialect) {
		return &signer{
			algorithm: smb2.HMAC_SHA256,
			newMAC: func(smb2.Header) hash.Hash {
				return hmac.New(sha256.New, key)
			},
		}, nil
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	if dialect != smb2.SMB_DIALECT_311 {
		algorithm = smb2.AES_CMAC
	}

	switch algorithm {
	case smb2.AES_CMAC:
		return &signer{
			algorithm: smb2.AES_CMAC,
			newMAC: func(smb2.Header) hash.Hash {
				return newCMAC(block)
			},
		}, nil
	case smb2.AES_GMAC:
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		return &signer{
			algorithm: smb2.AES_GMAC,
			newMAC: func(h smb2.Header) hash.Hash {
				return newGMAC(aead, gmacNonce(h))
			},
		}, nil
	}

	return nil, fmt.Errorf("unsupported signing algorithm 0x%04x", algorithm)
}

type signer struct {
	algorithm uint16
	newMAC    func(smb2.Header) hash.Hash
}

func (s *signer) Algorithm() uint16 {
	return s.algorithm
}

// sum computes the MAC over msg with the signature field taken as zero.
func (s *signer) sum(msg []byte) []byte {
	h := s.newMAC(smb2.Header(msg))
	h.Write(msg[:signatureOffset])
	h.Write(zero[:])
	h.Write(msg[signatureOffset+signatureSize:])
	return h.Sum(nil)[:signatureSize]
}

func (s *signer) Sign(msg []byte) {
	if len(msg) < smb2.SMB2HeaderSize {
		return
	}
	h := smb2.Header(msg)
	h.SetFlag(smb2.FLAGS_SIGNED)
	h.SetSignature(s.sum(msg))
}

func (s *signer) Verify(msg []byte) bool {
	if len(msg) < smb2.SMB2HeaderSize {
		return false
	}
	return hmac.Equal(smb2.Header(msg).Signature(), s.sum(msg))
}

// gmacNonce forms the 12-byte AES-GMAC nonce: the message id followed by
// a role bit (set on responses) and a cancel bit.
func gmacNonce(h smb2.Header) []byte {
	nonce := make([]byte, 12)
	binary.LittleEndian.PutUint64(nonce[:8], h.MessageID())
	var flags uint32
	if h.IsFlagSet(smb2.FLAGS_SERVER_TO_REDIR) {
		flags |= 1
	}
	if h.Command() == smb2.SMB2_CANCEL {
		flags |= 2
	}
	binary.LittleEndian.PutUint32(nonce[8:12], flags)
	return nonce
}
