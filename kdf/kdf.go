// Package kdf derives SMB 3.x session keys.
//
// Adapted from https://github.com/hirochachacha/go-smb2
package kdf

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/VasilyKirillov/smbjclient/smb2"
)

var (
	labelSigning30   = []byte("SMB2AESCMAC\x00")
	contextSigning30 = []byte("SmbSign\x00")
	labelSigning311  = []byte("SMBSigningKey\x00")
)

// KDF in Counter Mode with h = 256, r = 32, L = 128
func Kdf(ki, label, context []byte) []byte {
	h := hmac.New(sha256.New, ki)

	h.Write([]byte{0x00, 0x00, 0x00, 0x01})
	h.Write(label)
	h.Write([]byte{0x00})
	h.Write(context)
	h.Write([]byte{0x00, 0x00, 0x00, 0x80})

	return h.Sum(nil)[:16]
}

// SigningKey returns the key messages are signed with on a session of the
// given dialect. 2.x dialects sign with the session key itself; 3.1.1
// binds the key to the preauth integrity hash of the session setup.
func SigningKey(dialect uint16, sessionKey, preauthHash []byte) []byte {
	switch {
	case dialect == smb2.SMB_DIALECT_311:
		return Kdf(sessionKey, labelSigning311, preauthHash)
	case smb2.Is3X(dialect):
		return Kdf(sessionKey, labelSigning30, contextSigning30)
	}

	key := make([]byte, 16)
	copy(key, sessionKey)
	return key
}
