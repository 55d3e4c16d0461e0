// Package ntlm implements the NTLMv2 challenge-response exchange (MS-NLMP)
// for both the initiating and the accepting side.
//
// Adapted from https://github.com/hirochachacha/go-smb2
package ntlm

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rc4"
	"encoding/binary"
	"errors"
	"hash"
	"hash/crc32"

	"golang.org/x/crypto/md4"
)

//      Version
// 0-1: ProductMajorVersion
// 1-2: ProductMinorVersion
// 2-4: ProductBuild
// 4-7: Reserved
// 7-8: NTLMRevisionCurrent

const (
	WINDOWS_MAJOR_VERSION_5  = 0x05
	WINDOWS_MAJOR_VERSION_6  = 0x06
	WINDOWS_MAJOR_VERSION_10 = 0x0a
)

const (
	WINDOWS_MINOR_VERSION_0 = 0x00
	WINDOWS_MINOR_VERSION_1 = 0x01
	WINDOWS_MINOR_VERSION_2 = 0x02
	WINDOWS_MINOR_VERSION_3 = 0x03
)

const (
	NTLMSSP_REVISION_W2K3 = 0x0f
)

var version = []byte{
	0: WINDOWS_MAJOR_VERSION_10,
	1: WINDOWS_MINOR_VERSION_0,
	7: NTLMSSP_REVISION_W2K3,
}

var signature = []byte("NTLMSSP\x00")

var zero [16]byte

const defaultFlags = NTLMSSP_NEGOTIATE_56 |
	NTLMSSP_NEGOTIATE_KEY_EXCH |
	NTLMSSP_NEGOTIATE_128 |
	NTLMSSP_NEGOTIATE_TARGET_INFO |
	NTLMSSP_NEGOTIATE_EXTENDED_SESSIONSECURITY |
	NTLMSSP_NEGOTIATE_ALWAYS_SIGN |
	NTLMSSP_NEGOTIATE_NTLM |
	NTLMSSP_NEGOTIATE_SIGN |
	NTLMSSP_REQUEST_TARGET |
	NTLMSSP_NEGOTIATE_UNICODE |
	NTLMSSP_NEGOTIATE_VERSION

const (
	NtLmNegotiate    = 0x00000001
	NtLmChallenge    = 0x00000002
	NtLmAuthenticate = 0x00000003
)

const (
	NTLMSSP_NEGOTIATE_UNICODE = 1 << iota
	NTLM_NEGOTIATE_OEM
	NTLMSSP_REQUEST_TARGET
	_
	NTLMSSP_NEGOTIATE_SIGN
	NTLMSSP_NEGOTIATE_SEAL
	NTLMSSP_NEGOTIATE_DATAGRAM
	NTLMSSP_NEGOTIATE_LM_KEY
	_
	NTLMSSP_NEGOTIATE_NTLM
	_
	NTLMSSP_ANONYMOUS
	NTLMSSP_NEGOTIATE_OEM_DOMAIN_SUPPLIED
	NTLMSSP_NEGOTIATE_OEM_WORKSTATION_SUPPLIED
	_
	NTLMSSP_NEGOTIATE_ALWAYS_SIGN
	NTLMSSP_TARGET_TYPE_DOMAIN
	NTLMSSP_TARGET_TYPE_SERVER
	_
	NTLMSSP_NEGOTIATE_EXTENDED_SESSIONSECURITY
	NTLMSSP_NEGOTIATE_IDENTIFY
	_
	NTLMSSP_REQUEST_NON_NT_SESSION_KEY
	NTLMSSP_NEGOTIATE_TARGET_INFO
	_
	NTLMSSP_NEGOTIATE_VERSION
	_
	_
	_
	NTLMSSP_NEGOTIATE_128
	NTLMSSP_NEGOTIATE_KEY_EXCH
	NTLMSSP_NEGOTIATE_56
)

const (
	MsvAvEOL = iota
	MsvAvNbComputerName
	MsvAvNbDomainName
	MsvAvDnsComputerName
	MsvAvDnsDomainName
	MsvAvDnsTreeName
	MsvAvFlags
	MsvAvTimestamp
	MsvAvSingleHost
	MsvAvTargetName
	MsvAvChannelBindings
)

// msvAvFlagMICPresent tells the acceptor that the AUTHENTICATE message carries a MIC.
const msvAvFlagMICPresent = 0x00000002

var (
	ErrMessageTooShort    = errors.New("message is too short")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrInvalidField       = errors.New("invalid field format")
	ErrLogonFailure       = errors.New("login failure")
	ErrEmptyCredentials   = errors.New("credential is empty")
)

// checkHeader validates the common NTLMSSP signature and message type.
func checkHeader(msg []byte, minSize int, messageType uint32) error {
	if len(msg) < minSize {
		return ErrMessageTooShort
	}
	if string(msg[:8]) != string(signature) {
		return ErrInvalidSignature
	}
	if binary.LittleEndian.Uint32(msg[8:12]) != messageType {
		return ErrInvalidMessageType
	}
	return nil
}

// readField returns the payload addressed by the 8-byte Len/MaxLen/BufferOffset
// field that starts at off.
func readField(msg []byte, off int) ([]byte, error) {
	length := binary.LittleEndian.Uint16(msg[off : off+2])
	maxLength := binary.LittleEndian.Uint16(msg[off+2 : off+4])
	if maxLength < length {
		return nil, ErrInvalidField
	}
	bufferOffset := binary.LittleEndian.Uint32(msg[off+4 : off+8])
	if uint64(len(msg)) < uint64(bufferOffset)+uint64(length) {
		return nil, ErrInvalidField
	}
	return msg[bufferOffset : bufferOffset+uint32(length)], nil
}

// writeField copies data to msg at payloadOff and fills the field at off.
// It returns the offset right after the copied data.
func writeField(msg []byte, off, payloadOff int, data []byte) int {
	n := copy(msg[payloadOff:], data)
	binary.LittleEndian.PutUint16(msg[off:off+2], uint16(n))
	binary.LittleEndian.PutUint16(msg[off+2:off+4], uint16(n))
	binary.LittleEndian.PutUint32(msg[off+4:off+8], uint32(payloadOff))
	return payloadOff + n
}

func ntowfv2(USER, password, domain []byte) []byte {
	h := md4.New()
	h.Write(password)
	hash := h.Sum(nil)
	return ntowfv2Hash(USER, hash, domain)
}

func ntowfv2Hash(USER, hash, domain []byte) []byte {
	hm := hmac.New(md5.New, hash)
	hm.Write(USER)
	hm.Write(domain)
	return hm.Sum(nil)
}

// ntlmv2ResponseSize is the size of an NTLMv2 response carrying targetInfo.
func ntlmv2ResponseSize(targetInfo []byte) int {
	return 16 + 28 + len(targetInfo) + 4
}

func encodeNtlmv2Response(dst []byte, h hash.Hash, serverChallenge, clientChallenge, timeStamp, targetInfo []byte) {
	//        NTLMv2Response
	//  0-16: Response
	//   16-: NTLMv2ClientChallenge

	ntlmv2ClientChallenge := dst[16:]

	//        NTLMv2ClientChallenge
	//   0-1: RespType
	//   1-2: HiRespType
	//   2-4: _
	//   4-8: _
	//  8-16: TimeStamp
	// 16-24: ChallengeFromClient
	// 24-28: _
	//   28-: AvPairs

	ntlmv2ClientChallenge[0] = 1
	ntlmv2ClientChallenge[1] = 1
	copy(ntlmv2ClientChallenge[8:16], timeStamp)
	copy(ntlmv2ClientChallenge[16:24], clientChallenge)
	copy(ntlmv2ClientChallenge[28:], targetInfo)

	h.Write(serverChallenge)
	h.Write(ntlmv2ClientChallenge)
	h.Sum(dst[:0]) // ntChallengeResponse.Response
}

func mac(dst []byte, negotiateFlags uint32, handle *rc4.Cipher, signingKey []byte, seqNum uint32, msg []byte) ([]byte, uint32) {
	ret, tag := sliceForAppend(dst, 16)
	if negotiateFlags&NTLMSSP_NEGOTIATE_EXTENDED_SESSIONSECURITY == 0 {
		//        NtlmsspMessageSignature
		//   0-4: Version
		//   4-8: RandomPad
		//  8-12: Checksum
		// 12-16: SeqNum

		binary.LittleEndian.PutUint32(tag[:4], 0x00000001)
		binary.LittleEndian.PutUint32(tag[8:12], crc32.ChecksumIEEE(msg))
		handle.XORKeyStream(tag[4:8], tag[4:8])
		handle.XORKeyStream(tag[8:12], tag[8:12])
		handle.XORKeyStream(tag[12:16], tag[12:16])
		tag[12] ^= byte(seqNum)
		tag[13] ^= byte(seqNum >> 8)
		tag[14] ^= byte(seqNum >> 16)
		tag[15] ^= byte(seqNum >> 24)
		if negotiateFlags&NTLMSSP_NEGOTIATE_DATAGRAM == 0 {
			seqNum++
		}
		tag[4] = 0
		tag[5] = 0
		tag[6] = 0
		tag[7] = 0
	} else {
		//        NtlmsspMessageSignatureExt
		//   0-4: Version
		//  4-12: Checksum
		// 12-16: SeqNum

		binary.LittleEndian.PutUint32(tag[:4], 0x00000001)
		binary.LittleEndian.PutUint32(tag[12:16], seqNum)
		h := hmac.New(md5.New, signingKey)
		h.Write(tag[12:16])
		h.Write(msg)
		copy(tag[4:12], h.Sum(nil))
		if negotiateFlags&NTLMSSP_NEGOTIATE_KEY_EXCH != 0 {
			handle.XORKeyStream(tag[4:12], tag[4:12])
		}
		seqNum++
	}

	return ret, seqNum
}

func sliceForAppend(in []byte, n int) (head, tail []byte) {
	if total := len(in) + n; cap(in) >= total {
		head = in[:total]
	} else {
		head = make([]byte, total)
		copy(head, in)
	}
	tail = head[len(in):]
	return
}

func signKey(negotiateFlags uint32, randomSessionKey []byte, fromClient bool) []byte {
	if negotiateFlags&NTLMSSP_NEGOTIATE_EXTENDED_SESSIONSECURITY != 0 {
		h := md5.New()
		h.Write(randomSessionKey)
		if fromClient {
			h.Write([]byte("session key to client-to-server signing key magic constant\x00"))
		} else {
			h.Write([]byte("session key to server-to-client signing key magic constant\x00"))
		}
		return h.Sum(nil)
	}
	return nil
}

func sealKey(negotiateFlags uint32, randomSessionKey []byte, fromClient bool) []byte {
	if negotiateFlags&NTLMSSP_NEGOTIATE_EXTENDED_SESSIONSECURITY != 0 {
		h := md5.New()
		switch {
		case negotiateFlags&NTLMSSP_NEGOTIATE_128 != 0:
			h.Write(randomSessionKey)
		case negotiateFlags&NTLMSSP_NEGOTIATE_56 != 0:
			h.Write(randomSessionKey[:7])
		default:
			h.Write(randomSessionKey[:5])
		}
		if fromClient {
			h.Write([]byte("session key to client-to-server sealing key magic constant\x00"))
		} else {
			h.Write([]byte("session key to server-to-client sealing key magic constant\x00"))
		}
		return h.Sum(nil)
	}

	if negotiateFlags&NTLMSSP_NEGOTIATE_LM_KEY != 0 {
		sealingKey := make([]byte, 8)
		if negotiateFlags&NTLMSSP_NEGOTIATE_56 != 0 {
			copy(sealingKey, randomSessionKey[:7])
			sealingKey[7] = 0xa0
		} else {
			copy(sealingKey, randomSessionKey[:5])
			sealingKey[5] = 0xe5
			sealingKey[6] = 0x38
			sealingKey[7] = 0xb0
		}
		return sealingKey
	}

	return randomSessionKey
}

// avPair is a single AV_PAIR of the target info block.
type avPair struct {
	id    uint16
	value []byte
}

// parseAvPairs splits the target info block, which must end with MsvAvEOL.
// The pairs are returned in wire order, without the terminator.
func parseAvPairs(bs []byte) (pairs []avPair, ok bool) {
	//        AvPair
	//   0-2: AvId
	//   2-4: AvLen
	//    4-: Value

	if len(bs) < 4 {
		return nil, false
	}

	// check MsvAvEOL
	for _, c := range bs[len(bs)-4:] {
		if c != 0x00 {
			return nil, false
		}
	}

	for len(bs) > 0 {
		if len(bs) < 4 {
			return nil, false
		}

		id := binary.LittleEndian.Uint16(bs[:2])
		n := int(binary.LittleEndian.Uint16(bs[2:4]))
		if len(bs) < 4+n {
			return nil, false
		}

		if id == MsvAvEOL {
			return pairs, true
		}

		pairs = append(pairs, avPair{id: id, value: bs[4 : 4+n]})
		bs = bs[4+n:]
	}

	return pairs, true
}

// encodeAvPairs is the inverse of parseAvPairs; the MsvAvEOL terminator is appended.
func encodeAvPairs(pairs []avPair) []byte {
	size := 4
	for _, p := range pairs {
		size += 4 + len(p.value)
	}

	bs := make([]byte, size)
	off := 0
	for _, p := range pairs {
		binary.LittleEndian.PutUint16(bs[off:off+2], p.id)
		binary.LittleEndian.PutUint16(bs[off+2:off+4], uint16(len(p.value)))
		copy(bs[off+4:], p.value)
		off += 4 + len(p.value)
	}

	return bs
}

// lookupAvPair returns the value of the first pair with the given id.
func lookupAvPair(pairs []avPair, id uint16) ([]byte, bool) {
	for _, p := range pairs {
		if p.id == id {
			return p.value, true
		}
	}
	return nil, false
}
