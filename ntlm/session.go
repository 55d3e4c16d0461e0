// Adapted from https://github.com/hirochachacha/go-smb2
package ntlm

import (
	"bytes"
	"crypto/rc4"

	"github.com/VasilyKirillov/smbjclient/utils"
)

// Session holds the keys agreed on by a completed exchange.
type Session struct {
	isClientSide bool

	user   string
	domain string

	negotiateFlags     uint32
	exportedSessionKey []byte
	clientSigningKey   []byte
	serverSigningKey   []byte

	clientHandle *rc4.Cipher
	serverHandle *rc4.Cipher

	infoMap []avPair
}

func newSession(isClientSide bool, user, domain string, flags uint32, exportedSessionKey []byte, infoMap []avPair) (*Session, error) {
	s := &Session{
		isClientSide:       isClientSide,
		user:               user,
		domain:             domain,
		negotiateFlags:     flags,
		exportedSessionKey: exportedSessionKey,
		clientSigningKey:   signKey(flags, exportedSessionKey, true),
		serverSigningKey:   signKey(flags, exportedSessionKey, false),
		infoMap:            infoMap,
	}

	var err error
	s.clientHandle, err = rc4.NewCipher(sealKey(flags, exportedSessionKey, true))
	if err != nil {
		return nil, err
	}

	s.serverHandle, err = rc4.NewCipher(sealKey(flags, exportedSessionKey, false))
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Session) User() string {
	return s.user
}

func (s *Session) Domain() string {
	return s.domain
}

// SessionKey returns the exported session key. SMB2 uses it as the
// session key from which signing keys are derived.
func (s *Session) SessionKey() []byte {
	return s.exportedSessionKey
}

func (s *Session) NegotiateFlags() uint32 {
	return s.negotiateFlags
}

type InfoMap struct {
	NbComputerName  string
	NbDomainName    string
	DnsComputerName string
	DnsDomainName   string
	DnsTreeName     string
}

// InfoMap returns the names the acceptor announced in its target info.
func (s *Session) InfoMap() *InfoMap {
	get := func(id uint16) string {
		v, _ := lookupAvPair(s.infoMap, id)
		return utils.DecodeString(v)
	}
	return &InfoMap{
		NbComputerName:  get(MsvAvNbComputerName),
		NbDomainName:    get(MsvAvNbDomainName),
		DnsComputerName: get(MsvAvDnsComputerName),
		DnsDomainName:   get(MsvAvDnsDomainName),
		DnsTreeName:     get(MsvAvDnsTreeName),
	}
}

// Sum computes the message signature of plaintext, as used for the SPNEGO
// mechListMIC. The RC4 handle is stateful, so calls must follow the peer's order.
func (s *Session) Sum(plaintext []byte, seqNum uint32) ([]byte, uint32) {
	if s.negotiateFlags&NTLMSSP_NEGOTIATE_SIGN == 0 {
		return nil, 0
	}

	if s.isClientSide {
		return mac(nil, s.negotiateFlags, s.clientHandle, s.clientSigningKey, seqNum, plaintext)
	}
	return mac(nil, s.negotiateFlags, s.serverHandle, s.serverSigningKey, seqNum, plaintext)
}

// CheckSum verifies a signature produced by the peer's Sum.
func (s *Session) CheckSum(sum, plaintext []byte, seqNum uint32) (bool, uint32) {
	if s.negotiateFlags&NTLMSSP_NEGOTIATE_SIGN == 0 {
		if sum == nil {
			return true, 0
		}
		return false, 0
	}

	if s.isClientSide {
		ret, seqNum := mac(nil, s.negotiateFlags, s.serverHandle, s.serverSigningKey, seqNum, plaintext)
		if !bytes.Equal(sum, ret) {
			return false, 0
		}
		return true, seqNum
	}
	ret, seqNum := mac(nil, s.negotiateFlags, s.clientHandle, s.clientSigningKey, seqNum, plaintext)
	if !bytes.Equal(sum, ret) {
		return false, 0
	}
	return true, seqNum
}
