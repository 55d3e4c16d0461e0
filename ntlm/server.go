// Adapted from https://github.com/hirochachacha/go-smb2
package ntlm

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/rc4"
	"encoding/binary"
	"strings"
	"time"

	"github.com/VasilyKirillov/smbjclient/utils"
)

// Server is the accepting side of the exchange. It verifies NTLMv2
// responses against a table of local accounts.
type Server struct {
	targetName   string
	targetDomain string
	accounts     map[string]string

	nmsg    []byte
	cmsg    []byte
	session *Session
}

func NewServer(targetName, targetDomain string) *Server {
	return &Server{
		targetName:   targetName,
		targetDomain: targetDomain,
		accounts:     make(map[string]string),
	}
}

// AddAccount registers a user. User names are case-insensitive.
func (s *Server) AddAccount(user, password string) {
	s.accounts[strings.ToLower(user)] = password
}

// Challenge parses the NEGOTIATE_MESSAGE and returns a CHALLENGE_MESSAGE.
func (s *Server) Challenge(nmsg []byte) (cmsg []byte, err error) {
	if err := checkHeader(nmsg, 32, NtLmNegotiate); err != nil {
		return nil, err
	}

	s.nmsg = bytes.Clone(nmsg)

	flags := binary.LittleEndian.Uint32(nmsg[12:16]) & defaultFlags
	flags |= NTLMSSP_NEGOTIATE_TARGET_INFO
	flags |= NTLMSSP_TARGET_TYPE_SERVER

	targetName := utils.EncodeString(s.targetName)
	timeStamp := make([]byte, 8)
	binary.LittleEndian.PutUint64(timeStamp, utils.TimeToFiletime(time.Now()))

	targetInfo := encodeAvPairs([]avPair{
		{id: MsvAvNbComputerName, value: targetName},
		{id: MsvAvNbDomainName, value: utils.EncodeString(strings.ToUpper(s.targetDomain))},
		{id: MsvAvDnsComputerName, value: utils.EncodeString(strings.ToLower(s.targetName))},
		{id: MsvAvDnsDomainName, value: utils.EncodeString(s.targetDomain)},
		{id: MsvAvTimestamp, value: timeStamp},
	})

	cmsg = make([]byte, 56+len(targetName)+len(targetInfo))
	copy(cmsg[:8], signature)
	binary.LittleEndian.PutUint32(cmsg[8:12], NtLmChallenge)
	binary.LittleEndian.PutUint32(cmsg[20:24], flags)

	off := 56
	if flags&NTLMSSP_REQUEST_TARGET != 0 {
		off = writeField(cmsg, 12, off, targetName)
	}
	off = writeField(cmsg, 40, off, targetInfo)
	cmsg = cmsg[:off]

	if _, err := rand.Read(cmsg[24:32]); err != nil {
		return nil, err
	}

	copy(cmsg[48:56], version)

	s.cmsg = cmsg
	return cmsg, nil
}

// Authenticate verifies the AUTHENTICATE_MESSAGE. ErrLogonFailure is
// returned when the response or the MIC does not match the account.
func (s *Server) Authenticate(amsg []byte) error {
	if s.cmsg == nil {
		return ErrInvalidMessageType
	}
	if err := checkHeader(amsg, 88, NtLmAuthenticate); err != nil {
		return err
	}

	amsg = bytes.Clone(amsg)
	flags := binary.LittleEndian.Uint32(amsg[60:64])

	ntChallengeResponse, err := readField(amsg, 20)
	if err != nil {
		return err
	}
	domainName, err := readField(amsg, 28)
	if err != nil {
		return err
	}
	userName, err := readField(amsg, 36)
	if err != nil {
		return err
	}
	encryptedRandomSessionKey, err := readField(amsg, 52)
	if err != nil {
		return err
	}

	if len(userName) == 0 && len(ntChallengeResponse) == 0 {
		return ErrEmptyCredentials
	}
	if len(ntChallengeResponse) < 16+28 {
		return ErrInvalidField
	}

	user := strings.ToLower(utils.DecodeString(userName))
	password, ok := s.accounts[user]
	if !ok {
		return ErrLogonFailure
	}

	ntlmv2ClientChallenge := ntChallengeResponse[16:]
	USER := utils.EncodeString(strings.ToUpper(user))
	h := hmac.New(md5.New, ntowfv2(USER, utils.EncodeString(password), domainName))
	serverChallenge := s.cmsg[24:32]
	timeStamp := ntlmv2ClientChallenge[8:16]
	clientChallenge := ntlmv2ClientChallenge[16:24]
	targetInfo := ntlmv2ClientChallenge[28:]

	expectedNtChallengeResponse := make([]byte, len(ntChallengeResponse))
	encodeNtlmv2Response(expectedNtChallengeResponse, h, serverChallenge, clientChallenge, timeStamp, targetInfo)
	if !hmac.Equal(ntChallengeResponse, expectedNtChallengeResponse) {
		return ErrLogonFailure
	}

	h.Reset()
	h.Write(ntChallengeResponse[:16])
	sessionBaseKey := h.Sum(nil)

	keyExchangeKey := sessionBaseKey // if ntlm version == 2

	exportedSessionKey := keyExchangeKey
	if flags&NTLMSSP_NEGOTIATE_KEY_EXCH != 0 {
		if len(encryptedRandomSessionKey) != 16 {
			return ErrInvalidField
		}
		exportedSessionKey = make([]byte, 16)
		cipher, err := rc4.NewCipher(keyExchangeKey)
		if err != nil {
			return err
		}
		cipher.XORKeyStream(exportedSessionKey, encryptedRandomSessionKey)
	}

	infoMap, ok := parseAvPairs(targetInfo)
	if !ok {
		return ErrInvalidField
	}

	if avFlags, ok := lookupAvPair(infoMap, MsvAvFlags); ok && len(avFlags) == 4 && binary.LittleEndian.Uint32(avFlags)&msvAvFlagMICPresent != 0 {
		MIC := make([]byte, 16)
		copy(MIC, amsg[72:88])
		copy(amsg[72:88], zero[:])

		h = hmac.New(md5.New, exportedSessionKey)
		h.Write(s.nmsg)
		h.Write(s.cmsg)
		h.Write(amsg)
		if !hmac.Equal(MIC, h.Sum(nil)) {
			return ErrLogonFailure
		}
	}

	var domain string
	if len(domainName) != 0 {
		domain = utils.DecodeString(domainName)
	}

	session, err := newSession(false, user, domain, flags, exportedSessionKey, infoMap)
	if err != nil {
		return err
	}
	s.session = session

	return nil
}

func (s *Server) Session() *Session {
	return s.session
}
