package ntlm

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/rc4"
	"encoding/binary"
	"strings"
	"time"

	"github.com/VasilyKirillov/smbjclient/utils"
)

// Client is the initiating side of the exchange.
type Client struct {
	User        string
	Password    string
	Domain      string
	Workstation string

	nmsg    []byte
	session *Session
}

// Negotiate returns the NEGOTIATE_MESSAGE that opens the exchange.
func (c *Client) Negotiate() ([]byte, error) {
	//        NegotiateMessage
	//   0-8: Signature
	//  8-12: MessageType
	// 12-16: NegotiateFlags
	// 16-24: DomainNameFields
	// 24-32: WorkstationFields
	// 32-40: Version
	//   40-: Payload

	nmsg := make([]byte, 40)
	copy(nmsg[:8], signature)
	binary.LittleEndian.PutUint32(nmsg[8:12], NtLmNegotiate)
	binary.LittleEndian.PutUint32(nmsg[12:16], defaultFlags)
	binary.LittleEndian.PutUint32(nmsg[20:24], 40)
	binary.LittleEndian.PutUint32(nmsg[28:32], 40)
	copy(nmsg[32:40], version)

	c.nmsg = nmsg
	return nmsg, nil
}

// Authenticate answers the server's CHALLENGE_MESSAGE with an NTLMv2
// AUTHENTICATE_MESSAGE carrying a MIC. On success the agreed keys are
// available through Session.
func (c *Client) Authenticate(cmsg []byte) (amsg []byte, err error) {
	//        ChallengeMessage
	//   0-8: Signature
	//  8-12: MessageType
	// 12-20: TargetNameFields
	// 20-24: NegotiateFlags
	// 24-32: ServerChallenge
	// 32-40: _
	// 40-48: TargetInfoFields
	// 48-56: Version
	//   56-: Payload

	if c.nmsg == nil {
		return nil, ErrInvalidMessageType
	}
	if c.User == "" {
		return nil, ErrEmptyCredentials
	}
	if err := checkHeader(cmsg, 48, NtLmChallenge); err != nil {
		return nil, err
	}

	flags := binary.LittleEndian.Uint32(cmsg[20:24])&defaultFlags | NTLMSSP_NEGOTIATE_VERSION
	serverChallenge := cmsg[24:32]

	targetInfo, err := readField(cmsg, 40)
	if err != nil {
		return nil, err
	}
	pairs, ok := parseAvPairs(targetInfo)
	if !ok {
		return nil, ErrInvalidField
	}

	timeStamp := make([]byte, 8)
	if ts, ok := lookupAvPair(pairs, MsvAvTimestamp); ok && len(ts) == 8 {
		copy(timeStamp, ts)
	} else {
		binary.LittleEndian.PutUint64(timeStamp, utils.TimeToFiletime(time.Now()))
	}

	// Announce the MIC by rewriting MsvAvFlags in the echoed target info.
	var avFlags uint32
	echoed := make([]avPair, 0, len(pairs)+1)
	for _, p := range pairs {
		if p.id == MsvAvFlags {
			if len(p.value) == 4 {
				avFlags = binary.LittleEndian.Uint32(p.value)
			}
			continue
		}
		echoed = append(echoed, p)
	}
	avFlagsValue := make([]byte, 4)
	binary.LittleEndian.PutUint32(avFlagsValue, avFlags|msvAvFlagMICPresent)
	echoed = append(echoed, avPair{id: MsvAvFlags, value: avFlagsValue})
	ti := encodeAvPairs(echoed)

	clientChallenge := make([]byte, 8)
	if _, err := rand.Read(clientChallenge); err != nil {
		return nil, err
	}

	USER := utils.EncodeString(strings.ToUpper(c.User))
	password := utils.EncodeString(c.Password)
	domain := utils.EncodeString(c.Domain)

	h := hmac.New(md5.New, ntowfv2(USER, password, domain))
	ntChallengeResponse := make([]byte, ntlmv2ResponseSize(ti))
	encodeNtlmv2Response(ntChallengeResponse, h, serverChallenge, clientChallenge, timeStamp, ti)

	h.Reset()
	h.Write(ntChallengeResponse[:16])
	sessionBaseKey := h.Sum(nil)

	keyExchangeKey := sessionBaseKey // if ntlm version == 2

	exportedSessionKey := keyExchangeKey
	var encryptedRandomSessionKey []byte
	if flags&NTLMSSP_NEGOTIATE_KEY_EXCH != 0 {
		exportedSessionKey = make([]byte, 16)
		if _, err := rand.Read(exportedSessionKey); err != nil {
			return nil, err
		}
		cipher, err := rc4.NewCipher(keyExchangeKey)
		if err != nil {
			return nil, err
		}
		encryptedRandomSessionKey = make([]byte, 16)
		cipher.XORKeyStream(encryptedRandomSessionKey, exportedSessionKey)
	}

	//        AuthenticateMessage
	//   0-8: Signature
	//  8-12: MessageType
	// 12-20: LmChallengeResponseFields
	// 20-28: NtChallengeResponseFields
	// 28-36: DomainNameFields
	// 36-44: UserNameFields
	// 44-52: WorkstationFields
	// 52-60: EncryptedRandomSessionKeyFields
	// 60-64: NegotiateFlags
	// 64-72: Version
	// 72-88: MIC
	//   88-: Payload

	user := utils.EncodeString(c.User)
	workstation := utils.EncodeString(c.Workstation)
	lmChallengeResponse := make([]byte, 24)

	amsg = make([]byte, 88+len(domain)+len(user)+len(workstation)+len(lmChallengeResponse)+len(ntChallengeResponse)+len(encryptedRandomSessionKey))
	copy(amsg[:8], signature)
	binary.LittleEndian.PutUint32(amsg[8:12], NtLmAuthenticate)

	off := 88
	off = writeField(amsg, 28, off, domain)
	off = writeField(amsg, 36, off, user)
	off = writeField(amsg, 44, off, workstation)
	off = writeField(amsg, 12, off, lmChallengeResponse)
	off = writeField(amsg, 20, off, ntChallengeResponse)
	writeField(amsg, 52, off, encryptedRandomSessionKey)

	binary.LittleEndian.PutUint32(amsg[60:64], flags)
	copy(amsg[64:72], version)

	mic := hmac.New(md5.New, exportedSessionKey)
	mic.Write(c.nmsg)
	mic.Write(cmsg)
	mic.Write(amsg)
	copy(amsg[72:88], mic.Sum(nil))

	session, err := newSession(true, c.User, c.Domain, flags, exportedSessionKey, pairs)
	if err != nil {
		return nil, err
	}
	c.session = session

	return amsg, nil
}

// Session returns the keys of a completed exchange, or nil.
func (c *Client) Session() *Session {
	return c.session
}
