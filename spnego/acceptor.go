package spnego

import (
	"encoding/asn1"
	"fmt"

	"github.com/VasilyKirillov/smbjclient/ntlm"
)

// Acceptor is the server side of Initiator, backed by an ntlm.Server.
type Acceptor struct {
	ntlm      *ntlm.Server
	mechTypes []asn1.ObjectIdentifier
}

func NewAcceptor(s *ntlm.Server) *Acceptor {
	return &Acceptor{ntlm: s}
}

// Negotiate returns the NegTokenInit2 advertised in a Negotiate response.
func (a *Acceptor) Negotiate() ([]byte, error) {
	return EncodeNegTokenInit2([]asn1.ObjectIdentifier{NlmpOid})
}

// Challenge consumes the client's NegTokenInit and returns the
// accept-incomplete NegTokenResp carrying the CHALLENGE_MESSAGE.
func (a *Acceptor) Challenge(token []byte) ([]byte, error) {
	init, err := DecodeNegTokenInit(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if !HasMech(init.MechTypes, NlmpOid) {
		return nil, ErrMechNotSupported
	}
	a.mechTypes = init.MechTypes

	cmsg, err := a.ntlm.Challenge(init.MechToken)
	if err != nil {
		return nil, err
	}

	return EncodeNegTokenResp(AcceptIncomplete, NlmpOid, cmsg, nil)
}

// Authenticate verifies the AUTHENTICATE_MESSAGE and the client's
// mechListMIC, and returns the accept-completed NegTokenResp.
func (a *Acceptor) Authenticate(token []byte) ([]byte, error) {
	resp, err := DecodeNegTokenResp(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if err := a.ntlm.Authenticate(resp.ResponseToken); err != nil {
		return nil, err
	}

	ms, err := mechTypesBytes(a.mechTypes)
	if err != nil {
		return nil, err
	}

	session := a.ntlm.Session()
	if len(resp.MechListMIC) > 0 {
		if ok, _ := session.CheckSum(resp.MechListMIC, ms, 0); !ok {
			return nil, ErrMICMismatch
		}
	}

	mechListMIC, _ := session.Sum(ms, 0)
	return EncodeNegTokenResp(AcceptCompleted, nil, nil, mechListMIC)
}

// Session returns the NTLM session of a completed exchange.
func (a *Acceptor) Session() *ntlm.Session {
	return a.ntlm.Session()
}
