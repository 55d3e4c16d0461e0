package spnego

import (
	"encoding/asn1"
	"fmt"

	"github.com/VasilyKirillov/smbjclient/ntlm"
)

// Initiator drives the client side of an NTLM exchange wrapped in SPNEGO:
// InitSecContext, then Respond to the challenge, then Complete with the
// server's final token.
type Initiator struct {
	ntlm      *ntlm.Client
	mechTypes []asn1.ObjectIdentifier
}

func NewInitiator(c *ntlm.Client) *Initiator {
	return &Initiator{
		ntlm:      c,
		mechTypes: []asn1.ObjectIdentifier{NlmpOid},
	}
}

// CheckMechs inspects the NegTokenInit2 the server put in its Negotiate
// response. An empty token means the server left the choice to the client.
func (i *Initiator) CheckMechs(token []byte) error {
	if len(token) == 0 {
		return nil
	}

	init, err := DecodeNegTokenInit2(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if len(init.MechTypes) > 0 && !HasMech(init.MechTypes, NlmpOid) {
		return ErrMechNotSupported
	}

	return nil
}

// InitSecContext returns the NegTokenInit carrying the NTLM NEGOTIATE_MESSAGE.
func (i *Initiator) InitSecContext() ([]byte, error) {
	nmsg, err := i.ntlm.Negotiate()
	if err != nil {
		return nil, err
	}
	return EncodeNegTokenInit(i.mechTypes, nmsg)
}

// Respond consumes the NegTokenResp carrying the CHALLENGE_MESSAGE and
// returns the NegTokenResp carrying the AUTHENTICATE_MESSAGE and mechListMIC.
func (i *Initiator) Respond(token []byte) ([]byte, error) {
	resp, err := DecodeNegTokenResp(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if resp.NegState == Reject {
		return nil, ErrRejected
	}
	if len(resp.SupportedMech) > 0 && !resp.SupportedMech.Equal(NlmpOid) {
		return nil, ErrMechNotSupported
	}
	if len(resp.ResponseToken) == 0 {
		return nil, ErrMalformedToken
	}

	amsg, err := i.ntlm.Authenticate(resp.ResponseToken)
	if err != nil {
		return nil, err
	}

	ms, err := mechTypesBytes(i.mechTypes)
	if err != nil {
		return nil, err
	}
	mechListMIC, _ := i.ntlm.Session().Sum(ms, 0)

	return EncodeNegTokenResp(AcceptIncomplete, nil, amsg, mechListMIC)
}

// Complete checks the server's final token, verifying its mechListMIC when
// one is present. Servers may omit the token entirely.
func (i *Initiator) Complete(token []byte) error {
	if len(token) == 0 {
		return nil
	}

	resp, err := DecodeNegTokenResp(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if resp.NegState == Reject {
		return ErrRejected
	}

	if len(resp.MechListMIC) > 0 && i.ntlm.Session() != nil {
		ms, err := mechTypesBytes(i.mechTypes)
		if err != nil {
			return err
		}
		if ok, _ := i.ntlm.Session().CheckSum(resp.MechListMIC, ms, 0); !ok {
			return ErrMICMismatch
		}
	}

	return nil
}

// SessionKey returns the NTLM exported session key, or nil before Respond.
func (i *Initiator) SessionKey() []byte {
	if s := i.ntlm.Session(); s != nil {
		return s.SessionKey()
	}
	return nil
}
