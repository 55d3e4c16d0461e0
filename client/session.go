package client

import (
	"context"
	"errors"

	"github.com/VasilyKirillov/smbjclient/kdf"
	"github.com/VasilyKirillov/smbjclient/ntlm"
	"github.com/VasilyKirillov/smbjclient/signing"
	"github.com/VasilyKirillov/smbjclient/smb2"
	"github.com/VasilyKirillov/smbjclient/spnego"
)

var errUnsignedSession = errors.New("signing required but the server granted a guest or null session")

// session is an authenticated SMB2 session on a conn.
type session struct {
	id     uint64
	flags  uint16
	key    []byte
	signer signing.Signer // nil for guest and null sessions
	user   string
	domain string
}

func (s *session) isGuest() bool {
	return s.flags&(smb2.SESSION_FLAG_IS_GUEST|smb2.SESSION_FLAG_IS_NULL) != 0
}

// setupStatus separates a SessionSetup status from a failure to get any response.
func setupStatus(resp *response, err error) (uint32, error) {
	if err == nil {
		return resp.pkt.Header.Status, nil
	}
	var status smb2.Status
	if resp != nil && resp.pkt != nil && errors.As(err, &status) {
		return uint32(status), nil
	}
	return 0, err
}

func setupFailure(status uint32) error {
	if isCredentialFailure(status) {
		return &AuthenticationError{Kind: ErrCredentialsRejected, Status: status, Err: smb2.Status(status)}
	}
	return negotiationFailed(status, smb2.Status(status))
}

// sessionSetup authenticates with NTLM over SPNEGO in two SessionSetup
// round trips and derives the signing key of the new session.
func (c *conn) sessionSetup(ctx context.Context, nc *ntlm.Client, requireSigning bool) (*session, error) {
	init := spnego.NewInitiator(nc)
	if err := init.CheckMechs(c.securityBuffer); err != nil {
		return nil, negotiationFailed(0, err)
	}

	token, err := init.InitSecContext()
	if err != nil {
		return nil, negotiationFailed(0, err)
	}

	securityMode := uint8(smb2.NEGOTIATE_SIGNING_ENABLED)
	if requireSigning {
		securityMode |= smb2.NEGOTIATE_SIGNING_REQUIRED
	}

	hash := c.preauthHash
	resp, err := c.call(ctx, &request{body: &smb2.SessionSetupRequest{
		SecurityMode:   securityMode,
		SecurityBuffer: token,
	}})
	status, err := setupStatus(resp, err)
	if err != nil {
		return nil, err
	}
	if status != smb2.STATUS_MORE_PROCESSING_REQUIRED {
		if status == smb2.STATUS_OK {
			return nil, negotiationFailed(status, errUnexpectedBody)
		}
		return nil, setupFailure(status)
	}

	ssr, ok := resp.pkt.Body.(*smb2.SessionSetupResponse)
	if !ok {
		return nil, negotiationFailed(status, errUnexpectedBody)
	}
	sid := resp.pkt.Header.SessionID
	if c.dialect == smb2.SMB_DIALECT_311 {
		hash = preauthHash(hash, resp.sent, resp.raw)
	}

	token, err = init.Respond(ssr.SecurityBuffer)
	if err != nil {
		return nil, negotiationFailed(0, err)
	}

	resp, err = c.call(ctx, &request{
		body: &smb2.SessionSetupRequest{
			SecurityMode:   securityMode,
			SecurityBuffer: token,
		},
		sessionID: sid,
	})
	status, err = setupStatus(resp, err)
	if err != nil {
		return nil, err
	}
	if status != smb2.STATUS_OK {
		return nil, setupFailure(status)
	}

	ssr, ok = resp.pkt.Body.(*smb2.SessionSetupResponse)
	if !ok {
		return nil, negotiationFailed(status, errUnexpectedBody)
	}
	if c.dialect == smb2.SMB_DIALECT_311 {
		// the final response is not part of the hash
		hash = preauthHash(hash, resp.sent)
	}

	if err := init.Complete(ssr.SecurityBuffer); err != nil {
		return nil, negotiationFailed(0, err)
	}

	s := &session{
		id:     sid,
		flags:  ssr.SessionFlags,
		user:   nc.User,
		domain: nc.Domain,
	}
	if s.isGuest() {
		if requireSigning {
			return nil, negotiationFailed(0, errUnsignedSession)
		}
		return s, nil
	}

	s.key = init.SessionKey()
	signer, err := signing.New(c.dialect, c.signingAlgorithm, kdf.SigningKey(c.dialect, s.key, hash))
	if err != nil {
		return nil, negotiationFailed(0, err)
	}
	if !verifyWith(signer, resp.raw, requireSigning || c.dialect == smb2.SMB_DIALECT_311) {
		return nil, negotiationFailed(0, ErrSignatureMismatch)
	}
	s.signer = signer

	return s, nil
}

// logoff ends the session on the server.
func (c *conn) logoff(ctx context.Context, s *session) error {
	_, err := c.call(ctx, &request{
		body:      &smb2.LogoffRequest{},
		sessionID: s.id,
		signer:    s.signer,
	})
	return err
}
