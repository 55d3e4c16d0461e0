package client

import (
	"context"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/VasilyKirillov/smbjclient/compress"
	"github.com/VasilyKirillov/smbjclient/smb2"
)

var errUnexpectedBody = errors.New("unexpected response body")

// offeredDialects returns the dialects between min and max, oldest first.
func offeredDialects(minDialect, maxDialect uint16) []uint16 {
	if minDialect == 0 {
		minDialect = smb2.SMB_DIALECT_202
	}
	if maxDialect == 0 {
		maxDialect = smb2.SMB_DIALECT_311
	}

	var dialects []uint16
	for _, d := range smb2.Dialects {
		if d >= minDialect && d <= maxDialect {
			dialects = append(dialects, d)
		}
	}
	return dialects
}

// preauthHash chains SHA-512 over the messages, starting from prev.
func preauthHash(prev []byte, msgs ...[]byte) []byte {
	for _, msg := range msgs {
		h := sha512.New()
		h.Write(prev)
		h.Write(msg)
		prev = h.Sum(nil)
	}
	return prev
}

// negotiate runs the SMB2 NEGOTIATE exchange and records the outcome on c.
func (c *conn) negotiate(ctx context.Context, opts *Options) error {
	dialects := offeredDialects(opts.MinDialect, opts.MaxDialect)
	if len(dialects) == 0 {
		return negotiationFailed(0, smb2.ErrDialectNotSupported)
	}

	req := &smb2.NegotiateRequest{
		SecurityMode: smb2.NEGOTIATE_SIGNING_ENABLED,
		ClientGuid:   uuid.New(),
		Dialects:     dialects,
	}
	if opts.RequireSigning {
		req.SecurityMode |= smb2.NEGOTIATE_SIGNING_REQUIRED
	}
	if slices.ContainsFunc(dialects, smb2.Is3X) {
		req.Capabilities = smb2.GLOBAL_CAP_LARGE_MTU
	}
	if slices.Contains(dialects, smb2.SMB_DIALECT_311) {
		salt := make([]byte, 32)
		rand.Read(salt)
		req.NegotiateContexts = []smb2.NegotiateContext{
			smb2.PreauthIntegrityCapabilities(salt),
			smb2.SigningCapabilities([]uint16{smb2.AES_GMAC, smb2.AES_CMAC}),
		}
		if opts.Compression {
			req.NegotiateContexts = append(req.NegotiateContexts,
				smb2.CompressionCapabilities(smb2.COMPRESSION_CAPABILITIES_FLAG_CHAINED, compress.Algorithms))
		}
	}

	resp, err := c.call(ctx, &request{body: req})
	if err != nil {
		var status smb2.Status
		if errors.As(err, &status) {
			return negotiationFailed(uint32(status), status)
		}
		return err
	}

	nr, ok := resp.pkt.Body.(*smb2.NegotiateResponse)
	if !ok {
		return negotiationFailed(0, errUnexpectedBody)
	}
	if !slices.Contains(dialects, nr.DialectRevision) {
		return negotiationFailed(0, fmt.Errorf("%w: server selected %s", smb2.ErrDialectNotSupported, smb2.DialectName(nr.DialectRevision)))
	}

	c.dialect = nr.DialectRevision
	c.securityMode = nr.SecurityMode
	c.capabilities = nr.Capabilities
	c.serverGuid = nr.ServerGuid
	c.maxTransactSize = nr.MaxTransactSize
	c.maxReadSize = nr.MaxReadSize
	c.maxWriteSize = nr.MaxWriteSize
	c.securityBuffer = nr.SecurityBuffer
	c.signingAlgorithm = smb2.HMAC_SHA256
	if smb2.Is3X(c.dialect) {
		c.signingAlgorithm = smb2.AES_CMAC
	}

	if c.dialect == smb2.SMB_DIALECT_311 {
		if err := c.negotiateContexts(nr.NegotiateContexts, opts); err != nil {
			return negotiationFailed(0, err)
		}
		c.preauthHash = preauthHash(make([]byte, sha512.Size), resp.sent, resp.raw)
	}

	return nil
}

// negotiateContexts applies the 3.1.1 negotiate contexts of the response.
func (c *conn) negotiateContexts(ncs []smb2.NegotiateContext, opts *Options) error {
	hashAlgos, _, err := smb2.GetPreauthIntegrityCapabilities(ncs)
	if err != nil {
		return fmt.Errorf("preauth integrity capabilities: %w", err)
	}
	if !slices.Contains(hashAlgos, smb2.SHA_512) {
		return fmt.Errorf("preauth integrity capabilities: %w", smb2.ErrInvalidParameter)
	}

	signAlgos, err := smb2.GetSigningCapabilities(ncs)
	if err != nil {
		return fmt.Errorf("signing capabilities: %w", err)
	}
	if len(signAlgos) > 0 {
		switch signAlgos[0] {
		case smb2.AES_CMAC, smb2.AES_GMAC:
			c.signingAlgorithm = signAlgos[0]
		default:
			return fmt.Errorf("signing capabilities: unsupported algorithm 0x%04x", signAlgos[0])
		}
	}

	flags, algos, err := smb2.GetCompressionCapabilities(ncs)
	if err != nil {
		return fmt.Errorf("compression capabilities: %w", err)
	}
	if !opts.Compression {
		return nil
	}

	var selected []uint16
	for _, algo := range algos {
		if algo == smb2.COMPRESSION_NONE {
			continue
		}
		if !slices.Contains(compress.Algorithms, algo) {
			return fmt.Errorf("compression capabilities: unsupported algorithm 0x%04x", algo)
		}
		selected = append(selected, algo)
	}
	if len(selected) > 0 {
		c.compression = &compress.Transform{
			Algorithms: selected,
			Chained:    flags&smb2.COMPRESSION_CAPABILITIES_FLAG_CHAINED != 0,
			MaxSize:    256 + smb2.SMB2CompressionTransformHeaderSize + max(c.maxReadSize, c.maxWriteSize, c.maxTransactSize),
		}
	}

	return nil
}
