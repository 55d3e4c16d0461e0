package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/VasilyKirillov/smbjclient/compress"
	"github.com/VasilyKirillov/smbjclient/signing"
	"github.com/VasilyKirillov/smbjclient/smb2"
	"github.com/VasilyKirillov/smbjclient/transport"
)

const (
	// creditUnit is the payload size one credit pays for on multi-credit connections.
	creditUnit = 64 * 1024

	defaultCreditTarget = 128
)

var (
	errUnexpectedRequest    = errors.New("server sent a request")
	errUnexpectedCompressed = errors.New("compressed message without negotiated compression")
)

// request is one outgoing SMB2 message.
type request struct {
	body      smb2.Message
	sessionID uint64
	treeID    uint32
	signer    signing.Signer // nil sends the message unsigned
	charge    uint16         // credits already acquired; zero acquires one
}

// response is the outcome of one request. raw and sent hold the wire form
// of the response and of the request, which session setup hashes.
type response struct {
	pkt  *smb2.Packet
	raw  []byte
	sent []byte
	err  error
}

type pendingRequest struct {
	mid     uint64
	command uint16
	charge  uint16
	signer  signing.Signer
	since   time.Time
	sent    []byte
	ch      chan *response
}

// conn is the client end of one SMB2 connection: it hands out message ids,
// keeps the credit balance and demultiplexes responses.
type conn struct {
	t       *transport.Conn
	log     *log.Logger
	metrics *Metrics
	timeout time.Duration
	credits *creditPool

	sendMu sync.Mutex
	nextID uint64

	mu      sync.Mutex
	pending map[uint64]*pendingRequest
	err     error // non-nil once torn down
	done    chan struct{}

	// Negotiated parameters, fixed before the connection is shared.
	dialect          uint16
	securityMode     uint16
	capabilities     uint32
	serverGuid       [16]byte
	maxTransactSize  uint32
	maxReadSize      uint32
	maxWriteSize     uint32
	securityBuffer   []byte
	signingAlgorithm uint16
	preauthHash      []byte
	compression      *compress.Transform
}

func newConn(t *transport.Conn, logger *log.Logger, metrics *Metrics, timeout time.Duration, creditTarget uint16) *conn {
	if creditTarget == 0 {
		creditTarget = defaultCreditTarget
	}
	c := &conn{
		t:       t,
		log:     logger,
		metrics: metrics,
		timeout: timeout,
		credits: newCreditPool(1, creditTarget),
		pending: make(map[uint64]*pendingRequest),
		done:    make(chan struct{}),
		dialect: smb2.SMB_DIALECT_UNKNOWN,
	}

	go c.readLoop()
	if timeout > 0 {
		go c.watchdog()
	}

	return c
}

// multiCredit reports whether requests may be charged more than one credit.
func (c *conn) multiCredit() bool {
	return c.dialect != smb2.SMB_DIALECT_UNKNOWN &&
		c.dialect != smb2.SMB_DIALECT_202 &&
		c.capabilities&smb2.GLOBAL_CAP_LARGE_MTU != 0
}

// creditCharge returns the charge of a request sending send bytes and
// expecting up to recv bytes back.
func (c *conn) creditCharge(send, recv int) uint16 {
	if !c.multiCredit() {
		return 1
	}
	n := (max(send, recv, 1) + creditUnit - 1) / creditUnit
	return uint16(min(n, 0xffff))
}

// call sends req and waits for its final response. An error status is
// returned as smb2.Status alongside the response.
func (c *conn) call(ctx context.Context, req *request) (*response, error) {
	if req.charge == 0 {
		n, err := c.credits.Acquire(ctx, 1)
		if err != nil {
			return nil, err
		}
		req.charge = n
	}
	c.metrics.setCredits(c.credits.Available())

	p, err := c.send(req)
	if err != nil {
		return nil, err
	}

	select {
	case resp := <-p.ch:
		if resp.err != nil {
			return resp, resp.err
		}
		if status := resp.pkt.Header.Status; smb2.IsError(status) {
			return resp, fmt.Errorf("%s: %w", smb2.CommandName(p.command), smb2.Status(status))
		}
		return resp, nil
	case <-ctx.Done():
		// The entry stays until its response or teardown settles the credits.
		return nil, ctx.Err()
	}
}

// send allocates the message id, signs, registers and writes the request.
// Ids reach the wire in ascending order because all of it happens under sendMu.
func (c *conn) send(req *request) (*pendingRequest, error) {
	pkt := &smb2.Packet{
		Header: smb2.PacketHeader{
			Command:   req.body.Command(),
			Credits:   c.credits.Request(req.charge),
			SessionID: req.sessionID,
			TreeID:    req.treeID,
		},
		Body: req.body,
	}
	if c.dialect != smb2.SMB_DIALECT_UNKNOWN && c.dialect != smb2.SMB_DIALECT_202 {
		pkt.Header.CreditCharge = req.charge
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	pkt.Header.MessageID = c.nextID
	msg := smb2.Encode(pkt)
	if req.signer != nil {
		req.signer.Sign(msg)
	}

	p := &pendingRequest{
		mid:     pkt.Header.MessageID,
		command: pkt.Header.Command,
		charge:  req.charge,
		signer:  req.signer,
		since:   time.Now(),
		sent:    msg,
		ch:      make(chan *response, 1),
	}

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		c.credits.Release(req.charge)
		return nil, err
	}
	c.pending[p.mid] = p
	npending := len(c.pending)
	c.mu.Unlock()

	c.nextID += uint64(req.charge)

	frame := msg
	if c.compression.Enabled() && p.command == smb2.SMB2_WRITE {
		frame = c.compression.Compress(msg)
	}

	c.log.Debug("request", "command", smb2.CommandName(p.command), "mid", p.mid, "charge", p.charge, "credits", pkt.Header.Credits, "size", len(frame))
	c.metrics.recordRequest(p.command)
	c.metrics.setPending(npending)

	if err := c.t.Send(frame); err != nil {
		c.teardown(err)
	}

	return p, nil
}

func (c *conn) readLoop() {
	for {
		frame, err := c.t.Receive()
		if err != nil {
			c.teardown(err)
			return
		}

		if smb2.Header(frame).IsCompressed() {
			if !c.compression.Enabled() {
				c.teardown(&smb2.MalformedMessageError{Err: errUnexpectedCompressed})
				return
			}
			if frame, err = c.compression.Decompress(frame); err != nil {
				c.teardown(&smb2.MalformedMessageError{Err: err})
				return
			}
		}

		msgs, err := smb2.Split(frame)
		if err != nil {
			c.teardown(err)
			return
		}

		for _, msg := range msgs {
			if err := c.dispatch(msg); err != nil {
				c.teardown(err)
				return
			}
		}
	}
}

// dispatch routes one response to its waiting request. Only codec
// failures are returned; they are fatal to the connection.
func (c *conn) dispatch(msg []byte) error {
	pkt, err := smb2.Decode(msg)
	if err != nil {
		return err
	}

	h := &pkt.Header
	if !h.IsResponse() {
		return &smb2.MalformedMessageError{Command: smb2.CommandName(h.Command), Err: errUnexpectedRequest}
	}

	c.mu.Lock()
	p, ok := c.pending[h.MessageID]
	if !ok {
		c.mu.Unlock()
		c.log.Warn("dropping response to unknown message", "command", smb2.CommandName(h.Command), "mid", h.MessageID, "status", smb2.Status(h.Status))
		return nil
	}

	if h.Status == smb2.STATUS_PENDING {
		p.since = time.Now()
		c.mu.Unlock()
		c.credits.Grant(h.Credits)
		c.metrics.setCredits(c.credits.Available())
		c.log.Debug("interim response", "command", smb2.CommandName(h.Command), "mid", h.MessageID, "asyncID", h.AsyncID, "credits", h.Credits)
		return nil
	}

	delete(c.pending, h.MessageID)
	npending := len(c.pending)
	c.mu.Unlock()

	c.credits.Return(p.charge, h.Credits)
	c.metrics.recordResponse(h.Status)
	c.metrics.setCredits(c.credits.Available())
	c.metrics.setPending(npending)
	c.log.Debug("response", "command", smb2.CommandName(h.Command), "mid", h.MessageID, "status", smb2.Status(h.Status), "credits", h.Credits)

	// A signed request takes only a signed final response.
	resp := &response{pkt: pkt, raw: msg, sent: p.sent}
	if p.signer != nil && (h.Flags&smb2.FLAGS_SIGNED == 0 || !p.signer.Verify(msg)) {
		resp.err = fmt.Errorf("%s: %w", smb2.CommandName(h.Command), ErrSignatureMismatch)
	}
	p.ch <- resp

	return nil
}

// watchdog tears the connection down when the oldest pending request has
// waited longer than the timeout.
func (c *conn) watchdog() {
	ticker := time.NewTicker(max(c.timeout/4, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			var oldest *pendingRequest
			for _, p := range c.pending {
				if oldest == nil || p.since.Before(oldest.since) {
					oldest = p
				}
			}
			c.mu.Unlock()

			if oldest != nil && now.Sub(oldest.since) > c.timeout {
				c.teardown(&transport.ConnectionError{
					Op:   "read",
					Addr: c.t.RemoteAddr(),
					Err:  fmt.Errorf("no response to %s (mid %d) within %v: %w", smb2.CommandName(oldest.command), oldest.mid, c.timeout, os.ErrDeadlineExceeded),
				})
				return
			}
		}
	}
}

// teardown closes the transport and fails every pending request with
// ErrConnectionLost. Only the first call has an effect.
func (c *conn) teardown(cause error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	lost := &lostError{cause: cause}
	c.err = lost
	pending := c.pending
	c.pending = make(map[uint64]*pendingRequest)
	c.mu.Unlock()

	close(c.done)
	c.t.Close()
	c.credits.close(lost)

	for _, p := range pending {
		p.ch <- &response{err: lost}
	}

	c.metrics.setPending(0)
	if errors.Is(cause, errClosedByClient) {
		c.log.Debug("connection closed", "pending", len(pending))
	} else {
		c.log.Warn("connection lost", "err", cause, "pending", len(pending))
	}
}

func (c *conn) close() {
	c.teardown(errClosedByClient)
}

// closed returns the teardown error, or nil while the connection is usable.
func (c *conn) closed() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *conn) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// verifyWith checks a response signature with a signer that did not exist
// when the request was sent. An unsigned message passes unless required.
func verifyWith(s signing.Signer, msg []byte, required bool) bool {
	if smb2.Header(msg).Flags()&smb2.FLAGS_SIGNED == 0 {
		return !required
	}
	return s.Verify(msg)
}
