// Package client is a native SMB2 client: it negotiates a dialect,
// authenticates with NTLM, connects to shares and moves whole files.
package client

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/VasilyKirillov/smbjclient/ntlm"
	"github.com/VasilyKirillov/smbjclient/smb2"
	"github.com/VasilyKirillov/smbjclient/transport"
)

// maxUnitSize bounds read and write sizes on connections without multi-credit support.
const maxUnitSize = 64 * 1024

// cleanupTimeout bounds handle closes, tree disconnects and logoff when
// Options.Timeout is zero.
var cleanupTimeout = 5 * time.Second

// errClosed is returned by a handshake step that lost the race with Close.
var errClosed error = &lostError{cause: errClosedByClient}

// Options configures a Client.
type Options struct {
	Logger  *log.Logger
	Metrics *Metrics

	// Timeout bounds dialing, every write and the wait for each response.
	// Zero disables all of them; cleanup in Close is then bounded by five seconds.
	Timeout time.Duration

	RequireSigning bool
	Compression    bool // offer compress.Algorithms on 3.1.1

	MaxCredits   uint16 // credit balance to maintain, 128 when zero
	MaxReadSize  uint32 // caps the server limit when non-zero
	MaxWriteSize uint32

	MinDialect uint16 // 2.0.2 when zero
	MaxDialect uint16 // 3.1.1 when zero

	Workstation string

	// Dial opens the stream to the server. Plain TCP when nil.
	Dial func(ctx context.Context, addr string) (net.Conn, error)
}

// Client drives one SMB2 connection through its states:
// Disconnected, Negotiated, Authenticated, TreeConnected, Closed.
type Client struct {
	opts Options
	log  *log.Logger

	// setupMu serializes Connect and Authenticate. mu is never held
	// across a round trip so Close can always get in.
	setupMu sync.Mutex

	mu      sync.Mutex
	state   State
	addr    string
	dialing *conn // negotiating, not yet usable
	conn    *conn
	session *session
	trees   map[uint32]*Tree
}

// New returns a disconnected Client.
func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default().WithPrefix("smb")
	}
	return &Client{
		opts:  opts,
		log:   logger,
		trees: make(map[uint32]*Tree),
	}
}

// State returns the current state. A connection that died underneath
// the client reports Closed.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Disconnected && c.conn != nil && c.conn.closed() != nil {
		return Closed
	}
	return c.state
}

// Dialect returns the negotiated dialect, SMB_DIALECT_UNKNOWN before Connect.
func (c *Client) Dialect() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return smb2.SMB_DIALECT_UNKNOWN
	}
	return c.conn.dialect
}

// Signed reports whether the session signs its messages.
func (c *Client) Signed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil && c.session.signer != nil
}

// cleanupContext bounds best-effort cleanup that must run even when ctx
// is already done.
func (c *Client) cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = cleanupTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (c *Client) dial(ctx context.Context, addr string) (*transport.Conn, error) {
	if c.opts.Dial == nil {
		return transport.Dial(ctx, addr, c.opts.Timeout)
	}

	nc, err := c.opts.Dial(ctx, addr)
	if err != nil {
		return nil, &transport.ConnectionError{Op: "dial", Addr: addr, Err: err}
	}
	return transport.New(nc, c.opts.Timeout), nil
}

// Connect dials addr and negotiates the dialect. The socket is closed
// again when negotiation fails.
func (c *Client) Connect(ctx context.Context, addr string) error {
	c.setupMu.Lock()
	defer c.setupMu.Unlock()

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != Disconnected {
		return ErrInvalidState
	}

	t, err := c.dial(ctx, addr)
	if err != nil {
		return err
	}

	cn := newConn(t, c.log, c.opts.Metrics, c.opts.Timeout, c.opts.MaxCredits)
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		cn.close()
		return errClosed
	}
	c.dialing = cn
	c.mu.Unlock()

	err = cn.negotiate(ctx, &c.opts)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.dialing = nil
	if err == nil && c.state == Closed {
		err = errClosed
	}
	if err != nil {
		cn.close()
		return err
	}

	if !cn.multiCredit() {
		cn.maxReadSize = min(cn.maxReadSize, maxUnitSize)
		cn.maxWriteSize = min(cn.maxWriteSize, maxUnitSize)
	}
	if c.opts.MaxReadSize > 0 {
		cn.maxReadSize = min(cn.maxReadSize, c.opts.MaxReadSize)
	}
	if c.opts.MaxWriteSize > 0 {
		cn.maxWriteSize = min(cn.maxWriteSize, c.opts.MaxWriteSize)
	}
	cn.maxReadSize = max(cn.maxReadSize, 1)
	cn.maxWriteSize = max(cn.maxWriteSize, 1)

	c.conn = cn
	c.addr = addr
	c.state = Negotiated
	c.log.Info("negotiated", "addr", t.RemoteAddr(), "dialect", smb2.DialectName(cn.dialect),
		"maxRead", cn.maxReadSize, "maxWrite", cn.maxWriteSize, "compression", cn.compression.Enabled())

	return nil
}

// Authenticate establishes a session with NTLMv2. A failed attempt
// leaves the client Negotiated so it may try again.
func (c *Client) Authenticate(ctx context.Context, user, domain, password string) error {
	c.setupMu.Lock()
	defer c.setupMu.Unlock()

	c.mu.Lock()
	cn := c.conn
	if c.state != Negotiated || cn.closed() != nil {
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.mu.Unlock()

	s, err := cn.sessionSetup(ctx, &ntlm.Client{
		User:        user,
		Password:    password,
		Domain:      domain,
		Workstation: c.opts.Workstation,
	}, c.opts.RequireSigning)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// The session goes down with the connection Close already took.
	if c.state == Closed {
		return errClosed
	}

	c.session = s
	c.state = Authenticated
	c.log.Info("authenticated", "user", user, "domain", domain, "guest", s.isGuest(), "signed", s.signer != nil)

	return nil
}

// OpenShare connects to a share by name, or by UNC path.
func (c *Client) OpenShare(ctx context.Context, name string) (*Tree, error) {
	c.mu.Lock()
	cn, s, addr := c.conn, c.session, c.addr
	if (c.state != Authenticated && c.state != TreeConnected) || cn.closed() != nil {
		c.mu.Unlock()
		return nil, ErrInvalidState
	}
	c.mu.Unlock()

	t, err := cn.treeConnect(ctx, s, sharePath(addr, name))
	if err != nil {
		return nil, err
	}
	t.client = c

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Closed {
		return nil, errClosed
	}

	c.trees[t.id] = t
	c.state = TreeConnected
	c.log.Info("connected share", "path", t.path, "tree", t.id)

	return t, nil
}

// Disconnect releases a single tree.
func (c *Client) Disconnect(ctx context.Context, t *Tree) error {
	if err := c.checkTree(t); err != nil {
		return err
	}

	err := t.disconnect(ctx)

	c.mu.Lock()
	delete(c.trees, t.id)
	if len(c.trees) == 0 && c.state == TreeConnected {
		c.state = Authenticated
	}
	c.mu.Unlock()

	return err
}

func (c *Client) checkTree(t *Tree) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t == nil || c.trees[t.id] != t {
		return ErrUnknownTree
	}
	return c.conn.closed()
}

// EnsurePath creates every missing directory of path on the share.
func (c *Client) EnsurePath(ctx context.Context, t *Tree, path string) error {
	if err := c.checkTree(t); err != nil {
		return err
	}
	return t.ensurePath(ctx, path)
}

// GetFile copies the remote file into w and returns the bytes written.
func (c *Client) GetFile(ctx context.Context, t *Tree, remotePath string, w io.Writer) (int64, error) {
	if err := c.checkTree(t); err != nil {
		return 0, err
	}

	start := time.Now()
	n, err := t.getFile(ctx, remotePath, w)
	if err == nil {
		c.log.Info("downloaded", "path", remotePath, "bytes", n, "elapsed", time.Since(start))
	}
	return n, err
}

// PutFile copies r into the remote file, creating its parent directories.
func (c *Client) PutFile(ctx context.Context, t *Tree, r io.Reader, remotePath string) (int64, error) {
	if err := c.checkTree(t); err != nil {
		return 0, err
	}

	start := time.Now()
	n, err := t.putFile(ctx, r, remotePath)
	if err == nil {
		c.log.Info("uploaded", "path", remotePath, "bytes", n, "elapsed", time.Since(start))
	}
	return n, err
}

// Close disconnects every tree and logs off, bounded by the configured
// timeout, then closes the connection. Failures on the way are only logged.
// A Connect or Authenticate still in flight fails with ErrConnectionLost.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}
	cn, dialing, s, trees := c.conn, c.dialing, c.session, c.trees
	c.state = Closed
	c.trees = make(map[uint32]*Tree)
	c.mu.Unlock()

	if dialing != nil {
		dialing.close()
	}
	if cn == nil {
		return nil
	}

	if cn.closed() == nil {
		ctx, cancel := c.cleanupContext(context.Background())
		for _, t := range trees {
			if err := t.disconnect(ctx); err != nil {
				c.log.Warn("tree disconnect failed", "path", t.path, "err", err)
			}
		}
		if s != nil {
			if err := cn.logoff(ctx, s); err != nil {
				c.log.Warn("logoff failed", "err", err)
			}
		}
		cancel()
	}

	cn.close()
	c.log.Info("closed")

	return nil
}
