package client

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/VasilyKirillov/smbjclient/smb2"
)

// Tree is a connection to one share.
type Tree struct {
	conn    *conn
	session *session
	client  *Client

	path      string
	id        uint32
	shareType uint8
	flags     uint32
	access    uint32
}

// Path returns the UNC path of the share, e.g. \\server\share.
func (t *Tree) Path() string { return t.path }

// ID returns the tree id assigned by the server.
func (t *Tree) ID() uint32 { return t.id }

// ShareType returns SHARE_TYPE_DISK, SHARE_TYPE_PIPE or SHARE_TYPE_PRINT.
func (t *Tree) ShareType() uint8 { return t.shareType }

// MaximalAccess returns the access rights the server grants on the share.
func (t *Tree) MaximalAccess() uint32 { return t.access }

func (t *Tree) call(ctx context.Context, body smb2.Message, charge uint16) (*response, error) {
	return t.conn.call(ctx, &request{
		body:      body,
		sessionID: t.session.id,
		treeID:    t.id,
		signer:    t.session.signer,
		charge:    charge,
	})
}

// sharePath returns the UNC path of share on the server at addr. A name
// that already is a UNC path is kept.
func sharePath(addr, share string) string {
	if strings.HasPrefix(share, `\\`) {
		return share
	}
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	return `\\` + host + `\` + strings.Trim(share, `\/`)
}

func (c *conn) treeConnect(ctx context.Context, s *session, path string) (*Tree, error) {
	resp, err := c.call(ctx, &request{
		body:      &smb2.TreeConnectRequest{Path: path},
		sessionID: s.id,
		signer:    s.signer,
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}

	tcr, ok := resp.pkt.Body.(*smb2.TreeConnectResponse)
	if !ok {
		return nil, fmt.Errorf("connect %s: %w", path, errUnexpectedBody)
	}

	return &Tree{
		conn:      c,
		session:   s,
		path:      path,
		id:        resp.pkt.Header.TreeID,
		shareType: tcr.ShareType,
		flags:     tcr.ShareFlags,
		access:    tcr.MaximalAccess,
	}, nil
}

func (t *Tree) disconnect(ctx context.Context) error {
	if _, err := t.call(ctx, &smb2.TreeDisconnectRequest{}, 0); err != nil {
		return fmt.Errorf("disconnect %s: %w", t.path, err)
	}
	return nil
}
