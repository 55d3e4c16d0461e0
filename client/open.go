package client

import (
	"context"
	"io"

	"github.com/VasilyKirillov/smbjclient/smb2"
)

// file is an open handle on a tree. It must be closed on every exit path.
type file struct {
	tree  *Tree
	name  string
	id    smb2.FileID
	size  uint64
	isDir bool
}

func (t *Tree) create(ctx context.Context, req *smb2.CreateRequest) (*file, error) {
	if req.ImpersonationLevel == 0 {
		req.ImpersonationLevel = smb2.IMPERSONATION_IMPERSONATION
	}

	resp, err := t.call(ctx, req, 0)
	if err != nil {
		return nil, err
	}

	cr, ok := resp.pkt.Body.(*smb2.CreateResponse)
	if !ok {
		return nil, errUnexpectedBody
	}

	return &file{
		tree:  t,
		name:  req.Name,
		id:    cr.FileID,
		size:  cr.EndOfFile,
		isDir: cr.IsDirectory(),
	}, nil
}

// close releases the handle. It still runs when ctx is already done, and
// is a no-op once the connection is gone since the handle went with it.
func (f *file) close(ctx context.Context) error {
	if f.tree.conn.closed() != nil {
		return nil
	}

	ctx, cancel := f.tree.client.cleanupContext(ctx)
	defer cancel()

	_, err := f.tree.call(ctx, &smb2.CloseRequest{FileID: f.id}, 0)
	return err
}

// read reads up to length bytes at offset. The length is cut to what the
// available credits pay for; the length actually asked for is returned.
func (f *file) read(ctx context.Context, offset uint64, length uint32) ([]byte, uint32, error) {
	c := f.tree.conn
	charge, err := c.credits.Acquire(ctx, c.creditCharge(0, int(length)))
	if err != nil {
		return nil, 0, err
	}
	if c.multiCredit() {
		length = min(length, uint32(charge)*creditUnit)
	}

	req := &smb2.ReadRequest{
		Padding: smb2.SMB2HeaderSize + smb2.SMB2ReadResponseMinSize,
		Length:  length,
		Offset:  offset,
		FileID:  f.id,
	}
	if c.compression.Enabled() {
		req.Flags |= smb2.READFLAG_REQUEST_COMPRESSED
	}

	resp, err := f.tree.call(ctx, req, charge)
	if err != nil {
		return nil, length, err
	}

	rr, ok := resp.pkt.Body.(*smb2.ReadResponse)
	if !ok {
		return nil, length, errUnexpectedBody
	}

	return rr.Data, length, nil
}

// write writes a prefix of data at offset and returns how much the server took.
func (f *file) write(ctx context.Context, offset uint64, data []byte) (int, error) {
	c := f.tree.conn
	charge, err := c.credits.Acquire(ctx, c.creditCharge(len(data), 0))
	if err != nil {
		return 0, err
	}
	if c.multiCredit() && len(data) > int(charge)*creditUnit {
		data = data[:int(charge)*creditUnit]
	}

	resp, err := f.tree.call(ctx, &smb2.WriteRequest{
		Offset: offset,
		FileID: f.id,
		Data:   data,
	}, charge)
	if err != nil {
		return 0, err
	}

	wr, ok := resp.pkt.Body.(*smb2.WriteResponse)
	if !ok {
		return 0, errUnexpectedBody
	}
	if wr.Count == 0 {
		return 0, io.ErrShortWrite
	}

	return int(min(wr.Count, uint32(len(data)))), nil
}
