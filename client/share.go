package client

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/VasilyKirillov/smbjclient/smb2"
)

var errEmptyPath = errors.New("empty path")

// splitPath breaks a share-relative path into its non-empty segments. The
// separator is a backslash if the path contains one, else a forward slash.
func splitPath(path string) []string {
	sep := "/"
	if strings.Contains(path, `\`) {
		sep = `\`
	}

	var segments []string
	for _, s := range strings.Split(path, sep) {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// ensurePath opens every directory on path, parent first, creating the
// missing ones. Each handle is closed before the next Create.
func (t *Tree) ensurePath(ctx context.Context, path string) error {
	var prefix string
	for i, segment := range splitPath(path) {
		if i > 0 {
			prefix += `\`
		}
		prefix += segment

		f, err := t.create(ctx, &smb2.CreateRequest{
			DesiredAccess:     smb2.MAXIMUM_ALLOWED,
			FileAttributes:    smb2.FILE_ATTRIBUTE_DIRECTORY,
			ShareAccess:       smb2.FILE_SHARE_READ | smb2.FILE_SHARE_WRITE | smb2.FILE_SHARE_DELETE,
			CreateDisposition: smb2.FILE_OPEN_IF,
			CreateOptions:     smb2.FILE_DIRECTORY_FILE,
			Name:              prefix,
		})
		if errors.Is(err, smb2.Status(smb2.STATUS_OBJECT_NAME_COLLISION)) {
			continue
		}
		if err != nil {
			return &PathCreationError{Path: prefix, Err: err}
		}

		if err := f.close(ctx); err != nil {
			return &PathCreationError{Path: prefix, Err: err}
		}
	}

	return nil
}

// getFile copies the remote file into sink, one Read at a time.
func (t *Tree) getFile(ctx context.Context, remotePath string, sink io.Writer) (n int64, err error) {
	name := strings.Join(splitPath(remotePath), `\`)
	if name == "" {
		return 0, &FileOperationError{Op: "get", Path: remotePath, Err: errEmptyPath}
	}

	f, err := t.create(ctx, &smb2.CreateRequest{
		DesiredAccess:     smb2.GENERIC_READ,
		FileAttributes:    smb2.FILE_ATTRIBUTE_NORMAL,
		ShareAccess:       smb2.FILE_SHARE_READ,
		CreateDisposition: smb2.FILE_OPEN,
		CreateOptions:     smb2.FILE_NON_DIRECTORY_FILE,
		Name:              name,
	})
	if err != nil {
		return 0, &FileOperationError{Op: "get", Path: remotePath, Err: err}
	}

	defer func() {
		if cerr := f.close(ctx); cerr != nil {
			if err == nil {
				err = &FileOperationError{Op: "get", Path: remotePath, Transferred: n, Err: cerr}
			} else {
				t.conn.log.Warn("close failed", "path", remotePath, "err", cerr)
			}
		}
	}()

	var offset uint64
	for {
		data, asked, err := f.read(ctx, offset, t.conn.maxReadSize)
		if errors.Is(err, smb2.Status(smb2.STATUS_END_OF_FILE)) {
			break
		}
		if err != nil {
			return n, &FileOperationError{Op: "get", Path: remotePath, Transferred: n, Err: err}
		}
		if len(data) == 0 {
			break
		}

		if _, err := sink.Write(data); err != nil {
			return n, &FileOperationError{Op: "get", Path: remotePath, Transferred: n, Err: err}
		}
		n += int64(len(data))
		offset += uint64(len(data))
		t.conn.metrics.addRead(len(data))

		if uint32(len(data)) < asked {
			break
		}
	}

	return n, nil
}

// putFile creates or overwrites the remote file with the content of source.
// Missing parent directories are created first.
func (t *Tree) putFile(ctx context.Context, source io.Reader, remotePath string) (n int64, err error) {
	segments := splitPath(remotePath)
	if len(segments) == 0 {
		return 0, &FileOperationError{Op: "put", Path: remotePath, Err: errEmptyPath}
	}

	if len(segments) > 1 {
		if err := t.ensurePath(ctx, strings.Join(segments[:len(segments)-1], `\`)); err != nil {
			return 0, &FileOperationError{Op: "put", Path: remotePath, Err: err}
		}
	}

	f, err := t.create(ctx, &smb2.CreateRequest{
		DesiredAccess:     smb2.GENERIC_WRITE | smb2.GENERIC_READ,
		FileAttributes:    smb2.FILE_ATTRIBUTE_NORMAL,
		ShareAccess:       smb2.FILE_SHARE_READ,
		CreateDisposition: smb2.FILE_OVERWRITE_IF,
		CreateOptions:     smb2.FILE_NON_DIRECTORY_FILE,
		Name:              strings.Join(segments, `\`),
	})
	if err != nil {
		return 0, &FileOperationError{Op: "put", Path: remotePath, Err: err}
	}

	defer func() {
		if cerr := f.close(ctx); cerr != nil {
			if err == nil {
				err = &FileOperationError{Op: "put", Path: remotePath, Transferred: n, Err: cerr}
			} else {
				t.conn.log.Warn("close failed", "path", remotePath, "err", cerr)
			}
		}
	}()

	buf := make([]byte, t.conn.maxWriteSize)
	for {
		m, rerr := io.ReadFull(source, buf)
		for off := 0; off < m; {
			w, err := f.write(ctx, uint64(n), buf[off:m])
			if err != nil {
				return n, &FileOperationError{Op: "put", Path: remotePath, Transferred: n, Err: err}
			}
			off += w
			n += int64(w)
			t.conn.metrics.addWritten(w)
		}

		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return n, &FileOperationError{Op: "put", Path: remotePath, Transferred: n, Err: rerr}
		}
	}

	return n, nil
}
