package client

import (
	"bytes"
	"context"
	"encoding/asn1"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VasilyKirillov/smbjclient/smb2"
	"github.com/VasilyKirillov/smbjclient/spnego"
)

func newTestClient(t *testing.T, s *fakeServer, opts Options) *Client {
	t.Helper()
	opts.Dial = s.dial
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	c := New(opts)
	t.Cleanup(func() { c.Close() })
	return c
}

// connect brings a client all the way to a connected tree on share.
func connect(t *testing.T, s *fakeServer, opts Options) (*Client, *Tree) {
	t.Helper()
	ctx := context.Background()

	c := newTestClient(t, s, opts)
	require.NoError(t, c.Connect(ctx, "fileserver:445"))
	require.NoError(t, c.Authenticate(ctx, "alice", "WORKGROUP", "secret"))

	tree, err := c.OpenShare(ctx, "share")
	require.NoError(t, err)
	return c, tree
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

func TestRoundTripDialects(t *testing.T) {
	tests := []struct {
		name      string
		dialect   uint16
		algorithm uint16
	}{
		{"2.0.2", smb2.SMB_DIALECT_202, smb2.HMAC_SHA256},
		{"2.1", smb2.SMB_DIALECT_21, smb2.HMAC_SHA256},
		{"3.0", smb2.SMB_DIALECT_30, smb2.AES_CMAC},
		{"3.0.2", smb2.SMB_DIALECT_302, smb2.AES_CMAC},
		{"3.1.1 CMAC", smb2.SMB_DIALECT_311, smb2.AES_CMAC},
		{"3.1.1 GMAC", smb2.SMB_DIALECT_311, smb2.AES_GMAC},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newFakeServer(t, tt.dialect)
			s.signingAlgo = tt.algorithm
			c, tree := connect(t, s, Options{RequireSigning: true})

			assert.Equal(t, tt.dialect, c.Dialect())
			assert.Equal(t, TreeConnected, c.State())
			assert.True(t, c.Signed())
			assert.Equal(t, tt.algorithm, c.conn.signingAlgorithm)
			assert.Equal(t, `\\fileserver\share`, tree.Path())
			assert.Equal(t, uint8(smb2.SHARE_TYPE_DISK), tree.ShareType())

			data := pattern(150_000)
			ctx := context.Background()
			n, err := c.PutFile(ctx, tree, bytes.NewReader(data), "docs/report.bin")
			require.NoError(t, err)
			assert.Equal(t, int64(len(data)), n)

			var buf bytes.Buffer
			n, err = c.GetFile(ctx, tree, `docs\report.bin`, &buf)
			require.NoError(t, err)
			assert.Equal(t, int64(len(data)), n)
			assert.Equal(t, data, buf.Bytes())

			require.NoError(t, c.Close())
			assert.Equal(t, Closed, c.State())
			assert.Empty(t, s.Problems())
			assert.Zero(t, s.openHandles())
		})
	}
}

func TestReadWriteChunking(t *testing.T) {
	const chunk = 4096

	tests := []struct {
		size   int
		reads  int
		writes int
	}{
		{0, 1, 0},
		{chunk, 2, 1},
		{chunk + 1, 2, 2},
		{2 * chunk, 3, 2},
	}

	for _, tt := range tests {
		s := newFakeServer(t, smb2.SMB_DIALECT_311)
		s.maxRead = chunk
		s.maxWrite = chunk
		c, tree := connect(t, s, Options{})
		ctx := context.Background()

		data := pattern(tt.size)
		_, err := c.PutFile(ctx, tree, bytes.NewReader(data), "file.bin")
		require.NoError(t, err)

		var buf bytes.Buffer
		n, err := c.GetFile(ctx, tree, "file.bin", &buf)
		require.NoError(t, err)
		assert.Equal(t, int64(tt.size), n)
		assert.Equal(t, tt.size, buf.Len())

		_, reads, writes, _ := s.counts()
		assert.Equal(t, tt.reads, reads, "reads for %d bytes", tt.size)
		assert.Equal(t, tt.writes, writes, "writes for %d bytes", tt.size)
		assert.Zero(t, s.openHandles())
	}
}

func TestPutFileCreatesParents(t *testing.T) {
	s := newFakeServer(t, smb2.SMB_DIALECT_311)
	c, tree := connect(t, s, Options{})

	n, err := c.PutFile(context.Background(), tree, bytes.NewReader([]byte("x")), "dir/sub/file.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// one create per missing directory, then the file itself
	creates, _, writes, closes := s.counts()
	require.Len(t, creates, 3)
	assert.Equal(t, []string{"dir", `dir\sub`, `dir\sub\file.txt`}, creates)
	assert.Equal(t, 1, writes)
	assert.Equal(t, 3, closes)
	assert.Zero(t, s.openHandles())

	f, ok := s.file(`dir\sub\file.txt`)
	require.True(t, ok)
	assert.Equal(t, "x", string(f.data))
}

func TestPutFileOverwrites(t *testing.T) {
	s := newFakeServer(t, smb2.SMB_DIALECT_21)
	s.putFile("notes.txt", []byte("a much longer previous content"))
	c, tree := connect(t, s, Options{})

	_, err := c.PutFile(context.Background(), tree, bytes.NewReader([]byte("new")), "notes.txt")
	require.NoError(t, err)

	f, _ := s.file("notes.txt")
	assert.Equal(t, "new", string(f.data))
}

func TestEnsurePath(t *testing.T) {
	s := newFakeServer(t, smb2.SMB_DIALECT_302)
	s.putDir("a")
	c, tree := connect(t, s, Options{})

	require.NoError(t, c.EnsurePath(context.Background(), tree, `a\b\c`))

	creates, _, _, closes := s.counts()
	assert.Equal(t, []string{"a", `a\b`, `a\b\c`}, creates)
	assert.Equal(t, 3, closes)

	f, ok := s.file(`a\b\c`)
	require.True(t, ok)
	assert.True(t, f.dir)

	// existing directories are opened again, not an error
	require.NoError(t, c.EnsurePath(context.Background(), tree, "a/b/c/"))
}

func TestEnsurePathBlockedByFile(t *testing.T) {
	s := newFakeServer(t, smb2.SMB_DIALECT_311)
	s.putFile("a", []byte("x"))
	c, tree := connect(t, s, Options{})

	err := c.EnsurePath(context.Background(), tree, "a/b")
	var pce *PathCreationError
	require.ErrorAs(t, err, &pce)
	assert.Equal(t, "a", pce.Path)
	assert.ErrorIs(t, err, smb2.Status(smb2.STATUS_NOT_A_DIRECTORY))
	assert.Zero(t, s.openHandles())
}

func TestGetFileMissing(t *testing.T) {
	s := newFakeServer(t, smb2.SMB_DIALECT_311)
	c, tree := connect(t, s, Options{})

	_, err := c.GetFile(context.Background(), tree, "nope.txt", io.Discard)
	var foe *FileOperationError
	require.ErrorAs(t, err, &foe)
	assert.Equal(t, "get", foe.Op)
	assert.ErrorIs(t, err, smb2.Status(smb2.STATUS_OBJECT_NAME_NOT_FOUND))
	assert.Equal(t, TreeConnected, c.State())
}

type failingWriter struct{ after int }

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.after <= 0 {
		return 0, errors.New("disk full")
	}
	w.after--
	return len(p), nil
}

func TestGetFileSinkFailureClosesHandle(t *testing.T) {
	s := newFakeServer(t, smb2.SMB_DIALECT_311)
	s.maxRead = 1024
	s.putFile("big.bin", pattern(5000))
	c, tree := connect(t, s, Options{})

	_, err := c.GetFile(context.Background(), tree, "big.bin", &failingWriter{after: 2})
	var foe *FileOperationError
	require.ErrorAs(t, err, &foe)
	assert.Equal(t, int64(2048), foe.Transferred)
	assert.Zero(t, s.openHandles())
}

func TestAuthenticateWrongPassword(t *testing.T) {
	s := newFakeServer(t, smb2.SMB_DIALECT_311)
	c := newTestClient(t, s, Options{})
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx, "fileserver"))

	err := c.Authenticate(ctx, "alice", "WORKGROUP", "wrong")
	require.ErrorIs(t, err, ErrCredentialsRejected)
	var ae *AuthenticationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, uint32(smb2.STATUS_LOGON_FAILURE), ae.Status)
	assert.Equal(t, Negotiated, c.State())

	require.NoError(t, c.Authenticate(ctx, "alice", "WORKGROUP", "secret"))
	assert.Equal(t, Authenticated, c.State())
	assert.Empty(t, s.Problems())
}

func TestAuthenticateMechNotOffered(t *testing.T) {
	s := newFakeServer(t, smb2.SMB_DIALECT_311)
	s.mechs = []asn1.ObjectIdentifier{{1, 2, 840, 113554, 1, 2, 2}}
	c := newTestClient(t, s, Options{})
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx, "fileserver"))

	err := c.Authenticate(ctx, "alice", "WORKGROUP", "secret")
	assert.ErrorIs(t, err, ErrProtocolNegotiationFailed)
	assert.ErrorIs(t, err, spnego.ErrMechNotSupported)
	assert.Equal(t, Negotiated, c.State())
}

func TestConnectDialectMismatch(t *testing.T) {
	s := newFakeServer(t, smb2.SMB_DIALECT_311)
	c := newTestClient(t, s, Options{MaxDialect: smb2.SMB_DIALECT_302})

	err := c.Connect(context.Background(), "fileserver")
	assert.ErrorIs(t, err, ErrProtocolNegotiationFailed)
	assert.ErrorIs(t, err, smb2.Status(smb2.STATUS_NOT_SUPPORTED))
	assert.Equal(t, Disconnected, c.State())
}

func TestConnectUnofferedDialect(t *testing.T) {
	s := newFakeServer(t, smb2.SMB_DIALECT_311)
	s.forceDialect = true
	c := newTestClient(t, s, Options{MaxDialect: smb2.SMB_DIALECT_21})

	err := c.Connect(context.Background(), "fileserver")
	assert.ErrorIs(t, err, ErrProtocolNegotiationFailed)
	assert.ErrorIs(t, err, smb2.ErrDialectNotSupported)
}

func TestGuestSession(t *testing.T) {
	s := newFakeServer(t, smb2.SMB_DIALECT_30)
	s.guest = true

	c, _ := connect(t, s, Options{})
	assert.False(t, c.Signed())

	strict := newTestClient(t, s, Options{RequireSigning: true})
	ctx := context.Background()
	require.NoError(t, strict.Connect(ctx, "fileserver"))
	err := strict.Authenticate(ctx, "alice", "WORKGROUP", "secret")
	assert.ErrorIs(t, err, ErrProtocolNegotiationFailed)
	assert.Equal(t, Negotiated, strict.State())
}

func TestSessionSetupBadSignature(t *testing.T) {
	s := newFakeServer(t, smb2.SMB_DIALECT_311)
	s.badSig[smb2.SMB2_SESSION_SETUP] = true
	c := newTestClient(t, s, Options{})
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx, "fileserver"))

	err := c.Authenticate(ctx, "alice", "WORKGROUP", "secret")
	assert.ErrorIs(t, err, ErrProtocolNegotiationFailed)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestBadSignatureFailsOnlyThatRequest(t *testing.T) {
	s := newFakeServer(t, smb2.SMB_DIALECT_21)
	s.badSig[smb2.SMB2_TREE_CONNECT] = true
	c := newTestClient(t, s, Options{})
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx, "fileserver"))
	require.NoError(t, c.Authenticate(ctx, "alice", "WORKGROUP", "secret"))

	_, err := c.OpenShare(ctx, "share")
	assert.ErrorIs(t, err, ErrSignatureMismatch)
	assert.Equal(t, Authenticated, c.State())
}

func TestUnsignedResponseRejected(t *testing.T) {
	s := newFakeServer(t, smb2.SMB_DIALECT_30)
	s.unsigned[smb2.SMB2_READ] = true
	s.putFile("payload.txt", []byte("payload"))
	c, tree := connect(t, s, Options{RequireSigning: true})
	require.True(t, c.Signed())

	var buf bytes.Buffer
	_, err := c.GetFile(context.Background(), tree, "payload.txt", &buf)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
	assert.Zero(t, buf.Len())
	assert.Zero(t, s.openHandles())
	assert.Equal(t, TreeConnected, c.State())
}

func TestSessionSetupUnsignedFinalResponse(t *testing.T) {
	tests := []struct {
		name           string
		dialect        uint16
		requireSigning bool
		wantErr        bool
	}{
		{"3.1.1", smb2.SMB_DIALECT_311, false, true},
		{"2.1 signing required", smb2.SMB_DIALECT_21, true, true},
		{"2.1", smb2.SMB_DIALECT_21, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newFakeServer(t, tt.dialect)
			s.unsigned[smb2.SMB2_SESSION_SETUP] = true
			c := newTestClient(t, s, Options{RequireSigning: tt.requireSigning})
			ctx := context.Background()
			require.NoError(t, c.Connect(ctx, "fileserver"))

			err := c.Authenticate(ctx, "alice", "WORKGROUP", "secret")
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrProtocolNegotiationFailed)
			assert.ErrorIs(t, err, ErrSignatureMismatch)
			assert.Equal(t, Negotiated, c.State())
		})
	}
}

func TestOpenShareUnknown(t *testing.T) {
	s := newFakeServer(t, smb2.SMB_DIALECT_311)
	c := newTestClient(t, s, Options{})
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx, "fileserver"))
	require.NoError(t, c.Authenticate(ctx, "alice", "WORKGROUP", "secret"))

	_, err := c.OpenShare(ctx, "missing")
	assert.ErrorIs(t, err, smb2.Status(smb2.STATUS_BAD_NETWORK_NAME))
	assert.Equal(t, Authenticated, c.State())
}

func TestStateTransitions(t *testing.T) {
	s := newFakeServer(t, smb2.SMB_DIALECT_311)
	c := newTestClient(t, s, Options{})
	ctx := context.Background()

	assert.Equal(t, Disconnected, c.State())
	assert.ErrorIs(t, c.Authenticate(ctx, "alice", "", "secret"), ErrInvalidState)

	require.NoError(t, c.Connect(ctx, "fileserver"))
	assert.ErrorIs(t, c.Connect(ctx, "fileserver"), ErrInvalidState)
	_, err := c.OpenShare(ctx, "share")
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, c.Authenticate(ctx, "alice", "", "secret"))
	first, err := c.OpenShare(ctx, "share")
	require.NoError(t, err)
	second, err := c.OpenShare(ctx, "SHARE")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())

	require.NoError(t, c.Disconnect(ctx, first))
	assert.Equal(t, TreeConnected, c.State())
	_, err = c.GetFile(ctx, first, "x", io.Discard)
	assert.ErrorIs(t, err, ErrUnknownTree)
	require.NoError(t, c.Disconnect(ctx, second))
	assert.Equal(t, Authenticated, c.State())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, Closed, c.State())
	assert.Empty(t, s.Problems())
}

func TestPendingRequestsFailOnClose(t *testing.T) {
	const k = 4

	s := newFakeServer(t, smb2.SMB_DIALECT_311)
	s.hold[smb2.SMB2_READ] = true
	s.putFile("big.bin", pattern(k*4096))
	c, tree := connect(t, s, Options{})
	ctx := context.Background()

	f, err := tree.create(ctx, &smb2.CreateRequest{
		DesiredAccess:     smb2.GENERIC_READ,
		CreateDisposition: smb2.FILE_OPEN,
		Name:              "big.bin",
	})
	require.NoError(t, err)

	errs := make(chan error, k)
	for i := range k {
		go func() {
			_, _, err := f.read(ctx, uint64(i*4096), 4096)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return s.heldCount() == k }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, k, c.conn.pendingCount())

	require.NoError(t, c.Close())
	for range k {
		assert.ErrorIs(t, <-errs, ErrConnectionLost)
	}
	assert.Zero(t, c.conn.pendingCount())
}

func TestCloseFailsHandshakeInFlight(t *testing.T) {
	tests := []struct {
		name    string
		command uint16
		run     func(ctx context.Context, c *Client) error
	}{
		{"negotiate", smb2.SMB2_NEGOTIATE, func(ctx context.Context, c *Client) error {
			return c.Connect(ctx, "fileserver")
		}},
		{"session setup", smb2.SMB2_SESSION_SETUP, func(ctx context.Context, c *Client) error {
			if err := c.Connect(ctx, "fileserver"); err != nil {
				return err
			}
			return c.Authenticate(ctx, "alice", "WORKGROUP", "secret")
		}},
		{"tree connect", smb2.SMB2_TREE_CONNECT, func(ctx context.Context, c *Client) error {
			if err := c.Connect(ctx, "fileserver"); err != nil {
				return err
			}
			if err := c.Authenticate(ctx, "alice", "WORKGROUP", "secret"); err != nil {
				return err
			}
			_, err := c.OpenShare(ctx, "share")
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newFakeServer(t, smb2.SMB_DIALECT_311)
			s.hold[tt.command] = true
			c := newTestClient(t, s, Options{})

			done := make(chan error, 1)
			go func() { done <- tt.run(context.Background(), c) }()
			require.Eventually(t, func() bool { return s.heldCount() == 1 }, 5*time.Second, 5*time.Millisecond)

			// State must not wait for the round trip.
			assert.NotEqual(t, Closed, c.State())

			closed := make(chan error, 1)
			go func() { closed <- c.Close() }()
			select {
			case err := <-closed:
				require.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("Close blocked behind a pending request")
			}

			select {
			case err := <-done:
				assert.ErrorIs(t, err, ErrConnectionLost)
			case <-time.After(5 * time.Second):
				t.Fatal("pending request was not failed by Close")
			}
			assert.Equal(t, Closed, c.State())
		})
	}
}

func TestCloseBoundedWithoutTimeout(t *testing.T) {
	saved := cleanupTimeout
	cleanupTimeout = 100 * time.Millisecond
	t.Cleanup(func() { cleanupTimeout = saved })

	s := newFakeServer(t, smb2.SMB_DIALECT_311)
	s.hold[smb2.SMB2_TREE_DISCONNECT] = true
	s.hold[smb2.SMB2_LOGOFF] = true
	c, _ := connect(t, s, Options{})

	start := time.Now()
	require.NoError(t, c.Close())
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, Closed, c.State())
}

func TestWatchdogTimeout(t *testing.T) {
	s := newFakeServer(t, smb2.SMB_DIALECT_311)
	s.hold[smb2.SMB2_READ] = true
	s.putFile("slow.bin", pattern(100))
	c, tree := connect(t, s, Options{Timeout: 200 * time.Millisecond})

	start := time.Now()
	_, err := c.GetFile(context.Background(), tree, "slow.bin", io.Discard)
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, Closed, c.State())

	// nothing is sent on a dead connection
	_, err = c.GetFile(context.Background(), tree, "slow.bin", io.Discard)
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestCancelKeepsPendingEntry(t *testing.T) {
	s := newFakeServer(t, smb2.SMB_DIALECT_311)
	s.hold[smb2.SMB2_READ] = true
	s.putFile("file.bin", pattern(100))
	_, tree := connect(t, s, Options{})

	f, err := tree.create(context.Background(), &smb2.CreateRequest{
		DesiredAccess:     smb2.GENERIC_READ,
		CreateDisposition: smb2.FILE_OPEN,
		Name:              "file.bin",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := f.read(ctx, 0, 100)
		done <- err
	}()
	require.Eventually(t, func() bool { return s.heldCount() == 1 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 1, tree.conn.pendingCount())
}

func TestInterimResponses(t *testing.T) {
	s := newFakeServer(t, smb2.SMB_DIALECT_311)
	s.interim[smb2.SMB2_CREATE] = true
	s.interim[smb2.SMB2_WRITE] = true
	s.interim[smb2.SMB2_READ] = true
	c, tree := connect(t, s, Options{Timeout: 2 * time.Second})
	ctx := context.Background()

	data := pattern(70_000)
	_, err := c.PutFile(ctx, tree, bytes.NewReader(data), "x.bin")
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = c.GetFile(ctx, tree, "x.bin", &buf)
	require.NoError(t, err)
	assert.Equal(t, data, buf.Bytes())
	assert.Empty(t, s.Problems())
	assert.Zero(t, tree.conn.pendingCount())
}

func TestUnknownMessageIDDropped(t *testing.T) {
	s := newFakeServer(t, smb2.SMB_DIALECT_311)
	s.unknownMid[smb2.SMB2_TREE_CONNECT] = true
	c, _ := connect(t, s, Options{})
	assert.Equal(t, TreeConnected, c.State())
}

func TestMultiCreditTransfers(t *testing.T) {
	s := newFakeServer(t, smb2.SMB_DIALECT_302)
	c, tree := connect(t, s, Options{})

	data := pattern(300 * 1024)
	_, err := c.PutFile(context.Background(), tree, bytes.NewReader(data), "big.bin")
	require.NoError(t, err)

	_, _, writes, _ := s.counts()
	assert.Equal(t, 1, writes)
	// the server checks that message ids advance by each credit charge
	assert.Empty(t, s.Problems())
}

func TestNoLargeMTULimitsTransfers(t *testing.T) {
	s := newFakeServer(t, smb2.SMB_DIALECT_21)
	s.largeMTU = false
	c, tree := connect(t, s, Options{})
	assert.Equal(t, uint32(maxUnitSize), tree.conn.maxWriteSize)

	data := pattern(300 * 1024)
	_, err := c.PutFile(context.Background(), tree, bytes.NewReader(data), "big.bin")
	require.NoError(t, err)

	_, _, writes, _ := s.counts()
	assert.Equal(t, 5, writes)
	assert.Empty(t, s.Problems())
}

func TestCompressedTransfers(t *testing.T) {
	tests := []struct {
		name  string
		algos []uint16
	}{
		{"default", nil},
		{"LZ77", []uint16{smb2.COMPRESSION_LZ77, smb2.COMPRESSION_PATTERN_V1}},
		{"LZNT1", []uint16{smb2.COMPRESSION_LZNT1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newFakeServer(t, smb2.SMB_DIALECT_311)
			s.compression = true
			s.compressWith = tt.algos
			c, tree := connect(t, s, Options{Compression: true})
			require.True(t, tree.conn.compression.Enabled())
			if tt.algos != nil {
				assert.Equal(t, tt.algos, tree.conn.compression.Algorithms)
			}

			data := bytes.Repeat([]byte("compressible text, over and over. "), 6000)
			ctx := context.Background()
			_, err := c.PutFile(ctx, tree, bytes.NewReader(data), "text.txt")
			require.NoError(t, err)

			var buf bytes.Buffer
			_, err = c.GetFile(ctx, tree, "text.txt", &buf)
			require.NoError(t, err)
			assert.Equal(t, data, buf.Bytes())
			assert.Empty(t, s.Problems())
		})
	}
}

func TestCompressionNotOffered(t *testing.T) {
	s := newFakeServer(t, smb2.SMB_DIALECT_311)
	s.compression = true
	_, tree := connect(t, s, Options{})
	assert.False(t, tree.conn.compression.Enabled())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	s := newFakeServer(t, smb2.SMB_DIALECT_311)
	c, tree := connect(t, s, Options{Metrics: m})
	ctx := context.Background()

	data := pattern(10_000)
	_, err := c.PutFile(ctx, tree, bytes.NewReader(data), "m.bin")
	require.NoError(t, err)
	_, err = c.GetFile(ctx, tree, "m.bin", io.Discard)
	require.NoError(t, err)

	assert.Equal(t, float64(len(data)), testutil.ToFloat64(m.BytesWritten))
	assert.Equal(t, float64(len(data)), testutil.ToFloat64(m.BytesRead))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("NEGOTIATE")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("SESSION_SETUP")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("WRITE")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ResponsesTotal.WithLabelValues("STATUS_MORE_PROCESSING_REQUIRED")))
	assert.Zero(t, testutil.ToFloat64(m.PendingRequests))
	assert.Positive(t, testutil.ToFloat64(m.CreditsAvailable))
}

func TestSharePath(t *testing.T) {
	assert.Equal(t, `\\host\docs`, sharePath("host:445", "docs"))
	assert.Equal(t, `\\host\docs`, sharePath("host", `\docs\`))
	assert.Equal(t, `\\10.0.0.1\docs`, sharePath("10.0.0.1:4455", "/docs"))
	assert.Equal(t, `\\other\x`, sharePath("host", `\\other\x`))
}

func TestSplitPath(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitPath("a/b//c/"))
	assert.Equal(t, []string{"a", "b/c"}, splitPath(`a\b/c`))
	assert.Nil(t, splitPath(""))
	assert.Nil(t, splitPath("///"))
}

func TestOfferedDialects(t *testing.T) {
	assert.Equal(t, smb2.Dialects, offeredDialects(0, 0))
	assert.Equal(t, []uint16{smb2.SMB_DIALECT_30, smb2.SMB_DIALECT_302}, offeredDialects(smb2.SMB_DIALECT_30, smb2.SMB_DIALECT_302))
	assert.Empty(t, offeredDialects(smb2.SMB_DIALECT_311, smb2.SMB_DIALECT_21))
}
