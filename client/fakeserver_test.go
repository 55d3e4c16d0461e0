package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha512"
	"encoding/asn1"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/VasilyKirillov/smbjclient/compress"
	"github.com/VasilyKirillov/smbjclient/kdf"
	"github.com/VasilyKirillov/smbjclient/ntlm"
	"github.com/VasilyKirillov/smbjclient/signing"
	"github.com/VasilyKirillov/smbjclient/smb2"
	"github.com/VasilyKirillov/smbjclient/spnego"
	"github.com/VasilyKirillov/smbjclient/transport"
)

// fakeServer is an in-memory SMB2 server good enough to drive the client
// through negotiate, NTLM session setup, tree connect and file transfers.
type fakeServer struct {
	t testing.TB

	dialect      uint16
	forceDialect bool // answer with dialect even if the client did not offer it
	signingAlgo  uint16
	largeMTU     bool
	maxRead      uint32
	maxWrite     uint32
	compression  bool
	compressWith []uint16 // algorithms answered, compress.Algorithms when nil
	guest        bool
	mechs        []asn1.ObjectIdentifier
	users        map[string]string
	shares       []string

	interim    map[uint16]bool // commands answered with STATUS_PENDING first
	hold       map[uint16]bool // commands never answered
	unknownMid map[uint16]bool // commands preceded by a response to an unknown mid
	badSig     map[uint16]bool // commands whose response signature is corrupted
	unsigned   map[uint16]bool // commands answered without a signature on signed sessions

	mu       sync.Mutex
	files    map[string]*fakeFile
	handles  map[smb2.FileID]string
	nextFile uint64
	creates  []string
	reads    int
	writes   int
	closes   int
	held     int
	requests []uint16
	problems []string
}

type fakeFile struct {
	dir  bool
	data []byte
}

// fakeConn is the per-connection state of the fake server.
type fakeConn struct {
	s  *fakeServer
	tc *transport.Conn

	dialect     uint16
	signingAlgo uint16
	preauth     []byte
	compression *compress.Transform
	nextMid     uint64

	sessions map[uint64]*fakeSession
	trees    map[uint32]string
	nextID   uint64
}

type fakeSession struct {
	acceptor *spnego.Acceptor
	preauth  []byte
	signer   signing.Signer
	guest    bool
}

func newFakeServer(t testing.TB, dialect uint16) *fakeServer {
	return &fakeServer{
		t:           t,
		dialect:     dialect,
		signingAlgo: smb2.AES_CMAC,
		largeMTU:    true,
		maxRead:     1 << 20,
		maxWrite:    1 << 20,
		users:       map[string]string{"alice": "secret"},
		shares:      []string{"share"},
		interim:     make(map[uint16]bool),
		hold:        make(map[uint16]bool),
		unknownMid:  make(map[uint16]bool),
		badSig:      make(map[uint16]bool),
		unsigned:    make(map[uint16]bool),
		files:       make(map[string]*fakeFile),
		handles:     make(map[smb2.FileID]string),
	}
}

// dial plugs into Options.Dial: every call serves a new connection over net.Pipe.
func (s *fakeServer) dial(ctx context.Context, addr string) (net.Conn, error) {
	client, server := net.Pipe()
	go s.serve(server)
	return client, nil
}

func (s *fakeServer) problem(format string, args ...any) {
	s.mu.Lock()
	s.problems = append(s.problems, fmt.Sprintf(format, args...))
	s.mu.Unlock()
}

// Problems returns protocol violations the server noticed, e.g. bad signatures.
func (s *fakeServer) Problems() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.problems...)
}

func (s *fakeServer) putFile(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[strings.ToLower(name)] = &fakeFile{data: data}
}

func (s *fakeServer) putDir(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[strings.ToLower(name)] = &fakeFile{dir: true}
}

func (s *fakeServer) file(name string) (*fakeFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[strings.ToLower(name)]
	return f, ok
}

func (s *fakeServer) openHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func (s *fakeServer) counts() (creates []string, reads, writes, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.creates...), s.reads, s.writes, s.closes
}

func (s *fakeServer) heldCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

func (s *fakeServer) serve(nc net.Conn) {
	fc := &fakeConn{
		s:        s,
		tc:       transport.New(nc, 0),
		dialect:  smb2.SMB_DIALECT_UNKNOWN,
		sessions: make(map[uint64]*fakeSession),
		trees:    make(map[uint32]string),
		nextID:   1,
	}
	defer fc.tc.Close()

	for {
		frame, err := fc.tc.Receive()
		if err != nil {
			return
		}
		if smb2.Header(frame).IsCompressed() {
			if !fc.compression.Enabled() {
				s.problem("compressed request without negotiated compression")
				return
			}
			if frame, err = fc.compression.Decompress(frame); err != nil {
				s.problem("decompress request: %v", err)
				return
			}
		}

		pkt, err := smb2.Decode(frame)
		if err != nil {
			s.problem("decode request: %v", err)
			return
		}
		if err := fc.handle(frame, pkt); err != nil {
			return
		}
	}
}

func (fc *fakeConn) handle(raw []byte, pkt *smb2.Packet) error {
	s := fc.s
	h := &pkt.Header

	s.mu.Lock()
	s.requests = append(s.requests, h.Command)
	s.mu.Unlock()

	if h.MessageID != fc.nextMid {
		s.problem("%s: mid %d, expected %d", smb2.CommandName(h.Command), h.MessageID, fc.nextMid)
	}
	fc.nextMid = h.MessageID + uint64(max(h.CreditCharge, 1))

	sess := fc.sessions[h.SessionID]
	if sess != nil && sess.signer != nil && h.Command != smb2.SMB2_SESSION_SETUP {
		if h.Flags&smb2.FLAGS_SIGNED == 0 {
			s.problem("%s: unsigned request on a signed session", smb2.CommandName(h.Command))
		} else if !sess.signer.Verify(raw) {
			s.problem("%s: bad request signature", smb2.CommandName(h.Command))
		}
	}

	if s.hold[h.Command] {
		s.mu.Lock()
		s.held++
		s.mu.Unlock()
		return nil
	}

	if s.unknownMid[h.Command] {
		stray := smb2.Encode(&smb2.Packet{
			Header: smb2.PacketHeader{
				Command:   h.Command,
				Status:    smb2.STATUS_ACCESS_DENIED,
				Flags:     smb2.FLAGS_SERVER_TO_REDIR,
				MessageID: h.MessageID + 1000,
				Credits:   1,
			},
			Body: &smb2.ErrorResponse{},
		})
		if err := fc.tc.Send(stray); err != nil {
			return err
		}
	}

	if s.interim[h.Command] {
		interim := smb2.Encode(&smb2.Packet{
			Header: smb2.PacketHeader{
				Command:   h.Command,
				Status:    smb2.STATUS_PENDING,
				Flags:     smb2.FLAGS_SERVER_TO_REDIR | smb2.FLAGS_ASYNC_COMMAND,
				MessageID: h.MessageID,
				AsyncID:   h.MessageID + 1,
				SessionID: h.SessionID,
				Credits:   h.Credits,
			},
			Body: &smb2.ErrorResponse{},
		})
		if err := fc.tc.Send(interim); err != nil {
			return err
		}
	}

	resp := &smb2.Packet{
		Header: smb2.PacketHeader{
			Command:   h.Command,
			Flags:     smb2.FLAGS_SERVER_TO_REDIR,
			MessageID: h.MessageID,
			SessionID: h.SessionID,
			TreeID:    h.TreeID,
			Credits:   max(h.Credits, 1),
		},
	}
	if s.interim[h.Command] {
		resp.Header.Credits = 0
	}

	var status uint32
	switch body := pkt.Body.(type) {
	case *smb2.NegotiateRequest:
		status = fc.negotiate(body, resp)
	case *smb2.SessionSetupRequest:
		return fc.sessionSetup(raw, body, resp)
	case *smb2.LogoffRequest:
		resp.Body = &smb2.LogoffResponse{}
	case *smb2.TreeConnectRequest:
		status = fc.treeConnect(body, resp)
	case *smb2.TreeDisconnectRequest:
		delete(fc.trees, h.TreeID)
		resp.Body = &smb2.TreeDisconnectResponse{}
	case *smb2.CreateRequest:
		status = fc.create(body, resp)
	case *smb2.CloseRequest:
		status = fc.close(body, resp)
	case *smb2.ReadRequest:
		status = fc.read(body, resp)
	case *smb2.WriteRequest:
		status = fc.write(body, resp)
	default:
		status = smb2.STATUS_NOT_SUPPORTED
	}

	if status != smb2.STATUS_OK {
		resp.Header.Status = status
		resp.Body = &smb2.ErrorResponse{}
	}

	msg := smb2.Encode(resp)
	if sess != nil && sess.signer != nil && h.Command != smb2.SMB2_NEGOTIATE && !s.unsigned[h.Command] {
		sess.signer.Sign(msg)
		if s.badSig[h.Command] {
			msg[smb2.SMB2HeaderSize-1] ^= 0xff
		}
	}
	if h.Command == smb2.SMB2_NEGOTIATE && fc.dialect == smb2.SMB_DIALECT_311 {
		fc.preauth = preauthHash(make([]byte, sha512.Size), raw, msg)
	}
	if rr, ok := pkt.Body.(*smb2.ReadRequest); ok && rr.Flags&smb2.READFLAG_REQUEST_COMPRESSED != 0 && fc.compression.Enabled() {
		msg = fc.compression.Compress(msg)
	}

	return fc.tc.Send(msg)
}

func (fc *fakeConn) negotiate(req *smb2.NegotiateRequest, resp *smb2.Packet) uint32 {
	s := fc.s
	offered := false
	for _, d := range req.Dialects {
		offered = offered || d == s.dialect
	}
	if !offered && !s.forceDialect {
		return smb2.STATUS_NOT_SUPPORTED
	}
	fc.dialect = s.dialect

	mechs := s.mechs
	if mechs == nil {
		mechs = []asn1.ObjectIdentifier{spnego.NlmpOid}
	}
	secBuf, err := spnego.EncodeNegTokenInit2(mechs)
	if err != nil {
		s.t.Errorf("negotiate token: %v", err)
		return smb2.STATUS_INVALID_PARAMETER
	}

	nr := &smb2.NegotiateResponse{
		SecurityMode:    smb2.NEGOTIATE_SIGNING_ENABLED,
		DialectRevision: s.dialect,
		MaxTransactSize: max(s.maxRead, s.maxWrite),
		MaxReadSize:     s.maxRead,
		MaxWriteSize:    s.maxWrite,
		SecurityBuffer:  secBuf,
	}
	copy(nr.ServerGuid[:], "fake-smb-server!")
	if s.largeMTU {
		nr.Capabilities |= smb2.GLOBAL_CAP_LARGE_MTU
	}

	if s.dialect == smb2.SMB_DIALECT_311 {
		salt := make([]byte, 32)
		rand.Read(salt)
		nr.NegotiateContexts = []smb2.NegotiateContext{
			smb2.PreauthIntegrityCapabilities(salt),
			smb2.SigningCapabilities([]uint16{s.signingAlgo}),
		}
		fc.signingAlgo = s.signingAlgo

		_, algos, err := smb2.GetCompressionCapabilities(req.NegotiateContexts)
		if err == nil && len(algos) > 0 && s.compression {
			use := s.compressWith
			if use == nil {
				use = compress.Algorithms
			}
			nr.NegotiateContexts = append(nr.NegotiateContexts,
				smb2.CompressionCapabilities(smb2.COMPRESSION_CAPABILITIES_FLAG_CHAINED, use))
			fc.compression = &compress.Transform{
				Algorithms: use,
				Chained:    true,
				MaxSize:    1 << 24,
			}
		}
	}

	resp.Body = nr
	return smb2.STATUS_OK
}

func (fc *fakeConn) sessionSetup(raw []byte, req *smb2.SessionSetupRequest, resp *smb2.Packet) error {
	s := fc.s

	fail := func(status uint32) error {
		resp.Header.Status = status
		resp.Body = &smb2.ErrorResponse{}
		return fc.tc.Send(smb2.Encode(resp))
	}

	if resp.Header.SessionID == 0 {
		ns := ntlm.NewServer("FAKE", "WORKGROUP")
		for user, password := range s.users {
			ns.AddAccount(user, password)
		}
		sess := &fakeSession{acceptor: spnego.NewAcceptor(ns), preauth: fc.preauth}

		token, err := sess.acceptor.Challenge(req.SecurityBuffer)
		if err != nil {
			return fail(smb2.STATUS_INVALID_PARAMETER)
		}

		sid := 0x1000 + fc.nextID
		fc.nextID++
		fc.sessions[sid] = sess

		resp.Header.SessionID = sid
		resp.Header.Status = smb2.STATUS_MORE_PROCESSING_REQUIRED
		resp.Body = &smb2.SessionSetupResponse{SecurityBuffer: token}
		msg := smb2.Encode(resp)
		if fc.dialect == smb2.SMB_DIALECT_311 {
			sess.preauth = preauthHash(sess.preauth, raw, msg)
		}
		return fc.tc.Send(msg)
	}

	sess := fc.sessions[resp.Header.SessionID]
	if sess == nil {
		return fail(smb2.STATUS_USER_SESSION_DELETED)
	}

	token, err := sess.acceptor.Authenticate(req.SecurityBuffer)
	if err != nil {
		delete(fc.sessions, resp.Header.SessionID)
		return fail(smb2.STATUS_LOGON_FAILURE)
	}
	if fc.dialect == smb2.SMB_DIALECT_311 {
		sess.preauth = preauthHash(sess.preauth, raw)
	}

	ssr := &smb2.SessionSetupResponse{SecurityBuffer: token}
	if s.guest {
		ssr.SessionFlags = smb2.SESSION_FLAG_IS_GUEST
		sess.guest = true
	} else {
		key := kdf.SigningKey(fc.dialect, sess.acceptor.Session().SessionKey(), sess.preauth)
		if sess.signer, err = signing.New(fc.dialect, fc.signingAlgo, key); err != nil {
			s.t.Errorf("server signer: %v", err)
			return fail(smb2.STATUS_INVALID_PARAMETER)
		}
	}

	resp.Body = ssr
	msg := smb2.Encode(resp)
	if sess.signer != nil && !s.unsigned[smb2.SMB2_SESSION_SETUP] {
		sess.signer.Sign(msg)
		if s.badSig[smb2.SMB2_SESSION_SETUP] {
			msg[smb2.SMB2HeaderSize-1] ^= 0xff
		}
	}
	return fc.tc.Send(msg)
}

func (fc *fakeConn) treeConnect(req *smb2.TreeConnectRequest, resp *smb2.Packet) uint32 {
	share := req.Path[strings.LastIndex(req.Path, `\`)+1:]
	found := false
	for _, name := range fc.s.shares {
		found = found || strings.EqualFold(name, share)
	}
	if !found {
		return smb2.STATUS_BAD_NETWORK_NAME
	}

	tid := uint32(fc.nextID)
	fc.nextID++
	fc.trees[tid] = req.Path

	resp.Header.TreeID = tid
	resp.Body = &smb2.TreeConnectResponse{
		ShareType:     smb2.SHARE_TYPE_DISK,
		MaximalAccess: smb2.GENERIC_ALL,
	}
	return smb2.STATUS_OK
}

func parentOf(name string) string {
	if i := strings.LastIndex(name, `\`); i >= 0 {
		return name[:i]
	}
	return ""
}

func (fc *fakeConn) create(req *smb2.CreateRequest, resp *smb2.Packet) uint32 {
	s := fc.s
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creates = append(s.creates, req.Name)
	key := strings.ToLower(req.Name)
	dir := req.CreateOptions&smb2.FILE_DIRECTORY_FILE != 0

	if p := parentOf(key); p != "" {
		if pf, ok := s.files[p]; !ok || !pf.dir {
			return smb2.STATUS_OBJECT_PATH_NOT_FOUND
		}
	}

	f, exists := s.files[key]
	action := uint32(smb2.FILE_OPENED)
	switch req.CreateDisposition {
	case smb2.FILE_OPEN:
		if !exists {
			return smb2.STATUS_OBJECT_NAME_NOT_FOUND
		}
	case smb2.FILE_CREATE:
		if exists {
			return smb2.STATUS_OBJECT_NAME_COLLISION
		}
		f = &fakeFile{dir: dir}
		action = smb2.FILE_CREATED
	case smb2.FILE_OPEN_IF:
		if !exists {
			f = &fakeFile{dir: dir}
			action = smb2.FILE_CREATED
		}
	case smb2.FILE_OVERWRITE_IF:
		if exists && f.dir {
			return smb2.STATUS_FILE_IS_A_DIRECTORY
		}
		f = &fakeFile{}
		action = smb2.FILE_OVERWRITTEN
		if !exists {
			action = smb2.FILE_CREATED
		}
	default:
		return smb2.STATUS_NOT_SUPPORTED
	}

	if dir && !f.dir {
		return smb2.STATUS_NOT_A_DIRECTORY
	}
	if req.CreateOptions&smb2.FILE_NON_DIRECTORY_FILE != 0 && f.dir {
		return smb2.STATUS_FILE_IS_A_DIRECTORY
	}
	s.files[key] = f

	var id smb2.FileID
	s.nextFile++
	binary.LittleEndian.PutUint64(id[:8], s.nextFile)
	binary.LittleEndian.PutUint64(id[8:], s.nextFile^0xffff)
	s.handles[id] = key

	cr := &smb2.CreateResponse{
		CreateAction:   action,
		EndOfFile:      uint64(len(f.data)),
		FileAttributes: smb2.FILE_ATTRIBUTE_NORMAL,
		FileID:         id,
	}
	if f.dir {
		cr.FileAttributes = smb2.FILE_ATTRIBUTE_DIRECTORY
	}
	resp.Body = cr
	return smb2.STATUS_OK
}

func (fc *fakeConn) close(req *smb2.CloseRequest, resp *smb2.Packet) uint32 {
	s := fc.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.handles[req.FileID]; !ok {
		return smb2.STATUS_FILE_CLOSED
	}
	delete(s.handles, req.FileID)
	s.closes++

	resp.Body = &smb2.CloseResponse{}
	return smb2.STATUS_OK
}

func (fc *fakeConn) read(req *smb2.ReadRequest, resp *smb2.Packet) uint32 {
	s := fc.s
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads++
	name, ok := s.handles[req.FileID]
	if !ok {
		return smb2.STATUS_FILE_CLOSED
	}
	if req.Length > s.maxRead {
		return smb2.STATUS_INVALID_PARAMETER
	}
	f := s.files[name]
	if req.Offset >= uint64(len(f.data)) {
		return smb2.STATUS_END_OF_FILE
	}

	end := min(req.Offset+uint64(req.Length), uint64(len(f.data)))
	resp.Body = &smb2.ReadResponse{Data: bytes.Clone(f.data[req.Offset:end])}
	return smb2.STATUS_OK
}

func (fc *fakeConn) write(req *smb2.WriteRequest, resp *smb2.Packet) uint32 {
	s := fc.s
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes++
	name, ok := s.handles[req.FileID]
	if !ok {
		return smb2.STATUS_FILE_CLOSED
	}
	if uint32(len(req.Data)) > s.maxWrite {
		return smb2.STATUS_INVALID_PARAMETER
	}
	f := s.files[name]
	end := int(req.Offset) + len(req.Data)
	if end > len(f.data) {
		f.data = append(f.data, make([]byte, end-len(f.data))...)
	}
	copy(f.data[req.Offset:], req.Data)

	resp.Body = &smb2.WriteResponse{Count: uint32(len(req.Data))}
	return smb2.STATUS_OK
}
