package smb2

import (
	"encoding/binary"

	"github.com/VasilyKirillov/smbjclient/utils"
)

const (
	SMB2TreeConnectRequestMinSize       = 8
	SMB2TreeConnectRequestStructureSize = 9

	SMB2TreeConnectResponseMinSize       = 16
	SMB2TreeConnectResponseStructureSize = 16
)

const (
	// Share types.
	SHARE_TYPE_DISK  = 0x01
	SHARE_TYPE_PIPE  = 0x02
	SHARE_TYPE_PRINT = 0x03
)

const (
	// Share flags.
	SHAREFLAG_DFS                      = 0x00000001
	SHAREFLAG_DFS_ROOT                 = 0x00000002
	SHAREFLAG_RESTRICT_EXCLUSIVE_OPENS = 0x00000100
	SHAREFLAG_FORCE_SHARED_DELETE      = 0x00000200
	SHAREFLAG_ENCRYPT_DATA             = 0x00008000
	SHAREFLAG_COMPRESS_DATA            = 0x00100000
)

// TreeConnectRequest represents an SMB2_TREE_CONNECT request.
// Path is the UNC share path, e.g. \\server\share.
type TreeConnectRequest struct {
	Flags uint16
	Path  string
}

// Command implements Message.
func (tcr *TreeConnectRequest) Command() uint16 { return SMB2_TREE_CONNECT }

// Size implements Message.
func (tcr *TreeConnectRequest) Size() int {
	return SMB2TreeConnectRequestMinSize + max(len(utils.EncodeString(tcr.Path)), 1)
}

// Encode implements Message.
func (tcr *TreeConnectRequest) Encode(b []byte) {
	path := utils.EncodeString(tcr.Path)
	binary.LittleEndian.PutUint16(b[:2], SMB2TreeConnectRequestStructureSize)
	binary.LittleEndian.PutUint16(b[2:4], tcr.Flags)
	binary.LittleEndian.PutUint16(b[4:6], SMB2HeaderSize+SMB2TreeConnectRequestMinSize)
	binary.LittleEndian.PutUint16(b[6:8], uint16(len(path)))
	copy(b[SMB2TreeConnectRequestMinSize:], path)
}

// Decode implements Message.
func (tcr *TreeConnectRequest) Decode(b []byte) error {
	if err := checkStructureSize(b, SMB2TreeConnectRequestMinSize, SMB2TreeConnectRequestStructureSize); err != nil {
		return err
	}

	path, err := bufferAt(b, uint32(binary.LittleEndian.Uint16(b[4:6])), uint32(binary.LittleEndian.Uint16(b[6:8])))
	if err != nil {
		return err
	}

	tcr.Flags = binary.LittleEndian.Uint16(b[2:4])
	tcr.Path = utils.DecodeString(path)
	return nil
}

// TreeConnectResponse represents an SMB2_TREE_CONNECT response.
type TreeConnectResponse struct {
	ShareType     uint8
	ShareFlags    uint32
	Capabilities  uint32
	MaximalAccess uint32
}

// Command implements Message.
func (tcr *TreeConnectResponse) Command() uint16 { return SMB2_TREE_CONNECT }

// Size implements Message.
func (tcr *TreeConnectResponse) Size() int { return SMB2TreeConnectResponseMinSize }

// Encode implements Message.
func (tcr *TreeConnectResponse) Encode(b []byte) {
	binary.LittleEndian.PutUint16(b[:2], SMB2TreeConnectResponseStructureSize)
	b[2] = tcr.ShareType
	binary.LittleEndian.PutUint32(b[4:8], tcr.ShareFlags)
	binary.LittleEndian.PutUint32(b[8:12], tcr.Capabilities)
	binary.LittleEndian.PutUint32(b[12:16], tcr.MaximalAccess)
}

// Decode implements Message.
func (tcr *TreeConnectResponse) Decode(b []byte) error {
	if err := checkStructureSize(b, SMB2TreeConnectResponseMinSize, SMB2TreeConnectResponseStructureSize); err != nil {
		return err
	}

	*tcr = TreeConnectResponse{
		ShareType:     b[2],
		ShareFlags:    binary.LittleEndian.Uint32(b[4:8]),
		Capabilities:  binary.LittleEndian.Uint32(b[8:12]),
		MaximalAccess: binary.LittleEndian.Uint32(b[12:16]),
	}
	return nil
}

// TreeDisconnectRequest represents an SMB2_TREE_DISCONNECT request.
type TreeDisconnectRequest struct{ emptyBody }

// Command implements Message.
func (TreeDisconnectRequest) Command() uint16 { return SMB2_TREE_DISCONNECT }

// TreeDisconnectResponse represents an SMB2_TREE_DISCONNECT response.
type TreeDisconnectResponse struct{ emptyBody }

// Command implements Message.
func (TreeDisconnectResponse) Command() uint16 { return SMB2_TREE_DISCONNECT }
