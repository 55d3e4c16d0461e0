package smb2

import (
	"encoding/binary"
	"time"

	"github.com/VasilyKirillov/smbjclient/utils"
)

const (
	SMB2CreateRequestMinSize       = 56
	SMB2CreateRequestStructureSize = 57

	SMB2CreateResponseMinSize       = 88
	SMB2CreateResponseStructureSize = 89
)

const (
	// Oplock level
	OPLOCK_LEVEL_NONE      = 0x00
	OPLOCK_LEVEL_II        = 0x01
	OPLOCK_LEVEL_EXCLUSIVE = 0x08
	OPLOCK_LEVEL_BATCH     = 0x09
	OPLOCK_LEVEL_LEASE     = 0xff
)

const (
	// Impersonation level
	IMPERSONATION_ANONYMOUS      = 0x00000000
	IMPERSONATION_IDENTIFICATION = 0x00000001
	IMPERSONATION_IMPERSONATION  = 0x00000002
	IMPERSONATION_DELEGATE       = 0x00000003
)

const (
	// Share access
	FILE_SHARE_READ   = 0x00000001
	FILE_SHARE_WRITE  = 0x00000002
	FILE_SHARE_DELETE = 0x00000004
)

const (
	// Create disposition
	FILE_SUPERSEDE    = 0x00000000
	FILE_OPEN         = 0x00000001
	FILE_CREATE       = 0x00000002
	FILE_OPEN_IF      = 0x00000003
	FILE_OVERWRITE    = 0x00000004
	FILE_OVERWRITE_IF = 0x00000005
)

const (
	// Create options
	FILE_DIRECTORY_FILE            = 0x00000001
	FILE_WRITE_THROUGH             = 0x00000002
	FILE_SEQUENTIAL_ONLY           = 0x00000004
	FILE_NO_INTERMEDIATE_BUFFERING = 0x00000008
	FILE_SYNCHRONOUS_IO_ALERT      = 0x00000010
	FILE_SYNCHRONOUS_IO_NONALERT   = 0x00000020
	FILE_NON_DIRECTORY_FILE        = 0x00000040
	FILE_COMPLETE_IF_OPLOCKED      = 0x00000100
	FILE_NO_EA_KNOWLEDGE           = 0x00000200
	FILE_OPEN_REMOTE_INSTANCE      = 0x00000400
	FILE_RANDOM_ACCESS             = 0x00000800
	FILE_DELETE_ON_CLOSE           = 0x00001000
	FILE_OPEN_BY_FILE_ID           = 0x00002000
	FILE_OPEN_FOR_BACKUP_INTENT    = 0x00004000
	FILE_NO_COMPRESSION            = 0x00008000
	FILE_OPEN_REQUIRING_OPLOCK     = 0x00010000
	FILE_DISALLOW_EXCLUSIVE        = 0x00020000
	FILE_RESERVE_OPFILTER          = 0x00100000
	FILE_OPEN_REPARSE_POINT        = 0x00200000
	FILE_OPEN_NO_RECALL            = 0x00400000
	FILE_OPEN_FOR_FREE_SPACE_QUERY = 0x00800000
)

const (
	// File attributes
	FILE_ATTRIBUTE_READONLY              = 0x00000001
	FILE_ATTRIBUTE_HIDDEN                = 0x00000002
	FILE_ATTRIBUTE_SYSTEM                = 0x00000004
	FILE_ATTRIBUTE_DIRECTORY             = 0x00000010
	FILE_ATTRIBUTE_ARCHIVE               = 0x00000020
	FILE_ATTRIBUTE_NORMAL                = 0x00000080
	FILE_ATTRIBUTE_TEMPORARY             = 0x00000100
	FILE_ATTRIBUTE_SPARSE_FILE           = 0x00000200
	FILE_ATTRIBUTE_REPARSE_POINT         = 0x00000400
	FILE_ATTRIBUTE_COMPRESSED            = 0x00000800
	FILE_ATTRIBUTE_OFFLINE               = 0x00001000
	FILE_ATTRIBUTE_NOT_CONTENT_INDEXED   = 0x00002000
	FILE_ATTRIBUTE_ENCRYPTED             = 0x00004000
	FILE_ATTRIBUTE_INTEGRITY_STREAM      = 0x00008000
	FILE_ATTRIBUTE_NO_SCRUB_DATA         = 0x00020000
	FILE_ATTRIBUTE_RECALL_ON_OPEN        = 0x00040000
	FILE_ATTRIBUTE_PINNED                = 0x00080000
	FILE_ATTRIBUTE_UNPINNED              = 0x00100000
	FILE_ATTRIBUTE_RECALL_ON_DATA_ACCESS = 0x00400000
)

const (
	// Create action
	FILE_SUPERSEDED  = 0x00000000
	FILE_OPENED      = 0x00000001
	FILE_CREATED     = 0x00000002
	FILE_OVERWRITTEN = 0x00000003
)

// FileID is the 16-byte SMB2_FILEID returned by CREATE and used by every
// subsequent request on the open.
type FileID [16]byte

// CreateRequest represents an SMB2_CREATE request. Name is relative to the
// share root and uses backslash separators; an empty Name opens the root.
type CreateRequest struct {
	RequestedOplockLevel uint8
	ImpersonationLevel   uint32
	DesiredAccess        uint32
	FileAttributes       uint32
	ShareAccess          uint32
	CreateDisposition    uint32
	CreateOptions        uint32
	Name                 string
}

// Command implements Message.
func (cr *CreateRequest) Command() uint16 { return SMB2_CREATE }

// Size implements Message.
func (cr *CreateRequest) Size() int {
	return SMB2CreateRequestMinSize + max(len(utils.EncodeString(cr.Name)), 1)
}

// Encode implements Message.
func (cr *CreateRequest) Encode(b []byte) {
	name := utils.EncodeString(cr.Name)
	binary.LittleEndian.PutUint16(b[:2], SMB2CreateRequestStructureSize)
	b[3] = cr.RequestedOplockLevel
	binary.LittleEndian.PutUint32(b[4:8], cr.ImpersonationLevel)
	binary.LittleEndian.PutUint32(b[24:28], cr.DesiredAccess)
	binary.LittleEndian.PutUint32(b[28:32], cr.FileAttributes)
	binary.LittleEndian.PutUint32(b[32:36], cr.ShareAccess)
	binary.LittleEndian.PutUint32(b[36:40], cr.CreateDisposition)
	binary.LittleEndian.PutUint32(b[40:44], cr.CreateOptions)
	binary.LittleEndian.PutUint16(b[44:46], SMB2HeaderSize+SMB2CreateRequestMinSize)
	binary.LittleEndian.PutUint16(b[46:48], uint16(len(name)))
	copy(b[SMB2CreateRequestMinSize:], name)
}

// Decode implements Message.
func (cr *CreateRequest) Decode(b []byte) error {
	if err := checkStructureSize(b, SMB2CreateRequestMinSize, SMB2CreateRequestStructureSize); err != nil {
		return err
	}

	name, err := bufferAt(b, uint32(binary.LittleEndian.Uint16(b[44:46])), uint32(binary.LittleEndian.Uint16(b[46:48])))
	if err != nil {
		return err
	}

	*cr = CreateRequest{
		RequestedOplockLevel: b[3],
		ImpersonationLevel:   binary.LittleEndian.Uint32(b[4:8]),
		DesiredAccess:        binary.LittleEndian.Uint32(b[24:28]),
		FileAttributes:       binary.LittleEndian.Uint32(b[28:32]),
		ShareAccess:          binary.LittleEndian.Uint32(b[32:36]),
		CreateDisposition:    binary.LittleEndian.Uint32(b[36:40]),
		CreateOptions:        binary.LittleEndian.Uint32(b[40:44]),
		Name:                 utils.DecodeString(name),
	}
	return nil
}

// CreateOptionSelected returns true if the option bit(s) are set in CreateOptions.
func (cr *CreateRequest) CreateOptionSelected(option uint32) bool {
	return cr.CreateOptions&option != 0
}

// CreateResponse represents an SMB2_CREATE response. Times are raw Filetime values.
type CreateResponse struct {
	OplockLevel    uint8
	Flags          uint8
	CreateAction   uint32
	CreationTime   uint64
	LastAccessTime uint64
	LastWriteTime  uint64
	ChangeTime     uint64
	AllocationSize uint64
	EndOfFile      uint64
	FileAttributes uint32
	FileID         FileID
}

// Command implements Message.
func (cr *CreateResponse) Command() uint16 { return SMB2_CREATE }

// Size implements Message.
func (cr *CreateResponse) Size() int { return SMB2CreateResponseMinSize }

// Encode implements Message.
func (cr *CreateResponse) Encode(b []byte) {
	binary.LittleEndian.PutUint16(b[:2], SMB2CreateResponseStructureSize)
	b[2] = cr.OplockLevel
	b[3] = cr.Flags
	binary.LittleEndian.PutUint32(b[4:8], cr.CreateAction)
	binary.LittleEndian.PutUint64(b[8:16], cr.CreationTime)
	binary.LittleEndian.PutUint64(b[16:24], cr.LastAccessTime)
	binary.LittleEndian.PutUint64(b[24:32], cr.LastWriteTime)
	binary.LittleEndian.PutUint64(b[32:40], cr.ChangeTime)
	binary.LittleEndian.PutUint64(b[40:48], cr.AllocationSize)
	binary.LittleEndian.PutUint64(b[48:56], cr.EndOfFile)
	binary.LittleEndian.PutUint32(b[56:60], cr.FileAttributes)
	copy(b[64:80], cr.FileID[:])
}

// Decode implements Message.
func (cr *CreateResponse) Decode(b []byte) error {
	if err := checkStructureSize(b, SMB2CreateResponseMinSize, SMB2CreateResponseStructureSize); err != nil {
		return err
	}

	*cr = CreateResponse{
		OplockLevel:    b[2],
		Flags:          b[3],
		CreateAction:   binary.LittleEndian.Uint32(b[4:8]),
		CreationTime:   binary.LittleEndian.Uint64(b[8:16]),
		LastAccessTime: binary.LittleEndian.Uint64(b[16:24]),
		LastWriteTime:  binary.LittleEndian.Uint64(b[24:32]),
		ChangeTime:     binary.LittleEndian.Uint64(b[32:40]),
		AllocationSize: binary.LittleEndian.Uint64(b[40:48]),
		EndOfFile:      binary.LittleEndian.Uint64(b[48:56]),
		FileAttributes: binary.LittleEndian.Uint32(b[56:60]),
	}
	copy(cr.FileID[:], b[64:80])
	return nil
}

// IsDirectory reports whether the opened object is a directory.
func (cr *CreateResponse) IsDirectory() bool {
	return cr.FileAttributes&FILE_ATTRIBUTE_DIRECTORY != 0
}

// ModTime returns the last write time of the opened object.
func (cr *CreateResponse) ModTime() time.Time {
	return utils.FiletimeToTime(cr.LastWriteTime)
}
