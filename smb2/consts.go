package smb2

import "fmt"

const (
	// SMB2 dialects.
	SMB_DIALECT_202         = 0x0202
	SMB_DIALECT_21          = 0x0210
	SMB_DIALECT_30          = 0x0300
	SMB_DIALECT_302         = 0x0302
	SMB_DIALECT_311         = 0x0311
	SMB_DIALECT_MULTICREDIT = 0x02ff
	SMB_DIALECT_UNKNOWN     = 0xffff
)

// Dialects lists every dialect the client can speak, oldest first.
var Dialects = []uint16{SMB_DIALECT_202, SMB_DIALECT_21, SMB_DIALECT_30, SMB_DIALECT_302, SMB_DIALECT_311}

// Is3X returns true if the dialect belongs to the 3.x family.
func Is3X(dialect uint16) bool {
	return dialect != SMB_DIALECT_UNKNOWN && dialect >= SMB_DIALECT_30
}

// DialectName formats a dialect revision the way it is usually written, e.g. "3.1.1".
func DialectName(dialect uint16) string {
	switch dialect {
	case SMB_DIALECT_202:
		return "2.0.2"
	case SMB_DIALECT_21:
		return "2.1"
	case SMB_DIALECT_30:
		return "3.0"
	case SMB_DIALECT_302:
		return "3.0.2"
	case SMB_DIALECT_311:
		return "3.1.1"
	}
	return fmt.Sprintf("0x%04x", dialect)
}

// ParseDialect is the inverse of DialectName.
func ParseDialect(s string) (uint16, error) {
	for _, d := range Dialects {
		if DialectName(d) == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown dialect %q", s)
}

const (
	// Security modes.
	NEGOTIATE_SIGNING_ENABLED  = 0x0001
	NEGOTIATE_SIGNING_REQUIRED = 0x0002
)

const (
	// Capabilities.
	GLOBAL_CAP_DFS                = 0x00000001
	GLOBAL_CAP_LEASING            = 0x00000002
	GLOBAL_CAP_LARGE_MTU          = 0x00000004
	GLOBAL_CAP_MULTI_CHANNEL      = 0x00000008
	GLOBAL_CAP_PERSISTENT_HANDLES = 0x00000010
	GLOBAL_CAP_DIRECTORY_LEASING  = 0x00000020
	GLOBAL_CAP_ENCRYPTION         = 0x00000040
	GLOBAL_CAP_NOTIFICATIONS      = 0x00000080
)

const (
	// Negotiate context types.
	PREAUTH_INTEGRITY_CAPABILITIES = 0x0001
	ENCRYPTION_CAPABILITIES        = 0x0002
	COMPRESSION_CAPABILITIES       = 0x0003
	NETNAME_NEGOTIATE_CONTEXT_ID   = 0x0005
	TRANSPORT_CAPABILITIES         = 0x0006
	RDMA_TRANSFORM_CAPABILITIES    = 0x0007
	SIGNING_CAPABILITIES           = 0x0008
)

const (
	// Hash algorithms.
	SHA_512 = 0x0001
)

const (
	// Compression capabilities.
	COMPRESSION_CAPABILITIES_FLAG_NONE    = 0x00000000
	COMPRESSION_CAPABILITIES_FLAG_CHAINED = 0x00000001
)

const (
	// Compression algorithms.
	COMPRESSION_NONE         = 0x0000
	COMPRESSION_LZNT1        = 0x0001
	COMPRESSION_LZ77         = 0x0002
	COMPRESSION_LZ77_HUFFMAN = 0x0003
	COMPRESSION_PATTERN_V1   = 0x0004
	COMPRESSION_LZ4          = 0x0005
)

const (
	// Signing algorithms.
	HMAC_SHA256 = 0x0000
	AES_CMAC    = 0x0001
	AES_GMAC    = 0x0002
)

const (
	// Session setup request flags.
	SESSION_FLAG_BINDING = 0x01

	// Session flags.
	SESSION_FLAG_IS_GUEST     = 0x0001
	SESSION_FLAG_IS_NULL      = 0x0002
	SESSION_FLAG_ENCRYPT_DATA = 0x0004
)

const (
	// Access mask.
	FILE_READ_DATA         = 0x00000001
	FILE_WRITE_DATA        = 0x00000002
	FILE_APPEND_DATA       = 0x00000004
	FILE_READ_EA           = 0x00000008
	FILE_WRITE_EA          = 0x00000010
	FILE_EXECUTE           = 0x00000020
	FILE_READ_ATTRIBUTES   = 0x00000080
	FILE_WRITE_ATTRIBUTES  = 0x00000100
	DELETE                 = 0x00010000
	READ_CONTROL           = 0x00020000
	SYNCHRONIZE            = 0x00100000
	ACCESS_SYSTEM_SECURITY = 0x01000000
	MAXIMUM_ALLOWED        = 0x02000000
	GENERIC_ALL            = 0x10000000
	GENERIC_EXECUTE        = 0x20000000
	GENERIC_WRITE          = 0x40000000
	GENERIC_READ           = 0x80000000
)
