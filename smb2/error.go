package smb2

import (
	"encoding/binary"
	"fmt"
)

const (
	SMB2ErrorResponseMinSize       = 8
	SMB2ErrorResponseStructureSize = 9
)

const (
	STATUS_OK                       = 0x00000000
	STATUS_PENDING                  = 0x00000103
	STATUS_NO_MORE_FILES            = 0x80000006
	STATUS_INVALID_PARAMETER        = 0xc000000d
	STATUS_END_OF_FILE              = 0xc0000011
	STATUS_MORE_PROCESSING_REQUIRED = 0xc0000016
	STATUS_ACCESS_DENIED            = 0xc0000022
	STATUS_OBJECT_NAME_NOT_FOUND    = 0xc0000034
	STATUS_OBJECT_NAME_COLLISION    = 0xc0000035
	STATUS_OBJECT_PATH_NOT_FOUND    = 0xc000003a
	STATUS_NO_SUCH_USER             = 0xc0000064
	STATUS_WRONG_PASSWORD           = 0xc000006a
	STATUS_LOGON_FAILURE            = 0xc000006d
	STATUS_ACCOUNT_RESTRICTION      = 0xc000006e
	STATUS_PASSWORD_EXPIRED         = 0xc0000071
	STATUS_ACCOUNT_DISABLED         = 0xc0000072
	STATUS_IO_TIMEOUT               = 0xc00000b5
	STATUS_FILE_IS_A_DIRECTORY      = 0xc00000ba
	STATUS_NOT_SUPPORTED            = 0xc00000bb
	STATUS_NETWORK_NAME_DELETED     = 0xc00000c9
	STATUS_NETWORK_ACCESS_DENIED    = 0xc00000ca
	STATUS_BAD_NETWORK_NAME         = 0xc00000cc
	STATUS_NOT_A_DIRECTORY          = 0xc0000103
	STATUS_FILE_CLOSED              = 0xc0000128
	STATUS_USER_SESSION_DELETED     = 0xc0000203
	STATUS_NOT_FOUND                = 0xc0000225
	STATUS_ACCOUNT_LOCKED_OUT       = 0xc0000234
)

var statusNames = map[uint32]string{
	STATUS_OK:                       "STATUS_OK",
	STATUS_PENDING:                  "STATUS_PENDING",
	STATUS_NO_MORE_FILES:            "STATUS_NO_MORE_FILES",
	STATUS_INVALID_PARAMETER:        "STATUS_INVALID_PARAMETER",
	STATUS_END_OF_FILE:              "STATUS_END_OF_FILE",
	STATUS_MORE_PROCESSING_REQUIRED: "STATUS_MORE_PROCESSING_REQUIRED",
	STATUS_ACCESS_DENIED:            "STATUS_ACCESS_DENIED",
	STATUS_OBJECT_NAME_NOT_FOUND:    "STATUS_OBJECT_NAME_NOT_FOUND",
	STATUS_OBJECT_NAME_COLLISION:    "STATUS_OBJECT_NAME_COLLISION",
	STATUS_OBJECT_PATH_NOT_FOUND:    "STATUS_OBJECT_PATH_NOT_FOUND",
	STATUS_NO_SUCH_USER:             "STATUS_NO_SUCH_USER",
	STATUS_WRONG_PASSWORD:           "STATUS_WRONG_PASSWORD",
	STATUS_LOGON_FAILURE:            "STATUS_LOGON_FAILURE",
	STATUS_ACCOUNT_RESTRICTION:      "STATUS_ACCOUNT_RESTRICTION",
	STATUS_PASSWORD_EXPIRED:         "STATUS_PASSWORD_EXPIRED",
	STATUS_ACCOUNT_DISABLED:         "STATUS_ACCOUNT_DISABLED",
	STATUS_IO_TIMEOUT:               "STATUS_IO_TIMEOUT",
	STATUS_FILE_IS_A_DIRECTORY:      "STATUS_FILE_IS_A_DIRECTORY",
	STATUS_NOT_SUPPORTED:            "STATUS_NOT_SUPPORTED",
	STATUS_NETWORK_NAME_DELETED:     "STATUS_NETWORK_NAME_DELETED",
	STATUS_NETWORK_ACCESS_DENIED:    "STATUS_NETWORK_ACCESS_DENIED",
	STATUS_BAD_NETWORK_NAME:         "STATUS_BAD_NETWORK_NAME",
	STATUS_NOT_A_DIRECTORY:          "STATUS_NOT_A_DIRECTORY",
	STATUS_FILE_CLOSED:              "STATUS_FILE_CLOSED",
	STATUS_USER_SESSION_DELETED:     "STATUS_USER_SESSION_DELETED",
	STATUS_NOT_FOUND:                "STATUS_NOT_FOUND",
	STATUS_ACCOUNT_LOCKED_OUT:       "STATUS_ACCOUNT_LOCKED_OUT",
}

// IsError reports whether the NTSTATUS value has error severity.
func IsError(status uint32) bool {
	return status>>30 == 3
}

// Status is an NTSTATUS value returned by the server, usable as an error.
type Status uint32

// Error implements error.
func (s Status) Error() string {
	if name, ok := statusNames[uint32(s)]; ok {
		return name
	}
	return fmt.Sprintf("STATUS_0x%08x", uint32(s))
}

// ErrorResponse represents an SMB2 ERROR response body.
type ErrorResponse struct {
	ErrorContextCount uint8
	ErrorData         []byte
}

// Command implements Message. The error body is shared by all commands.
func (er *ErrorResponse) Command() uint16 { return 0xffff }

// Size implements Message.
func (er *ErrorResponse) Size() int {
	return SMB2ErrorResponseMinSize + max(len(er.ErrorData), 1)
}

// Encode implements Message.
func (er *ErrorResponse) Encode(b []byte) {
	binary.LittleEndian.PutUint16(b[:2], SMB2ErrorResponseStructureSize)
	b[2] = er.ErrorContextCount
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(er.ErrorData)))
	copy(b[8:], er.ErrorData)
}

// Decode implements Message.
func (er *ErrorResponse) Decode(b []byte) error {
	if err := checkStructureSize(b, SMB2ErrorResponseMinSize, SMB2ErrorResponseStructureSize); err != nil {
		return err
	}

	er.ErrorContextCount = b[2]
	er.ErrorData = nil
	if n := binary.LittleEndian.Uint32(b[4:8]); n > 0 {
		if uint64(n) > uint64(len(b)-SMB2ErrorResponseMinSize) {
			return ErrWrongLength
		}
		er.ErrorData = append([]byte(nil), b[8:8+n]...)
	}

	return nil
}
