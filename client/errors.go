package client

import (
	"errors"
	"fmt"

	"github.com/VasilyKirillov/smbjclient/smb2"
)

var (
	// ErrConnectionLost is delivered to every request that was pending when
	// the connection went away. The delivered error also unwraps to the cause.
	ErrConnectionLost = errors.New("connection lost")

	// ErrNoCredits is returned when the server left the client without credits
	// and no response is outstanding that could grant more.
	ErrNoCredits = errors.New("no credits available")

	// ErrSignatureMismatch fails a request whose signed response does not verify.
	ErrSignatureMismatch = errors.New("response signature mismatch")

	ErrCredentialsRejected       = errors.New("credentials rejected")
	ErrProtocolNegotiationFailed = errors.New("protocol negotiation failed")

	ErrInvalidState = errors.New("operation not allowed in current state")
	ErrUnknownTree  = errors.New("tree is not connected")
)

var errClosedByClient = errors.New("closed by client")

// lostError is what pending requests receive on teardown.
type lostError struct {
	cause error
}

func (e *lostError) Error() string {
	return fmt.Sprintf("%v: %v", ErrConnectionLost, e.cause)
}

func (e *lostError) Is(target error) bool {
	return target == ErrConnectionLost
}

func (e *lostError) Unwrap() error {
	return e.cause
}

// AuthenticationError is returned by Connect and Authenticate. Kind is
// ErrCredentialsRejected or ErrProtocolNegotiationFailed and is matched by errors.Is.
type AuthenticationError struct {
	Kind   error
	Status uint32 // zero when the failure was not reported by the server
	Err    error
}

// Error implements error.
func (e *AuthenticationError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("authentication failed: %v: %v", e.Kind, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("authentication failed: %v: %v", e.Kind, smb2.Status(e.Status))
	}
	return fmt.Sprintf("authentication failed: %v", e.Kind)
}

// Is matches the failure kind.
func (e *AuthenticationError) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the underlying error.
func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

func negotiationFailed(status uint32, err error) *AuthenticationError {
	return &AuthenticationError{Kind: ErrProtocolNegotiationFailed, Status: status, Err: err}
}

// PathCreationError is returned when a directory on the way to a path
// could not be created.
type PathCreationError struct {
	Path string
	Err  error
}

// Error implements error.
func (e *PathCreationError) Error() string {
	return fmt.Sprintf("create directory %q: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *PathCreationError) Unwrap() error {
	return e.Err
}

// FileOperationError is returned by GetFile and PutFile. Transferred holds
// the bytes moved before the failure.
type FileOperationError struct {
	Op          string
	Path        string
	Transferred int64
	Err         error
}

// Error implements error.
func (e *FileOperationError) Error() string {
	return fmt.Sprintf("%s %q after %d bytes: %v", e.Op, e.Path, e.Transferred, e.Err)
}

// Unwrap returns the underlying error.
func (e *FileOperationError) Unwrap() error {
	return e.Err
}

// isCredentialFailure reports whether a SessionSetup status blames the credentials.
func isCredentialFailure(status uint32) bool {
	switch status {
	case smb2.STATUS_LOGON_FAILURE,
		smb2.STATUS_ACCESS_DENIED,
		smb2.STATUS_NO_SUCH_USER,
		smb2.STATUS_WRONG_PASSWORD,
		smb2.STATUS_ACCOUNT_RESTRICTION,
		smb2.STATUS_ACCOUNT_DISABLED,
		smb2.STATUS_ACCOUNT_LOCKED_OUT,
		smb2.STATUS_PASSWORD_EXPIRED:
		return true
	}
	return false
}
