package smb2

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrUnknownCommand is returned when a message carries a command the codec has no variant for.
var ErrUnknownCommand = errors.New("unknown command")

// MalformedMessageError is returned by Decode when a message fails validation.
// It is always fatal to the connection the message arrived on.
type MalformedMessageError struct {
	Command string // empty when the header itself is unusable
	Err     error
}

// Error implements error.
func (e *MalformedMessageError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("malformed SMB2 message: %v", e.Err)
	}
	return fmt.Sprintf("malformed SMB2 %s message: %v", e.Command, e.Err)
}

// Unwrap returns the underlying validation error.
func (e *MalformedMessageError) Unwrap() error {
	return e.Err
}

// Message is one variant of the SMB2 command body union.
// Encode and Decode work on the body only; buffer offsets inside the body
// are relative to the start of the SMB2 header, as on the wire.
type Message interface {
	Command() uint16
	Size() int
	Encode(b []byte)
	Decode(b []byte) error
}

// Packet is a single SMB2 message: the header plus one body variant.
type Packet struct {
	Header PacketHeader
	Body   Message
}

// Encode serializes the packet. The header Command field is taken as is.
func Encode(p *Packet) []byte {
	size := SMB2HeaderSize
	if p.Body != nil {
		size += p.Body.Size()
	}

	b := make([]byte, size)
	p.Header.encode(b)
	if p.Body != nil {
		p.Body.Encode(b[SMB2HeaderSize:])
	}

	return b
}

// Decode parses a single SMB2 message. The protocol signature and the
// structure sizes are checked before any body field is read.
// If the header links a compounded message, only the first one is decoded;
// use Split to walk the chain.
func Decode(data []byte) (*Packet, error) {
	if err := Header(data).Validate(); err != nil {
		return nil, &MalformedMessageError{Err: err}
	}

	p := &Packet{}
	p.Header.decode(data)
	name := CommandName(p.Header.Command)

	body := data[SMB2HeaderSize:]
	if next := p.Header.NextCommand; next != 0 {
		if next < SMB2HeaderSize || uint64(next) > uint64(len(data)) {
			return nil, &MalformedMessageError{Command: name, Err: ErrWrongLength}
		}
		body = data[SMB2HeaderSize:next]
	}

	var m Message
	if p.Header.IsResponse() && isErrorResponse(&p.Header) {
		m = &ErrorResponse{}
	} else {
		m = newBody(p.Header.Command, p.Header.IsResponse())
		if m == nil {
			return nil, &MalformedMessageError{Command: name, Err: ErrUnknownCommand}
		}
	}

	if err := m.Decode(body); err != nil {
		return nil, &MalformedMessageError{Command: name, Err: err}
	}

	p.Body = m
	return p, nil
}

// Split breaks a compounded frame into its individual messages.
func Split(data []byte) ([][]byte, error) {
	var msgs [][]byte
	for {
		if err := Header(data).Validate(); err != nil {
			return nil, &MalformedMessageError{Err: err}
		}

		next := Header(data).NextCommand()
		if next == 0 {
			return append(msgs, data), nil
		}

		if next < SMB2HeaderSize || uint64(next) > uint64(len(data)) {
			return nil, &MalformedMessageError{Command: CommandName(Header(data).Command()), Err: ErrWrongLength}
		}

		msgs = append(msgs, data[:next])
		data = data[next:]
	}
}

// isErrorResponse reports whether a response body is an SMB2 ERROR structure
// rather than the command's own response.
func isErrorResponse(h *PacketHeader) bool {
	switch {
	case h.Status == STATUS_PENDING:
		return true
	case h.Status == STATUS_MORE_PROCESSING_REQUIRED && h.Command == SMB2_SESSION_SETUP:
		return false
	default:
		return IsError(h.Status)
	}
}

func newBody(command uint16, response bool) Message {
	switch command {
	case SMB2_NEGOTIATE:
		if response {
			return &NegotiateResponse{}
		}
		return &NegotiateRequest{}
	case SMB2_SESSION_SETUP:
		if response {
			return &SessionSetupResponse{}
		}
		return &SessionSetupRequest{}
	case SMB2_LOGOFF:
		if response {
			return &LogoffResponse{}
		}
		return &LogoffRequest{}
	case SMB2_TREE_CONNECT:
		if response {
			return &TreeConnectResponse{}
		}
		return &TreeConnectRequest{}
	case SMB2_TREE_DISCONNECT:
		if response {
			return &TreeDisconnectResponse{}
		}
		return &TreeDisconnectRequest{}
	case SMB2_CREATE:
		if response {
			return &CreateResponse{}
		}
		return &CreateRequest{}
	case SMB2_CLOSE:
		if response {
			return &CloseResponse{}
		}
		return &CloseRequest{}
	case SMB2_READ:
		if response {
			return &ReadResponse{}
		}
		return &ReadRequest{}
	case SMB2_WRITE:
		if response {
			return &WriteResponse{}
		}
		return &WriteRequest{}
	}
	return nil
}

// checkStructureSize validates the minimum body length and the StructureSize field.
func checkStructureSize(b []byte, minSize int, structureSize uint16) error {
	if len(b) < 2 || len(b) < minSize {
		return ErrWrongLength
	}
	if binary.LittleEndian.Uint16(b[:2]) != structureSize {
		return ErrWrongFormat
	}
	return nil
}

// bufferAt returns a copy of the variable buffer addressed by a
// header-relative offset. An empty buffer is returned as nil.
func bufferAt(b []byte, offset, length uint32) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	if offset < SMB2HeaderSize {
		return nil, ErrWrongFormat
	}
	start := uint64(offset) - SMB2HeaderSize
	end := start + uint64(length)
	if end > uint64(len(b)) {
		return nil, ErrWrongLength
	}
	return bytes.Clone(b[start:end]), nil
}
