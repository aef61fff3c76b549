package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned when asked to encode a frame that
	// would violate RFC 6455.
	ErrInvalidArgument = errors.New("invalid frame argument")

	// ErrHandshakeMismatch means the server's upgrade response did not
	// match the request.
	ErrHandshakeMismatch = errors.New("websocket handshake mismatch")
)

// ProtocolError is a peer violation. Code is the close status to send
// before dropping the connection.
type ProtocolError struct {
	Code   StatusCode
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("websocket protocol error %d (%s): %s", uint16(e.Code), e.Code, e.Reason)
}

func protocolError(code StatusCode, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// CloseCodeFor returns the close status that should answer err: the
// carried code for a ProtocolError, 1011 otherwise.
func CloseCodeFor(err error) StatusCode {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr.Code
	}
	return CloseInternalError
}
