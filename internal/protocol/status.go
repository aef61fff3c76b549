package protocol

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// StatusCode is a close frame status code.
type StatusCode uint16

// Close status codes.
const (
	CloseNormal             StatusCode = 1000
	CloseGoingAway          StatusCode = 1001
	CloseProtocolError      StatusCode = 1002
	CloseUnsupportedData    StatusCode = 1003
	CloseReserved           StatusCode = 1004
	CloseNoStatus           StatusCode = 1005
	CloseAbnormal           StatusCode = 1006
	CloseInvalidPayload     StatusCode = 1007
	ClosePolicyViolation    StatusCode = 1008
	CloseMessageTooBig      StatusCode = 1009
	CloseMandatoryExtension StatusCode = 1010
	CloseInternalError      StatusCode = 1011
	CloseTLSHandshake       StatusCode = 1015

	// Application codes from the registered range.
	CloseUnknownError     StatusCode = 3000
	CloseClientTimerError StatusCode = 3001
)

var statusText = map[StatusCode]string{
	CloseNormal:             "Normal closure",
	CloseGoingAway:          "Going away",
	CloseProtocolError:      "Protocol error",
	CloseUnsupportedData:    "Cannot accept",
	CloseReserved:           "Reserved",
	CloseNoStatus:           "No status",
	CloseAbnormal:           "Abnormal close",
	CloseInvalidPayload:     "Invalid payload",
	ClosePolicyViolation:    "Policy violation",
	CloseMessageTooBig:      "Message too big",
	CloseMandatoryExtension: "Extension required",
	CloseInternalError:      "Internal endpoint error",
	CloseTLSHandshake:       "TLS handshake",
	CloseUnknownError:       "Unknown error",
	CloseClientTimerError:   "Client timer error",
}

func (c StatusCode) String() string {
	if s, ok := statusText[c]; ok {
		return s
	}
	return fmt.Sprintf("status %d", uint16(c))
}

// IsNotUsed reports codes 0-999.
func (c StatusCode) IsNotUsed() bool { return c <= 999 }

// IsPublicSpecification reports codes 1000-2999.
func (c StatusCode) IsPublicSpecification() bool { return c >= 1000 && c <= 2999 }

// IsIANA reports codes 3000-3999.
func (c StatusCode) IsIANA() bool { return c >= 3000 && c <= 3999 }

// IsUserDefined reports codes 4000-4999.
func (c StatusCode) IsUserDefined() bool { return c >= 4000 && c <= 4999 }

// IsValidReceived reports whether c may appear in a close frame on the
// wire. 1004, 1005, 1006 and 1015 are reserved for local use.
func (c StatusCode) IsValidReceived() bool {
	switch {
	case c.IsPublicSpecification():
		switch c {
		case CloseNormal, CloseGoingAway, CloseProtocolError, CloseUnsupportedData,
			CloseInvalidPayload, ClosePolicyViolation, CloseMessageTooBig,
			CloseMandatoryExtension, CloseInternalError:
			return true
		}
		return false
	case c.IsIANA(), c.IsUserDefined():
		return true
	}
	return false
}

// CloseStatus is the decoded body of a close frame.
type CloseStatus struct {
	Code   StatusCode
	Reason string
}

func (s CloseStatus) String() string {
	if s.Reason == "" {
		return fmt.Sprintf("%d %s", uint16(s.Code), s.Code)
	}
	return fmt.Sprintf("%d %s: %s", uint16(s.Code), s.Code, s.Reason)
}

// EncodeClosePayload builds a close frame body. CloseNoStatus yields an
// empty body. The reason is truncated so the body fits a control frame.
func EncodeClosePayload(code StatusCode, reason string) []byte {
	if code == CloseNoStatus {
		return nil
	}
	if limit := MaxControlPayload - 2; len(reason) > limit {
		// Cut on a rune boundary so the reason stays valid UTF-8.
		n := limit
		for n > 0 && !utf8.RuneStart(reason[n]) {
			n--
		}
		reason = reason[:n]
	}
	buf := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(buf, uint16(code))
	copy(buf[2:], reason)
	return buf
}

// ParseClosePayload decodes a received close frame body.
func ParseClosePayload(p []byte) (CloseStatus, error) {
	switch len(p) {
	case 0:
		return CloseStatus{Code: CloseNoStatus}, nil
	case 1:
		return CloseStatus{}, protocolError(CloseProtocolError, "close payload of 1 byte")
	}

	code := StatusCode(binary.BigEndian.Uint16(p))
	if !code.IsValidReceived() {
		return CloseStatus{}, protocolError(CloseProtocolError, "invalid close code %d", uint16(code))
	}
	reason := p[2:]
	if !utf8.Valid(reason) {
		return CloseStatus{}, protocolError(CloseInvalidPayload, "close reason is not valid UTF-8")
	}
	return CloseStatus{Code: code, Reason: string(reason)}, nil
}
