package protocol

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// acceptGUID is appended to the client key before hashing (RFC 6455 1.3).
const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// MaxHeadSize bounds the HTTP head of an upgrade request or response.
const MaxHeadSize = 8192

// ErrHeadTooLarge is returned when no end of head is found within
// MaxHeadSize bytes.
var ErrHeadTooLarge = errors.New("http head too large")

var headTerminator = []byte("\r\n\r\n")

// ComputeAcceptKey derives Sec-WebSocket-Accept from Sec-WebSocket-Key.
func ComputeAcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(acceptGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// NewClientKey returns a base64 encoded 16 byte nonce read from rand.
func NewClientKey(rand io.Reader) (string, error) {
	var b [16]byte
	if _, err := io.ReadFull(rand, b[:]); err != nil {
		return "", fmt.Errorf("failed to generate websocket key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b[:]), nil
}

// Upgrade is an accepted upgrade request.
type Upgrade struct {
	Path         string
	Host         string
	Origin       string
	Key          string
	Accept       string
	Subprotocols []string
}

// headerTokens splits a comma separated header into lower-cased tokens.
func headerTokens(h http.Header, name string) []string {
	var tokens []string
	for _, v := range h.Values(name) {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tokens = append(tokens, strings.ToLower(t))
			}
		}
	}
	return tokens
}

func hasToken(h http.Header, name, token string) bool {
	for _, t := range headerTokens(h, name) {
		if t == token {
			return true
		}
	}
	return false
}

// IsUpgradeRequest reports whether req asks for a WebSocket upgrade.
func IsUpgradeRequest(req *http.Request) bool {
	_, ok := Negotiate(req)
	return ok
}

// Negotiate checks an HTTP request for a valid WebSocket upgrade. A false
// result means the request should be handled as plain HTTP.
func Negotiate(req *http.Request) (*Upgrade, bool) {
	if req == nil || req.Method != http.MethodGet {
		return nil, false
	}
	if !hasToken(req.Header, "Connection", "upgrade") {
		return nil, false
	}
	if !strings.EqualFold(strings.TrimSpace(req.Header.Get("Upgrade")), "websocket") {
		return nil, false
	}
	if !hasToken(req.Header, "Sec-WebSocket-Version", "13") {
		return nil, false
	}
	key := strings.TrimSpace(req.Header.Get("Sec-WebSocket-Key"))
	if key == "" {
		return nil, false
	}

	var subprotocols []string
	for _, v := range req.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				subprotocols = append(subprotocols, p)
			}
		}
	}

	return &Upgrade{
		Path:         req.URL.RequestURI(),
		Host:         req.Host,
		Origin:       req.Header.Get("Origin"),
		Key:          key,
		Accept:       ComputeAcceptKey(key),
		Subprotocols: subprotocols,
	}, true
}

// SelectSubprotocol returns the first offered protocol that is supported.
func SelectSubprotocol(offered, supported []string) string {
	for _, o := range offered {
		for _, s := range supported {
			if o == s {
				return o
			}
		}
	}
	return ""
}

// UpgradeResponse returns the 101 response bytes.
func UpgradeResponse(accept, subprotocol string) []byte {
	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString("Sec-WebSocket-Accept: " + accept + "\r\n")
	if subprotocol != "" {
		b.WriteString("Sec-WebSocket-Protocol: " + subprotocol + "\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// BuildUpgradeRequest creates the client's opening handshake for rawURL
// (ws://, or ws+unix:// where the path names the socket and the request
// path is "/"). Extra headers in header are copied onto the request.
func BuildUpgradeRequest(rawURL, key string, header http.Header) (*http.Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket url: %w", err)
	}

	target := &url.URL{Scheme: "http", Host: u.Host, Path: u.Path, RawQuery: u.RawQuery}
	switch u.Scheme {
	case "ws":
	case "ws+unix":
		target.Host = "localhost"
		target.Path = "/"
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidArgument, u.Scheme)
	}
	if target.Path == "" {
		target.Path = "/"
	}

	req, err := http.NewRequest(http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build upgrade request: %w", err)
	}
	for name, values := range header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", key)
	return req, nil
}

// EncodeUpgradeRequest serialises req with CRLF line endings.
func EncodeUpgradeRequest(req *http.Request) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteUpgradeRequest(&buf, req); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteUpgradeRequest writes req to w.
func WriteUpgradeRequest(w io.Writer, req *http.Request) error {
	if err := req.Write(w); err != nil {
		return fmt.Errorf("failed to write upgrade request: %w", err)
	}
	return nil
}

// VerifyUpgradeResponse checks the server's answer to an upgrade request
// sent with key.
func VerifyUpgradeResponse(resp *http.Response, key string) error {
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return fmt.Errorf("%w: status %d", ErrHandshakeMismatch, resp.StatusCode)
	}
	if !hasToken(resp.Header, "Connection", "upgrade") {
		return fmt.Errorf("%w: missing Connection: Upgrade", ErrHandshakeMismatch)
	}
	if !strings.EqualFold(strings.TrimSpace(resp.Header.Get("Upgrade")), "websocket") {
		return fmt.Errorf("%w: missing Upgrade: websocket", ErrHandshakeMismatch)
	}
	if got, want := resp.Header.Get("Sec-WebSocket-Accept"), ComputeAcceptKey(key); got != want {
		return fmt.Errorf("%w: accept %q, want %q", ErrHandshakeMismatch, got, want)
	}
	return nil
}

// splitHead finds the end of an HTTP head in buf.
func splitHead(buf []byte) (head, rest []byte, ok bool, err error) {
	i := bytes.Index(buf, headTerminator)
	if i < 0 {
		if len(buf) > MaxHeadSize {
			return nil, nil, false, ErrHeadTooLarge
		}
		return nil, nil, false, nil
	}
	end := i + len(headTerminator)
	if end > MaxHeadSize {
		return nil, nil, false, ErrHeadTooLarge
	}
	return buf[:end], buf[end:], true, nil
}

// ReadRequestHead parses an HTTP request head from buf once it is
// complete. ok is false while more input is needed. rest holds the bytes
// after the head.
func ReadRequestHead(buf []byte) (req *http.Request, rest []byte, ok bool, err error) {
	head, rest, ok, err := splitHead(buf)
	if !ok || err != nil {
		return nil, nil, false, err
	}
	req, err = http.ReadRequest(bufio.NewReader(bytes.NewReader(head)))
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to read HTTP request: %w", err)
	}
	return req, rest, true, nil
}

// ReadResponseHead is ReadRequestHead for the server's response.
func ReadResponseHead(buf []byte) (resp *http.Response, rest []byte, ok bool, err error) {
	head, rest, ok, err := splitHead(buf)
	if !ok || err != nil {
		return nil, nil, false, err
	}
	resp, err = http.ReadResponse(bufio.NewReader(bytes.NewReader(head)), nil)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to read HTTP response: %w", err)
	}
	return resp, rest, true, nil
}
