package session

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/muurk/wsgate/internal/logging"
	"github.com/muurk/wsgate/internal/protocol"
)

// HTTPResponse is the answer to a request that did not ask for an upgrade.
type HTTPResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HTTPHandler answers plain HTTP requests on a WebSocket port.
type HTTPHandler func(req *http.Request) *HTTPResponse

// UpgradeRequired is the default HTTPHandler: 426 with the version we speak.
func UpgradeRequired(req *http.Request) *HTTPResponse {
	return &HTTPResponse{
		StatusCode: http.StatusUpgradeRequired,
		Header: http.Header{
			"Upgrade":               {"websocket"},
			"Sec-WebSocket-Version": {"13"},
			"Content-Type":          {"text/plain; charset=utf-8"},
		},
		Body: []byte("426 Upgrade Required\n"),
	}
}

// Route answers plain HTTP requests whose path matches Pattern. A pattern
// ending in "/" matches every path below it. Routes are tried by descending
// Priority, then longest pattern, then declaration order.
type Route struct {
	Pattern  string
	Priority int
	Handler  HTTPHandler
}

func (r Route) matches(path string) bool {
	if strings.HasSuffix(r.Pattern, "/") {
		return strings.HasPrefix(path, r.Pattern)
	}
	return path == r.Pattern
}

// sortRoutes returns a copy of routes in match order.
func sortRoutes(routes []Route) []Route {
	sorted := slices.Clone(routes)
	slices.SortStableFunc(sorted, func(a, b Route) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		return len(b.Pattern) - len(a.Pattern)
	})
	return sorted
}

// route picks the handler for a plain request, falling back to fallback.
func route(routes []Route, req *http.Request, fallback HTTPHandler) HTTPHandler {
	for _, r := range routes {
		if r.Handler != nil && r.matches(req.URL.Path) {
			return r.Handler
		}
	}
	return fallback
}

// Healthy answers 200 "ok". Useful as a liveness route.
func Healthy(req *http.Request) *HTTPResponse {
	return &HTTPResponse{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:       []byte("ok\n"),
	}
}

// Encode serialises the response. The connection is always closed after
// it, so Connection: close is set.
func (r *HTTPResponse) Encode() []byte {
	resp := &http.Response{
		StatusCode:    r.StatusCode,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        r.Header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Close:         true,
	}
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	var buf bytes.Buffer
	_ = resp.Write(&buf)
	return buf.Bytes()
}

// errorResponse answers a head that could not be parsed.
func errorResponse(err error) *HTTPResponse {
	status := http.StatusBadRequest
	if errors.Is(err, protocol.ErrHeadTooLarge) {
		status = http.StatusRequestHeaderFieldsTooLarge
	}
	return &HTTPResponse{
		StatusCode: status,
		Body:       []byte(http.StatusText(status) + "\n"),
	}
}

func logRequest(req *http.Request, remoteAddr string) {
	headers := make(map[string]string, len(req.Header))
	for key, values := range req.Header {
		headers[key] = strings.Join(values, ", ")
	}
	logging.LogHTTPRequest(remoteAddr, req.Method, req.URL.Path, headers)
}

func logResponse(resp *HTTPResponse, remoteAddr string) {
	headers := make(map[string]string, len(resp.Header))
	for key, values := range resp.Header {
		headers[key] = strings.Join(values, ", ")
	}
	logging.LogHTTPResponse(remoteAddr, resp.StatusCode, headers)
}
