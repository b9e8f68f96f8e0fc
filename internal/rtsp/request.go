// Package rtsp implements an RTSP 1.0 (RFC 2326) server that delivers an
// H.264 stream to clients over RTP/UDP. It covers the method set a typical
// player (ffplay, VLC, GStreamer) exercises: OPTIONS, DESCRIBE, SETUP, PLAY,
// PAUSE, TEARDOWN, and GET_PARAMETER keepalives.
package rtsp

import (
	"errors"
	"fmt"
	"strings"
)

var errEmptyRequest = errors.New("rtsp: empty request")

type headerField struct {
	name  string
	value string
}

// Request is a parsed RTSP request. Requests follow HTTP/1.1 syntax:
// request line, header lines, blank line. Header lookup is case-insensitive
// per RFC 2326 §4.2; storage preserves order and the names as received.
type Request struct {
	Method  string
	URI     string
	Version string

	headers []headerField
}

// ParseRequest parses the text of a complete RTSP request, up to and
// including the blank line that terminates the header section.
func ParseRequest(raw string) (*Request, error) {
	lines := strings.Split(raw, "\r\n")
	if len(lines) == 1 {
		lines = strings.Split(raw, "\n")
	}
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, errEmptyRequest
	}

	parts := strings.Fields(lines[0])
	if len(parts) != 3 {
		return nil, fmt.Errorf("rtsp: malformed request line %q", lines[0])
	}

	req := &Request{
		Method:  parts[0],
		URI:     parts[1],
		Version: parts[2],
	}

	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			break
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return nil, fmt.Errorf("rtsp: malformed header line %q", line)
		}
		req.headers = append(req.headers, headerField{
			name:  strings.TrimSpace(line[:colon]),
			value: strings.TrimSpace(line[colon+1:]),
		})
	}

	return req, nil
}

// Header returns the value of the named header, or "" if absent.
// Lookup is case-insensitive.
func (r *Request) Header(name string) string {
	for _, h := range r.headers {
		if strings.EqualFold(h.name, name) {
			return h.value
		}
	}
	return ""
}

// CSeq returns the request sequence number header (RFC 2326 §12.17),
// or "0" when the client omitted it.
func (r *Request) CSeq() string {
	if v := r.Header("CSeq"); v != "" {
		return v
	}
	return "0"
}

// SessionID returns the session identifier from the Session header with
// any ";timeout=..." suffix stripped, or "" if the header is absent.
func (r *Request) SessionID() string {
	v := r.Header("Session")
	if v == "" {
		return ""
	}
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}
