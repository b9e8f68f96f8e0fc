package rtsp

import (
	"fmt"
	"strings"
)

// serverAgent identifies the server in every response (RFC 2326 §12.36).
const serverAgent = "beacon/0.1"

// Response is an RTSP response under construction. Headers accumulate in
// order; Content-Length is emitted automatically when a body is present.
type Response struct {
	Status  int
	Reason  string
	Body    string
	headers []headerField
}

func newResponse(status int, reason string) *Response {
	r := &Response{Status: status, Reason: reason}
	return r.WithHeader("Server", serverAgent)
}

func ok() *Response         { return newResponse(200, "OK") }
func badRequest() *Response { return newResponse(400, "Bad Request") }
func notFound() *Response   { return newResponse(404, "Not Found") }

func sessionNotFound() *Response { return newResponse(454, "Session Not Found") }

// WithHeader appends a header and returns the response for chaining.
func (r *Response) WithHeader(name, value string) *Response {
	r.headers = append(r.headers, headerField{name: name, value: value})
	return r
}

// WithBody sets the message body.
func (r *Response) WithBody(body string) *Response {
	r.Body = body
	return r
}

// Bytes serializes the response to the RTSP wire format.
func (r *Response) Bytes() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "RTSP/1.0 %d %s\r\n", r.Status, r.Reason)
	for _, h := range r.headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.name, h.value)
	}
	if r.Body != "" {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(r.Body))
		b.WriteString("\r\n")
		b.WriteString(r.Body)
	} else {
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}
