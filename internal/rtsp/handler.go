package rtsp

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
)

// publicMethods is the OPTIONS Public header value.
const publicMethods = "OPTIONS, DESCRIBE, SETUP, PLAY, PAUSE, TEARDOWN, GET_PARAMETER"

// handler processes RTSP requests for one control connection. It tracks
// the sessions created on the connection so they can be torn down when
// the client disconnects without a TEARDOWN.
type handler struct {
	srv        *Server
	log        *slog.Logger
	clientAddr *net.TCPAddr
	owned      []string
}

func newHandler(srv *Server, clientAddr *net.TCPAddr, log *slog.Logger) *handler {
	return &handler{
		srv:        srv,
		log:        log,
		clientAddr: clientAddr,
	}
}

// ownedSessions returns the IDs of sessions created on this connection.
func (h *handler) ownedSessions() []string {
	return h.owned
}

func (h *handler) handle(req *Request) *Response {
	cseq := req.CSeq()

	switch req.Method {
	case "OPTIONS":
		return h.handleOptions(cseq)
	case "DESCRIBE":
		return h.handleDescribe(cseq, req.URI)
	case "SETUP":
		return h.handleSetup(cseq, req)
	case "PLAY":
		return h.handlePlay(cseq, req)
	case "PAUSE":
		return h.handlePause(cseq, req)
	case "TEARDOWN":
		return h.handleTeardown(cseq, req)
	case "GET_PARAMETER":
		return h.handleGetParameter(cseq, req)
	default:
		h.log.Warn("unsupported method", "method", req.Method, "cseq", cseq)
		return newResponse(501, "Not Implemented").WithHeader("CSeq", cseq)
	}
}

func (h *handler) handleOptions(cseq string) *Response {
	return ok().
		WithHeader("CSeq", cseq).
		WithHeader("Public", publicMethods)
}

func (h *handler) handleDescribe(cseq, uri string) *Response {
	if !h.srv.servesURI(uri) {
		h.log.Warn("DESCRIBE for unknown path", "uri", uri)
		return notFound().WithHeader("CSeq", cseq)
	}

	body := h.srv.describeBody(h.hostForSDP(uri))
	return ok().
		WithHeader("CSeq", cseq).
		WithHeader("Content-Type", "application/sdp").
		WithHeader("Content-Base", uri).
		WithBody(body)
}

func (h *handler) handleSetup(cseq string, req *Request) *Response {
	if !h.srv.servesURI(req.URI) {
		h.log.Warn("SETUP for unknown path", "uri", req.URI)
		return notFound().WithHeader("CSeq", cseq)
	}

	transportHeader := req.Header("Transport")
	if transportHeader == "" {
		h.log.Warn("SETUP missing Transport header", "cseq", cseq)
		return badRequest().WithHeader("CSeq", cseq)
	}

	if interleavedRequested(transportHeader) {
		h.log.Warn("client requested interleaved TCP transport",
			"cseq", cseq, "transport", transportHeader)
		return newResponse(461, "Unsupported Transport").
			WithHeader("CSeq", cseq).
			WithHeader("Unsupported", "RTP/AVP/TCP (interleaved); use RTP/AVP over UDP")
	}

	spec, err := ParseTransportHeader(transportHeader)
	if err != nil {
		h.log.Warn("SETUP invalid Transport header", "cseq", cseq, "error", err)
		return badRequest().WithHeader("CSeq", cseq)
	}

	serverRTP, serverRTCP := h.srv.sessions.AllocatePortPair()
	session := h.srv.sessions.Create(req.URI)
	transport := Transport{
		ClientRTPPort:  spec.ClientRTPPort,
		ClientRTCPPort: spec.ClientRTCPPort,
		ServerRTPPort:  serverRTP,
		ServerRTCPPort: serverRTCP,
		ClientAddr: &net.UDPAddr{
			IP:   h.clientAddr.IP,
			Port: int(spec.ClientRTPPort),
		},
	}
	session.SetTransport(transport)
	h.owned = append(h.owned, session.ID)

	h.log.Info("session created",
		"session", session.ID,
		"uri", req.URI,
		"clientRTP", transport.ClientAddr.String(),
		"serverRTPPort", serverRTP)

	return ok().
		WithHeader("CSeq", cseq).
		WithHeader("Transport", transport.HeaderValue()).
		WithHeader("Session", session.HeaderValue())
}

func (h *handler) handlePlay(cseq string, req *Request) *Response {
	session, resp := h.lookupSession(cseq, req, "PLAY")
	if resp != nil {
		return resp
	}

	session.SetState(StatePlaying)
	h.log.Info("session playing", "session", session.ID)

	seq, ts := h.srv.rtpInfo()
	return ok().
		WithHeader("CSeq", cseq).
		WithHeader("Session", session.HeaderValue()).
		WithHeader("Range", "npt=0.000-").
		WithHeader("RTP-Info", fmt.Sprintf("url=%s;seq=%d;rtptime=%d", session.URI, seq, ts))
}

func (h *handler) handlePause(cseq string, req *Request) *Response {
	session, resp := h.lookupSession(cseq, req, "PAUSE")
	if resp != nil {
		return resp
	}

	session.SetState(StatePaused)
	h.log.Info("session paused", "session", session.ID)

	return ok().
		WithHeader("CSeq", cseq).
		WithHeader("Session", session.HeaderValue())
}

func (h *handler) handleTeardown(cseq string, req *Request) *Response {
	id := req.SessionID()
	if id == "" || !h.srv.sessions.Remove(id) {
		h.log.Warn("TEARDOWN for unknown session", "cseq", cseq, "session", id)
		return sessionNotFound().WithHeader("CSeq", cseq)
	}

	for i, owned := range h.owned {
		if owned == id {
			h.owned = append(h.owned[:i], h.owned[i+1:]...)
			break
		}
	}
	h.log.Info("session torn down", "session", id)

	return ok().WithHeader("CSeq", cseq)
}

// GET_PARAMETER with no parameters serves as the client keepalive
// (RFC 2326 §10.8).
func (h *handler) handleGetParameter(cseq string, req *Request) *Response {
	resp := ok().WithHeader("CSeq", cseq)
	if id := req.SessionID(); id != "" && h.srv.sessions.Get(id) != nil {
		resp = resp.WithHeader("Session", id)
	}
	return resp
}

func (h *handler) lookupSession(cseq string, req *Request, method string) (*Session, *Response) {
	id := req.SessionID()
	if id == "" {
		h.log.Warn("missing Session header", "method", method, "cseq", cseq)
		return nil, sessionNotFound().WithHeader("CSeq", cseq)
	}
	session := h.srv.sessions.Get(id)
	if session == nil {
		h.log.Warn("unknown session", "method", method, "session", id)
		return nil, sessionNotFound().WithHeader("CSeq", cseq)
	}
	return session, nil
}

// hostForSDP picks the address written into the SDP o= and c= lines:
// the configured public host if set, else the host from the request URI,
// else the client's own view of the connection.
func (h *handler) hostForSDP(uri string) string {
	if h.srv.cfg.PublicHost != "" {
		return h.srv.cfg.PublicHost
	}
	if host := hostFromURI(uri); host != "" {
		return host
	}
	return h.clientAddr.IP.String()
}

func hostFromURI(uri string) string {
	rest, found := strings.CutPrefix(uri, "rtsp://")
	if !found {
		rest, found = strings.CutPrefix(uri, "rtsps://")
	}
	if !found {
		return ""
	}
	hostPort, _, _ := strings.Cut(rest, "/")
	host, _, _ := strings.Cut(hostPort, ":")
	return strings.TrimSpace(host)
}

// pathFromURI returns the path component of an RTSP URI, without any
// trailing slash. "rtsp://host:8554/stream/" yields "/stream".
func pathFromURI(uri string) string {
	rest := uri
	if r, found := strings.CutPrefix(uri, "rtsp://"); found {
		rest = r
	} else if r, found := strings.CutPrefix(uri, "rtsps://"); found {
		rest = r
	} else {
		return uri
	}
	_, path, found := strings.Cut(rest, "/")
	if !found {
		return "/"
	}
	return "/" + strings.TrimSuffix(path, "/")
}
