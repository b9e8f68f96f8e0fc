package rtsp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
)

// Config holds the RTSP server configuration.
type Config struct {
	// Addr is the TCP listen address for RTSP control connections,
	// e.g. ":8554".
	Addr string

	// StreamPath is the URI path the server serves, e.g. "/stream".
	StreamPath string

	// PublicHost, when set, overrides the address advertised in SDP.
	// Otherwise the host is taken from the request URI or the client
	// connection.
	PublicHost string

	// SessionName is the SDP s= line. Defaults to "Stream".
	SessionName string

	Log *slog.Logger
}

// Server is the RTSP control server and RTP delivery path. It accepts
// control connections over TCP, negotiates per-client UDP transports, and
// fans out packetized access units to every playing session.
//
// Server implements the sink contract the pipeline drives: ReceiverCount
// gates production and SubmitAccessUnit delivers encoded frames.
type Server struct {
	cfg      Config
	log      *slog.Logger
	sessions *SessionManager

	mu         sync.Mutex
	packetizer *Packetizer
	udp        *net.UDPConn
}

// NewServer creates a Server from the given configuration. It returns an
// error if required fields are missing.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, errors.New("rtsp: Addr is required")
	}
	if cfg.StreamPath == "" {
		cfg.StreamPath = "/stream"
	}
	if !strings.HasPrefix(cfg.StreamPath, "/") {
		cfg.StreamPath = "/" + cfg.StreamPath
	}
	if cfg.SessionName == "" {
		cfg.SessionName = "Stream"
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "rtsp")

	return &Server{
		cfg:        cfg,
		log:        log,
		sessions:   NewSessionManager(log),
		packetizer: NewPacketizer(),
	}, nil
}

// SetParameterSets seeds the packetizer's SPS and PPS so the first
// DESCRIBE already carries sprop-parameter-sets, before any frame has
// been submitted.
func (s *Server) SetParameterSets(sps, pps []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packetizer.SetParameterSets(sps, pps)
}

// ReceiverCount returns the number of sessions currently playing. The
// pipeline samples this every tick to decide whether to produce a frame.
func (s *Server) ReceiverCount() int {
	return s.sessions.PlayingCount()
}

// SubmitAccessUnit packetizes one encoded access unit and sends the RTP
// packets to every playing session. Delivery failures are logged and do
// not affect other sessions.
func (s *Server) SubmitAccessUnit(data []byte, timestampIncrement uint32) {
	s.mu.Lock()
	packets, err := s.packetizer.Packetize(data, timestampIncrement)
	udp := s.udp
	s.mu.Unlock()

	if err != nil {
		s.log.Error("packetize access unit", "error", err)
		return
	}
	if len(packets) == 0 || udp == nil {
		return
	}

	for _, session := range s.sessions.Playing() {
		transport, found := session.TransportInfo()
		if !found {
			continue
		}
		for _, pkt := range packets {
			if _, err := udp.WriteToUDP(pkt, transport.ClientAddr); err != nil {
				s.log.Warn("rtp send failed",
					"session", session.ID,
					"addr", transport.ClientAddr.String(),
					"error", err)
				break
			}
		}
	}
}

// Start binds the UDP sender and TCP listener, then accepts control
// connections until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	udp, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("rtsp: bind udp sender: %w", err)
	}
	s.mu.Lock()
	s.udp = udp
	s.mu.Unlock()
	defer udp.Close()

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("rtsp: listen %s: %w", s.cfg.Addr, err)
	}

	s.log.Info("rtsp server listening", "addr", s.cfg.Addr, "path", s.cfg.StreamPath)

	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	var wg sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.log.Warn("accept failed", "error", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	wg.Wait()
	s.log.Info("rtsp server stopped")
	return nil
}

// handleConnection runs the request/response loop for one control
// connection and cleans up its sessions on disconnect.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	clientAddr, okAddr := conn.RemoteAddr().(*net.TCPAddr)
	if !okAddr {
		return
	}

	log := s.log.With("peer", clientAddr.String())
	log.Info("client connected")

	h := newHandler(s, clientAddr, log)
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	reason := s.serve(conn, h, log)

	if orphaned := h.ownedSessions(); len(orphaned) > 0 {
		removed := s.sessions.RemoveAll(orphaned)
		log.Info("cleaned up sessions on disconnect", "removed", removed)
	}
	log.Info("client disconnected", "reason", reason)
}

func (s *Server) serve(conn net.Conn, h *handler, log *slog.Logger) string {
	reader := bufio.NewReader(conn)
	for {
		raw, err := readRequestText(reader)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return "server shutting down"
			}
			return "connection closed"
		}
		if strings.TrimSpace(raw) == "" {
			continue
		}

		req, err := ParseRequest(raw)
		if err != nil {
			log.Warn("request parse failed", "error", err)
			continue
		}

		log.Debug("request", "method", req.Method, "uri", req.URI, "cseq", req.CSeq())
		resp := h.handle(req)
		log.Debug("response", "status", resp.Status, "cseq", req.CSeq())

		if _, err := conn.Write(resp.Bytes()); err != nil {
			return "write failed"
		}
	}
}

// readRequestText reads one request's header section, up to and including
// the blank line.
func readRequestText(reader *bufio.Reader) (string, error) {
	var b strings.Builder
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		b.WriteString(line)
		if line == "\r\n" || line == "\n" {
			return b.String(), nil
		}
	}
}

// servesURI reports whether the URI addresses the configured stream,
// either the stream itself or its single video track.
func (s *Server) servesURI(uri string) bool {
	path := pathFromURI(uri)
	return path == s.cfg.StreamPath || path == s.cfg.StreamPath+"/track1"
}

// describeBody renders the SDP returned by DESCRIBE.
func (s *Server) describeBody(host string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return generateSDP(sdpParams{
		host:           host,
		sessionID:      "0",
		sessionVersion: "0",
		username:       "-",
		sessionName:    s.cfg.SessionName,
	}, s.packetizer)
}

// rtpInfo returns the next RTP sequence number and timestamp for the
// PLAY RTP-Info header.
func (s *Server) rtpInfo() (uint16, uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packetizer.NextSequence(), s.packetizer.NextTimestamp()
}
