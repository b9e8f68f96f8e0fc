package rtsp

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Transport holds the RTP/RTCP parameters negotiated during SETUP
// (RFC 2326 §12.39). The server addresses RTP datagrams to
// ClientAddr (client IP + client RTP port); the server ports are
// advertised back to the client but not individually bound.
type Transport struct {
	ClientRTPPort  uint16
	ClientRTCPPort uint16
	ServerRTPPort  uint16
	ServerRTCPPort uint16
	ClientAddr     *net.UDPAddr
}

// HeaderValue formats the server's Transport response header.
func (t Transport) HeaderValue() string {
	return fmt.Sprintf("RTP/AVP;unicast;client_port=%d-%d;server_port=%d-%d",
		t.ClientRTPPort, t.ClientRTCPPort, t.ServerRTPPort, t.ServerRTCPPort)
}

// TransportSpec is the client side of a Transport header: the UDP port
// pair the client asks the server to deliver to.
type TransportSpec struct {
	ClientRTPPort  uint16
	ClientRTCPPort uint16
}

// ParseTransportHeader extracts the client_port pair from a Transport
// header value such as "RTP/AVP;unicast;client_port=8000-8001".
func ParseTransportHeader(value string) (TransportSpec, error) {
	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		ports, found := strings.CutPrefix(part, "client_port=")
		if !found {
			continue
		}
		lo, hi, found := strings.Cut(ports, "-")
		if !found {
			return TransportSpec{}, fmt.Errorf("rtsp: transport header %q: client_port is not a range", value)
		}
		rtpPort, err := strconv.ParseUint(lo, 10, 16)
		if err != nil {
			return TransportSpec{}, fmt.Errorf("rtsp: transport header %q: bad RTP port: %w", value, err)
		}
		rtcpPort, err := strconv.ParseUint(hi, 10, 16)
		if err != nil {
			return TransportSpec{}, fmt.Errorf("rtsp: transport header %q: bad RTCP port: %w", value, err)
		}
		return TransportSpec{
			ClientRTPPort:  uint16(rtpPort),
			ClientRTCPPort: uint16(rtcpPort),
		}, nil
	}
	return TransportSpec{}, fmt.Errorf("rtsp: transport header %q: no client_port parameter", value)
}

// interleavedRequested reports whether the client asked for TCP
// interleaved delivery, which this server does not implement.
func interleavedRequested(value string) bool {
	return strings.Contains(value, "RTP/AVP/TCP") || strings.Contains(value, "interleaved=")
}
