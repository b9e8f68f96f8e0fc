package rtsp

import (
	"fmt"
	"strings"
)

// sdpParams carries the session-level fields of a DESCRIBE body
// (RFC 4566). Media-level attributes come from the Packetizer.
type sdpParams struct {
	host           string
	sessionID      string
	sessionVersion string
	username       string
	sessionName    string
}

// generateSDP renders the session description returned by DESCRIBE.
// Session-level lines precede the m= section; within the media section
// rtpmap comes before fmtp per RFC 6184 §8.2.1.
func generateSDP(params sdpParams, pkt *Packetizer) string {
	lines := []string{
		"v=0",
		fmt.Sprintf("o=%s %s %s IN IP4 %s",
			params.username, params.sessionID, params.sessionVersion, params.host),
		"s=" + params.sessionName,
		"c=IN IP4 " + params.host,
		"t=0 0",
		"a=tool:" + serverAgent,
		"a=sendonly",
		fmt.Sprintf("m=video 0 RTP/AVP %d", pkt.PayloadType()),
	}
	lines = append(lines, pkt.MediaAttributes()...)
	return strings.Join(lines, "\r\n") + "\r\n"
}
