package rtsp

import (
	"encoding/base64"
	"fmt"
	"math/rand/v2"

	"github.com/pion/rtp"

	"github.com/zsiec/beacon/internal/h264"
	"github.com/zsiec/beacon/internal/media"
)

const (
	// defaultMTU leaves headroom under a 1500-byte Ethernet MTU for the
	// IP, UDP, and RTP headers.
	defaultMTU = 1400

	// payloadTypeH264 is the dynamic payload type advertised in SDP.
	payloadTypeH264 = 96

	// fuaType is the NAL unit type for FU-A fragments (RFC 6184 §5.8).
	fuaType = 28
)

// Packetizer converts H.264 Annex B access units into RTP packets per
// RFC 6184 packetization-mode=1. NAL units that fit within the MTU go out
// as Single NAL Unit packets (§5.6); larger ones are fragmented as FU-A
// (§5.8). The marker bit is set on the last packet of each access unit.
//
// SPS and PPS are captured from the first access unit that carries them
// and surface in the SDP fmtp line as profile-level-id and
// sprop-parameter-sets.
//
// Packetizer is not safe for concurrent use; the Server serializes access.
type Packetizer struct {
	payloadType uint8
	ssrc        uint32
	seq         uint16
	timestamp   uint32
	mtu         int
	sps         []byte
	pps         []byte
}

// NewPacketizer creates a packetizer with a random SSRC (RFC 3550 §8.1).
func NewPacketizer() *Packetizer {
	return &Packetizer{
		payloadType: payloadTypeH264,
		ssrc:        rand.Uint32(),
		mtu:         defaultMTU,
	}
}

// SetParameterSets seeds the SPS and PPS used for SDP generation, ahead
// of the first access unit. Both are NAL payloads without start codes.
func (p *Packetizer) SetParameterSets(sps, pps []byte) {
	if len(sps) > 0 {
		p.sps = sps
	}
	if len(pps) > 0 {
		p.pps = pps
	}
}

// Packetize converts one access unit into RTP packets and advances the
// RTP timestamp by timestampIncrement afterwards, so every packet of the
// unit shares a timestamp.
func (p *Packetizer) Packetize(accessUnit []byte, timestampIncrement uint32) ([][]byte, error) {
	nals := h264.ParseAnnexB(accessUnit)

	if p.sps == nil || p.pps == nil {
		for _, nal := range nals {
			switch {
			case nal.Type == h264.NALTypeSPS && p.sps == nil:
				p.sps = nal.Data
			case nal.Type == h264.NALTypePPS && p.pps == nil:
				p.pps = nal.Data
			}
		}
	}

	var packets [][]byte
	for i, nal := range nals {
		last := i == len(nals)-1
		nalPackets, err := p.packetizeNAL(nal.Data, last)
		if err != nil {
			return nil, err
		}
		packets = append(packets, nalPackets...)
	}

	p.timestamp += timestampIncrement
	return packets, nil
}

func (p *Packetizer) packetizeNAL(nal []byte, lastInUnit bool) ([][]byte, error) {
	if len(nal) == 0 {
		return nil, nil
	}

	if len(nal) <= p.mtu {
		pkt, err := p.marshal(nal, lastInUnit)
		if err != nil {
			return nil, err
		}
		return [][]byte{pkt}, nil
	}

	// FU-A: the NAL header byte is replaced by a two-byte FU prefix on
	// each fragment, carrying the original NRI and type.
	nalType := nal[0] & 0x1F
	nri := nal[0] & 0x60
	indicator := nri | fuaType
	payload := nal[1:]
	maxFragment := p.mtu - 2

	var packets [][]byte
	for offset := 0; offset < len(payload); {
		remaining := len(payload) - offset
		size := min(maxFragment, remaining)
		lastFragment := remaining <= maxFragment

		header := nalType
		if offset == 0 {
			header |= 0x80 // S bit
		}
		if lastFragment {
			header |= 0x40 // E bit
		}

		fragment := make([]byte, 0, 2+size)
		fragment = append(fragment, indicator, header)
		fragment = append(fragment, payload[offset:offset+size]...)

		pkt, err := p.marshal(fragment, lastInUnit && lastFragment)
		if err != nil {
			return nil, err
		}
		packets = append(packets, pkt)
		offset += size
	}
	return packets, nil
}

func (p *Packetizer) marshal(payload []byte, marker bool) ([]byte, error) {
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    p.payloadType,
			SequenceNumber: p.seq,
			Timestamp:      p.timestamp,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}
	out, err := pkt.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal rtp packet seq=%d: %w", p.seq, err)
	}
	p.seq++
	return out, nil
}

// NextSequence returns the sequence number the next packet will carry,
// advertised in the PLAY RTP-Info header.
func (p *Packetizer) NextSequence() uint16 {
	return p.seq
}

// NextTimestamp returns the RTP timestamp of the next access unit.
func (p *Packetizer) NextTimestamp() uint32 {
	return p.timestamp
}

// MediaAttributes returns the SDP media-level attribute lines for this
// packetizer (RFC 6184 §8.2.1). a=rtpmap precedes a=fmtp: clients parse
// attributes sequentially and fmtp references the payload type rtpmap
// defines.
func (p *Packetizer) MediaAttributes() []string {
	fmtp := fmt.Sprintf("a=fmtp:%d packetization-mode=1", p.payloadType)
	if id, err := h264.ProfileLevelID(p.sps); err == nil {
		fmtp += ";profile-level-id=" + id
	}
	if len(p.sps) > 0 && len(p.pps) > 0 {
		fmtp += fmt.Sprintf(";sprop-parameter-sets=%s,%s",
			base64.StdEncoding.EncodeToString(p.sps),
			base64.StdEncoding.EncodeToString(p.pps))
	}

	return []string{
		fmt.Sprintf("a=rtpmap:%d H264/%d", p.payloadType, media.RTPClockRate),
		fmtp,
		"a=control:track1",
	}
}

// PayloadType returns the dynamic RTP payload type.
func (p *Packetizer) PayloadType() uint8 {
	return p.payloadType
}
