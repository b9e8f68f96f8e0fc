// Package h264 normalizes raw H.264 encoder output into start-code-delimited
// access units and classifies the NAL units inside them. It is the single
// place in Beacon that understands bitstream framing: the encoder uses it to
// produce transport-ready buffers and to discover SPS/PPS parameter sets from
// codec extradata, and the RTP packetizer uses it to split access units.
package h264

import "encoding/binary"

// H.264 NAL unit type constants as defined in ITU-T H.264 Table 7-1.
const (
	NALTypeIDR = 5
	NALTypeSPS = 7
	NALTypePPS = 8
)

// startCode is the 4-byte Annex B start code emitted by Normalize.
var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// NALUnit represents a parsed H.264 NAL unit.
type NALUnit struct {
	Type byte   // NAL type from the low 5 bits of the header byte
	Data []byte // raw NAL data including the header byte, without start code
}

// IsSPS returns true if the NAL type is SPS (type 7).
func IsSPS(nalType byte) bool {
	return nalType == NALTypeSPS
}

// IsPPS returns true if the NAL type is PPS (type 8).
func IsPPS(nalType byte) bool {
	return nalType == NALTypePPS
}

// ParseAnnexB parses an H.264 Annex B byte stream into individual NAL units.
// Both 3-byte (0x000001) and 4-byte (0x00000001) start codes are recognized;
// every non-empty segment between start codes is one unit. Malformed or empty
// input yields no units, never an error.
func ParseAnnexB(data []byte) []NALUnit {
	n := len(data)
	if n < 4 {
		return nil
	}

	type scPos struct {
		scStart   int
		dataStart int
	}

	var positions []scPos
	i := 0
	for i < n-2 {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	var units []NALUnit
	for idx, pos := range positions {
		if pos.dataStart >= n {
			continue
		}
		end := n
		if idx+1 < len(positions) {
			end = positions[idx+1].scStart
		}
		if pos.dataStart >= end {
			continue
		}

		units = append(units, NALUnit{
			Type: data[pos.dataStart] & 0x1F,
			Data: data[pos.dataStart:end],
		})
	}

	return units
}

// hasStartCode reports whether data begins with an Annex B start code.
func hasStartCode(data []byte) bool {
	if len(data) >= 3 && data[0] == 0 && data[1] == 0 && data[2] == 1 {
		return true
	}
	return len(data) >= 4 && data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1
}

// parseLengthPrefixed splits a buffer of 4-byte big-endian length-prefixed
// (AVCC) NAL units. Returns nil if the buffer does not walk cleanly as
// length-prefixed data, so callers can fall back to other framings.
func parseLengthPrefixed(data []byte) []NALUnit {
	var units []NALUnit
	i := 0
	for i+4 <= len(data) {
		size := int(binary.BigEndian.Uint32(data[i:]))
		i += 4
		if size == 0 || i+size > len(data) {
			return nil
		}
		units = append(units, NALUnit{
			Type: data[i] & 0x1F,
			Data: data[i : i+size],
		})
		i += size
	}
	if i != len(data) {
		return nil
	}
	return units
}

// Normalize returns the codec output buffer as a single concatenated
// start-code-delimited byte buffer suitable for direct transport. Annex B
// input passes through unchanged; length-prefixed (AVCC) input is rewritten
// with 4-byte start codes. Input matching neither framing is returned as-is
// so a misdetection never destroys payload bytes.
func Normalize(data []byte) []byte {
	if len(data) == 0 || hasStartCode(data) {
		return data
	}
	units := parseLengthPrefixed(data)
	if units == nil {
		return data
	}

	size := 0
	for _, u := range units {
		size += len(startCode) + len(u.Data)
	}
	out := make([]byte, 0, size)
	for _, u := range units {
		out = append(out, startCode...)
		out = append(out, u.Data...)
	}
	return out
}

// ExtractParameterSets scans a buffer for the first SPS and first PPS NAL
// units. The buffer may be an access unit in Annex B or length-prefixed form,
// or codec session extradata, which some encoders emit as an avcC-style
// AVCDecoderConfigurationRecord. ok is true only when both units were found
// in a single scan; duplicates beyond the first of each type are ignored.
func ExtractParameterSets(data []byte) (sps, pps []byte, ok bool) {
	if len(data) == 0 {
		return nil, nil, false
	}

	var units []NALUnit
	switch {
	case hasStartCode(data):
		units = ParseAnnexB(data)
	case data[0] == 1:
		units = parseAVCDecoderConfig(data)
	default:
		units = parseLengthPrefixed(data)
	}

	for _, u := range units {
		switch {
		case IsSPS(u.Type) && sps == nil:
			sps = append([]byte(nil), u.Data...)
		case IsPPS(u.Type) && pps == nil:
			pps = append([]byte(nil), u.Data...)
		}
	}
	return sps, pps, sps != nil && pps != nil
}

// parseAVCDecoderConfig extracts the parameter set units embedded in an
// AVCDecoderConfigurationRecord (ISO 14496-15 §5.2.4.1): a fixed 5-byte
// header, then a count-prefixed list of 2-byte-length SPS entries followed
// by the same for PPS. Returns nil on any truncation.
func parseAVCDecoderConfig(data []byte) []NALUnit {
	if len(data) < 7 || data[0] != 1 {
		return nil
	}

	var units []NALUnit
	i := 5
	numSPS := int(data[i] & 0x1F)
	i++
	for range numSPS {
		if i+2 > len(data) {
			return nil
		}
		size := int(binary.BigEndian.Uint16(data[i:]))
		i += 2
		if size == 0 || i+size > len(data) {
			return nil
		}
		units = append(units, NALUnit{Type: data[i] & 0x1F, Data: data[i : i+size]})
		i += size
	}

	if i >= len(data) {
		return nil
	}
	numPPS := int(data[i])
	i++
	for range numPPS {
		if i+2 > len(data) {
			return nil
		}
		size := int(binary.BigEndian.Uint16(data[i:]))
		i += 2
		if size == 0 || i+size > len(data) {
			return nil
		}
		units = append(units, NALUnit{Type: data[i] & 0x1F, Data: data[i : i+size]})
		i += size
	}

	return units
}
