package h264

import (
	"bytes"
	"testing"
)

func TestParseAnnexB(t *testing.T) {
	t.Parallel()
	// Annex B byte stream with SPS, PPS, and IDR
	data := []byte{
		// 4-byte start code + SPS (NAL type 7)
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0xE0, 0x1E,
		// 4-byte start code + PPS (NAL type 8)
		0x00, 0x00, 0x00, 0x01, 0x68, 0xCE, 0x38, 0x80,
		// 4-byte start code + IDR (NAL type 5)
		0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00, 0xFF, 0xFE,
	}

	nalus := ParseAnnexB(data)

	if len(nalus) != 3 {
		t.Fatalf("expected 3 NAL units, got %d", len(nalus))
	}
	if nalus[0].Type != NALTypeSPS || !IsSPS(nalus[0].Type) {
		t.Errorf("expected SPS (7), got %d", nalus[0].Type)
	}
	if nalus[1].Type != NALTypePPS || !IsPPS(nalus[1].Type) {
		t.Errorf("expected PPS (8), got %d", nalus[1].Type)
	}
	if nalus[2].Type != NALTypeIDR {
		t.Errorf("expected IDR (5), got %d", nalus[2].Type)
	}
}

func TestParseAnnexBMixedStartCodes(t *testing.T) {
	t.Parallel()
	data := []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0xE0,
		0x00, 0x00, 0x01, 0x65, 0x88, 0x84,
	}

	nalus := ParseAnnexB(data)

	if len(nalus) != 2 {
		t.Fatalf("expected 2 NAL units, got %d", len(nalus))
	}
	if !bytes.Equal(nalus[0].Data, []byte{0x67, 0x42, 0xE0}) {
		t.Errorf("first NAL data: got %x", nalus[0].Data)
	}
	if !bytes.Equal(nalus[1].Data, []byte{0x65, 0x88, 0x84}) {
		t.Errorf("second NAL data: got %x", nalus[1].Data)
	}
}

func TestParseAnnexBEmpty(t *testing.T) {
	t.Parallel()
	if nalus := ParseAnnexB(nil); nalus != nil {
		t.Errorf("expected nil for empty input, got %d units", len(nalus))
	}
	if nalus := ParseAnnexB([]byte{0x00, 0x01}); nalus != nil {
		t.Errorf("expected nil for short input, got %d units", len(nalus))
	}
	if nalus := ParseAnnexB([]byte{0xFF, 0xFE, 0xFD, 0xFC}); nalus != nil {
		t.Errorf("expected nil without start codes, got %d units", len(nalus))
	}
}

func TestNormalizeAnnexBPassthrough(t *testing.T) {
	t.Parallel()
	data := []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84}
	out := Normalize(data)
	if !bytes.Equal(out, data) {
		t.Errorf("Annex B input must pass through unchanged: got %x", out)
	}
}

func TestNormalizeLengthPrefixed(t *testing.T) {
	t.Parallel()
	// Two 4-byte length-prefixed NALs: SPS then PPS
	data := []byte{
		0x00, 0x00, 0x00, 0x04, 0x67, 0x42, 0xE0, 0x1E,
		0x00, 0x00, 0x00, 0x02, 0x68, 0xCE,
	}
	want := []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0xE0, 0x1E,
		0x00, 0x00, 0x00, 0x01, 0x68, 0xCE,
	}

	out := Normalize(data)
	if !bytes.Equal(out, want) {
		t.Errorf("got %x, want %x", out, want)
	}

	nalus := ParseAnnexB(out)
	if len(nalus) != 2 {
		t.Fatalf("normalized output must re-parse: got %d units", len(nalus))
	}
}

func TestNormalizeGarbageUnchanged(t *testing.T) {
	t.Parallel()
	// Neither framing walks cleanly: bytes come back untouched.
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01}
	if out := Normalize(data); !bytes.Equal(out, data) {
		t.Errorf("got %x, want input unchanged", out)
	}
	if out := Normalize(nil); len(out) != 0 {
		t.Errorf("empty input: got %x", out)
	}
}

func TestExtractParameterSetsAnnexB(t *testing.T) {
	t.Parallel()
	data := []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0xE0, 0x1E,
		0x00, 0x00, 0x00, 0x01, 0x68, 0xCE, 0x38, 0x80,
	}

	sps, pps, ok := ExtractParameterSets(data)
	if !ok {
		t.Fatal("expected parameter sets to be found")
	}
	if !bytes.Equal(sps, []byte{0x67, 0x42, 0xE0, 0x1E}) {
		t.Errorf("SPS: got %x", sps)
	}
	if !bytes.Equal(pps, []byte{0x68, 0xCE, 0x38, 0x80}) {
		t.Errorf("PPS: got %x", pps)
	}
}

func TestExtractParameterSetsSPSOnly(t *testing.T) {
	t.Parallel()
	data := []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0xE0, 0x1E}
	if _, _, ok := ExtractParameterSets(data); ok {
		t.Error("SPS without PPS must report not-yet-available")
	}
}

func TestExtractParameterSetsFirstWins(t *testing.T) {
	t.Parallel()
	data := []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0x11,
		0x00, 0x00, 0x00, 0x01, 0x68, 0x22,
		0x00, 0x00, 0x00, 0x01, 0x67, 0x33, // duplicate SPS, ignored
	}

	sps, _, ok := ExtractParameterSets(data)
	if !ok {
		t.Fatal("expected parameter sets to be found")
	}
	if !bytes.Equal(sps, []byte{0x67, 0x11}) {
		t.Errorf("first SPS must win: got %x", sps)
	}
}

func TestExtractParameterSetsAVCDecoderConfig(t *testing.T) {
	t.Parallel()
	// Minimal avcC record: version 1, profile/compat/level, lengthSize,
	// one SPS and one PPS with 2-byte length prefixes.
	data := []byte{
		0x01, 0x42, 0xE0, 0x1E, 0xFF,
		0xE1, // numSPS = 1
		0x00, 0x04, 0x67, 0x42, 0xE0, 0x1E,
		0x01, // numPPS = 1
		0x00, 0x02, 0x68, 0xCE,
	}

	sps, pps, ok := ExtractParameterSets(data)
	if !ok {
		t.Fatal("expected parameter sets from avcC record")
	}
	if !bytes.Equal(sps, []byte{0x67, 0x42, 0xE0, 0x1E}) {
		t.Errorf("SPS: got %x", sps)
	}
	if !bytes.Equal(pps, []byte{0x68, 0xCE}) {
		t.Errorf("PPS: got %x", pps)
	}
}

func TestExtractParameterSetsMalformed(t *testing.T) {
	t.Parallel()
	for _, data := range [][]byte{
		nil,
		{},
		{0x01, 0x42},                   // truncated avcC
		{0x00, 0x00, 0x00, 0x09, 0x67}, // length overruns buffer
		{0xAB, 0xCD, 0xEF},
	} {
		if _, _, ok := ExtractParameterSets(data); ok {
			t.Errorf("input %x: expected not-yet-available", data)
		}
	}
}
