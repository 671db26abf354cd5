package demux

import (
	"bytes"
	"testing"
)

func BenchmarkParseSPS(b *testing.B) {
	b.SetBytes(int64(len(spsVUITiming)))

	for b.Loop() {
		ParseSPS(spsVUITiming)
	}
}

func BenchmarkParsePicTimingSEI(b *testing.B) {
	sei := []byte{0x06, 0x01, 0x08, 0x00, 0x02, 0x04, 0x12, 0x00, 0x00, 0x03, 0x00, 0x40, 0x80}
	sps := SPSInfo{PicStructPresent: true, HRDPresent: true, CpbRemovalDelayLen: 10, DpbOutputDelayLen: 7}
	b.SetBytes(int64(len(sei)))

	for b.Loop() {
		ParsePicTimingSEI(sei, sps)
	}
}

func BenchmarkParseAnnexB(b *testing.B) {
	unit := []byte{0x00, 0x00, 0x00, 0x01, 0x41, 0x9A}
	unit = append(unit, bytes.Repeat([]byte{0x5C}, 1500)...)
	data := bytes.Repeat(unit, 64)
	b.SetBytes(int64(len(data)))

	for b.Loop() {
		ParseAnnexB(data)
	}
}
