package demux

import (
	"bytes"

	"github.com/zsiec/nalbits/nal"
)

// NALUnit represents a parsed H.264 or H.265 NAL unit.
type NALUnit struct {
	Type byte   // NAL type (codec-specific: 5-bit for H.264, 6-bit for H.265)
	Data []byte // raw NAL data including the NAL header byte(s), without start code
}

// parseAnnexBGeneric splits an Annex B byte stream on start codes found by
// nal.ScanForStartCodes. Zero bytes ahead of a start code belong to the
// start code (the leading zero of a 4-byte 00 00 00 01, or
// trailing_zero_8bits), never to the preceding NAL unit. Bytes before the
// first start code are ignored. minNALBytes is the minimum NAL data length
// (1 for H.264, 2 for HEVC).
func parseAnnexBGeneric(data []byte, minNALBytes int, nalTypeFunc func([]byte) byte) []NALUnit {
	var units []NALUnit

	sc := nal.ScanForStartCodes(data)
	for sc >= 0 {
		start := sc + 3
		next := nal.ScanForStartCodes(data[start:])

		var nalData []byte
		if next >= 0 {
			next += start
			nalData = trimTrailingZeros(data[start:next])
		} else {
			// A start code with nothing after it can't be found by the
			// scanner, so strip it here.
			nalData = bytes.TrimSuffix(data[start:], []byte{0x00, 0x00, 0x01})
			nalData = trimTrailingZeros(nalData)
		}

		if len(nalData) >= minNALBytes {
			units = append(units, NALUnit{
				Type: nalTypeFunc(nalData),
				Data: nalData,
			})
		}
		sc = next
	}

	return units
}

func trimTrailingZeros(b []byte) []byte {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return b[:end]
}

// ParseAnnexB parses H.264 Annex B byte stream into individual NAL units.
// It recognizes both 3-byte (0x000001) and 4-byte (0x00000001) start codes.
func ParseAnnexB(data []byte) []NALUnit {
	return parseAnnexBGeneric(data, 1, func(d []byte) byte { return d[0] & 0x1F })
}

// ParseAnnexBHEVC parses an Annex B byte stream into NAL units using the
// HEVC 2-byte NAL header for type extraction. Start codes are identical
// to H.264 (00 00 01 or 00 00 00 01).
func ParseAnnexBHEVC(data []byte) []NALUnit {
	return parseAnnexBGeneric(data, 2, func(d []byte) byte { return HEVCNALType(d[0]) })
}
