package nal

import "bytes"

var startCodePrefix = []byte{0x00, 0x00, 0x01}

// ScanForStartCodes returns the offset of the first 00 00 01 start code
// prefix in data, or -1 if there is none. A prefix only counts when at least
// one byte follows it, since a NAL unit is never empty.
func ScanForStartCodes(data []byte) int {
	if len(data) < 4 {
		return -1
	}
	return bytes.Index(data[:len(data)-1], startCodePrefix)
}
