package inspect

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Codec identifies the video coding standard of an elementary stream.
type Codec string

const (
	CodecH264 Codec = "h264"
	CodecH265 Codec = "h265"
)

// ParseCodec accepts the common spellings of each codec name.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "h264", "h.264", "avc", "264":
		return CodecH264, nil
	case "h265", "h.265", "hevc", "265":
		return CodecH265, nil
	}
	return "", fmt.Errorf("inspect: unknown codec %q", s)
}

// CodecFromPath guesses the codec from a file extension.
func CodecFromPath(path string) (Codec, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".264", ".h264", ".avc", ".jsv", ".26l":
		return CodecH264, true
	case ".265", ".h265", ".hevc", ".bit":
		return CodecH265, true
	}
	return "", false
}
