package inspect

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
)

// NALTypeStats counts the NAL units of one type.
type NALTypeStats struct {
	Type  byte   `json:"type"`
	Name  string `json:"name"`
	Count int64  `json:"count"`
	Bytes int64  `json:"bytes"`
}

// VideoStats describes the coded video as signalled by the most recent
// sequence parameter set.
type VideoStats struct {
	CodecString string  `json:"codecString,omitempty"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	ProfileIDC  int     `json:"profileIdc"`
	LevelIDC    int     `json:"levelIdc"`
	BitDepth    int     `json:"bitDepth"`
	FrameRate   float64 `json:"frameRate,omitempty"`
	Interlaced  bool    `json:"interlaced,omitempty"`
}

// SliceStats counts coded pictures and slices by type.
type SliceStats struct {
	Pictures  int64            `json:"pictures"`
	Keyframes int64            `json:"keyframes"`
	Slices    int64            `json:"slices"`
	ByType    map[string]int64 `json:"byType,omitempty"`
}

// CaptionSample is one decoded caption line.
type CaptionSample struct {
	Channel int    `json:"channel"`
	Text    string `json:"text"`
}

// CaptionStats tracks closed-caption activity across all channels.
type CaptionStats struct {
	ActiveChannels []int           `json:"activeChannels"`
	TotalFrames    int64           `json:"totalFrames"`
	DuplicateCtrl  int64           `json:"duplicateCtrl"`
	Samples        []CaptionSample `json:"samples,omitempty"`
}

// Report summarises one Annex B elementary stream.
type Report struct {
	Name           string         `json:"name"`
	Codec          Codec          `json:"codec"`
	TotalBytes     int64          `json:"totalBytes"`
	NALUnits       int64          `json:"nalUnits"`
	EPBBytes       int64          `json:"epbBytes"`
	NALTypes       []NALTypeStats `json:"nalTypes"`
	ParamSets      int            `json:"paramSets"`
	Video          VideoStats     `json:"video"`
	Slices         SliceStats     `json:"slices"`
	RecoveryPoints int64          `json:"recoveryPoints,omitempty"`
	FirstTimecode  string         `json:"firstTimecode,omitempty"`
	LastTimecode   string         `json:"lastTimecode,omitempty"`
	Captions       CaptionStats   `json:"captions"`
	SyntaxErrors   int64          `json:"syntaxErrors"`
	Errors         []string       `json:"errors,omitempty"`
}

// Description returns a one-line summary such as
// "1920x1080 · 29.97 fps · CC (2 ch)".
func (r *Report) Description() string {
	var parts []string

	if r.Video.Width > 0 && r.Video.Height > 0 {
		res := fmt.Sprintf("%dx%d", r.Video.Width, r.Video.Height)
		if r.Video.Interlaced {
			res += "i"
		}
		parts = append(parts, res)
	}

	if r.Video.FrameRate > 0 {
		parts = append(parts, strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.3f", r.Video.FrameRate), "0"), ".")+" fps")
	}

	if r.Captions.TotalFrames > 0 {
		n := len(r.Captions.ActiveChannels)
		if n > 0 {
			parts = append(parts, fmt.Sprintf("CC (%d ch)", n))
		} else {
			parts = append(parts, "CC")
		}
	}

	if r.FirstTimecode != "" {
		parts = append(parts, "TC "+r.FirstTimecode)
	}

	return strings.Join(parts, " · ")
}

// Format writes a human-readable report.
func (r *Report) Format(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "%s (%s)\n", r.Name, r.Codec)
	if desc := r.Description(); desc != "" {
		fmt.Fprintf(&b, "  %s\n", desc)
	}
	if r.Video.CodecString != "" {
		fmt.Fprintf(&b, "  codec       %s, %d-bit\n", r.Video.CodecString, r.Video.BitDepth)
	}
	fmt.Fprintf(&b, "  size        %s in %s NAL units\n",
		humanize.Bytes(uint64(r.TotalBytes)), humanize.Comma(r.NALUnits))
	fmt.Fprintf(&b, "  emulation   %s prevention bytes\n", humanize.Comma(r.EPBBytes))
	fmt.Fprintf(&b, "  pictures    %s (%s keyframes, %s slices)\n",
		humanize.Comma(r.Slices.Pictures), humanize.Comma(r.Slices.Keyframes), humanize.Comma(r.Slices.Slices))
	if r.RecoveryPoints > 0 {
		fmt.Fprintf(&b, "  recovery    %s recovery point SEI\n", humanize.Comma(r.RecoveryPoints))
	}
	if r.FirstTimecode != "" {
		fmt.Fprintf(&b, "  timecode    %s - %s\n", r.FirstTimecode, r.LastTimecode)
	}
	if r.Captions.TotalFrames > 0 {
		fmt.Fprintf(&b, "  captions    %s frames on channels %v\n",
			humanize.Comma(r.Captions.TotalFrames), r.Captions.ActiveChannels)
	}

	b.WriteString("  NAL types\n")
	for _, t := range r.NALTypes {
		fmt.Fprintf(&b, "    %-12s %3d  %10s  %s\n",
			t.Name, t.Type, humanize.Comma(t.Count), humanize.Bytes(uint64(t.Bytes)))
	}

	if r.SyntaxErrors > 0 {
		fmt.Fprintf(&b, "  %s syntax errors\n", humanize.Comma(r.SyntaxErrors))
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "    %s\n", e)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
