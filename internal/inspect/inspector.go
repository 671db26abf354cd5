// Package inspect summarises H.264 and H.265 Annex B elementary streams:
// NAL unit census, parameter sets, picture structure, timecodes and
// closed captions.
package inspect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/zsiec/ccx"

	"github.com/zsiec/nalbits/demux"
	"github.com/zsiec/nalbits/nal"
)

const (
	maxErrors         = 16
	maxCaptionSamples = 8

	// context is checked once per this many NAL units
	ctxCheckInterval = 256
)

// Inspector produces Reports. It holds no per-stream state and is safe for
// concurrent use.
type Inspector struct {
	log *slog.Logger
}

// New creates an Inspector. A nil logger uses slog.Default().
func New(log *slog.Logger) *Inspector {
	if log == nil {
		log = slog.Default()
	}
	return &Inspector{log: log.With("component", "inspect")}
}

// Inspect walks every NAL unit in data. Syntax errors in individual units
// are counted in the report rather than returned; the only errors returned
// are an unknown codec and context cancellation.
func (in *Inspector) Inspect(ctx context.Context, name string, data []byte, codec Codec) (*Report, error) {
	var units []demux.NALUnit
	switch codec {
	case CodecH264:
		units = demux.ParseAnnexB(data)
	case CodecH265:
		units = demux.ParseAnnexBHEVC(data)
	default:
		return nil, fmt.Errorf("inspect: unknown codec %q", codec)
	}

	w := newWalker(name, codec, int64(len(data)), in.log.With("stream", name))
	for i, u := range units {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		w.count(u)
		if codec == CodecH264 {
			w.h264(u)
		} else {
			w.h265(u)
		}
	}
	w.finish()

	in.log.Debug("stream inspected",
		"stream", name,
		"codec", codec,
		"nalUnits", w.report.NALUnits,
		"pictures", w.report.Slices.Pictures,
		"syntaxErrors", w.report.SyntaxErrors,
	)
	return w.report, nil
}

// walker accumulates a Report for one stream.
type walker struct {
	log    *slog.Logger
	report *Report

	byType map[byte]*NALTypeStats

	ps     *demux.ParamSets
	hevcPS *demux.HEVCParamSets
	sps    demux.SPSInfo // most recently parsed H.264 SPS
	hasSPS bool

	captions *demux.CaptionDecoder
	channels map[int]bool
}

func newWalker(name string, codec Codec, size int64, log *slog.Logger) *walker {
	w := &walker{
		log: log,
		report: &Report{
			Name:       name,
			Codec:      codec,
			TotalBytes: size,
			Slices:     SliceStats{ByType: make(map[string]int64)},
		},
		byType:   make(map[byte]*NALTypeStats),
		captions: demux.NewCaptionDecoder(log),
		channels: make(map[int]bool),
	}
	if codec == CodecH264 {
		w.ps = demux.NewParamSets()
	} else {
		w.hevcPS = demux.NewHEVCParamSets()
	}
	return w
}

func (w *walker) count(u demux.NALUnit) {
	r := w.report
	r.NALUnits++

	_, epb := nal.ToRBSP(u.Data)
	r.EPBBytes += int64(epb)

	st, ok := w.byType[u.Type]
	if !ok {
		name := demux.NALTypeName(u.Type)
		if r.Codec == CodecH265 {
			name = demux.HEVCNALTypeName(u.Type)
		}
		st = &NALTypeStats{Type: u.Type, Name: name}
		w.byType[u.Type] = st
	}
	st.Count++
	st.Bytes += int64(len(u.Data))
}

func (w *walker) syntaxError(u demux.NALUnit, err error) {
	r := w.report
	r.SyntaxErrors++
	msg := fmt.Sprintf("NAL %d (type %d): %v", r.NALUnits-1, u.Type, err)
	if len(r.Errors) < maxErrors {
		r.Errors = append(r.Errors, msg)
	}
	var se *demux.SyntaxError
	if errors.As(err, &se) {
		w.log.Debug("syntax error", "nal", r.NALUnits-1, "type", u.Type, "element", se.Element, "error", se.Err)
	} else {
		w.log.Debug("syntax error", "nal", r.NALUnits-1, "type", u.Type, "error", err)
	}
}

func (w *walker) h264(u demux.NALUnit) {
	r := w.report
	switch {
	case demux.IsSPS(u.Type):
		sps, err := demux.ParseSPS(u.Data)
		if err != nil {
			w.syntaxError(u, err)
			return
		}
		w.ps.SPS[sps.ID] = sps
		w.sps, w.hasSPS = sps, true
		r.Video = VideoStats{
			CodecString: sps.CodecString(),
			Width:       sps.Width,
			Height:      sps.Height,
			ProfileIDC:  int(sps.ProfileIDC),
			LevelIDC:    int(sps.LevelIDC),
			BitDepth:    sps.BitDepthLuma,
			FrameRate:   sps.FrameRate(),
			Interlaced:  !sps.FrameMbsOnly,
		}

	case demux.IsPPS(u.Type):
		if err := w.ps.Update(u); err != nil {
			w.syntaxError(u, err)
		}

	case u.Type == demux.NALTypeSEI:
		w.sei(u)

	case demux.IsSlice(u.Type):
		h, err := demux.ParseSliceHeader(u.Data, w.ps)
		if err != nil {
			w.syntaxError(u, err)
			return
		}
		r.Slices.Slices++
		r.Slices.ByType[h.SliceTypeName()]++
		if h.FirstMbInSlice == 0 {
			w.newPicture(demux.IsKeyframe(u.Type))
		}
	}
}

func (w *walker) h265(u demux.NALUnit) {
	r := w.report
	switch {
	case demux.IsHEVCSPS(u.Type):
		sps, err := demux.ParseHEVCSPS(u.Data)
		if err != nil {
			w.syntaxError(u, err)
			return
		}
		w.hevcPS.SPS[sps.ID] = sps
		r.Video = VideoStats{
			CodecString: sps.CodecString(),
			Width:       sps.Width,
			Height:      sps.Height,
			ProfileIDC:  int(sps.ProfileIDC),
			LevelIDC:    int(sps.LevelIDC),
			BitDepth:    int(sps.BitDepthLumaMinus8) + 8,
		}

	case demux.IsHEVCPPS(u.Type):
		if err := w.hevcPS.Update(u); err != nil {
			w.syntaxError(u, err)
		}

	case demux.IsHEVCSEI(u.Type):
		w.hevcSEI(u)

	case demux.IsHEVCSlice(u.Type):
		h, err := demux.ParseHEVCSliceHeader(u.Data, w.hevcPS)
		if err != nil {
			w.syntaxError(u, err)
			return
		}
		r.Slices.Slices++
		if !h.Dependent {
			r.Slices.ByType[h.SliceTypeName()]++
		}
		if h.FirstSliceSegmentInPic {
			w.newPicture(demux.IsHEVCKeyframe(u.Type))
		}
	}
}

func (w *walker) newPicture(key bool) {
	r := w.report
	r.Slices.Pictures++
	if key {
		r.Slices.Keyframes++
	}
	w.captions.AdvanceFrame()
}

// pts returns the 90 kHz presentation time of the current picture, derived
// from the signalled frame rate or one tick per picture when there is none.
func (w *walker) pts() int64 {
	n := w.report.Slices.Pictures
	if fps := w.report.Video.FrameRate; fps > 0 {
		return int64(float64(n) * 90000 / fps)
	}
	return n
}

func (w *walker) sei(u demux.NALUnit) {
	msgs, err := demux.ParseSEI(u.Data)
	if err != nil {
		w.syntaxError(u, err)
	}
	w.seiMessages(u, msgs)
}

func (w *walker) hevcSEI(u demux.NALUnit) {
	msgs, err := demux.ParseHEVCSEI(u.Data)
	if err != nil {
		w.syntaxError(u, err)
	}
	w.seiMessages(u, msgs)
}

// seiMessages handles the messages parsed from u. Timecode parsers take the
// whole NAL unit, and captions are decoded at most once per NAL unit since
// ccx extracts every cc_data block in it.
func (w *walker) seiMessages(u demux.NALUnit, msgs []demux.SEIMessage) {
	h264 := w.report.Codec == CodecH264
	captions := false
	for _, m := range msgs {
		switch m.Type {
		case demux.SEIPicTiming:
			if !h264 || !w.hasSPS {
				continue
			}
			if tc, ok := demux.ParsePicTimingSEI(u.Data, w.sps); ok {
				w.timecode(tc)
			}
		case demux.SEIHEVCTimeCode:
			if h264 {
				continue
			}
			if tc, ok := demux.ParseHEVCTimeCodeSEI(u.Data); ok {
				w.timecode(tc)
			}
		case demux.SEIRecoveryPoint:
			if _, err := demux.ParseRecoveryPoint(m); err == nil {
				w.report.RecoveryPoints++
			}
		case demux.SEIUserDataRegistered:
			captions = captions || demux.HasA53Captions(m)
		}
	}
	if captions {
		w.addCaptions(w.captions.Decode(u.Data, w.pts()))
	}
}

func (w *walker) timecode(tc demux.Timecode) {
	s := tc.String()
	if w.report.FirstTimecode == "" {
		w.report.FirstTimecode = s
	}
	w.report.LastTimecode = s
}

func (w *walker) addCaptions(frames []*ccx.CaptionFrame) {
	c := &w.report.Captions
	for _, f := range frames {
		c.TotalFrames++
		w.channels[f.Channel] = true
		if f.Text != "" && len(c.Samples) < maxCaptionSamples {
			c.Samples = append(c.Samples, CaptionSample{Channel: f.Channel, Text: f.Text})
		}
	}
}

func (w *walker) finish() {
	r := w.report
	w.addCaptions(w.captions.Flush(w.pts()))

	if r.Codec == CodecH264 {
		r.ParamSets = len(w.ps.SPS) + len(w.ps.PPS)
	} else {
		r.ParamSets = len(w.hevcPS.SPS) + len(w.hevcPS.PPS)
	}

	r.Captions.DuplicateCtrl = int64(w.captions.Stats().DuplicateCtrl)
	r.Captions.ActiveChannels = make([]int, 0, len(w.channels))
	for ch := range w.channels {
		r.Captions.ActiveChannels = append(r.Captions.ActiveChannels, ch)
	}
	sort.Ints(r.Captions.ActiveChannels)

	r.NALTypes = make([]NALTypeStats, 0, len(w.byType))
	for _, st := range w.byType {
		r.NALTypes = append(r.NALTypes, *st)
	}
	sort.Slice(r.NALTypes, func(i, j int) bool { return r.NALTypes[i].Type < r.NALTypes[j].Type })
}
