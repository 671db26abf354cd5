package demux

import (
	"log/slog"

	"github.com/zsiec/ccx"
)

// CaptionStats counts what a CaptionDecoder has seen.
type CaptionStats struct {
	CC608Pairs    int
	DuplicateCtrl int
	DTVCCPackets  int
	Frames608     int
	Frames708     int
}

// CaptionDecoder turns the A/53 cc_data carried in SEI NAL units into
// caption frames. CEA-608 pairs go to one decoder per channel (CC1-CC4) and
// CEA-708 service blocks to one service per service number (1-6). Frames
// from 708 services are reported on channels 7-12.
//
// A CaptionDecoder holds state across access units and is not safe for
// concurrent use.
type CaptionDecoder struct {
	log *slog.Logger

	cea608Decs map[int]*ccx.CEA608Decoder
	cea708Svcs map[int]*ccx.CEA708Service
	dtvccBuf   []byte

	// Control codes are transmitted twice for robustness; the repeat is
	// dropped when it arrives within two frames on the same field.
	frame           int64
	lastCCCtrl      [2][2]byte
	lastCCWasCtrl   [2]bool
	lastCCCtrlFrame [2]int64

	stats CaptionStats
}

// NewCaptionDecoder creates a decoder. A nil logger uses slog.Default().
func NewCaptionDecoder(log *slog.Logger) *CaptionDecoder {
	if log == nil {
		log = slog.Default()
	}
	d := &CaptionDecoder{
		log:        log.With("component", "captions"),
		cea608Decs: make(map[int]*ccx.CEA608Decoder, 4),
		cea708Svcs: make(map[int]*ccx.CEA708Service, 6),
	}
	for ch := 1; ch <= 4; ch++ {
		d.cea608Decs[ch] = ccx.NewCEA608Decoder()
	}
	for svc := 1; svc <= 6; svc++ {
		d.cea708Svcs[svc] = ccx.NewCEA708Service()
	}
	return d
}

// AdvanceFrame marks the start of a new picture. Duplicate control code
// detection is measured in frames.
func (d *CaptionDecoder) AdvanceFrame() {
	d.frame++
}

// Stats returns the counters accumulated so far.
func (d *CaptionDecoder) Stats() CaptionStats {
	return d.stats
}

// Decode extracts caption data from an SEI NAL unit (header included) and
// returns any caption frames it completes, stamped with pts.
func (d *CaptionDecoder) Decode(seiNALU []byte, pts int64) []*ccx.CaptionFrame {
	cd := ccx.ExtractCaptions(seiNALU)
	if cd == nil {
		return nil
	}

	var frames []*ccx.CaptionFrame
	for _, pair := range cd.CC608Pairs {
		cc1, cc2 := pair.Data[0], pair.Data[1]
		f := pair.Field
		if f < 0 || f > 1 {
			continue
		}
		d.stats.CC608Pairs++

		isCtrl := cc1 >= 0x10 && cc1 <= 0x1F
		if isCtrl {
			cp := [2]byte{cc1, cc2}
			frameGap := d.frame - d.lastCCCtrlFrame[f]
			if d.lastCCWasCtrl[f] && d.lastCCCtrl[f] == cp && frameGap <= 2 {
				d.lastCCWasCtrl[f] = false
				d.stats.DuplicateCtrl++
				continue
			}
			d.lastCCCtrl[f] = cp
			d.lastCCWasCtrl[f] = true
			d.lastCCCtrlFrame[f] = d.frame
		} else {
			d.lastCCWasCtrl[f] = false
		}

		dec := d.cea608Decs[pair.Channel]
		if dec == nil {
			continue
		}
		if text := dec.Decode(cc1, cc2); text != "" {
			frame := &ccx.CaptionFrame{PTS: pts, Text: text, Channel: pair.Channel}
			frame.Regions = dec.StyledRegions()
			frames = append(frames, frame)
			d.stats.Frames608++
		}
	}

	for _, t := range cd.DTVCC {
		if t.Start {
			frames = append(frames, d.drainDTVCC(pts)...)
			d.dtvccBuf = d.dtvccBuf[:0]
		}
		d.dtvccBuf = append(d.dtvccBuf, t.Data[0], t.Data[1])
	}

	return frames
}

// Flush decodes a DTVCC packet still buffered at end of stream.
func (d *CaptionDecoder) Flush(pts int64) []*ccx.CaptionFrame {
	frames := d.drainDTVCC(pts)
	d.dtvccBuf = d.dtvccBuf[:0]
	return frames
}

func (d *CaptionDecoder) drainDTVCC(pts int64) []*ccx.CaptionFrame {
	if len(d.dtvccBuf) < 1 {
		return nil
	}

	packetSize := ccx.DTVCCPacketSize(d.dtvccBuf[0])
	if len(d.dtvccBuf) < packetSize {
		d.log.Debug("dropping short DTVCC packet", "have", len(d.dtvccBuf), "want", packetSize)
		return nil
	}
	d.stats.DTVCCPackets++

	var frames []*ccx.CaptionFrame
	for _, block := range ccx.ParseDTVCCPacket(d.dtvccBuf[:packetSize]) {
		svc := d.cea708Svcs[block.ServiceNum]
		if svc == nil {
			continue
		}
		if svc.ProcessBlock(block.Data) {
			if text := svc.DisplayText(); text != "" {
				channel := block.ServiceNum + 6
				frame := &ccx.CaptionFrame{PTS: pts, Text: text, Channel: channel}
				frame.Regions = svc.StyledRegions()
				frames = append(frames, frame)
				d.stats.Frames708++
			}
		}
	}
	d.dtvccBuf = d.dtvccBuf[packetSize:]
	return frames
}
