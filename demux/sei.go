package demux

import (
	"fmt"

	"github.com/zsiec/nalbits/nal"
)

// SEI payload types used by this package (H.264 Annex D, H.265 Annex D).
const (
	SEIBufferingPeriod      = 0
	SEIPicTiming            = 1
	SEIUserDataRegistered   = 4
	SEIUserDataUnregistered = 5
	SEIRecoveryPoint        = 6
	SEIHEVCTimeCode         = 136
)

// SEIMessage is one sei_message() of an SEI NAL unit.
type SEIMessage struct {
	Type    int
	Size    int
	Payload []byte // payload bytes with emulation prevention removed

	// reader positioned at the first payload bit, inside the escaped NAL
	r nal.Reader
}

// reader returns a fresh cursor at the start of the payload. Parsing from it
// rather than from Payload keeps emulation prevention handled exactly once.
func (m *SEIMessage) reader() *syntaxReader {
	return &syntaxReader{r: m.r}
}

// Timecode represents a SMPTE 12M timecode extracted from an H.264 pic_timing
// or H.265 time_code SEI message.
type Timecode struct {
	Hours   int
	Minutes int
	Seconds int
	Frames  int
}

// String formats the timecode as HH:MM:SS:FF.
func (tc Timecode) String() string {
	return fmt.Sprintf("%02d:%02d:%02d:%02d", tc.Hours, tc.Minutes, tc.Seconds, tc.Frames)
}

// ParseSEI splits an H.264 SEI NAL unit (type 6) into its messages.
// Messages parsed before an error are returned along with it.
func ParseSEI(nalu []byte) ([]SEIMessage, error) {
	if len(nalu) < 2 {
		return nil, ErrNALTooShort
	}
	return parseSEIMessages(nalu[1:])
}

// ParseHEVCSEI splits an H.265 prefix or suffix SEI NAL unit into its
// messages.
func ParseHEVCSEI(nalu []byte) ([]SEIMessage, error) {
	if len(nalu) < 3 {
		return nil, ErrNALTooShort
	}
	return parseSEIMessages(nalu[2:])
}

func parseSEIMessages(rbsp []byte) ([]SEIMessage, error) {
	s := newSyntaxReader(rbsp)
	var msgs []SEIMessage

	for s.r.HasMoreRBSPData() {
		payloadType := s.ff("last_payload_type_byte")
		payloadSize := s.ff("last_payload_size_byte")
		if s.err != nil {
			return msgs, s.err
		}
		if payloadSize*8 > s.r.Remaining() {
			return msgs, &SyntaxError{Element: "sei_payload", Err: nal.ErrInsufficientData}
		}

		msg := SEIMessage{Type: payloadType, Size: payloadSize, r: s.r}
		msg.Payload = make([]byte, 0, payloadSize)
		for i := 0; i < payloadSize && s.err == nil; i++ {
			msg.Payload = append(msg.Payload, byte(s.u(8, "sei_payload")))
		}
		if s.err != nil {
			return msgs, s.err
		}
		msgs = append(msgs, msg)
	}

	return msgs, nil
}

// ff reads a value coded as a run of 0xFF bytes plus a final byte, the
// encoding of SEI payload type and size.
func (s *syntaxReader) ff(element string) int {
	v := 0
	for s.err == nil {
		b := s.u(8, element)
		v += int(b)
		if b != 0xFF {
			break
		}
	}
	return v
}

// ParsePicTimingSEI extracts a SMPTE 12M timecode from an H.264 pic_timing
// SEI message. Returns the timecode and true if extraction succeeded, or a
// zero value and false if the SEI doesn't contain valid clock timestamps.
// The SPS must signal pic_struct_present_flag; its HRD delay lengths are
// used to step over the leading delay fields.
func ParsePicTimingSEI(seiNALU []byte, sps SPSInfo) (Timecode, bool) {
	if len(seiNALU) < 2 || !sps.PicStructPresent {
		return Timecode{}, false
	}

	msgs, _ := ParseSEI(seiNALU)
	for i := range msgs {
		if msgs[i].Type != SEIPicTiming {
			continue
		}
		if tc, ok := parsePicTimingPayload(msgs[i].reader(), sps); ok {
			return tc, true
		}
	}
	return Timecode{}, false
}

func parsePicTimingPayload(s *syntaxReader, sps SPSInfo) (Timecode, bool) {
	if sps.HRDPresent {
		s.skip(sps.CpbRemovalDelayLen, "cpb_removal_delay")
		s.skip(sps.DpbOutputDelayLen, "dpb_output_delay")
	}

	picStruct := s.u(4, "pic_struct")
	if s.err != nil {
		return Timecode{}, false
	}

	numClockTS := 1
	switch picStruct {
	case 3, 4:
		numClockTS = 2
	case 5, 6, 7, 8:
		numClockTS = 3
	}

	for c := 0; c < numClockTS; c++ {
		if !s.flag("clock_timestamp_flag") {
			if s.err != nil {
				return Timecode{}, false
			}
			continue
		}

		s.skip(2, "ct_type")
		s.skip(1, "nuit_field_based_flag")
		s.skip(5, "counting_type")
		fullTS := s.flag("full_timestamp_flag")
		s.skip(1, "discontinuity_flag")
		s.skip(1, "cnt_dropped_flag")
		nFrames := s.u(8, "n_frames")

		tc := s.clockTime(fullTS)
		tc.Frames = int(nFrames)

		if sps.TimeOffsetLen > 0 {
			s.skip(sps.TimeOffsetLen, "time_offset")
		}
		if s.err != nil {
			return Timecode{}, false
		}
		return tc, true
	}

	return Timecode{}, false
}

// clockTime reads the seconds/minutes/hours tail shared by the H.264 and
// H.265 clock timestamp syntax.
func (s *syntaxReader) clockTime(fullTS bool) Timecode {
	var tc Timecode
	if fullTS {
		tc.Seconds = int(s.u(6, "seconds_value"))
		tc.Minutes = int(s.u(6, "minutes_value"))
		tc.Hours = int(s.u(5, "hours_value"))
		return tc
	}
	if s.flag("seconds_flag") {
		tc.Seconds = int(s.u(6, "seconds_value"))
		if s.flag("minutes_flag") {
			tc.Minutes = int(s.u(6, "minutes_value"))
			if s.flag("hours_flag") {
				tc.Hours = int(s.u(5, "hours_value"))
			}
		}
	}
	return tc
}

// ParseHEVCTimeCodeSEI extracts the first clock timestamp of an H.265
// time_code SEI message (payload type 136). Unlike H.264 pic_timing it is
// self-describing and needs no SPS.
func ParseHEVCTimeCodeSEI(seiNALU []byte) (Timecode, bool) {
	msgs, _ := ParseHEVCSEI(seiNALU)
	for i := range msgs {
		if msgs[i].Type != SEIHEVCTimeCode {
			continue
		}
		s := msgs[i].reader()
		numClockTS := int(s.u(2, "num_clock_ts"))
		for c := 0; c < numClockTS && s.err == nil; c++ {
			if !s.flag("clock_timestamp_flag") {
				continue
			}
			s.skip(1, "units_field_based_flag")
			s.skip(5, "counting_type")
			fullTS := s.flag("full_timestamp_flag")
			s.skip(1, "discontinuity_flag")
			s.skip(1, "cnt_dropped_flag")
			nFrames := s.u(9, "n_frames")
			tc := s.clockTime(fullTS)
			tc.Frames = int(nFrames)
			if s.err != nil {
				break
			}
			return tc, true
		}
	}
	return Timecode{}, false
}

// RecoveryPoint is an H.264 recovery_point SEI message. Streams without IDR
// pictures use it to mark random access points.
type RecoveryPoint struct {
	RecoveryFrameCnt     uint32
	ExactMatch           bool
	BrokenLink           bool
	ChangingSliceGroupID uint32
}

// ParseRecoveryPoint decodes a recovery_point SEI message.
func ParseRecoveryPoint(m SEIMessage) (RecoveryPoint, error) {
	if m.Type != SEIRecoveryPoint {
		return RecoveryPoint{}, fmt.Errorf("%w: sei payload type %d", ErrUnsupportedValue, m.Type)
	}
	s := m.reader()
	rp := RecoveryPoint{
		RecoveryFrameCnt: s.ue("recovery_frame_cnt"),
		ExactMatch:       s.flag("exact_match_flag"),
		BrokenLink:       s.flag("broken_link_flag"),
	}
	rp.ChangingSliceGroupID = s.u(2, "changing_slice_group_idc")
	if s.err != nil {
		return RecoveryPoint{}, s.err
	}
	return rp, nil
}

// HasA53Captions reports whether m is a user_data_registered_itu_t_t35
// message carrying ATSC A/53 cc_data with at least one valid, non-null
// caption pair.
func HasA53Captions(m SEIMessage) bool {
	p := m.Payload
	if m.Type != SEIUserDataRegistered || len(p) < 10 {
		return false
	}
	// country US, provider ATSC, identifier GA94, cc_data
	if p[0] != 0xB5 || p[1] != 0x00 || p[2] != 0x31 {
		return false
	}
	if string(p[3:7]) != "GA94" || p[7] != 0x03 {
		return false
	}
	if p[8]&0x40 == 0 { // process_cc_data_flag
		return false
	}

	ccCount := int(p[8] & 0x1F)
	if 10+ccCount*3 > len(p) {
		return false
	}
	for j := 0; j < ccCount; j++ {
		off := 10 + j*3
		if p[off]&0x04 == 0 { // cc_valid
			continue
		}
		if p[off+1]&0x7F != 0 || p[off+2]&0x7F != 0 {
			return true
		}
	}
	return false
}
