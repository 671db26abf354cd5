package demux

import (
	"fmt"
	"math/bits"

	"github.com/zsiec/nalbits/nal"
)

// H.265/HEVC NAL unit type constants as defined in ITU-T H.265 Table 7-1.
const (
	HEVCNALTrailN     = 0
	HEVCNALTrailR     = 1
	HEVCNALRaslR      = 9
	HEVCNALBlaWLP     = 16
	HEVCNALBlaWRadl   = 17
	HEVCNALBlaNLP     = 18
	HEVCNALIDRWRadl   = 19
	HEVCNALIDRNlp     = 20
	HEVCNALCraNut     = 21
	HEVCNALIRAPMax    = 23
	HEVCNALVPS        = 32
	HEVCNALSPS        = 33
	HEVCNALPPS        = 34
	HEVCNALAUD        = 35
	HEVCNALEOS        = 36
	HEVCNALEOB        = 37
	HEVCNALFillerData = 38
	HEVCNALSEIPrefix  = 39
	HEVCNALSEISuffix  = 40
)

var hevcNALNames = map[byte]string{
	0: "TRAIL_N", 1: "TRAIL_R", 2: "TSA_N", 3: "TSA_R", 4: "STSA_N", 5: "STSA_R",
	6: "RADL_N", 7: "RADL_R", 8: "RASL_N", 9: "RASL_R",
	HEVCNALBlaWLP:     "BLA_W_LP",
	HEVCNALBlaWRadl:   "BLA_W_RADL",
	HEVCNALBlaNLP:     "BLA_N_LP",
	HEVCNALIDRWRadl:   "IDR_W_RADL",
	HEVCNALIDRNlp:     "IDR_N_LP",
	HEVCNALCraNut:     "CRA",
	HEVCNALVPS:        "VPS",
	HEVCNALSPS:        "SPS",
	HEVCNALPPS:        "PPS",
	HEVCNALAUD:        "AUD",
	HEVCNALEOS:        "EOS",
	HEVCNALEOB:        "EOB",
	HEVCNALFillerData: "FILLER",
	HEVCNALSEIPrefix:  "SEI_PREFIX",
	HEVCNALSEISuffix:  "SEI_SUFFIX",
}

// HEVCNALTypeName returns a short name for an H.265 NAL unit type, or
// "TYPE_<n>" for reserved and unspecified types.
func HEVCNALTypeName(nalType byte) string {
	if name, ok := hevcNALNames[nalType]; ok {
		return name
	}
	return fmt.Sprintf("TYPE_%d", nalType)
}

// HEVCNALType extracts the NAL unit type from the first byte of an HEVC
// 2-byte NAL header: forbidden(1) | type(6) | layerID_high(1).
func HEVCNALType(firstByte byte) byte {
	return (firstByte >> 1) & 0x3F
}

// IsHEVCKeyframe returns true if the NAL type represents an HEVC random access
// point (BLA, IDR, or CRA).
func IsHEVCKeyframe(nalType byte) bool {
	return nalType >= HEVCNALBlaWLP && nalType <= HEVCNALCraNut
}

// IsHEVCSlice returns true for the coded slice segment NAL types.
func IsHEVCSlice(nalType byte) bool {
	return nalType <= HEVCNALRaslR || (nalType >= HEVCNALBlaWLP && nalType <= HEVCNALCraNut)
}

// IsHEVCVPS returns true if the NAL type is a Video Parameter Set.
func IsHEVCVPS(nalType byte) bool { return nalType == HEVCNALVPS }

// IsHEVCSPS returns true if the NAL type is a Sequence Parameter Set.
func IsHEVCSPS(nalType byte) bool { return nalType == HEVCNALSPS }

// IsHEVCPPS returns true if the NAL type is a Picture Parameter Set.
func IsHEVCPPS(nalType byte) bool { return nalType == HEVCNALPPS }

// IsHEVCSEI returns true for prefix and suffix SEI NAL types.
func IsHEVCSEI(nalType byte) bool {
	return nalType == HEVCNALSEIPrefix || nalType == HEVCNALSEISuffix
}

// HEVCSPSInfo holds parameters extracted from an HEVC SPS NAL unit.
type HEVCSPSInfo struct {
	ID           uint32
	VPSID        byte
	MaxSubLayers int

	Width      int
	Height     int
	ProfileIDC byte
	TierFlag   byte
	LevelIDC   byte

	ProfileCompatibilityFlags uint32
	ConstraintIndicatorFlags  uint64

	ChromaFormatIdc      byte
	SeparateColourPlane  bool
	BitDepthLumaMinus8   byte
	BitDepthChromaMinus8 byte

	// Picture size before the conformance window is applied.
	CodedWidth  int
	CodedHeight int

	Log2MaxPicOrderCntLsb int
	Log2MinCbSize         int
	CtbLog2Size           int // 0 when the SPS ended before the coding block sizes
}

// CodecString returns the RFC 6381 codec parameter string (e.g.
// "hev1.1.6.L93.B0") for use in WebCodecs configuration and MIME types.
func (s HEVCSPSInfo) CodecString() string {
	tier := "L"
	if s.TierFlag == 1 {
		tier = "H"
	}

	reversed := bits.Reverse32(s.ProfileCompatibilityFlags)

	// Build constraint bytes (6 bytes from the 48-bit field), trim trailing zeros
	var constraintBytes [6]byte
	for i := 0; i < 6; i++ {
		constraintBytes[i] = byte((s.ConstraintIndicatorFlags >> uint((5-i)*8)) & 0xFF)
	}
	lastNonZero := -1
	for i := 5; i >= 0; i-- {
		if constraintBytes[i] != 0 {
			lastNonZero = i
			break
		}
	}

	codec := fmt.Sprintf("hev1.%d.%X.%s%d", s.ProfileIDC, reversed, tier, s.LevelIDC)
	for i := 0; i <= lastNonZero; i++ {
		codec += fmt.Sprintf(".%X", constraintBytes[i])
	}
	return codec
}

// PicSizeInCtbs returns PicSizeInCtbsY, the number of coding tree blocks in
// a picture, or 0 if the SPS did not carry the coding block sizes.
func (s HEVCSPSInfo) PicSizeInCtbs() uint32 {
	if s.CtbLog2Size == 0 {
		return 0
	}
	ctb := 1 << s.CtbLog2Size
	w := (s.CodedWidth + ctb - 1) / ctb
	h := (s.CodedHeight + ctb - 1) / ctb
	return uint32(w * h)
}

// ParseHEVCSPS parses an HEVC SPS NAL unit to extract resolution,
// profile/tier/level and coding block geometry. The input should be the raw
// NAL data including the 2-byte NAL header. Everything up to the picture
// size is required; later fields are filled in as far as the data allows.
func ParseHEVCSPS(nalu []byte) (HEVCSPSInfo, error) {
	if len(nalu) < 4 {
		return HEVCSPSInfo{}, ErrNALTooShort
	}

	s := newSyntaxReader(nalu[2:])
	info := HEVCSPSInfo{}

	info.VPSID = byte(s.u(4, "sps_video_parameter_set_id"))
	maxSubLayersMinus1 := int(s.u(3, "sps_max_sub_layers_minus1"))
	info.MaxSubLayers = maxSubLayersMinus1 + 1
	s.skip(1, "sps_temporal_id_nesting_flag")

	parseHEVCProfileTierLevel(s, &info, maxSubLayersMinus1)

	info.ID = s.ueMax(15, "sps_seq_parameter_set_id")
	info.ChromaFormatIdc = byte(s.ueMax(3, "chroma_format_idc"))
	if info.ChromaFormatIdc == 3 {
		info.SeparateColourPlane = s.flag("separate_colour_plane_flag")
	}

	info.CodedWidth = int(s.ue("pic_width_in_luma_samples"))
	info.CodedHeight = int(s.ue("pic_height_in_luma_samples"))
	if s.err != nil {
		return HEVCSPSInfo{}, s.err
	}
	info.Width = info.CodedWidth
	info.Height = info.CodedHeight

	parseHEVCSPSTail(s, &info, maxSubLayersMinus1)
	return info, nil
}

// parseHEVCSPSTail fills in the optional part of info, stopping quietly at
// the first read that fails.
func parseHEVCSPSTail(s *syntaxReader, info *HEVCSPSInfo, maxSubLayersMinus1 int) {
	if s.flag("conformance_window_flag") {
		left := int(s.ue("conf_win_left_offset"))
		right := int(s.ue("conf_win_right_offset"))
		top := int(s.ue("conf_win_top_offset"))
		bottom := int(s.ue("conf_win_bottom_offset"))
		if s.err != nil {
			return
		}

		subWidthC, subHeightC := 1, 1
		if !info.SeparateColourPlane {
			switch info.ChromaFormatIdc {
			case 1:
				subWidthC, subHeightC = 2, 2
			case 2:
				subWidthC, subHeightC = 2, 1
			}
		}

		info.Width -= (left + right) * subWidthC
		info.Height -= (top + bottom) * subHeightC
	}

	bdl := s.ueMax(8, "bit_depth_luma_minus8")
	bdc := s.ueMax(8, "bit_depth_chroma_minus8")
	if s.err != nil {
		return
	}
	info.BitDepthLumaMinus8 = byte(bdl)
	info.BitDepthChromaMinus8 = byte(bdc)

	log2Poc := s.ueMax(12, "log2_max_pic_order_cnt_lsb_minus4")
	if s.err != nil {
		return
	}
	info.Log2MaxPicOrderCntLsb = int(log2Poc) + 4

	first := maxSubLayersMinus1
	if s.flag("sps_sub_layer_ordering_info_present_flag") {
		first = 0
	}
	for i := first; i <= maxSubLayersMinus1 && s.err == nil; i++ {
		s.ue("sps_max_dec_pic_buffering_minus1")
		s.ue("sps_max_num_reorder_pics")
		s.ue("sps_max_latency_increase_plus1")
	}

	minCb := s.ueMax(3, "log2_min_luma_coding_block_size_minus3")
	diff := s.ueMax(3, "log2_diff_max_min_luma_coding_block_size")
	if s.err != nil {
		return
	}
	info.Log2MinCbSize = int(minCb) + 3
	info.CtbLog2Size = info.Log2MinCbSize + int(diff)
}

func parseHEVCProfileTierLevel(s *syntaxReader, info *HEVCSPSInfo, maxSubLayersMinus1 int) {
	s.skip(2, "general_profile_space")
	info.TierFlag = byte(s.u(1, "general_tier_flag"))
	info.ProfileIDC = byte(s.u(5, "general_profile_idc"))
	info.ProfileCompatibilityFlags = s.u(32, "general_profile_compatibility_flags")

	hi := s.u(16, "general_constraint_indicator_flags")
	lo := s.u(32, "general_constraint_indicator_flags")
	info.ConstraintIndicatorFlags = uint64(hi)<<32 | uint64(lo)

	info.LevelIDC = byte(s.u(8, "general_level_idc"))

	if maxSubLayersMinus1 == 0 {
		return
	}

	var profilePresent, levelPresent [8]bool
	for i := 0; i < maxSubLayersMinus1; i++ {
		profilePresent[i] = s.flag("sub_layer_profile_present_flag")
		levelPresent[i] = s.flag("sub_layer_level_present_flag")
	}
	for i := maxSubLayersMinus1; i < 8; i++ {
		s.skip(2, "reserved_zero_2bits")
	}
	for i := 0; i < maxSubLayersMinus1; i++ {
		if profilePresent[i] {
			// space, tier, idc, compatibility and constraint flags
			s.skip(88, "sub_layer_profile")
		}
		if levelPresent[i] {
			s.skip(8, "sub_layer_level_idc")
		}
	}
}

// HEVCPPSInfo holds the leading fields of an HEVC Picture Parameter Set.
type HEVCPPSInfo struct {
	ID                      uint32
	SPSID                   uint32
	DependentSliceSegments  bool
	OutputFlagPresent       bool
	NumExtraSliceHeaderBits int
	SignDataHiding          bool
	CabacInitPresent        bool
	NumRefIdxL0Active       uint32
	NumRefIdxL1Active       uint32
	InitQP                  int32
	ConstrainedIntraPred    bool
	TransformSkip           bool
	CuQPDeltaDepth          uint32
	CbQPOffset              int32
	CrQPOffset              int32
	WeightedPred            bool
	WeightedBipred          bool
	TransquantBypass        bool
	TilesEnabled            bool
	EntropyCodingSync       bool
}

// ParseHEVCPPS parses an HEVC PPS NAL unit up to the tiles and wavefront
// flags.
func ParseHEVCPPS(nalu []byte) (HEVCPPSInfo, error) {
	if len(nalu) < 3 {
		return HEVCPPSInfo{}, ErrNALTooShort
	}

	s := newSyntaxReader(nalu[2:])
	var info HEVCPPSInfo

	info.ID = s.ueMax(63, "pps_pic_parameter_set_id")
	info.SPSID = s.ueMax(15, "pps_seq_parameter_set_id")
	info.DependentSliceSegments = s.flag("dependent_slice_segments_enabled_flag")
	info.OutputFlagPresent = s.flag("output_flag_present_flag")
	info.NumExtraSliceHeaderBits = int(s.u(3, "num_extra_slice_header_bits"))
	info.SignDataHiding = s.flag("sign_data_hiding_enabled_flag")
	info.CabacInitPresent = s.flag("cabac_init_present_flag")
	info.NumRefIdxL0Active = s.ueMax(14, "num_ref_idx_l0_default_active_minus1") + 1
	info.NumRefIdxL1Active = s.ueMax(14, "num_ref_idx_l1_default_active_minus1") + 1
	info.InitQP = 26 + s.se("init_qp_minus26")
	info.ConstrainedIntraPred = s.flag("constrained_intra_pred_flag")
	info.TransformSkip = s.flag("transform_skip_enabled_flag")
	if s.flag("cu_qp_delta_enabled_flag") {
		info.CuQPDeltaDepth = s.ue("diff_cu_qp_delta_depth")
	}
	info.CbQPOffset = s.se("pps_cb_qp_offset")
	info.CrQPOffset = s.se("pps_cr_qp_offset")
	s.skip(1, "pps_slice_chroma_qp_offsets_present_flag")
	info.WeightedPred = s.flag("weighted_pred_flag")
	info.WeightedBipred = s.flag("weighted_bipred_flag")
	info.TransquantBypass = s.flag("transquant_bypass_enabled_flag")
	info.TilesEnabled = s.flag("tiles_enabled_flag")
	info.EntropyCodingSync = s.flag("entropy_coding_sync_enabled_flag")

	if s.err != nil {
		return HEVCPPSInfo{}, s.err
	}
	return info, nil
}

// HEVC slice types from Table 7-7.
const (
	HEVCSliceTypeB = 0
	HEVCSliceTypeP = 1
	HEVCSliceTypeI = 2
)

// HEVCSliceHeader holds the leading fields of an HEVC slice segment header.
type HEVCSliceHeader struct {
	NALType                byte
	TemporalID             byte
	FirstSliceSegmentInPic bool
	NoOutputOfPriorPics    bool
	PPSID                  uint32
	Dependent              bool
	SegmentAddress         uint32
	SliceType              uint32 // only set for independent segments
	PicOutput              bool
	ColourPlaneID          uint32
	PicOrderCntLsb         uint32
}

// SliceTypeName returns "B", "P" or "I".
func (h HEVCSliceHeader) SliceTypeName() string {
	switch h.SliceType {
	case HEVCSliceTypeB:
		return "B"
	case HEVCSliceTypeP:
		return "P"
	default:
		return "I"
	}
}

// ParseHEVCSliceHeader parses the start of an HEVC slice segment NAL unit.
// The PPS and SPS it refers to must already be in ps.
func ParseHEVCSliceHeader(nalu []byte, ps *HEVCParamSets) (HEVCSliceHeader, error) {
	if len(nalu) < 3 {
		return HEVCSliceHeader{}, ErrNALTooShort
	}

	h := HEVCSliceHeader{
		NALType:   HEVCNALType(nalu[0]),
		PicOutput: true,
	}
	if tid := nalu[1] & 0x07; tid > 0 {
		h.TemporalID = tid - 1
	}
	s := newSyntaxReader(nalu[2:])

	h.FirstSliceSegmentInPic = s.flag("first_slice_segment_in_pic_flag")
	if h.NALType >= HEVCNALBlaWLP && h.NALType <= HEVCNALIRAPMax {
		h.NoOutputOfPriorPics = s.flag("no_output_of_prior_pics_flag")
	}
	h.PPSID = s.ueMax(63, "slice_pic_parameter_set_id")
	if s.err != nil {
		return HEVCSliceHeader{}, s.err
	}

	pps, sps, err := ps.lookup(h.PPSID)
	if err != nil {
		return HEVCSliceHeader{}, err
	}

	if !h.FirstSliceSegmentInPic {
		if pps.DependentSliceSegments {
			h.Dependent = s.flag("dependent_slice_segment_flag")
		}
		ctbs := sps.PicSizeInCtbs()
		if ctbs == 0 {
			return HEVCSliceHeader{}, fmt.Errorf("%w: sps %d has no coding block size", ErrUnsupportedValue, sps.ID)
		}
		h.SegmentAddress = s.u(int(nal.CeilLog2(ctbs)), "slice_segment_address")
	}

	if !h.Dependent {
		s.skip(pps.NumExtraSliceHeaderBits, "slice_reserved_flag")
		h.SliceType = s.ueMax(2, "slice_type")
		if pps.OutputFlagPresent {
			h.PicOutput = s.flag("pic_output_flag")
		}
		if sps.SeparateColourPlane {
			h.ColourPlaneID = s.u(2, "colour_plane_id")
		}
		if h.NALType != HEVCNALIDRWRadl && h.NALType != HEVCNALIDRNlp && sps.Log2MaxPicOrderCntLsb > 0 {
			h.PicOrderCntLsb = s.u(sps.Log2MaxPicOrderCntLsb, "slice_pic_order_cnt_lsb")
		}
	}

	if s.err != nil {
		return HEVCSliceHeader{}, s.err
	}
	return h, nil
}

// HEVCParamSets tracks the active H.265 parameter sets of a stream by id.
// It is not safe for concurrent use.
type HEVCParamSets struct {
	SPS map[uint32]HEVCSPSInfo
	PPS map[uint32]HEVCPPSInfo
}

// NewHEVCParamSets returns an empty HEVCParamSets.
func NewHEVCParamSets() *HEVCParamSets {
	return &HEVCParamSets{
		SPS: make(map[uint32]HEVCSPSInfo),
		PPS: make(map[uint32]HEVCPPSInfo),
	}
}

// Update parses an SPS or PPS NAL unit and stores it. Other NAL types are
// ignored.
func (ps *HEVCParamSets) Update(nalu NALUnit) error {
	switch nalu.Type {
	case HEVCNALSPS:
		info, err := ParseHEVCSPS(nalu.Data)
		if err != nil {
			return err
		}
		ps.SPS[info.ID] = info
	case HEVCNALPPS:
		info, err := ParseHEVCPPS(nalu.Data)
		if err != nil {
			return err
		}
		ps.PPS[info.ID] = info
	}
	return nil
}

func (ps *HEVCParamSets) lookup(ppsID uint32) (HEVCPPSInfo, HEVCSPSInfo, error) {
	if ps == nil {
		return HEVCPPSInfo{}, HEVCSPSInfo{}, fmt.Errorf("%w: pps %d", ErrUnknownParamSet, ppsID)
	}
	pps, ok := ps.PPS[ppsID]
	if !ok {
		return HEVCPPSInfo{}, HEVCSPSInfo{}, fmt.Errorf("%w: pps %d", ErrUnknownParamSet, ppsID)
	}
	sps, ok := ps.SPS[pps.SPSID]
	if !ok {
		return HEVCPPSInfo{}, HEVCSPSInfo{}, fmt.Errorf("%w: sps %d", ErrUnknownParamSet, pps.SPSID)
	}
	return pps, sps, nil
}
