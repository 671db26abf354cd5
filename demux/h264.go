package demux

import (
	"fmt"

	"github.com/zsiec/nalbits/nal"
)

// H.264 NAL unit type constants as defined in ITU-T H.264 Table 7-1.
const (
	NALTypeSlice       = 1
	NALTypeSliceDPA    = 2
	NALTypeSliceDPB    = 3
	NALTypeSliceDPC    = 4
	NALTypeIDR         = 5
	NALTypeSEI         = 6
	NALTypeSPS         = 7
	NALTypePPS         = 8
	NALTypeAUD         = 9
	NALTypeEndOfSeq    = 10
	NALTypeEndOfStream = 11
	NALTypeFillerData  = 12
	NALTypeSPSExt      = 13
	NALTypePrefix      = 14
	NALTypeSubsetSPS   = 15
	NALTypeAuxSlice    = 19
	NALTypeSliceExt    = 20
)

var h264NALNames = map[byte]string{
	NALTypeSlice:       "SLICE",
	NALTypeSliceDPA:    "SLICE_DPA",
	NALTypeSliceDPB:    "SLICE_DPB",
	NALTypeSliceDPC:    "SLICE_DPC",
	NALTypeIDR:         "IDR",
	NALTypeSEI:         "SEI",
	NALTypeSPS:         "SPS",
	NALTypePPS:         "PPS",
	NALTypeAUD:         "AUD",
	NALTypeEndOfSeq:    "END_OF_SEQ",
	NALTypeEndOfStream: "END_OF_STREAM",
	NALTypeFillerData:  "FILLER",
	NALTypeSPSExt:      "SPS_EXT",
	NALTypePrefix:      "PREFIX",
	NALTypeSubsetSPS:   "SUBSET_SPS",
	NALTypeAuxSlice:    "AUX_SLICE",
	NALTypeSliceExt:    "SLICE_EXT",
}

// NALTypeName returns a short name for an H.264 NAL unit type, or
// "TYPE_<n>" for reserved and unspecified types.
func NALTypeName(nalType byte) string {
	if name, ok := h264NALNames[nalType]; ok {
		return name
	}
	return fmt.Sprintf("TYPE_%d", nalType)
}

// IsKeyframe returns true if the NAL type is an IDR slice (type 5).
func IsKeyframe(nalType byte) bool {
	return nalType == NALTypeIDR
}

// IsSPS returns true if the NAL type is SPS (type 7).
func IsSPS(nalType byte) bool {
	return nalType == NALTypeSPS
}

// IsPPS returns true if the NAL type is PPS (type 8).
func IsPPS(nalType byte) bool {
	return nalType == NALTypePPS
}

// IsSlice returns true for the coded slice NAL types 1 through 5.
func IsSlice(nalType byte) bool {
	return nalType >= NALTypeSlice && nalType <= NALTypeIDR
}

// SPSInfo holds parameters extracted from an H.264 Sequence Parameter Set,
// including resolution, profile/level identifiers, the field widths needed to
// parse slice headers, and HRD timing fields needed for pic_timing SEI
// parsing (timecode extraction).
type SPSInfo struct {
	ID              uint32
	Width           int
	Height          int
	ProfileIDC      byte
	ConstraintFlags byte
	LevelIDC        byte

	ChromaFormatIDC     uint32
	SeparateColourPlane bool
	BitDepthLuma        int
	BitDepthChroma      int

	Log2MaxFrameNum         int
	PicOrderCntType         uint32
	Log2MaxPicOrderCntLsb   int
	DeltaPicOrderAlwaysZero bool
	MaxNumRefFrames         uint32
	FrameMbsOnly            bool

	SARWidth        uint16
	SARHeight       uint16
	TimingPresent   bool
	NumUnitsInTick  uint32
	TimeScale       uint32
	FixedFrameRate  bool

	PicStructPresent   bool
	HRDPresent         bool
	CpbRemovalDelayLen int
	DpbOutputDelayLen  int
	TimeOffsetLen      int
}

// CodecString returns the RFC 6381 codec parameter string (e.g. "avc1.42E01E")
// for use in WebCodecs configuration and MIME types.
func (s SPSInfo) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}

// FrameRate returns the frame rate signalled by the VUI timing info, or 0
// when none is present. H.264 ticks count fields, so a frame is two ticks.
func (s SPSInfo) FrameRate() float64 {
	if !s.TimingPresent || s.NumUnitsInTick == 0 {
		return 0
	}
	return float64(s.TimeScale) / float64(2*uint64(s.NumUnitsInTick))
}

// Profiles whose SPS carries chroma format, bit depth and scaling matrices.
func hasChromaInfo(profileIDC uint32) bool {
	switch profileIDC {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		return true
	}
	return false
}

// ParseSPS parses an H.264 SPS NAL unit to extract resolution, profile/level,
// slice header field widths, and VUI/HRD timing parameters. The input should
// be the raw NAL data including the NAL header byte but without the start
// code. A VUI that is truncated or malformed is ignored rather than failing
// the whole SPS.
func ParseSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, ErrNALTooShort
	}

	s := newSyntaxReader(nalu[1:])
	info := SPSInfo{
		ChromaFormatIDC: 1,
		BitDepthLuma:    8,
		BitDepthChroma:  8,
	}

	profileIDC := s.u(8, "profile_idc")
	info.ProfileIDC = byte(profileIDC)
	info.ConstraintFlags = byte(s.u(8, "constraint_set_flags"))
	info.LevelIDC = byte(s.u(8, "level_idc"))
	info.ID = s.ueMax(31, "seq_parameter_set_id")

	if hasChromaInfo(profileIDC) {
		info.ChromaFormatIDC = s.ueMax(3, "chroma_format_idc")
		if info.ChromaFormatIDC == 3 {
			info.SeparateColourPlane = s.flag("separate_colour_plane_flag")
		}
		info.BitDepthLuma = 8 + int(s.ueMax(6, "bit_depth_luma_minus8"))
		info.BitDepthChroma = 8 + int(s.ueMax(6, "bit_depth_chroma_minus8"))
		s.skip(1, "qpprime_y_zero_transform_bypass_flag")

		if s.flag("seq_scaling_matrix_present_flag") {
			limit := 8
			if info.ChromaFormatIDC == 3 {
				limit = 12
			}
			for i := 0; i < limit && s.err == nil; i++ {
				if s.flag("seq_scaling_list_present_flag") {
					size := 16
					if i >= 6 {
						size = 64
					}
					s.scalingList(size)
				}
			}
		}
	}

	info.Log2MaxFrameNum = int(s.ueMax(12, "log2_max_frame_num_minus4")) + 4

	info.PicOrderCntType = s.ueMax(2, "pic_order_cnt_type")
	switch info.PicOrderCntType {
	case 0:
		info.Log2MaxPicOrderCntLsb = int(s.ueMax(12, "log2_max_pic_order_cnt_lsb_minus4")) + 4
	case 1:
		info.DeltaPicOrderAlwaysZero = s.flag("delta_pic_order_always_zero_flag")
		s.se("offset_for_non_ref_pic")
		s.se("offset_for_top_to_bottom_field")
		numRefFrames := s.ueMax(255, "num_ref_frames_in_pic_order_cnt_cycle")
		for i := uint32(0); i < numRefFrames && s.err == nil; i++ {
			s.se("offset_for_ref_frame")
		}
	}

	info.MaxNumRefFrames = s.ue("max_num_ref_frames")
	s.skip(1, "gaps_in_frame_num_value_allowed_flag")

	picWidthMbs := int(s.ue("pic_width_in_mbs_minus1")) + 1
	picHeightMapUnits := int(s.ue("pic_height_in_map_units_minus1")) + 1

	info.FrameMbsOnly = s.flag("frame_mbs_only_flag")
	if !info.FrameMbsOnly {
		s.skip(1, "mb_adaptive_frame_field_flag")
	}
	s.skip(1, "direct_8x8_inference_flag")

	var cropLeft, cropRight, cropTop, cropBottom int
	if s.flag("frame_cropping_flag") {
		cropLeft = int(s.ue("frame_crop_left_offset"))
		cropRight = int(s.ue("frame_crop_right_offset"))
		cropTop = int(s.ue("frame_crop_top_offset"))
		cropBottom = int(s.ue("frame_crop_bottom_offset"))
	}

	if s.err != nil {
		return SPSInfo{}, s.err
	}

	chromaArrayType := info.ChromaFormatIDC
	if info.SeparateColourPlane {
		chromaArrayType = 0
	}
	var subWidthC, subHeightC int
	switch chromaArrayType {
	case 0, 3:
		subWidthC, subHeightC = 1, 1
	case 2:
		subWidthC, subHeightC = 2, 1
	default:
		subWidthC, subHeightC = 2, 2
	}

	heightMul := 1
	if !info.FrameMbsOnly {
		heightMul = 2
	}
	cropUnitX := subWidthC
	cropUnitY := subHeightC * heightMul

	info.Width = picWidthMbs*16 - cropUnitX*(cropLeft+cropRight)
	info.Height = picHeightMapUnits*16*heightMul - cropUnitY*(cropTop+cropBottom)

	if !s.flag("vui_parameters_present_flag") {
		return info, nil
	}

	vui := info
	parseVUI(s, &vui)
	if s.err != nil {
		return info, nil
	}
	return vui, nil
}

func parseVUI(s *syntaxReader, info *SPSInfo) {
	if s.flag("aspect_ratio_info_present_flag") {
		arIdc := s.u(8, "aspect_ratio_idc")
		if arIdc == 255 {
			info.SARWidth = uint16(s.u(16, "sar_width"))
			info.SARHeight = uint16(s.u(16, "sar_height"))
		} else if int(arIdc) < len(sampleAspectRatios) {
			info.SARWidth = sampleAspectRatios[arIdc][0]
			info.SARHeight = sampleAspectRatios[arIdc][1]
		}
	}

	if s.flag("overscan_info_present_flag") {
		s.skip(1, "overscan_appropriate_flag")
	}

	if s.flag("video_signal_type_present_flag") {
		s.skip(4, "video_format") // + video_full_range_flag
		if s.flag("colour_description_present_flag") {
			s.skip(24, "colour_description")
		}
	}

	if s.flag("chroma_loc_info_present_flag") {
		s.ue("chroma_sample_loc_type_top_field")
		s.ue("chroma_sample_loc_type_bottom_field")
	}

	info.TimingPresent = s.flag("timing_info_present_flag")
	if info.TimingPresent {
		info.NumUnitsInTick = s.u(32, "num_units_in_tick")
		info.TimeScale = s.u(32, "time_scale")
		info.FixedFrameRate = s.flag("fixed_frame_rate_flag")
	}

	nalHRD := s.flag("nal_hrd_parameters_present_flag")
	if nalHRD {
		parseHRD(s, info)
	}
	vclHRD := s.flag("vcl_hrd_parameters_present_flag")
	if vclHRD {
		parseHRD(s, info)
	}
	if nalHRD || vclHRD {
		s.skip(1, "low_delay_hrd_flag")
	}

	info.PicStructPresent = s.flag("pic_struct_present_flag")
}

// parseHRD reads hrd_parameters(). When both NAL and VCL HRD are present the
// delay lengths of the second overwrite the first; the standard requires
// them to match.
func parseHRD(s *syntaxReader, info *SPSInfo) {
	cpbCnt := s.ueMax(31, "cpb_cnt_minus1")
	s.skip(8, "bit_rate_scale") // + cpb_size_scale
	for i := uint32(0); i <= cpbCnt && s.err == nil; i++ {
		s.ue("bit_rate_value_minus1")
		s.ue("cpb_size_value_minus1")
		s.skip(1, "cbr_flag")
	}
	s.skip(5, "initial_cpb_removal_delay_length_minus1")
	cpbRdLen := s.u(5, "cpb_removal_delay_length_minus1")
	dpbOdLen := s.u(5, "dpb_output_delay_length_minus1")
	toLen := s.u(5, "time_offset_length")
	if s.err != nil {
		return
	}
	info.CpbRemovalDelayLen = int(cpbRdLen) + 1
	info.DpbOutputDelayLen = int(dpbOdLen) + 1
	info.TimeOffsetLen = int(toLen)
	info.HRDPresent = true
}

// Table E-1, indexed by aspect_ratio_idc.
var sampleAspectRatios = [...][2]uint16{
	{0, 0}, {1, 1}, {12, 11}, {10, 11}, {16, 11}, {40, 33}, {24, 11}, {20, 11},
	{32, 11}, {80, 33}, {18, 11}, {15, 11}, {64, 33}, {160, 99}, {4, 3}, {3, 2},
	{2, 1},
}

// PPSInfo holds the fields of an H.264 Picture Parameter Set that slice
// header parsing and stream reports need.
type PPSInfo struct {
	ID                      uint32
	SPSID                   uint32
	EntropyCodingModeCABAC  bool
	BottomFieldPicOrder     bool
	NumSliceGroups          uint32
	NumRefIdxL0Active       uint32
	NumRefIdxL1Active       uint32
	WeightedPred            bool
	WeightedBipredIDC       uint32
	PicInitQP               int32
	ChromaQPIndexOffset     int32
	DeblockingFilterControl bool
	ConstrainedIntraPred    bool
	RedundantPicCntPresent  bool
	Transform8x8Mode        bool
	SecondChromaQPOffset    int32
}

// ParsePPS parses an H.264 PPS NAL unit. The referenced SPS is looked up in
// ps when the PPS carries scaling matrices, whose count depends on the
// chroma format; a nil ps assumes 4:2:0.
func ParsePPS(nalu []byte, ps *ParamSets) (PPSInfo, error) {
	if len(nalu) < 2 {
		return PPSInfo{}, ErrNALTooShort
	}

	s := newSyntaxReader(nalu[1:])
	var info PPSInfo

	info.ID = s.ueMax(255, "pic_parameter_set_id")
	info.SPSID = s.ueMax(31, "seq_parameter_set_id")
	info.EntropyCodingModeCABAC = s.flag("entropy_coding_mode_flag")
	info.BottomFieldPicOrder = s.flag("bottom_field_pic_order_in_frame_present_flag")

	info.NumSliceGroups = s.ueMax(7, "num_slice_groups_minus1") + 1
	if info.NumSliceGroups > 1 {
		parseSliceGroups(s, info.NumSliceGroups)
	}

	info.NumRefIdxL0Active = s.ueMax(31, "num_ref_idx_l0_default_active_minus1") + 1
	info.NumRefIdxL1Active = s.ueMax(31, "num_ref_idx_l1_default_active_minus1") + 1
	info.WeightedPred = s.flag("weighted_pred_flag")
	info.WeightedBipredIDC = s.u(2, "weighted_bipred_idc")
	info.PicInitQP = 26 + s.se("pic_init_qp_minus26")
	s.se("pic_init_qs_minus26")
	info.ChromaQPIndexOffset = s.se("chroma_qp_index_offset")
	info.DeblockingFilterControl = s.flag("deblocking_filter_control_present_flag")
	info.ConstrainedIntraPred = s.flag("constrained_intra_pred_flag")
	info.RedundantPicCntPresent = s.flag("redundant_pic_cnt_present_flag")
	info.SecondChromaQPOffset = info.ChromaQPIndexOffset

	if s.err != nil {
		return PPSInfo{}, s.err
	}

	if s.r.HasMoreRBSPData() {
		info.Transform8x8Mode = s.flag("transform_8x8_mode_flag")
		if s.flag("pic_scaling_matrix_present_flag") {
			chromaFormatIDC := uint32(1)
			if ps != nil {
				if sps, ok := ps.SPS[info.SPSID]; ok {
					chromaFormatIDC = sps.ChromaFormatIDC
				}
			}
			count := 6
			if info.Transform8x8Mode {
				if chromaFormatIDC == 3 {
					count += 6
				} else {
					count += 2
				}
			}
			for i := 0; i < count && s.err == nil; i++ {
				if s.flag("pic_scaling_list_present_flag") {
					size := 16
					if i >= 6 {
						size = 64
					}
					s.scalingList(size)
				}
			}
		}
		info.SecondChromaQPOffset = s.se("second_chroma_qp_index_offset")
		if s.err != nil {
			return PPSInfo{}, s.err
		}
	}

	return info, nil
}

func parseSliceGroups(s *syntaxReader, numSliceGroups uint32) {
	mapType := s.ueMax(6, "slice_group_map_type")
	switch mapType {
	case 0:
		for i := uint32(0); i < numSliceGroups && s.err == nil; i++ {
			s.ue("run_length_minus1")
		}
	case 2:
		for i := uint32(0); i+1 < numSliceGroups && s.err == nil; i++ {
			s.ue("top_left")
			s.ue("bottom_right")
		}
	case 3, 4, 5:
		s.skip(1, "slice_group_change_direction_flag")
		s.ue("slice_group_change_rate_minus1")
	case 6:
		picSizeInMapUnits := s.ue("pic_size_in_map_units_minus1") + 1
		idBits := int(nal.CeilLog2(numSliceGroups))
		for i := uint32(0); i < picSizeInMapUnits && s.err == nil; i++ {
			s.u(idBits, "slice_group_id")
		}
	}
}

// Slice types from Table 7-6. Values 5..9 repeat 0..4 and additionally
// promise every slice of the picture has the same type.
const (
	SliceTypeP  = 0
	SliceTypeB  = 1
	SliceTypeI  = 2
	SliceTypeSP = 3
	SliceTypeSI = 4
)

// SliceHeader holds the leading fields of an H.264 slice header, enough to
// detect the first slice of a new picture.
type SliceHeader struct {
	NALType         byte
	NALRefIDC       byte
	FirstMbInSlice  uint32
	SliceType       uint32
	PPSID           uint32
	ColourPlaneID   uint32
	FrameNum        uint32
	FieldPic        bool
	BottomField     bool
	IDRPicID        uint32
	PicOrderCntLsb  uint32
}

// SliceTypeName returns "P", "B", "I", "SP" or "SI".
func (h SliceHeader) SliceTypeName() string {
	switch h.SliceType % 5 {
	case SliceTypeP:
		return "P"
	case SliceTypeB:
		return "B"
	case SliceTypeI:
		return "I"
	case SliceTypeSP:
		return "SP"
	default:
		return "SI"
	}
}

// ParseSliceHeader parses the start of a coded slice NAL unit (types 1 and
// 5). The PPS and SPS it refers to must already be in ps.
func ParseSliceHeader(nalu []byte, ps *ParamSets) (SliceHeader, error) {
	if len(nalu) < 2 {
		return SliceHeader{}, ErrNALTooShort
	}

	h := SliceHeader{
		NALType:   nalu[0] & 0x1F,
		NALRefIDC: (nalu[0] >> 5) & 0x03,
	}
	s := newSyntaxReader(nalu[1:])

	h.FirstMbInSlice = s.ue("first_mb_in_slice")
	h.SliceType = s.ueMax(9, "slice_type")
	h.PPSID = s.ueMax(255, "pic_parameter_set_id")
	if s.err != nil {
		return SliceHeader{}, s.err
	}

	_, sps, err := ps.lookup(h.PPSID)
	if err != nil {
		return SliceHeader{}, err
	}

	if sps.SeparateColourPlane {
		h.ColourPlaneID = s.u(2, "colour_plane_id")
	}
	h.FrameNum = s.u(sps.Log2MaxFrameNum, "frame_num")
	if !sps.FrameMbsOnly {
		h.FieldPic = s.flag("field_pic_flag")
		if h.FieldPic {
			h.BottomField = s.flag("bottom_field_flag")
		}
	}
	if h.NALType == NALTypeIDR {
		h.IDRPicID = s.ue("idr_pic_id")
	}
	if sps.PicOrderCntType == 0 {
		h.PicOrderCntLsb = s.u(sps.Log2MaxPicOrderCntLsb, "pic_order_cnt_lsb")
	}

	if s.err != nil {
		return SliceHeader{}, s.err
	}
	return h, nil
}

// ParamSets tracks the active H.264 parameter sets of a stream by id.
// It is not safe for concurrent use.
type ParamSets struct {
	SPS map[uint32]SPSInfo
	PPS map[uint32]PPSInfo
}

// NewParamSets returns an empty ParamSets.
func NewParamSets() *ParamSets {
	return &ParamSets{
		SPS: make(map[uint32]SPSInfo),
		PPS: make(map[uint32]PPSInfo),
	}
}

// Update parses an SPS or PPS NAL unit and stores it. Other NAL types are
// ignored.
func (ps *ParamSets) Update(nalu NALUnit) error {
	switch nalu.Type {
	case NALTypeSPS:
		info, err := ParseSPS(nalu.Data)
		if err != nil {
			return err
		}
		ps.SPS[info.ID] = info
	case NALTypePPS:
		info, err := ParsePPS(nalu.Data, ps)
		if err != nil {
			return err
		}
		ps.PPS[info.ID] = info
	}
	return nil
}

func (ps *ParamSets) lookup(ppsID uint32) (PPSInfo, SPSInfo, error) {
	if ps == nil {
		return PPSInfo{}, SPSInfo{}, fmt.Errorf("%w: pps %d", ErrUnknownParamSet, ppsID)
	}
	pps, ok := ps.PPS[ppsID]
	if !ok {
		return PPSInfo{}, SPSInfo{}, fmt.Errorf("%w: pps %d", ErrUnknownParamSet, ppsID)
	}
	sps, ok := ps.SPS[pps.SPSID]
	if !ok {
		return PPSInfo{}, SPSInfo{}, fmt.Errorf("%w: sps %d", ErrUnknownParamSet, pps.SPSID)
	}
	return pps, sps, nil
}
