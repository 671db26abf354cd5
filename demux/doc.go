// Package demux parses H.264 and H.265 Annex B elementary streams. It splits
// a byte stream into NAL units and decodes the syntax elements of parameter
// sets, slice headers and SEI messages, including SMPTE timecodes and
// CEA-608/708 closed captions.
//
// Splitting is provided by [ParseAnnexB] and [ParseAnnexBHEVC]. Parameter
// sets are tracked with [ParamSets] and [HEVCParamSets], which the slice
// header parsers consult for field widths. [CaptionDecoder] turns caption
// SEI messages into text frames. All bit-level reads go through
// [github.com/zsiec/nalbits/nal.Reader]; failures are reported as
// [*SyntaxError] naming the element that could not be read.
package demux
