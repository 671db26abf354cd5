package demux

import (
	"errors"
	"fmt"

	"github.com/zsiec/nalbits/nal"
)

// Sentinel errors for NAL unit syntax parsing.
var (
	ErrNALTooShort      = errors.New("demux: NAL unit too short")
	ErrUnknownParamSet  = errors.New("demux: reference to unknown parameter set")
	ErrUnsupportedValue = errors.New("demux: syntax element out of range")
)

// SyntaxError records which syntax element was being read when parsing a
// NAL unit failed. It wraps the underlying [nal] error, so callers can
// still tell truncation (nal.ErrInsufficientData) from a corrupt
// Exp-Golomb code (nal.ErrCodeOverflow) with errors.Is.
type SyntaxError struct {
	Element string
	Err     error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("demux: parse %s: %v", e.Element, e.Err)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// syntaxReader wraps a nal.Reader with a sticky error so a grammar can be
// written as a straight sequence of reads and checked once.
type syntaxReader struct {
	r   nal.Reader
	err error
}

func newSyntaxReader(payload []byte) *syntaxReader {
	s := &syntaxReader{}
	s.r.Init(payload)
	return s
}

func (s *syntaxReader) fail(element string, err error) {
	if s.err == nil {
		s.err = &SyntaxError{Element: element, Err: err}
	}
}

// u reads a fixed-width unsigned field, u(n).
func (s *syntaxReader) u(n int, element string) uint32 {
	if s.err != nil {
		return 0
	}
	v, err := s.r.ReadBits32(n)
	if err != nil {
		s.fail(element, err)
	}
	return v
}

func (s *syntaxReader) flag(element string) bool {
	return s.u(1, element) == 1
}

// ue reads an unsigned Exp-Golomb field, ue(v).
func (s *syntaxReader) ue(element string) uint32 {
	if s.err != nil {
		return 0
	}
	v, err := s.r.ReadUE()
	if err != nil {
		s.fail(element, err)
	}
	return v
}

// ueMax reads ue(v) and rejects values above limit, keeping loop bounds
// driven by the bitstream sane.
func (s *syntaxReader) ueMax(limit uint32, element string) uint32 {
	v := s.ue(element)
	if s.err == nil && v > limit {
		s.fail(element, fmt.Errorf("%w: %d > %d", ErrUnsupportedValue, v, limit))
		return 0
	}
	return v
}

// se reads a signed Exp-Golomb field, se(v).
func (s *syntaxReader) se(element string) int32 {
	if s.err != nil {
		return 0
	}
	v, err := s.r.ReadSE()
	if err != nil {
		s.fail(element, err)
	}
	return v
}

func (s *syntaxReader) skip(n int, element string) {
	if s.err != nil {
		return
	}
	if err := s.r.Skip(n); err != nil {
		s.fail(element, err)
	}
}

// scalingList steps over a scaling_list() of the given size. The values are
// not kept.
func (s *syntaxReader) scalingList(size int) {
	lastScale := int32(8)
	nextScale := int32(8)
	for j := 0; j < size && s.err == nil; j++ {
		if nextScale != 0 {
			delta := s.se("delta_scale")
			nextScale = (lastScale + delta + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
}
