package nal

import (
	"bytes"
	"errors"
	"testing"
)

// patternBytes returns n bytes in which no two consecutive bytes are zero, so
// the reader never strips anything from them.
func patternBytes(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i*37 + 11)
	}
	return out
}

// sameState compares every cursor field of two readers.
func sameState(a, b *Reader) bool {
	return len(a.data) == len(b.data) &&
		a.pos == b.pos &&
		a.bitsInCache == b.bitsInCache &&
		a.firstByte == b.firstByte &&
		a.cache == b.cache &&
		a.epb == b.epb &&
		a.noEPBCheck == b.noEPBCheck
}

// naiveBits extracts n bits starting at bit offset off, one bit at a time.
func naiveBits(data []byte, off, n int) uint64 {
	var v uint64
	for i := off; i < off+n; i++ {
		v = v<<1 | uint64(data[i/8]>>(7-i%8)&1)
	}
	return v
}

func TestReadBitsMatchesPeekAndWidth(t *testing.T) {
	t.Parallel()
	data := patternBytes(16)

	for _, off := range []int{0, 1, 3, 7, 8, 13} {
		for n := 1; n <= 32; n++ {
			r := NewReader(data)
			if err := r.Skip(off); err != nil {
				t.Fatalf("Skip(%d): %v", off, err)
			}

			peeked, err := r.PeekBits32(n)
			if err != nil {
				t.Fatalf("off=%d n=%d: PeekBits32: %v", off, n, err)
			}
			if r.Pos() != off {
				t.Fatalf("off=%d n=%d: peek moved cursor to %d", off, n, r.Pos())
			}

			got, err := r.ReadBits32(n)
			if err != nil {
				t.Fatalf("off=%d n=%d: ReadBits32: %v", off, n, err)
			}
			if got != peeked {
				t.Errorf("off=%d n=%d: read 0x%X, peeked 0x%X", off, n, got, peeked)
			}
			if uint64(got) >= uint64(1)<<n {
				t.Errorf("off=%d n=%d: value 0x%X wider than %d bits", off, n, got, n)
			}
			if want := naiveBits(data, off, n); uint64(got) != want {
				t.Errorf("off=%d n=%d: got 0x%X, want 0x%X", off, n, got, want)
			}
			if r.Pos() != off+n {
				t.Errorf("off=%d n=%d: Pos() = %d, want %d", off, n, r.Pos(), off+n)
			}
		}
	}
}

func TestReadBitsTypedWidths(t *testing.T) {
	t.Parallel()
	r := NewReader([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x12, 0x34, 0x56})

	b8, err := r.ReadBits8(4)
	if err != nil || b8 != 0xD {
		t.Fatalf("ReadBits8(4) = 0x%X, %v; want 0xD", b8, err)
	}
	b16, err := r.ReadBits16(12)
	if err != nil || b16 != 0xEAD {
		t.Fatalf("ReadBits16(12) = 0x%X, %v; want 0xEAD", b16, err)
	}
	b32, err := r.ReadBits32(32)
	if err != nil || b32 != 0xBEEF1234 {
		t.Fatalf("ReadBits32(32) = 0x%X, %v; want 0xBEEF1234", b32, err)
	}
	flag, err := r.ReadFlag()
	if err != nil || flag {
		t.Fatalf("ReadFlag() = %v, %v; want false", flag, err)
	}
	zero, err := r.ReadBits32(0)
	if err != nil || zero != 0 {
		t.Fatalf("ReadBits32(0) = %d, %v; want 0", zero, err)
	}
	if r.Remaining() != 7 {
		t.Errorf("Remaining() = %d, want 7", r.Remaining())
	}
}

func TestReadBitsInvalidWidth(t *testing.T) {
	t.Parallel()
	r := NewReader(patternBytes(8))

	if _, err := r.ReadBits8(9); !errors.Is(err, ErrInvalidWidth) {
		t.Errorf("ReadBits8(9) error = %v, want ErrInvalidWidth", err)
	}
	if _, err := r.ReadBits16(17); !errors.Is(err, ErrInvalidWidth) {
		t.Errorf("ReadBits16(17) error = %v, want ErrInvalidWidth", err)
	}
	if _, err := r.ReadBits32(33); !errors.Is(err, ErrInvalidWidth) {
		t.Errorf("ReadBits32(33) error = %v, want ErrInvalidWidth", err)
	}
	if err := r.Skip(-1); !errors.Is(err, ErrInvalidWidth) {
		t.Errorf("Skip(-1) error = %v, want ErrInvalidWidth", err)
	}
	if r.Pos() != 0 {
		t.Errorf("Pos() = %d after rejected calls, want 0", r.Pos())
	}
}

func TestReadPastEndLeavesCursor(t *testing.T) {
	t.Parallel()
	r := NewReader([]byte{0xAB})

	if _, err := r.ReadBits16(16); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("ReadBits16(16) error = %v, want ErrInsufficientData", err)
	}
	if r.Pos() != 0 {
		t.Fatalf("Pos() = %d after failed read, want 0", r.Pos())
	}

	v, err := r.ReadBits8(8)
	if err != nil || v != 0xAB {
		t.Fatalf("ReadBits8(8) after failure = 0x%X, %v; want 0xAB", v, err)
	}

	if _, err := r.ReadBits8(1); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("read at end error = %v, want ErrInsufficientData", err)
	}
	if err := r.Skip(1); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("Skip at end error = %v, want ErrInsufficientData", err)
	}
	if r.Pos() != 8 {
		t.Errorf("Pos() = %d, want 8", r.Pos())
	}
}

func TestFailedReadAcrossEPBRestoresState(t *testing.T) {
	t.Parallel()
	// The length check passes (24 raw bits) but the 0x03 is stripped, so the
	// fill runs dry on its last byte.
	r := NewReader([]byte{0x00, 0x00, 0x03})

	if _, err := r.ReadBits32(24); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("ReadBits32(24) error = %v, want ErrInsufficientData", err)
	}
	if r.Pos() != 0 || r.EPBCount() != 0 || r.Remaining() != 24 {
		t.Fatalf("state moved: Pos=%d EPB=%d Remaining=%d", r.Pos(), r.EPBCount(), r.Remaining())
	}

	v, err := r.ReadBits8(8)
	if err != nil || v != 0 {
		t.Fatalf("ReadBits8(8) = 0x%X, %v; want 0x00", v, err)
	}
}

func TestSkipLong(t *testing.T) {
	t.Parallel()
	data := patternBytes(12)
	r := NewReader(data)

	if err := r.Skip(75); err != nil {
		t.Fatalf("Skip(75): %v", err)
	}
	if r.Pos() != 75 {
		t.Fatalf("Pos() = %d, want 75", r.Pos())
	}
	got, err := r.ReadBits16(10)
	if err != nil {
		t.Fatalf("ReadBits16: %v", err)
	}
	if want := naiveBits(data, 75, 10); uint64(got) != want {
		t.Errorf("got 0x%X, want 0x%X", got, want)
	}

	if err := r.Skip(100); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("Skip(100) error = %v, want ErrInsufficientData", err)
	}
	if r.Pos() != 85 {
		t.Errorf("Pos() = %d after failed skip, want 85", r.Pos())
	}
}

func TestSkipToNextByte(t *testing.T) {
	t.Parallel()

	t.Run("mid byte", func(t *testing.T) {
		t.Parallel()
		r := NewReader([]byte{0xAA, 0xBB})
		if _, err := r.ReadBits8(3); err != nil {
			t.Fatal(err)
		}
		if r.IsByteAligned() {
			t.Fatal("expected unaligned after 3 bits")
		}
		if err := r.SkipToNextByte(); err != nil {
			t.Fatal(err)
		}
		if !r.IsByteAligned() || r.Pos() != 8 {
			t.Fatalf("aligned=%v Pos=%d, want aligned at 8", r.IsByteAligned(), r.Pos())
		}
		v, err := r.ReadBits8(8)
		if err != nil || v != 0xBB {
			t.Fatalf("ReadBits8(8) = 0x%X, %v; want 0xBB", v, err)
		}
	})

	t.Run("aligned steps a whole byte", func(t *testing.T) {
		t.Parallel()
		r := NewReader([]byte{0xAA, 0xBB})
		if err := r.SkipToNextByte(); err != nil {
			t.Fatal(err)
		}
		if r.Pos() != 8 {
			t.Fatalf("Pos() = %d, want 8", r.Pos())
		}
		v, err := r.ReadBits8(8)
		if err != nil || v != 0xBB {
			t.Fatalf("ReadBits8(8) = 0x%X, %v; want 0xBB", v, err)
		}
	})

	t.Run("aligned at end", func(t *testing.T) {
		t.Parallel()
		r := NewReader([]byte{0xAA})
		if _, err := r.ReadBits8(8); err != nil {
			t.Fatal(err)
		}
		if err := r.SkipToNextByte(); !errors.Is(err, ErrInsufficientData) {
			t.Fatalf("error = %v, want ErrInsufficientData", err)
		}
	})
}

func TestReadUERoundTrip(t *testing.T) {
	t.Parallel()
	for _, k := range []uint32{0, 1, 2, 7, 8, 255, 65535} {
		w := NewWriter()
		w.PutUE(k)
		w.PutTrailingBits()

		r := NewReader(Escape(w.Bytes()))
		got, err := r.ReadUE()
		if err != nil {
			t.Fatalf("ReadUE(%d): %v", k, err)
		}
		if got != k {
			t.Errorf("ReadUE: got %d, want %d", got, k)
		}
		if r.HasMoreRBSPData() {
			t.Errorf("k=%d: expected only trailing bits to remain", k)
		}
	}
}

func TestReadUEBitPatterns(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
		want []uint32
	}{
		// 1 | 010 | 011 | 00100 | 0001000 -> 0, 1, 2, 3, 7
		{"small codes", []byte{0xA6, 0x42, 0x00}, []uint32{0, 1, 2, 3}},
		{"seven", []byte{0x10}, []uint32{7}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := NewReader(tt.data)
			for i, want := range tt.want {
				got, err := r.ReadUE()
				if err != nil {
					t.Fatalf("code %d: %v", i, err)
				}
				if got != want {
					t.Errorf("code %d: got %d, want %d", i, got, want)
				}
			}
		})
	}
}

func TestReadUEOverflow(t *testing.T) {
	t.Parallel()

	t.Run("too many leading zeros", func(t *testing.T) {
		t.Parallel()
		r := NewReader([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x80})
		if _, err := r.ReadUE(); !errors.Is(err, ErrCodeOverflow) {
			t.Fatalf("error = %v, want ErrCodeOverflow", err)
		}
		if r.Pos() != 0 {
			t.Errorf("Pos() = %d after overflow, want 0", r.Pos())
		}
	})

	t.Run("largest code", func(t *testing.T) {
		t.Parallel()
		// 32 zeros, the marker bit, then a 32-bit suffix of zero.
		r := NewReader([]byte{0x00, 0x00, 0x00, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00})
		got, err := r.ReadUE()
		if err != nil {
			t.Fatal(err)
		}
		if got != 0xFFFFFFFF {
			t.Errorf("got 0x%X, want 0xFFFFFFFF", got)
		}
	})

	t.Run("suffix past uint32", func(t *testing.T) {
		t.Parallel()
		r := NewReader([]byte{0x00, 0x00, 0x00, 0x00, 0x80, 0x00, 0x00, 0x00, 0x80})
		if _, err := r.ReadUE(); !errors.Is(err, ErrCodeOverflow) {
			t.Fatalf("error = %v, want ErrCodeOverflow", err)
		}
		if r.Pos() != 0 {
			t.Errorf("Pos() = %d after overflow, want 0", r.Pos())
		}
	})

	t.Run("truncated suffix", func(t *testing.T) {
		t.Parallel()
		// 0000001 then only 1 of the 6 suffix bits.
		r := NewReader([]byte{0x02})
		if _, err := r.ReadUE(); !errors.Is(err, ErrInsufficientData) {
			t.Fatalf("error = %v, want ErrInsufficientData", err)
		}
		if r.Pos() != 0 {
			t.Errorf("Pos() = %d, want 0", r.Pos())
		}
	})
}

func TestReadSEMapping(t *testing.T) {
	t.Parallel()
	values := []int32{-3, -2, -1, 0, 1, 2, 3}
	codes := []uint32{6, 4, 2, 0, 1, 3, 5}

	for i, v := range values {
		fromCode := NewWriter()
		fromCode.PutUE(codes[i])
		fromValue := NewWriter()
		fromValue.PutSE(v)
		if !bytes.Equal(fromCode.Bytes(), fromValue.Bytes()) {
			t.Errorf("PutSE(%d) = %X, want code %d = %X", v, fromValue.Bytes(), codes[i], fromCode.Bytes())
		}

		r := NewReader(fromCode.Bytes())
		got, err := r.ReadSE()
		if err != nil {
			t.Fatalf("ReadSE for code %d: %v", codes[i], err)
		}
		if got != v {
			t.Errorf("ReadSE for code %d: got %d, want %d", codes[i], got, v)
		}
	}
}

func TestReadSELargestCode(t *testing.T) {
	t.Parallel()
	r := NewReader([]byte{0x00, 0x00, 0x00, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00})
	got, err := r.ReadSE()
	if err != nil {
		t.Fatal(err)
	}
	if got != -2147483648 {
		t.Errorf("got %d, want -2147483648", got)
	}
}

func TestEmulationPrevention(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  []byte
		want []byte
		epb  int
	}{
		{"stripped before 01", []byte{0x00, 0x00, 0x03, 0x01}, []byte{0x00, 0x00, 0x01}, 1},
		{"second 03 kept", []byte{0x00, 0x00, 0x03, 0x03}, []byte{0x00, 0x00, 0x03}, 1},
		{"fresh zero run", []byte{0x00, 0x00, 0x03, 0x00, 0x00, 0x03, 0x01}, []byte{0x00, 0x00, 0x00, 0x00, 0x01}, 2},
		{"zero pair straddling a stripped byte", []byte{0x00, 0x00, 0x03, 0x00, 0x03}, []byte{0x00, 0x00, 0x00, 0x03}, 1},
		{"sentinel at start", []byte{0x00, 0x03, 0x01}, []byte{0x00, 0x03, 0x01}, 0},
		{"single zero", []byte{0x11, 0x00, 0x03, 0x00}, []byte{0x11, 0x00, 0x03, 0x00}, 0},
		{"trailing cabac_zero_word", []byte{0x80, 0x00, 0x00, 0x03}, []byte{0x80, 0x00, 0x00}, 1},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := NewReader(tt.raw)
			var got []byte
			for range tt.want {
				b, err := r.ReadBits8(8)
				if err != nil {
					t.Fatalf("after %X: %v", got, err)
				}
				got = append(got, b)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("got %X, want %X", got, tt.want)
			}

			rbsp, epb := ToRBSP(tt.raw)
			if !bytes.Equal(rbsp, tt.want) {
				t.Errorf("ToRBSP = %X, want %X", rbsp, tt.want)
			}
			if epb != tt.epb {
				t.Errorf("ToRBSP epb = %d, want %d", epb, tt.epb)
			}
		})
	}
}

func TestEPBCount(t *testing.T) {
	t.Parallel()
	r := NewReader([]byte{0x00, 0x00, 0x03, 0x01})
	if _, err := r.ReadBits16(16); err != nil {
		t.Fatal(err)
	}
	if r.EPBCount() != 0 {
		t.Errorf("EPBCount() = %d before reaching the 03, want 0", r.EPBCount())
	}
	v, err := r.ReadBits8(8)
	if err != nil || v != 0x01 {
		t.Fatalf("ReadBits8(8) = 0x%X, %v; want 0x01", v, err)
	}
	if r.EPBCount() != 1 {
		t.Errorf("EPBCount() = %d, want 1", r.EPBCount())
	}
	if r.Pos() != 32 || r.Remaining() != 0 {
		t.Errorf("Pos=%d Remaining=%d, want 32 and 0", r.Pos(), r.Remaining())
	}
}

func TestPeekDoesNotMutate(t *testing.T) {
	t.Parallel()
	r := NewReader([]byte{0x00, 0x00, 0x03, 0x01, 0xFF})
	if _, err := r.ReadBits8(4); err != nil {
		t.Fatal(err)
	}
	before := *r

	if v, err := r.PeekBits16(16); err != nil || v != 0x0000 {
		t.Fatalf("PeekBits16(16) = 0x%X, %v", v, err)
	}
	if _, err := r.PeekBits32(32); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("PeekBits32(32) error = %v, want ErrInsufficientData", err)
	}
	if _, err := r.PeekBits8(8); err != nil {
		t.Fatal(err)
	}

	if !sameState(r, &before) {
		t.Errorf("peek changed reader state: %+v -> %+v", before, *r)
	}
}

func TestHasMoreRBSPData(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
		skip int
		want bool
	}{
		{"empty", nil, 0, false},
		{"stop bit only", []byte{0x80}, 0, false},
		{"stop bit then set bit", []byte{0x81}, 0, true},
		{"zero before stop bit", []byte{0x40}, 0, true},
		{"more than a byte left", []byte{0x00, 0x80}, 0, true},
		{"last bit is stop bit", []byte{0x81}, 7, false},
		{"mid byte trailing bits", []byte{0x90}, 3, false},
		{"mid byte data", []byte{0x94}, 3, true},
		{"all consumed", []byte{0x80}, 8, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := NewReader(tt.data)
			if err := r.Skip(tt.skip); err != nil {
				t.Fatal(err)
			}
			before := *r
			if got := r.HasMoreRBSPData(); got != tt.want {
				t.Errorf("HasMoreRBSPData() = %v, want %v", got, tt.want)
			}
			if !sameState(r, &before) {
				t.Error("HasMoreRBSPData changed reader state")
			}
		})
	}
}

func TestCeilLog2(t *testing.T) {
	t.Parallel()
	tests := []struct {
		v    uint32
		want uint32
	}{
		{1, 0},
		{2, 1},
		{3, 2},
		{4, 2},
		{5, 3},
		{255, 8},
		{256, 8},
		{257, 9},
		{0x80000000, 31},
		{0x80000001, 32},
		{0xFFFFFFFF, 32},
	}

	for _, tt := range tests {
		if got := CeilLog2(tt.v); got != tt.want {
			t.Errorf("CeilLog2(%d) = %d, want %d", tt.v, got, tt.want)
		}
	}
}

func TestCeilLog2MatchesLoop(t *testing.T) {
	t.Parallel()
	loop := func(v uint32) uint32 {
		var r uint32
		for uint64(1)<<r < uint64(v) {
			r++
		}
		return r
	}
	for v := uint32(1); v < 1<<16; v++ {
		if got, want := CeilLog2(v), loop(v); got != want {
			t.Fatalf("CeilLog2(%d) = %d, want %d", v, got, want)
		}
	}
}

func TestScanForStartCodes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
		want int
	}{
		{"first full match", []byte{0x00, 0x01, 0x00, 0x00, 0x01, 0xAB}, 2},
		{"at start", []byte{0x00, 0x00, 0x01, 0x67}, 0},
		{"four byte start code", []byte{0x00, 0x00, 0x00, 0x01, 0x67}, 1},
		{"no following byte", []byte{0xFF, 0x00, 0x00, 0x01}, -1},
		{"none", []byte{0x00, 0x00, 0x02, 0x00, 0x03, 0x01}, -1},
		{"too short", []byte{0x00, 0x00, 0x01}, -1},
		{"nil", nil, -1},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ScanForStartCodes(tt.data); got != tt.want {
				t.Errorf("ScanForStartCodes(%X) = %d, want %d", tt.data, got, tt.want)
			}
		})
	}
}

func TestInitResets(t *testing.T) {
	t.Parallel()
	var r Reader
	if _, err := r.ReadBits8(1); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("zero Reader read error = %v, want ErrInsufficientData", err)
	}

	r.Init([]byte{0x00, 0x00, 0x03, 0x01})
	if _, err := r.ReadBits32(24); err != nil {
		t.Fatal(err)
	}
	r.Init([]byte{0x00, 0x03})
	if r.Pos() != 0 || r.EPBCount() != 0 || r.Remaining() != 16 {
		t.Fatalf("after Init: Pos=%d EPB=%d Remaining=%d", r.Pos(), r.EPBCount(), r.Remaining())
	}
	v, err := r.ReadBits16(16)
	if err != nil || v != 0x0003 {
		t.Fatalf("ReadBits16(16) = 0x%X, %v; want 0x0003", v, err)
	}
}
