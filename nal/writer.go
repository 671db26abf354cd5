package nal

// Writer builds an RBSP bit by bit, MSB-first. It is the encoding
// counterpart of [Reader] and grows its buffer as needed.
type Writer struct {
	data   []byte
	bitPos int
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// PutBit appends a single bit.
func (w *Writer) PutBit(v bool) {
	if w.bitPos == len(w.data)*8 {
		w.data = append(w.data, 0)
	}
	if v {
		byteIdx := w.bitPos / 8
		bitIdx := 7 - (w.bitPos % 8)
		w.data[byteIdx] |= 1 << uint(bitIdx)
	}
	w.bitPos++
}

// PutBits appends the low n bits of v, most significant first.
func (w *Writer) PutBits(n int, v uint32) {
	for i := n - 1; i >= 0; i-- {
		w.PutBit((v>>uint(i))&1 == 1)
	}
}

// PutUE appends v as an unsigned Exp-Golomb code.
func (w *Writer) PutUE(v uint32) {
	code := uint64(v) + 1
	n := 0
	for c := code; c > 1; c >>= 1 {
		n++
	}
	for i := 0; i < n; i++ {
		w.PutBit(false)
	}
	for i := n; i >= 0; i-- {
		w.PutBit((code>>uint(i))&1 == 1)
	}
}

// PutSE appends v as a signed Exp-Golomb code.
func (w *Writer) PutSE(v int32) {
	if v > 0 {
		w.PutUE(uint32(v)*2 - 1)
		return
	}
	w.PutUE(uint32(-int64(v)) * 2)
}

// PutBytes appends whole bytes, which need not be byte aligned.
func (w *Writer) PutBytes(b []byte) {
	for _, v := range b {
		w.PutBits(8, uint32(v))
	}
}

// PutTrailingBits appends rbsp_trailing_bits: a one bit, then zero bits up
// to the next byte boundary.
func (w *Writer) PutTrailingBits() {
	w.PutBit(true)
	for w.bitPos%8 != 0 {
		w.PutBit(false)
	}
}

// Len returns the number of bits written.
func (w *Writer) Len() int {
	return w.bitPos
}

// Bytes returns the written RBSP. A partial final byte is zero padded.
func (w *Writer) Bytes() []byte {
	return w.data
}
