package nal

// Reader is a bit cursor over the escaped payload of a single NAL unit.
//
// Bits are read MSB-first. The most recently consumed byte is held back in
// firstByte and older bytes are shifted into cache; an incoming 0x03 is
// dropped as an emulation prevention byte when the two bytes before it were
// both zero. The zero value reads nothing; use [NewReader] or [Reader.Init].
type Reader struct {
	data        []byte
	pos         int // index of the next raw byte to consume
	bitsInCache int
	firstByte   byte
	cache       uint64
	epb         int

	// Bytes still to be cached before a 0x03 may be stripped again. The
	// zero pair ahead of an emulation prevention byte must follow the
	// previous one, not straddle it.
	noEPBCheck int
}

// NewReader returns a Reader positioned at the first bit of data. The reader
// borrows data; the caller must not modify it while the reader is in use.
func NewReader(data []byte) *Reader {
	r := &Reader{}
	r.Init(data)
	return r
}

// Init resets r to the first bit of data.
func (r *Reader) Init(data []byte) {
	r.data = data
	r.pos = 0
	r.epb = 0
	r.bitsInCache = 0
	r.noEPBCheck = 0
	// Anything but zero, so the first two bytes can't look like the
	// 00 00 ahead of an emulation prevention byte.
	r.firstByte = 0xff
	r.cache = 0xff
}

// fill pulls raw bytes into the cache until at least n bits are buffered.
// On failure the reader is restored to its state on entry.
func (r *Reader) fill(n int) bool {
	if r.pos*8+n-r.bitsInCache > len(r.data)*8 {
		return false
	}
	if r.bitsInCache >= n {
		return true
	}

	saved := *r
	for r.bitsInCache < n {
		if r.pos >= len(r.data) {
			*r = saved
			return false
		}
		b := r.data[r.pos]
		r.pos++

		if r.noEPBCheck == 0 && b == 0x03 && r.firstByte == 0x00 && r.cache&0xff == 0 {
			r.epb++
			r.noEPBCheck = 2
			continue
		}
		if r.noEPBCheck > 0 {
			r.noEPBCheck--
		}

		r.cache = r.cache<<8 | uint64(r.firstByte)
		r.firstByte = b
		r.bitsInCache += 8
	}
	return true
}

// readBits is the shared core of the ReadBitsN methods. width is the size in
// bits of the destination type.
func (r *Reader) readBits(n, width int) (uint32, error) {
	if n < 0 || n > width {
		return 0, ErrInvalidWidth
	}
	if n == 0 {
		return 0, nil
	}
	if !r.fill(n) {
		return 0, ErrInsufficientData
	}

	// bring the required bits down and truncate
	shift := r.bitsInCache - n
	val := uint32(r.firstByte) >> shift
	val |= uint32(r.cache << (8 - shift))
	if n < 32 {
		val &= 1<<n - 1
	}

	r.bitsInCache = shift
	return val, nil
}

// ReadBits8 reads n bits (0..8) as an unsigned value.
func (r *Reader) ReadBits8(n int) (uint8, error) {
	v, err := r.readBits(n, 8)
	return uint8(v), err
}

// ReadBits16 reads n bits (0..16) as an unsigned value.
func (r *Reader) ReadBits16(n int) (uint16, error) {
	v, err := r.readBits(n, 16)
	return uint16(v), err
}

// ReadBits32 reads n bits (0..32) as an unsigned value.
func (r *Reader) ReadBits32(n int) (uint32, error) {
	return r.readBits(n, 32)
}

// ReadFlag reads a single bit as a bool.
func (r *Reader) ReadFlag() (bool, error) {
	v, err := r.readBits(1, 8)
	return v == 1, err
}

// PeekBits8 returns the next n bits without consuming them.
func (r *Reader) PeekBits8(n int) (uint8, error) {
	tmp := *r
	return tmp.ReadBits8(n)
}

// PeekBits16 returns the next n bits without consuming them.
func (r *Reader) PeekBits16(n int) (uint16, error) {
	tmp := *r
	return tmp.ReadBits16(n)
}

// PeekBits32 returns the next n bits without consuming them.
func (r *Reader) PeekBits32(n int) (uint32, error) {
	tmp := *r
	return tmp.ReadBits32(n)
}

// Skip discards n bits. n may exceed 32.
func (r *Reader) Skip(n int) error {
	if n < 0 {
		return ErrInvalidWidth
	}
	saved := *r
	for n > 0 {
		k := min(n, 32)
		if !r.fill(k) {
			*r = saved
			return ErrInsufficientData
		}
		r.bitsInCache -= k
		n -= k
	}
	return nil
}

// SkipToNextByte discards the rest of the current byte. When the reader is
// already byte aligned it steps over one whole raw byte instead.
func (r *Reader) SkipToNextByte() error {
	if r.bitsInCache == 0 {
		if len(r.data)-r.pos <= 0 {
			return ErrInsufficientData
		}
		r.pos++
	}
	r.bitsInCache = 0
	return nil
}

// ReadUE reads an unsigned Exp-Golomb code, ue(v).
func (r *Reader) ReadUE() (uint32, error) {
	saved := *r

	zeros := 0
	for {
		bit, err := r.ReadBits8(1)
		if err != nil {
			*r = saved
			return 0, err
		}
		if bit == 1 {
			break
		}
		zeros++
		if zeros > 32 {
			*r = saved
			return 0, ErrCodeOverflow
		}
	}

	value, err := r.ReadBits32(zeros)
	if err != nil {
		*r = saved
		return 0, err
	}

	code := uint64(1)<<zeros - 1 + uint64(value)
	if code > 0xffffffff {
		*r = saved
		return 0, ErrCodeOverflow
	}
	return uint32(code), nil
}

// ReadSE reads a signed Exp-Golomb code, se(v). Odd codes map to positive
// values and even codes to zero or negative ones: 0, 1, -1, 2, -2, ...
func (r *Reader) ReadSE() (int32, error) {
	k, err := r.ReadUE()
	if err != nil {
		return 0, err
	}
	if k%2 == 1 {
		return int32(k/2 + 1), nil
	}
	return -int32(k / 2), nil
}

// IsByteAligned reports whether the next bit starts a byte.
func (r *Reader) IsByteAligned() bool {
	return r.bitsInCache == 0
}

// Pos returns the number of bits consumed so far, counting emulation
// prevention bytes as consumed.
func (r *Reader) Pos() int {
	return r.pos*8 - r.bitsInCache
}

// Remaining returns the number of unread bits, counting any emulation
// prevention bytes not yet reached.
func (r *Reader) Remaining() int {
	return (len(r.data)-r.pos)*8 + r.bitsInCache
}

// EPBCount returns how many emulation prevention bytes have been stripped.
func (r *Reader) EPBCount() int {
	return r.epb
}

// HasMoreRBSPData reports whether anything other than rbsp_trailing_bits
// (a one bit followed by zero bits up to the byte boundary) remains.
func (r *Reader) HasMoreRBSPData() bool {
	remaining := r.Remaining()
	if remaining == 0 {
		return false
	}
	if remaining > 8 {
		return true
	}

	stopBit, err := r.PeekBits8(1)
	if err != nil {
		return false
	}
	if stopBit == 0 {
		return true
	}
	if remaining == 1 {
		return false
	}

	tail, err := r.PeekBits8(remaining)
	if err != nil {
		return false
	}
	return tail-1<<(remaining-1) != 0
}
