package nal

// ToRBSP returns the raw byte sequence payload of an escaped NAL unit
// payload, with every emulation prevention byte removed, along with the
// number of bytes stripped. The stripping rule is the one [Reader] applies.
func ToRBSP(data []byte) ([]byte, int) {
	r := NewReader(data)
	out := make([]byte, 0, len(data))
	for r.Remaining() >= 8 {
		b, err := r.ReadBits8(8)
		if err != nil {
			// only stripped bytes were left
			break
		}
		out = append(out, b)
	}
	return out, len(data) - len(out)
}

// Escape inserts an emulation prevention byte wherever two zero bytes are
// followed by a byte in 0x00..0x03, producing a payload that can be placed
// after a start code. It is the inverse of [ToRBSP].
func Escape(rbsp []byte) []byte {
	out := make([]byte, 0, len(rbsp)+len(rbsp)/64)
	zeros := 0
	for _, b := range rbsp {
		if zeros >= 2 && b <= 0x03 {
			out = append(out, 0x03)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}
