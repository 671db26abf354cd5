package nal

import "math/bits"

// CeilLog2 returns the smallest r such that 1<<r >= v. CeilLog2(0) and
// CeilLog2(1) are both 0.
func CeilLog2(v uint32) uint32 {
	if v == 0 {
		return 0
	}
	return uint32(bits.Len32(v - 1))
}
