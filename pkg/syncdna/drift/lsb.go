// Package drift equalizes the lengths of two audio streams recorded on
// clocks that run at slightly different rates, without disturbing the sync
// bit carried in each sample's LSB.
package drift

// ResampleBits linearly resamples the LSB line of src onto n points spanning
// the same interval. A resampled value above 0.5 is a set bit.
func ResampleBits(src []int16, n int) []uint8 {
	out := make([]uint8, n)
	if n == 0 || len(src) == 0 {
		return out
	}
	if len(src) == 1 || n == 1 {
		v := uint8(src[0] & 1)
		for i := range out {
			out[i] = v
		}
		return out
	}

	step := float64(len(src)-1) / float64(n-1)
	last := len(src) - 1
	for i := range out {
		x := float64(i) * step
		j := int(x)
		if j >= last {
			out[i] = uint8(src[last] & 1)
			continue
		}
		frac := x - float64(j)
		b0, b1 := float64(src[j]&1), float64(src[j+1]&1)
		if b0+frac*(b1-b0) > 0.5 {
			out[i] = 1
		}
	}
	return out
}

// SpliceBits writes bits into the LSB of payload. The payload is truncated,
// or padded with its last sample, to exactly len(bits).
func SpliceBits(payload []int16, bits []uint8) []int16 {
	out := make([]int16, len(bits))
	var fill int16
	if len(payload) > 0 {
		fill = payload[len(payload)-1]
	}
	for i := range out {
		v := fill
		if i < len(payload) {
			v = payload[i]
		}
		out[i] = v&^1 | int16(bits[i]&1)
	}
	return out
}
