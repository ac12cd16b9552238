package conv

// Allocation-free formatting for wire frames. Status and debug frames are
// assembled into fixed stack buffers; none of this depends on fmt/strconv.

const hexd = "0123456789ABCDEF"

// Itoa writes base-10 representation of n into buf and returns the used slice.
// buf should be length >= 20 for int64. Negative numbers supported.
func Itoa(buf []byte, n int64) []byte {
	if len(buf) == 0 {
		return buf[:0]
	}
	i := len(buf)
	neg := n < 0
	var u uint64
	if neg {
		u = uint64(-n)
	} else {
		u = uint64(n)
	}
	if u == 0 {
		i--
		buf[i] = '0'
	} else {
		for u > 0 && i > 0 {
			i--
			buf[i] = byte('0' + (u % 10))
			u /= 10
		}
	}
	if neg && i > 0 {
		i--
		buf[i] = '-'
	}
	return buf[i:]
}

// Utoa writes base-10 representation of n into buf and returns the used slice.
func Utoa(buf []byte, n uint64) []byte {
	if len(buf) == 0 {
		return buf[:0]
	}
	i := len(buf)
	if n == 0 {
		i--
		buf[i] = '0'
	} else {
		for n > 0 && i > 0 {
			i--
			buf[i] = byte('0' + (n % 10))
			n /= 10
		}
	}
	return buf[i:]
}

// U32Hex writes 8-digit uppercase hex without 0x, zero-padded.
func U32Hex(buf []byte, n uint32) []byte {
	if len(buf) < 8 {
		return buf[:0]
	}
	i := len(buf)
	for j := 0; j < 8; j++ {
		i--
		buf[i] = hexd[n&0xF]
		n >>= 4
	}
	return buf[i:]
}

// Ftoa writes n with exactly prec fractional digits (round-half-away).
// Exact ties can differ from printf "%.<prec>f", which rounds them to
// even: 0.125 at prec 2 gives "0.13" here. prec must be in [0, 6].
func Ftoa(buf []byte, n float32, prec int) []byte {
	if prec < 0 {
		prec = 0
	}
	if prec > 6 {
		prec = 6
	}
	f := float64(n)
	neg := f < 0
	if neg {
		f = -f
	}
	scale := uint64(1)
	for i := 0; i < prec; i++ {
		scale *= 10
	}
	scaled := uint64(f*float64(scale) + 0.5)
	whole := scaled / scale
	frac := scaled % scale

	var tmp [24]byte
	out := buf[:0]
	if neg {
		out = append(out, '-')
	}
	out = append(out, Utoa(tmp[:], whole)...)
	if prec > 0 {
		out = append(out, '.')
		digits := Utoa(tmp[:], frac)
		for pad := prec - len(digits); pad > 0; pad-- {
			out = append(out, '0')
		}
		out = append(out, digits...)
	}
	return out
}
