package audio

// ITU-T G.711 companding. Both laws reconstruct to the midpoint of the
// quantisation interval, so |decode(encode(x)) - x| is at most half a step of
// the segment x falls in.

const (
	ulawBias = 0x84
	ulawClip = 32635
)

// alawSegEnd holds the upper bound of each A-law segment on the 13-bit scale.
var alawSegEnd = [8]int{0x1F, 0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF}

// LinearToULaw compands a single 16-bit sample to µ-law.
func LinearToULaw(s int16) byte {
	sample := int(s)
	sign := 0
	if sample < 0 {
		sample = -sample
		sign = 0x80
	}
	if sample > ulawClip {
		sample = ulawClip
	}
	sample += ulawBias

	exponent := 7
	for mask := 0x4000; sample&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (sample >> (exponent + 3)) & 0x0F
	return ^byte(sign | exponent<<4 | mantissa)
}

// ULawToLinear expands a µ-law byte to a 16-bit sample.
func ULawToLinear(b byte) int16 {
	u := ^b
	exponent := int(u>>4) & 0x07
	mantissa := int(u) & 0x0F
	sample := ((mantissa << 3) + ulawBias) << exponent
	sample -= ulawBias
	if u&0x80 != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

// LinearToALaw compands a single 16-bit sample to A-law.
func LinearToALaw(s int16) byte {
	pcm := int(s) >> 3
	mask := 0xD5
	if pcm < 0 {
		mask = 0x55
		pcm = -pcm - 1
	}

	seg := 0
	for seg < len(alawSegEnd) && pcm > alawSegEnd[seg] {
		seg++
	}
	if seg >= len(alawSegEnd) {
		return byte(0x7F ^ mask)
	}

	aval := seg << 4
	if seg < 2 {
		aval |= (pcm >> 1) & 0x0F
	} else {
		aval |= (pcm >> seg) & 0x0F
	}
	return byte(aval ^ mask)
}

// ALawToLinear expands an A-law byte to a 16-bit sample.
func ALawToLinear(b byte) int16 {
	a := b ^ 0x55
	t := int(a&0x0F) << 4
	seg := int(a&0x70) >> 4
	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}
	if a&0x80 != 0 {
		return int16(t)
	}
	return int16(-t)
}

// EncodeULaw compands little-endian PCM16 to µ-law, one byte per sample.
func EncodeULaw(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		out[i] = LinearToULaw(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
	}
	return out
}

// DecodeULaw expands µ-law bytes to little-endian PCM16.
func DecodeULaw(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, b := range ulaw {
		s := ULawToLinear(b)
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

// EncodeALaw compands little-endian PCM16 to A-law, one byte per sample.
func EncodeALaw(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		out[i] = LinearToALaw(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
	}
	return out
}

// DecodeALaw expands A-law bytes to little-endian PCM16.
func DecodeALaw(alaw []byte) []byte {
	out := make([]byte, len(alaw)*2)
	for i, b := range alaw {
		s := ALawToLinear(b)
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}
