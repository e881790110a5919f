package audio

import "encoding/binary"

// DecodePCM16 converts 16-bit signed little-endian PCM bytes to float32
// samples normalised to the range [-1.0, 1.0]. The input length should be
// even (two bytes per sample); any trailing odd byte is silently ignored.
func DecodePCM16(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// DecodePCM16Into is the allocation-free variant of [DecodePCM16] for hot
// paths: it fills dst with up to len(dst) decoded samples and returns the
// number written. dst should hold len(pcm)/2 samples to decode everything.
func DecodePCM16Into(dst []float32, pcm []byte) int {
	n := len(pcm) / 2
	if n > len(dst) {
		n = len(dst)
	}
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		dst[i] = float32(sample) / 32768.0
	}
	return n
}

// EncodePCM16 converts normalised float32 samples to 16-bit signed
// little-endian PCM bytes. Values outside [-1, 1] are clamped to the int16
// range rather than wrapped.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int32(s * 32767.0)

		// Clamp to int16 range.
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}

		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(int16(v)))
	}
	return out
}
