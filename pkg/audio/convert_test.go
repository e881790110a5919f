package audio_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/jmcdice/launch-control/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestDecodePCM16(t *testing.T) {
	pcm := samplesToBytes([]int16{0, 16384, -16384, 32767, -32768})
	got := audio.DecodePCM16(pcm)
	want := []float32{0, 0.5, -0.5, 32767.0 / 32768.0, -1.0}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: got %f, want %f", i, got[i], want[i])
		}
	}
}

func TestDecodePCM16_OddTrailingByte(t *testing.T) {
	// 5 bytes = 2 complete samples + 1 trailing byte that must be ignored.
	pcm := []byte{0x00, 0x40, 0x00, 0xC0, 0xFF}
	got := audio.DecodePCM16(pcm)
	if len(got) != 2 {
		t.Fatalf("expected 2 samples for 5 bytes, got %d", len(got))
	}
}

func TestDecodePCM16Into(t *testing.T) {
	pcm := samplesToBytes([]int16{8192, -8192, 16384})
	dst := make([]float32, 3)
	n := audio.DecodePCM16Into(dst, pcm)
	if n != 3 {
		t.Fatalf("expected 3 samples written, got %d", n)
	}
	if math.Abs(float64(dst[0]-0.25)) > 1e-6 || math.Abs(float64(dst[1]+0.25)) > 1e-6 {
		t.Errorf("unexpected decoded values: %v", dst)
	}

	// Short destination: only fills what fits.
	short := make([]float32, 2)
	n = audio.DecodePCM16Into(short, pcm)
	if n != 2 {
		t.Fatalf("expected 2 samples written into short dst, got %d", n)
	}
}

func TestEncodePCM16_Roundtrip(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 0.25, -1.0}
	got := audio.DecodePCM16(audio.EncodePCM16(in))
	if len(got) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(in))
	}
	for i := range in {
		// One quantisation step of 16-bit PCM.
		if math.Abs(float64(got[i]-in[i])) > 1.0/32767.0 {
			t.Errorf("sample %d: got %f, want %f", i, got[i], in[i])
		}
	}
}

func TestEncodePCM16_Clamping(t *testing.T) {
	pcm := audio.EncodePCM16([]float32{2.0, -2.0})
	hi := int16(binary.LittleEndian.Uint16(pcm[0:2]))
	lo := int16(binary.LittleEndian.Uint16(pcm[2:4]))
	if hi != 32767 {
		t.Errorf("over-range sample: got %d, want 32767", hi)
	}
	if lo != -32768 {
		t.Errorf("under-range sample: got %d, want -32768", lo)
	}
}
