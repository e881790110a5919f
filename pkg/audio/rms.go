package audio

import "math"

// RMS returns the root-mean-square amplitude of a normalised sample buffer,
// used throughout the pipeline as the energy proxy for "is sound present".
// For samples in [-1, 1] the result lies in [0, 1]; a quiet room typically
// measures below 0.005, conversational speech above 0.01. Returns 0 for an
// empty buffer.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
