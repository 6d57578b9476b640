// Package audioio holds PCM16 helpers shared by the relay, the animation
// analyzer and the recorder. All audio in go-parrot is signed 16-bit
// little-endian mono.
package audioio

import (
	"math"
	"slices"
	"time"
)

// Stream format used end to end.
const (
	SampleRate     = 24000
	BytesPerSample = 2
)

// Duration returns the playback time of n bytes of PCM16 mono audio at rate.
func Duration(n, rate int) time.Duration {
	if rate <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate*BytesPerSample)
}

// BytesFor returns the byte length of d worth of PCM16 mono audio at rate,
// rounded down to a whole sample.
func BytesFor(d time.Duration, rate int) int {
	samples := int(int64(d) * int64(rate) / int64(time.Second))
	return samples * BytesPerSample
}

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
// A trailing odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// Resample converts audio from one sample rate to another using linear interpolation.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	newLen := int(float64(len(samples)) / ratio)
	if newLen == 0 {
		return []int16{}
	}

	result := make([]int16, newLen)
	for i := range result {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		if srcIdx >= len(samples)-1 {
			result[i] = samples[len(samples)-1]
			continue
		}
		s1 := float64(samples[srcIdx])
		s2 := float64(samples[srcIdx+1])
		result[i] = int16(s1 + frac*(s2-s1))
	}
	return result
}

// ResampleBytes resamples raw PCM16 bytes.
func ResampleBytes(data []byte, fromRate, toRate int) []byte {
	if fromRate == toRate {
		return data
	}
	return SamplesToBytes(Resample(BytesToSamples(data), fromRate, toRate))
}

// RMS returns the root mean square of samples in raw sample units
// (0 to 32768), not normalized.
func RMS(samples []int16) float64 {
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

// Percentile returns the p-th percentile (0-100) of the absolute sample
// values, interpolating linearly between closest ranks.
func Percentile(samples []int16, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}

	abs := make([]float64, len(samples))
	for i, s := range samples {
		abs[i] = math.Abs(float64(s))
	}
	slices.Sort(abs)

	p = min(max(p, 0), 100)
	rank := p / 100 * float64(len(abs)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return abs[lo]
	}
	return abs[lo] + (abs[hi]-abs[lo])*(rank-float64(lo))
}
