package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// SampleRate is the fixed pipeline rate: 24kHz mono PCM16.
const SampleRate = 24000

// Segment is one buffer of PCM16 samples plus its sample rate.
// Producers hand ownership to the consumer on enqueue.
type Segment struct {
	Samples    []int16
	SampleRate int
}

func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.Samples)) * time.Second / time.Duration(s.SampleRate)
}

// SamplesFromPCM16LE decodes little-endian PCM16 bytes. A trailing odd byte is ignored.
func SamplesFromPCM16LE(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

func PCM16LEFromSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func EncodeBase64PCM16(samples []int16) string {
	return base64.StdEncoding.EncodeToString(PCM16LEFromSamples(samples))
}

func DecodeBase64PCM16(encoded string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode pcm16 base64: %w", err)
	}
	return SamplesFromPCM16LE(raw), nil
}

// Downmix averages interleaved channels into mono.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// RMS returns the normalized root-mean-square level of a frame in [0,1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// SineTone renders a mono tone, used by the mock synthesizer and device checks.
func SineTone(freqHz float64, sampleRate int, d time.Duration, amplitude float64) []int16 {
	if sampleRate <= 0 || d <= 0 {
		return nil
	}
	if amplitude <= 0 || amplitude > 1 {
		amplitude = 0.2
	}
	n := int(int64(sampleRate) * int64(d) / int64(time.Second))
	out := make([]int16, n)
	for i := range out {
		v := math.Sin(2 * math.Pi * freqHz * float64(i) / float64(sampleRate))
		out[i] = int16(v * amplitude * 32767)
	}
	return out
}
