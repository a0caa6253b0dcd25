package audio

import (
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// DecodeMP3 decodes an MP3 stream into a mono 16-bit segment.
func DecodeMP3(r io.Reader) (Segment, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return Segment{}, fmt.Errorf("open mp3: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return Segment{}, fmt.Errorf("decode mp3: %w", err)
	}
	rate := dec.SampleRate()
	if rate <= 0 {
		rate = 44100
	}
	// go-mp3 always yields interleaved stereo.
	return Segment{Samples: Downmix(SamplesFromPCM16LE(raw), 2), SampleRate: rate}, nil
}
