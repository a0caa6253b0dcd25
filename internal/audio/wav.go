package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DecodeWAV reads a PCM WAV stream into a mono 16-bit segment.
func DecodeWAV(r io.ReadSeeker) (Segment, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Segment{}, errors.New("invalid wav")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Segment{}, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return Segment{}, errors.New("empty wav")
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}
	channels := 1
	rate := int(dec.SampleRate)
	if buf.Format != nil {
		if buf.Format.NumChannels > 0 {
			channels = buf.Format.NumChannels
		}
		if buf.Format.SampleRate > 0 {
			rate = buf.Format.SampleRate
		}
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = scaleToInt16(v, bitDepth)
	}
	return Segment{Samples: Downmix(samples, channels), SampleRate: rate}, nil
}

func scaleToInt16(v, bitDepth int) int16 {
	switch {
	case bitDepth == 8:
		// 8-bit WAV is unsigned.
		return int16((v - 128) << 8)
	case bitDepth > 16:
		return int16(v >> (bitDepth - 16))
	default:
		return int16(v)
	}
}

// WAVWriter appends mono PCM16 frames to a WAV file. Safe for concurrent use.
type WAVWriter struct {
	mu     sync.Mutex
	f      *os.File
	enc    *wav.Encoder
	format *goaudio.Format
	closed bool
}

func CreateWAV(path string, sampleRate int) (*WAVWriter, error) {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wav: %w", err)
	}
	return &WAVWriter{
		f:      f,
		enc:    wav.NewEncoder(f, sampleRate, 16, 1, 1),
		format: &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
	}, nil
}

func (w *WAVWriter) Write(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	return w.enc.Write(&goaudio.IntBuffer{Format: w.format, Data: data, SourceBitDepth: 16})
}

// Close finalizes the WAV header and closes the file.
func (w *WAVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	encErr := w.enc.Close()
	fileErr := w.f.Close()
	if encErr != nil {
		return fmt.Errorf("finalize wav: %w", encErr)
	}
	return fileErr
}
