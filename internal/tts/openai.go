package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/ent0n29/voxbridge/internal/audio"
	"github.com/ent0n29/voxbridge/internal/observability"
)

const maxRetries = 2

type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	Voice        string
	Format       string
	Instructions string
	HTTPClient   *http.Client
	Metrics      *observability.Metrics
}

// OpenAISynthesizer calls the speech endpoint through the openai-go client.
type OpenAISynthesizer struct {
	cfg    OpenAIConfig
	client openai.Client
}

func NewOpenAISynthesizer(cfg OpenAIConfig) *OpenAISynthesizer {
	if cfg.Format == "" {
		cfg.Format = "pcm"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(maxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &OpenAISynthesizer{cfg: cfg, client: openai.NewClient(opts...)}
}

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string, onSegment func(audio.Segment)) ([]audio.Segment, error) {
	params := openai.AudioSpeechNewParams{
		Input:          text,
		Model:          s.cfg.Model,
		Voice:          openai.AudioSpeechNewParamsVoice(s.cfg.Voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormat(s.cfg.Format),
	}
	if s.cfg.Instructions != "" {
		params.Instructions = openai.String(s.cfg.Instructions)
	}

	res, err := s.client.Audio.Speech.New(ctx, params)
	if err != nil {
		s.cfg.Metrics.ObserveProviderError("tts", speechErrorCode(err))
		return nil, fmt.Errorf("speech request: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		s.cfg.Metrics.ObserveProviderError("tts", "transport")
		return nil, fmt.Errorf("read speech: %w", err)
	}

	seg, err := decodeSpeech(body, s.cfg.Format)
	if err != nil {
		return nil, err
	}
	if len(seg.Samples) == 0 {
		return nil, nil
	}
	if onSegment != nil {
		onSegment(seg)
		return nil, nil
	}
	return []audio.Segment{seg}, nil
}

func speechErrorCode(err error) string {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return strconv.Itoa(apiErr.StatusCode)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "transport"
}

// decodeSpeech handles the three formats the synthesizer requests. Raw pcm is
// 24 kHz mono little-endian.
func decodeSpeech(body []byte, format string) (audio.Segment, error) {
	switch format {
	case "wav":
		return audio.DecodeWAV(bytes.NewReader(body))
	case "mp3":
		return audio.DecodeMP3(bytes.NewReader(body))
	case "pcm":
		return audio.Segment{Samples: audio.SamplesFromPCM16LE(body), SampleRate: audio.SampleRate}, nil
	default:
		return audio.Segment{}, fmt.Errorf("unsupported tts format %q", format)
	}
}
