package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listen "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/StergiosCha/perpatame/internal/domain"
	"github.com/StergiosCha/perpatame/internal/metrics"
	"github.com/StergiosCha/perpatame/pkg/log"
)

var (
	ErrNoSpeech       = errors.New("no speech recognized")
	ErrSTTUnavailable = errors.New("speech-to-text service unavailable")
)

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (*domain.Transcription, error)
}

// DeepgramConfig configures DeepgramTranscriber.
type DeepgramConfig struct {
	APIKey    string
	Model     string
	Languages []string
	Timeout   time.Duration
}

// recognizeFunc returns the best transcript of audio in language.
type recognizeFunc func(ctx context.Context, audio []byte, mimeType, language string) (string, error)

// DeepgramTranscriber uses Deepgram pre-recorded transcription. Each
// configured language is tried in order until one yields text.
type DeepgramTranscriber struct {
	cfg       DeepgramConfig
	recognize recognizeFunc
}

var initDeepgram sync.Once

// NewDeepgramTranscriber creates a Deepgram-backed transcriber.
func NewDeepgramTranscriber(cfg DeepgramConfig) (*DeepgramTranscriber, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: deepgram api key is not set", ErrSTTUnavailable)
	}
	cfg = withSTTDefaults(cfg)

	initDeepgram.Do(listen.InitWithDefault)
	rest := api.New(listen.NewREST(cfg.APIKey, &interfaces.ClientOptions{}))

	t := &DeepgramTranscriber{cfg: cfg}
	t.recognize = func(ctx context.Context, audio []byte, mimeType, language string) (string, error) {
		res, err := rest.FromStream(ctx, bytes.NewReader(audio), &interfaces.PreRecordedTranscriptionOptions{
			Model:     cfg.Model,
			Language:  language,
			Punctuate: true,
		})
		if err != nil {
			return "", err
		}
		raw, err := json.Marshal(res)
		if err != nil {
			return "", err
		}
		return bestTranscript(raw)
	}
	return t, nil
}

func withSTTDefaults(cfg DeepgramConfig) DeepgramConfig {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"el", "en"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return cfg
}

// Transcribe recognizes audio, falling back through the configured
// languages. It returns ErrNoSpeech when no language yields text.
func (t *DeepgramTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (*domain.Transcription, error) {
	l := log.Ctx(ctx)

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	var lastErr error
	for _, lang := range t.cfg.Languages {
		start := time.Now()
		text, err := t.recognize(ctx, audio, mimeType, lang)
		if err != nil {
			metrics.ObserveGateway("stt", "error", time.Since(start))
			l.Warn().Err(err).Str("language", lang).Msg("transcription attempt failed")
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		metrics.ObserveGateway("stt", "ok", time.Since(start))

		text = strings.TrimSpace(text)
		if text != "" {
			return &domain.Transcription{Text: text, Language: lang}, nil
		}
		l.Debug().Str("language", lang).Msg("no speech recognized")
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrSTTUnavailable, lastErr)
	}
	return nil, ErrNoSpeech
}

type prerecordedResult struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// bestTranscript extracts the first alternative of the first channel.
func bestTranscript(raw []byte) (string, error) {
	var res prerecordedResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", err
	}
	for _, ch := range res.Results.Channels {
		for _, alt := range ch.Alternatives {
			if s := strings.TrimSpace(alt.Transcript); s != "" {
				return s, nil
			}
		}
	}
	return "", nil
}

// ReadAudio reads at most max bytes from r and fails when r holds more.
func ReadAudio(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("audio exceeds %d bytes", max)
	}
	return data, nil
}
