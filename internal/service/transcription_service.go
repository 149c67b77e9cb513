package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/StergiosCha/perpatame/internal/client"
	"github.com/StergiosCha/perpatame/internal/domain"
	"github.com/StergiosCha/perpatame/pkg/log"
	"github.com/StergiosCha/perpatame/pkg/storage"
)

// TranscriptionConfig tunes TranscriptionService.
type TranscriptionConfig struct {
	MinAudioBytes int64
	MaxAudioBytes int64
	ArchivePrefix string
}

// transcriptionService implements TranscriptionService. archive may be
// nil, in which case recordings are not kept.
type transcriptionService struct {
	transcriber client.Transcriber
	archive     storage.Storage
	cfg         TranscriptionConfig
	now         func() time.Time
}

// NewTranscriptionService creates a transcription service. A nil
// transcriber makes every call fail with ErrUnavailable.
func NewTranscriptionService(transcriber client.Transcriber, archive storage.Storage, cfg TranscriptionConfig) TranscriptionService {
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "recordings"
	}
	return &transcriptionService{
		transcriber: transcriber,
		archive:     archive,
		cfg:         cfg,
		now:         time.Now,
	}
}

func (s *transcriptionService) Transcribe(ctx context.Context, audio []byte, filename, contentType string) (*domain.Transcription, error) {
	l := log.Ctx(ctx)

	if s.transcriber == nil {
		return nil, fmt.Errorf("%w: speech-to-text is not configured", ErrUnavailable)
	}
	if int64(len(audio)) < s.cfg.MinAudioBytes {
		return nil, invalid("recording is too short")
	}
	if s.cfg.MaxAudioBytes > 0 && int64(len(audio)) > s.cfg.MaxAudioBytes {
		return nil, invalid("recording is too large")
	}

	res, err := s.transcriber.Transcribe(ctx, audio, contentType)
	switch {
	case errors.Is(err, client.ErrNoSpeech):
		return nil, ErrNoSpeech
	case err != nil:
		l.Warn().Err(err).Msg("transcription failed")
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if s.archive != nil {
		key := s.archiveKey(filename, contentType)
		if err := s.archive.Write(ctx, key, bytes.NewReader(audio), int64(len(audio)), contentType); err != nil {
			l.Warn().Err(err).Str("key", key).Msg("failed to archive recording")
		} else {
			res.ArchiveID = key
		}
	}
	return res, nil
}

// archiveKey returns prefix/YYYY/MM/DD/<uuid><ext>.
func (s *transcriptionService) archiveKey(filename, contentType string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = extensionFor(contentType)
	}
	return path.Join(s.cfg.ArchivePrefix, s.now().UTC().Format("2006/01/02"), uuid.NewString()+ext)
}

func extensionFor(contentType string) string {
	ct := strings.ToLower(contentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	switch strings.TrimSpace(ct) {
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	default:
		return ".bin"
	}
}
