// internal/services/audio_service.go
package services

import (
	"context"
	"strings"

	apperrors "github.com/Corphon/AdScriptStudio/internal/errors"
	"github.com/Corphon/AdScriptStudio/internal/models"
	"github.com/Corphon/AdScriptStudio/internal/utils"
)

// PlaceholderAudioURL is returned while no real speech engine is attached.
const PlaceholderAudioURL = "data:audio/mpeg;base64,PLACEHOLDER_FOR_TTS_AUDIO"

// VoiceOptions are the playback knobs the caller may set.
type VoiceOptions struct {
	Speed   float64 `json:"speed"`
	Pitch   float64 `json:"pitch"`
	VoiceID string  `json:"voiceId,omitempty"`
}

// AudioRequest asks for a voice-over of a script.
type AudioRequest struct {
	Script models.Script `json:"script"`
	VoiceOptions
}

// AudioStatus describes the speech backend.
type AudioStatus struct {
	Mode    string `json:"mode"`
	Engine  string `json:"engine"`
	Ready   bool   `json:"ready"`
	Message string `json:"message"`
}

// Synthesizer turns text into a playable audio URL.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text string, opts VoiceOptions) (string, error)
}

// PlaceholderSynthesizer answers every request with PlaceholderAudioURL.
type PlaceholderSynthesizer struct{}

func (PlaceholderSynthesizer) Name() string { return "placeholder" }

func (PlaceholderSynthesizer) Synthesize(context.Context, string, VoiceOptions) (string, error) {
	return PlaceholderAudioURL, nil
}

// AudioService renders voice-overs through a Synthesizer.
type AudioService struct {
	synth         Synthesizer
	realRequested bool
	logger        *utils.Logger
}

// NewAudioService uses synth, or the placeholder when synth is nil. realRequested
// mirrors USE_REAL_TTS: with no real engine attached the service reports itself
// unavailable instead of handing out placeholders.
func NewAudioService(synth Synthesizer, realRequested bool) *AudioService {
	if synth == nil {
		synth = PlaceholderSynthesizer{}
	}
	return &AudioService{synth: synth, realRequested: realRequested, logger: utils.GetLogger()}
}

// Status reports which engine is active.
func (s *AudioService) Status() AudioStatus {
	_, placeholder := s.synth.(PlaceholderSynthesizer)
	switch {
	case placeholder && s.realRequested:
		return AudioStatus{Mode: "real", Engine: s.synth.Name(), Ready: false,
			Message: "USE_REAL_TTS is set but no speech engine is attached"}
	case placeholder:
		return AudioStatus{Mode: "development", Engine: s.synth.Name(), Ready: true,
			Message: "placeholder audio is returned"}
	default:
		return AudioStatus{Mode: "real", Engine: s.synth.Name(), Ready: true, Message: "ready"}
	}
}

// Generate speaks the script's lines joined by single spaces. Art direction is not voiced.
func (s *AudioService) Generate(ctx context.Context, req AudioRequest) (string, error) {
	if len(req.Script) == 0 {
		return "", apperrors.NewValidationError("script must contain at least one line", nil)
	}
	opts, err := normalizeVoice(req.VoiceOptions)
	if err != nil {
		return "", err
	}
	if status := s.Status(); !status.Ready {
		return "", apperrors.NewUnavailableError(status.Message, nil)
	}

	text := req.Script.SpokenText()
	if strings.TrimSpace(text) == "" {
		return "", apperrors.NewValidationError("script has no spoken text", nil)
	}

	url, err := s.synth.Synthesize(ctx, text, opts)
	if err != nil {
		return "", apperrors.NewProcessingError("failed to generate audio", err)
	}
	s.logger.Debug("Audio generated", map[string]interface{}{
		"engine": s.synth.Name(),
		"chars":  len(text),
		"speed":  opts.Speed,
		"pitch":  opts.Pitch,
	})
	return url, nil
}

func normalizeVoice(opts VoiceOptions) (VoiceOptions, error) {
	if opts.Speed == 0 {
		opts.Speed = 1
	}
	if opts.Pitch == 0 {
		opts.Pitch = 1
	}
	if opts.Speed < 0.25 || opts.Speed > 4 {
		return opts, apperrors.NewValidationError("speed must be between 0.25 and 4", nil)
	}
	if opts.Pitch < 0.25 || opts.Pitch > 4 {
		return opts, apperrors.NewValidationError("pitch must be between 0.25 and 4", nil)
	}
	return opts, nil
}
