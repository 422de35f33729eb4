// internal/services/script_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/AdScriptStudio/internal/errors"
	"github.com/Corphon/AdScriptStudio/internal/llm"
	"github.com/Corphon/AdScriptStudio/internal/models"
	"github.com/Corphon/AdScriptStudio/internal/prompts"
	"github.com/Corphon/AdScriptStudio/internal/refine"
	"github.com/Corphon/AdScriptStudio/internal/storage"
	"github.com/Corphon/AdScriptStudio/internal/utils"
)

const (
	defaultAdLength     = models.AdLength(30)
	generateTemperature = 0.8
)

// ScriptService generates new scripts and serves stored ones.
type ScriptService struct {
	LLM      *LLMService
	Prompts  *prompts.Library
	Store    ScriptStore
	Exporter RevisionExporter
	Events   EventPublisher
	Timeout  time.Duration

	logger *utils.Logger
}

// NewScriptService wires the generation pipeline. exporter and events may be nil.
func NewScriptService(llmService *LLMService, library *prompts.Library, store ScriptStore,
	exporter RevisionExporter, events EventPublisher, timeout time.Duration) *ScriptService {
	if events == nil {
		events = nopPublisher{}
	}
	return &ScriptService{
		LLM:      llmService,
		Prompts:  library,
		Store:    store,
		Exporter: exporter,
		Events:   events,
		Timeout:  timeout,
		logger:   utils.GetLogger(),
	}
}

// Generate asks the agent for a script matching brief and stores it as revision 0.
func (s *ScriptService) Generate(ctx context.Context, brief models.AdBrief) (*models.ScriptSession, error) {
	brief, err := normalizeBrief(brief)
	if err != nil {
		return nil, err
	}

	system, prompt, err := s.Prompts.Generate(brief)
	if err != nil {
		return nil, apperrors.NewProcessingError("failed to render prompt", err)
	}

	callCtx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()
	resp, err := s.LLM.Complete(callCtx, CompletionOptions{
		SystemPrompt: system,
		Prompt:       prompt,
		Temperature:  generateTemperature,
		UseCache:     true,
	})
	if err != nil {
		return nil, err
	}

	script, strategy, err := refine.Parse(resp.Text)
	if err != nil {
		s.logger.Warn("Agent reply could not be decoded as a script", map[string]interface{}{
			"error":   err,
			"snippet": llm.SummarizeSnippet(resp.Text),
		})
		return nil, apperrors.NewAgentError("agent reply is not a script", err)
	}
	// generated text is agent-authored, so leftover markers are simply removed
	script = refine.StripMarkers(script)

	now := time.Now().UTC()
	session := &models.ScriptSession{
		ID:        uuid.NewString(),
		Brief:     brief,
		CreatedAt: now,
		Latest: models.Revision{
			Lines:     script,
			CreatedAt: now,
		},
	}
	if err := s.Store.CreateScript(ctx, session); err != nil {
		return nil, apperrors.NewProcessingError("failed to store script", err)
	}
	s.export(session.Brief, session.Latest)

	s.logger.Info("Script generated", map[string]interface{}{
		"script_id": session.ID,
		"lines":     len(script),
		"strategy":  strategy,
		"provider":  resp.ProviderName,
	})
	s.Events.Publish(session.ID, EventScriptGenerated, session)
	return session, nil
}

// Get returns a stored script with its latest revision.
func (s *ScriptService) Get(ctx context.Context, id string) (*models.ScriptSession, error) {
	session, err := s.Store.GetScript(ctx, id)
	if err != nil {
		return nil, storeError(id, err)
	}
	return session, nil
}

// Revisions returns the revision history of a script, oldest first.
func (s *ScriptService) Revisions(ctx context.Context, id string) ([]models.Revision, error) {
	revisions, err := s.Store.ListRevisions(ctx, id)
	if err != nil {
		return nil, storeError(id, err)
	}
	return revisions, nil
}

// Export returns the Markdown rendering of one revision. A missing or
// unreadable export file is rebuilt from the store.
func (s *ScriptService) Export(ctx context.Context, id string, number int) ([]byte, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Exporter != nil {
		if content, err := s.Exporter.LoadRevision(id, number); err == nil {
			return content, nil
		}
	}

	revisions, err := s.Revisions(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, rev := range revisions {
		if rev.Number == number {
			return []byte(storage.RenderMarkdown(session.Brief, rev)), nil
		}
	}
	return nil, apperrors.NewNotFoundError(fmt.Sprintf("revision %d of script %s not found", number, id), nil)
}

func (s *ScriptService) export(brief models.AdBrief, rev models.Revision) {
	if s.Exporter == nil {
		return
	}
	if _, err := s.Exporter.SaveRevision(brief, rev); err != nil {
		s.logger.Warn("Failed to export revision", map[string]interface{}{
			"script_id": rev.ScriptID,
			"revision":  rev.Number,
			"error":     err,
		})
	}
}

func normalizeBrief(brief models.AdBrief) (models.AdBrief, error) {
	brief.ProductName = strings.TrimSpace(brief.ProductName)
	brief.TargetAudience = strings.TrimSpace(brief.TargetAudience)
	brief.KeySellingPoints = strings.TrimSpace(brief.KeySellingPoints)
	brief.Tone = strings.TrimSpace(brief.Tone)
	brief.SpeakerVoice = strings.TrimSpace(brief.SpeakerVoice)

	if brief.ProductName == "" {
		return brief, apperrors.NewValidationError("product_name is required", nil)
	}
	if brief.AdLength < 0 {
		return brief, apperrors.NewValidationError("ad_length must be positive", nil)
	}
	if brief.AdLength == 0 {
		brief.AdLength = defaultAdLength
	}
	return brief, nil
}

func storeError(id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.NewNotFoundError("script "+id+" not found", err)
	}
	return apperrors.NewProcessingError("failed to load script", err)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
