// internal/services/refinement_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Corphon/AdScriptStudio/internal/errors"
	"github.com/Corphon/AdScriptStudio/internal/models"
	"github.com/Corphon/AdScriptStudio/internal/prompts"
	"github.com/Corphon/AdScriptStudio/internal/refine"
	"github.com/Corphon/AdScriptStudio/internal/utils"
)

const refineTemperature = 0.4

// RefineResult is the verified script plus the audit record of the reconciliation.
type RefineResult struct {
	Script     models.Script             `json:"script"`
	Validation models.ValidationMetadata `json:"validation"`
	ScriptID   string                    `json:"script_id,omitempty"`
	Revision   *int                      `json:"revision,omitempty"`
}

// RefinementService runs the selective refinement round trip: encode, call the
// agent, reconcile, record and persist.
type RefinementService struct {
	LLM      *LLMService
	Prompts  *prompts.Library
	Store    ScriptStore
	Exporter RevisionExporter
	Events   EventPublisher
	Metrics  *utils.APIMetrics
	Timeout  time.Duration

	locks  *ScriptLocks
	logger *utils.Logger
}

// NewRefinementService wires the refinement pipeline. store, exporter and events may be nil.
func NewRefinementService(llmService *LLMService, library *prompts.Library, store ScriptStore,
	exporter RevisionExporter, events EventPublisher, metrics *utils.APIMetrics, timeout time.Duration) *RefinementService {
	if events == nil {
		events = nopPublisher{}
	}
	if metrics == nil {
		metrics = utils.NewAPIMetrics()
	}
	return &RefinementService{
		LLM:      llmService,
		Prompts:  library,
		Store:    store,
		Exporter: exporter,
		Events:   events,
		Metrics:  metrics,
		Timeout:  timeout,
		locks:    NewScriptLocks(),
		logger:   utils.GetLogger(),
	}
}

// Refine rewrites the selected lines of req.CurrentScript. Errors are returned
// only for bad input or when the agent could not be reached; anything the agent
// says is reconciled into a valid script. Refinements of one stored script run
// one at a time so each builds on the latest revision.
func (s *RefinementService) Refine(ctx context.Context, req models.RefineRequest) (*RefineResult, error) {
	if req.ScriptID == "" || s.Store == nil {
		return s.refine(ctx, req)
	}
	var result *RefineResult
	err := s.locks.WithLock(ctx, req.ScriptID, func() error {
		var err error
		result, err = s.refine(ctx, req)
		return err
	})
	if err != nil && apperrors.TypeOf(err) == "" && ctx.Err() != nil {
		return nil, apperrors.NewTimeoutError("gave up waiting for a refinement of the same script", err)
	}
	return result, err
}

func (s *RefinementService) refine(ctx context.Context, req models.RefineRequest) (*RefineResult, error) {
	original, brief, err := s.resolveInput(ctx, &req)
	if err != nil {
		return nil, err
	}

	annotated, rules := refine.Encode(original, req.SelectedSentences)
	system, prompt, err := s.Prompts.Refine(prompts.RefineInput{
		Brief:       brief,
		Instruction: req.ImprovementInstruction,
		Rules:       rules,
		Annotated:   annotated.Render(),
	})
	if err != nil {
		return nil, apperrors.NewProcessingError("failed to render prompt", err)
	}

	callCtx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()
	resp, err := s.LLM.Complete(callCtx, CompletionOptions{
		SystemPrompt: system,
		Prompt:       prompt,
		Temperature:  refineTemperature,
	})
	if err != nil {
		return nil, err
	}

	verified, meta := refine.Reconcile(resp.Text, original, req.SelectedSentences)
	s.Metrics.RecordRefinement(meta)
	s.logOutcome(req, meta)

	result := &RefineResult{Script: verified, Validation: meta, ScriptID: req.ScriptID}
	if req.ScriptID != "" && s.Store != nil {
		rev := &models.Revision{
			ScriptID:    req.ScriptID,
			Lines:       verified,
			Instruction: req.ImprovementInstruction,
			Selected:    req.SelectedSentences,
			Validation:  &meta,
		}
		if err := s.Store.AppendRevision(ctx, rev); err != nil {
			return nil, storeError(req.ScriptID, err)
		}
		number := rev.Number
		result.Revision = &number
		if s.Exporter != nil {
			if _, err := s.Exporter.SaveRevision(brief, *rev); err != nil {
				s.logger.Warn("Failed to export revision", map[string]interface{}{
					"script_id": rev.ScriptID,
					"revision":  rev.Number,
					"error":     err,
				})
			}
		}
	}

	if req.ScriptID != "" {
		s.Events.Publish(req.ScriptID, EventScriptRefined, result)
	}
	return result, nil
}

// resolveInput validates req. For a stored script the latest revision is the
// script to refine; a client copy that differs from it is a conflict.
func (s *RefinementService) resolveInput(ctx context.Context, req *models.RefineRequest) (models.Script, models.AdBrief, error) {
	req.ImprovementInstruction = strings.TrimSpace(req.ImprovementInstruction)
	if req.ImprovementInstruction == "" {
		return nil, models.AdBrief{}, apperrors.NewValidationError("improvement_instruction is required", nil)
	}
	if req.SelectedSentences.Len() == 0 {
		return nil, models.AdBrief{}, apperrors.NewValidationError("selected_sentences must name at least one line", nil)
	}

	brief := req.Brief()
	original := req.CurrentScript
	if req.ScriptID != "" && s.Store != nil {
		session, err := s.Store.GetScript(ctx, req.ScriptID)
		if err != nil {
			return nil, models.AdBrief{}, storeError(req.ScriptID, err)
		}
		// the selection indexes the client's copy, which must be the latest revision
		if len(original) > 0 && !original.Equal(session.Latest.Lines) {
			return nil, models.AdBrief{}, apperrors.NewConflictError(fmt.Sprintf(
				"current_script is not revision %d of script %s", session.Latest.Number, req.ScriptID), nil)
		}
		original = session.Latest.Lines
		if brief.ProductName == "" {
			brief = session.Brief
		}
	}

	if len(original) == 0 {
		return nil, models.AdBrief{}, apperrors.NewValidationError("current_script must contain at least one line", nil)
	}
	if last := req.SelectedSentences.Sorted(); last[len(last)-1] >= len(original) {
		return nil, models.AdBrief{}, apperrors.NewValidationError(fmt.Sprintf(
			"selected_sentences index %d is outside the %d-line script", last[len(last)-1], len(original)), nil)
	}
	return original.Clone(), brief, nil
}

func (s *RefinementService) logOutcome(req models.RefineRequest, meta models.ValidationMetadata) {
	fields := map[string]interface{}{
		"script_id":       req.ScriptID,
		"selected":        req.SelectedSentences.Sorted(),
		"reverted":        len(meta.RevertedChanges),
		"length_mismatch": meta.HadLengthMismatch,
		"original_length": meta.OriginalLength,
		"received_length": meta.ReceivedLength,
		"strategy":        meta.Strategy,
	}
	switch {
	case meta.Error != "":
		fields["error"] = meta.Error
		s.logger.Warn("Agent reply could not be parsed, original script kept", fields)
	case meta.HadUnauthorizedChanges || meta.HadLengthMismatch:
		s.logger.Warn("Agent reply violated selection, changes reverted", fields)
	default:
		s.logger.Info("Script refined", fields)
	}
}
