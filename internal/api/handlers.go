// internal/api/handlers.go
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/AdScriptStudio/internal/models"
	"github.com/Corphon/AdScriptStudio/internal/realtime"
	"github.com/Corphon/AdScriptStudio/internal/services"
	"github.com/Corphon/AdScriptStudio/internal/utils"
)

const connectionTestTimeout = 15 * time.Second

// Handler serves the script, audio and settings endpoints.
type Handler struct {
	Scripts    *services.ScriptService
	Refinement *services.RefinementService
	Audio      *services.AudioService
	LLM        *services.LLMService
	Hub        *realtime.Hub
	Metrics    *utils.APIMetrics
	Response   *ResponseHelper

	// SaveLLMConfig persists provider settings after they were applied.
	SaveLLMConfig func(provider string, cfg map[string]string) error
}

// ScriptPayload is the body of a generate response.
type ScriptPayload struct {
	ScriptID string         `json:"script_id"`
	Script   models.Script  `json:"script"`
	Revision int            `json:"revision"`
	Brief    models.AdBrief `json:"brief"`
	Created  time.Time      `json:"created_at"`
}

// UpdateLLMConfigRequest switches the active provider.
type UpdateLLMConfigRequest struct {
	Provider string            `json:"provider" binding:"required"`
	Config   map[string]string `json:"config" binding:"required"`
}

// GenerateScript creates a script from a brief.
func (h *Handler) GenerateScript(c *gin.Context) {
	var brief models.AdBrief
	if err := c.ShouldBindJSON(&brief); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorInvalidBrief, "invalid brief", err.Error())
		return
	}

	session, err := h.Scripts.Generate(c.Request.Context(), brief)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, ScriptPayload{
		ScriptID: session.ID,
		Script:   session.Latest.Lines,
		Revision: session.Latest.Number,
		Brief:    session.Brief,
		Created:  session.CreatedAt,
	})
}

// RefineScript rewrites the selected lines and reverts everything else the
// agent touched. Degraded reconciliations still answer 200.
func (h *Handler) RefineScript(c *gin.Context) {
	var req models.RefineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorInvalidRefine, "invalid refine request", err.Error())
		return
	}

	result, err := h.Refinement.Refine(c.Request.Context(), req)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, result)
}

// RegenerateScript serves the legacy refine path. Its clients read the verified
// lines straight from data, so the audit record moves to a sibling key.
func (h *Handler) RegenerateScript(c *gin.Context) {
	var req models.RefineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorInvalidRefine, "invalid refine request", err.Error())
		return
	}

	result, err := h.Refinement.Refine(c.Request.Context(), req)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"data":       result.Script,
		"validation": result.Validation,
	})
}

// GetScript returns a stored script with its latest revision.
func (h *Handler) GetScript(c *gin.Context) {
	session, err := h.Scripts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, session)
}

// ListRevisions returns every revision of a script, oldest first.
func (h *Handler) ListRevisions(c *gin.Context) {
	scriptID := c.Param("id")
	revisions, err := h.Scripts.Revisions(c.Request.Context(), scriptID)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{
		"script_id": scriptID,
		"total":     len(revisions),
		"revisions": revisions,
	})
}

// ExportRevision downloads one revision as Markdown.
func (h *Handler) ExportRevision(c *gin.Context) {
	scriptID := c.Param("id")
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil || number < 0 {
		h.Response.BadRequest(c, "revision number must be a non-negative integer")
		return
	}

	content, err := h.Scripts.Export(c.Request.Context(), scriptID, number)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.FileResponse(c, content, scriptID+"-"+strconv.Itoa(number)+".md", "text/markdown; charset=utf-8")
}

// GenerateAudio answers {"audioUrl": ...} for a script.
func (h *Handler) GenerateAudio(c *gin.Context) {
	var req services.AudioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid audio request", err.Error())
		return
	}

	url, err := h.Audio.Generate(c.Request.Context(), req)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"audioUrl": url,
	})
}

// GetAudioStatus reports the active speech engine.
func (h *Handler) GetAudioStatus(c *gin.Context) {
	h.Response.Success(c, h.Audio.Status())
}

// GetLLMStatus reports provider readiness and the configured model.
func (h *Handler) GetLLMStatus(c *gin.Context) {
	ready, state := h.LLM.GetProviderStatus()
	h.Response.Success(c, gin.H{
		"ready":    ready,
		"status":   state,
		"provider": h.LLM.GetProviderName(),
		"model":    h.LLM.GetDefaultModel(),
		"models":   h.LLM.GetSupportedModels(),
	})
}

// UpdateLLMConfig applies new provider settings, then persists them.
func (h *Handler) UpdateLLMConfig(c *gin.Context) {
	var req UpdateLLMConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request", err.Error())
		return
	}

	if err := h.LLM.UpdateProvider(req.Provider, req.Config); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, "provider configuration rejected", err.Error())
		return
	}
	if h.SaveLLMConfig != nil {
		if err := h.SaveLLMConfig(req.Provider, req.Config); err != nil {
			h.Response.InternalError(c, "provider updated but settings could not be saved")
			return
		}
	}

	h.Response.Success(c, gin.H{
		"provider": h.LLM.GetProviderName(),
		"model":    h.LLM.GetDefaultModel(),
	}, "LLM configuration updated")
}

// TestConnection sends a tiny prompt through the active provider.
func (h *Handler) TestConnection(c *gin.Context) {
	if !h.LLM.IsReady() {
		h.Response.Error(c, http.StatusServiceUnavailable, ErrorLLMServiceUnavailable,
			"LLM service not ready", h.LLM.GetReadyState())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), connectionTestTimeout)
	defer cancel()

	latency, err := h.LLM.TestConnection(ctx)
	if err != nil {
		h.Response.Error(c, http.StatusServiceUnavailable, ErrorConnectionFailed, "connection test failed", err.Error())
		return
	}
	h.Response.Success(c, gin.H{
		"provider":   h.LLM.GetProviderName(),
		"status":     "connected",
		"latency_ms": latency.Milliseconds(),
	})
}

// GetMetrics returns the collected counters, histograms and realtime state.
func (h *Handler) GetMetrics(c *gin.Context) {
	data := gin.H{"metrics": h.Metrics.Collector().GetMetrics()}
	if h.Hub != nil {
		data["realtime"] = h.Hub.Status()
	}
	h.Response.Success(c, data)
}

// ScriptWebSocket subscribes the caller to events of one script.
func (h *Handler) ScriptWebSocket(c *gin.Context) {
	if h.Hub == nil {
		h.Response.Error(c, http.StatusServiceUnavailable, ErrorInternalError, "realtime updates are disabled")
		return
	}
	scriptID := c.Param("id")
	if _, err := h.Scripts.Get(c.Request.Context(), scriptID); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Hub.ServeWS(c.Writer, c.Request, scriptID)
}
