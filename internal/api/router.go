// internal/api/router.go
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/AdScriptStudio/internal/config"
	"github.com/Corphon/AdScriptStudio/internal/di"
	"github.com/Corphon/AdScriptStudio/internal/realtime"
	"github.com/Corphon/AdScriptStudio/internal/services"
	"github.com/Corphon/AdScriptStudio/internal/utils"
)

// NewHandlerFromContainer pulls every service the handlers need out of container.
func NewHandlerFromContainer(container *di.Container) (*Handler, error) {
	scripts, err := di.Resolve[*services.ScriptService](container, di.ServiceScript)
	if err != nil {
		return nil, err
	}
	refinement, err := di.Resolve[*services.RefinementService](container, di.ServiceRefinement)
	if err != nil {
		return nil, err
	}
	audio, err := di.Resolve[*services.AudioService](container, di.ServiceAudio)
	if err != nil {
		return nil, err
	}
	llmService, err := di.Resolve[*services.LLMService](container, di.ServiceLLM)
	if err != nil {
		return nil, err
	}
	metrics, err := di.Resolve[*utils.APIMetrics](container, di.ServiceMetrics)
	if err != nil {
		return nil, err
	}

	// realtime is optional
	var hub *realtime.Hub
	if container.Has(di.ServiceHub) {
		if hub, err = di.Resolve[*realtime.Hub](container, di.ServiceHub); err != nil {
			return nil, err
		}
	}

	return &Handler{
		Scripts:       scripts,
		Refinement:    refinement,
		Audio:         audio,
		LLM:           llmService,
		Hub:           hub,
		Metrics:       metrics,
		Response:      NewResponseHelper(),
		SaveLLMConfig: config.UpdateLLMConfig,
	}, nil
}

// RouterConfig carries the HTTP limits. A zero RateLimitPerMinute disables limiting.
type RouterConfig struct {
	RateLimitPerMinute int
	RateLimitBurst     int
	Limiter            *RateLimiter
}

// RouterConfigFrom reads the limits from the live configuration.
func RouterConfigFrom(cfg *config.AppConfig, limiter *RateLimiter) RouterConfig {
	return RouterConfig{
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		RateLimitBurst:     cfg.RateLimitBurst,
		Limiter:            limiter,
	}
}

// SetupRouter builds the HTTP engine from the services registered in container.
func SetupRouter(container *di.Container, cfg RouterConfig) (*gin.Engine, error) {
	handler, err := NewHandlerFromContainer(container)
	if err != nil {
		return nil, fmt.Errorf("setup router: %w", err)
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = NewRateLimiter()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(accessLogMiddleware(handler.Metrics))
	r.Use(corsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})

	// WebSocket upgrades are not rate limited
	r.GET("/ws/scripts/:id", handler.ScriptWebSocket)

	limited := r.Group("", RateLimitByIP(limiter, cfg.RateLimitPerMinute, cfg.RateLimitBurst))

	// path kept from the first web client
	limited.POST("/regenerate_script", handler.RegenerateScript)

	api := limited.Group("/api")
	{
		scripts := api.Group("/scripts")
		{
			scripts.POST("/generate", handler.GenerateScript)
			scripts.POST("/refine", handler.RefineScript)
			scripts.GET("/:id", handler.GetScript)
			scripts.GET("/:id/revisions", handler.ListRevisions)
			scripts.GET("/:id/revisions/:number/export", handler.ExportRevision)
		}

		audio := api.Group("/audio")
		{
			audio.POST("", handler.GenerateAudio)
			audio.GET("/status", handler.GetAudioStatus)
		}

		llmGroup := api.Group("/llm")
		{
			llmGroup.GET("/status", handler.GetLLMStatus)
			llmGroup.PUT("/config", handler.UpdateLLMConfig)
		}

		api.GET("/test_connection", handler.TestConnection)
		api.GET("/metrics", handler.GetMetrics)
	}

	return r, nil
}
