package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/mailpilot/mailpilot/api/handlers"
	"github.com/mailpilot/mailpilot/api/middleware"
	"github.com/mailpilot/mailpilot/internal/repository"
	"github.com/mailpilot/mailpilot/internal/tracing"
	"github.com/mailpilot/mailpilot/services"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(ctx context.Context, r *gin.Engine, s *services.Services, repos *repository.Repositories, apikey string) {
	if s == nil {
		panic("Services cannot be nil")
	}
	if repos == nil {
		panic("Repositories cannot be nil")
	}

	// Add recovery middlewares
	r.Use(gin.Recovery())                                         // Gin's built-in recovery
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer())) // Our custom Jaeger recovery

	// setup handlers
	apiHandlers := handlers.InitHandlers(repos, s.ReplyPipeline, s.IMAPService)

	// Health check and status endpoints
	r.GET("/health", handlers.HealthCheck)
	r.GET("/status", handlers.Status(s.IMAPService))

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  "X-MAILPILOT-API-KEY",
		ValidAPIKey: apikey,
	})

	// API group with version
	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	api.Use(middleware.TracingMiddleware())
	{
		// Account endpoints
		accounts := api.Group("/accounts")
		{
			accounts.GET("", apiHandlers.Accounts.List())
			accounts.POST("", apiHandlers.Accounts.Create())
			accounts.GET("/:id", apiHandlers.Accounts.Get())
			accounts.POST("/:id/poll", apiHandlers.Accounts.Poll())
		}

		// Message endpoints
		messages := api.Group("/messages")
		{
			messages.GET("", apiHandlers.Messages.List())
			messages.GET("/:id", apiHandlers.Messages.Get())
			messages.GET("/:id/thread", apiHandlers.Messages.Thread())
			messages.POST("/:id/send", apiHandlers.Messages.Send())
			messages.POST("/:id/redraft", apiHandlers.Messages.Redraft())
			messages.POST("/test", apiHandlers.Messages.Test())
		}
	}
}
