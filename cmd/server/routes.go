package main

import (
	"github.com/gin-gonic/gin"
	"github.com/tradeya/backend/internal/handlers"
	"github.com/tradeya/backend/internal/metrics"
	"github.com/tradeya/backend/internal/middleware"
	"github.com/tradeya/backend/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.Use(metrics.Middleware())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS(svc.cfg.Server.AllowOrigins...))

	writeLimit := func(c *gin.Context) { c.Next() }
	if svc.cfg.Server.RateLimitRPS > 0 {
		writeLimit = middleware.NewRateLimiter(svc.cfg.Server.RateLimitRPS, svc.cfg.Server.RateLimitBurst).Middleware()
	}
	loginLimiter := middleware.NewRateLimiter(1, 5)

	healthHandler := handlers.NewHealthHandler(svc.db, svc.rawStore, svc.taskQueue, svc.hub)
	r.GET("/health", healthHandler.CheckHealth)

	handlers.RegisterRuntimeGauges(svc.db, svc.hub)
	r.GET("/metrics", handlers.Metrics())

	authHandler := handlers.NewAuthHandler(svc.auth)
	connectionHandler := handlers.NewConnectionHandler(svc.relationships, svc.auth)
	tradeHandler := handlers.NewTradeHandler(svc.trades)
	challengeHandler := handlers.NewChallengeHandler(svc.challenges)
	userHandler := handlers.NewUserHandler(svc.auth, svc.gamification, svc.portfolio, svc.challenges, svc.trades)
	notificationHandler := handlers.NewNotificationHandler(svc.notifications)
	sseHandler := handlers.NewSSEHandler(svc.hub)
	adminHandler := handlers.NewAdminHandler(svc.reconcile, svc.outbox, svc.trades, svc.scheduler)
	systemLogHandler := handlers.NewSystemLogHandler(svc.systemLogs)
	systemConfigHandler := handlers.NewSystemConfigHandler(svc.systemConfig)

	api := r.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth", loginLimiter.Middleware())
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.Refresh)
		}

		// SSE accepts ?token= because EventSource cannot send headers
		api.GET("/events", middleware.StreamAuthRequired(), sseHandler.Stream)

		protected := api.Group("")
		protected.Use(middleware.AuthRequired(), middleware.AuditLog())
		{
			protected.GET("/auth/me", authHandler.GetCurrentUser)
			protected.POST("/auth/logout", authHandler.Logout)
			protected.POST("/auth/change-password", authHandler.ChangePassword)

			// Connections
			protected.GET("/connections", connectionHandler.List)
			protected.POST("/connections", writeLimit, connectionHandler.Create)
			protected.GET("/connections/:userId", connectionHandler.Get)
			protected.PUT("/connections/:userId", connectionHandler.Update)
			protected.DELETE("/connections/:userId", connectionHandler.Delete)

			// Trades
			protected.POST("/trades", writeLimit, tradeHandler.Create)
			protected.GET("/trades", tradeHandler.List)
			protected.GET("/trades/:id", tradeHandler.Get)
			protected.GET("/trades/:id/proposals", tradeHandler.ListProposals)
			protected.POST("/trades/:id/proposals", writeLimit, tradeHandler.SubmitProposal)
			protected.POST("/trades/:id/proposals/:proposalId/accept", tradeHandler.AcceptProposal)
			protected.POST("/trades/:id/proposals/:proposalId/reject", tradeHandler.RejectProposal)
			protected.POST("/trades/:id/start", tradeHandler.Start)
			protected.POST("/trades/:id/submit", tradeHandler.SubmitCompletion)
			protected.POST("/trades/:id/request-changes", tradeHandler.RequestChanges)
			protected.POST("/trades/:id/confirm", tradeHandler.Confirm)
			protected.POST("/trades/:id/cancel", tradeHandler.Cancel)
			protected.POST("/trades/:id/dispute", tradeHandler.Dispute)

			// Challenges
			protected.POST("/challenges", writeLimit, challengeHandler.Create)
			protected.GET("/challenges", challengeHandler.List)
			protected.GET("/challenges/:id", challengeHandler.Get)
			protected.POST("/challenges/:id/join", challengeHandler.Join)
			protected.POST("/challenges/:id/complete", challengeHandler.Complete)
			protected.POST("/challenges/:id/abandon", challengeHandler.Abandon)
			protected.POST("/challenges/:id/close", challengeHandler.Close)

			// Profiles (":id" may be "me")
			protected.GET("/users/:id/xp", userHandler.XP)
			protected.GET("/users/:id/portfolio", userHandler.Portfolio)
			protected.GET("/users/:id/challenges", userHandler.Challenges)
			protected.GET("/users/:id/proposals", userHandler.Proposals)
			protected.DELETE("/users/me/portfolio/:itemId", userHandler.RemovePortfolioItem)

			// Notifications
			protected.GET("/notifications", notificationHandler.List)
			protected.POST("/notifications/:id/read", notificationHandler.MarkRead)
		}

		// Admin only routes
		admin := api.Group("/admin")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired(), middleware.AuditLog())
		{
			admin.GET("/users", userHandler.List)
			admin.PUT("/users/:id", userHandler.Update)

			admin.POST("/reconcile", adminHandler.ReconcileAll)
			admin.POST("/reconcile/:userId", adminHandler.ReconcileUser)
			admin.GET("/outbox", adminHandler.ListOutbox)
			admin.POST("/outbox/dispatch", adminHandler.DispatchOutbox)
			admin.POST("/outbox/:id/retry", adminHandler.RetryOutbox)
			admin.POST("/trades/auto-complete", adminHandler.AutoComplete)
			admin.POST("/jobs/:name/run", adminHandler.RunJob)

			admin.GET("/system-logs", systemLogHandler.List)
			admin.GET("/system-logs/modules", systemLogHandler.GetModules)
			admin.GET("/system-logs/retention", systemLogHandler.GetRetentionDays)
			admin.PUT("/system-logs/retention", systemLogHandler.SetRetentionDays)
			admin.POST("/system-logs/cleanup", systemLogHandler.Cleanup)

			admin.GET("/system-config/:group", systemConfigHandler.GetGroup)
			admin.PUT("/system-config", systemConfigHandler.Update)
		}
	}
}
