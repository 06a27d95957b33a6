package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tradeya/backend/internal/docstore"
	"github.com/tradeya/backend/internal/services"
	"gorm.io/gorm"
)

// HealthHandler reports the state of each subsystem.
type HealthHandler struct {
	db    *gorm.DB
	store docstore.Store
	queue services.TaskQueue
	hub   *services.SSEHub
}

// NewHealthHandler takes the unguarded store; health probes run outside the
// document rules.
func NewHealthHandler(db *gorm.DB, store docstore.Store, queue services.TaskQueue, hub *services.SSEHub) *HealthHandler {
	return &HealthHandler{db: db, store: store, queue: queue, hub: hub}
}

// CheckHealth returns the health status of all subsystems.
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	overall := "healthy"

	dbStatus := "ok"
	if sqlDB, err := h.db.DB(); err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	}

	storeStatus := "ok"
	if _, err := h.store.Get(ctx, "health/ping"); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		storeStatus = "error: " + err.Error()
		overall = "unhealthy"
	}

	queueMode := "sync"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async (Redis)"
	}

	status := 200
	if overall != "healthy" {
		status = 503
	}
	c.JSON(status, gin.H{
		"status":  overall,
		"service": "tradeya",
		"components": gin.H{
			"database":    dbStatus,
			"docstore":    storeStatus,
			"queue_mode":  queueMode,
			"sse_clients": h.hub.ClientCount(),
		},
	})
}
