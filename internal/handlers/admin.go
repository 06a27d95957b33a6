package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tradeya/backend/internal/services"
	"github.com/tradeya/backend/pkg/response"
)

// AdminHandler exposes maintenance operations that normally run on a schedule.
type AdminHandler struct {
	reconcile *services.ReconcileService
	outbox    *services.OutboxService
	trades    *services.TradeService
	scheduler *services.Scheduler
}

func NewAdminHandler(reconcile *services.ReconcileService, outbox *services.OutboxService,
	trades *services.TradeService, scheduler *services.Scheduler) *AdminHandler {
	return &AdminHandler{
		reconcile: reconcile,
		outbox:    outbox,
		trades:    trades,
		scheduler: scheduler,
	}
}

// ReconcileAll repairs mirrored connection halves for every user
// POST /api/admin/reconcile
func (h *AdminHandler) ReconcileAll(c *gin.Context) {
	report, err := h.reconcile.ReconcileAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, report)
}

// ReconcileUser
// POST /api/admin/reconcile/:userId
func (h *AdminHandler) ReconcileUser(c *gin.Context) {
	report, err := h.reconcile.ReconcileUser(c.Request.Context(), c.Param("userId"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, report)
}

// DispatchOutbox runs pending side effects now
// POST /api/admin/outbox/dispatch
func (h *AdminHandler) DispatchOutbox(c *gin.Context) {
	n, err := h.outbox.DispatchPending(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"dispatched": n})
}

// ListOutbox
// GET /api/admin/outbox?status=failed&limit=
func (h *AdminHandler) ListOutbox(c *gin.Context) {
	events, err := h.outbox.ListEvents(c.Request.Context(), c.Query("status"), limitParam(c, 50, 500))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, events)
}

// RetryOutbox puts a failed event back in the queue
// POST /api/admin/outbox/:id/retry
func (h *AdminHandler) RetryOutbox(c *gin.Context) {
	if err := h.outbox.Retry(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "event requeued"})
}

// AutoComplete sends reminders and completes overdue trades
// POST /api/admin/trades/auto-complete
func (h *AdminHandler) AutoComplete(c *gin.Context) {
	report, err := h.trades.AutoCompleteOverdue(c.Request.Context(), time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, report)
}

// RunJob runs a scheduled job immediately, under its lock
// POST /api/admin/jobs/:name/run
func (h *AdminHandler) RunJob(c *gin.Context) {
	if h.scheduler == nil {
		response.Error(c, response.NewUnprocessable("scheduler is disabled"))
		return
	}
	name := c.Param("name")
	result := h.scheduler.RunJob(c.Request.Context(), name)
	if result == services.JobUnknown {
		response.NotFound(c, "unknown job "+name)
		return
	}
	response.Success(c, gin.H{"job": name, "result": result})
}
