package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/tradeya/backend/internal/services"
	"github.com/tradeya/backend/pkg/response"
)

type TradeHandler struct {
	trades *services.TradeService
}

func NewTradeHandler(trades *services.TradeService) *TradeHandler {
	return &TradeHandler{trades: trades}
}

type reasonBody struct {
	Reason string `json:"reason" binding:"required"`
}

// Create
// POST /api/trades
func (h *TradeHandler) Create(c *gin.Context) {
	var req services.CreateTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	trade, err := h.trades.CreateTrade(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, trade)
}

// List
// GET /api/trades?status=&user_id=&limit=
func (h *TradeHandler) List(c *gin.Context) {
	trades, err := h.trades.ListTrades(c.Request.Context(), services.TradeFilter{
		Status: c.Query("status"),
		UserID: c.Query("user_id"),
		Limit:  limitParam(c, 50, 200),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, trades)
}

// Get
// GET /api/trades/:id
func (h *TradeHandler) Get(c *gin.Context) {
	trade, err := h.trades.GetTrade(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, trade)
}

// SubmitProposal
// POST /api/trades/:id/proposals
func (h *TradeHandler) SubmitProposal(c *gin.Context) {
	var req services.ProposalRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	proposal, err := h.trades.SubmitProposal(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, proposal)
}

// ListProposals returns every proposal to the creator and only their own to
// anyone else.
// GET /api/trades/:id/proposals
func (h *TradeHandler) ListProposals(c *gin.Context) {
	proposals, err := h.trades.ListProposals(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, proposals)
}

// AcceptProposal
// POST /api/trades/:id/proposals/:proposalId/accept
func (h *TradeHandler) AcceptProposal(c *gin.Context) {
	trade, err := h.trades.AcceptProposal(c.Request.Context(), c.Param("id"), c.Param("proposalId"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, trade)
}

// RejectProposal
// POST /api/trades/:id/proposals/:proposalId/reject
func (h *TradeHandler) RejectProposal(c *gin.Context) {
	trade, err := h.trades.RejectProposal(c.Request.Context(), c.Param("id"), c.Param("proposalId"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, trade)
}

// Start
// POST /api/trades/:id/start
func (h *TradeHandler) Start(c *gin.Context) {
	trade, err := h.trades.StartTrade(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, trade)
}

// SubmitCompletion
// POST /api/trades/:id/submit
func (h *TradeHandler) SubmitCompletion(c *gin.Context) {
	var req services.CompletionRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	trade, err := h.trades.SubmitCompletion(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, trade)
}

// RequestChanges
// POST /api/trades/:id/request-changes
func (h *TradeHandler) RequestChanges(c *gin.Context) {
	var body reasonBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	trade, err := h.trades.RequestChanges(c.Request.Context(), c.Param("id"), body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, trade)
}

// Confirm
// POST /api/trades/:id/confirm
func (h *TradeHandler) Confirm(c *gin.Context) {
	trade, err := h.trades.ConfirmCompletion(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, trade)
}

// Cancel
// POST /api/trades/:id/cancel
func (h *TradeHandler) Cancel(c *gin.Context) {
	trade, err := h.trades.CancelTrade(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, trade)
}

// Dispute
// POST /api/trades/:id/dispute
func (h *TradeHandler) Dispute(c *gin.Context) {
	var body reasonBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	trade, err := h.trades.DisputeTrade(c.Request.Context(), c.Param("id"), body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, trade)
}
