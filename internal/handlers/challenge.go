package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/tradeya/backend/internal/services"
	"github.com/tradeya/backend/pkg/response"
)

type ChallengeHandler struct {
	challenges *services.ChallengeService
}

func NewChallengeHandler(challenges *services.ChallengeService) *ChallengeHandler {
	return &ChallengeHandler{challenges: challenges}
}

type completeChallengeBody struct {
	Evidence []services.Evidence `json:"evidence"`
}

// POST /api/challenges
func (h *ChallengeHandler) Create(c *gin.Context) {
	var req services.CreateChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	challenge, err := h.challenges.CreateChallenge(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, challenge)
}

// GET /api/challenges?status=&limit=
func (h *ChallengeHandler) List(c *gin.Context) {
	challenges, err := h.challenges.ListChallenges(c.Request.Context(), c.Query("status"), limitParam(c, 50, 200))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, challenges)
}

// GET /api/challenges/:id
func (h *ChallengeHandler) Get(c *gin.Context) {
	challenge, err := h.challenges.GetChallenge(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, challenge)
}

// POST /api/challenges/:id/join
func (h *ChallengeHandler) Join(c *gin.Context) {
	uc, err := h.challenges.JoinChallenge(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, uc)
}

// POST /api/challenges/:id/complete
func (h *ChallengeHandler) Complete(c *gin.Context) {
	var body completeChallengeBody
	if err := bindOptionalJSON(c, &body); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	uc, err := h.challenges.CompleteChallenge(c.Request.Context(), c.Param("id"), body.Evidence)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, uc)
}

// POST /api/challenges/:id/abandon
func (h *ChallengeHandler) Abandon(c *gin.Context) {
	uc, err := h.challenges.AbandonChallenge(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, uc)
}

// POST /api/challenges/:id/close
func (h *ChallengeHandler) Close(c *gin.Context) {
	challenge, err := h.challenges.CloseChallenge(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, challenge)
}
