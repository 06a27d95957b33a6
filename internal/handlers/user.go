package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/tradeya/backend/internal/middleware"
	"github.com/tradeya/backend/internal/models"
	"github.com/tradeya/backend/internal/services"
	"github.com/tradeya/backend/pkg/response"
)

// UserHandler serves per-user profile data and admin account management.
type UserHandler struct {
	auth       *services.AuthService
	xp         *services.GamificationService
	portfolio  *services.PortfolioService
	challenges *services.ChallengeService
	trades     *services.TradeService
}

func NewUserHandler(auth *services.AuthService, xp *services.GamificationService, portfolio *services.PortfolioService,
	challenges *services.ChallengeService, trades *services.TradeService) *UserHandler {
	return &UserHandler{
		auth:       auth,
		xp:         xp,
		portfolio:  portfolio,
		challenges: challenges,
		trades:     trades,
	}
}

// userParam resolves :id, where "me" is the caller.
func userParam(c *gin.Context) string {
	id := c.Param("id")
	if id == "me" {
		return middleware.GetUserID(c)
	}
	return id
}

// XP returns the XP total and latest ledger entries
// GET /api/users/:id/xp
func (h *UserHandler) XP(c *gin.Context) {
	summary, err := h.xp.GetSummary(c.Request.Context(), userParam(c), limitParam(c, 20, 100))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, summary)
}

// Portfolio lists visible items; owners and admins also see hidden ones.
// GET /api/users/:id/portfolio
func (h *UserHandler) Portfolio(c *gin.Context) {
	userID := userParam(c)
	includeHidden := userID == middleware.GetUserID(c) || middleware.GetRole(c) == models.RoleAdmin
	items, err := h.portfolio.List(c.Request.Context(), userID, includeHidden)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, items)
}

// RemovePortfolioItem
// DELETE /api/users/me/portfolio/:itemId
func (h *UserHandler) RemovePortfolioItem(c *gin.Context) {
	if err := h.portfolio.Remove(c.Request.Context(), middleware.GetUserID(c), c.Param("itemId")); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "portfolio item removed"})
}

// Challenges lists participation records
// GET /api/users/:id/challenges?status=
func (h *UserHandler) Challenges(c *gin.Context) {
	ucs, err := h.challenges.ListUserChallenges(c.Request.Context(), userParam(c), c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, ucs)
}

// Proposals lists the proposals a user has sent
// GET /api/users/:id/proposals
func (h *UserHandler) Proposals(c *gin.Context) {
	proposals, err := h.trades.ListUserProposals(c.Request.Context(), userParam(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, proposals)
}

// List pages through accounts
// GET /api/admin/users?page=&page_size=&search=
func (h *UserHandler) List(c *gin.Context) {
	page, pageSize := pageParams(c)
	users, total, err := h.auth.ListUsers(page, pageSize, c.Query("search"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Page(c, users, total, page, pageSize)
}

// Update changes role or active flag
// PUT /api/admin/users/:id
func (h *UserHandler) Update(c *gin.Context) {
	id := c.Param("id")
	if id == middleware.GetUserID(c) {
		response.BadRequest(c, "cannot modify your own account")
		return
	}

	var req services.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user, err := h.auth.UpdateUser(id, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, user)
}
