package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/tradeya/backend/internal/middleware"
	"github.com/tradeya/backend/internal/models"
	"github.com/tradeya/backend/internal/services"
	"github.com/tradeya/backend/pkg/response"
)

// UserLookup resolves registered accounts.
type UserLookup interface {
	GetUserByID(id string) (*models.User, error)
}

type ConnectionHandler struct {
	relationships *services.RelationshipService
	users         UserLookup
}

func NewConnectionHandler(relationships *services.RelationshipService, users UserLookup) *ConnectionHandler {
	return &ConnectionHandler{relationships: relationships, users: users}
}

type createConnectionBody struct {
	CounterpartUserID string `json:"counterpartUserId" binding:"required"`
	Message           string `json:"message"`
}

type updateConnectionBody struct {
	Status string `json:"status" binding:"required,oneof=accepted rejected"`
}

// List returns the caller's connections
// GET /api/connections?status=
func (h *ConnectionHandler) List(c *gin.Context) {
	conns, err := h.relationships.ListRelationships(c.Request.Context(), middleware.GetUserID(c), c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, conns)
}

// Create sends a connection request, writing both halves
// POST /api/connections
func (h *ConnectionHandler) Create(c *gin.Context) {
	var body createConnectionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	me := middleware.GetUserID(c)
	if body.CounterpartUserID != me {
		if _, err := h.users.GetUserByID(body.CounterpartUserID); err != nil {
			respondError(c, err)
			return
		}
	}

	conn, err := h.relationships.CreateRelationship(c.Request.Context(), me, body.CounterpartUserID,
		&services.CreateConnectionRequest{Message: body.Message})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, conn)
}

// Get returns the caller's half of the connection with :userId
// GET /api/connections/:userId
func (h *ConnectionHandler) Get(c *gin.Context) {
	conn, err := h.relationships.GetRelationship(c.Request.Context(), middleware.GetUserID(c), c.Param("userId"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, conn)
}

// Update accepts or rejects the connection with :userId
// PUT /api/connections/:userId
func (h *ConnectionHandler) Update(c *gin.Context) {
	var body updateConnectionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.relationships.UpdateRelationshipStatus(c.Request.Context(), middleware.GetUserID(c), c.Param("userId"), body.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, result)
}

// Delete removes both halves of the connection with :userId
// DELETE /api/connections/:userId
func (h *ConnectionHandler) Delete(c *gin.Context) {
	if err := h.relationships.RemoveRelationship(c.Request.Context(), middleware.GetUserID(c), c.Param("userId")); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "connection removed"})
}
