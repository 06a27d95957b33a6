package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tradeya/backend/internal/services"
)

type SystemConfigHandler struct {
	configService *services.SystemConfigService
}

func NewSystemConfigHandler(configService *services.SystemConfigService) *SystemConfigHandler {
	return &SystemConfigHandler{configService: configService}
}

// GetGroup returns the settings of one group, e.g. auth
// GET /api/admin/system-config/:group
func (h *SystemConfigHandler) GetGroup(c *gin.Context) {
	configs, err := h.configService.GetByGroup(c.Param("group"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	values := make(map[string]string, len(configs))
	for _, cfg := range configs {
		values[cfg.Key] = cfg.Value
	}
	c.JSON(http.StatusOK, values)
}

// Update writes the given keys in one transaction
// PUT /api/admin/system-config
func (h *SystemConfigHandler) Update(c *gin.Context) {
	var values map[string]string
	if err := c.ShouldBindJSON(&values); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(values) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no settings given"})
		return
	}

	if err := h.configService.UpdateBatch(values); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, values)
}
