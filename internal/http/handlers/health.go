package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/slabworks/cardvault-backend/internal/http/response"
)

type HealthHandler struct {
	db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// GET /healthcheck
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err != nil {
		response.RespondError(c, http.StatusServiceUnavailable, "db_unavailable", err)
		return
	}
	if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		response.RespondError(c, http.StatusServiceUnavailable, "db_unavailable", err)
		return
	}
	response.RespondOK(c, gin.H{"status": "ok"})
}
