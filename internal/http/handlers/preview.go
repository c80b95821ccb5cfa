package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/slabworks/cardvault-backend/internal/http/response"
	"github.com/slabworks/cardvault-backend/internal/platform/apperr"
	"github.com/slabworks/cardvault-backend/internal/services"
)

type PreviewHandler struct {
	previews services.PreviewService
}

func NewPreviewHandler(previews services.PreviewService) *PreviewHandler {
	return &PreviewHandler{previews: previews}
}

// POST /api/admin/sets/replace/preview
func (h *PreviewHandler) ComputePreview(c *gin.Context) {
	var req services.PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	report, err := h.previews.Compute(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidArgument) {
			response.RespondError(c, http.StatusBadRequest, "invalid_preview_request", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "preview_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"preview": report})
}
