package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/slabworks/cardvault-backend/internal/http/response"
	"github.com/slabworks/cardvault-backend/internal/platform/apperr"
	"github.com/slabworks/cardvault-backend/internal/services"
)

type ReplaceHandler struct {
	replaces services.ReplaceService
}

func NewReplaceHandler(replaces services.ReplaceService) *ReplaceHandler {
	return &ReplaceHandler{replaces: replaces}
}

// POST /api/admin/sets/replace
func (h *ReplaceHandler) CreateJob(c *gin.Context) {
	var req services.CreateReplaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	job, err := h.replaces.Create(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrInvalidArgument):
			response.RespondError(c, http.StatusBadRequest, "invalid_replace_request", err)
		case errors.Is(err, apperr.ErrConflict):
			response.RespondError(c, http.StatusConflict, "replace_conflict", err)
		default:
			response.RespondError(c, http.StatusInternalServerError, "replace_create_failed", err)
		}
		return
	}
	response.RespondAccepted(c, gin.H{"job": job})
}

// GET /api/admin/replace-jobs/:id
func (h *ReplaceHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.replaces.GetByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			response.RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "job_lookup_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// GET /api/admin/sets/:setId/replace-jobs
func (h *ReplaceHandler) ListJobs(c *gin.Context) {
	setLabel := c.Param("setId")
	if setLabel == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_set_id", errors.New("set id path parameter is required"))
		return
	}
	jobs, err := h.replaces.ListBySet(c.Request.Context(), setLabel)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "job_list_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"jobs": jobs})
}

// POST /api/admin/replace-jobs/:id/cancel
func (h *ReplaceHandler) CancelJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.replaces.Cancel(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			response.RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "cancel_job_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}
