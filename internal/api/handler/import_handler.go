package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codepulse/heartbeat-importer/internal/api/dto"
	"github.com/codepulse/heartbeat-importer/internal/identity"
	"github.com/codepulse/heartbeat-importer/internal/importjob"
)

// SubmitImport handles POST /api/v1/imports
// Deduplicates prior failed attempts, enqueues the job fingerprint, and
// returns "submitted" without waiting for execution.
func (h *ImportHandler) SubmitImport(c *gin.Context) {
	fp, ok := h.fingerprintFromRequest(c)
	if !ok {
		return
	}

	// Clear dead rows so a fixed, resubmitted job does not collide with
	// its own prior failure
	deleted, err := h.queue.DeleteMatching(c.Request.Context(), fp)
	if err != nil {
		h.logger.Error("Failed to delete prior failed rows", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to submit import",
		})
		return
	}
	if deleted > 0 {
		h.logger.Info("Cleared prior failed attempts",
			slog.String("requester", fp.Requester),
			slog.Int64("deleted", deleted),
		)
	}

	if err := h.queue.Enqueue(c.Request.Context(), fp); err != nil {
		h.logger.Error("Failed to enqueue import job", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to submit import",
		})
		return
	}

	// Best effort: the row is durable, workers poll as a fallback
	if err := h.notifier.Wake(c.Request.Context(), fp); err != nil {
		h.logger.Warn("Failed to notify workers", slog.Any("error", err))
	}

	h.logger.Info("Import job submitted",
		slog.String("requester", fp.Requester),
		slog.String("start_date", fp.Request.StartDate.String()),
		slog.String("end_date", fp.Request.EndDate.String()),
	)

	c.JSON(http.StatusOK, dto.ImportResponse{
		JobStatus: string(importjob.StatusSubmitted),
	})
}

// ImportStatus handles POST /api/v1/imports/status
// Resolves the job status for the same fingerprint a submission would
// produce. Never returns "submitted"; that status is emitted only by
// the submit path.
func (h *ImportHandler) ImportStatus(c *gin.Context) {
	fp, ok := h.fingerprintFromRequest(c)
	if !ok {
		return
	}

	status, err := h.queue.StatusOf(c.Request.Context(), fp)
	if err != nil {
		h.logger.Error("Failed to resolve job status", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to resolve import status",
		})
		return
	}

	c.JSON(http.StatusOK, dto.ImportResponse{
		JobStatus: string(status),
	})
}

// fingerprintFromRequest validates the request, resolves the requester
// identity from the credential, and builds the job fingerprint. A
// missing credential is terminal and checked before anything else.
func (h *ImportHandler) fingerprintFromRequest(c *gin.Context) (importjob.Fingerprint, bool) {
	var req dto.ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return importjob.Fingerprint{}, false
	}

	if req.APIToken == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": importjob.ErrMissingAuth.Error(),
		})
		return importjob.Fingerprint{}, false
	}

	startDate, err := importjob.ParseDate(req.StartDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "start_date must be a valid YYYY-MM-DD date",
		})
		return importjob.Fingerprint{}, false
	}

	endDate, err := importjob.ParseDate(req.EndDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "end_date must be a valid YYYY-MM-DD date",
		})
		return importjob.Fingerprint{}, false
	}

	requester, err := h.identity.ResolveToken(c.Request.Context(), req.APIToken)
	if err != nil {
		if errors.Is(err, identity.ErrUnknownToken) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Unknown api token",
			})
			return importjob.Fingerprint{}, false
		}
		h.logger.Error("Failed to resolve requester identity", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to resolve requester",
		})
		return importjob.Fingerprint{}, false
	}

	return importjob.Fingerprint{
		Requester: requester,
		Request: importjob.Request{
			APIToken:  req.APIToken,
			StartDate: startDate,
			EndDate:   endDate,
		},
	}, true
}
