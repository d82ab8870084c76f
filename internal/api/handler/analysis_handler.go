package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/labelscan/internal/api/dto"
	"github.com/cuongbtq/labelscan/internal/domain"
	"github.com/cuongbtq/labelscan/internal/status"
	"github.com/cuongbtq/labelscan/internal/submission"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// multipartOverhead is allowed on top of the file size for form boundaries
// and headers
const multipartOverhead = 1 << 20

// Submit handles POST /api/v1/analyses
// Answers from the result cache or queues a new analysis job
func (h *AnalysisHandler) Submit(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(c, domain.NewInputError("content exceeds %d bytes", h.maxUploadBytes))
			return
		}
		h.logger.Warn("Missing upload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "file is required"})
		return
	}

	if err := h.coordinator.CheckFilename(fileHeader.Filename); err != nil {
		h.writeError(c, err)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("Failed to open upload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "failed to read upload"})
		return
	}
	defer file.Close()

	out, err := h.coordinator.Submit(c.Request.Context(), file)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if out.Cached {
		c.JSON(http.StatusOK, dto.SubmitResponse{
			Cached:      true,
			Result:      out.Result,
			Fingerprint: string(out.Fingerprint),
		})
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitResponse{
		Cached:      false,
		JobID:       out.JobID,
		Status:      dto.StatusProcessing,
		Fingerprint: string(out.Fingerprint),
	})
}

// GetJob handles GET /api/v1/analyses/:job_id
func (h *AnalysisHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Warn("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "job_id must be a valid UUID"})
		return
	}

	s, err := h.coordinator.Status(c.Request.Context(), jobID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromJobStatus(s))
}

// ListJobs handles GET /api/v1/analyses
// Lists jobs newest first with optional status filter and cursor pagination
func (h *AnalysisHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid query parameters"})
		return
	}

	state := domain.State(req.Status)
	if state != "" && !state.Valid() {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "status must be one of PENDING, RUNNING, SUCCESS, FAILURE"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid cursor"})
		return
	}

	jobs, err := h.coordinator.List(c.Request.Context(), status.JobFilter{
		State:    state,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(jobs))}
	for i := range jobs {
		resp.Jobs[i] = dto.FromJobStatus(&jobs[i])
	}

	if hasMore {
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeJobCursor(&status.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.JobID,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// writeError maps the domain error taxonomy onto HTTP responses
func (h *AnalysisHandler) writeError(c *gin.Context, err error) {
	var inputErr *domain.InputError

	switch {
	case errors.As(err, &inputErr):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: inputErr.Reason})
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "job not found"})
	case errors.Is(err, submission.ErrListingUnsupported):
		c.JSON(http.StatusNotImplemented, dto.ErrorResponse{Error: err.Error()})
	case domain.IsInfrastructure(err):
		h.logger.Error("Backing service unavailable",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "service temporarily unavailable"})
	default:
		h.logger.Error("Request failed",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal error"})
	}
}
