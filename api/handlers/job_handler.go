package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/media-fetch-go/internal/app"
	"github.com/yourusername/media-fetch-go/internal/domain"
	"github.com/yourusername/media-fetch-go/internal/infrastructure"
)

// JobHandler exposes the job control API
type JobHandler struct {
	jobMgr *app.JobManager
	logger *zap.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobMgr *app.JobManager, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		jobMgr: jobMgr,
		logger: logger,
	}
}

// CreateJobRequest represents a request to create a job. When Items is set
// only those URLs are downloaded; Titles and Thumbnails match by position.
type CreateJobRequest struct {
	URL        string   `json:"url" binding:"required"`
	Items      []string `json:"items,omitempty"`
	Titles     []string `json:"titles,omitempty"`
	Thumbnails []string `json:"thumbnails,omitempty"`
}

// CleanupRequest selects which finished jobs a cleanup removes
type CleanupRequest struct {
	Days int  `json:"days"`
	All  bool `json:"all"`
}

// CreateJob handles POST /api/v1/jobs
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var id string
	var err error
	if len(req.Items) > 0 {
		id, err = h.jobMgr.CreateJobWithItems(req.URL, req.Items, req.Titles, req.Thumbnails)
	} else {
		id, err = h.jobMgr.CreateJob(req.URL)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}

	job, err := h.jobMgr.GetJob(id)
	if err != nil {
		// deleted before we could read it back
		c.JSON(http.StatusCreated, gin.H{"id": id})
		return
	}
	c.JSON(http.StatusCreated, job)
}

// ListJobs handles GET /api/v1/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	jobs := h.jobMgr.ListJobs()
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJob handles GET /api/v1/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.jobMgr.GetJob(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// CancelJob handles POST /api/v1/jobs/:id/cancel
func (h *JobHandler) CancelJob(c *gin.Context) {
	h.control(c, h.jobMgr.CancelJob)
}

// PauseJob handles POST /api/v1/jobs/:id/pause
func (h *JobHandler) PauseJob(c *gin.Context) {
	h.control(c, h.jobMgr.PauseJob)
}

// ResumeJob handles POST /api/v1/jobs/:id/resume
func (h *JobHandler) ResumeJob(c *gin.Context) {
	h.control(c, h.jobMgr.ResumeJob)
}

// PauseItem handles POST /api/v1/jobs/:id/items/:index/pause
func (h *JobHandler) PauseItem(c *gin.Context) {
	h.itemControl(c, h.jobMgr.PauseItem)
}

// ResumeItem handles POST /api/v1/jobs/:id/items/:index/resume
func (h *JobHandler) ResumeItem(c *gin.Context) {
	h.itemControl(c, h.jobMgr.ResumeItem)
}

// DeleteJob handles DELETE /api/v1/jobs/:id
func (h *JobHandler) DeleteJob(c *gin.Context) {
	id := c.Param("id")
	if !h.jobMgr.DeleteJob(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
}

// InvalidateArchive handles POST /api/v1/jobs/:id/invalidate-archive
func (h *JobHandler) InvalidateArchive(c *gin.Context) {
	id := c.Param("id")
	if !h.jobMgr.InvalidateArchive(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "rebuilding"})
}

// DownloadArchive handles GET /api/v1/jobs/:id/archive
func (h *JobHandler) DownloadArchive(c *gin.Context) {
	id := c.Param("id")
	path, err := h.jobMgr.ArchiveFile(id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	name := id
	if job, err := h.jobMgr.GetJob(id); err == nil && job.CollectionTitle != "" {
		name = infrastructure.SanitizeFolderName(job.CollectionTitle)
	}
	c.FileAttachment(path, name+".zip")
}

// Cleanup handles POST /api/v1/storage/cleanup
func (h *JobHandler) Cleanup(c *gin.Context) {
	var req CleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch {
	case req.All:
		c.JSON(http.StatusOK, h.jobMgr.CleanupAllTerminal())
	case req.Days > 0:
		c.JSON(http.StatusOK, h.jobMgr.CleanupOlderThan(req.Days))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "set days > 0 or all"})
	}
}

// DiskUsage handles GET /api/v1/storage/usage
func (h *JobHandler) DiskUsage(c *gin.Context) {
	c.JSON(http.StatusOK, h.jobMgr.DiskUsage())
}

// control runs a job-level operation and replies with the updated job
func (h *JobHandler) control(c *gin.Context, op func(id string) bool) {
	id := c.Param("id")
	if !op(id) {
		h.rejected(c, id)
		return
	}
	h.GetJob(c)
}

func (h *JobHandler) itemControl(c *gin.Context, op func(id string, index int) bool) {
	id := c.Param("id")
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item index"})
		return
	}
	if !op(id, index) {
		h.rejected(c, id)
		return
	}
	h.GetJob(c)
}

// rejected tells an unknown job apart from one in the wrong state
func (h *JobHandler) rejected(c *gin.Context, id string) {
	if _, err := h.jobMgr.GetJob(id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusConflict, gin.H{"error": "operation not allowed in the job's current state"})
}

func (h *JobHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidURL), errors.Is(err, domain.ErrNoItems):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrArchiveNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
