package tracker

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"farmops/pkg/errutil"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/api/repos", h.ListRepositories)
	r.POST("/api/repos/:id/enable", h.EnableRepository)
	r.POST("/api/repos/:id/disable", h.DisableRepository)
	r.GET("/api/tasks", h.ListTasks)
}

func (h *Handler) ListRepositories(c *gin.Context) {
	query := h.svc.db.WithContext(c.Request.Context())
	if orgID := c.Query("org_id"); orgID != "" {
		query = query.Where("org_id = ?", orgID)
	}

	var repos []Repository
	if err := query.Order("full_name ASC").Find(&repos).Error; err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"repositories": repos})
}

func (h *Handler) EnableRepository(c *gin.Context) {
	h.setEnabled(c, true)
}

func (h *Handler) DisableRepository(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *Handler) setEnabled(c *gin.Context, enabled bool) {
	id := c.Param("id")

	res := h.svc.db.WithContext(c.Request.Context()).Model(&Repository{}).
		Where("id = ?", id).
		Update("enabled", enabled)
	if res.Error != nil {
		c.Error(res.Error)
		return
	}
	if res.RowsAffected == 0 {
		c.Error(errutil.NotFound("repository not found"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "enabled": enabled})
}

// ListTasks returns tasks, newest first, optionally filtered by repo and
// status.
func (h *Handler) ListTasks(c *gin.Context) {
	query := h.svc.db.WithContext(c.Request.Context()).Model(&Task{})
	if repoID := c.Query("repo_id"); repoID != "" {
		query = query.Where("repo_id = ?", repoID)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var tasks []Task
	if err := query.Order("opened_at DESC").Limit(100).Find(&tasks).Error; err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}
