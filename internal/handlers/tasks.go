package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/enginelhq/enginel-backend/internal/taskmon"
)

type TasksHandler struct {
	monitor *taskmon.Monitor
}

func NewTasksHandler(monitor *taskmon.Monitor) *TasksHandler {
	return &TasksHandler{monitor: monitor}
}

// GET /api/tasks/:id/status
func (h *TasksHandler) GetStatus(c *gin.Context) {
	taskID := c.Param("id")
	status, err := h.monitor.GetStatus(c.Request.Context(), taskID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "status_lookup_failed", err)
		return
	}
	RespondOK(c, status)
}

// GET /api/tasks/:id/progress
func (h *TasksHandler) GetProgress(c *gin.Context) {
	taskID := c.Param("id")
	progress, ok := h.monitor.GetProgress(c.Request.Context(), taskID)
	if !ok {
		RespondError(c, http.StatusNotFound, "no_progress", fmt.Errorf("no progress recorded for task %s", taskID))
		return
	}
	RespondOK(c, progress)
}

// POST /api/tasks/:id/cancel?terminate=
func (h *TasksHandler) Cancel(c *gin.Context) {
	taskID := c.Param("id")
	terminate := c.Query("terminate") == "true"
	if err := h.monitor.Cancel(c.Request.Context(), taskID, terminate); err != nil {
		RespondError(c, http.StatusInternalServerError, "cancel_failed", err)
		return
	}
	RespondOK(c, gin.H{"task_id": taskID, "cancelled": true, "terminated": terminate})
}

// GET /api/tasks/metrics?job_type=
func (h *TasksHandler) GetMetrics(c *gin.Context) {
	metrics := h.monitor.GetMetrics(c.Request.Context(), c.Query("job_type"))
	RespondOK(c, gin.H{"metrics": metrics})
}

// GET /api/tasks/failures?days=
func (h *TasksHandler) GetFailureAnalysis(c *gin.Context) {
	days, _ := strconv.Atoi(c.Query("days"))
	analysis, err := h.monitor.GetFailureAnalysis(c.Request.Context(), days)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "failure_analysis_failed", err)
		return
	}
	RespondOK(c, analysis)
}

// GET /api/tasks/recent?limit=&status=
func (h *TasksHandler) GetRecent(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	records, err := h.monitor.RecentJobs(c.Request.Context(), limit, c.Query("status"))
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "recent_lookup_failed", err)
		return
	}
	RespondOK(c, gin.H{"jobs": records})
}
