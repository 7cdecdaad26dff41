package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	internalhttp "github.com/router-for-me/MemberLedger/internal/http"
	"github.com/router-for-me/MemberLedger/internal/integrity"
)

// IntegrityHandler serves referral graph integrity reports.
type IntegrityHandler struct {
	checker *integrity.Checker
	tasks   *integrity.TaskStore
}

// NewIntegrityHandler constructs an IntegrityHandler.
func NewIntegrityHandler(checker *integrity.Checker, tasks *integrity.TaskStore) *IntegrityHandler {
	return &IntegrityHandler{checker: checker, tasks: tasks}
}

// Report scans the graph and returns the report as JSON. With cached=1 the
// latest background scan is returned instead when one exists.
func (h *IntegrityHandler) Report(c *gin.Context) {
	if c.Query("cached") == "1" && h.tasks != nil {
		if report, ok := h.tasks.Latest(); ok {
			c.JSON(http.StatusOK, report)
			return
		}
	}
	report, errScan := h.checker.Scan(c.Request.Context())
	if errScan != nil {
		internalhttp.WriteError(c, errScan)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ReportCSV scans the graph and returns the findings as a CSV attachment.
func (h *IntegrityHandler) ReportCSV(c *gin.Context) {
	report, errScan := h.checker.Scan(c.Request.Context())
	if errScan != nil {
		internalhttp.WriteError(c, errScan)
		return
	}
	var buf bytes.Buffer
	if errWrite := integrity.WriteCSV(&buf, report); errWrite != nil {
		internalhttp.WriteError(c, errWrite)
		return
	}
	filename := fmt.Sprintf("integrity-%s.csv", report.GeneratedAt.Format("20060102-150405"))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// CreateScan starts a background scan and returns its task id.
func (h *IntegrityHandler) CreateScan(c *gin.Context) {
	if h.tasks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scan tasks unavailable"})
		return
	}
	task := h.tasks.Run(context.WithoutCancel(c.Request.Context()), h.checker, actor(c))
	c.JSON(http.StatusAccepted, gin.H{
		"task_id": task.TaskID,
		"status":  task.Status,
	})
}

// GetScan returns a scan task with its report once finished.
func (h *IntegrityHandler) GetScan(c *gin.Context) {
	if h.tasks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scan tasks unavailable"})
		return
	}
	taskID := strings.TrimSpace(c.Param("task_id"))
	task, ok := h.tasks.Get(taskID)
	if taskID == "" || !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}
