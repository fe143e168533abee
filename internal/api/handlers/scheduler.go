// Package handlers holds HTTP handlers that are not owned by a domain
// package.
package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/slipstream/acquire/internal/scheduler"
)

// Tasks is the scheduler surface exposed over HTTP.
type Tasks interface {
	ListTasks() []scheduler.TaskInfo
	GetTask(id string) (*scheduler.TaskInfo, error)
	RunNow(id string) error
}

// SchedulerHandler serves the scheduled task endpoints.
type SchedulerHandler struct {
	tasks Tasks
}

func NewSchedulerHandler(tasks Tasks) *SchedulerHandler {
	return &SchedulerHandler{tasks: tasks}
}

// ListTasks handles GET /scheduler/tasks.
func (h *SchedulerHandler) ListTasks(c echo.Context) error {
	return c.JSON(http.StatusOK, h.tasks.ListTasks())
}

// GetTask handles GET /scheduler/tasks/:id.
func (h *SchedulerHandler) GetTask(c echo.Context) error {
	task, err := h.tasks.GetTask(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, task)
}

// RunTask handles POST /scheduler/tasks/:id/run.
func (h *SchedulerHandler) RunTask(c echo.Context) error {
	id := c.Param("id")
	if err := h.tasks.RunNow(id); err != nil {
		status := http.StatusNotFound
		if errors.Is(err, scheduler.ErrTaskRunning) {
			status = http.StatusConflict
		}
		return echo.NewHTTPError(status, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"message": "Task started",
		"taskId":  id,
	})
}
