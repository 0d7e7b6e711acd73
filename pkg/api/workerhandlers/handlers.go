// Package workerhandlers wires the worker's gin routes (spec.md §6) onto
// internal/workerengine.Engine, grounded in the same teacher handler idiom
// as pkg/api/masterhandlers.
package workerhandlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/luckygeck/dedalus/internal/errtaxonomy"
	"github.com/luckygeck/dedalus/internal/state"
	"github.com/luckygeck/dedalus/internal/workerengine"
	"github.com/luckygeck/dedalus/pkg/api/dto"
	"github.com/luckygeck/dedalus/pkg/models"
)

// Handlers holds the collaborators every worker route needs.
type Handlers struct {
	Engine *workerengine.Engine
}

func New(engine *workerengine.Engine) *Handlers {
	return &Handlers{Engine: engine}
}

// Register mounts every route spec.md §6 names for the worker API onto r.
func (h *Handlers) Register(r *gin.Engine) {
	v1 := r.Group("/v1.0")
	v1.POST("/task/", h.CreateTask)
	v1.GET("/task/:id", h.GetTask)
	v1.GET("/task/:id/state", h.GetTaskState)
	v1.POST("/task/:id/start", h.StartTask)
	v1.POST("/task/:id/stop", h.StopTask)
	v1.GET("/task/:id/log/:stream", h.GetTaskLog)
	v1.GET("/tasks", h.ListTasks)
}

func respondError(c *gin.Context, err error) {
	if te, ok := errtaxonomy.As(err); ok {
		c.JSON(te.HTTPStatus, dto.Err(string(te.Code), te.Reason))
		return
	}
	c.JSON(http.StatusInternalServerError, dto.Err(string(errtaxonomy.CodeBackendError), err.Error()))
}

type createTaskRequest struct {
	Structure models.TaskStruct `json:"structure" binding:"required"`
}

func (h *Handlers) CreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errtaxonomy.AppError("invalid task struct body", err))
		return
	}
	taskID, err := h.Engine.CreateTask(c.Request.Context(), req.Structure)
	if err != nil {
		respondError(c, errtaxonomy.BackendError("persist new task", err))
		return
	}
	c.JSON(http.StatusOK, dto.OK(gin.H{"task_id": taskID}))
}

func (h *Handlers) GetTask(c *gin.Context) {
	info, err := h.Engine.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, errtaxonomy.NotFoundError("task not found"))
		return
	}
	c.JSON(http.StatusOK, dto.OK(info))
}

func (h *Handlers) GetTaskState(c *gin.Context) {
	taskState, err := h.Engine.GetTaskState(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, errtaxonomy.NotFoundError("task not found"))
		return
	}
	c.JSON(http.StatusOK, dto.OK(gin.H{"state": taskState}))
}

func (h *Handlers) StartTask(c *gin.Context) {
	h.setState(c, state.TaskPreparing)
}

func (h *Handlers) StopTask(c *gin.Context) {
	h.setState(c, state.TaskStopped)
}

func (h *Handlers) setState(c *gin.Context, target string) {
	taskID := c.Param("id")
	if err := h.Engine.SetTaskState(c.Request.Context(), taskID, target); err != nil {
		respondError(c, err)
		return
	}
	taskState, err := h.Engine.GetTaskState(c.Request.Context(), taskID)
	if err != nil {
		respondError(c, errtaxonomy.BackendError("reload task state", err))
		return
	}
	c.JSON(http.StatusOK, dto.OK(gin.H{"state": taskState}))
}

func (h *Handlers) GetTaskLog(c *gin.Context) {
	stream := c.Param("stream")
	if stream != "out" && stream != "err" {
		respondError(c, errtaxonomy.AppError("stream must be out or err", nil))
		return
	}
	log, err := h.Engine.GetTaskLog(c.Request.Context(), c.Param("id"), stream)
	if err != nil {
		respondError(c, errtaxonomy.BackendError("read task log", err))
		return
	}
	c.String(http.StatusOK, "%s", log)
}

func (h *Handlers) ListTasks(c *gin.Context) {
	tasks, err := h.Engine.ListTasks(c.Request.Context())
	if err != nil {
		respondError(c, errtaxonomy.BackendError("list tasks", err))
		return
	}
	c.JSON(http.StatusOK, dto.OK(tasks))
}
