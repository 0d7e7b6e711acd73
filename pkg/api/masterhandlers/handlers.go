// Package masterhandlers wires the master's gin routes (spec.md §6) onto
// internal/graphexec.Engine, grounded in the teacher's pkg/api/handlers
// (gin.Context binding, dto.Envelope responses, errtaxonomy-driven status
// codes) generalized from the teacher's DAG/DAGRun/TaskInstance resources
// to Dedalus's graph/instance resources.
package masterhandlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/luckygeck/dedalus/internal/dagutil"
	"github.com/luckygeck/dedalus/internal/errtaxonomy"
	"github.com/luckygeck/dedalus/internal/graphexec"
	"github.com/luckygeck/dedalus/internal/state"
	"github.com/luckygeck/dedalus/pkg/api/dto"
	"github.com/luckygeck/dedalus/pkg/models"
)

// Handlers holds the collaborators every master route needs.
type Handlers struct {
	Engine    *graphexec.Engine
	Publisher state.EventPublisher // optional; nil disables the change feed
}

func New(engine *graphexec.Engine, publisher state.EventPublisher) *Handlers {
	return &Handlers{Engine: engine, Publisher: publisher}
}

func (h *Handlers) publish(entityID, from, to string) {
	if h.Publisher == nil {
		return
	}
	_ = h.Publisher.Publish(state.TransitionEvent{
		EntityType: "graph_instance",
		EntityID:   entityID,
		OldState:   from,
		NewState:   to,
	})
}

// Register mounts every route named in spec.md §6 onto r.
func (h *Handlers) Register(r *gin.Engine) {
	r.GET("/ping", h.Ping)

	v1 := r.Group("/v1.0")
	v1.GET("/graphs", h.ListGraphs)
	v1.POST("/graph/:name", h.CreateGraph)
	v1.GET("/graph/:name", h.GetGraph)
	v1.GET("/graph/:name/:revision", h.GetGraph)
	v1.POST("/graph/:name/launch", h.LaunchGraph)
	v1.POST("/graph/:name/:revision/launch", h.LaunchGraph)
	v1.GET("/instances", h.ListInstances)
	v1.GET("/instance/:id", h.GetInstance)
	v1.POST("/instance/:id/start", h.StartInstance)
	v1.POST("/instance/:id/stop", h.StopInstance)
	v1.GET("/instance/:id/logs/:task/:host/:stream", h.InstanceLog)
}

func (h *Handlers) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, dto.OK("pong"))
}

func respondError(c *gin.Context, err error) {
	if te, ok := errtaxonomy.As(err); ok {
		c.JSON(te.HTTPStatus, dto.Err(string(te.Code), te.Reason))
		return
	}
	var ft *state.ForbiddenTransition
	if errors.As(err, &ft) {
		c.JSON(http.StatusConflict, dto.Err(string(errtaxonomy.CodeAppError), ft.Error()))
		return
	}
	c.JSON(http.StatusInternalServerError, dto.Err(string(errtaxonomy.CodeBackendError), err.Error()))
}

func (h *Handlers) ListGraphs(c *gin.Context) {
	graphs, err := h.Engine.ListGraphNames(c.Request.Context())
	if err != nil {
		respondError(c, errtaxonomy.BackendError("list graphs", err))
		return
	}
	c.JSON(http.StatusOK, dto.OK(graphs))
}

func (h *Handlers) CreateGraph(c *gin.Context) {
	name := c.Param("name")
	var structure models.GraphStruct
	if err := c.ShouldBindJSON(&structure); err != nil {
		respondError(c, errtaxonomy.AppError("invalid graph struct body", err))
		return
	}
	if err := dagutil.Verify(&structure); err != nil {
		respondError(c, errtaxonomy.AppError("invalid graph struct", err))
		return
	}
	revision, err := h.Engine.AddGraphStruct(c.Request.Context(), name, structure)
	if err != nil {
		respondError(c, errtaxonomy.BackendError("persist graph struct", err))
		return
	}
	c.JSON(http.StatusOK, dto.OK(gin.H{"graph_name": name, "revision": revision}))
}

func (h *Handlers) GetGraph(c *gin.Context) {
	name := c.Param("name")
	ctx := c.Request.Context()

	if rev := c.Param("revision"); rev != "" {
		revision, err := strconv.Atoi(rev)
		if err != nil {
			respondError(c, errtaxonomy.AppError("revision must be an integer", err))
			return
		}
		g, err := h.Engine.GraphRevision(ctx, name, revision)
		if err != nil {
			respondError(c, errtaxonomy.NotFoundError("graph revision not found"))
			return
		}
		c.JSON(http.StatusOK, dto.OK(g))
		return
	}

	g, err := h.Engine.LatestGraphStruct(ctx, name)
	if err != nil {
		respondError(c, errtaxonomy.NotFoundError("graph not found"))
		return
	}
	c.JSON(http.StatusOK, dto.OK(g))
}

func (h *Handlers) LaunchGraph(c *gin.Context) {
	name := c.Param("name")
	ctx := c.Request.Context()

	var structure *models.GraphStruct
	var err error
	if rev := c.Param("revision"); rev != "" {
		revision, convErr := strconv.Atoi(rev)
		if convErr != nil {
			respondError(c, errtaxonomy.AppError("revision must be an integer", convErr))
			return
		}
		structure, err = h.Engine.GraphRevision(ctx, name, revision)
	} else {
		structure, err = h.Engine.LatestGraphStruct(ctx, name)
	}
	if err != nil {
		respondError(c, errtaxonomy.NotFoundError("graph not found"))
		return
	}

	instanceID, err := h.Engine.AddGraphInstance(ctx, *structure)
	if err != nil {
		respondError(c, errtaxonomy.BackendError("create instance", err))
		return
	}
	if _, err := h.Engine.SetGraphInstanceState(ctx, instanceID, state.GraphRunning); err != nil {
		respondError(c, err)
		return
	}
	h.publish(instanceID, state.GraphIdle, state.GraphRunning)

	instance, err := h.Engine.GetInstance(ctx, instanceID)
	if err != nil {
		respondError(c, errtaxonomy.BackendError("load launched instance", err))
		return
	}
	c.JSON(http.StatusOK, dto.OK(instance))
}

func (h *Handlers) ListInstances(c *gin.Context) {
	instances, err := h.Engine.ListInstances(c.Request.Context())
	if err != nil {
		respondError(c, errtaxonomy.BackendError("list instances", err))
		return
	}
	c.JSON(http.StatusOK, dto.OK(instances))
}

func (h *Handlers) GetInstance(c *gin.Context) {
	instance, err := h.Engine.GetInstance(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, errtaxonomy.NotFoundError("instance not found"))
		return
	}
	c.JSON(http.StatusOK, dto.OK(instance))
}

func (h *Handlers) StartInstance(c *gin.Context) {
	h.transitionInstance(c, state.GraphRunning)
}

func (h *Handlers) StopInstance(c *gin.Context) {
	h.transitionInstance(c, state.GraphStopped)
}

func (h *Handlers) transitionInstance(c *gin.Context, target string) {
	instanceID := c.Param("id")
	prev, err := h.Engine.SetGraphInstanceState(c.Request.Context(), instanceID, target)
	if err != nil {
		respondError(c, err)
		return
	}
	h.publish(instanceID, prev, target)
	c.JSON(http.StatusOK, dto.OK(gin.H{"prev_state": prev, "new_state": target}))
}

func (h *Handlers) InstanceLog(c *gin.Context) {
	stream := c.Param("stream")
	if stream != "out" && stream != "err" {
		respondError(c, errtaxonomy.AppError("stream must be out or err", nil))
		return
	}
	log, err := h.Engine.InstanceTaskLog(c.Request.Context(), c.Param("id"), c.Param("task"), c.Param("host"), stream)
	if err != nil {
		respondError(c, errtaxonomy.BackendNetworkError("proxy task log", err))
		return
	}
	c.String(http.StatusOK, "%s", log)
}
