// Package api serves plan generation over HTTP.
package api

import (
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/samcharles93/waypoint/internal/logger"
	"github.com/samcharles93/waypoint/internal/version"
)

type Server struct {
	store   *PlanStore
	service *PlanService
	log     logger.Logger
}

func NewServer(store *PlanStore, service *PlanService, log logger.Logger) *Server {
	if store == nil {
		store = NewPlanStore(0)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		store:   store,
		service: service,
		log:     log,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)

	e.POST("/v1/plans", s.handleCreatePlan)
	e.GET("/v1/plans", s.handleListPlans)
	e.GET("/v1/plans/:id", s.handleGetPlan)
	e.DELETE("/v1/plans/:id", s.handleDeletePlan)
	e.GET("/v1/layout", s.handleLayout)
}

func (s *Server) handleHealth(c *echo.Context) error {
	resp := HealthResponse{Status: "ok", Version: version.String()}
	if s.service != nil {
		resp.Model = s.service.ModelName()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCreatePlan(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "plan service not configured", "", "")
	}
	req, err := decodeJSON[PlanRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	plan, err := s.service.CreatePlan(c.Request().Context(), &req)
	if err != nil {
		status, _ := statusFor(err)
		if status >= http.StatusInternalServerError && c.Request().Context().Err() == nil {
			s.log.Error("plan generation failed", "error", err)
		}
		return writePlanError(c, err)
	}
	if req.Store == nil || *req.Store {
		s.store.Save(*plan)
	}
	s.log.Debug("plan created", "id", plan.ID, "rows", len(plan.Rows))
	return c.JSON(http.StatusOK, plan)
}

func (s *Server) handleListPlans(c *echo.Context) error {
	return c.JSON(http.StatusOK, PlanList{Object: "list", Data: s.store.List()})
}

func (s *Server) handleGetPlan(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return writeNotFound(c, "plan not found")
	}
	plan, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "plan not found")
	}
	return c.JSON(http.StatusOK, plan)
}

func (s *Server) handleDeletePlan(c *echo.Context) error {
	id := c.Param("id")
	if id == "" || !s.store.Delete(id) {
		return writeNotFound(c, "plan not found")
	}
	return c.JSON(http.StatusOK, DeletePlanResp{
		ID:      id,
		Object:  "plan",
		Deleted: true,
	})
}

// handleLayout reports the sequence layout for ?steps=&height=&width=&patches=.
func (s *Server) handleLayout(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "plan service not configured", "", "")
	}
	var dims [4]int
	for i, q := range []struct {
		name string
		def  int
	}{{"steps", 1}, {"height", 224}, {"width", 224}, {"patches", 0}} {
		v, err := intQuery(c, q.name, q.def)
		if err != nil {
			return writeBadRequest(c, err.Error())
		}
		dims[i] = v
	}
	if dims[0] == 0 {
		return writeBadRequest(c, "steps must be positive")
	}
	resp, err := s.service.DescribeLayout(dims[0], dims[1], dims[2], dims[3])
	if err != nil {
		return writePlanError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}
