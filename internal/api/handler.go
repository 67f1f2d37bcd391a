package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-disaster-response/internal/lifecycle"
	"github.com/mr1hm/go-disaster-response/internal/models"
	"github.com/mr1hm/go-disaster-response/internal/orchestrator"
	"github.com/mr1hm/go-disaster-response/internal/repository"
	"github.com/mr1hm/go-disaster-response/internal/stage"
)

// Service is the orchestrator surface the HTTP API exposes.
type Service interface {
	Intake(ctx context.Context, in models.Intake) (*orchestrator.IntakeResult, error)
	PublicReport(ctx context.Context, in models.Intake) (*orchestrator.IntakeResult, error)
	Get(ctx context.Context, id string) (*models.Emergency, error)
	List(ctx context.Context, f repository.Filter) ([]models.Emergency, error)
	Update(ctx context.Context, id string, req models.UpdateRequest) (*models.Emergency, error)
	RunStage(ctx context.Context, st lifecycle.Stage, id string) (any, error)
}

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)

	api := r.Group("/api")
	api.POST("/emergencies", h.createEmergency)
	api.GET("/emergencies", h.listEmergencies)
	api.GET("/emergencies.geojson", h.emergenciesGeoJSON)
	api.GET("/emergencies/:id", h.getEmergency)
	api.PUT("/emergencies/:id", h.updateEmergency)
	api.POST("/emergencies/:id/stages/:stage", h.runStage)
	api.POST("/public-report", h.publicReport)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) createEmergency(c *gin.Context) {
	var in models.Intake
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON object"})
		return
	}

	res, err := h.svc.Intake(c.Request.Context(), in)
	h.respondIntake(c, res, err)
}

func (h *Handler) publicReport(c *gin.Context) {
	var in models.Intake
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON object"})
		return
	}

	res, err := h.svc.PublicReport(c.Request.Context(), in)
	h.respondIntake(c, res, err)
}

// respondIntake keeps the emergency id in the body when the record was
// stored but its workflow could not be started.
func (h *Handler) respondIntake(c *gin.Context, res *orchestrator.IntakeResult, err error) {
	if err != nil {
		if res != nil {
			c.JSON(statusFor(err), res)
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) listEmergencies(c *gin.Context) {
	filter := repository.Filter{
		Limit: 50,
	}

	if s := c.Query("status"); s != "" {
		st, err := models.ParseStatus(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Status = &st
	}
	if t := c.Query("type"); t != "" {
		typ, err := models.ParseEmergencyType(t)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Type = &typ
	}
	if s := c.Query("severity"); s != "" {
		sev, err := models.ParseSeverity(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Severity = &sev
	}
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim <= 500 {
			filter.Limit = lim
		}
	}

	list, err := h.svc.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	if list == nil {
		list = []models.Emergency{}
	}
	c.JSON(http.StatusOK, gin.H{"emergencies": list})
}

func (h *Handler) emergenciesGeoJSON(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context(), repository.Filter{Limit: 500})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to fetch emergencies",
		})
		return
	}

	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, toGeoJSON(list))
}

func (h *Handler) getEmergency(c *gin.Context) {
	e, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) updateEmergency(c *gin.Context) {
	var req models.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid update body"})
		return
	}

	e, err := h.svc.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) runStage(c *gin.Context) {
	st, err := lifecycle.ParseStage(c.Param("stage"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	res, err := h.svc.RunStage(c.Request.Context(), st, c.Param("id"))
	if err != nil {
		if res != nil {
			c.JSON(statusFor(err), res)
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"error": err.Error(),
		"kind":  stage.KindOf(err),
	})
}

func statusFor(err error) int {
	var se *stage.Error
	if !errors.As(err, &se) && !errors.Is(err, repository.ErrNotFound) {
		return http.StatusInternalServerError
	}
	switch stage.KindOf(err) {
	case stage.KindNotFound:
		return http.StatusNotFound
	case stage.KindInvalidInput:
		return http.StatusBadRequest
	case stage.KindInvalidState, stage.KindConflict:
		return http.StatusConflict
	case stage.KindUnsupportedType:
		return http.StatusUnprocessableEntity
	case stage.KindCollaboratorFailure:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
