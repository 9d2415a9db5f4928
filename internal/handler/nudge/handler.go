package nudge

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nudgehq/nudge-api/internal/model"
	nudgeService "github.com/nudgehq/nudge-api/internal/service/nudge"
	apperrors "github.com/nudgehq/nudge-api/pkg/errors"
	"github.com/nudgehq/nudge-api/pkg/httputil"
)

type Handler struct {
	service *nudgeService.Service
}

func NewHandler(service *nudgeService.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	nudges := r.Group("/nudges")
	{
		nudges.POST("", h.Create)
		nudges.GET("", h.List)
		nudges.GET("/:id", h.Get)
		nudges.PUT("/:id", h.Update)
		nudges.POST("/:id/disable", h.Disable)
		nudges.POST("/:id/enable", h.Enable)
		nudges.GET("/:id/recipients", h.ListRecipients)
	}
}

func (h *Handler) Create(c *gin.Context) {
	var req model.CreateNudgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid request body", err))
		return
	}

	nudge, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, nudge)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid nudge ID", err))
		return
	}

	nudge, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, nudge)
}

func (h *Handler) List(c *gin.Context) {
	filters := &model.NudgeFilters{}
	if team := c.Query("team_id"); team != "" {
		teamID, err := uuid.Parse(team)
		if err != nil {
			httputil.RespondWithError(c, apperrors.BadRequest("invalid team ID", err))
			return
		}
		filters.TeamID = teamID
	}
	if status := c.Query("status"); status != "" {
		filters.Status = model.NudgeStatus(status)
	}

	nudges, err := h.service.List(c.Request.Context(), filters)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, nudges)
}

func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid nudge ID", err))
		return
	}

	var req model.UpdateNudgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid request body", err))
		return
	}

	nudge, err := h.service.Update(c.Request.Context(), id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, nudge)
}

func (h *Handler) Disable(c *gin.Context) {
	h.setStatus(c, h.service.Disable)
}

func (h *Handler) Enable(c *gin.Context) {
	h.setStatus(c, h.service.Enable)
}

func (h *Handler) setStatus(c *gin.Context, op func(context.Context, uuid.UUID) error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid nudge ID", err))
		return
	}
	if err := op(c.Request.Context(), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"id": id})
}

func (h *Handler) ListRecipients(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid nudge ID", err))
		return
	}

	recipients, err := h.service.ListRecipients(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, recipients)
}
