package plan

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	planlimitService "github.com/nudgehq/nudge-api/internal/service/planlimit"
	apperrors "github.com/nudgehq/nudge-api/pkg/errors"
	"github.com/nudgehq/nudge-api/pkg/httputil"
)

type Handler struct {
	service *planlimitService.Service
}

func NewHandler(service *planlimitService.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	companies := r.Group("/companies/:id")
	{
		companies.GET("/usage", h.Usage)
		companies.POST("/enforce-limits", h.EnforceLimits)
	}
}

func (h *Handler) Usage(c *gin.Context) {
	companyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid company ID", err))
		return
	}

	usage, limits, err := h.service.CheckUsage(c.Request.Context(), companyID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{
		"usage":  usage,
		"limits": limits,
	})
}

// EnforceLimits triggers an enforcement pass, typically after a plan
// downgrade. Repeating the call is harmless.
func (h *Handler) EnforceLimits(c *gin.Context) {
	companyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid company ID", err))
		return
	}

	report, err := h.service.EnforceLimits(c.Request.Context(), companyID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, report)
}
