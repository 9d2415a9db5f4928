package completion

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nudgehq/nudge-api/internal/model"
	completionService "github.com/nudgehq/nudge-api/internal/service/completion"
	apperrors "github.com/nudgehq/nudge-api/pkg/errors"
	"github.com/nudgehq/nudge-api/pkg/httputil"
	"github.com/nudgehq/nudge-api/pkg/metrics"
)

// Handler serves the anonymous completion-link routes. No authentication:
// possession of the token is the credential.
type Handler struct {
	service *completionService.Service
	metrics *metrics.Metrics
}

func NewHandler(service *completionService.Service, m *metrics.Metrics) *Handler {
	return &Handler{service: service, metrics: m}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	complete := r.Group("/complete")
	{
		complete.GET("/:token", h.Show)
		complete.POST("/:token", h.Complete)
	}
}

type completeRequest struct {
	Comment *string `json:"comment"`
}

// Show renders the confirmation view for a completion link without
// consuming the token.
func (h *Handler) Show(c *gin.Context) {
	view, err := h.service.Lookup(c.Request.Context(), c.Param("token"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}
	if view.Outcome == model.OutcomeTokenNotFound {
		httputil.RespondWithError(c, apperrors.NotFound("completion link", nil))
		return
	}
	httputil.RespondWithSuccess(c, view)
}

func (h *Handler) Complete(c *gin.Context) {
	var req completeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httputil.RespondWithError(c, apperrors.BadRequest("invalid request body", err))
			return
		}
	}

	result, err := h.service.Complete(c.Request.Context(), c.Param("token"), model.CompleteRequest{
		Comment:   req.Comment,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}

	if h.metrics != nil {
		h.metrics.Completions.WithLabelValues(string(result.Outcome)).Inc()
	}

	switch result.Outcome {
	case model.OutcomeCompleted:
		httputil.RespondWithSuccess(c, result)
	case model.OutcomeAlreadyCompleted:
		c.JSON(http.StatusConflict, httputil.Response{Success: false, Data: result})
	case model.OutcomeTokenExpired:
		httputil.RespondWithError(c, apperrors.NewGone("this completion link has expired", nil))
	default:
		httputil.RespondWithError(c, apperrors.NotFound("completion link", nil))
	}
}
