package scheduler

import (
	"time"

	"github.com/gin-gonic/gin"

	dispatcherService "github.com/nudgehq/nudge-api/internal/service/dispatcher"
	materializerService "github.com/nudgehq/nudge-api/internal/service/materializer"
	apperrors "github.com/nudgehq/nudge-api/pkg/errors"
	"github.com/nudgehq/nudge-api/pkg/httputil"
)

// Handler exposes manual scheduler runs for operators. The worker runs the
// same passes on its tickers; triggering one here is always safe because
// both passes are idempotent.
type Handler struct {
	materializer *materializerService.Service
	dispatcher   *dispatcherService.Service
}

func NewHandler(materializer *materializerService.Service, dispatcher *dispatcherService.Service) *Handler {
	return &Handler{materializer: materializer, dispatcher: dispatcher}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	scheduler := r.Group("/scheduler")
	{
		scheduler.POST("/materialize", h.Materialize)
		scheduler.POST("/dispatch", h.Dispatch)
	}
}

func (h *Handler) Materialize(c *gin.Context) {
	report, err := h.materializer.MaterializeDue(c.Request.Context(), time.Now())
	if err != nil {
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, report)
}

func (h *Handler) Dispatch(c *gin.Context) {
	report, err := h.dispatcher.DispatchPending(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, report)
}
