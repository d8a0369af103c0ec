package availability

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-booking/internal/authz"
	"github.com/jwalitptl/clinic-booking/internal/middleware"
	"github.com/jwalitptl/clinic-booking/internal/model"
	"github.com/jwalitptl/clinic-booking/internal/service/availability"
	"github.com/jwalitptl/clinic-booking/pkg/errors"
	"github.com/jwalitptl/clinic-booking/pkg/httputil"
	"github.com/jwalitptl/clinic-booking/pkg/validator"
)

type Handler struct {
	service *availability.Service
}

func NewHandler(service *availability.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	slots := rg.Group("/availability")
	{
		slots.GET("", h.ListAvailability)

		manage := slots.Group("", auth.Authenticate(), auth.Require(authz.ActionManageAvailability))
		manage.POST("", h.CreateAvailability)
		manage.PATCH("/:id", h.UpdateAvailability)
		manage.DELETE("/:id", h.DeleteAvailability)
	}
}

func (h *Handler) ListAvailability(c *gin.Context) {
	var filters model.AvailabilityFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		httputil.RespondWithError(c, validator.Translate(err))
		return
	}

	slots, err := h.service.List(c.Request.Context(), filters)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, slots)
}

func (h *Handler) CreateAvailability(c *gin.Context) {
	var req model.CreateAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, validator.Translate(err))
		return
	}

	slot, err := h.service.Create(c.Request.Context(), middleware.Profile(c), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithData(c, http.StatusCreated, slot, "Availability created successfully")
}

func (h *Handler) UpdateAvailability(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, errors.Validation("invalid availability ID", err))
		return
	}

	var req model.UpdateAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, validator.Translate(err))
		return
	}

	slot, err := h.service.Update(c.Request.Context(), middleware.Profile(c), id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithData(c, http.StatusOK, slot, "Availability updated successfully")
}

func (h *Handler) DeleteAvailability(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, errors.Validation("invalid availability ID", err))
		return
	}

	if err := h.service.Delete(c.Request.Context(), middleware.Profile(c), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
