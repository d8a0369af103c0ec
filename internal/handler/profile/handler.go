package profile

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-booking/internal/authz"
	"github.com/jwalitptl/clinic-booking/internal/middleware"
	"github.com/jwalitptl/clinic-booking/internal/model"
	"github.com/jwalitptl/clinic-booking/internal/service/profile"
	"github.com/jwalitptl/clinic-booking/pkg/errors"
	"github.com/jwalitptl/clinic-booking/pkg/httputil"
	"github.com/jwalitptl/clinic-booking/pkg/validator"
)

// ProfileCache is told when a profile changes so authorization sees it.
type ProfileCache interface {
	Invalidate(id uuid.UUID)
}

type Handler struct {
	service *profile.Service
	cache   ProfileCache
}

func NewHandler(service *profile.Service, cache ProfileCache) *Handler {
	return &Handler{service: service, cache: cache}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	me := rg.Group("/profile", auth.Authenticate())
	{
		// Creating the profile is the one call a token without a profile row may make.
		me.POST("", h.CreateProfile)
		me.GET("", auth.Require(authz.ActionManageOwnProfile), h.GetProfile)
		me.PATCH("", auth.Require(authz.ActionManageOwnProfile), h.UpdateProfile)
	}

	rg.GET("/users", auth.Authenticate(), auth.Require(authz.ActionListUsers), h.ListUsers)
}

func (h *Handler) CreateProfile(c *gin.Context) {
	subject, ok := middleware.Subject(c)
	if !ok {
		httputil.RespondWithError(c, errors.Unauthorized("", nil))
		return
	}

	var req model.CreateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, validator.Translate(err))
		return
	}

	p, err := h.service.Create(c.Request.Context(), subject, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	h.cache.Invalidate(subject)
	httputil.RespondWithData(c, http.StatusCreated, p, "Profile created successfully")
}

func (h *Handler) GetProfile(c *gin.Context) {
	p, err := h.service.Get(c.Request.Context(), middleware.Profile(c).ID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, p)
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	var req model.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, validator.Translate(err))
		return
	}

	id := middleware.Profile(c).ID
	p, err := h.service.Update(c.Request.Context(), id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	h.cache.Invalidate(id)
	httputil.RespondWithData(c, http.StatusOK, p, "Profile updated successfully")
}

// ListUsers backs the staff and patient pickers.
func (h *Handler) ListUsers(c *gin.Context) {
	var filters model.ProfileFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		httputil.RespondWithError(c, validator.Translate(err))
		return
	}

	users, err := h.service.ListUsers(c.Request.Context(), filters)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, users)
}
