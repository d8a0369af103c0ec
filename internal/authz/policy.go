package authz

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/clinic-booking/internal/model"
	"github.com/jwalitptl/clinic-booking/internal/repository"
	apperrors "github.com/jwalitptl/clinic-booking/pkg/errors"
)

// Action is a capability a route requires.
type Action string

const (
	ActionBookAppointment     Action = "appointment:create"
	ActionViewAppointments    Action = "appointment:read"
	ActionUpdateAppointment   Action = "appointment:update"
	ActionDeleteAppointment   Action = "appointment:delete"
	ActionManageServices      Action = "service:manage"
	ActionManageAvailability  Action = "availability:manage"
	ActionListUsers           Action = "user:list"
	ActionCreateCheckout      Action = "payment:checkout"
	ActionRefundAppointment   Action = "payment:refund"
	ActionManageOwnProfile    Action = "profile:manage"
	ActionViewAllAppointments Action = "appointment:read_all"
)

var capabilities = map[model.Role][]Action{
	model.RolePatient: {
		ActionBookAppointment,
		ActionViewAppointments,
		ActionUpdateAppointment,
		ActionCreateCheckout,
		ActionRefundAppointment,
		ActionManageOwnProfile,
		ActionListUsers,
	},
	model.RoleStaff: {
		ActionViewAppointments,
		ActionUpdateAppointment,
		ActionManageAvailability,
		ActionManageOwnProfile,
		ActionListUsers,
	},
	model.RoleAdmin: {
		ActionBookAppointment,
		ActionViewAppointments,
		ActionViewAllAppointments,
		ActionUpdateAppointment,
		ActionDeleteAppointment,
		ActionManageServices,
		ActionManageAvailability,
		ActionListUsers,
		ActionCreateCheckout,
		ActionRefundAppointment,
		ActionManageOwnProfile,
	},
}

// ProfileLookup is the subset of the profile store the policy needs.
type ProfileLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Profile, error)
}

// Policy answers whether a caller may perform an action. Profiles are cached
// for a short TTL since every authenticated request resolves one.
type Policy struct {
	profiles ProfileLookup
	cache    *cache.Cache
}

func NewPolicy(profiles ProfileLookup, ttl time.Duration) *Policy {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Policy{
		profiles: profiles,
		cache:    cache.New(ttl, 2*ttl),
	}
}

// Can reports whether role grants action.
func Can(role model.Role, action Action) bool {
	for _, a := range capabilities[role] {
		if a == action {
			return true
		}
	}
	return false
}

// Profile resolves the caller's profile.
func (p *Policy) Profile(ctx context.Context, id uuid.UUID) (*model.Profile, error) {
	key := id.String()
	if cached, ok := p.cache.Get(key); ok {
		return cached.(*model.Profile), nil
	}

	profile, err := p.profiles.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Unauthorized("profile not found", err)
		}
		return nil, apperrors.Upstream("failed to load profile", err)
	}

	p.cache.SetDefault(key, profile)
	return profile, nil
}

// Authorize loads the caller and checks action against its role.
func (p *Policy) Authorize(ctx context.Context, id uuid.UUID, action Action) (*model.Profile, error) {
	profile, err := p.Profile(ctx, id)
	if err != nil {
		return nil, err
	}
	if !Can(profile.Role, action) {
		return nil, apperrors.Forbidden("")
	}
	return profile, nil
}

// Invalidate drops a cached profile after it changes.
func (p *Policy) Invalidate(id uuid.UUID) {
	p.cache.Delete(id.String())
}
