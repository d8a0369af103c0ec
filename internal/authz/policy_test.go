package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-booking/internal/model"
	"github.com/jwalitptl/clinic-booking/internal/repository"
	apperrors "github.com/jwalitptl/clinic-booking/pkg/errors"
)

type stubProfiles struct {
	profiles map[uuid.UUID]*model.Profile
	calls    int
	err      error
}

func (s *stubProfiles) GetByID(_ context.Context, id uuid.UUID) (*model.Profile, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.profiles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func TestCan(t *testing.T) {
	tests := []struct {
		role   model.Role
		action Action
		want   bool
	}{
		{model.RolePatient, ActionBookAppointment, true},
		{model.RolePatient, ActionManageServices, false},
		{model.RolePatient, ActionDeleteAppointment, false},
		{model.RoleStaff, ActionManageAvailability, true},
		{model.RoleStaff, ActionBookAppointment, false},
		{model.RoleStaff, ActionRefundAppointment, false},
		{model.RoleAdmin, ActionManageServices, true},
		{model.RoleAdmin, ActionDeleteAppointment, true},
		{model.Role("guest"), ActionViewAppointments, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.action), func(t *testing.T) {
			assert.Equal(t, tt.want, Can(tt.role, tt.action))
		})
	}
}

func TestPolicy_AuthorizeCachesProfiles(t *testing.T) {
	id := uuid.New()
	store := &stubProfiles{profiles: map[uuid.UUID]*model.Profile{
		id: {Base: model.Base{ID: id}, Role: model.RoleStaff},
	}}
	policy := NewPolicy(store, time.Minute)

	p, err := policy.Authorize(context.Background(), id, ActionManageAvailability)
	require.NoError(t, err)
	assert.Equal(t, model.RoleStaff, p.Role)

	_, err = policy.Authorize(context.Background(), id, ActionManageServices)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))
	assert.Equal(t, 1, store.calls)

	policy.Invalidate(id)
	_, err = policy.Profile(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls)
}

func TestPolicy_UnknownProfile(t *testing.T) {
	policy := NewPolicy(&stubProfiles{}, time.Minute)

	_, err := policy.Authorize(context.Background(), uuid.New(), ActionViewAppointments)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrUnauthorized))
}

func TestPolicy_StoreFailure(t *testing.T) {
	policy := NewPolicy(&stubProfiles{err: errors.New("db down")}, time.Minute)

	_, err := policy.Profile(context.Background(), uuid.New())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrUpstream))
}
