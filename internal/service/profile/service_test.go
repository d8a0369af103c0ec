package profile

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-booking/internal/model"
	"github.com/jwalitptl/clinic-booking/internal/repository/repotest"
	apperrors "github.com/jwalitptl/clinic-booking/pkg/errors"
)

func TestService_CreateAsPatient(t *testing.T) {
	svc := NewService(repotest.NewProfiles())
	subject := uuid.New()

	p, err := svc.Create(context.Background(), subject, &model.CreateProfileRequest{
		Email:    " Jane@Example.com ",
		FullName: "Jane Doe",
	})
	require.NoError(t, err)
	assert.Equal(t, subject, p.ID)
	assert.Equal(t, model.RolePatient, p.Role)
	assert.Equal(t, "jane@example.com", p.Email)

	_, err = svc.Create(context.Background(), subject, &model.CreateProfileRequest{Email: "x@example.com", FullName: "X"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrConflict))
}

func TestService_UpdateKeepsRole(t *testing.T) {
	staff := &model.Profile{Base: model.Base{ID: uuid.New()}, FullName: "Dr. Who", Role: model.RoleStaff}
	svc := NewService(repotest.NewProfiles(staff))

	phone := "+91 98765 43210"
	dob := "1990-04-12"
	updated, err := svc.Update(context.Background(), staff.ID, &model.UpdateProfileRequest{Phone: &phone, DateOfBirth: &dob})
	require.NoError(t, err)
	assert.Equal(t, model.RoleStaff, updated.Role)
	assert.Equal(t, &phone, updated.Phone)

	blank := "  "
	_, err = svc.Update(context.Background(), staff.ID, &model.UpdateProfileRequest{FullName: &blank})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrValidation))

	_, err = svc.Update(context.Background(), uuid.New(), &model.UpdateProfileRequest{Phone: &phone})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))
}

func TestService_ListUsersByRole(t *testing.T) {
	svc := NewService(repotest.NewProfiles(
		&model.Profile{Base: model.Base{ID: uuid.New()}, FullName: "A", Role: model.RoleStaff},
		&model.Profile{Base: model.Base{ID: uuid.New()}, FullName: "B", Role: model.RolePatient},
		&model.Profile{Base: model.Base{ID: uuid.New()}, FullName: "C", Role: model.RoleStaff},
	))

	staff, err := svc.ListUsers(context.Background(), model.ProfileFilters{Role: model.RoleStaff})
	require.NoError(t, err)
	require.Len(t, staff, 2)
	assert.Equal(t, "A", staff[0].FullName)

	_, err = svc.ListUsers(context.Background(), model.ProfileFilters{Role: "owner"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrValidation))
}
