package profile

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-booking/internal/model"
	"github.com/jwalitptl/clinic-booking/internal/repository"
	"github.com/jwalitptl/clinic-booking/internal/schedule"
	apperrors "github.com/jwalitptl/clinic-booking/pkg/errors"
)

// Service owns the profiles mirrored from the auth provider.
type Service struct {
	repo repository.ProfileRepository
	now  func() time.Time
}

func NewService(repo repository.ProfileRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Create registers the caller as a patient. Staff and admin roles are
// granted out of band.
func (s *Service) Create(ctx context.Context, subject uuid.UUID, req *model.CreateProfileRequest) (*model.Profile, error) {
	p := &model.Profile{
		Base:     model.NewBase(s.now().UTC()),
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
		FullName: strings.TrimSpace(req.FullName),
		Role:     model.RolePatient,
		Phone:    req.Phone,
	}
	p.ID = subject

	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.Conflict("profile already exists", err)
		}
		return nil, apperrors.Upstream("failed to create profile", err)
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Profile, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("profile", err)
		}
		return nil, apperrors.Upstream("failed to get profile", err)
	}
	return p, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, req *model.UpdateProfileRequest) (*model.Profile, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.FullName != nil {
		p.FullName = strings.TrimSpace(*req.FullName)
	}
	if req.Phone != nil {
		p.Phone = req.Phone
	}
	if req.AvatarURL != nil {
		p.AvatarURL = req.AvatarURL
	}
	if req.DateOfBirth != nil {
		if _, err := schedule.ParseDate(*req.DateOfBirth); err != nil {
			return nil, apperrors.Validation("invalid date_of_birth", err)
		}
		p.DateOfBirth = req.DateOfBirth
	}
	if req.Address != nil {
		p.Address = req.Address
	}
	if p.FullName == "" {
		return nil, apperrors.Validation("full_name cannot be empty", nil)
	}
	p.UpdatedAt = s.now().UTC()

	if err := s.repo.Update(ctx, p); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("profile", err)
		}
		return nil, apperrors.Upstream("failed to update profile", err)
	}
	return p, nil
}

// ListUsers backs the staff picker and the admin user list.
func (s *Service) ListUsers(ctx context.Context, filters model.ProfileFilters) ([]*model.Profile, error) {
	if filters.Role != "" && !filters.Role.Valid() {
		return nil, apperrors.Validation("invalid role", nil)
	}
	profiles, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, apperrors.Upstream("failed to list users", err)
	}
	return profiles, nil
}
