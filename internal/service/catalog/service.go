package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-booking/internal/model"
	"github.com/jwalitptl/clinic-booking/internal/repository"
	apperrors "github.com/jwalitptl/clinic-booking/pkg/errors"
)

const defaultCurrency = "USD"

// Service manages the bookable treatments.
type Service struct {
	repo         repository.ServiceRepository
	appointments repository.AppointmentRepository
	now          func() time.Time
}

func NewService(repo repository.ServiceRepository, appointments repository.AppointmentRepository) *Service {
	return &Service{
		repo:         repo,
		appointments: appointments,
		now:          time.Now,
	}
}

func (s *Service) List(ctx context.Context, includeInactive bool) ([]*model.Service, error) {
	services, err := s.repo.List(ctx, includeInactive)
	if err != nil {
		return nil, apperrors.Upstream("failed to list services", err)
	}
	return services, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Service, error) {
	svc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("service", err)
		}
		return nil, apperrors.Upstream("failed to get service", err)
	}
	return svc, nil
}

func (s *Service) Create(ctx context.Context, req *model.CreateServiceRequest) (*model.Service, error) {
	svc := &model.Service{
		Base:        model.NewBase(s.now().UTC()),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Duration:    req.Duration,
		Price:       req.Price,
		Currency:    defaultCurrency,
		IsActive:    true,
	}
	if req.Currency != "" {
		svc.Currency = strings.ToUpper(req.Currency)
	}
	if req.IsActive != nil {
		svc.IsActive = *req.IsActive
	}
	if err := validate(svc); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, svc); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.Conflict("service already exists", err)
		}
		return nil, apperrors.Upstream("failed to create service", err)
	}
	return svc, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, req *model.UpdateServiceRequest) (*model.Service, error) {
	svc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		svc.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		svc.Description = req.Description
	}
	if req.Duration != nil {
		svc.Duration = *req.Duration
	}
	if req.Price != nil {
		svc.Price = *req.Price
	}
	if req.Currency != nil {
		svc.Currency = strings.ToUpper(*req.Currency)
	}
	if req.IsActive != nil {
		svc.IsActive = *req.IsActive
	}
	if err := validate(svc); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, svc); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("service", err)
		}
		return nil, apperrors.Upstream("failed to update service", err)
	}
	return svc, nil
}

// Delete removes a service that no appointment references. Deactivate it
// instead when it has history.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	n, err := s.appointments.CountByService(ctx, id)
	if err != nil {
		return apperrors.Upstream("failed to count appointments", err)
	}
	if n > 0 {
		return apperrors.Conflict("service has appointments; deactivate it instead", nil).
			WithDetail("appointments", n)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, repository.ErrReferenced):
			return apperrors.Conflict("service has appointments; deactivate it instead", err)
		case errors.Is(err, repository.ErrNotFound):
			return apperrors.NotFound("service", err)
		}
		return apperrors.Upstream("failed to delete service", err)
	}
	return nil
}

func validate(svc *model.Service) error {
	switch {
	case svc.Name == "":
		return apperrors.Validation("name is required", nil)
	case svc.Duration <= 0:
		return apperrors.Validation("duration must be positive", nil)
	case svc.Price < 0:
		return apperrors.Validation("price cannot be negative", nil)
	case len(svc.Currency) != 3:
		return apperrors.Validation("currency must be a 3-letter code", nil)
	}
	return nil
}
