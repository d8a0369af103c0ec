package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-booking/internal/model"
)

const serviceColumns = `id, name, description, duration, price, currency, is_active, created_at, updated_at`

func (r *serviceRepository) Create(ctx context.Context, svc *model.Service) error {
	query := `
		INSERT INTO services (` + serviceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, query,
		svc.ID,
		svc.Name,
		svc.Description,
		svc.Duration,
		svc.Price,
		svc.Currency,
		svc.IsActive,
		svc.CreatedAt,
		svc.UpdatedAt,
	)
	return mapError("create service", err)
}

func (r *serviceRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Service, error) {
	var svc model.Service
	if err := r.db.GetContext(ctx, &svc, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, id); err != nil {
		return nil, mapError("get service", err)
	}
	return &svc, nil
}

func (r *serviceRepository) List(ctx context.Context, includeInactive bool) ([]*model.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services`
	if !includeInactive {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY name ASC`

	services := []*model.Service{}
	if err := r.db.SelectContext(ctx, &services, query); err != nil {
		return nil, mapError("list services", err)
	}
	return services, nil
}

func (r *serviceRepository) Update(ctx context.Context, svc *model.Service) error {
	svc.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE services
		SET name = $1, description = $2, duration = $3, price = $4, currency = $5,
			is_active = $6, updated_at = $7
		WHERE id = $8`
	res, err := r.db.ExecContext(ctx, query,
		svc.Name,
		svc.Description,
		svc.Duration,
		svc.Price,
		svc.Currency,
		svc.IsActive,
		svc.UpdatedAt,
		svc.ID,
	)
	if err != nil {
		return mapError("update service", err)
	}
	return requireRows("update service", res)
}

func (r *serviceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM services WHERE id = $1`, id)
	if err != nil {
		return mapError("delete service", err)
	}
	return requireRows("delete service", res)
}
