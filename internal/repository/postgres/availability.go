package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-booking/internal/model"
)

const availabilityColumns = `id, staff_id, day_of_week, start_time, end_time, is_available, created_at, updated_at`

func (r *availabilityRepository) Create(ctx context.Context, slot *model.StaffAvailability) error {
	query := `
		INSERT INTO staff_availability (` + availabilityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.ExecContext(ctx, query,
		slot.ID,
		slot.StaffID,
		slot.DayOfWeek,
		slot.StartTime,
		slot.EndTime,
		slot.IsAvailable,
		slot.CreatedAt,
		slot.UpdatedAt,
	)
	return mapError("create availability", err)
}

func (r *availabilityRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.StaffAvailability, error) {
	var slot model.StaffAvailability
	query := `SELECT ` + availabilityColumns + ` FROM staff_availability WHERE id = $1`
	if err := r.db.GetContext(ctx, &slot, query, id); err != nil {
		return nil, mapError("get availability", err)
	}
	return &slot, nil
}

func (r *availabilityRepository) List(ctx context.Context, staffID *uuid.UUID, day model.DayOfWeek) ([]*model.StaffAvailability, error) {
	var (
		conds []string
		args  []interface{}
	)
	if staffID != nil {
		args = append(args, *staffID)
		conds = append(conds, "staff_id = $1")
	}
	if day != "" {
		args = append(args, day)
		if len(args) == 1 {
			conds = append(conds, "day_of_week = $1")
		} else {
			conds = append(conds, "day_of_week = $2")
		}
	}

	query := `SELECT ` + availabilityColumns + ` FROM staff_availability`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY staff_id, day_of_week, start_time"

	slots := []*model.StaffAvailability{}
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, mapError("list availability", err)
	}
	return slots, nil
}

func (r *availabilityRepository) Update(ctx context.Context, slot *model.StaffAvailability) error {
	slot.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE staff_availability
		SET day_of_week = $1, start_time = $2, end_time = $3, is_available = $4, updated_at = $5
		WHERE id = $6`
	res, err := r.db.ExecContext(ctx, query,
		slot.DayOfWeek,
		slot.StartTime,
		slot.EndTime,
		slot.IsAvailable,
		slot.UpdatedAt,
		slot.ID,
	)
	if err != nil {
		return mapError("update availability", err)
	}
	return requireRows("update availability", res)
}

func (r *availabilityRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM staff_availability WHERE id = $1`, id)
	if err != nil {
		return mapError("delete availability", err)
	}
	return requireRows("delete availability", res)
}
