package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-booking/internal/model"
)

const profileColumns = `id, email, full_name, role, phone, avatar_url, date_of_birth, address, created_at, updated_at`

func (r *profileRepository) Create(ctx context.Context, p *model.Profile) error {
	query := `
		INSERT INTO profiles (` + profileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.Email,
		p.FullName,
		p.Role,
		p.Phone,
		p.AvatarURL,
		p.DateOfBirth,
		p.Address,
		p.CreatedAt,
		p.UpdatedAt,
	)
	return mapError("create profile", err)
}

func (r *profileRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Profile, error) {
	var p model.Profile
	if err := r.db.GetContext(ctx, &p, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id); err != nil {
		return nil, mapError("get profile", err)
	}
	return &p, nil
}

func (r *profileRepository) List(ctx context.Context, filters model.ProfileFilters) ([]*model.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles`
	var args []interface{}
	if filters.Role != "" {
		query += ` WHERE role = $1`
		args = append(args, filters.Role)
	}
	query += ` ORDER BY full_name ASC`

	profiles := []*model.Profile{}
	if err := r.db.SelectContext(ctx, &profiles, query, args...); err != nil {
		return nil, mapError("list profiles", err)
	}
	return profiles, nil
}

func (r *profileRepository) Update(ctx context.Context, p *model.Profile) error {
	p.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE profiles
		SET full_name = $1, phone = $2, avatar_url = $3, date_of_birth = $4,
			address = $5, updated_at = $6
		WHERE id = $7`
	res, err := r.db.ExecContext(ctx, query,
		p.FullName,
		p.Phone,
		p.AvatarURL,
		p.DateOfBirth,
		p.Address,
		p.UpdatedAt,
		p.ID,
	)
	if err != nil {
		return mapError("update profile", err)
	}
	return requireRows("update profile", res)
}
