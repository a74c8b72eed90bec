package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"gameRoster/internal/model"
)

func (r *repository) GetProfile(ctx context.Context, userID uuid.UUID) (*model.Profile, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, full_name, cpf, cellphone, created_at, updated_at
		FROM participant_profiles
		WHERE user_id = $1
	`, userID)

	var (
		p         model.Profile
		cellphone sql.NullString
	)
	if err := row.Scan(&p.UserID, &p.FullName, &p.CPF, &cellphone, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if cellphone.Valid {
		p.Cellphone = &cellphone.String
	}
	return &p, nil
}

// UpsertProfile creates the user's profile or replaces its fields, keeping
// created_at from the first save.
func (r *repository) UpsertProfile(ctx context.Context, p *model.Profile) error {
	var cellphone sql.NullString
	if p.Cellphone != nil {
		cellphone = sql.NullString{String: *p.Cellphone, Valid: true}
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO participant_profiles (user_id, full_name, cpf, cellphone)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET full_name = EXCLUDED.full_name,
		    cpf = EXCLUDED.cpf,
		    cellphone = EXCLUDED.cellphone,
		    updated_at = NOW()
		RETURNING created_at, updated_at
	`, p.UserID, p.FullName, p.CPF, cellphone)
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}
