package allocator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"gameRoster/internal/model"
	"gameRoster/internal/repo"
)

func validateProfile(p *model.Profile) error {
	switch {
	case p.FullName == "":
		return fmt.Errorf("%w: full_name is required", ErrInvalidProfile)
	case !model.ValidCPF(p.CPF):
		return fmt.Errorf("%w: cpf is not valid", ErrInvalidProfile)
	case p.Cellphone != nil && (len(*p.Cellphone) < 10 || len(*p.Cellphone) > 11):
		return fmt.Errorf("%w: cellphone must have 10 or 11 digits", ErrInvalidProfile)
	}
	return nil
}

// SaveProfile creates or replaces the caller's own profile.
func (e *Engine) SaveProfile(ctx context.Context, caller model.Caller, p *model.Profile) (*model.Profile, error) {
	if caller.Anonymous() {
		return nil, ErrUnauthorized
	}
	p.UserID = *caller.UserID
	p.Normalize()
	if err := validateProfile(p); err != nil {
		return nil, err
	}

	if err := e.store.UpsertProfile(ctx, p); err != nil {
		return nil, storeErr(err)
	}
	e.log.Info().Str("user_id", p.UserID.String()).Msg("profile saved")
	return p, nil
}

func (e *Engine) GetProfile(ctx context.Context, caller model.Caller) (*model.Profile, error) {
	if caller.Anonymous() {
		return nil, ErrUnauthorized
	}
	p, err := e.store.GetProfile(ctx, *caller.UserID)
	if err != nil {
		return nil, storeErr(err)
	}
	return p, nil
}

// ParticipantDetails returns what the event's organizer may see about a
// participant: the profile of a registered user, or just the display name.
func (e *Engine) ParticipantDetails(ctx context.Context, caller model.Caller, participantID uuid.UUID) (*model.ParticipantDetails, error) {
	if caller.Anonymous() {
		return nil, ErrUnauthorized
	}
	p, err := e.store.GetParticipantByID(ctx, participantID)
	if err != nil {
		return nil, storeErr(err)
	}
	ev, err := e.store.GetEventByID(ctx, p.EventID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !ev.IsOrganizer(caller.UserID) {
		e.log.Warn().
			Str("participant_id", participantID.String()).
			Str("user_id", caller.UserID.String()).
			Msg("participant details denied to non-organizer")
		return nil, ErrUnauthorized
	}

	if p.Anonymous() {
		details := model.BasicDetails(p)
		return &details, nil
	}
	profile, err := e.store.GetProfile(ctx, *p.UserID)
	if errors.Is(err, repo.ErrProfileNotFound) {
		details := model.BasicDetails(p)
		return &details, nil
	}
	if err != nil {
		return nil, storeErr(err)
	}
	details := model.ProfileDetails(p, profile)
	return &details, nil
}
