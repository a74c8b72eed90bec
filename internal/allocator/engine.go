package allocator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gameRoster/internal/model"
	"gameRoster/internal/repo"
)

// Notifier receives one RosterChanged per committed roster mutation.
type Notifier interface {
	Publish(ctx context.Context, ev model.RosterChanged) error
}

// Recorder observes committed allocation decisions.
type Recorder interface {
	RecordJoin(role model.Role, status model.Status)
	RecordRemoval(role model.Role, status model.Status)
	RecordSwitch(from, to model.Role, status model.Status)
	RecordPromotion(role model.Role)
	RecordConflictRetry()
}

type nopRecorder struct{}

func (nopRecorder) RecordJoin(model.Role, model.Status)               {}
func (nopRecorder) RecordRemoval(model.Role, model.Status)            {}
func (nopRecorder) RecordSwitch(model.Role, model.Role, model.Status) {}
func (nopRecorder) RecordPromotion(model.Role)                        {}
func (nopRecorder) RecordConflictRetry()                              {}

// Outcome is the result of one roster operation: the participant acted upon
// and every change the operation committed, in the order they were applied.
type Outcome struct {
	Participant model.Participant
	Changes     []model.Change
}

type Engine struct {
	store    repo.Repository
	notifier Notifier
	log      *zerolog.Logger
	rec      Recorder
	locks    *keyedLocker
	clock    *monotonicClock
}

type Option func(*Engine)

func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.rec = r
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.clock = newMonotonicClock(now)
	}
}

func New(store repo.Repository, notifier Notifier, log *zerolog.Logger, opts ...Option) *Engine {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	e := &Engine{
		store:    store,
		notifier: notifier,
		log:      log,
		rec:      nopRecorder{},
		locks:    newKeyedLocker(),
		clock:    newMonotonicClock(time.Now),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Join adds identity to the event's roster in role. The participant is
// confirmed when the role has room and waitlisted otherwise.
func (e *Engine) Join(ctx context.Context, eventID uuid.UUID, identity model.Identity, role model.Role) (*Outcome, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	identity = identity.Normalized()

	release, err := e.locks.Acquire(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("acquire roster lock: %w", err)
	}
	defer release()

	var out *Outcome
	for attempt := 1; ; attempt++ {
		out, err = e.join(ctx, eventID, identity, role)
		if !errors.Is(err, ErrConflict) {
			break
		}
		if attempt == 2 {
			return nil, fmt.Errorf("%w: %w", ErrAlreadyJoined, err)
		}
		e.rec.RecordConflictRetry()
		e.log.Warn().Err(err).Str("event_id", eventID.String()).Msg("join hit a uniqueness conflict, retrying")
	}
	if err != nil {
		return nil, err
	}

	p := out.Participant
	e.rec.RecordJoin(p.Role, p.Status)
	e.log.Info().
		Str("event_id", eventID.String()).
		Str("participant_id", p.ID.String()).
		Str("role", string(p.Role)).
		Str("status", string(p.Status)).
		Msg("participant joined")
	e.emit(ctx, eventID, out.Changes)
	return out, nil
}

func (e *Engine) join(ctx context.Context, eventID uuid.UUID, identity model.Identity, role model.Role) (*Outcome, error) {
	var out *Outcome
	err := e.store.RosterTx(ctx, eventID, func(tx repo.RosterTx) error {
		ev, err := tx.GetEvent(ctx, eventID)
		if err != nil {
			return storeErr(err)
		}
		if !ev.IsOpen {
			return ErrClosed
		}
		if identity.Name == "" {
			return ErrInvalidIdentity
		}
		if identity.Anonymous() && ev.RequiresRegistration {
			return ErrRegistrationRequired
		}

		roster, err := tx.ListParticipants(ctx, eventID)
		if err != nil {
			return storeErr(err)
		}
		if !identity.Anonymous() && roster.HasUser(*identity.UserID) {
			return ErrAlreadyJoined
		}

		p := model.Participant{
			EventID:   eventID,
			UserID:    identity.UserID,
			Name:      identity.Name,
			Role:      role,
			Status:    StatusFor(roster, role, ev.Limit(role)),
			CreatedAt: e.clock.Now(),
		}
		// A store shared between instances restamps CreatedAt from its own clock.
		id, err := tx.InsertParticipant(ctx, &p)
		if err != nil {
			return storeErr(err)
		}
		p.ID = id

		out = &Outcome{
			Participant: p,
			Changes: []model.Change{{
				Kind:          model.ChangeJoined,
				ParticipantID: p.ID,
				Name:          p.Name,
				Role:          p.Role,
				Status:        p.Status,
			}},
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

// Remove deletes a participant. Vacating a confirmed slot promotes the
// earliest waiting participant of the same role.
func (e *Engine) Remove(ctx context.Context, caller model.Caller, participantID uuid.UUID) (*Outcome, error) {
	eventID, err := e.eventOf(ctx, participantID)
	if err != nil {
		return nil, err
	}

	release, err := e.locks.Acquire(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("acquire roster lock: %w", err)
	}
	defer release()

	var (
		out      *Outcome
		promoted *model.Change
	)
	err = e.store.RosterTx(ctx, eventID, func(tx repo.RosterTx) error {
		ev, roster, target, err := e.loadTarget(ctx, tx, eventID, participantID)
		if err != nil {
			return err
		}
		if err := authorize(ev, caller, target); err != nil {
			return err
		}

		if err := tx.DeleteParticipant(ctx, target.ID); err != nil {
			return storeErr(err)
		}
		changes := []model.Change{{
			Kind:          model.ChangeRemoved,
			ParticipantID: target.ID,
			Name:          target.Name,
			Role:          target.Role,
			Status:        target.Status,
		}}

		if target.Status == model.StatusConfirmed {
			promoted, err = e.promoteNext(ctx, tx, ev, roster.Without(target.ID), target.Role)
			if err != nil {
				return err
			}
			if promoted != nil {
				changes = append(changes, *promoted)
			}
		}

		out = &Outcome{Participant: *target, Changes: changes}
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}

	e.rec.RecordRemoval(out.Participant.Role, out.Participant.Status)
	e.logPromotion(eventID, promoted)
	e.log.Info().
		Str("event_id", eventID.String()).
		Str("participant_id", participantID.String()).
		Str("status", string(out.Participant.Status)).
		Msg("participant removed")
	e.emit(ctx, eventID, out.Changes)
	return out, nil
}

// SwitchRole moves a participant to role, competing fresh for a slot there.
// Leaving a confirmed slot promotes the earliest waiter of the old role.
func (e *Engine) SwitchRole(ctx context.Context, caller model.Caller, participantID uuid.UUID, role model.Role) (*Outcome, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	eventID, err := e.eventOf(ctx, participantID)
	if err != nil {
		return nil, err
	}

	release, err := e.locks.Acquire(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("acquire roster lock: %w", err)
	}
	defer release()

	var (
		out      *Outcome
		prev     model.Participant
		promoted *model.Change
	)
	err = e.store.RosterTx(ctx, eventID, func(tx repo.RosterTx) error {
		ev, roster, target, err := e.loadTarget(ctx, tx, eventID, participantID)
		if err != nil {
			return err
		}
		if err := authorize(ev, caller, target); err != nil {
			return err
		}
		prev = *target
		if target.Role == role {
			out = &Outcome{Participant: *target}
			return nil
		}

		switched := *target
		switched.Role = role
		switched.Status = StatusFor(roster.Without(target.ID), role, ev.Limit(role))
		err = tx.UpdateParticipant(ctx, switched.ID, model.ParticipantUpdate{
			Role:   &switched.Role,
			Status: &switched.Status,
		})
		if err != nil {
			return storeErr(err)
		}
		changes := []model.Change{{
			Kind:          model.ChangeRoleSwitched,
			ParticipantID: switched.ID,
			Name:          switched.Name,
			Role:          switched.Role,
			Status:        switched.Status,
			PrevRole:      prev.Role,
			PrevStatus:    prev.Status,
		}}

		if prev.Status == model.StatusConfirmed {
			promoted, err = e.promoteNext(ctx, tx, ev, roster.Replace(switched), prev.Role)
			if err != nil {
				return err
			}
			if promoted != nil {
				changes = append(changes, *promoted)
			}
		}

		out = &Outcome{Participant: switched, Changes: changes}
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	if len(out.Changes) == 0 {
		return out, nil
	}

	e.rec.RecordSwitch(prev.Role, out.Participant.Role, out.Participant.Status)
	e.logPromotion(eventID, promoted)
	e.log.Info().
		Str("event_id", eventID.String()).
		Str("participant_id", participantID.String()).
		Str("from", string(prev.Role)).
		Str("role", string(out.Participant.Role)).
		Str("status", string(out.Participant.Status)).
		Msg("participant switched role")
	e.emit(ctx, eventID, out.Changes)
	return out, nil
}

// eventOf resolves the owning event so the right roster lock can be taken.
// The participant is read again under the lock.
func (e *Engine) eventOf(ctx context.Context, participantID uuid.UUID) (uuid.UUID, error) {
	p, err := e.store.GetParticipantByID(ctx, participantID)
	if err != nil {
		return uuid.Nil, storeErr(err)
	}
	return p.EventID, nil
}

func (e *Engine) loadTarget(ctx context.Context, tx repo.RosterTx, eventID, participantID uuid.UUID) (*model.Event, model.Roster, *model.Participant, error) {
	ev, err := tx.GetEvent(ctx, eventID)
	if err != nil {
		return nil, nil, nil, storeErr(err)
	}
	roster, err := tx.ListParticipants(ctx, eventID)
	if err != nil {
		return nil, nil, nil, storeErr(err)
	}
	target := roster.Find(participantID)
	if target == nil {
		return nil, nil, nil, fmt.Errorf("%w: %w", ErrNotFound, repo.ErrParticipantNotFound)
	}
	return ev, roster, target, nil
}

// promoteNext confirms the earliest waiter of role when role has room in
// roster. At most one participant is promoted per call.
func (e *Engine) promoteNext(ctx context.Context, tx repo.RosterTx, ev *model.Event, roster model.Roster, role model.Role) (*model.Change, error) {
	if !HasRoom(roster.ConfirmedCount(role), ev.Limit(role)) {
		return nil, nil
	}
	waiting := roster.Waiting(role)
	if len(waiting) == 0 {
		return nil, nil
	}

	next := waiting[0]
	confirmed := model.StatusConfirmed
	if err := tx.UpdateParticipant(ctx, next.ID, model.ParticipantUpdate{Status: &confirmed}); err != nil {
		return nil, storeErr(err)
	}
	return &model.Change{
		Kind:          model.ChangePromoted,
		ParticipantID: next.ID,
		Name:          next.Name,
		Role:          role,
		Status:        model.StatusConfirmed,
		PrevRole:      role,
		PrevStatus:    model.StatusWaiting,
	}, nil
}

// authorize allows the organizer, or the participant acting on their own record.
func authorize(ev *model.Event, caller model.Caller, p *model.Participant) error {
	if caller.Anonymous() {
		return ErrUnauthorized
	}
	if ev.IsOrganizer(caller.UserID) {
		return nil
	}
	if p.UserID != nil && *p.UserID == *caller.UserID {
		return nil
	}
	return ErrUnauthorized
}

func (e *Engine) logPromotion(eventID uuid.UUID, promoted *model.Change) {
	if promoted == nil {
		return
	}
	e.rec.RecordPromotion(promoted.Role)
	e.log.Info().
		Str("event_id", eventID.String()).
		Str("participant_id", promoted.ParticipantID.String()).
		Str("role", string(promoted.Role)).
		Msg("waiting participant promoted")
}

// emit runs after commit and before the roster lock is released, so
// observers of one event see changes in commit order.
func (e *Engine) emit(ctx context.Context, eventID uuid.UUID, changes []model.Change) {
	if e.notifier == nil || len(changes) == 0 {
		return
	}
	ev := model.RosterChanged{EventID: eventID, Changes: changes, At: time.Now().UTC()}
	if err := e.notifier.Publish(ctx, ev); err != nil {
		e.log.Error().Err(err).Str("event_id", eventID.String()).Msg("failed to publish roster change")
	}
}
