package allocator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"gameRoster/internal/model"
)

const duplicateSuffix = " (Copy)"

// EventView is an event together with its current roster partition.
type EventView struct {
	Event               model.Event      `json:"event"`
	Roster              model.RosterView `json:"roster"`
	FreePlayerSlots     int              `json:"free_player_slots"`
	FreeGoalkeeperSlots int              `json:"free_goalkeeper_slots"`
}

func freeSlots(roster model.Roster, ev *model.Event, role model.Role) int {
	free := ev.Limit(role) - roster.ConfirmedCount(role)
	if free < 0 {
		return 0
	}
	return free
}

func validateEvent(ev *model.Event) error {
	ev.Name = strings.TrimSpace(ev.Name)
	switch {
	case ev.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidEvent)
	case ev.PlayerLimit <= 0:
		return fmt.Errorf("%w: player_limit must be positive", ErrInvalidEvent)
	case ev.GoalkeeperLimit <= 0:
		return fmt.Errorf("%w: goalkeeper_limit must be positive", ErrInvalidEvent)
	}
	return nil
}

func (e *Engine) CreateEvent(ctx context.Context, caller model.Caller, ev *model.Event) (*model.Event, error) {
	if caller.Anonymous() {
		return nil, ErrUnauthorized
	}
	if err := validateEvent(ev); err != nil {
		return nil, err
	}
	ev.OrganizerID = *caller.UserID

	if _, err := e.store.CreateEvent(ctx, ev); err != nil {
		return nil, storeErr(err)
	}
	e.log.Info().Str("event_id", ev.ID.String()).Str("organizer_id", ev.OrganizerID.String()).Msg("event created")
	return ev, nil
}

// GetEvent is public: anyone holding the link may see the roster.
func (e *Engine) GetEvent(ctx context.Context, id uuid.UUID) (*EventView, error) {
	ev, err := e.store.GetEventByID(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	roster, err := e.store.GetParticipantsByEventID(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	return &EventView{
		Event:               *ev,
		Roster:              roster.Partition(),
		FreePlayerSlots:     freeSlots(roster, ev, model.RolePlayer),
		FreeGoalkeeperSlots: freeSlots(roster, ev, model.RoleGoalkeeper),
	}, nil
}

func (e *Engine) ListEvents(ctx context.Context, caller model.Caller) ([]model.Event, error) {
	if caller.Anonymous() {
		return nil, ErrUnauthorized
	}
	events, err := e.store.GetEventsByOrganizer(ctx, *caller.UserID)
	if err != nil {
		return nil, storeErr(err)
	}
	return events, nil
}

// ownedEvent loads id and checks that caller organizes it.
func (e *Engine) ownedEvent(ctx context.Context, caller model.Caller, id uuid.UUID) (*model.Event, error) {
	if caller.Anonymous() {
		return nil, ErrUnauthorized
	}
	ev, err := e.store.GetEventByID(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if !ev.IsOrganizer(caller.UserID) {
		return nil, ErrUnauthorized
	}
	return ev, nil
}

// UpdateEvent applies patch. New limits take effect on the next allocation
// decision; confirmed participants over a lowered limit stay confirmed.
func (e *Engine) UpdateEvent(ctx context.Context, caller model.Caller, id uuid.UUID, patch model.EventPatch) (*model.Event, error) {
	current, err := e.ownedEvent(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	merged := *current
	if patch.Name != nil {
		merged.Name = *patch.Name
	}
	if patch.PlayerLimit != nil {
		merged.PlayerLimit = *patch.PlayerLimit
	}
	if patch.GoalkeeperLimit != nil {
		merged.GoalkeeperLimit = *patch.GoalkeeperLimit
	}
	if err := validateEvent(&merged); err != nil {
		return nil, err
	}
	if patch.Name != nil {
		patch.Name = &merged.Name
	}

	updated, err := e.store.UpdateEvent(ctx, id, patch)
	if err != nil {
		return nil, storeErr(err)
	}
	e.log.Info().Str("event_id", id.String()).Msg("event updated")
	return updated, nil
}

func (e *Engine) DeleteEvent(ctx context.Context, caller model.Caller, id uuid.UUID) error {
	if _, err := e.ownedEvent(ctx, caller, id); err != nil {
		return err
	}
	if err := e.store.DeleteEvent(ctx, id); err != nil {
		return storeErr(err)
	}
	e.log.Info().Str("event_id", id.String()).Msg("event deleted")
	return nil
}

// DuplicateEvent copies an event and its rules into a new event owned by the
// same organizer. Participants are not copied.
func (e *Engine) DuplicateEvent(ctx context.Context, caller model.Caller, id uuid.UUID) (*model.Event, error) {
	src, err := e.ownedEvent(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	dup := model.Event{
		OrganizerID:          src.OrganizerID,
		Name:                 src.Name + duplicateSuffix,
		StartsAt:             src.StartsAt,
		Location:             src.Location,
		MapsURL:              src.MapsURL,
		PlayerLimit:          src.PlayerLimit,
		GoalkeeperLimit:      src.GoalkeeperLimit,
		IsOpen:               src.IsOpen,
		RequiresRegistration: src.RequiresRegistration,
	}
	for _, rule := range src.Rules {
		dup.Rules = append(dup.Rules, model.EventRule{Text: rule.Text, OrderIndex: rule.OrderIndex})
	}

	if _, err := e.store.CreateEvent(ctx, &dup); err != nil {
		return nil, storeErr(err)
	}
	e.log.Info().Str("event_id", dup.ID.String()).Str("source_id", id.String()).Msg("event duplicated")
	return &dup, nil
}
