package model

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RolePlayer     Role = "PLAYER"
	RoleGoalkeeper Role = "GOALKEEPER"
)

func (r Role) Valid() bool {
	return r == RolePlayer || r == RoleGoalkeeper
}

type Status string

const (
	StatusConfirmed Status = "CONFIRMED"
	StatusWaiting   Status = "WAITING"
)

type Event struct {
	ID                   uuid.UUID   `db:"id" json:"id"`
	OrganizerID          uuid.UUID   `db:"organizer_id" json:"organizer_id"`
	Name                 string      `db:"name" json:"name"`
	StartsAt             time.Time   `db:"starts_at" json:"starts_at"`
	Location             string      `db:"location" json:"location"`
	MapsURL              string      `db:"maps_url,omitempty" json:"maps_url,omitempty"`
	PlayerLimit          int         `db:"player_limit" json:"player_limit"`
	GoalkeeperLimit      int         `db:"goalkeeper_limit" json:"goalkeeper_limit"`
	IsOpen               bool        `db:"is_open" json:"is_open"`
	RequiresRegistration bool        `db:"requires_registration" json:"requires_registration"`
	CreatedAt            time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time   `db:"updated_at" json:"updated_at"`
	Rules                []EventRule `db:"-" json:"rules,omitempty"`
}

// Limit returns the confirmed-slot limit configured for role.
func (e *Event) Limit(role Role) int {
	switch role {
	case RolePlayer:
		return e.PlayerLimit
	case RoleGoalkeeper:
		return e.GoalkeeperLimit
	}
	return 0
}

func (e *Event) IsOrganizer(userID *uuid.UUID) bool {
	return userID != nil && *userID == e.OrganizerID
}

type EventRule struct {
	ID         uuid.UUID `db:"id" json:"id"`
	EventID    uuid.UUID `db:"event_id" json:"event_id"`
	Text       string    `db:"rule_text" json:"rule_text"`
	OrderIndex int       `db:"order_index" json:"order_index"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// EventPatch holds the organizer-editable fields; nil means unchanged.
type EventPatch struct {
	Name                 *string
	StartsAt             *time.Time
	Location             *string
	MapsURL              *string
	PlayerLimit          *int
	GoalkeeperLimit      *int
	IsOpen               *bool
	RequiresRegistration *bool
	Rules                *[]string
}

type Participant struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	EventID   uuid.UUID  `db:"event_id" json:"event_id"`
	UserID    *uuid.UUID `db:"user_id" json:"user_id,omitempty"`
	Name      string     `db:"name" json:"name"`
	Role      Role       `db:"role" json:"role"`
	Status    Status     `db:"status" json:"status"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

func (p *Participant) Anonymous() bool {
	return p.UserID == nil
}

// ParticipantUpdate lists the mutable participant fields; nil means unchanged.
type ParticipantUpdate struct {
	Role   *Role
	Status *Status
}

// Identity is who a join is made for: an authenticated user or a free-text name.
type Identity struct {
	UserID *uuid.UUID
	Name   string
}

func (i Identity) Anonymous() bool {
	return i.UserID == nil
}

// Normalized trims the display name.
func (i Identity) Normalized() Identity {
	i.Name = strings.TrimSpace(i.Name)
	return i
}

// Caller is the verified requester of an operation. A zero Caller is anonymous.
type Caller struct {
	UserID *uuid.UUID
	Name   string
}

func (c Caller) Anonymous() bool {
	return c.UserID == nil
}

// Identity resolves the join identity for the caller. An explicit name wins
// over the name carried by the caller's token.
func (c Caller) Identity(name string) Identity {
	if strings.TrimSpace(name) == "" {
		name = c.Name
	}
	return Identity{UserID: c.UserID, Name: name}.Normalized()
}

// Roster is a snapshot of one event's participants in arrival order.
type Roster []Participant

func (r Roster) ConfirmedCount(role Role) int {
	n := 0
	for _, p := range r {
		if p.Role == role && p.Status == StatusConfirmed {
			n++
		}
	}
	return n
}

// Waiting returns the waiting participants of role, earliest arrival first.
func (r Roster) Waiting(role Role) []Participant {
	out := make([]Participant, 0)
	for _, p := range r {
		if p.Role == role && p.Status == StatusWaiting {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r Roster) Find(id uuid.UUID) *Participant {
	for i := range r {
		if r[i].ID == id {
			p := r[i]
			return &p
		}
	}
	return nil
}

func (r Roster) HasUser(userID uuid.UUID) bool {
	for _, p := range r {
		if p.UserID != nil && *p.UserID == userID {
			return true
		}
	}
	return false
}

func (r Roster) Without(id uuid.UUID) Roster {
	out := make(Roster, 0, len(r))
	for _, p := range r {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

// Replace returns a copy of the roster with p substituted for the record sharing its id.
func (r Roster) Replace(p Participant) Roster {
	out := make(Roster, len(r))
	copy(out, r)
	for i := range out {
		if out[i].ID == p.ID {
			out[i] = p
		}
	}
	return out
}

type RosterView struct {
	ConfirmedPlayers     []Participant `json:"confirmed_players"`
	ConfirmedGoalkeepers []Participant `json:"confirmed_goalkeepers"`
	WaitingPlayers       []Participant `json:"waiting_players"`
	WaitingGoalkeepers   []Participant `json:"waiting_goalkeepers"`
}

// Partition splits the roster into its four disjoint views, each in arrival order.
func (r Roster) Partition() RosterView {
	v := RosterView{
		ConfirmedPlayers:     make([]Participant, 0),
		ConfirmedGoalkeepers: make([]Participant, 0),
		WaitingPlayers:       r.Waiting(RolePlayer),
		WaitingGoalkeepers:   r.Waiting(RoleGoalkeeper),
	}
	for _, p := range r {
		if p.Status != StatusConfirmed {
			continue
		}
		switch p.Role {
		case RolePlayer:
			v.ConfirmedPlayers = append(v.ConfirmedPlayers, p)
		case RoleGoalkeeper:
			v.ConfirmedGoalkeepers = append(v.ConfirmedGoalkeepers, p)
		}
	}
	return v
}

type ChangeKind string

const (
	ChangeJoined       ChangeKind = "joined"
	ChangeRemoved      ChangeKind = "removed"
	ChangeRoleSwitched ChangeKind = "role_switched"
	ChangePromoted     ChangeKind = "promoted"
)

// Change describes how one participant was affected by an operation.
type Change struct {
	Kind          ChangeKind `json:"kind"`
	ParticipantID uuid.UUID  `json:"participant_id"`
	Name          string     `json:"name"`
	Role          Role       `json:"role"`
	Status        Status     `json:"status"`
	PrevRole      Role       `json:"prev_role,omitempty"`
	PrevStatus    Status     `json:"prev_status,omitempty"`
}

// RosterChanged is emitted once per committed roster mutation.
type RosterChanged struct {
	EventID uuid.UUID `json:"event_id"`
	Changes []Change  `json:"changes"`
	At      time.Time `json:"at"`
}
