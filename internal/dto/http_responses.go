package dto

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"

	"gameRoster/internal/model"
)

const (
	FieldBadFormat     = "FIELD_BADFORMAT"
	FieldIncorrect     = "FIELD_INCORRECT"
	ServiceUnavailable = "SERVICE_UNAVAILABLE"
	InternalError      = "Service is currently unavailable. Please try again later."

	EventNotFound        = "EVENT_NOT_FOUND"
	ParticipantNotFound  = "PARTICIPANT_NOT_FOUND"
	EventClosed          = "EVENT_CLOSED"
	InvalidIdentity      = "INVALID_IDENTITY"
	InvalidRole          = "INVALID_ROLE"
	AlreadyJoined        = "ALREADY_JOINED"
	JoinConflict         = "JOIN_CONFLICT"
	Forbidden            = "FORBIDDEN"
	Unauthenticated      = "UNAUTHENTICATED"
	RegistrationRequired = "REGISTRATION_REQUIRED"
	ProfileNotFound      = "PROFILE_NOT_FOUND"
)

type CreateEventRequest struct {
	Name                 string    `json:"name" validate:"required,max=120"`
	StartsAt             time.Time `json:"starts_at" validate:"required"`
	Location             string    `json:"location" validate:"max=255"`
	MapsURL              string    `json:"maps_url" validate:"mapsurl"`
	PlayerLimit          int       `json:"player_limit" validate:"positive"`
	GoalkeeperLimit      int       `json:"goalkeeper_limit" validate:"positive"`
	IsOpen               *bool     `json:"is_open"`
	RequiresRegistration bool      `json:"requires_registration"`
	Rules                []string  `json:"rules" validate:"max=50,dive,required,max=500"`
}

func (r CreateEventRequest) ToModel() *model.Event {
	ev := &model.Event{
		Name:                 r.Name,
		StartsAt:             r.StartsAt,
		Location:             r.Location,
		MapsURL:              r.MapsURL,
		PlayerLimit:          r.PlayerLimit,
		GoalkeeperLimit:      r.GoalkeeperLimit,
		IsOpen:               true,
		RequiresRegistration: r.RequiresRegistration,
	}
	if r.IsOpen != nil {
		ev.IsOpen = *r.IsOpen
	}
	for i, text := range r.Rules {
		ev.Rules = append(ev.Rules, model.EventRule{Text: text, OrderIndex: i})
	}
	return ev
}

type UpdateEventRequest struct {
	Name                 *string    `json:"name" validate:"omitempty,min=1,max=120"`
	StartsAt             *time.Time `json:"starts_at"`
	Location             *string    `json:"location" validate:"omitempty,max=255"`
	MapsURL              *string    `json:"maps_url" validate:"omitempty,mapsurl"`
	PlayerLimit          *int       `json:"player_limit" validate:"omitempty,positive"`
	GoalkeeperLimit      *int       `json:"goalkeeper_limit" validate:"omitempty,positive"`
	IsOpen               *bool      `json:"is_open"`
	RequiresRegistration *bool      `json:"requires_registration"`
	Rules                *[]string  `json:"rules" validate:"omitempty,max=50,dive,required,max=500"`
}

func (r UpdateEventRequest) ToPatch() model.EventPatch {
	return model.EventPatch{
		Name:                 r.Name,
		StartsAt:             r.StartsAt,
		Location:             r.Location,
		MapsURL:              r.MapsURL,
		PlayerLimit:          r.PlayerLimit,
		GoalkeeperLimit:      r.GoalkeeperLimit,
		IsOpen:               r.IsOpen,
		RequiresRegistration: r.RequiresRegistration,
		Rules:                r.Rules,
	}
}

// JoinRequest carries the display name for anonymous joins. Signed-in callers
// may omit it and the name from their token is used.
type JoinRequest struct {
	Name string `json:"name" validate:"max=80"`
	Role string `json:"role" validate:"required,role"`
}

type SwitchRoleRequest struct {
	Role string `json:"role" validate:"required,role"`
}

type ProfileRequest struct {
	FullName  string  `json:"full_name" validate:"required,max=120"`
	CPF       string  `json:"cpf" validate:"required,cpf"`
	Cellphone *string `json:"cellphone" validate:"omitempty,cellphone"`
}

func (r ProfileRequest) ToModel() *model.Profile {
	return &model.Profile{FullName: r.FullName, CPF: r.CPF, Cellphone: r.Cellphone}
}

type ProfileResponse struct {
	FullName  string    `json:"full_name"`
	CPF       string    `json:"cpf"`
	Cellphone *string   `json:"cellphone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func ToProfileResponse(p *model.Profile) ProfileResponse {
	return ProfileResponse{
		FullName:  p.FullName,
		CPF:       p.CPF,
		Cellphone: p.Cellphone,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

type ParticipantDetailsResponse struct {
	ParticipantID    uuid.UUID  `json:"participant_id"`
	FullName         string     `json:"full_name"`
	CPF              *string    `json:"cpf"`
	Cellphone        *string    `json:"cellphone"`
	ProfileCreatedAt *time.Time `json:"profile_created_at,omitempty"`
	HasProfile       bool       `json:"has_profile"`
}

func ToParticipantDetailsResponse(d *model.ParticipantDetails) ParticipantDetailsResponse {
	return ParticipantDetailsResponse{
		ParticipantID:    d.ParticipantID,
		FullName:         d.FullName,
		CPF:              d.CPF,
		Cellphone:        d.Cellphone,
		ProfileCreatedAt: d.ProfileCreatedAt,
		HasProfile:       d.HasProfile,
	}
}

type RuleResponse struct {
	Text       string `json:"text"`
	OrderIndex int    `json:"order_index"`
}

type EventResponse struct {
	ID                   uuid.UUID      `json:"id"`
	OrganizerID          uuid.UUID      `json:"organizer_id"`
	Name                 string         `json:"name"`
	StartsAt             time.Time      `json:"starts_at"`
	Location             string         `json:"location"`
	MapsURL              string         `json:"maps_url,omitempty"`
	PlayerLimit          int            `json:"player_limit"`
	GoalkeeperLimit      int            `json:"goalkeeper_limit"`
	IsOpen               bool           `json:"is_open"`
	RequiresRegistration bool           `json:"requires_registration"`
	Rules                []RuleResponse `json:"rules,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

func ToEventResponse(e *model.Event) EventResponse {
	resp := EventResponse{
		ID:                   e.ID,
		OrganizerID:          e.OrganizerID,
		Name:                 e.Name,
		StartsAt:             e.StartsAt,
		Location:             e.Location,
		MapsURL:              e.MapsURL,
		PlayerLimit:          e.PlayerLimit,
		GoalkeeperLimit:      e.GoalkeeperLimit,
		IsOpen:               e.IsOpen,
		RequiresRegistration: e.RequiresRegistration,
		CreatedAt:            e.CreatedAt,
		UpdatedAt:            e.UpdatedAt,
	}
	for _, rule := range e.Rules {
		resp.Rules = append(resp.Rules, RuleResponse{Text: rule.Text, OrderIndex: rule.OrderIndex})
	}
	return resp
}

type ParticipantResponse struct {
	ID        uuid.UUID  `json:"id"`
	EventID   uuid.UUID  `json:"event_id"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	Name      string     `json:"name"`
	Role      string     `json:"role"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

func ToParticipantResponse(p model.Participant) ParticipantResponse {
	return ParticipantResponse{
		ID:        p.ID,
		EventID:   p.EventID,
		UserID:    p.UserID,
		Name:      p.Name,
		Role:      string(p.Role),
		Status:    string(p.Status),
		CreatedAt: p.CreatedAt,
	}
}

func toParticipants(ps []model.Participant) []ParticipantResponse {
	out := make([]ParticipantResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, ToParticipantResponse(p))
	}
	return out
}

type RosterResponse struct {
	ConfirmedPlayers     []ParticipantResponse `json:"confirmed_players"`
	ConfirmedGoalkeepers []ParticipantResponse `json:"confirmed_goalkeepers"`
	WaitingPlayers       []ParticipantResponse `json:"waiting_players"`
	WaitingGoalkeepers   []ParticipantResponse `json:"waiting_goalkeepers"`
}

type EventInfoResponse struct {
	EventResponse
	FreePlayerSlots     int            `json:"free_player_slots"`
	FreeGoalkeeperSlots int            `json:"free_goalkeeper_slots"`
	Roster              RosterResponse `json:"roster"`
}

func ToEventInfoResponse(e *model.Event, view model.RosterView, freePlayers, freeKeepers int) EventInfoResponse {
	return EventInfoResponse{
		EventResponse:       ToEventResponse(e),
		FreePlayerSlots:     freePlayers,
		FreeGoalkeeperSlots: freeKeepers,
		Roster: RosterResponse{
			ConfirmedPlayers:     toParticipants(view.ConfirmedPlayers),
			ConfirmedGoalkeepers: toParticipants(view.ConfirmedGoalkeepers),
			WaitingPlayers:       toParticipants(view.WaitingPlayers),
			WaitingGoalkeepers:   toParticipants(view.WaitingGoalkeepers),
		},
	}
}

// OutcomeResponse is returned by roster mutations: the participant acted upon
// and every change the call committed.
type OutcomeResponse struct {
	Participant ParticipantResponse `json:"participant"`
	Changes     []model.Change      `json:"changes"`
	Message     string              `json:"message,omitempty"`
}

func ToOutcomeResponse(p model.Participant, changes []model.Change) OutcomeResponse {
	if changes == nil {
		changes = make([]model.Change, 0)
	}
	return OutcomeResponse{Participant: ToParticipantResponse(p), Changes: changes}
}

type Response struct {
	Status string `json:"status"`
	Error  *Error `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type Error struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
}

func ErrorResponse(c *ginext.Context, httpStatus int, code, desc string) {
	c.JSON(httpStatus, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func BadResponseError(c *ginext.Context, code, desc string) {
	ErrorResponse(c, http.StatusBadRequest, code, desc)
}

func InternalServerError(c *ginext.Context) {
	ErrorResponse(c, http.StatusInternalServerError, ServiceUnavailable, InternalError)
}

func FieldBadFormatError(c *ginext.Context, fieldName string) {
	BadResponseError(c, FieldBadFormat, "Field '"+fieldName+"' has bad format")
}

func FieldIncorrectError(c *ginext.Context, fieldName string) {
	BadResponseError(c, FieldIncorrect, "Field '"+fieldName+"' is incorrect")
}

func EventNotFoundError(c *ginext.Context) {
	ErrorResponse(c, http.StatusNotFound, EventNotFound, "Event not found")
}

func ProfileNotFoundError(c *ginext.Context) {
	ErrorResponse(c, http.StatusNotFound, ProfileNotFound, "Profile not found")
}

func ParticipantNotFoundError(c *ginext.Context) {
	ErrorResponse(c, http.StatusNotFound, ParticipantNotFound, "Participant not found")
}

func UnauthenticatedError(c *ginext.Context) {
	ErrorResponse(c, http.StatusUnauthorized, Unauthenticated, "Sign in to perform this action")
}

func ForbiddenError(c *ginext.Context) {
	ErrorResponse(c, http.StatusForbidden, Forbidden, "You are not allowed to perform this action")
}

func SuccessResponse(c *ginext.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Status: "ok",
		Data:   data,
	})
}

func SuccessCreatedResponse(c *ginext.Context, data any) {
	c.JSON(http.StatusCreated, Response{
		Status: "ok",
		Data:   data,
	})
}
