package service

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"gameRoster/cmd/middleware"
	"gameRoster/internal/allocator"
	"gameRoster/internal/dto"
	"gameRoster/internal/model"
	"gameRoster/internal/repo"
	"gameRoster/pkg/validator"
)

type Service interface {
	CreateEvent(ctx *ginext.Context)
	GetAllEvents(ctx *ginext.Context)
	GetInfo(ctx *ginext.Context)
	UpdateEvent(ctx *ginext.Context)
	DeleteEvent(ctx *ginext.Context)
	DuplicateEvent(ctx *ginext.Context)
	GetProfile(ctx *ginext.Context)
	SaveProfile(ctx *ginext.Context)
	ParticipantDetails(ctx *ginext.Context)
	Join(ctx *ginext.Context)
	RemoveParticipant(ctx *ginext.Context)
	SwitchRole(ctx *ginext.Context)
	Stream(ctx *ginext.Context)
}

// Streamer attaches a websocket observer to an event's room.
type Streamer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, room uuid.UUID) error
}

type service struct {
	engine   *allocator.Engine
	streamer Streamer
	log      *zerolog.Logger
}

func NewService(engine *allocator.Engine, streamer Streamer, logger *zerolog.Logger) Service {
	return &service{
		engine:   engine,
		streamer: streamer,
		log:      logger,
	}
}

func (s *service) CreateEvent(ctx *ginext.Context) {
	var req dto.CreateEventRequest
	if !s.bind(ctx, &req) {
		return
	}

	caller := middleware.CallerFrom(ctx)
	event, err := s.engine.CreateEvent(ctx.Request.Context(), caller, req.ToModel())
	if err != nil {
		s.writeError(ctx, caller, err)
		return
	}
	dto.SuccessCreatedResponse(ctx, dto.ToEventResponse(event))
}

func (s *service) GetAllEvents(ctx *ginext.Context) {
	caller := middleware.CallerFrom(ctx)
	events, err := s.engine.ListEvents(ctx.Request.Context(), caller)
	if err != nil {
		s.writeError(ctx, caller, err)
		return
	}

	resp := make([]dto.EventResponse, 0, len(events))
	for i := range events {
		resp = append(resp, dto.ToEventResponse(&events[i]))
	}
	dto.SuccessResponse(ctx, resp)
}

func (s *service) GetInfo(ctx *ginext.Context) {
	eventID, ok := pathID(ctx)
	if !ok {
		return
	}

	view, err := s.engine.GetEvent(ctx.Request.Context(), eventID)
	if err != nil {
		s.writeError(ctx, middleware.CallerFrom(ctx), err)
		return
	}
	dto.SuccessResponse(ctx, dto.ToEventInfoResponse(&view.Event, view.Roster, view.FreePlayerSlots, view.FreeGoalkeeperSlots))
}

func (s *service) UpdateEvent(ctx *ginext.Context) {
	eventID, ok := pathID(ctx)
	if !ok {
		return
	}
	var req dto.UpdateEventRequest
	if !s.bind(ctx, &req) {
		return
	}

	caller := middleware.CallerFrom(ctx)
	event, err := s.engine.UpdateEvent(ctx.Request.Context(), caller, eventID, req.ToPatch())
	if err != nil {
		s.writeError(ctx, caller, err)
		return
	}
	dto.SuccessResponse(ctx, dto.ToEventResponse(event))
}

func (s *service) DeleteEvent(ctx *ginext.Context) {
	eventID, ok := pathID(ctx)
	if !ok {
		return
	}

	caller := middleware.CallerFrom(ctx)
	if err := s.engine.DeleteEvent(ctx.Request.Context(), caller, eventID); err != nil {
		s.writeError(ctx, caller, err)
		return
	}
	dto.SuccessResponse(ctx, map[string]string{"id": eventID.String()})
}

func (s *service) DuplicateEvent(ctx *ginext.Context) {
	eventID, ok := pathID(ctx)
	if !ok {
		return
	}

	caller := middleware.CallerFrom(ctx)
	event, err := s.engine.DuplicateEvent(ctx.Request.Context(), caller, eventID)
	if err != nil {
		s.writeError(ctx, caller, err)
		return
	}
	dto.SuccessCreatedResponse(ctx, dto.ToEventResponse(event))
}

func (s *service) Join(ctx *ginext.Context) {
	eventID, ok := pathID(ctx)
	if !ok {
		return
	}
	var req dto.JoinRequest
	if !s.bind(ctx, &req) {
		return
	}

	caller := middleware.CallerFrom(ctx)
	out, err := s.engine.Join(ctx.Request.Context(), eventID, caller.Identity(req.Name), model.Role(req.Role))
	if err != nil {
		s.writeError(ctx, caller, err)
		return
	}

	resp := dto.ToOutcomeResponse(out.Participant, out.Changes)
	resp.Message = "You are in the game"
	if out.Participant.Status == model.StatusWaiting {
		resp.Message = "The roster is full, you are on the waiting list"
	}
	dto.SuccessCreatedResponse(ctx, resp)
}

func (s *service) RemoveParticipant(ctx *ginext.Context) {
	participantID, ok := pathID(ctx)
	if !ok {
		return
	}

	caller := middleware.CallerFrom(ctx)
	out, err := s.engine.Remove(ctx.Request.Context(), caller, participantID)
	if err != nil {
		s.writeError(ctx, caller, err)
		return
	}
	dto.SuccessResponse(ctx, dto.ToOutcomeResponse(out.Participant, out.Changes))
}

func (s *service) SwitchRole(ctx *ginext.Context) {
	participantID, ok := pathID(ctx)
	if !ok {
		return
	}
	var req dto.SwitchRoleRequest
	if !s.bind(ctx, &req) {
		return
	}

	caller := middleware.CallerFrom(ctx)
	out, err := s.engine.SwitchRole(ctx.Request.Context(), caller, participantID, model.Role(req.Role))
	if err != nil {
		s.writeError(ctx, caller, err)
		return
	}
	dto.SuccessResponse(ctx, dto.ToOutcomeResponse(out.Participant, out.Changes))
}

func (s *service) Stream(ctx *ginext.Context) {
	eventID, ok := pathID(ctx)
	if !ok {
		return
	}
	if _, err := s.engine.GetEvent(ctx.Request.Context(), eventID); err != nil {
		s.writeError(ctx, middleware.CallerFrom(ctx), err)
		return
	}

	if err := s.streamer.ServeWS(ctx.Writer, ctx.Request, eventID); err != nil {
		s.log.Warn().Err(err).Str("event_id", eventID.String()).Msg("failed to open roster stream")
	}
}

func (s *service) GetProfile(ctx *ginext.Context) {
	caller := middleware.CallerFrom(ctx)
	profile, err := s.engine.GetProfile(ctx.Request.Context(), caller)
	if err != nil {
		s.writeError(ctx, caller, err)
		return
	}
	dto.SuccessResponse(ctx, dto.ToProfileResponse(profile))
}

func (s *service) SaveProfile(ctx *ginext.Context) {
	var req dto.ProfileRequest
	if !s.bind(ctx, &req) {
		return
	}

	caller := middleware.CallerFrom(ctx)
	profile, err := s.engine.SaveProfile(ctx.Request.Context(), caller, req.ToModel())
	if err != nil {
		s.writeError(ctx, caller, err)
		return
	}
	dto.SuccessResponse(ctx, dto.ToProfileResponse(profile))
}

// ParticipantDetails exposes a participant's profile to the event organizer.
func (s *service) ParticipantDetails(ctx *ginext.Context) {
	participantID, ok := pathID(ctx)
	if !ok {
		return
	}

	caller := middleware.CallerFrom(ctx)
	details, err := s.engine.ParticipantDetails(ctx.Request.Context(), caller, participantID)
	if err != nil {
		s.writeError(ctx, caller, err)
		return
	}
	dto.SuccessResponse(ctx, dto.ToParticipantDetailsResponse(details))
}

// bind decodes and validates the JSON body into req, writing the 400
// response itself when either step fails.
func (s *service) bind(ctx *ginext.Context, req any) bool {
	if err := ctx.ShouldBindJSON(req); err != nil {
		s.log.Warn().Err(err).Str("path", ctx.FullPath()).Msg("failed to parse request body")
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			dto.FieldIncorrectError(ctx, typeErr.Field)
		} else {
			dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		}
		return false
	}
	if verr := validator.Validate(ctx.Request.Context(), req); verr != nil {
		s.log.Warn().Msgf("validation failed: %v", verr)
		dto.BadResponseError(ctx, dto.FieldIncorrect, verr.Error())
		return false
	}
	return true
}

func pathID(ctx *ginext.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		dto.FieldBadFormatError(ctx, "id")
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps engine errors onto HTTP responses.
func (s *service) writeError(ctx *ginext.Context, caller model.Caller, err error) {
	switch {
	case errors.Is(err, allocator.ErrNotFound):
		switch {
		case errors.Is(err, repo.ErrParticipantNotFound):
			dto.ParticipantNotFoundError(ctx)
		case errors.Is(err, repo.ErrProfileNotFound):
			dto.ProfileNotFoundError(ctx)
		default:
			dto.EventNotFoundError(ctx)
		}
	case errors.Is(err, allocator.ErrClosed):
		dto.ErrorResponse(ctx, http.StatusConflict, dto.EventClosed, "Event is closed for registration")
	case errors.Is(err, allocator.ErrInvalidIdentity):
		dto.BadResponseError(ctx, dto.InvalidIdentity, "A display name is required")
	case errors.Is(err, allocator.ErrInvalidRole):
		dto.BadResponseError(ctx, dto.InvalidRole, "Role must be PLAYER or GOALKEEPER")
	case errors.Is(err, allocator.ErrInvalidEvent), errors.Is(err, allocator.ErrInvalidProfile):
		dto.BadResponseError(ctx, dto.FieldIncorrect, err.Error())
	case errors.Is(err, allocator.ErrAlreadyJoined):
		dto.ErrorResponse(ctx, http.StatusConflict, dto.AlreadyJoined, "You have already joined this event")
	case errors.Is(err, allocator.ErrConflict):
		dto.ErrorResponse(ctx, http.StatusConflict, dto.JoinConflict, "Concurrent registration, please retry")
	case errors.Is(err, allocator.ErrRegistrationRequired):
		dto.ErrorResponse(ctx, http.StatusUnauthorized, dto.RegistrationRequired, "Sign in to join this event")
	case errors.Is(err, allocator.ErrUnauthorized):
		if caller.Anonymous() {
			dto.UnauthenticatedError(ctx)
		} else {
			dto.ForbiddenError(ctx)
		}
	default:
		s.log.Error().Err(err).Str("path", ctx.FullPath()).Msgf("%s failed", ctx.Request.Method)
		dto.InternalServerError(ctx)
	}
}
