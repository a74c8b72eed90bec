package service

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gameRoster/cmd/middleware"
	"gameRoster/internal/allocator"
	"gameRoster/internal/dto"
	"gameRoster/internal/repo"
)

const testSecret = "service-test-secret"

type stubStreamer struct {
	rooms []uuid.UUID
}

func (s *stubStreamer) ServeWS(w http.ResponseWriter, _ *http.Request, room uuid.UUID) error {
	s.rooms = append(s.rooms, room)
	w.WriteHeader(http.StatusSwitchingProtocols)
	return nil
}

type testServer struct {
	router   *gin.Engine
	streamer *stubStreamer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zerolog.Nop()
	engine := allocator.New(repo.NewMemory(), nil, &log)
	streamer := &stubStreamer{}
	svc := NewService(engine, streamer, &log)

	r := gin.New()
	v1 := r.Group("/v1", middleware.Auth(testSecret))
	v1.GET("/events/:id", svc.GetInfo)
	v1.GET("/events/:id/stream", svc.Stream)
	v1.POST("/events/:id/participants", svc.Join)
	v1.DELETE("/participants/:id", svc.RemoveParticipant)
	v1.PATCH("/participants/:id/role", svc.SwitchRole)
	org := v1.Group("", middleware.RequireAuth())
	org.POST("/events", svc.CreateEvent)
	org.GET("/events", svc.GetAllEvents)
	org.PATCH("/events/:id", svc.UpdateEvent)
	org.DELETE("/events/:id", svc.DeleteEvent)
	org.POST("/events/:id/duplicate", svc.DuplicateEvent)
	org.GET("/participants/:id/details", svc.ParticipantDetails)
	org.GET("/me/profile", svc.GetProfile)
	org.PUT("/me/profile", svc.SaveProfile)

	return &testServer{router: r, streamer: streamer}
}

type user struct {
	id    uuid.UUID
	token string
}

func newUser(t *testing.T, name string) user {
	t.Helper()
	id := uuid.New()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  id.String(),
		"name": name,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return user{id: id, token: token}
}

type envelope struct {
	Status string          `json:"status"`
	Error  *dto.Error      `json:"error"`
	Data   json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path string, as *user, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+as.token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func (s *testServer) createEvent(t *testing.T, organizer user, players, keepers int) dto.EventResponse {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/v1/events", &organizer, map[string]any{
		"name":             "Friday night futsal",
		"starts_at":        time.Now().Add(72 * time.Hour).Format(time.RFC3339),
		"location":         "Arena Norte",
		"player_limit":     players,
		"goalkeeper_limit": keepers,
		"rules":            []string{"Bring water", "Pay on arrival"},
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	return decode[dto.EventResponse](t, env.Data)
}

func TestJoinFlow_WaitlistAndPromotion(t *testing.T) {
	s := newTestServer(t)
	organizer := newUser(t, "Org")
	ev := s.createEvent(t, organizer, 1, 1)
	join := "/v1/events/" + ev.ID.String() + "/participants"

	code, env := s.do(t, http.MethodPost, join, nil, map[string]string{"name": "Ana", "role": "PLAYER"})
	require.Equal(t, http.StatusCreated, code)
	first := decode[dto.OutcomeResponse](t, env.Data)
	assert.Equal(t, "CONFIRMED", first.Participant.Status)

	code, env = s.do(t, http.MethodPost, join, nil, map[string]string{"name": "Beto", "role": "PLAYER"})
	require.Equal(t, http.StatusCreated, code)
	second := decode[dto.OutcomeResponse](t, env.Data)
	assert.Equal(t, "WAITING", second.Participant.Status)
	assert.Contains(t, second.Message, "waiting list")

	code, env = s.do(t, http.MethodDelete, "/v1/participants/"+first.Participant.ID.String(), &organizer, nil)
	require.Equal(t, http.StatusOK, code)
	removed := decode[dto.OutcomeResponse](t, env.Data)
	require.Len(t, removed.Changes, 2)
	assert.Equal(t, second.Participant.ID, removed.Changes[1].ParticipantID)

	code, env = s.do(t, http.MethodGet, "/v1/events/"+ev.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, code)
	info := decode[dto.EventInfoResponse](t, env.Data)
	require.Len(t, info.Roster.ConfirmedPlayers, 1)
	assert.Equal(t, "Beto", info.Roster.ConfirmedPlayers[0].Name)
	assert.Empty(t, info.Roster.WaitingPlayers)
	assert.Equal(t, 0, info.FreePlayerSlots)
	assert.Equal(t, 1, info.FreeGoalkeeperSlots)
	assert.Len(t, info.Rules, 2)
}

func TestJoin_ErrorMapping(t *testing.T) {
	s := newTestServer(t)
	organizer := newUser(t, "Org")
	player := newUser(t, "Caio")
	ev := s.createEvent(t, organizer, 2, 1)
	join := "/v1/events/" + ev.ID.String() + "/participants"

	code, _ := s.do(t, http.MethodPost, join, &player, map[string]string{"role": "PLAYER"})
	require.Equal(t, http.StatusCreated, code)

	code, env := s.do(t, http.MethodPost, join, &player, map[string]string{"role": "GOALKEEPER"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, dto.AlreadyJoined, env.Error.Code)

	code, env = s.do(t, http.MethodPost, join, nil, map[string]string{"name": "  ", "role": "PLAYER"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, dto.InvalidIdentity, env.Error.Code)

	code, env = s.do(t, http.MethodPost, join, nil, map[string]string{"name": "X", "role": "REFEREE"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, dto.FieldIncorrect, env.Error.Code)

	code, env = s.do(t, http.MethodPost, "/v1/events/"+uuid.NewString()+"/participants", nil, map[string]string{"name": "X", "role": "PLAYER"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, dto.EventNotFound, env.Error.Code)

	code, env = s.do(t, http.MethodPost, "/v1/events/not-a-uuid/participants", nil, map[string]string{"name": "X", "role": "PLAYER"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, dto.FieldBadFormat, env.Error.Code)

	closed := false
	code, _ = s.do(t, http.MethodPatch, "/v1/events/"+ev.ID.String(), &organizer, map[string]any{"is_open": closed})
	require.Equal(t, http.StatusOK, code)
	code, env = s.do(t, http.MethodPost, join, nil, map[string]string{"name": "Late", "role": "PLAYER"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, dto.EventClosed, env.Error.Code)
}

func TestJoin_RegistrationRequired(t *testing.T) {
	s := newTestServer(t)
	organizer := newUser(t, "Org")
	ev := s.createEvent(t, organizer, 2, 1)

	code, _ := s.do(t, http.MethodPatch, "/v1/events/"+ev.ID.String(), &organizer, map[string]any{"requires_registration": true})
	require.Equal(t, http.StatusOK, code)

	code, env := s.do(t, http.MethodPost, "/v1/events/"+ev.ID.String()+"/participants", nil, map[string]string{"name": "Anon", "role": "PLAYER"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, dto.RegistrationRequired, env.Error.Code)
}

func TestSwitchRole_Authorization(t *testing.T) {
	s := newTestServer(t)
	organizer := newUser(t, "Org")
	owner := newUser(t, "Dani")
	stranger := newUser(t, "Eva")
	ev := s.createEvent(t, organizer, 2, 1)

	_, env := s.do(t, http.MethodPost, "/v1/events/"+ev.ID.String()+"/participants", &owner, map[string]string{"role": "PLAYER"})
	joined := decode[dto.OutcomeResponse](t, env.Data)
	path := "/v1/participants/" + joined.Participant.ID.String() + "/role"

	code, env := s.do(t, http.MethodPatch, path, nil, map[string]string{"role": "GOALKEEPER"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, dto.Unauthenticated, env.Error.Code)

	code, env = s.do(t, http.MethodPatch, path, &stranger, map[string]string{"role": "GOALKEEPER"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, dto.Forbidden, env.Error.Code)

	code, env = s.do(t, http.MethodPatch, path, &owner, map[string]string{"role": "GOALKEEPER"})
	require.Equal(t, http.StatusOK, code)
	switched := decode[dto.OutcomeResponse](t, env.Data)
	assert.Equal(t, "GOALKEEPER", switched.Participant.Role)
	assert.Equal(t, "CONFIRMED", switched.Participant.Status)

	code, env = s.do(t, http.MethodDelete, "/v1/participants/"+uuid.NewString(), &organizer, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, dto.ParticipantNotFound, env.Error.Code)
}

func TestEventManagement(t *testing.T) {
	s := newTestServer(t)
	organizer := newUser(t, "Org")
	other := newUser(t, "Other")
	ev := s.createEvent(t, organizer, 10, 2)
	path := "/v1/events/" + ev.ID.String()

	code, env := s.do(t, http.MethodPost, "/v1/events", nil, map[string]any{"name": "x"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env = s.do(t, http.MethodPost, "/v1/events", &organizer, map[string]any{
		"name": "bad", "starts_at": time.Now().Format(time.RFC3339), "player_limit": 0, "goalkeeper_limit": 1,
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Error.Desc, "positive")

	code, env = s.do(t, http.MethodPatch, path, &other, map[string]any{"player_limit": 4})
	assert.Equal(t, http.StatusForbidden, code)

	code, env = s.do(t, http.MethodPost, path+"/duplicate", &organizer, nil)
	require.Equal(t, http.StatusCreated, code)
	dup := decode[dto.EventResponse](t, env.Data)
	assert.Equal(t, ev.Name+" (Copy)", dup.Name)
	assert.NotEqual(t, ev.ID, dup.ID)
	assert.Len(t, dup.Rules, 2)

	code, env = s.do(t, http.MethodGet, "/v1/events", &organizer, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]dto.EventResponse](t, env.Data), 2)

	code, _ = s.do(t, http.MethodDelete, path, &other, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(t, http.MethodDelete, path, &organizer, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodGet, path, nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStream_UnknownEvent(t *testing.T) {
	s := newTestServer(t)
	organizer := newUser(t, "Org")
	ev := s.createEvent(t, organizer, 1, 1)

	code, _ := s.do(t, http.MethodGet, "/v1/events/"+uuid.NewString()+"/stream", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Empty(t, s.streamer.rooms)

	req := httptest.NewRequest(http.MethodGet, "/v1/events/"+ev.ID.String()+"/stream", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, []uuid.UUID{ev.ID}, s.streamer.rooms)
}

func TestProfile_SaveAndRead(t *testing.T) {
	s := newTestServer(t)
	member := newUser(t, "Gil")

	code, env := s.do(t, http.MethodGet, "/v1/me/profile", &member, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, dto.ProfileNotFound, env.Error.Code)

	code, env = s.do(t, http.MethodPut, "/v1/me/profile", &member, map[string]string{
		"full_name": "Gilberto Souza", "cpf": "529.982.247-24",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Error.Desc, "CPF is not valid")

	code, env = s.do(t, http.MethodPut, "/v1/me/profile", &member, map[string]string{
		"full_name": "Gilberto Souza", "cpf": "529.982.247-25", "cellphone": "(11) 98765-4321",
	})
	require.Equal(t, http.StatusOK, code, env.Error)
	saved := decode[dto.ProfileResponse](t, env.Data)
	assert.Equal(t, "52998224725", saved.CPF)
	require.NotNil(t, saved.Cellphone)
	assert.Equal(t, "11987654321", *saved.Cellphone)

	code, env = s.do(t, http.MethodGet, "/v1/me/profile", &member, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Gilberto Souza", decode[dto.ProfileResponse](t, env.Data).FullName)
}

func TestParticipantDetails_OrganizerOnly(t *testing.T) {
	s := newTestServer(t)
	organizer := newUser(t, "Org")
	member := newUser(t, "Hana")
	ev := s.createEvent(t, organizer, 5, 1)
	join := "/v1/events/" + ev.ID.String() + "/participants"

	code, _ := s.do(t, http.MethodPut, "/v1/me/profile", &member, map[string]string{
		"full_name": "Hana Lima", "cpf": "52998224725",
	})
	require.Equal(t, http.StatusOK, code)

	_, env := s.do(t, http.MethodPost, join, &member, map[string]string{"role": "PLAYER"})
	registered := decode[dto.OutcomeResponse](t, env.Data)
	_, env = s.do(t, http.MethodPost, join, nil, map[string]string{"name": "Walk-in", "role": "PLAYER"})
	walkIn := decode[dto.OutcomeResponse](t, env.Data)

	details := "/v1/participants/" + registered.Participant.ID.String() + "/details"

	code, env = s.do(t, http.MethodGet, details, &member, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, dto.Forbidden, env.Error.Code)

	code, _ = s.do(t, http.MethodGet, details, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env = s.do(t, http.MethodGet, details, &organizer, nil)
	require.Equal(t, http.StatusOK, code)
	full := decode[dto.ParticipantDetailsResponse](t, env.Data)
	assert.True(t, full.HasProfile)
	assert.Equal(t, "Hana Lima", full.FullName)
	require.NotNil(t, full.CPF)
	assert.Equal(t, "52998224725", *full.CPF)
	assert.NotNil(t, full.ProfileCreatedAt)

	code, env = s.do(t, http.MethodGet, "/v1/participants/"+walkIn.Participant.ID.String()+"/details", &organizer, nil)
	require.Equal(t, http.StatusOK, code)
	basic := decode[dto.ParticipantDetailsResponse](t, env.Data)
	assert.False(t, basic.HasProfile)
	assert.Equal(t, "Walk-in", basic.FullName)
	assert.Nil(t, basic.CPF)
	assert.Nil(t, basic.Cellphone)

	code, env = s.do(t, http.MethodGet, "/v1/participants/"+uuid.NewString()+"/details", &organizer, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, dto.ParticipantNotFound, env.Error.Code)
}

func TestBind_ReportsMistypedField(t *testing.T) {
	s := newTestServer(t)
	organizer := newUser(t, "Org")
	ev := s.createEvent(t, organizer, 2, 1)

	code, env := s.do(t, http.MethodPost, "/v1/events/"+ev.ID.String()+"/participants", nil, map[string]any{"name": "Ivo", "role": 7})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, dto.FieldIncorrect, env.Error.Code)
	assert.Equal(t, "Field 'role' is incorrect", env.Error.Desc)

	tooMany := make([]string, 51)
	for i := range tooMany {
		tooMany[i] = "rule"
	}
	code, env = s.do(t, http.MethodPatch, "/v1/events/"+ev.ID.String(), &organizer, map[string]any{"rules": tooMany})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Error.Desc, "maximum length")
}
