package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gameRoster/internal/model"
)

type memParticipant struct {
	model.Participant
	seq int64
}

// Memory is an in-process Repository. A roster transaction holds the store
// lock for its whole duration and works on a staged copy of the event's
// participants, which replaces the committed rows only when fn succeeds.
type Memory struct {
	mu           sync.Mutex
	events       map[uuid.UUID]model.Event
	participants map[uuid.UUID]memParticipant
	profiles     map[uuid.UUID]model.Profile
	seq          int64
	now          func() time.Time
}

var _ Repository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		events:       make(map[uuid.UUID]model.Event),
		participants: make(map[uuid.UUID]memParticipant),
		profiles:     make(map[uuid.UUID]model.Profile),
		now:          time.Now,
	}
}

func (m *Memory) MigrateUp(string) error   { return nil }
func (m *Memory) MigrateDown(string) error { return nil }

func copyEvent(e model.Event) model.Event {
	if e.Rules != nil {
		rules := make([]model.EventRule, len(e.Rules))
		copy(rules, e.Rules)
		e.Rules = rules
	}
	return e
}

func buildRules(eventID uuid.UUID, texts []string, at time.Time) []model.EventRule {
	rules := make([]model.EventRule, 0, len(texts))
	for i, text := range texts {
		rules = append(rules, model.EventRule{
			ID:         uuid.New(),
			EventID:    eventID,
			Text:       text,
			OrderIndex: i,
			CreatedAt:  at,
		})
	}
	return rules
}

func (m *Memory) CreateEvent(_ context.Context, e *model.Event) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := m.now()
	e.CreatedAt, e.UpdatedAt = now, now

	texts := make([]string, 0, len(e.Rules))
	for _, rule := range e.Rules {
		texts = append(texts, rule.Text)
	}
	e.Rules = buildRules(e.ID, texts, now)

	m.events[e.ID] = copyEvent(*e)
	return e.ID, nil
}

func (m *Memory) GetEventByID(_ context.Context, id uuid.UUID) (*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	e = copyEvent(e)
	if e.Rules == nil {
		e.Rules = make([]model.EventRule, 0)
	}
	return &e, nil
}

func (m *Memory) GetEventsByOrganizer(_ context.Context, organizerID uuid.UUID) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := make([]model.Event, 0)
	for _, e := range m.events {
		if e.OrganizerID == organizerID {
			e.Rules = nil
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].StartsAt.After(events[j].StartsAt)
	})
	return events, nil
}

func (m *Memory) UpdateEvent(_ context.Context, id uuid.UUID, patch model.EventPatch) (*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	if patch.Name != nil {
		e.Name = *patch.Name
	}
	if patch.StartsAt != nil {
		e.StartsAt = *patch.StartsAt
	}
	if patch.Location != nil {
		e.Location = *patch.Location
	}
	if patch.MapsURL != nil {
		e.MapsURL = *patch.MapsURL
	}
	if patch.PlayerLimit != nil {
		e.PlayerLimit = *patch.PlayerLimit
	}
	if patch.GoalkeeperLimit != nil {
		e.GoalkeeperLimit = *patch.GoalkeeperLimit
	}
	if patch.IsOpen != nil {
		e.IsOpen = *patch.IsOpen
	}
	if patch.RequiresRegistration != nil {
		e.RequiresRegistration = *patch.RequiresRegistration
	}
	e.UpdatedAt = m.now()
	if patch.Rules != nil {
		e.Rules = buildRules(id, *patch.Rules, e.UpdatedAt)
	}

	m.events[id] = e
	out := copyEvent(e)
	return &out, nil
}

func (m *Memory) DeleteEvent(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[id]; !ok {
		return ErrEventNotFound
	}
	delete(m.events, id)
	for pid, p := range m.participants {
		if p.EventID == id {
			delete(m.participants, pid)
		}
	}
	return nil
}

func (m *Memory) GetParticipantByID(_ context.Context, id uuid.UUID) (*model.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.participants[id]
	if !ok {
		return nil, ErrParticipantNotFound
	}
	out := p.Participant
	return &out, nil
}

func (m *Memory) GetProfile(_ context.Context, userID uuid.UUID) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return copyProfile(p), nil
}

func (m *Memory) UpsertProfile(_ context.Context, p *model.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	p.CreatedAt, p.UpdatedAt = now, now
	if prev, ok := m.profiles[p.UserID]; ok {
		p.CreatedAt = prev.CreatedAt
	}
	m.profiles[p.UserID] = *copyProfile(*p)
	return nil
}

func copyProfile(p model.Profile) *model.Profile {
	if p.Cellphone != nil {
		phone := *p.Cellphone
		p.Cellphone = &phone
	}
	return &p
}

func (m *Memory) GetParticipantsByEventID(_ context.Context, eventID uuid.UUID) (model.Roster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return sortedRoster(m.eventRows(eventID)), nil
}

func (m *Memory) eventRows(eventID uuid.UUID) map[uuid.UUID]memParticipant {
	rows := make(map[uuid.UUID]memParticipant)
	for id, p := range m.participants {
		if p.EventID == eventID {
			rows[id] = p
		}
	}
	return rows
}

func sortedRoster(rows map[uuid.UUID]memParticipant) model.Roster {
	sorted := make([]memParticipant, 0, len(rows))
	for _, p := range rows {
		sorted = append(sorted, p)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].seq < sorted[j].seq
	})

	roster := make(model.Roster, 0, len(sorted))
	for _, p := range sorted {
		roster = append(roster, p.Participant)
	}
	return roster
}

func (m *Memory) RosterTx(ctx context.Context, eventID uuid.UUID, fn func(tx RosterTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{m: m, eventID: eventID, rows: m.eventRows(eventID), seq: m.seq}
	if err := fn(tx); err != nil {
		return err
	}

	for id, p := range m.participants {
		if p.EventID == eventID {
			delete(m.participants, id)
		}
	}
	for id, p := range tx.rows {
		m.participants[id] = p
	}
	m.seq = tx.seq
	return nil
}

type memTx struct {
	m       *Memory
	eventID uuid.UUID
	rows    map[uuid.UUID]memParticipant
	seq     int64
}

func (t *memTx) GetEvent(_ context.Context, id uuid.UUID) (*model.Event, error) {
	e, ok := t.m.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	e = copyEvent(e)
	return &e, nil
}

func (t *memTx) ListParticipants(_ context.Context, eventID uuid.UUID) (model.Roster, error) {
	if eventID != t.eventID {
		return sortedRoster(t.m.eventRows(eventID)), nil
	}
	return sortedRoster(t.rows), nil
}

func (t *memTx) InsertParticipant(_ context.Context, p *model.Participant) (uuid.UUID, error) {
	if _, ok := t.m.events[p.EventID]; !ok || p.EventID != t.eventID {
		return uuid.Nil, ErrEventNotFound
	}
	if p.UserID != nil {
		for _, existing := range t.rows {
			if existing.UserID != nil && *existing.UserID == *p.UserID {
				return uuid.Nil, ErrConflict
			}
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	t.seq++
	row := memParticipant{Participant: *p, seq: t.seq}
	if p.UserID != nil {
		uid := *p.UserID
		row.UserID = &uid
	}
	t.rows[p.ID] = row
	return p.ID, nil
}

func (t *memTx) UpdateParticipant(_ context.Context, id uuid.UUID, upd model.ParticipantUpdate) error {
	row, ok := t.rows[id]
	if !ok {
		return ErrParticipantNotFound
	}
	if upd.Role != nil {
		row.Role = *upd.Role
	}
	if upd.Status != nil {
		row.Status = *upd.Status
	}
	t.rows[id] = row
	return nil
}

func (t *memTx) DeleteParticipant(_ context.Context, id uuid.UUID) error {
	if _, ok := t.rows[id]; !ok {
		return ErrParticipantNotFound
	}
	delete(t.rows, id)
	return nil
}
