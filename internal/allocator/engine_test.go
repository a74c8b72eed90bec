package allocator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gameRoster/internal/model"
	"gameRoster/internal/repo"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.RosterChanged
	err    error
}

func (n *recordingNotifier) Publish(_ context.Context, ev model.RosterChanged) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) all() []model.RosterChanged {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]model.RosterChanged, len(n.events))
	copy(out, n.events)
	return out
}

type fixture struct {
	engine    *Engine
	store     *repo.Memory
	notifier  *recordingNotifier
	organizer model.Caller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repo.NewMemory()
	notifier := &recordingNotifier{}
	return &fixture{
		engine:    New(store, notifier, nil),
		store:     store,
		notifier:  notifier,
		organizer: userCaller("organizer"),
	}
}

func userCaller(name string) model.Caller {
	id := uuid.New()
	return model.Caller{UserID: &id, Name: name}
}

func anon(name string) model.Identity {
	return model.Identity{Name: name}
}

func (f *fixture) event(t *testing.T, players, keepers int) uuid.UUID {
	t.Helper()
	ev := &model.Event{
		OrganizerID:     *f.organizer.UserID,
		Name:            "Thursday five-a-side",
		StartsAt:        time.Now().Add(48 * time.Hour),
		PlayerLimit:     players,
		GoalkeeperLimit: keepers,
		IsOpen:          true,
	}
	id, err := f.store.CreateEvent(context.Background(), ev)
	require.NoError(t, err)
	return id
}

func (f *fixture) join(t *testing.T, eventID uuid.UUID, identity model.Identity, role model.Role) model.Participant {
	t.Helper()
	out, err := f.engine.Join(context.Background(), eventID, identity, role)
	require.NoError(t, err)
	return out.Participant
}

func (f *fixture) status(t *testing.T, id uuid.UUID) (model.Role, model.Status) {
	t.Helper()
	p, err := f.store.GetParticipantByID(context.Background(), id)
	require.NoError(t, err)
	return p.Role, p.Status
}

func TestScenario_PromotionAndSwitch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eventID := f.event(t, 1, 1)

	a := f.join(t, eventID, anon("A"), model.RolePlayer)
	b := f.join(t, eventID, anon("B"), model.RolePlayer)
	c := f.join(t, eventID, anon("C"), model.RolePlayer)
	assert.Equal(t, model.StatusConfirmed, a.Status)
	assert.Equal(t, model.StatusWaiting, b.Status)
	assert.Equal(t, model.StatusWaiting, c.Status)

	out, err := f.engine.Remove(ctx, f.organizer, a.ID)
	require.NoError(t, err)
	require.Len(t, out.Changes, 2)
	assert.Equal(t, model.ChangeRemoved, out.Changes[0].Kind)
	assert.Equal(t, model.ChangePromoted, out.Changes[1].Kind)
	assert.Equal(t, b.ID, out.Changes[1].ParticipantID)

	_, err = f.store.GetParticipantByID(ctx, a.ID)
	assert.ErrorIs(t, err, repo.ErrParticipantNotFound)
	_, st := f.status(t, b.ID)
	assert.Equal(t, model.StatusConfirmed, st)
	_, st = f.status(t, c.ID)
	assert.Equal(t, model.StatusWaiting, st)

	out, err = f.engine.SwitchRole(ctx, f.organizer, c.ID, model.RoleGoalkeeper)
	require.NoError(t, err)
	assert.Equal(t, model.RoleGoalkeeper, out.Participant.Role)
	assert.Equal(t, model.StatusConfirmed, out.Participant.Status)
	require.Len(t, out.Changes, 1, "a waiting participant leaving must not promote anyone")

	role, st := f.status(t, c.ID)
	assert.Equal(t, model.RoleGoalkeeper, role)
	assert.Equal(t, model.StatusConfirmed, st)
	_, st = f.status(t, b.ID)
	assert.Equal(t, model.StatusConfirmed, st)

	assert.Len(t, f.notifier.all(), 5)
}

func TestJoin_ValidationOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown event", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.Join(ctx, uuid.New(), anon(""), model.RolePlayer)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("closed event wins over empty name", func(t *testing.T) {
		f := newFixture(t)
		eventID := f.event(t, 2, 1)
		closed := false
		_, err := f.store.UpdateEvent(ctx, eventID, model.EventPatch{IsOpen: &closed})
		require.NoError(t, err)

		_, err = f.engine.Join(ctx, eventID, anon("  "), model.RolePlayer)
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("blank name", func(t *testing.T) {
		f := newFixture(t)
		eventID := f.event(t, 2, 1)
		_, err := f.engine.Join(ctx, eventID, anon("   "), model.RolePlayer)
		assert.ErrorIs(t, err, ErrInvalidIdentity)
	})

	t.Run("unknown role", func(t *testing.T) {
		f := newFixture(t)
		eventID := f.event(t, 2, 1)
		_, err := f.engine.Join(ctx, eventID, anon("A"), model.Role("REFEREE"))
		assert.ErrorIs(t, err, ErrInvalidRole)
	})

	t.Run("registration required", func(t *testing.T) {
		f := newFixture(t)
		eventID := f.event(t, 2, 1)
		required := true
		_, err := f.store.UpdateEvent(ctx, eventID, model.EventPatch{RequiresRegistration: &required})
		require.NoError(t, err)

		_, err = f.engine.Join(ctx, eventID, anon("A"), model.RolePlayer)
		assert.ErrorIs(t, err, ErrRegistrationRequired)

		user := userCaller("Bia")
		p := f.join(t, eventID, user.Identity(""), model.RolePlayer)
		assert.Equal(t, "Bia", p.Name)
	})
}

func TestJoin_DuplicateIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eventID := f.event(t, 5, 1)

	user := userCaller("Rafa")
	f.join(t, eventID, user.Identity(""), model.RolePlayer)
	_, err := f.engine.Join(ctx, eventID, user.Identity("Rafa again"), model.RoleGoalkeeper)
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	f.join(t, eventID, anon("Joao"), model.RolePlayer)
	f.join(t, eventID, anon("Joao"), model.RolePlayer)
	f.join(t, eventID, anon("Maria"), model.RolePlayer)

	roster, err := f.store.GetParticipantsByEventID(ctx, eventID)
	require.NoError(t, err)
	assert.Len(t, roster, 4)
}

func TestRemove_WaitingChangesNothingElse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eventID := f.event(t, 1, 1)

	a := f.join(t, eventID, anon("A"), model.RolePlayer)
	b := f.join(t, eventID, anon("B"), model.RolePlayer)
	c := f.join(t, eventID, anon("C"), model.RolePlayer)

	out, err := f.engine.Remove(ctx, f.organizer, b.ID)
	require.NoError(t, err)
	require.Len(t, out.Changes, 1)

	_, st := f.status(t, a.ID)
	assert.Equal(t, model.StatusConfirmed, st)
	_, st = f.status(t, c.ID)
	assert.Equal(t, model.StatusWaiting, st)
}

func TestRemove_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Remove(context.Background(), f.organizer, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSwitchRole_ConfirmedPromotesOldRoleWaiter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eventID := f.event(t, 1, 1)

	user := userCaller("A")
	a := f.join(t, eventID, user.Identity(""), model.RolePlayer)
	b := f.join(t, eventID, anon("B"), model.RolePlayer)
	c := f.join(t, eventID, anon("C"), model.RolePlayer)

	out, err := f.engine.SwitchRole(ctx, user, a.ID, model.RoleGoalkeeper)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, out.Participant.Status)
	require.Len(t, out.Changes, 2)
	assert.Equal(t, model.ChangeRoleSwitched, out.Changes[0].Kind)
	assert.Equal(t, model.RolePlayer, out.Changes[0].PrevRole)
	assert.Equal(t, b.ID, out.Changes[1].ParticipantID)

	_, st := f.status(t, b.ID)
	assert.Equal(t, model.StatusConfirmed, st)
	_, st = f.status(t, c.ID)
	assert.Equal(t, model.StatusWaiting, st)
}

func TestSwitchRole_IntoFullRoleWaits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eventID := f.event(t, 2, 1)

	f.join(t, eventID, anon("Keeper"), model.RoleGoalkeeper)
	p := f.join(t, eventID, anon("A"), model.RolePlayer)

	out, err := f.engine.SwitchRole(ctx, f.organizer, p.ID, model.RoleGoalkeeper)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaiting, out.Participant.Status)
}

func TestSwitchRole_SameRoleIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eventID := f.event(t, 1, 1)

	f.join(t, eventID, anon("A"), model.RolePlayer)
	b := f.join(t, eventID, anon("B"), model.RolePlayer)
	before := len(f.notifier.all())

	for i := 0; i < 2; i++ {
		out, err := f.engine.SwitchRole(ctx, f.organizer, b.ID, model.RolePlayer)
		require.NoError(t, err)
		assert.Empty(t, out.Changes)
		assert.Equal(t, model.StatusWaiting, out.Participant.Status)
	}

	role, st := f.status(t, b.ID)
	assert.Equal(t, model.RolePlayer, role)
	assert.Equal(t, model.StatusWaiting, st)
	assert.Len(t, f.notifier.all(), before)
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eventID := f.event(t, 3, 1)

	owner := userCaller("Owner")
	stranger := userCaller("Stranger")
	mine := f.join(t, eventID, owner.Identity(""), model.RolePlayer)
	free := f.join(t, eventID, anon("Guest"), model.RolePlayer)

	_, err := f.engine.SwitchRole(ctx, stranger, mine.ID, model.RoleGoalkeeper)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.engine.Remove(ctx, model.Caller{}, mine.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.engine.Remove(ctx, owner, free.ID)
	assert.ErrorIs(t, err, ErrUnauthorized, "anonymous entries are only editable by the organizer")

	_, err = f.engine.SwitchRole(ctx, owner, mine.ID, model.RoleGoalkeeper)
	assert.NoError(t, err)
	_, err = f.engine.Remove(ctx, f.organizer, free.ID)
	assert.NoError(t, err)
	_, err = f.engine.Remove(ctx, owner, mine.ID)
	assert.NoError(t, err)
}

func TestLoweredLimitIsNotRetroactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eventID := f.event(t, 3, 1)

	a := f.join(t, eventID, anon("A"), model.RolePlayer)
	b := f.join(t, eventID, anon("B"), model.RolePlayer)
	f.join(t, eventID, anon("C"), model.RolePlayer)

	one := 1
	_, err := f.store.UpdateEvent(ctx, eventID, model.EventPatch{PlayerLimit: &one})
	require.NoError(t, err)

	d := f.join(t, eventID, anon("D"), model.RolePlayer)
	assert.Equal(t, model.StatusWaiting, d.Status)

	_, st := f.status(t, b.ID)
	assert.Equal(t, model.StatusConfirmed, st)

	out, err := f.engine.Remove(ctx, f.organizer, a.ID)
	require.NoError(t, err)
	assert.Len(t, out.Changes, 1, "still over the new limit, nobody is promoted")
	_, st = f.status(t, d.ID)
	assert.Equal(t, model.StatusWaiting, st)
}

func TestConcurrentJoins_LastSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eventID := f.event(t, 1, 1)

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.Join(ctx, eventID, anon(fmt.Sprintf("P%d", i)), model.RolePlayer)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	roster, err := f.store.GetParticipantsByEventID(ctx, eventID)
	require.NoError(t, err)
	view := roster.Partition()
	assert.Len(t, view.ConfirmedPlayers, 1)
	assert.Len(t, view.WaitingPlayers, n-1)
	for i := 1; i < len(view.WaitingPlayers); i++ {
		assert.True(t, view.WaitingPlayers[i-1].CreatedAt.Before(view.WaitingPlayers[i].CreatedAt))
	}
}

func TestConcurrentJoins_SameUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eventID := f.event(t, 10, 1)
	user := userCaller("Dup")

	const n = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, dups int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Join(ctx, eventID, user.Identity(""), model.RolePlayer)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrAlreadyJoined):
				dups++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, dups)
}

// faultyStore injects failures into the roster transaction.
type faultyStore struct {
	repo.Repository
	mu            sync.Mutex
	conflicts     int
	failUpdates   bool
	insertedAfter func()
}

func (s *faultyStore) RosterTx(ctx context.Context, eventID uuid.UUID, fn func(tx repo.RosterTx) error) error {
	return s.Repository.RosterTx(ctx, eventID, func(tx repo.RosterTx) error {
		return fn(&faultyTx{RosterTx: tx, store: s})
	})
}

type faultyTx struct {
	repo.RosterTx
	store *faultyStore
}

func (t *faultyTx) InsertParticipant(ctx context.Context, p *model.Participant) (uuid.UUID, error) {
	t.store.mu.Lock()
	conflict := t.store.conflicts > 0
	if conflict {
		t.store.conflicts--
	}
	t.store.mu.Unlock()
	if conflict {
		return uuid.Nil, repo.ErrConflict
	}
	return t.RosterTx.InsertParticipant(ctx, p)
}

func (t *faultyTx) UpdateParticipant(ctx context.Context, id uuid.UUID, upd model.ParticipantUpdate) error {
	if t.store.failUpdates {
		return errors.New("connection reset by peer")
	}
	return t.RosterTx.UpdateParticipant(ctx, id, upd)
}

type countingRecorder struct {
	nopRecorder
	retries int
}

func (r *countingRecorder) RecordConflictRetry() { r.retries++ }

func TestJoin_ConflictRetriedOnce(t *testing.T) {
	base := newFixture(t)
	eventID := base.event(t, 2, 1)
	store := &faultyStore{Repository: base.store, conflicts: 1}
	rec := &countingRecorder{}
	engine := New(store, nil, nil, WithRecorder(rec))

	out, err := engine.Join(context.Background(), eventID, anon("A"), model.RolePlayer)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, out.Participant.Status)
	assert.Equal(t, 1, rec.retries)
}

func TestJoin_SecondConflictIsAlreadyJoined(t *testing.T) {
	base := newFixture(t)
	ctx := context.Background()
	eventID := base.event(t, 2, 1)
	store := &faultyStore{Repository: base.store, conflicts: 2}
	engine := New(store, nil, nil)

	_, err := engine.Join(ctx, eventID, anon("A"), model.RolePlayer)
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	roster, err := base.store.GetParticipantsByEventID(ctx, eventID)
	require.NoError(t, err)
	assert.Empty(t, roster)
}

func TestRemove_FailedPromotionRollsBack(t *testing.T) {
	base := newFixture(t)
	ctx := context.Background()
	eventID := base.event(t, 1, 1)
	a := base.join(t, eventID, anon("A"), model.RolePlayer)
	b := base.join(t, eventID, anon("B"), model.RolePlayer)

	notifier := &recordingNotifier{}
	store := &faultyStore{Repository: base.store, failUpdates: true}
	engine := New(store, notifier, nil)

	_, err := engine.Remove(ctx, base.organizer, a.ID)
	assert.ErrorIs(t, err, ErrStorageFailure)

	_, st := base.status(t, a.ID)
	assert.Equal(t, model.StatusConfirmed, st, "the delete must not be visible without its promotion")
	_, st = base.status(t, b.ID)
	assert.Equal(t, model.StatusWaiting, st)
	assert.Empty(t, notifier.all())
}

func TestNotifierFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("broker down")
	eventID := f.event(t, 1, 1)

	out, err := f.engine.Join(context.Background(), eventID, anon("A"), model.RolePlayer)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, out.Participant.Status)

	events := f.notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, eventID, events[0].EventID)
	assert.Equal(t, model.StatusConfirmed, events[0].Changes[0].Status)
}

func TestJoin_ContextCancelledWhileWaitingForLock(t *testing.T) {
	f := newFixture(t)
	eventID := f.event(t, 1, 1)

	release, err := f.engine.locks.Acquire(context.Background(), eventID)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.engine.Join(ctx, eventID, anon("A"), model.RolePlayer)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// serverClockStore stamps created_at on insert the way the Postgres store
// does with clock_timestamp().
type serverClockStore struct {
	repo.Repository
	at time.Time
}

func (s *serverClockStore) RosterTx(ctx context.Context, eventID uuid.UUID, fn func(tx repo.RosterTx) error) error {
	return s.Repository.RosterTx(ctx, eventID, func(tx repo.RosterTx) error {
		return fn(&serverClockTx{RosterTx: tx, at: s.at})
	})
}

type serverClockTx struct {
	repo.RosterTx
	at time.Time
}

func (t *serverClockTx) InsertParticipant(ctx context.Context, p *model.Participant) (uuid.UUID, error) {
	p.CreatedAt = t.at
	return t.RosterTx.InsertParticipant(ctx, p)
}

func TestJoin_UsesArrivalTimeStampedByStore(t *testing.T) {
	base := newFixture(t)
	eventID := base.event(t, 2, 1)
	serverNow := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	engine := New(&serverClockStore{Repository: base.store, at: serverNow}, nil, nil)

	out, err := engine.Join(context.Background(), eventID, anon("A"), model.RolePlayer)
	require.NoError(t, err)
	assert.True(t, serverNow.Equal(out.Participant.CreatedAt))

	roster, err := base.store.GetParticipantsByEventID(context.Background(), eventID)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.True(t, serverNow.Equal(roster[0].CreatedAt))
}
