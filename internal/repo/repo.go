package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/dbpg"

	"gameRoster/internal/model"
)

var (
	ErrEventNotFound       = errors.New("event not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrConflict            = errors.New("participant already registered for this event")
	ErrProfileNotFound     = errors.New("profile not found")
)

const participantsUserKey = "participants_event_user_key"

type Repository interface {
	CreateEvent(ctx context.Context, e *model.Event) (uuid.UUID, error)
	GetEventByID(ctx context.Context, id uuid.UUID) (*model.Event, error)
	GetEventsByOrganizer(ctx context.Context, organizerID uuid.UUID) ([]model.Event, error)
	UpdateEvent(ctx context.Context, id uuid.UUID, patch model.EventPatch) (*model.Event, error)
	DeleteEvent(ctx context.Context, id uuid.UUID) error
	GetParticipantByID(ctx context.Context, id uuid.UUID) (*model.Participant, error)
	GetParticipantsByEventID(ctx context.Context, eventID uuid.UUID) (model.Roster, error)
	// RosterTx runs fn as one atomic unit against the roster of eventID.
	// Any error returned by fn discards every write made through tx.
	RosterTx(ctx context.Context, eventID uuid.UUID, fn func(tx RosterTx) error) error
	GetProfile(ctx context.Context, userID uuid.UUID) (*model.Profile, error)
	UpsertProfile(ctx context.Context, p *model.Profile) error
	MigrateUp(migrationsDir string) error
	MigrateDown(migrationsDir string) error
}

// RosterTx is the view of the store available inside RosterTx.
type RosterTx interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*model.Event, error)
	ListParticipants(ctx context.Context, eventID uuid.UUID) (model.Roster, error)
	// InsertParticipant may overwrite p.CreatedAt with the store's clock.
	InsertParticipant(ctx context.Context, p *model.Participant) (uuid.UUID, error)
	UpdateParticipant(ctx context.Context, id uuid.UUID, upd model.ParticipantUpdate) error
	DeleteParticipant(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db  *dbpg.DB
	log *zerolog.Logger
}

func NewRepository(db *dbpg.DB, log *zerolog.Logger) (Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.Master.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	return &repository{db: db, log: log}, nil
}

func (r *repository) MigrateUp(migrationsDir string) error {
	return r.applyMigrations(migrationsDir, "*.up.sql", false)
}

func (r *repository) MigrateDown(migrationsDir string) error {
	return r.applyMigrations(migrationsDir, "*.down.sql", true)
}

func (r *repository) applyMigrations(migrationsDir, pattern string, reverse bool) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, pattern))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}
	if reverse {
		for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
			files[i], files[j] = files[j], files[i]
		}
	}

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		if _, err := r.db.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file, err)
		}
	}

	r.log.Info().Int("files", len(files)).Msgf("Migrations %s applied from %s", pattern, migrationsDir)
	return nil
}

func (r *repository) CreateEvent(ctx context.Context, e *model.Event) (uuid.UUID, error) {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO events (id, organizer_id, name, starts_at, location, maps_url,
		                    player_limit, goalkeeper_limit, is_open, requires_registration)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, e.ID, e.OrganizerID, e.Name, e.StartsAt, e.Location, e.MapsURL,
		e.PlayerLimit, e.GoalkeeperLimit, e.IsOpen, e.RequiresRegistration,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert event: %w", err)
	}

	texts := make([]string, 0, len(e.Rules))
	for _, rule := range e.Rules {
		texts = append(texts, rule.Text)
	}
	rules, err := insertRules(ctx, tx, e.ID, texts)
	if err != nil {
		return uuid.Nil, err
	}
	e.Rules = rules

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return e.ID, nil
}

func insertRules(ctx context.Context, tx *sql.Tx, eventID uuid.UUID, texts []string) ([]model.EventRule, error) {
	rules := make([]model.EventRule, 0, len(texts))
	for i, text := range texts {
		rule := model.EventRule{ID: uuid.New(), EventID: eventID, Text: text, OrderIndex: i}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO event_rules (id, event_id, rule_text, order_index)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at
		`, rule.ID, rule.EventID, rule.Text, rule.OrderIndex).Scan(&rule.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert event rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

const eventColumns = `id, organizer_id, name, starts_at, location, maps_url,
		       player_limit, goalkeeper_limit, is_open, requires_registration, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner, e *model.Event) error {
	return row.Scan(
		&e.ID, &e.OrganizerID, &e.Name, &e.StartsAt, &e.Location, &e.MapsURL,
		&e.PlayerLimit, &e.GoalkeeperLimit, &e.IsOpen, &e.RequiresRegistration, &e.CreatedAt, &e.UpdatedAt,
	)
}

func (r *repository) GetEventByID(ctx context.Context, id uuid.UUID) (*model.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)

	var e model.Event
	if err := scanEvent(row, &e); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	rules, err := r.getRules(ctx, id)
	if err != nil {
		return nil, err
	}
	e.Rules = rules
	return &e, nil
}

func (r *repository) getRules(ctx context.Context, eventID uuid.UUID) ([]model.EventRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_id, rule_text, order_index, created_at
		FROM event_rules
		WHERE event_id = $1
		ORDER BY order_index ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to get event rules: %w", err)
	}
	defer rows.Close()

	rules := make([]model.EventRule, 0)
	for rows.Next() {
		var rule model.EventRule
		if err := rows.Scan(&rule.ID, &rule.EventID, &rule.Text, &rule.OrderIndex, &rule.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *repository) GetEventsByOrganizer(ctx context.Context, organizerID uuid.UUID) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE organizer_id = $1
		ORDER BY starts_at DESC
	`, organizerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := make([]model.Event, 0)
	for rows.Next() {
		var e model.Event
		if err := scanEvent(rows, &e); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *repository) UpdateEvent(ctx context.Context, id uuid.UUID, patch model.EventPatch) (*model.Event, error) {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.StartsAt != nil {
		add("starts_at", *patch.StartsAt)
	}
	if patch.Location != nil {
		add("location", *patch.Location)
	}
	if patch.MapsURL != nil {
		add("maps_url", *patch.MapsURL)
	}
	if patch.PlayerLimit != nil {
		add("player_limit", *patch.PlayerLimit)
	}
	if patch.GoalkeeperLimit != nil {
		add("goalkeeper_limit", *patch.GoalkeeperLimit)
	}
	if patch.IsOpen != nil {
		add("is_open", *patch.IsOpen)
	}
	if patch.RequiresRegistration != nil {
		add("requires_registration", *patch.RequiresRegistration)
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE events SET %s WHERE id = $%d RETURNING `+eventColumns,
		strings.Join(sets, ", "), len(args))

	var e model.Event
	if err := scanEvent(tx.QueryRowContext(ctx, query, args...), &e); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to update event: %w", err)
	}

	if patch.Rules != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM event_rules WHERE event_id = $1`, id); err != nil {
			return nil, fmt.Errorf("failed to clear event rules: %w", err)
		}
		if _, err := insertRules(ctx, tx, id, *patch.Rules); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	rules, err := r.getRules(ctx, id)
	if err != nil {
		return nil, err
	}
	e.Rules = rules
	return &e, nil
}

func (r *repository) DeleteEvent(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return checkAffectedRows(result, ErrEventNotFound)
}

const participantColumns = `id, event_id, user_id, name, role, status, created_at`

func scanParticipant(row rowScanner, p *model.Participant) error {
	var userID uuid.NullUUID
	if err := row.Scan(&p.ID, &p.EventID, &userID, &p.Name, &p.Role, &p.Status, &p.CreatedAt); err != nil {
		return err
	}
	if userID.Valid {
		id := userID.UUID
		p.UserID = &id
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listParticipants(ctx context.Context, q queryer, eventID uuid.UUID) (model.Roster, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+participantColumns+`
		FROM participants
		WHERE event_id = $1
		ORDER BY created_at ASC, seq ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	roster := make(model.Roster, 0)
	for rows.Next() {
		var p model.Participant
		if err := scanParticipant(rows, &p); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		roster = append(roster, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participant rows: %w", err)
	}
	return roster, nil
}

func (r *repository) GetParticipantByID(ctx context.Context, id uuid.UUID) (*model.Participant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE id = $1`, id)

	var p model.Participant
	if err := scanParticipant(row, &p); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return &p, nil
}

func (r *repository) GetParticipantsByEventID(ctx context.Context, eventID uuid.UUID) (model.Roster, error) {
	return listParticipants(ctx, r.db.Master, eventID)
}

func (r *repository) RosterTx(ctx context.Context, eventID uuid.UUID, fn func(tx RosterTx) error) error {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&rosterTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit roster transaction: %w", err)
	}
	return nil
}

type rosterTx struct {
	tx *sql.Tx
}

// GetEvent row-locks the event, serializing every roster transaction of the
// same event across instances until commit or rollback.
func (t *rosterTx) GetEvent(ctx context.Context, id uuid.UUID) (*model.Event, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, id)

	var e model.Event
	if err := scanEvent(row, &e); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to lock event: %w", err)
	}
	return &e, nil
}

func (t *rosterTx) ListParticipants(ctx context.Context, eventID uuid.UUID) (model.Roster, error) {
	return listParticipants(ctx, t.tx, eventID)
}

// insertParticipantSQL stamps created_at from the database clock so arrival
// order does not depend on which instance handled the join.
const insertParticipantSQL = `
	INSERT INTO participants (id, event_id, user_id, name, role, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, clock_timestamp())
	RETURNING created_at
`

func (t *rosterTx) InsertParticipant(ctx context.Context, p *model.Participant) (uuid.UUID, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	var userID uuid.NullUUID
	if p.UserID != nil {
		userID = uuid.NullUUID{UUID: *p.UserID, Valid: true}
	}

	row := t.tx.QueryRowContext(ctx, insertParticipantSQL, p.ID, p.EventID, userID, p.Name, p.Role, p.Status)
	if err := row.Scan(&p.CreatedAt); err != nil {
		return uuid.Nil, insertParticipantErr(err)
	}
	return p.ID, nil
}

func insertParticipantErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			if pqErr.Constraint == participantsUserKey {
				return ErrConflict
			}
		case "23503": // foreign_key_violation
			return ErrEventNotFound
		}
	}
	return fmt.Errorf("failed to create participant: %w", err)
}

func (t *rosterTx) UpdateParticipant(ctx context.Context, id uuid.UUID, upd model.ParticipantUpdate) error {
	if upd.Role == nil && upd.Status == nil {
		return nil
	}
	var (
		sets []string
		args []any
	)
	if upd.Role != nil {
		args = append(args, *upd.Role)
		sets = append(sets, fmt.Sprintf("role = $%d", len(args)))
	}
	if upd.Status != nil {
		args = append(args, *upd.Status)
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE participants SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update participant: %w", err)
	}
	return checkAffectedRows(result, ErrParticipantNotFound)
}

func (t *rosterTx) DeleteParticipant(ctx context.Context, id uuid.UUID) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM participants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete participant: %w", err)
	}
	return checkAffectedRows(result, ErrParticipantNotFound)
}

func checkAffectedRows(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}
