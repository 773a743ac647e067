package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mfinley/stepflow/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewULID generates a new ULID string: millisecond creation time plus a
// random suffix, collision-resistant without coordination.
func NewULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *models.Session) error {
	if sess.ID == "" {
		sess.ID = NewULID()
	}
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.LastUpdatedAt = now
	if sess.Status == "" {
		sess.Status = models.SessionStatusInProgress
	}
	if err := sess.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	completed, remaining, tickets, err := marshalSessionSets(sess)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, plan_id, workspace_path, status, current_step, steps_completed, steps_remaining, tickets, failure_reason, failed_at_step, created_at, last_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.PlanID, sess.WorkspacePath, string(sess.Status), sess.CurrentStep,
		completed, remaining, tickets, sess.FailureReason, sess.FailedAtStep,
		sess.CreatedAt, sess.LastUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, plan_id, workspace_path, status, current_step, steps_completed, steps_remaining, tickets, failure_reason, failed_at_step, created_at, last_updated_at
		FROM sessions WHERE id = ?`, id)

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionListFilter) ([]*models.Session, error) {
	query := `SELECT id, plan_id, workspace_path, status, current_step, steps_completed, steps_remaining, tickets, failure_reason, failed_at_step, created_at, last_updated_at
		FROM sessions WHERE 1=1`
	var args []any

	if filter.PlanID != "" {
		query += " AND plan_id = ?"
		args = append(args, filter.PlanID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *models.Session) error {
	if err := sess.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}
	// last_updated_at is monotonically non-decreasing.
	now := time.Now().UTC()
	if now.After(sess.LastUpdatedAt) {
		sess.LastUpdatedAt = now
	}

	completed, remaining, tickets, err := marshalSessionSets(sess)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET workspace_path=?, status=?, current_step=?, steps_completed=?, steps_remaining=?, tickets=?, failure_reason=?, failed_at_step=?, last_updated_at=?
		WHERE id=?`,
		sess.WorkspacePath, string(sess.Status), sess.CurrentStep,
		completed, remaining, tickets, sess.FailureReason, sess.FailedAtStep,
		sess.LastUpdatedAt, sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session not found: %s", sess.ID)
	}
	return nil
}

func marshalSessionSets(sess *models.Session) (completed, remaining, tickets string, err error) {
	c := sess.StepsCompleted
	if c == nil {
		c = []string{}
	}
	r := sess.StepsRemaining
	if r == nil {
		r = []string{}
	}
	t := sess.Tickets
	if t == nil {
		t = map[string]string{}
	}
	cj, err := json.Marshal(c)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal steps_completed: %w", err)
	}
	rj, err := json.Marshal(r)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal steps_remaining: %w", err)
	}
	tj, err := json.Marshal(t)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal tickets: %w", err)
	}
	return string(cj), string(rj), string(tj), nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*models.Session, error) {
	sess := &models.Session{}
	var status, completed, remaining, tickets string

	err := row.Scan(&sess.ID, &sess.PlanID, &sess.WorkspacePath, &status,
		&sess.CurrentStep, &completed, &remaining, &tickets,
		&sess.FailureReason, &sess.FailedAtStep,
		&sess.CreatedAt, &sess.LastUpdatedAt)
	if err != nil {
		return nil, err
	}

	sess.Status = models.SessionStatus(status)
	if err := json.Unmarshal([]byte(completed), &sess.StepsCompleted); err != nil {
		return nil, fmt.Errorf("parse steps_completed: %w", err)
	}
	if err := json.Unmarshal([]byte(remaining), &sess.StepsRemaining); err != nil {
		return nil, fmt.Errorf("parse steps_remaining: %w", err)
	}
	if err := json.Unmarshal([]byte(tickets), &sess.Tickets); err != nil {
		return nil, fmt.Errorf("parse tickets: %w", err)
	}
	return sess, nil
}

// --- Tickets ---

func (s *SQLiteStore) CreateTicket(ctx context.Context, t *models.Ticket) error {
	if t.ID == "" {
		t.ID = NewULID()
	}
	t.CreatedAt = time.Now().UTC()
	if t.Status == "" {
		t.Status = models.TicketStatusOpen
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets (id, session_id, step_anchor, title, status, created_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.StepAnchor, t.Title, string(t.Status), t.CreatedAt, t.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	t := &models.Ticket{}
	var status string
	var closedAt sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, step_anchor, title, status, created_at, closed_at
		FROM tickets WHERE id = ?`, id,
	).Scan(&t.ID, &t.SessionID, &t.StepAnchor, &t.Title, &status, &t.CreatedAt, &closedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("ticket not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}

	t.Status = models.TicketStatus(status)
	if closedAt.Valid {
		t.ClosedAt = &closedAt.Time
	}
	return t, nil
}

func (s *SQLiteStore) ListTickets(ctx context.Context, sessionID string) ([]*models.Ticket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, step_anchor, title, status, created_at, closed_at
		FROM tickets WHERE session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tickets []*models.Ticket
	for rows.Next() {
		t := &models.Ticket{}
		var status string
		var closedAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.SessionID, &t.StepAnchor, &t.Title, &status, &t.CreatedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		t.Status = models.TicketStatus(status)
		if closedAt.Valid {
			t.ClosedAt = &closedAt.Time
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (s *SQLiteStore) UpdateTicket(ctx context.Context, t *models.Ticket) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET title=?, status=?, closed_at=? WHERE id=?`,
		t.Title, string(t.Status), t.ClosedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("ticket not found: %s", t.ID)
	}
	return nil
}
