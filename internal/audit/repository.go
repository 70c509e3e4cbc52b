package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Entry is one row of the audit trail.
type Entry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	Action     string
	EntityType string
	EntityID   string
	Since      time.Time
	Limit      int // default 50, max 200
	Offset     int
}

// Page is one page of List results.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores audit entries.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter) (*Page, error)
}

// SQLiteRepository is the audit_logs table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository wraps an open database that has the audit_logs schema.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts e, filling in ID and CreatedAt when empty.
//
// Parameters:
//   - ctx: Context for cancellation
//   - e: Entry to insert; ID and CreatedAt are set on it if missing
//
// Returns:
//   - error: Wrapped insert or marshalling failure
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	// Generate ID and timestamp if not set
	if e.ID == "" {
		e.ID = "aud-" + uuid.NewString()[:8]
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	// Details are stored as a JSON column
	var details *string
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		s := string(b)
		details = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, entity_type, entity_id, user_id, source, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.EntityType, nullable(e.EntityID), nullable(e.UserID),
		e.Source, details, e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns the entries matching f, newest first.
//
// Parameters:
//   - ctx: Context for cancellation
//   - f: Filter; Limit is clamped to 1..200 and defaults to 50
//
// Returns:
//   - *Page: Matching entries with the total count before paging
//   - error: Wrapped query failure
//
// Example:
//
//	page, err := repo.List(ctx, audit.Filter{Action: "action_session", Limit: 20})
func (r *SQLiteRepository) List(ctx context.Context, f Filter) (*Page, error) {
	// Clamp paging
	f.Limit = min(max(f.Limit, 0), maxLimit)
	if f.Limit == 0 {
		f.Limit = defaultLimit
	}
	f.Offset = max(f.Offset, 0)

	where, args := f.where()

	// Total before paging
	var total int
	//nolint:gosec // where only holds placeholders
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	//nolint:gosec // where only holds placeholders
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, action, entity_type, entity_id, user_id, source, details, created_at
		 FROM audit_logs`+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return &Page{Entries: entries, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

func (f Filter) where() (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		conds = append(conds, cond)
		args = append(args, v)
	}
	if f.Action != "" {
		add("action = ?", f.Action)
	}
	if f.EntityType != "" {
		add("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		add("entity_id = ?", f.EntityID)
	}
	if !f.Since.IsZero() {
		add("created_at >= ?", f.Since.UTC().Format(time.RFC3339Nano))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var entityID, userID, details sql.NullString
	var created string
	if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &entityID, &userID,
		&e.Source, &details, &created); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}
	e.EntityID = entityID.String
	e.UserID = userID.String
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
			return e, fmt.Errorf("decoding audit details of %s: %w", e.ID, err)
		}
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return e, fmt.Errorf("parsing audit timestamp %q: %w", created, err)
	}
	e.CreatedAt = t
	return e, nil
}
