package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stayontop/mailtriage/internal/gmail"
	"github.com/stayontop/mailtriage/internal/llm"
	"github.com/stayontop/mailtriage/internal/token"
)

const (
	// DefaultListLimit applies when a listing request does not set one.
	DefaultListLimit = 50

	// MaxListLimit bounds a single listing page.
	MaxListLimit = 100
)

const schema = `
CREATE TABLE IF NOT EXISTS emails (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	sender           TEXT NOT NULL,
	recipient        TEXT NOT NULL,
	subject          TEXT NOT NULL,
	body_text        TEXT,
	body_html        TEXT,
	date_received    TIMESTAMP NOT NULL,
	date_processed   TIMESTAMP NOT NULL,
	sentiment        TEXT,
	priority         TEXT,
	category         TEXT,
	summary          TEXT,
	action_required  BOOLEAN NOT NULL DEFAULT 0,
	thread_id        TEXT,
	has_attachments  BOOLEAN NOT NULL DEFAULT 0,
	attachment_count INTEGER NOT NULL DEFAULT 0,
	labels           TEXT
);
CREATE INDEX IF NOT EXISTS idx_emails_user_id       ON emails(user_id);
CREATE INDEX IF NOT EXISTS idx_emails_sender        ON emails(sender);
CREATE INDEX IF NOT EXISTS idx_emails_date_received ON emails(date_received);
CREATE INDEX IF NOT EXISTS idx_emails_thread_id     ON emails(thread_id);
`

// Record is one persisted email row.
type Record struct {
	ID              string    `json:"id"`
	Identity        string    `json:"user_id"`
	Sender          string    `json:"sender"`
	Recipient       string    `json:"recipient"`
	Subject         string    `json:"subject"`
	BodyText        string    `json:"body_text,omitempty"`
	DateReceived    time.Time `json:"date_received"`
	DateProcessed   time.Time `json:"date_processed"`
	Sentiment       string    `json:"sentiment"`
	Priority        string    `json:"priority"`
	Category        string    `json:"category"`
	Summary         string    `json:"summary"`
	ActionRequired  bool      `json:"action_required"`
	ThreadID        string    `json:"thread_id"`
	HasAttachments  bool      `json:"has_attachments"`
	AttachmentCount int       `json:"attachment_count"`
	Labels          string    `json:"labels"`
}

// ListFilter selects and pages a listing. Zero values mean no filter;
// a zero Limit falls back to DefaultListLimit.
type ListFilter struct {
	Identity string
	Priority string
	Category string
	Limit    int
	Offset   int
}

// Summary aggregates a user's stored emails.
type Summary struct {
	Total        int            `json:"total_emails"`
	HighPriority int            `json:"high_priority"`
	Categories   map[string]int `json:"categories"`
}

// Store is a SQLite-backed email archive.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (and if necessary creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", token.ErrPersistence, err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to apply schema: %v", token.ErrPersistence, err)
	}
	return &Store{db: db, logger: slog.Default()}, nil
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save persists a parsed email with its classification. A nil analysis
// stores the email unclassified. Messages already present are left
// untouched; the return value reports whether a new row was written.
func (s *Store) Save(ctx context.Context, email *gmail.Email, analysis *llm.Analysis) (bool, error) {
	if email == nil || email.ID == "" {
		return false, fmt.Errorf("%w: email has no message ID", token.ErrMalformedInput)
	}

	var sentiment, priority, category, summary sql.NullString
	var actionRequired bool
	if analysis != nil {
		sentiment = sql.NullString{String: analysis.Sentiment, Valid: true}
		priority = sql.NullString{String: analysis.Priority, Valid: true}
		category = sql.NullString{String: analysis.Category, Valid: true}
		summary = sql.NullString{String: analysis.Summary, Valid: true}
		actionRequired = analysis.ActionRequired
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO emails (
			id, user_id, sender, recipient, subject, body_text, body_html,
			date_received, date_processed,
			sentiment, priority, category, summary, action_required,
			thread_id, has_attachments, attachment_count, labels
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		email.ID, email.Identity, email.Sender, email.Recipient, email.Subject,
		email.BodyText, email.BodyHTML,
		email.DateReceived.UTC(), time.Now().UTC(),
		sentiment, priority, category, summary, actionRequired,
		email.ThreadID, email.HasAttachments, email.AttachmentCount,
		strings.Join(email.Labels, ","),
	)
	if err != nil {
		return false, fmt.Errorf("%w: failed to save email %s: %v", token.ErrPersistence, email.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", token.ErrPersistence, err)
	}
	return n > 0, nil
}

// List returns stored emails matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Record, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit == 0 {
		limit = DefaultListLimit
	}

	query := `SELECT id, user_id, sender, recipient, subject,
		date_received, date_processed,
		COALESCE(sentiment, ''), COALESCE(priority, ''), COALESCE(category, ''),
		COALESCE(summary, ''), action_required,
		COALESCE(thread_id, ''), has_attachments, attachment_count, COALESCE(labels, '')
		FROM emails WHERE 1=1`
	var args []any
	if filter.Identity != "" {
		query += " AND user_id = ?"
		args = append(args, filter.Identity)
	}
	if filter.Priority != "" {
		query += " AND priority = ?"
		args = append(args, filter.Priority)
	}
	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, filter.Category)
	}
	query += " ORDER BY date_received DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list emails: %v", token.ErrPersistence, err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r := &Record{}
		if err := rows.Scan(
			&r.ID, &r.Identity, &r.Sender, &r.Recipient, &r.Subject,
			&r.DateReceived, &r.DateProcessed,
			&r.Sentiment, &r.Priority, &r.Category,
			&r.Summary, &r.ActionRequired,
			&r.ThreadID, &r.HasAttachments, &r.AttachmentCount, &r.Labels,
		); err != nil {
			return nil, fmt.Errorf("%w: failed to scan email row: %v", token.ErrPersistence, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", token.ErrPersistence, err)
	}
	return records, nil
}

// Get returns one stored email owned by identity, or (nil, nil) when it
// does not exist.
func (s *Store) Get(ctx context.Context, id, identity string) (*Record, error) {
	r := &Record{}
	err := s.db.QueryRowContext(ctx, `SELECT id, user_id, sender, recipient, subject,
		COALESCE(body_text, ''), date_received, date_processed,
		COALESCE(sentiment, ''), COALESCE(priority, ''), COALESCE(category, ''),
		COALESCE(summary, ''), action_required,
		COALESCE(thread_id, ''), has_attachments, attachment_count, COALESCE(labels, '')
		FROM emails WHERE id = ? AND user_id = ?`, id, identity).Scan(
		&r.ID, &r.Identity, &r.Sender, &r.Recipient, &r.Subject,
		&r.BodyText, &r.DateReceived, &r.DateProcessed,
		&r.Sentiment, &r.Priority, &r.Category,
		&r.Summary, &r.ActionRequired,
		&r.ThreadID, &r.HasAttachments, &r.AttachmentCount, &r.Labels,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get email %s: %v", token.ErrPersistence, id, err)
	}
	return r, nil
}

// Summarize aggregates counts for one user's stored emails.
func (s *Store) Summarize(ctx context.Context, identity string) (*Summary, error) {
	summary := &Summary{Categories: make(map[string]int)}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM emails WHERE user_id = ?`, identity).Scan(&summary.Total)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", token.ErrPersistence, err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM emails WHERE user_id = ? AND priority = 'high'`, identity).Scan(&summary.HighPriority)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", token.ErrPersistence, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(category, ''), COUNT(*) FROM emails WHERE user_id = ? GROUP BY category`, identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", token.ErrPersistence, err)
	}
	defer rows.Close()
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("%w: %v", token.ErrPersistence, err)
		}
		if category != "" {
			summary.Categories[category] = count
		}
	}
	return summary, rows.Err()
}

// DeleteForIdentity removes all stored emails belonging to identity and
// returns how many rows were deleted.
func (s *Store) DeleteForIdentity(ctx context.Context, identity string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM emails WHERE user_id = ?`, identity)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to delete emails for user: %v", token.ErrPersistence, err)
	}
	return res.RowsAffected()
}

func (f ListFilter) validate() error {
	if f.Limit < 0 || f.Limit > MaxListLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", token.ErrMalformedInput, MaxListLimit)
	}
	if f.Offset < 0 {
		return fmt.Errorf("%w: offset must not be negative", token.ErrMalformedInput)
	}
	return nil
}
