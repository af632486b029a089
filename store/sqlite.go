// Package store keeps the processing log and the email log in SQLite. It
// backs both duplicate detection and reply key lookups.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/dhcgn/mail-receiver/dispatch"
	"github.com/dhcgn/mail-receiver/model"
	"github.com/dhcgn/mail-receiver/state"
)

// SQLiteStore implements state.Tracker and dispatch.Lookup.
type SQLiteStore struct {
	db *sqlx.DB
}

var (
	_ state.Tracker   = (*SQLiteStore)(nil)
	_ dispatch.Lookup = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens (or creates) the database at dbPath, enables WAL
// mode and applies pending migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

type processedRow struct {
	Hash        string    `db:"hash"`
	MessageID   string    `db:"message_id"`
	Outcome     string    `db:"outcome"`
	ReplyKey    string    `db:"reply_key"`
	ProcessedAt time.Time `db:"processed_at"`
}

func (s *SQLiteStore) AlreadyProcessed(hash string) bool {
	if hash == "" {
		return false
	}
	var count int
	if err := s.db.Get(&count, "SELECT COUNT(*) FROM processed WHERE hash = ?", hash); err != nil {
		return false
	}
	return count > 0
}

// MarkProcessed stores rec. An existing record for the same hash is kept.
func (s *SQLiteStore) MarkProcessed(rec state.Record) error {
	if rec.Hash == "" {
		return nil
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO processed (hash, message_id, outcome, reply_key, processed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.Hash, rec.MessageID, rec.Outcome.String(), rec.ReplyKey, rec.ProcessedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording %s: %w", rec.MessageID, err)
	}
	return nil
}

// Record returns the stored processing record for hash.
func (s *SQLiteStore) Record(ctx context.Context, hash string) (state.Record, error) {
	var row processedRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM processed WHERE hash = ?", hash)
	if errors.Is(err, sql.ErrNoRows) {
		return state.Record{}, dispatch.ErrNotFound
	}
	if err != nil {
		return state.Record{}, fmt.Errorf("querying record %s: %w", hash, err)
	}

	outcome, err := model.ParseOutcome(row.Outcome)
	if err != nil {
		return state.Record{}, fmt.Errorf("record %s: %w", hash, err)
	}
	return state.Record{
		Hash:        row.Hash,
		MessageID:   row.MessageID,
		Outcome:     outcome,
		ReplyKey:    row.ReplyKey,
		ProcessedAt: row.ProcessedAt,
	}, nil
}

func (s *SQLiteStore) Snapshot() state.Snapshot {
	snap := state.Snapshot{Outcomes: make(map[model.Outcome]int)}
	counts, err := s.OutcomeCounts(context.Background())
	if err != nil {
		return snap
	}
	for outcome, n := range counts {
		snap.Outcomes[outcome] = n
		snap.Processed += n
	}
	return snap
}

// OutcomeCounts returns how many stored records ended in each outcome.
func (s *SQLiteStore) OutcomeCounts(ctx context.Context) (map[model.Outcome]int, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT outcome, COUNT(*) FROM processed GROUP BY outcome")
	if err != nil {
		return nil, fmt.Errorf("querying outcome counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Outcome]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scanning outcome row: %w", err)
		}
		outcome, err := model.ParseOutcome(name)
		if err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

// AddEmailLog registers the reply key of an outgoing notification.
func (s *SQLiteStore) AddEmailLog(ctx context.Context, entry dispatch.EmailLog) error {
	if strings.TrimSpace(entry.ReplyKey) == "" {
		return fmt.Errorf("reply key must not be empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO email_logs (reply_key, topic_id, post_number, user_email, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.ReplyKey, entry.TopicID, entry.PostNumber, entry.UserEmail, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("adding email log %s: %w", entry.ReplyKey, err)
	}
	return nil
}

func (s *SQLiteStore) EmailLogFor(ctx context.Context, replyKey string) (dispatch.EmailLog, error) {
	var entry dispatch.EmailLog
	err := s.db.GetContext(ctx, &entry,
		"SELECT reply_key, topic_id, post_number, user_email FROM email_logs WHERE reply_key = ?",
		replyKey,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return dispatch.EmailLog{}, dispatch.ErrNotFound
	}
	if err != nil {
		return dispatch.EmailLog{}, fmt.Errorf("querying email log %s: %w", replyKey, err)
	}
	return entry, nil
}

// AddUser registers a sender allowed to open topics by email and returns
// its id. Adding a known address returns the existing id.
func (s *SQLiteStore) AddUser(ctx context.Context, email, username string) (int64, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return 0, fmt.Errorf("user email must not be empty")
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO users (email, username) VALUES (?, ?)", email, username,
	); err != nil {
		return 0, fmt.Errorf("adding user %s: %w", email, err)
	}
	user, err := s.UserByEmail(ctx, email)
	if err != nil {
		return 0, err
	}
	return user.ID, nil
}

func (s *SQLiteStore) UserByEmail(ctx context.Context, email string) (dispatch.User, error) {
	var user dispatch.User
	err := s.db.GetContext(ctx, &user, "SELECT id, email, username FROM users WHERE email = ?", email)
	if errors.Is(err, sql.ErrNoRows) {
		return dispatch.User{}, dispatch.ErrNotFound
	}
	if err != nil {
		return dispatch.User{}, fmt.Errorf("querying user %s: %w", email, err)
	}
	return user, nil
}
