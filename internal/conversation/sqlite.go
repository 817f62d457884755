package conversation

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Fixed-width so lexical order matches chronological order.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore keeps conversations in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	store := &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)
	return store, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) GetOrCreateConversation(ctx context.Context, subjectID, conversationID string) (string, error) {
	if subjectID == "" {
		return "", errors.New("subject id is required")
	}

	if conversationID != "" {
		if err := s.checkOwner(ctx, s.db, subjectID, conversationID); err != nil {
			return "", err
		}
		return conversationID, nil
	}

	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, subject_id, start_time) VALUES (?, ?, ?)`,
		id, subjectID, formatTime(s.now()),
	); err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}
	return id, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) checkOwner(ctx context.Context, q queryRower, subjectID, conversationID string) error {
	var owner string
	err := q.QueryRowContext(ctx, `SELECT subject_id FROM conversations WHERE id = ?`, conversationID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != subjectID) {
		return ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, subjectID, conversationID string, role Role, content string) error {
	if err := validateKeys(subjectID, conversationID); err != nil {
		return err
	}
	if err := validateTurn(role, content); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.checkOwner(ctx, tx, subjectID, conversationID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		conversationID, string(role), content, formatTime(s.now()),
	); err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListTurns(ctx context.Context, subjectID, conversationID string) ([]Turn, error) {
	if err := validateKeys(subjectID, conversationID); err != nil {
		return nil, err
	}
	if err := s.checkOwner(ctx, s.db, subjectID, conversationID); err != nil {
		return nil, err
	}
	return s.turns(ctx, conversationID)
}

func (s *SQLiteStore) turns(ctx context.Context, conversationID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM turns WHERE conversation_id = ? ORDER BY seq`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			role, content, createdAt string
		)
		if err := rows.Scan(&role, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		ts, err := parseTime(createdAt)
		if err != nil {
			return nil, err
		}
		turns = append(turns, Turn{Role: Role(role), Content: content, Timestamp: ts})
	}
	return turns, rows.Err()
}

func (s *SQLiteStore) ListConversations(ctx context.Context, subjectID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, start_time FROM conversations WHERE subject_id = ? ORDER BY start_time, id`,
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}

	var convs []Conversation
	for rows.Next() {
		var id, start string
		if err := rows.Scan(&id, &start); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		ts, err := parseTime(start)
		if err != nil {
			rows.Close()
			return nil, err
		}
		convs = append(convs, Conversation{ID: id, SubjectID: subjectID, StartTime: ts})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// The single connection must be released before querying turns.
	rows.Close()

	for i := range convs {
		turns, err := s.turns(ctx, convs[i].ID)
		if err != nil {
			return nil, err
		}
		convs[i].Turns = turns
	}
	return convs, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", v, err)
	}
	return t, nil
}
