package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/safegate/safegate/domain"
)

// SQLiteSink implements Sink using SQLite.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (and migrates) the transcript database.
func NewSQLiteSink(dsn string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sink := &SQLiteSink{db: db}
	if err := sink.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return sink, nil
}

func (s *SQLiteSink) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS turns (
			turn_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_content TEXT NOT NULL,
			assistant_content TEXT NOT NULL,
			pre_verdict TEXT,
			post_verdict TEXT,
			rewritten INTEGER NOT NULL DEFAULT 0,
			error_kind TEXT,
			error TEXT,
			created_at DATETIME NOT NULL,
			finalized_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// AppendTurn persists one finalized turn record.
func (s *SQLiteSink) AppendTurn(ctx context.Context, rec *domain.TurnRecord) error {
	preVerdict, err := marshalVerdict(rec.PreVerdict)
	if err != nil {
		return err
	}
	postVerdict, err := marshalVerdict(rec.PostVerdict)
	if err != nil {
		return err
	}

	var finalizedAt sql.NullTime
	if rec.FinalizedAt != nil {
		finalizedAt = sql.NullTime{Time: *rec.FinalizedAt, Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO turns (turn_id, session_id, user_content, assistant_content, pre_verdict, post_verdict, rewritten, error_kind, error, created_at, finalized_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TurnID, rec.SessionID, rec.User.Content, rec.Assistant.Content,
		preVerdict, postVerdict, rec.Rewritten, nullString(rec.ErrorKind), nullString(rec.ErrorMessage),
		rec.CreatedAt, finalizedAt)
	return err
}

// ListTurns returns finalized records for a session in creation order.
func (s *SQLiteSink) ListTurns(ctx context.Context, sessionID string, limit int) ([]domain.TurnRecord, error) {
	query := `SELECT turn_id, session_id, user_content, assistant_content, pre_verdict, post_verdict, rewritten, error_kind, error, created_at, finalized_at
		FROM turns WHERE session_id = ? ORDER BY created_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.TurnRecord
	for rows.Next() {
		var rec domain.TurnRecord
		var preVerdict, postVerdict, errorKind, errorMsg sql.NullString
		var finalizedAt sql.NullTime
		if err := rows.Scan(&rec.TurnID, &rec.SessionID, &rec.User.Content, &rec.Assistant.Content,
			&preVerdict, &postVerdict, &rec.Rewritten, &errorKind, &errorMsg,
			&rec.CreatedAt, &finalizedAt); err != nil {
			return nil, err
		}
		rec.State = domain.TurnStateFinalized
		rec.User.Role = domain.RoleUser
		rec.Assistant.Role = domain.RoleAssistant
		if rec.PreVerdict, err = unmarshalVerdict(preVerdict); err != nil {
			return nil, err
		}
		if rec.PostVerdict, err = unmarshalVerdict(postVerdict); err != nil {
			return nil, err
		}
		if errorKind.Valid {
			rec.ErrorKind = errorKind.String
		}
		if errorMsg.Valid {
			rec.ErrorMessage = errorMsg.String
		}
		if finalizedAt.Valid {
			t := finalizedAt.Time
			rec.FinalizedAt = &t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func marshalVerdict(v *domain.SafetyVerdict) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal verdict: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalVerdict(s sql.NullString) (*domain.SafetyVerdict, error) {
	if !s.Valid {
		return nil, nil
	}
	var v domain.SafetyVerdict
	if err := json.Unmarshal([]byte(s.String), &v); err != nil {
		return nil, fmt.Errorf("unmarshal verdict: %w", err)
	}
	return &v, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
