/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package storage

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQLStore is a Store backed by SQLite or PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// OpenSQLite opens (creating if needed) a SQLite database at path. The
// special path ":memory:" opens a private in-memory database.
func OpenSQLite(path string) (*SQLStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}

	dsn := ":memory:"
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	return newSQLStore(db, dialectSQLite)
}

// OpenPostgres connects to a PostgreSQL database using a lib/pq DSN.
func OpenPostgres(dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}

	return newSQLStore(db, dialectPostgres)
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &SQLStore{db: db, dialect: d}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return s, nil
}

func (s *SQLStore) createTables() error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == dialectPostgres {
		pk = "BIGSERIAL PRIMARY KEY"
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS game_sessions (
			id ` + pk + `,
			user_id TEXT NOT NULL,
			mode TEXT NOT NULL,
			atlas TEXT NOT NULL,
			secret TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS game_progress (
			id ` + pk + `,
			session_id BIGINT NOT NULL REFERENCES game_sessions (id),
			secret TEXT NOT NULL,
			region_id INTEGER NOT NULL,
			time_taken INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1,
			is_correct INTEGER NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_progress_session ON game_progress (session_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_progress_active ON game_progress (session_id) WHERE is_active = 1`,
		`CREATE TABLE IF NOT EXISTS finished_sessions (
			id ` + pk + `,
			user_id TEXT NOT NULL,
			mode TEXT NOT NULL,
			atlas TEXT NOT NULL,
			score INTEGER NOT NULL,
			accuracy DOUBLE PRECISION NOT NULL,
			duration INTEGER NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			correct INTEGER NOT NULL DEFAULT 0,
			incorrect INTEGER NOT NULL DEFAULT 0,
			min_time DOUBLE PRECISION NOT NULL DEFAULT 0,
			max_time DOUBLE PRECISION NOT NULL DEFAULT 0,
			avg_time DOUBLE PRECISION NOT NULL DEFAULT 0,
			min_correct_time DOUBLE PRECISION NOT NULL DEFAULT 0,
			max_correct_time DOUBLE PRECISION NOT NULL DEFAULT 0,
			avg_correct_time DOUBLE PRECISION NOT NULL DEFAULT 0,
			quit_reason TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_finished_user ON finished_sessions (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_finished_created ON finished_sessions (created_at)`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}

	return b.String()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func secretsMatch(stored, given string) bool {
	return given != "" && subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLStore) CreateSession(ctx context.Context, gs GameSession) (GameSession, error) {
	if gs.CreatedAt.IsZero() {
		gs.CreatedAt = time.Now()
	}

	query := s.rebind(`
		INSERT INTO game_sessions (user_id, mode, atlas, secret, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`)

	err := s.db.QueryRowContext(ctx, query,
		gs.UserID,
		gs.Mode,
		gs.AtlasID,
		gs.Secret,
		toMillis(gs.CreatedAt),
	).Scan(&gs.ID)
	if err != nil {
		return GameSession{}, fmt.Errorf("insert session: %w", err)
	}

	gs.CreatedAt = fromMillis(toMillis(gs.CreatedAt))

	return gs, nil
}

func (s *SQLStore) Session(ctx context.Context, id int64, secret string) (GameSession, error) {
	query := s.rebind(`
		SELECT id, user_id, mode, atlas, secret, created_at
		FROM game_sessions
		WHERE id = ?
	`)

	var gs GameSession
	var createdAt int64

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&gs.ID,
		&gs.UserID,
		&gs.Mode,
		&gs.AtlasID,
		&gs.Secret,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return GameSession{}, ErrNotFound
	}
	if err != nil {
		return GameSession{}, fmt.Errorf("select session: %w", err)
	}

	if !secretsMatch(gs.Secret, secret) {
		return GameSession{}, ErrNotFound
	}

	gs.CreatedAt = fromMillis(createdAt)

	return gs, nil
}

func (s *SQLStore) ActivateRegion(ctx context.Context, sessionID int64, secret string, regionID int, at time.Time) (ProgressEntry, error) {
	query := s.rebind(`
		INSERT INTO game_progress (session_id, secret, region_id, time_taken, is_active, is_correct, created_at)
		SELECT CAST(? AS BIGINT), CAST(? AS TEXT), CAST(? AS INTEGER), 0, 1, 0, CAST(? AS BIGINT)
		WHERE NOT EXISTS (
			SELECT 1 FROM game_progress WHERE session_id = ? AND is_active = 1
		)
		RETURNING id
	`)

	entry := ProgressEntry{
		SessionID: sessionID,
		Secret:    secret,
		RegionID:  regionID,
		IsActive:  true,
		CreatedAt: fromMillis(toMillis(at)),
	}

	err := s.db.QueryRowContext(ctx, query, sessionID, secret, regionID, toMillis(at), sessionID).Scan(&entry.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ProgressEntry{}, ErrActiveRegionExists
	case err != nil && isUniqueViolation(err):
		return ProgressEntry{}, ErrActiveRegionExists
	case err != nil:
		return ProgressEntry{}, fmt.Errorf("insert progress: %w", err)
	}

	return entry, nil
}

const progressColumns = `id, session_id, secret, region_id, time_taken, is_active, is_correct, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (ProgressEntry, error) {
	var e ProgressEntry
	var active, correct int
	var createdAt int64

	if err := row.Scan(
		&e.ID,
		&e.SessionID,
		&e.Secret,
		&e.RegionID,
		&e.TimeTaken,
		&active,
		&correct,
		&createdAt,
	); err != nil {
		return ProgressEntry{}, err
	}

	e.IsActive = active != 0
	e.IsCorrect = correct != 0
	e.CreatedAt = fromMillis(createdAt)

	return e, nil
}

func (s *SQLStore) ActiveEntry(ctx context.Context, sessionID int64) (ProgressEntry, error) {
	query := s.rebind(`
		SELECT ` + progressColumns + `
		FROM game_progress
		WHERE session_id = ? AND is_active = 1
		ORDER BY id
		LIMIT 1
	`)

	e, err := scanEntry(s.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return ProgressEntry{}, ErrNotFound
	}
	if err != nil {
		return ProgressEntry{}, fmt.Errorf("select active progress: %w", err)
	}

	return e, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLStore) entries(ctx context.Context, q queryer, sessionID int64) ([]ProgressEntry, error) {
	query := s.rebind(`
		SELECT ` + progressColumns + `
		FROM game_progress
		WHERE session_id = ?
		ORDER BY id
	`)

	rows, err := q.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select progress: %w", err)
	}
	defer rows.Close()

	var entries []ProgressEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func (s *SQLStore) Entries(ctx context.Context, sessionID int64) ([]ProgressEntry, error) {
	return s.entries(ctx, s.db, sessionID)
}

func (s *SQLStore) Resolve(ctx context.Context, r Resolution, finish FinishFunc) (*FinishedSession, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE game_progress
		SET is_active = 0, is_correct = ?, time_taken = ?
		WHERE id = ? AND session_id = ? AND is_active = 1
	`), boolInt(r.IsCorrect), r.TimeTaken, r.EntryID, r.SessionID)
	if err != nil {
		return nil, fmt.Errorf("update progress: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update progress: %w", err)
	}
	if n != 1 {
		return nil, ErrNoActiveRegion
	}

	entries, err := s.entries(ctx, tx, r.SessionID)
	if err != nil {
		return nil, err
	}

	var fs *FinishedSession
	if finish != nil {
		fs, err = finish(entries)
		if err != nil {
			return nil, err
		}
	}

	if fs != nil {
		if fs.CreatedAt.IsZero() {
			fs.CreatedAt = r.At
		}
		if err := s.insertFinished(ctx, tx, fs); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return fs, nil
}

func (s *SQLStore) insertFinished(ctx context.Context, tx *sql.Tx, fs *FinishedSession) error {
	query := s.rebind(`
		INSERT INTO finished_sessions (user_id, mode, atlas, score, accuracy, duration,
			attempts, correct, incorrect,
			min_time, max_time, avg_time,
			min_correct_time, max_correct_time, avg_correct_time,
			quit_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	err := tx.QueryRowContext(ctx, query,
		fs.UserID,
		fs.Mode,
		fs.AtlasID,
		fs.Score,
		fs.Accuracy,
		fs.Duration,
		fs.Attempts,
		fs.Correct,
		fs.Incorrect,
		fs.MinTime,
		fs.MaxTime,
		fs.AvgTime,
		fs.MinCorrectTime,
		fs.MaxCorrectTime,
		fs.AvgCorrectTime,
		fs.QuitReason,
		toMillis(fs.CreatedAt),
	).Scan(&fs.ID)
	if err != nil {
		return fmt.Errorf("insert finished session: %w", err)
	}

	fs.CreatedAt = fromMillis(toMillis(fs.CreatedAt))

	return nil
}

const finishedColumns = `id, user_id, mode, atlas, score, accuracy, duration,
	attempts, correct, incorrect, min_time, max_time, avg_time,
	min_correct_time, max_correct_time, avg_correct_time, quit_reason, created_at`

func (s *SQLStore) scanFinished(rows *sql.Rows) ([]FinishedSession, error) {
	var out []FinishedSession

	for rows.Next() {
		var fs FinishedSession
		var createdAt int64

		err := rows.Scan(
			&fs.ID,
			&fs.UserID,
			&fs.Mode,
			&fs.AtlasID,
			&fs.Score,
			&fs.Accuracy,
			&fs.Duration,
			&fs.Attempts,
			&fs.Correct,
			&fs.Incorrect,
			&fs.MinTime,
			&fs.MaxTime,
			&fs.AvgTime,
			&fs.MinCorrectTime,
			&fs.MaxCorrectTime,
			&fs.AvgCorrectTime,
			&fs.QuitReason,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan finished session: %w", err)
		}

		fs.CreatedAt = fromMillis(createdAt)
		out = append(out, fs)
	}

	return out, rows.Err()
}

func (s *SQLStore) FinishedByUser(ctx context.Context, userID string) ([]FinishedSession, error) {
	query := s.rebind(`
		SELECT ` + finishedColumns + `
		FROM finished_sessions
		WHERE user_id = ?
		ORDER BY created_at, id
	`)

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("select finished sessions: %w", err)
	}
	defer rows.Close()

	return s.scanFinished(rows)
}

func (s *SQLStore) BestScores(ctx context.Context, userID string) ([]FinishedSession, error) {
	query := s.rebind(`
		SELECT ` + finishedColumns + `
		FROM finished_sessions f
		WHERE user_id = ? AND score = (
			SELECT MAX(score) FROM finished_sessions b
			WHERE b.user_id = f.user_id AND b.mode = f.mode AND b.atlas = f.atlas
		)
		ORDER BY mode, atlas, id
	`)

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("select best scores: %w", err)
	}
	defer rows.Close()

	all, err := s.scanFinished(rows)
	if err != nil {
		return nil, err
	}

	// Ties on the max score yield several rows; keep the first of each pair.
	best := make([]FinishedSession, 0, len(all))
	for _, fs := range all {
		if n := len(best); n > 0 && best[n-1].Mode == fs.Mode && best[n-1].AtlasID == fs.AtlasID {
			continue
		}
		best = append(best, fs)
	}

	return best, nil
}

func (s *SQLStore) TopScores(ctx context.Context, f ScoreFilter) ([]ScoreRow, error) {
	var where []string
	var args []any

	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, toMillis(f.Since))
	}
	if f.Mode != "" {
		where = append(where, "mode = ?")
		args = append(args, f.Mode)
	}

	query := `SELECT user_id, mode, atlas, MAX(score) AS best FROM finished_sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " GROUP BY user_id, mode, atlas ORDER BY best DESC, user_id, mode, atlas"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("select top scores: %w", err)
	}
	defer rows.Close()

	var out []ScoreRow
	for rows.Next() {
		var r ScoreRow
		if err := rows.Scan(&r.UserID, &r.Mode, &r.AtlasID, &r.Score); err != nil {
			return nil, fmt.Errorf("scan top score: %w", err)
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLStore)(nil)
