package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"CoverityPublisher/internal/domain"
	"CoverityPublisher/internal/ports"
)

const insertBatch = 200

var schema = []string{
	`CREATE TABLE IF NOT EXISTS build_actions (
		build_id    TEXT PRIMARY KEY,
		attached_at TEXT NOT NULL,
		total       INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS build_streams (
		build_id       TEXT NOT NULL,
		position       INTEGER NOT NULL,
		instance_name  TEXT NOT NULL,
		project_name   TEXT NOT NULL,
		stream_name    TEXT NOT NULL,
		label          TEXT NOT NULL,
		default_action TEXT NOT NULL,
		PRIMARY KEY (build_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS build_defects (
		build_id         TEXT NOT NULL,
		stream_position  INTEGER NOT NULL,
		position         INTEGER NOT NULL,
		cid              BIGINT NOT NULL,
		merge_key        TEXT NOT NULL,
		classification   TEXT NOT NULL,
		severity         TEXT NOT NULL,
		impact           TEXT NOT NULL,
		action           TEXT NOT NULL,
		component        TEXT NOT NULL,
		checker          TEXT NOT NULL,
		display_type     TEXT NOT NULL,
		display_category TEXT NOT NULL,
		function_name    TEXT NOT NULL,
		file_path        TEXT NOT NULL,
		line             INTEGER NOT NULL,
		first_detected   TEXT NOT NULL,
		PRIMARY KEY (build_id, stream_position, position)
	)`,
}

var defectColumns = []string{
	"build_id", "stream_position", "position", "cid", "merge_key",
	"classification", "severity", "impact", "action", "component", "checker",
	"display_type", "display_category", "function_name", "file_path", "line", "first_detected",
}

// SQLStore persists attached build records in SQLite or Postgres.
type SQLStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ ports.ResultStore = (*SQLStore)(nil)

// Open connects to dsn: postgres:// URLs use lib/pq, anything else is a
// SQLite database file.
func Open(ctx context.Context, dsn string) (*SQLStore, error) {
	driver := "sqlite3"
	var format sq.PlaceholderFormat = sq.Question
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver, format = "postgres", sq.Dollar
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}

	store, err := NewSQLStore(ctx, db, format)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wires an open database and creates the schema if missing.
func NewSQLStore(ctx context.Context, db *sql.DB, format sq.PlaceholderFormat) (*SQLStore, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping store: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &SQLStore{db: db, sb: sq.StatementBuilder.PlaceholderFormat(format)}, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Attach writes the build record in one transaction. A build that already
// has a record yields domain.ErrAlreadyAttached.
func (s *SQLStore) Attach(ctx context.Context, action domain.BuildAction) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin attach: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	exists, err := s.exists(ctx, tx, action.BuildID)
	if err != nil {
		return err
	}
	if exists {
		return domain.ErrAlreadyAttached
	}

	insert := s.sb.Insert("build_actions").
		Columns("build_id", "attached_at", "total").
		Values(action.BuildID, formatTime(action.AttachedAt), action.Total())
	if err = s.exec(ctx, tx, insert); err != nil {
		return fmt.Errorf("insert build action: %w", err)
	}

	for i, stream := range action.Streams {
		st := stream.Stream
		insert := s.sb.Insert("build_streams").
			Columns("build_id", "position", "instance_name", "project_name", "stream_name", "label", "default_action").
			Values(action.BuildID, i, st.Instance, st.Project, st.Name, st.Label, st.DefaultAction)
		if err = s.exec(ctx, tx, insert); err != nil {
			return fmt.Errorf("insert stream %s: %w", st.Name, err)
		}
		if err = s.insertDefects(ctx, tx, action.BuildID, i, stream.Defects); err != nil {
			return fmt.Errorf("insert defects of stream %s: %w", st.Name, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit attach: %w", err)
	}
	return nil
}

func (s *SQLStore) insertDefects(ctx context.Context, tx *sql.Tx, buildID string, streamPos int, defects []domain.DefectSummary) error {
	for start := 0; start < len(defects); start += insertBatch {
		end := min(start+insertBatch, len(defects))
		insert := s.sb.Insert("build_defects").Columns(defectColumns...)
		for i, d := range defects[start:end] {
			insert = insert.Values(
				buildID, streamPos, start+i, d.CID, d.MergeKey,
				d.Classification, d.Severity, d.Impact, d.Action, d.Component, d.Checker,
				d.DisplayType, d.DisplayCategory, d.Function, d.File, d.Line, formatTime(d.FirstDetected),
			)
		}
		if err := s.exec(ctx, tx, insert); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the record attached to buildID.
func (s *SQLStore) Load(ctx context.Context, buildID string) (domain.BuildAction, error) {
	action := domain.BuildAction{BuildID: buildID}

	query, args, err := s.sb.Select("attached_at").From("build_actions").
		Where(sq.Eq{"build_id": buildID}).ToSql()
	if err != nil {
		return action, fmt.Errorf("build query: %w", err)
	}

	var attachedAt string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&attachedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return action, fmt.Errorf("no defect record for build %s", buildID)
		}
		return action, fmt.Errorf("query build action: %w", err)
	}
	action.AttachedAt = parseTime(attachedAt)

	if action.Streams, err = s.loadStreams(ctx, buildID); err != nil {
		return action, err
	}
	if err := s.loadDefects(ctx, buildID, action.Streams); err != nil {
		return action, err
	}
	return action, nil
}

func (s *SQLStore) loadStreams(ctx context.Context, buildID string) ([]domain.StreamResult, error) {
	query, args, err := s.sb.Select("instance_name", "project_name", "stream_name", "label", "default_action").
		From("build_streams").
		Where(sq.Eq{"build_id": buildID}).
		OrderBy("position").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query streams: %w", err)
	}
	defer rows.Close()

	var streams []domain.StreamResult
	for rows.Next() {
		var st domain.Stream
		if err := rows.Scan(&st.Instance, &st.Project, &st.Name, &st.Label, &st.DefaultAction); err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		streams = append(streams, domain.StreamResult{Stream: st})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return streams, nil
}

func (s *SQLStore) loadDefects(ctx context.Context, buildID string, streams []domain.StreamResult) error {
	query, args, err := s.sb.Select(defectColumns[1:]...).
		From("build_defects").
		Where(sq.Eq{"build_id": buildID}).
		OrderBy("stream_position", "position").ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query defects: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			d             domain.DefectSummary
			streamPos     int
			position      int
			firstDetected string
		)
		err := rows.Scan(&streamPos, &position, &d.CID, &d.MergeKey,
			&d.Classification, &d.Severity, &d.Impact, &d.Action, &d.Component, &d.Checker,
			&d.DisplayType, &d.DisplayCategory, &d.Function, &d.File, &d.Line, &firstDetected)
		if err != nil {
			return fmt.Errorf("scan defect: %w", err)
		}
		if streamPos < 0 || streamPos >= len(streams) {
			return fmt.Errorf("defect %d references unknown stream %d", d.CID, streamPos)
		}
		d.FirstDetected = parseTime(firstDetected)
		streams[streamPos].Defects = append(streams[streamPos].Defects, d)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows iteration: %w", err)
	}
	return nil
}

func (s *SQLStore) exists(ctx context.Context, tx *sql.Tx, buildID string) (bool, error) {
	query, args, err := s.sb.Select("COUNT(*)").From("build_actions").
		Where(sq.Eq{"build_id": buildID}).ToSql()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}

	var n int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("query build action: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) exec(ctx context.Context, tx *sql.Tx, b sq.InsertBuilder) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build statement: %w", err)
	}
	_, err = tx.ExecContext(ctx, query, args...)
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
