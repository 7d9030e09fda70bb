package records

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// DefaultTable holds records when no table name is given.
const DefaultTable = "transcripts"

// PostgresStore keeps records in a PostgreSQL table.
type PostgresStore struct {
	db    *sql.DB
	table string
}

// NewPostgresStore opens databaseURL, pings it and creates the table if needed.
func NewPostgresStore(ctx context.Context, databaseURL, table string) (*PostgresStore, error) {
	if table == "" {
		table = DefaultTable
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{db: db, table: pq.QuoteIdentifier(table)}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	query := `create table if not exists ` + s.table + ` (
		id bigserial primary key,
		transcript_id text not null,
		filename text not null,
		text text not null,
		language text not null,
		duration double precision not null default 0,
		file_path text not null default '',
		created_at timestamptz not null default now()
	)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// Save inserts rec and returns its id.
func (s *PostgresStore) Save(ctx context.Context, rec Record) (int64, error) {
	query := `insert into ` + s.table + ` (transcript_id, filename, text, language, duration, file_path, created_at)
		values ($1, $2, $3, $4, $5, $6, coalesce($7, now())) returning id`

	var createdAt pq.NullTime
	if !rec.CreatedAt.IsZero() {
		createdAt = pq.NullTime{Time: rec.CreatedAt, Valid: true}
	}

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		rec.TranscriptID, rec.Filename, rec.Text, rec.Language, rec.Duration, rec.FilePath, createdAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}
	return id, nil
}

// List returns the newest records first; limit <= 0 means all.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]Record, error) {
	query := `select id, transcript_id, filename, text, language, duration, file_path, created_at
		from ` + s.table + ` order by id desc`
	args := []any{}
	if limit > 0 {
		query += ` limit $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.TranscriptID, &rec.Filename, &rec.Text, &rec.Language, &rec.Duration, &rec.FilePath, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
