package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chat_service/internal/config"
	"chat_service/internal/storage"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Bootstrap retry policy. Applies only to the one-time connection
// acquisition, never to individual operations.
const (
	maxConnectAttempts = 5
	initialDelay       = 500 * time.Millisecond
	attemptTimeout     = 30 * time.Second
)

const schema = `
	CREATE TABLE IF NOT EXISTS records (
		id         TEXT PRIMARY KEY,
		tbl        TEXT NOT NULL,
		data       JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS records_tbl_idx ON records (tbl);
	CREATE UNIQUE INDEX IF NOT EXISTS records_user_email_idx
		ON records ((data->>'email')) WHERE tbl = 'user';
`

// PostgresStore keeps documents in a single records table and implements
// the storage.Store contract on top of it.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect establishes the pool with bounded retries and exponential
// backoff, then ensures the schema. Exhausted retries surface as
// storage.ErrStorageUnavailable.
func Connect(ctx context.Context, cfg *config.Config) (*PostgresStore, error) {
	const op = "storage.postgres.Connect"

	poolConfig, err := pgxpool.ParseConfig(dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse config: %w", op, err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	var lastErr error
	delay := initialDelay

	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		pool, err := connectOnce(ctx, poolConfig)
		if err == nil {
			return &PostgresStore{pool: pool}, nil
		}
		lastErr = err

		if attempt == maxConnectAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}

	return nil, fmt.Errorf("%s: %w: %w", op, storage.ErrStorageUnavailable, lastErr)
}

func connectOnce(ctx context.Context, poolConfig *pgxpool.Config) (*pgxpool.Pool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(attemptCtx, poolConfig)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(attemptCtx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(attemptCtx, schema); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

func (s *PostgresStore) Create(ctx context.Context, table string, content any) (*storage.Record, error) {
	const op = "storage.postgres.Create"

	data, err := marshalContent(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rec := storage.Record{
		ID:        table + ":" + uuid.NewString(),
		Table:     table,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}

	query := `
		INSERT INTO records (id, tbl, data, created_at)
		VALUES ($1, $2, $3, $4);
	`

	if _, err := s.pool.Exec(ctx, query, rec.ID, rec.Table, rec.Data, rec.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && table == storage.TableUser {
			return nil, storage.ErrUserExists
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &rec, nil
}

func (s *PostgresStore) Select(ctx context.Context, id string) (*storage.Record, error) {
	const op = "storage.postgres.Select"

	query := `
		SELECT id, tbl, data, created_at
		FROM records
		WHERE id = $1;
	`

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return rec, nil
}

func (s *PostgresStore) Query(ctx context.Context, statement string, bindings storage.Bindings) ([]storage.Record, error) {
	const op = "storage.postgres.Query"

	query, args, err := translate(statement, bindings)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var recs []storage.Record
	for rows.Next() {
		var rec storage.Record
		if err := rows.Scan(&rec.ID, &rec.Table, &rec.Data, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		recs = append(recs, rec)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("%s: %w", op, rows.Err())
	}

	return recs, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (*storage.Record, error) {
	const op = "storage.postgres.Delete"

	query := `
		DELETE FROM records
		WHERE id = $1
		RETURNING id, tbl, data, created_at;
	`

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return rec, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// translate maps a named statement to SQL over the records table.
func translate(statement string, b storage.Bindings) (string, []any, error) {
	switch statement {
	case storage.StmtTakeVerificationToken:
		return `
			DELETE FROM records
			WHERE tbl = 'verification_token'
				AND data->>'identifier' = $1
				AND data->>'token' = $2
			RETURNING id, tbl, data, created_at;
		`, []any{b["identifier"], b["token"]}, nil

	case storage.StmtSessionByToken:
		return `
			SELECT id, tbl, data, created_at
			FROM records
			WHERE tbl = 'session' AND data->>'session_token' = $1;
		`, []any{b["session_token"]}, nil

	case storage.StmtDeleteSessionByToken:
		return `
			DELETE FROM records
			WHERE tbl = 'session' AND data->>'session_token' = $1
			RETURNING id, tbl, data, created_at;
		`, []any{b["session_token"]}, nil

	case storage.StmtUpdateSessionExpiry:
		return `
			UPDATE records
			SET data = jsonb_set(data, '{expires}', to_jsonb($2::timestamptz))
			WHERE tbl = 'session' AND data->>'session_token' = $1
			RETURNING id, tbl, data, created_at;
		`, []any{b["session_token"], b["expires"]}, nil

	case storage.StmtUserByEmail:
		return `
			SELECT id, tbl, data, created_at
			FROM records
			WHERE tbl = 'user' AND data->>'email' = $1;
		`, []any{b["email"]}, nil

	case storage.StmtVerifyUserEmail:
		return `
			UPDATE records
			SET data = jsonb_set(data, '{email_verified}', to_jsonb($2::timestamptz))
			WHERE id = $1 AND tbl = 'user'
			RETURNING id, tbl, data, created_at;
		`, []any{b["id"], b["verified"]}, nil

	case storage.StmtRecentChatEvents:
		// The timestamp has to be compared as a timestamp: RFC3339 text with
		// trimmed fractional zeros does not sort lexicographically.
		return `
			SELECT id, tbl, data, created_at
			FROM records
			WHERE tbl = 'chat_event'
			ORDER BY (data->>'timestamp')::timestamptz DESC, created_at DESC
			LIMIT $1;
		`, []any{b["limit"]}, nil
	}

	return "", nil, fmt.Errorf("%w: %s", storage.ErrUnknownStatement, statement)
}

func scanRecord(row pgx.Row) (*storage.Record, error) {
	var rec storage.Record
	if err := row.Scan(&rec.ID, &rec.Table, &rec.Data, &rec.CreatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

func marshalContent(content any) ([]byte, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func dsn(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s database=%s sslmode=%s",
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
	)
}
