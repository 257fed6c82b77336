package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a Store backed by a shared Postgres database. Multiple
// control-plane replicas pointing at the same DSN observe one authoritative
// set of instance records and port claims. Atomicity of SetAdd relies on the
// primary key constraint plus ON CONFLICT DO NOTHING.
type Postgres struct {
	pool *pgxpool.Pool
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS kv (
    key   text PRIMARY KEY,
    value bytea NOT NULL
);
CREATE TABLE IF NOT EXISTS kv_set (
    key    text NOT NULL,
    member text NOT NULL,
    PRIMARY KEY (key, member)
);
`

// NewPostgres connects to dsn, ensures the schema exists and returns the store.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ensure schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.pool.QueryRow(ctx, `SELECT value FROM kv WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %q: %w", key, err)
	}
	return value, nil
}

func (p *Postgres) Put(ctx context.Context, key string, value []byte) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO kv (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("store: put %q: %w", key, err)
	}
	return nil
}

func (p *Postgres) Update(ctx context.Context, key string, value []byte) error {
	tag, err := p.pool.Exec(ctx, `UPDATE kv SET value = $2 WHERE key = $1`, key, value)
	if err != nil {
		return fmt.Errorf("store: update %q: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("store: delete %q: %w", key, err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT key, value FROM kv WHERE key LIKE $1 || '%'`, prefix)
	if err != nil {
		return nil, fmt.Errorf("store: list %q: %w", prefix, err)
	}
	defer rows.Close()
	out := make(map[string][]byte)
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list rows: %w", err)
	}
	return out, nil
}

func (p *Postgres) SetAdd(ctx context.Context, key, member string) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO kv_set (key, member) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		key, member)
	if err != nil {
		return false, fmt.Errorf("store: set add %q: %w", key, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) SetRemove(ctx context.Context, key, member string) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM kv_set WHERE key = $1 AND member = $2`, key, member)
	if err != nil {
		return fmt.Errorf("store: set remove %q: %w", key, err)
	}
	return nil
}

func (p *Postgres) SetMembers(ctx context.Context, key string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT member FROM kv_set WHERE key = $1`, key)
	if err != nil {
		return nil, fmt.Errorf("store: set members %q: %w", key, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("store: set members scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: set members rows: %w", err)
	}
	return out, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
