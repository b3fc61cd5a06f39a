package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rabbitreels/autoscaler/pkg/database"
)

// Postgres backs the Store with the registry_kv and registry_list tables so
// the two control loops can run as separate processes against shared state.
type Postgres struct {
	db *database.DB
}

func NewPostgres(db *database.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, int64, error) {
	var (
		value   []byte
		version int64
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT value, version FROM registry_kv WHERE key = $1`, key,
	).Scan(&value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return value, version, nil
}

// Values go over the wire as text: lib/pq maps []byte to bytea, which the
// jsonb columns reject.
func (p *Postgres) Set(ctx context.Context, key string, value []byte) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO registry_kv (key, value, version, updated_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
		    version = registry_kv.version + 1,
		    updated_at = now()`,
		key, string(value),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (p *Postgres) CompareAndSwap(ctx context.Context, key string, value []byte, version int64) error {
	if version == 0 {
		result, err := p.db.ExecContext(ctx, `
			INSERT INTO registry_kv (key, value, version, updated_at)
			VALUES ($1, $2, 1, now())
			ON CONFLICT (key) DO NOTHING`,
			key, string(value),
		)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return ErrConflict
		}
		return nil
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE registry_kv
		SET value = $2, version = version + 1, updated_at = now()
		WHERE key = $1 AND version = $3`,
		key, string(value), version,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrConflict
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM registry_kv WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (p *Postgres) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT key FROM registry_kv WHERE key LIKE $1 || '%' ORDER BY key`, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (p *Postgres) PushList(ctx context.Context, key string, value []byte, maxLen int) error {
	err := p.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO registry_list (key, value) VALUES ($1, $2)`, key, string(value),
		); err != nil {
			return err
		}
		if maxLen <= 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			DELETE FROM registry_list
			WHERE key = $1 AND id NOT IN (
				SELECT id FROM registry_list
				WHERE key = $1 ORDER BY id DESC LIMIT $2
			)`,
			key, maxLen,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (p *Postgres) RangeList(ctx context.Context, key string, n int) ([][]byte, error) {
	query := `SELECT value FROM registry_list WHERE key = $1 ORDER BY id DESC`
	args := []interface{}{key}
	if n > 0 {
		query += ` LIMIT $2`
		args = append(args, n)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		out = append(out, value)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error {
	return nil
}
