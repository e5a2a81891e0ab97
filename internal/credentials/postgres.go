package credentials

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const defaultNamespace = "default"

const schemaSQL = `
create table if not exists credential_kv (
	namespace  text not null,
	key        text not null,
	value      text not null,
	updated_at timestamptz not null default now(),
	primary key (namespace, key)
)`

// PostgresBackend stores one row per session key, scoped by namespace so
// several client profiles can share a database.
type PostgresBackend struct {
	db        *sql.DB
	namespace string
}

// OpenPostgres connects through the pgx stdlib driver.
func OpenPostgres(dsn, namespace string) (*PostgresBackend, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(15 * time.Minute)
	return NewPostgresBackend(db, namespace), nil
}

// NewPostgresBackend wraps an existing database handle.
func NewPostgresBackend(db *sql.DB, namespace string) *PostgresBackend {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &PostgresBackend{db: db, namespace: namespace}
}

// EnsureSchema creates the credential_kv table when missing.
func (p *PostgresBackend) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure credential_kv: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Load(ctx context.Context) (map[string]string, error) {
	rows, err := p.db.QueryContext(ctx, `select key, value from credential_kv where namespace=$1`, p.namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		values[k] = v
	}
	return values, rows.Err()
}

// Save runs deletes then upserts in a single transaction. Keys are applied in
// sorted order.
func (p *PostgresBackend) Save(ctx context.Context, set map[string]string, del []string) error {
	if len(set) == 0 && len(del) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	dels := append([]string(nil), del...)
	sort.Strings(dels)
	for _, k := range dels {
		if _, err := tx.ExecContext(ctx, `delete from credential_kv where namespace=$1 and key=$2`, p.namespace, k); err != nil {
			return err
		}
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `
			insert into credential_kv(namespace, key, value, updated_at)
			values ($1, $2, $3, now())
			on conflict (namespace, key) do update
			set value = excluded.value, updated_at = excluded.updated_at
		`, p.namespace, k, set[k]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresBackend) Close() error { return p.db.Close() }
