package oplog

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/lensrpc/lens/pkg/patch"
)

//go:embed migrations
var migrationsFS embed.FS

// PostgresStorage is an optional durable Storage backing. The operation
// log is explicitly not a persistence layer (spec.md §1 Non-goals) —
// this adapter exists for deployments that want catch-up state to
// survive a process restart, not as a general query store. It follows
// the teacher's transactional write idiom (pkg/events/publisher.go:
// persistAndNotify) and migration-embedding idiom (pkg/database:
// client.go, migrations.go).
type PostgresStorage struct {
	db     *sql.DB
	bounds Bounds
}

// NewPostgresStorage opens a connection pool against dsn, applies
// embedded migrations, and returns a ready-to-use Storage.
func NewPostgresStorage(ctx context.Context, dsn string, bounds Bounds) (*PostgresStorage, error) {
	if bounds.MaxPatches == 0 && bounds.MaxAge == 0 {
		bounds = DefaultBounds()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("oplog: opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("oplog: pinging database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("oplog: running migrations: %w", err)
	}

	return &PostgresStorage{db: db, bounds: bounds}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres driver: %w", err)
	}
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (p *PostgresStorage) Close() error {
	return p.db.Close()
}

// Emit implements Storage. A row lock (SELECT ... FOR UPDATE) serializes
// concurrent emits for the same (entity, id); the subsequent UPDATE
// additionally guards on the version it read, so a concurrent writer
// that somehow slipped past the lock (e.g. a second pool against the
// same DSN) is detected rather than silently overwritten.
func (p *PostgresStorage) Emit(ctx context.Context, key Key, newData map[string]any) (EmitResult, error) {
	var result EmitResult

	err := withTx(ctx, p.db, func(tx *sql.Tx) error {
		var (
			curVersion int
			curDataRaw []byte
			exists     bool
		)

		row := tx.QueryRowContext(ctx,
			`SELECT version, data FROM oplog_entities WHERE entity = $1 AND id = $2 FOR UPDATE`,
			key.Entity, key.ID)
		switch err := row.Scan(&curVersion, &curDataRaw); err {
		case nil:
			exists = true
		case sql.ErrNoRows:
			exists = false
		default:
			return fmt.Errorf("reading current state: %w", err)
		}

		now := time.Now().UTC()

		if !exists {
			dataBytes, err := json.Marshal(newData)
			if err != nil {
				return fmt.Errorf("marshaling data: %w", err)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO oplog_entities (entity, id, version, data, updated_at) VALUES ($1, $2, 1, $3, $4)`,
				key.Entity, key.ID, dataBytes, now)
			if err != nil {
				return fmt.Errorf("inserting new entity: %w", err)
			}
			result = EmitResult{Version: 1, Changed: true}
			return nil
		}

		var curData map[string]any
		if err := json.Unmarshal(curDataRaw, &curData); err != nil {
			return fmt.Errorf("unmarshaling current data: %w", err)
		}

		equal, err := patch.CanonicalEqual(curData, newData)
		if err != nil {
			return err
		}
		if equal {
			result = EmitResult{Version: curVersion, Changed: false}
			return nil
		}

		ops, err := patch.Diff(curData, newData)
		if err != nil {
			return err
		}

		newVersion := curVersion + 1
		dataBytes, err := json.Marshal(newData)
		if err != nil {
			return fmt.Errorf("marshaling data: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE oplog_entities SET version = $1, data = $2, updated_at = $3 WHERE entity = $4 AND id = $5 AND version = $6`,
			newVersion, dataBytes, now, key.Entity, key.ID, curVersion)
		if err != nil {
			return fmt.Errorf("updating entity: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("oplog: concurrent version conflict for %s/%s", key.Entity, key.ID)
		}

		opsBytes, err := json.Marshal(ops)
		if err != nil {
			return fmt.Errorf("marshaling patch ops: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO oplog_patches (entity, id, version, operations, created_at) VALUES ($1, $2, $3, $4, $5)`,
			key.Entity, key.ID, newVersion, opsBytes, now)
		if err != nil {
			return fmt.Errorf("inserting patch: %w", err)
		}

		if err := p.evict(ctx, tx, key, now); err != nil {
			return err
		}

		result = EmitResult{Version: newVersion, Changed: true, Patch: ops}
		return nil
	})
	if err != nil {
		return EmitResult{}, err
	}
	return result, nil
}

func (p *PostgresStorage) evict(ctx context.Context, tx *sql.Tx, key Key, now time.Time) error {
	if p.bounds.MaxAge > 0 {
		cutoff := now.Add(-p.bounds.MaxAge)
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM oplog_patches WHERE entity = $1 AND id = $2 AND created_at < $3`,
			key.Entity, key.ID, cutoff); err != nil {
			return fmt.Errorf("evicting aged patches: %w", err)
		}
	}
	if p.bounds.MaxPatches > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM oplog_patches
			WHERE entity = $1 AND id = $2 AND version <= (
				SELECT version FROM oplog_patches
				WHERE entity = $1 AND id = $2
				ORDER BY version DESC
				OFFSET $3 LIMIT 1
			)`, key.Entity, key.ID, p.bounds.MaxPatches); err != nil {
			return fmt.Errorf("evicting excess patches: %w", err)
		}
	}
	return nil
}

// GetState implements Storage.
func (p *PostgresStorage) GetState(ctx context.Context, key Key) (map[string]any, error) {
	var dataRaw []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT data FROM oplog_entities WHERE entity = $1 AND id = $2`, key.Entity, key.ID,
	).Scan(&dataRaw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("oplog: reading state: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(dataRaw, &data); err != nil {
		return nil, fmt.Errorf("oplog: unmarshaling state: %w", err)
	}
	return data, nil
}

// GetVersion implements Storage.
func (p *PostgresStorage) GetVersion(ctx context.Context, key Key) (int, error) {
	var version int
	err := p.db.QueryRowContext(ctx,
		`SELECT version FROM oplog_entities WHERE entity = $1 AND id = $2`, key.Entity, key.ID,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("oplog: reading version: %w", err)
	}
	return version, nil
}

// GetLatestPatch implements Storage.
func (p *PostgresStorage) GetLatestPatch(ctx context.Context, key Key) (*PatchRecord, error) {
	var (
		version  int
		opsRaw   []byte
		ts       time.Time
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT version, operations, created_at FROM oplog_patches
		WHERE entity = $1 AND id = $2
		ORDER BY version DESC LIMIT 1`, key.Entity, key.ID,
	).Scan(&version, &opsRaw, &ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("oplog: reading latest patch: %w", err)
	}
	var ops []patch.Op
	if err := json.Unmarshal(opsRaw, &ops); err != nil {
		return nil, fmt.Errorf("oplog: unmarshaling patch ops: %w", err)
	}
	return &PatchRecord{Version: version, Operations: ops, Timestamp: ts}, nil
}

// GetPatchesSince implements Storage.
func (p *PostgresStorage) GetPatchesSince(ctx context.Context, key Key, sinceVersion int) ([]PatchRecord, error) {
	version, err := p.GetVersion(ctx, key)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		if sinceVersion > 0 {
			return nil, ErrNotFound
		}
		return []PatchRecord{}, nil
	}
	if sinceVersion == version {
		return []PatchRecord{}, nil
	}
	if sinceVersion > version {
		return nil, ErrTruncated
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT version, operations, created_at FROM oplog_patches
		WHERE entity = $1 AND id = $2 AND version > $3
		ORDER BY version ASC`, key.Entity, key.ID, sinceVersion)
	if err != nil {
		return nil, fmt.Errorf("oplog: querying patches: %w", err)
	}
	defer rows.Close()

	var out []PatchRecord
	expected := sinceVersion + 1
	for rows.Next() {
		var (
			v      int
			opsRaw []byte
			ts     time.Time
		)
		if err := rows.Scan(&v, &opsRaw, &ts); err != nil {
			return nil, fmt.Errorf("oplog: scanning patch row: %w", err)
		}
		var ops []patch.Op
		if err := json.Unmarshal(opsRaw, &ops); err != nil {
			return nil, fmt.Errorf("oplog: unmarshaling patch ops: %w", err)
		}
		out = append(out, PatchRecord{Version: v, Operations: ops, Timestamp: ts})
		expected++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if expected-1 != version {
		// The retained window has a gap — some patches in [sinceVersion+1, version] were evicted.
		return nil, ErrTruncated
	}
	return out, nil
}

// Delete implements Storage.
func (p *PostgresStorage) Delete(ctx context.Context, key Key) error {
	return withTx(ctx, p.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM oplog_patches WHERE entity = $1 AND id = $2`, key.Entity, key.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM oplog_entities WHERE entity = $1 AND id = $2`, key.Entity, key.ID)
		return err
	})
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
