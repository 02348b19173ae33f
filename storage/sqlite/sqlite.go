// Package sqlite implements storage.Repository and storage.RevisionCache on
// an embedded SQLite database using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jmcleod/ironwire/storage"
)

// Store implements storage.Repository and storage.RevisionCache on one
// SQLite file.
type Store struct {
	db *sql.DB
	// writeMu serializes writers so concurrent CAS attempts do not surface
	// SQLITE_BUSY to callers.
	writeMu sync.Mutex
}

var (
	_ storage.Repository    = (*Store)(nil)
	_ storage.RevisionCache = (*Store)(nil)
)

// Open creates the database directory if needed, opens path in WAL mode and
// initializes the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	const query = `
	CREATE TABLE IF NOT EXISTS records (
		namespace  TEXT    NOT NULL,
		record_id  TEXT    NOT NULL,
		ver        INTEGER NOT NULL,
		scheme     TEXT    NOT NULL,
		nonce      BLOB    NOT NULL,
		ciphertext BLOB    NOT NULL,
		version    INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (namespace, record_id)
	);
	CREATE TABLE IF NOT EXISTS session_revisions (
		session_id   TEXT PRIMARY KEY,
		max_revision INTEGER NOT NULL
	);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(ctx context.Context, namespace, id string, envelope *storage.Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (namespace, record_id, ver, scheme, nonce, ciphertext, version, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (namespace, record_id) DO UPDATE SET
		   ver = excluded.ver, scheme = excluded.scheme, nonce = excluded.nonce,
		   ciphertext = excluded.ciphertext, version = excluded.version, updated_at = excluded.updated_at`,
		namespace, id, envelope.Ver, envelope.Scheme, envelope.Nonce, envelope.Ciphertext,
		int64(envelope.Version), time.Now().Unix())
	return err
}

func (s *Store) Get(ctx context.Context, namespace, id string) (*storage.Envelope, error) {
	var env storage.Envelope
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT ver, scheme, nonce, ciphertext, version FROM records WHERE namespace = ? AND record_id = ?`,
		namespace, id).Scan(&env.Ver, &env.Scheme, &env.Nonce, &env.Ciphertext, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", namespace, id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	env.Version = uint64(version)
	return &env, nil
}

func (s *Store) List(ctx context.Context, namespace string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id FROM records WHERE namespace = ? ORDER BY record_id`, namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Delete(ctx context.Context, namespace, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE namespace = ? AND record_id = ?`, namespace, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s/%s: %w", namespace, id, storage.ErrNotFound)
	}
	return nil
}

// PutCAS is a single conditional statement, so the check and the write
// cannot interleave with another writer.
func (s *Store) PutCAS(ctx context.Context, namespace, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var (
		res sql.Result
		err error
	)
	now := time.Now().Unix()
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO records (namespace, record_id, ver, scheme, nonce, ciphertext, version, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (namespace, record_id) DO NOTHING`,
			namespace, id, envelope.Ver, envelope.Scheme, envelope.Nonce, envelope.Ciphertext,
			int64(envelope.Version), now)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE records SET ver = ?, scheme = ?, nonce = ?, ciphertext = ?, version = ?, updated_at = ?
			 WHERE namespace = ? AND record_id = ? AND version = ?`,
			envelope.Ver, envelope.Scheme, envelope.Nonce, envelope.Ciphertext, int64(envelope.Version), now,
			namespace, id, int64(expectedVersion))
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrCASFailed
	}
	return nil
}

func (s *Store) MaxRevision(ctx context.Context, id string) (uint64, error) {
	var rev int64
	err := s.db.QueryRowContext(ctx,
		`SELECT max_revision FROM session_revisions WHERE session_id = ?`, id).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(rev), nil
}

func (s *Store) ObserveRevision(ctx context.Context, id string, revision uint64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var stored int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO session_revisions (session_id, max_revision) VALUES (?, ?)
		 ON CONFLICT (session_id) DO UPDATE SET max_revision = max(max_revision, excluded.max_revision)
		 RETURNING max_revision`,
		id, int64(revision)).Scan(&stored)
	if err != nil {
		return err
	}
	if revision < uint64(stored) {
		return storage.ErrRollbackDetected
	}
	return nil
}

func (s *Store) Forget(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_revisions WHERE session_id = ?`, id)
	return err
}
