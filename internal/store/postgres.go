package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const notifyChannel = "documents_changed"

// PostgresStore keeps documents as JSONB rows keyed by (collection, id) and
// announces commits with NOTIFY. Each subscription holds its own LISTEN
// connection.
type PostgresStore struct {
	db          *sql.DB
	databaseURL string
	logger      *slog.Logger
}

func NewPostgresStore(db *sql.DB, databaseURL string, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, databaseURL: databaseURL, logger: logger}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Get(ctx context.Context, c Collection, id string) (Document, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM documents WHERE collection=$1 AND id=$2`, string(c), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("get %s/%s: %w", c, id, ErrNotFound)
	}
	if err != nil {
		return Document{}, mapPgError("get", c, id, err)
	}
	return Document{ID: id, Data: data}, nil
}

func (s *PostgresStore) Put(ctx context.Context, c Collection, doc Document) error {
	if !json.Valid(doc.Data) {
		return fmt.Errorf("put %s/%s: invalid JSON body", c, doc.ID)
	}
	return s.commit(ctx, "put", c, doc.ID, func(tx *sql.Tx) (bool, error) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (collection, id, data, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (collection, id) DO UPDATE SET data=EXCLUDED.data, updated_at=NOW()
		`, string(c), doc.ID, []byte(doc.Data))
		return true, err
	})
}

func (s *PostgresStore) Delete(ctx context.Context, c Collection, id string) error {
	return s.commit(ctx, "delete", c, id, func(tx *sql.Tx) (bool, error) {
		result, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection=$1 AND id=$2`, string(c), id)
		if err != nil {
			return false, err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return false, err
		}
		return affected > 0, nil
	})
}

// commit runs write inside a transaction that also bumps the collection
// sequence and queues the notification, so listeners only hear about
// committed state.
func (s *PostgresStore) commit(ctx context.Context, op string, c Collection, id string, write func(*sql.Tx) (bool, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s tx: %w", op, err)
	}

	changed, err := write(tx)
	if err != nil {
		_ = tx.Rollback()
		return mapPgError(op, c, id, err)
	}
	if !changed {
		return tx.Rollback()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO collection_seq (collection, seq) VALUES ($1, 1)
		ON CONFLICT (collection) DO UPDATE SET seq = collection_seq.seq + 1
	`, string(c)); err != nil {
		_ = tx.Rollback()
		return mapPgError(op, c, id, err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(c)); err != nil {
		_ = tx.Rollback()
		return mapPgError(op, c, id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s %s/%s: %w", op, c, id, err)
	}
	return nil
}

func (s *PostgresStore) snapshot(ctx context.Context, c Collection) (Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return Snapshot{}, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	snapshot := Snapshot{Collection: c}
	var seq sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT seq FROM collection_seq WHERE collection=$1`, string(c)).Scan(&seq)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, mapPgError("snapshot", c, "", err)
	}
	if seq.Valid {
		snapshot.Seq = uint64(seq.Int64)
	}

	rows, err := tx.QueryContext(ctx, `SELECT id, data FROM documents WHERE collection=$1 ORDER BY updated_at, id`, string(c))
	if err != nil {
		return Snapshot{}, mapPgError("snapshot", c, "", err)
	}
	defer rows.Close()
	for rows.Next() {
		var doc Document
		var data []byte
		if err := rows.Scan(&doc.ID, &data); err != nil {
			return Snapshot{}, fmt.Errorf("scan %s document: %w", c, err)
		}
		doc.Data = data
		snapshot.Documents = append(snapshot.Documents, doc)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("iterate %s documents: %w", c, err)
	}
	return snapshot, nil
}

func (s *PostgresStore) Subscribe(ctx context.Context, c Collection, fn SnapshotFunc, onErr func(error)) (func(), error) {
	conn, err := pgx.Connect(ctx, s.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		_ = conn.Close(context.Background())
		return nil, mapPgError("subscribe", c, "", err)
	}

	initial, err := s.snapshot(ctx, c)
	if err != nil {
		_ = conn.Close(context.Background())
		return nil, err
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	stopped := false
	deliver := func(snapshot Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		fn(snapshot)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			_ = conn.Close(closeCtx)
		}()
		deliver(initial)
		for {
			notification, err := conn.WaitForNotification(listenCtx)
			if err != nil {
				if listenCtx.Err() != nil {
					return
				}
				s.logger.Warn("postgres listener failed", "collection", c, "error", err)
				if onErr != nil {
					onErr(fmt.Errorf("listen %s: %w", c, err))
				}
				return
			}
			if notification.Payload != string(c) {
				continue
			}
			snapshot, err := s.snapshot(listenCtx, c)
			if err != nil {
				if listenCtx.Err() != nil {
					return
				}
				if onErr != nil {
					onErr(err)
				}
				continue
			}
			deliver(snapshot)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			mu.Lock()
			stopped = true
			mu.Unlock()
			cancel()
			<-done
		})
	}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// mapPgError turns insufficient_privilege (42501) into a permanent AccessError.
func mapPgError(op string, c Collection, id string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42501" {
		return &AccessError{Op: op, Collection: c, ID: id, Reason: pgErr.Message}
	}
	return fmt.Errorf("%s %s: %w", op, c, err)
}
