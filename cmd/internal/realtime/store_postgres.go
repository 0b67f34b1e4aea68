package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tether/cmd/internal/chat"
)

// PostgresRoomStore is a RoomStore backed by PostgreSQL, used by headless
// deployments that want the room list to survive restarts.
//
// Ownership model:
// - PostgresRoomStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
type PostgresRoomStore struct {
	pool   *pgxpool.Pool
	schema string
}

// RoomStoreOption configures PostgresRoomStore behavior.
type RoomStoreOption func(*PostgresRoomStore) error

// WithRoomSchema sets the DB schema used by this store (default: "tether").
// The schema name is validated and safely quoted in queries.
func WithRoomSchema(schema string) RoomStoreOption {
	return func(s *PostgresRoomStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresRoomStore constructs a Postgres-backed RoomStore.
func NewPostgresRoomStore(pool *pgxpool.Pool, opts ...RoomStoreOption) (*PostgresRoomStore, error) {
	st := &PostgresRoomStore{
		pool:   pool,
		schema: "tether",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresRoomStore) Close() error { return nil }

// EnsureSchema creates the schema and rooms table when missing. This is a
// client-local cache, not a server database, so the store manages its own DDL.
func (s *PostgresRoomStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return errors.New("realtime: nil store")
	}

	rooms := pgIdent(s.schema, "rooms")

	if _, err := s.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{s.schema}.Sanitize()); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+rooms+` (
			id           BIGINT PRIMARY KEY,
			kind         TEXT NOT NULL,
			name         TEXT NOT NULL DEFAULT '',
			task_id      BIGINT NOT NULL DEFAULT 0,
			participants JSONB NOT NULL DEFAULT '[]',
			last_message JSONB,
			unread       INT NOT NULL DEFAULT 0,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create rooms table: %w", err)
	}
	return nil
}

// ReplaceRooms replaces the cached room list atomically, last write wins.
func (s *PostgresRoomStore) ReplaceRooms(ctx context.Context, roomList []chat.Room) error {
	if s == nil || s.pool == nil {
		return errors.New("realtime: nil store")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rooms := pgIdent(s.schema, "rooms")

	if _, err := tx.Exec(ctx, `DELETE FROM `+rooms); err != nil {
		return fmt.Errorf("clear rooms: %w", err)
	}

	now := time.Now().UTC()
	for _, r := range roomList {
		parts, err := json.Marshal(r.Participants)
		if err != nil {
			return fmt.Errorf("marshal participants room=%d: %w", r.ID, err)
		}

		var last []byte
		if r.LastMessage != nil {
			last, err = json.Marshal(r.LastMessage)
			if err != nil {
				return fmt.Errorf("marshal last message room=%d: %w", r.ID, err)
			}
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO `+rooms+` (id, kind, name, task_id, participants, last_message, unread, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			r.ID, string(r.Kind), r.Name, r.TaskID, parts, last, r.Unread, now,
		); err != nil {
			return fmt.Errorf("insert room %d: %w", r.ID, err)
		}
	}

	return tx.Commit(ctx)
}

// ListRooms returns the cached room list.
func (s *PostgresRoomStore) ListRooms(ctx context.Context) ([]chat.Room, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("realtime: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rooms := pgIdent(s.schema, "rooms")

	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, name, task_id, participants, last_message, unread
		   FROM `+rooms+`
		  ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chat.Room
	for rows.Next() {
		var (
			r     chat.Room
			kind  string
			parts []byte
			last  []byte
		)
		if err := rows.Scan(&r.ID, &kind, &r.Name, &r.TaskID, &parts, &last, &r.Unread); err != nil {
			return nil, err
		}
		r.Kind = chat.RoomKind(kind)
		if len(parts) > 0 {
			if err := json.Unmarshal(parts, &r.Participants); err != nil {
				return nil, fmt.Errorf("unmarshal participants room=%d: %w", r.ID, err)
			}
		}
		if len(last) > 0 {
			var m chat.Message
			if err := json.Unmarshal(last, &m); err != nil {
				return nil, fmt.Errorf("unmarshal last message room=%d: %w", r.ID, err)
			}
			r.LastMessage = &m
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
