package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
)

var ErrSessionNotFound = errors.New("session not found or expired")

var json = jsoniter.Config{UseNumber: true, SortMapKeys: true}.Froze()

const (
	tableName  = "catalog_sessions"
	colKey     = "session_key"
	colData    = "session_data"
	colExpires = "expire_date"
)

type row struct {
	Key     string `db:"session_key"`
	Data    string `db:"session_data"`
	Expires int64  `db:"expire_date"`
}

// Store persists sessions in a SQL table. Expiry is kept as a unix timestamp.
type Store struct {
	db      *sqlx.DB
	builder goqu.DialectWrapper
	dialect string
	ttl     time.Duration
	now     func() time.Time
}

// NewStore creates the session table if needed. dialect is a goqu dialect name
// (sqlite3, postgres or mysql).
func NewStore(db *sqlx.DB, dialect string, ttl time.Duration) (*Store, error) {
	s := &Store{
		db:      db,
		builder: goqu.Dialect(dialect),
		dialect: dialect,
		ttl:     ttl,
		now:     time.Now,
	}
	if err := s.initSchema(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// WithClock replaces the time source; used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) TTL() time.Duration {
	return s.ttl
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		%s VARCHAR(40) NOT NULL PRIMARY KEY,
		%s TEXT NOT NULL,
		%s BIGINT NOT NULL
	)`, tableName, colKey, colData, colExpires)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create %s table: %w", tableName, err)
	}

	// MySQL has no CREATE INDEX IF NOT EXISTS.
	if s.dialect != "mysql" {
		idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_expire ON %s(%s)", tableName, tableName, colExpires)
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create session index: %w", err)
		}
	}
	return nil
}

func newKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// New returns an empty session that has not been stored yet.
func (s *Store) New() *Session {
	return &Session{
		Key:       newKey(),
		Values:    map[string]any{},
		ExpiresAt: s.now().Add(s.ttl),
		isNew:     true,
	}
}

// Load fetches a live session by key.
func (s *Store) Load(ctx context.Context, key string) (*Session, error) {
	if key == "" {
		return nil, ErrSessionNotFound
	}

	query, args, err := s.builder.From(tableName).Prepared(true).
		Select(colKey, colData, colExpires).
		Where(
			goqu.C(colKey).Eq(key),
			goqu.C(colExpires).Gt(s.now().Unix()),
		).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build session query: %w", err)
	}

	var r row
	if err := s.db.GetContext(ctx, &r, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	values := map[string]any{}
	if err := json.UnmarshalFromString(r.Data, &values); err != nil {
		// A corrupt payload is treated as an empty session.
		values = map[string]any{}
	}

	return &Session{
		Key:       r.Key,
		Values:    values,
		ExpiresAt: time.Unix(r.Expires, 0).UTC(),
	}, nil
}

// Save upserts the session and extends its expiry by the TTL.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	data, err := json.MarshalToString(sess.Values)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	sess.ExpiresAt = s.now().Add(s.ttl)
	expires := sess.ExpiresAt.Unix()

	query, args, err := s.builder.Insert(tableName).Prepared(true).
		Rows(goqu.Record{colKey: sess.Key, colData: data, colExpires: expires}).
		OnConflict(goqu.DoUpdate(colKey, goqu.Record{colData: data, colExpires: expires})).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build session upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	sess.isNew = false
	sess.modified = false
	return nil
}

// Delete removes a session. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	query, args, err := s.builder.Delete(tableName).Prepared(true).
		Where(goqu.C(colKey).Eq(key)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build session delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// PurgeExpired deletes every session past its expiry and reports how many went.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	query, args, err := s.builder.Delete(tableName).Prepared(true).
		Where(goqu.C(colExpires).Lte(s.now().Unix())).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build session purge: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	return res.RowsAffected()
}
