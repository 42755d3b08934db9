package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/logger"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
)

// DefaultLeaseTTL bounds how long a crashed process can hold a sqlite lease.
// A live holder extends its lease every third of the TTL.
const DefaultLeaseTTL = 5 * time.Minute

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	body       BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS session_leases (
	id         TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);`

// SQLiteStore keeps sessions in a single SQLite database. Saves are guarded
// by `WHERE version = ?`; leases are rows with an expiry.
type SQLiteStore struct {
	db     *sql.DB
	ttl    time.Duration
	now    func() time.Time
	logger *logger.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string, ttl time.Duration, log *logger.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize session database: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &SQLiteStore{db: db, ttl: ttl, now: time.Now, logger: log}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, sess *models.Session) error {
	if err := checkID(sess.ID); err != nil {
		return err
	}
	prev := sess.Version
	sess.Version = 1
	data, err := Encode(sess)
	if err != nil {
		sess.Version = prev
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, version, updated_at, body) VALUES (?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		sess.ID, sess.Version, sess.UpdatedAt.UnixNano(), data)
	if err != nil {
		sess.Version = prev
		return fmt.Errorf("failed to create session %s: %w", sess.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		sess.Version = prev
		return conflict(sess.ID, "a session with this id already exists")
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*models.Session, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM sessions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.SessionNotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", id, err)
	}
	return Decode(id, data)
}

func (s *SQLiteStore) Save(ctx context.Context, sess *models.Session) error {
	expected := sess.Version
	sess.Version = expected + 1
	data, err := Encode(sess)
	if err != nil {
		sess.Version = expected
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET version = ?, updated_at = ?, body = ? WHERE id = ? AND version = ?`,
		sess.Version, sess.UpdatedAt.UnixNano(), data, sess.ID, expected)
	if err != nil {
		sess.Version = expected
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	sess.Version = expected

	var stored int64
	err = s.db.QueryRowContext(ctx, `SELECT version FROM sessions WHERE id = ?`, sess.ID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.SessionNotFoundError{ID: sess.ID}
	}
	if err != nil {
		return fmt.Errorf("failed to read session %s: %w", sess.ID, err)
	}
	return conflict(sess.ID, "stored revision %d does not match %d", stored, expected)
}

func (s *SQLiteStore) List(ctx context.Context) ([]models.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, body FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	out := []models.SessionSummary{}
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sess, err := Decode(id, data)
		if err != nil {
			continue
		}
		out = append(out, sess.Summary())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sortSummaries(out)
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	lease, err := s.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer lease.Release()

	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &models.SessionNotFoundError{ID: id}
	}
	return nil
}

func (s *SQLiteStore) Acquire(ctx context.Context, id string) (Lease, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	owner := uuid.NewString()
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to lock session %s: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_leases WHERE id = ? AND expires_at < ?`, id, now.UnixNano()); err != nil {
		return nil, fmt.Errorf("failed to expire session lease %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO session_leases (id, owner, expires_at) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		id, owner, now.Add(s.ttl).UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to lock session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, conflict(id, "another process holds the session lease")
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to lock session %s: %w", id, err)
	}
	renewCtx, stop := context.WithCancel(context.Background())
	l := &sqliteLease{store: s, id: id, owner: owner, stop: stop, done: make(chan struct{})}
	go l.renew(renewCtx)
	return l, nil
}

type sqliteLease struct {
	store *SQLiteStore
	id    string
	owner string
	stop  context.CancelFunc
	done  chan struct{}
	once  sync.Once
}

func (l *sqliteLease) renew(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.store.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := l.store.db.ExecContext(ctx,
				`UPDATE session_leases SET expires_at = ? WHERE id = ? AND owner = ?`,
				l.store.now().Add(l.store.ttl).UnixNano(), l.id, l.owner)
			if err != nil {
				if ctx.Err() == nil {
					l.store.logger.Warningf("Failed to renew lease of session %s: %v", l.id, err)
				}
				continue
			}
			if n, _ := res.RowsAffected(); n == 0 {
				l.store.logger.Warningf("Lease of session %s expired and was taken over", l.id)
				return
			}
		}
	}
}

func (l *sqliteLease) Release() error {
	var err error
	l.once.Do(func() {
		l.stop()
		<-l.done
		_, err = l.store.db.Exec(`DELETE FROM session_leases WHERE id = ? AND owner = ?`, l.id, l.owner)
	})
	return err
}
