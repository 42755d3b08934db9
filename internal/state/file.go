package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/common"
	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
)

const (
	sessionExt   = ".json"
	leaseExt     = ".lock"
	writeLockExt = ".write.lock"
	lockRetry    = 25 * time.Millisecond
)

// FileStore keeps one JSON file per session in a directory. Leases are
// advisory flock locks, so a crashed process releases them automatically.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := common.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create session directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the session directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(id, ext string) string {
	return filepath.Join(s.dir, id+ext)
}

func (s *FileStore) Create(ctx context.Context, sess *models.Session) error {
	if err := checkID(sess.ID); err != nil {
		return err
	}
	unlock, err := s.writeLock(ctx, sess.ID)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := os.Stat(s.path(sess.ID, sessionExt)); err == nil {
		return conflict(sess.ID, "a session with this id already exists")
	}
	return s.write(sess, 0)
}

func (s *FileStore) Load(ctx context.Context, id string) (*models.Session, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	return s.read(id)
}

func (s *FileStore) Save(ctx context.Context, sess *models.Session) error {
	if err := checkID(sess.ID); err != nil {
		return err
	}
	unlock, err := s.writeLock(ctx, sess.ID)
	if err != nil {
		return err
	}
	defer unlock()

	stored, err := s.read(sess.ID)
	if err != nil {
		return err
	}
	if stored.Version != sess.Version {
		return conflict(sess.ID, "stored revision %d does not match %d", stored.Version, sess.Version)
	}
	return s.write(sess, sess.Version)
}

func (s *FileStore) write(sess *models.Session, from int64) error {
	prev := sess.Version
	sess.Version = from + 1
	data, err := Encode(sess)
	if err != nil {
		sess.Version = prev
		return err
	}
	if err := common.WriteFileAtomic(s.path(sess.ID, sessionExt), data, 0600); err != nil {
		sess.Version = prev
		return fmt.Errorf("failed to write session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *FileStore) read(id string) (*models.Session, error) {
	data, err := os.ReadFile(s.path(id, sessionExt))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &models.SessionNotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", id, err)
	}
	return Decode(id, data)
}

func (s *FileStore) List(ctx context.Context) ([]models.SessionSummary, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+sessionExt))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	out := []models.SessionSummary{}
	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := strings.TrimSuffix(filepath.Base(m), sessionExt)
		if checkID(id) != nil {
			continue
		}
		sess, err := s.read(id)
		if err != nil {
			continue
		}
		out = append(out, sess.Summary())
	}
	sortSummaries(out)
	return out, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	lease, err := s.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer lease.Release()

	if err := os.Remove(s.path(id, sessionExt)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &models.SessionNotFoundError{ID: id}
		}
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	os.Remove(s.path(id, writeLockExt))
	return nil
}

func (s *FileStore) Acquire(ctx context.Context, id string) (Lease, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	fl := flock.New(s.path(id, leaseExt))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock session %s: %w", id, err)
	}
	if !ok {
		return nil, conflict(id, "another process holds the session lock")
	}
	return fileLease{fl}, nil
}

// writeLock serializes the read-compare-write of Save across processes.
func (s *FileStore) writeLock(ctx context.Context, id string) (func(), error) {
	fl := flock.New(s.path(id, writeLockExt))
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ok, err := fl.TryLockContext(ctx, lockRetry)
	if err != nil || !ok {
		return nil, conflict(id, "timed out waiting for the write lock")
	}
	return func() { fl.Unlock() }, nil
}

type fileLease struct {
	fl *flock.Flock
}

func (l fileLease) Release() error {
	return l.fl.Unlock()
}
