package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"gmaildispatch/pkg/logger"
)

// Factory opens and caches one UserDB handle per user id. The first call
// for a given user initializes schema; subsequent calls return the
// existing handle. Factory is a process-scoped singleton, constructed once
// at startup and passed explicitly to every component that needs per-user
// storage (design note: "process-scoped resource bundle" rather than a
// package-level global).
type Factory struct {
	mu       sync.Mutex
	basePath string
	handles  map[string]*UserDB
	log      *zap.Logger
}

// NewFactory constructs a Factory rooted at basePath/users/<id>.db.
func NewFactory(basePath string) *Factory {
	return &Factory{
		basePath: basePath,
		handles:  make(map[string]*UserDB),
		log:      logger.L().Named("storage"),
	}
}

// DatabaseFor returns the UserDB for userID, opening and migrating it on
// first use.
func (f *Factory) DatabaseFor(userID string) (*UserDB, error) {
	if userID == "" {
		return nil, fmt.Errorf("DatabaseFor: empty user id")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if db, ok := f.handles[userID]; ok {
		return db, nil
	}

	usersDir := filepath.Join(f.basePath, "users")
	if err := os.MkdirAll(usersDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating users directory: %w", err)
	}

	path := filepath.Join(usersDir, sanitizeUserID(userID)+".db")
	db, err := openUserDB(path, userID, f.log)
	if err != nil {
		return nil, fmt.Errorf("opening database for user %s: %w", userID, err)
	}
	f.handles[userID] = db
	f.log.Info("initialized user database", zap.String("user_id", userID), zap.String("path", path))

	if err := f.recordKnownUser(userID); err != nil {
		f.log.Warn("failed to persist user registry entry", zap.String("user_id", userID), zap.Error(err))
	}
	return db, nil
}

// recordKnownUser appends userID to the on-disk user registry if not
// already present. sanitizeUserID's filename mapping is lossy (distinct
// ids can collide on their sanitized form), so the registry is what lets
// KnownUserIDs recover the exact ids a fresh process should load
// schedules and reconcile jobs for, rather than guessing from filenames.
func (f *Factory) recordKnownUser(userID string) error {
	known, err := f.readRegistry()
	if err != nil {
		return err
	}
	for _, id := range known {
		if id == userID {
			return nil
		}
	}
	known = append(known, userID)
	return f.writeRegistry(known)
}

// KnownUserIDs returns every user id this Factory has ever opened a
// database for, across process restarts.
func (f *Factory) KnownUserIDs() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readRegistry()
}

func (f *Factory) registryPath() string {
	return filepath.Join(f.basePath, "users", "_registry.json")
}

func (f *Factory) readRegistry() ([]string, error) {
	b, err := os.ReadFile(f.registryPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading user registry: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, fmt.Errorf("parsing user registry: %w", err)
	}
	return ids, nil
}

func (f *Factory) writeRegistry(ids []string) error {
	if err := os.MkdirAll(filepath.Dir(f.registryPath()), 0o755); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshaling user registry: %w", err)
	}
	return os.WriteFile(f.registryPath(), b, 0o644)
}

// CloseAll closes every open handle. Intended for graceful shutdown.
func (f *Factory) CloseAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	for id, db := range f.handles {
		if err := db.sql.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing database for user %s: %w", id, err)
		}
	}
	f.handles = make(map[string]*UserDB)
	return firstErr
}

// OpenHandles returns a snapshot of currently-open user ids, used by the
// job reaper at startup to scope its reconciliation pass.
func (f *Factory) OpenHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.handles))
	for id := range f.handles {
		ids = append(ids, id)
	}
	return ids
}

func sanitizeUserID(userID string) string {
	var b strings.Builder
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func openUserDB(path, userID string, log *zap.Logger) (*UserDB, error) {
	dsn, err := dsnFromPath(path)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	// A per-user database is effectively single-writer; cap at one
	// connection so database/sql serializes writes for us, matching the
	// "DB layer is expected to serialize its writes internally" contract.
	sqlDB.SetMaxOpenConns(1)

	for _, stmt := range createTableSQL {
		if _, err := sqlDB.Exec(stmt); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("executing schema statement: %w", err)
		}
	}

	return &UserDB{sql: sqlDB, userID: userID, log: log.With(zap.String("user_id", userID))}, nil
}

// dsnFromPath builds a sqlite3 DSN with a generous busy timeout, per
// other_examples/matta-gotmuch's Open().
func dsnFromPath(path string) (string, error) {
	busyTimeout := int(5 * time.Minute / time.Millisecond)
	u := &url.URL{Scheme: "file", Opaque: path}
	values := url.Values{}
	values.Set("_busy_timeout", fmt.Sprintf("%d", busyTimeout))
	values.Set("_journal_mode", "WAL")
	u.RawQuery = values.Encode()
	return u.String(), nil
}
