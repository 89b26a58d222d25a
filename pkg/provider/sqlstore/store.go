// Package sqlstore provides properties kept in a SQLite table. Other
// processes update rows; the store polls the table while any of its keys has
// a subscriber and commits the rows that changed.
//
// The table has the columns key, value, value_type, updated_at and version.
// value is text parsed according to value_type (int, double, bool, string or
// absent) and updated_at is a Unix time in nanoseconds. Writers never set
// version: table triggers stamp every inserted or updated row with the next
// table-wide version, and polling reads the rows above the last version seen.
// Versions follow SQLite's write serialization, so a writer whose clock lags
// behind another one is still picked up.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/contextkit/contextd/pkg/broker"
	"github.com/contextkit/contextd/pkg/provider"
	"github.com/contextkit/contextd/pkg/value"
)

// Defaults.
const (
	DefaultTable        = "properties"
	DefaultPollInterval = time.Second
)

// Store errors.
var (
	// ErrInvalidTable is returned for table names that are not plain
	// identifiers.
	ErrInvalidTable = errors.New("invalid table name")

	// ErrEmptyTable is returned when the table holds no keys to provide.
	ErrEmptyTable = errors.New("table holds no keys")
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config configures a Store.
type Config struct {
	// Path is the database file. ":memory:" is not useful here since no other
	// process can reach it.
	Path string

	// Table holds the properties.
	Table string

	// Keys are provided even when the table has no row for them yet.
	Keys []string

	// PollInterval is how often the table is read while subscribed.
	PollInterval time.Duration

	// Logger receives operational logs. Nil discards them.
	Logger *slog.Logger
}

// DefaultConfig returns the default configuration without a path.
func DefaultConfig() Config {
	return Config{
		Table:        DefaultTable,
		PollInterval: DefaultPollInterval,
	}
}

// Store provides the keys found in a SQLite table.
type Store struct {
	db      *sql.DB
	config  Config
	logger  *slog.Logger
	service *provider.Service

	mu          sync.Mutex
	lastVersion int64
	cancel   context.CancelFunc
	done     chan struct{}
}

// Open opens the database, creates the table if needed and loads the current
// rows. The configured keys plus the keys present now are the keys the store
// owns for its lifetime.
func Open(config Config) (*Store, error) {
	defaults := DefaultConfig()
	if config.Table == "" {
		config.Table = defaults.Table
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if !tableName.MatchString(config.Table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, config.Table)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("provider", "sqlstore", "table", config.Table)

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	s := &Store{db: db, config: config, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	rows, err := s.changedSince(context.Background(), -1)
	if err != nil {
		db.Close()
		return nil, err
	}
	keys := slices.Clone(config.Keys)
	for _, r := range rows {
		keys = append(keys, r.Key)
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)
	if len(keys) == 0 {
		db.Close()
		return nil, ErrEmptyTable
	}
	if s.service, err = provider.NewServiceWithConfig(provider.Config{Logger: logger}, keys...); err != nil {
		db.Close()
		return nil, err
	}
	s.apply(rows)

	group, err := s.service.NewGroup(keys...)
	if err != nil {
		db.Close()
		return nil, err
	}
	group.OnFirstSubscriber(s.start)
	group.OnLastSubscriber(s.stop)
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		key TEXT PRIMARY KEY,
		value TEXT,
		value_type TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		version INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_%[1]s_version ON %[1]s(version);

	CREATE TRIGGER IF NOT EXISTS %[1]s_version_insert AFTER INSERT ON %[1]s
	BEGIN
		UPDATE %[1]s SET version = (SELECT COALESCE(MAX(version), 0) + 1 FROM %[1]s)
		WHERE key = NEW.key;
	END;

	CREATE TRIGGER IF NOT EXISTS %[1]s_version_update
	AFTER UPDATE OF key, value, value_type, updated_at ON %[1]s
	BEGIN
		UPDATE %[1]s SET version = (SELECT COALESCE(MAX(version), 0) + 1 FROM %[1]s)
		WHERE key = NEW.key;
	END;
	`, s.config.Table))
	return err
}

// Install registers the store with m.
func (s *Store) Install(m *broker.Manager) error {
	return s.service.Install(m)
}

// Service returns the underlying provider service.
func (s *Store) Service() *provider.Service {
	return s.service
}

// Keys returns the keys the store owns, sorted.
func (s *Store) Keys() []string {
	return s.service.Keys().Keys()
}

// Close stops polling and closes the database.
func (s *Store) Close() error {
	s.stop()
	return s.db.Close()
}

// Put writes a row. It is how tools and tests update the table; the value
// reaches subscribers at the next poll. Keys that were not present when the
// store was opened are stored but not provided.
func (s *Store) Put(ctx context.Context, key string, v value.Value) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (key, value, value_type, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			value_type = excluded.value_type,
			updated_at = excluded.updated_at
	`, s.config.Table), key, encodeText(v), v.Kind().String(), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

// Poll reads the rows changed since the last poll and publishes them. It
// returns how many rows were read.
func (s *Store) Poll(ctx context.Context) (int, error) {
	s.mu.Lock()
	since := s.lastVersion
	s.mu.Unlock()

	rows, err := s.changedSince(ctx, since)
	if err != nil {
		return 0, err
	}
	s.apply(rows)
	return len(rows), nil
}

func (s *Store) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.poll(ctx, s.done)
	s.logger.Debug("polling table", "interval", s.config.PollInterval)
}

func (s *Store) stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Debug("stopped polling table")
}

// Polling reports whether the table is being polled.
func (s *Store) Polling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Store) poll(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := s.Poll(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("failed to poll table", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// row is one table row.
type row struct {
	Key     string
	Value   value.Value
	Version int64
}

func (s *Store) changedSince(ctx context.Context, since int64) ([]row, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT key, value, value_type, version
		FROM %s
		WHERE version > ?
		ORDER BY version
	`, s.config.Table), since)
	if err != nil {
		return nil, fmt.Errorf("failed to query table: %w", err)
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var (
			r        row
			text     sql.NullString
			typeName string
		)
		if err := rows.Scan(&r.Key, &text, &typeName, &r.Version); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Value, err = decodeText(typeName, text)
		if err != nil {
			s.logger.Warn("unreadable value, treating as undetermined", "key", r.Key, "error", err)
			r.Value = value.Absent()
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return out, nil
}

// apply stores rows in their properties and advances lastVersion. Rows for keys
// the store does not own are skipped.
func (s *Store) apply(rows []row) {
	if len(rows) == 0 {
		return
	}
	for _, r := range rows {
		p, err := s.service.Property(r.Key)
		if err != nil {
			s.logger.Debug("skipping key added after open", "key", r.Key)
			continue
		}
		if err := p.Set(r.Value); err != nil {
			s.logger.Error("failed to publish property", "key", r.Key, "error", err)
		}
	}

	s.mu.Lock()
	s.lastVersion = max(s.lastVersion, rows[len(rows)-1].Version)
	s.mu.Unlock()
}

func encodeText(v value.Value) any {
	switch v.Kind() {
	case value.KindInt:
		i, _ := v.AsInt()
		return strconv.FormatInt(i, 10)
	case value.KindDouble:
		f, _ := v.AsDouble()
		return strconv.FormatFloat(f, 'g', -1, 64)
	case value.KindBool:
		b, _ := v.AsBool()
		return strconv.FormatBool(b)
	case value.KindString:
		str, _ := v.AsString()
		return str
	}
	return nil
}

func decodeText(typeName string, text sql.NullString) (value.Value, error) {
	kind, err := value.ParseKind(typeName)
	if err != nil {
		return value.Value{}, err
	}
	if kind == value.KindAbsent || !text.Valid {
		return value.Absent(), nil
	}
	return value.Parse(kind, text.String)
}
