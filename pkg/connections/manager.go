package connections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dukex/refreshd/pkg/models"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultTTL          = 30 * time.Minute
	DefaultProbeTimeout = 10 * time.Second
	DefaultMaxRows      = 1000
)

// Opener opens a database handle. sqlx.Open does not dial, so handles are
// established lazily on first use.
type Opener func(driverName, dsn string) (*sqlx.DB, error)

// Config tunes the pool.
type Config struct {
	// TTL evicts entries idle for longer. Zero disables idle eviction.
	TTL          time.Duration
	ProbeTimeout time.Duration
	MaxRows      int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TTL:          DefaultTTL,
		ProbeTimeout: DefaultProbeTimeout,
		MaxRows:      DefaultMaxRows,
	}
}

type entry struct {
	dataSourceID     string
	connectionString string
	dialect          Dialect
	db               *sqlx.DB
	lastUsed         time.Time
}

// EntryStatus describes one pooled data source.
type EntryStatus struct {
	DataSourceID    string                `json:"dataSourceId"`
	Type            models.DataSourceType `json:"type"`
	LastUsed        time.Time             `json:"lastUsed"`
	OpenConnections int                   `json:"openConnections"`
	InUse           int                   `json:"inUse"`
}

// Manager pools one database handle per data source id.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool

	config Config
	opener Opener
	clock  clockwork.Clock
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithOpener replaces sqlx.Open.
func WithOpener(opener Opener) Option {
	return func(m *Manager) { m.opener = opener }
}

// WithClock replaces the wall clock used for idle tracking.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// NewManager creates an empty pool.
func NewManager(logger *slog.Logger, config Config, opts ...Option) *Manager {
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = DefaultProbeTimeout
	}

	if config.MaxRows <= 0 {
		config.MaxRows = DefaultMaxRows
	}

	m := &Manager{
		entries: make(map[string]*entry),
		config:  config,
		opener:  sqlx.Open,
		clock:   clockwork.NewRealClock(),
		logger:  logger.With("module", "connections"),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// GetConnection returns the pooled handle for dataSourceID, opening it on
// first use. A different connection string or type for the same id closes
// the old handle and opens a new one.
func (m *Manager) GetConnection(_ context.Context, dataSourceID string, dataSourceType models.DataSourceType, connectionString string) (*Connection, error) {
	dialect, err := DialectFor(dataSourceType)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}

	now := m.clock.Now()
	m.evictIdleLocked(now)

	current, ok := m.entries[dataSourceID]
	if ok && (current.connectionString != connectionString || current.dialect.Type != dataSourceType) {
		m.logger.Info("connection settings changed, replacing pooled connection", "data_source_id", dataSourceID)
		m.evictLocked(current)

		ok = false
	}

	if !ok {
		current, err = m.open(dataSourceID, dialect, connectionString)
		if err != nil {
			return nil, err
		}

		m.entries[dataSourceID] = current
	}

	current.lastUsed = now

	return &Connection{
		dataSourceID: dataSourceID,
		dialect:      current.dialect,
		db:           current.db,
		probeTimeout: m.config.ProbeTimeout,
		maxRows:      m.config.MaxRows,
	}, nil
}

func (m *Manager) open(dataSourceID string, dialect Dialect, connectionString string) (*entry, error) {
	dsn, err := dialect.DSN(connectionString)
	if err != nil {
		return nil, unreachable(err)
	}

	db, err := m.opener(dialect.DriverName, dsn)
	if err != nil {
		return nil, unreachable(fmt.Errorf("failed to open %s connection: %w", dialect.Type, err))
	}

	if dialect.MaxOpenConns > 0 {
		db.SetMaxOpenConns(dialect.MaxOpenConns)
	}

	m.logger.Debug("opened pooled connection", "data_source_id", dataSourceID, "type", dialect.Type)

	return &entry{
		dataSourceID:     dataSourceID,
		connectionString: connectionString,
		dialect:          dialect,
		db:               db,
	}, nil
}

// Evict closes and forgets the handle of dataSourceID, if pooled.
func (m *Manager) Evict(dataSourceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.entries[dataSourceID]; ok {
		m.evictLocked(current)
	}
}

// Sweep evicts idle entries and returns how many were closed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.evictIdleLocked(m.clock.Now())
}

// Run sweeps idle entries every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if evicted := m.Sweep(); evicted > 0 {
				m.logger.Info("evicted idle connections", "count", evicted)
			}
		}
	}
}

// Status lists pooled entries ordered by data source id.
func (m *Manager) Status() []EntryStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]EntryStatus, 0, len(m.entries))

	for _, e := range m.entries {
		stats := e.db.Stats()
		out = append(out, EntryStatus{
			DataSourceID:    e.dataSourceID,
			Type:            e.dialect.Type,
			LastUsed:        e.lastUsed,
			OpenConnections: stats.OpenConnections,
			InUse:           stats.InUse,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].DataSourceID < out[j].DataSourceID })

	return out
}

// Len returns the number of pooled entries.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}

// Close closes every pooled handle. GetConnection fails afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	var errs []error

	for _, e := range m.entries {
		if err := e.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection %s: %w", e.dataSourceID, err))
		}

		delete(m.entries, e.dataSourceID)
	}

	return errors.Join(errs...)
}

func (m *Manager) evictIdleLocked(now time.Time) int {
	if m.config.TTL <= 0 {
		return 0
	}

	evicted := 0

	for _, e := range m.entries {
		if now.Sub(e.lastUsed) > m.config.TTL {
			m.evictLocked(e)

			evicted++
		}
	}

	return evicted
}

func (m *Manager) evictLocked(e *entry) {
	delete(m.entries, e.dataSourceID)

	if err := e.db.Close(); err != nil {
		m.logger.Error("failed to close pooled connection", "data_source_id", e.dataSourceID, "error", err)
	}
}
