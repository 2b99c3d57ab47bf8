package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cantrace/backend/internal/index"
	"github.com/cantrace/backend/internal/logger"
	"github.com/cantrace/backend/internal/models"
	"github.com/cantrace/backend/internal/parser"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	// ErrSessionNotFound is returned for unknown or expired session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnknownField is returned by SetField for names other than the
	// four free-form criteria.
	ErrUnknownField = errors.New("unknown criteria field")
	// ErrIndexDisabled is returned by Summary when no index directory is set.
	ErrIndexDisabled = errors.New("frame index disabled")
)

// Criteria field names accepted by SetField.
const (
	FieldPort        = "port"
	FieldAddress     = "address"
	FieldObjectIndex = "objectIndex"
	FieldSubIndex    = "subIndex"
)

// Defaults used when Config leaves a value zero.
const (
	DefaultMaxSessions     = 10
	DefaultKeepAliveWindow = 5 * time.Minute
)

// Config controls session limits and how each engine is built.
type Config struct {
	MaxSessions       int
	KeepAliveWindow   time.Duration
	EmptyText         parser.EmptyTextPolicy
	// MaxReportedErrors caps line errors per result; zero selects the
	// engine default and a negative value disables error details.
	MaxReportedErrors int
	// IndexDir enables the per-session DuckDB frame index when non-empty.
	IndexDir string
}

// Manager owns the live filter sessions. Each session has its own engine
// and lock; the map itself is guarded by mu.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
	cfg      Config
	log      *logger.Logger
}

type sessionState struct {
	mu           sync.Mutex
	session      models.FilterSession
	engine       *parser.Engine
	index        *index.FrameIndex
	indexStale   bool
	lastAccessed time.Time
}

// NewManager creates a session manager.
func NewManager(cfg Config, log *logger.Logger) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.KeepAliveWindow <= 0 {
		cfg.KeepAliveWindow = DefaultKeepAliveWindow
	}
	if cfg.EmptyText == "" {
		cfg.EmptyText = parser.EmptyTextClear
	}
	if cfg.MaxReportedErrors == 0 {
		cfg.MaxReportedErrors = parser.DefaultMaxReportedErrors
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		sessions: make(map[string]*sessionState),
		cfg:      cfg,
		log: log.With(func(c zerolog.Context) zerolog.Context {
			return c.Str("component", "session_manager")
		}),
	}
}

// StartSession creates a session holding text and runs the first filter
// pass. The oldest idle session is evicted when the manager is full.
func (m *Manager) StartSession(fileID, name, text string) (*models.FilterSession, error) {
	now := time.Now()
	st := &sessionState{
		session: models.FilterSession{
			ID:        uuid.New().String(),
			FileID:    fileID,
			Name:      name,
			CreatedAt: now,
			UpdatedAt: now,
		},
		lastAccessed: now,
	}
	st.engine = parser.NewEngine(
		parser.WithEmptyTextPolicy(m.cfg.EmptyText),
		parser.WithMaxReportedErrors(m.cfg.MaxReportedErrors),
		parser.WithListener(st.observe),
	)
	st.setText(text)

	m.mu.Lock()
	m.evictLocked()
	m.sessions[st.session.ID] = st
	m.mu.Unlock()

	m.log.Info().
		Str("session", st.session.ID).
		Str("file", fileID).
		Int("lines", st.session.LineCount).
		Str("layout", st.session.Layout).
		Msg("session started")

	snapshot := st.session
	return &snapshot, nil
}

// observe keeps the session counters in step with every engine emission.
// It runs inside an engine mutator, so st.mu is already held.
func (st *sessionState) observe(r parser.Result) {
	st.session.Layout = r.Layout.String()
	st.session.LineCount = r.Total
	st.session.MatchedCount = r.Matched
	st.session.MalformedCount = r.Malformed
	st.session.UpdatedAt = time.Now()
}

func (st *sessionState) setText(text string) {
	st.engine.SetText(text)
	st.session.Layout = st.engine.Layout().String()
	st.indexStale = true
	st.session.Indexed = false
}

// evictLocked frees room for one more session; m.mu must be held.
func (m *Manager) evictLocked() {
	if len(m.sessions) < m.cfg.MaxSessions {
		return
	}

	type aged struct {
		id   string
		last time.Time
	}
	all := make([]aged, 0, len(m.sessions))
	for id, st := range m.sessions {
		st.mu.Lock()
		all = append(all, aged{id, st.lastAccessed})
		st.mu.Unlock()
	}
	sort.Slice(all, func(i, j int) bool { return all[i].last.Before(all[j].last) })

	toFree := len(m.sessions) - m.cfg.MaxSessions + 1
	for _, a := range all[:toFree] {
		m.removeLocked(a.id)
		m.log.Info().Str("session", a.id).Msg("evicted oldest session")
	}
}

// removeLocked drops a session; m.mu must be held.
func (m *Manager) removeLocked(id string) {
	st, ok := m.sessions[id]
	if !ok {
		return
	}
	delete(m.sessions, id)

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.index != nil {
		if err := st.index.Close(); err != nil {
			m.log.Warn().Err(err).Str("session", id).Msg("closing frame index")
		}
		st.index = nil
	}
}

// CleanupOldSessions removes sessions not accessed within maxAge. Sessions
// touched inside the keep-alive window always survive.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-maxAge)
	keepAliveCutoff := now.Add(-m.cfg.KeepAliveWindow)

	removed := 0
	for id, st := range m.sessions {
		st.mu.Lock()
		last := st.lastAccessed
		st.mu.Unlock()

		if last.After(keepAliveCutoff) || !last.Before(cutoff) {
			continue
		}
		m.removeLocked(id)
		removed++
		m.log.Info().
			Str("session", id).
			Dur("idle", now.Sub(last).Round(time.Second)).
			Msg("cleaned up aged session")
	}
	return removed
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// lookup returns a locked session state; callers must unlock st.mu.
func (m *Manager) lookup(id string) (*sessionState, error) {
	m.mu.RLock()
	st, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrSessionNotFound, "id %s", id)
	}
	st.mu.Lock()
	st.lastAccessed = time.Now()
	return st, nil
}

// GetSession returns a snapshot of the session metadata.
func (m *Manager) GetSession(id string) (*models.FilterSession, bool) {
	st, err := m.lookup(id)
	if err != nil {
		return nil, false
	}
	defer st.mu.Unlock()

	snapshot := st.session
	snapshot.Criteria = st.engine.Criteria()
	return &snapshot, true
}

// TouchSession updates the last access time of a session.
func (m *Manager) TouchSession(id string) bool {
	st, err := m.lookup(id)
	if err != nil {
		return false
	}
	st.mu.Unlock()
	return true
}

// DeleteSession removes a session and its index.
func (m *Manager) DeleteSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return false
	}
	m.removeLocked(id)
	m.log.Info().Str("session", id).Msg("session deleted")
	return true
}

// DeleteByFile removes every session loaded from fileID.
func (m *Manager) DeleteByFile(fileID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, st := range m.sessions {
		st.mu.Lock()
		match := st.session.FileID == fileID
		st.mu.Unlock()
		if match {
			m.removeLocked(id)
			removed++
		}
	}
	return removed
}

// SetText replaces the document of a session.
func (m *Manager) SetText(id, text string) (parser.Result, error) {
	st, err := m.lookup(id)
	if err != nil {
		return parser.Result{}, err
	}
	defer st.mu.Unlock()

	st.setText(text)
	return st.engine.Result(), nil
}

// SetField replaces one free-form criteria string.
func (m *Manager) SetField(id, field, value string) (parser.Result, error) {
	var set func(*parser.Engine, string)
	switch field {
	case FieldPort:
		set = (*parser.Engine).SetPort
	case FieldAddress:
		set = (*parser.Engine).SetAddress
	case FieldObjectIndex:
		set = (*parser.Engine).SetObjectIndex
	case FieldSubIndex:
		set = (*parser.Engine).SetSubIndex
	default:
		return parser.Result{}, errors.Wrapf(ErrUnknownField, "%q", field)
	}

	st, err := m.lookup(id)
	if err != nil {
		return parser.Result{}, err
	}
	defer st.mu.Unlock()

	set(st.engine, value)
	return st.engine.Result(), nil
}

// AddType adds a packet type to the session's type filter.
func (m *Manager) AddType(id string, t models.PacketType) (parser.Result, error) {
	return m.withEngine(id, func(e *parser.Engine) error { return e.AddType(t) })
}

// RemoveType removes a packet type from the session's type filter.
func (m *Manager) RemoveType(id string, t models.PacketType) (parser.Result, error) {
	return m.withEngine(id, func(e *parser.Engine) error { return e.RemoveType(t) })
}

// SetCriteria replaces all filters of a session at once.
func (m *Manager) SetCriteria(id string, c models.FilterCriteria) (parser.Result, error) {
	return m.withEngine(id, func(e *parser.Engine) error { return e.SetCriteria(c) })
}

func (m *Manager) withEngine(id string, fn func(*parser.Engine) error) (parser.Result, error) {
	st, err := m.lookup(id)
	if err != nil {
		return parser.Result{}, err
	}
	defer st.mu.Unlock()

	if err := fn(st.engine); err != nil {
		return parser.Result{}, err
	}
	return st.engine.Result(), nil
}

// Criteria returns the active filters of a session.
func (m *Manager) Criteria(id string) (models.FilterCriteria, error) {
	st, err := m.lookup(id)
	if err != nil {
		return models.FilterCriteria{}, err
	}
	defer st.mu.Unlock()
	return st.engine.Criteria(), nil
}

// Result returns the latest filter output of a session.
func (m *Manager) Result(id string) (parser.Result, error) {
	st, err := m.lookup(id)
	if err != nil {
		return parser.Result{}, err
	}
	defer st.mu.Unlock()
	return st.engine.Result(), nil
}

// Subscribe forwards every future result of a session to fn. fn runs with
// the session locked and must not call back into the manager.
func (m *Manager) Subscribe(id string, fn parser.Listener) (unsubscribe func(), err error) {
	st, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	defer st.mu.Unlock()

	cancel := st.engine.Subscribe(fn)
	var once sync.Once
	return func() {
		once.Do(func() {
			st.mu.Lock()
			cancel()
			st.mu.Unlock()
		})
	}, nil
}

// Summary aggregates the session's frames through the DuckDB index,
// rebuilding it when the document changed since the last call.
func (m *Manager) Summary(ctx context.Context, id string) (*models.TraceSummary, error) {
	if m.cfg.IndexDir == "" {
		return nil, ErrIndexDisabled
	}

	st, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	defer st.mu.Unlock()

	if st.index == nil {
		x, err := index.NewFrameIndex(m.cfg.IndexDir, id, m.log)
		if err != nil {
			return nil, errors.Wrap(err, "opening frame index")
		}
		st.index = x
		st.indexStale = true
	}
	if st.indexStale {
		if err := st.index.Load(ctx, st.engine.Frames()); err != nil {
			return nil, errors.Wrap(err, "indexing frames")
		}
		st.indexStale = false
		st.session.Indexed = true
	}
	return st.index.Summary(ctx)
}

// Close removes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.sessions {
		m.removeLocked(id)
	}
}
