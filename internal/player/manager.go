package player

import (
	"sync"
)

const defaultEventBuffer = 64

type Options struct {
	Connector   Connector
	Provisioner Provisioner
	// Settings supplies the starting settings for a new session.
	Settings    func(guildID string) Settings
	EventBuffer int
}

// Manager owns every live session, keyed by guild.
type Manager struct {
	opts   Options
	events chan Event
	errs   chan ErrorRecord

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(opts Options) *Manager {
	n := opts.EventBuffer
	if n <= 0 {
		n = defaultEventBuffer
	}
	return &Manager{
		opts:     opts,
		events:   make(chan Event, n),
		errs:     make(chan ErrorRecord, n),
		sessions: make(map[string]*Session),
	}
}

// Events delivers session notifications. Events are dropped while the
// buffer is full.
func (m *Manager) Events() <-chan Event { return m.events }

// Errors delivers every recorded error, with the same drop semantics.
func (m *Manager) Errors() <-chan ErrorRecord { return m.errs }

func (m *Manager) GetOrCreate(guildID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	// a destroyed session may linger until its teardown forgets it
	if s, ok := m.sessions[guildID]; ok && !s.Destroyed() {
		return s
	}
	set := Settings{Volume: 1}
	if m.opts.Settings != nil {
		set = m.opts.Settings(guildID)
	}
	s := newSession(guildID, set, sessionDeps{
		connector:   m.opts.Connector,
		provisioner: m.opts.Provisioner,
		events:      m.events,
		errs:        m.errs,
		onDestroy:   m.forget,
	})
	m.sessions[guildID] = s
	return s
}

func (m *Manager) Peek(guildID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[guildID]
}

// Remove destroys the guild's session, if any.
func (m *Manager) Remove(guildID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[guildID]
	delete(m.sessions, guildID)
	m.mu.Unlock()
	if ok {
		s.Destroy()
	}
	return ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll destroys every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Destroy()
	}
}

func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[s.guildID]; ok && cur == s {
		delete(m.sessions, s.guildID)
	}
}
