package session

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/chillingspace/CSD2161-A4/internal/protocol"
)

var (
	// ErrTableFull is returned when every session id is taken
	ErrTableFull = errors.New("session table full")

	// ErrEmptyName is returned for a join request without a display name
	ErrEmptyName = errors.New("empty display name")

	// ErrNameTooLong is returned when a name does not fit the wire length prefix
	ErrNameTooLong = errors.New("display name too long")

	// ErrAddressInUse is returned when the address already owns a session
	ErrAddressInUse = errors.New("address already has a session")
)

// Session is a connected player
type Session struct {
	ID       uint8          `json:"id"`
	Name     string         `json:"name"`
	Addr     netip.AddrPort `json:"address"`
	JoinedAt time.Time      `json:"joined_at"`
	LastSeen time.Time      `json:"last_seen"`
}

// Age returns how long the session has been silent at now
func (s Session) Age(now time.Time) time.Duration {
	return now.Sub(s.LastSeen)
}

// Table holds every live session keyed by id
type Table struct {
	sessions   map[uint8]*Session
	mu         sync.Mutex
	logger     *slog.Logger
	maxPlayers int
	timeout    time.Duration

	now func() time.Time
}

// NewTable creates a table with room for maxPlayers sessions. Sessions silent
// for longer than timeout are removed by Sweep.
func NewTable(logger *slog.Logger, maxPlayers int, timeout time.Duration) *Table {
	return &Table{
		sessions:   make(map[uint8]*Session),
		logger:     logger,
		maxPlayers: maxPlayers,
		timeout:    timeout,
		now:        time.Now,
	}
}

// Admit allocates the lowest free id for a new player. onAdmit runs with the
// table locked and may veto the admission by returning an error, in which case
// nothing is recorded.
func (t *Table) Admit(name string, addr netip.AddrPort, onAdmit func(id uint8) error) (Session, error) {
	if name == "" {
		return Session{}, ErrEmptyName
	}
	if len(name) > protocol.MaxStringLen {
		return Session{}, fmt.Errorf("%w: %d bytes", ErrNameTooLong, len(name))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.sessions {
		if s.Addr == addr {
			return Session{}, fmt.Errorf("%w: %s is session %d", ErrAddressInUse, addr, s.ID)
		}
	}

	if len(t.sessions) >= t.maxPlayers {
		return Session{}, ErrTableFull
	}

	id, ok := t.lowestFreeID()
	if !ok {
		return Session{}, ErrTableFull
	}

	if onAdmit != nil {
		if err := onAdmit(id); err != nil {
			return Session{}, err
		}
	}

	now := t.now()
	session := &Session{
		ID:       id,
		Name:     name,
		Addr:     addr,
		JoinedAt: now,
		LastSeen: now,
	}
	t.sessions[id] = session

	t.logger.Info("Session admitted",
		slog.Int("session_id", int(id)),
		slog.String("name", name),
		slog.String("address", addr.String()),
		slog.Int("active_sessions", len(t.sessions)),
	)

	return *session, nil
}

func (t *Table) lowestFreeID() (uint8, bool) {
	for id := 0; id < t.maxPlayers && id <= 0xFF; id++ {
		if _, taken := t.sessions[uint8(id)]; !taken {
			return uint8(id), true
		}
	}
	return 0, false
}

// Touch refreshes the session's last seen time if addr is the session's address
func (t *Table) Touch(id uint8, addr netip.AddrPort) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, exists := t.sessions[id]
	if !exists || session.Addr != addr {
		return false
	}
	session.LastSeen = t.now()
	return true
}

// Evict removes the session and runs onEvict with the table still locked.
// It reports false if the session was already gone.
func (t *Table) Evict(id uint8, onEvict func(id uint8)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, exists := t.sessions[id]
	if !exists {
		return false
	}
	t.removeLocked(session, onEvict)
	return true
}

// Sweep evicts every session that has been silent longer than the keep-alive
// timeout and returns them
func (t *Table) Sweep(now time.Time, onEvict func(id uint8)) []Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []Session
	for _, session := range t.sessions {
		if session.Age(now) > t.timeout {
			expired = append(expired, *session)
		}
	}
	if len(expired) == 0 {
		return nil
	}

	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })

	t.logger.Info("Cleaning up expired sessions",
		slog.Int("expired_count", len(expired)),
	)

	for i := range expired {
		t.removeLocked(t.sessions[expired[i].ID], onEvict)
	}
	return expired
}

func (t *Table) removeLocked(session *Session, onEvict func(id uint8)) {
	delete(t.sessions, session.ID)
	if onEvict != nil {
		onEvict(session.ID)
	}

	t.logger.Info("Session removed",
		slog.Int("session_id", int(session.ID)),
		slog.String("name", session.Name),
		slog.String("address", session.Addr.String()),
		slog.Duration("duration", t.now().Sub(session.JoinedAt)),
	)
}

// Lookup returns the address of a live session
func (t *Table) Lookup(id uint8) (netip.AddrPort, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, exists := t.sessions[id]
	if !exists {
		return netip.AddrPort{}, false
	}
	return session.Addr, true
}

// Get returns a copy of a live session
func (t *Table) Get(id uint8) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, exists := t.sessions[id]
	if !exists {
		return Session{}, false
	}
	return *session, true
}

// LookupByAddr finds the session owned by addr
func (t *Table) LookupByAddr(addr netip.AddrPort) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, session := range t.sessions {
		if session.Addr == addr {
			return *session, true
		}
	}
	return Session{}, false
}

// List returns copies of all live sessions ordered by id
func (t *Table) List() []Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	sessions := make([]Session, 0, len(t.sessions))
	for _, session := range t.sessions {
		sessions = append(sessions, *session)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions
}

// Addresses returns the address of every live session
func (t *Table) Addresses() []netip.AddrPort {
	t.mu.Lock()
	defer t.mu.Unlock()

	addrs := make([]netip.AddrPort, 0, len(t.sessions))
	for _, session := range t.sessions {
		addrs = append(addrs, session.Addr)
	}
	return addrs
}

// Count returns the number of live sessions
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Capacity returns the maximum number of concurrent sessions
func (t *Table) Capacity() int {
	return t.maxPlayers
}
