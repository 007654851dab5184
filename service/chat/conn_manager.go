package chat

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"telechat/module/identity"
	"telechat/tools/errs"
)

const writeDeadline = 5 * time.Second

// Handle is the writable side of a live connection. *websocket.Conn satisfies
// it; tests register fakes.
type Handle interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ManagerConf is the idle policy for registered connections. TTL is
// configurable policy, not protocol.
type ManagerConf struct {
	AuthTTL    time.Duration    // idle lifetime of a registered connection
	SweepEvery time.Duration    // sweeper period
	PingEvery  time.Duration    // server ping period, keeps pong heartbeats flowing
	Clock      func() time.Time // injectable for tests; nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.AuthTTL <= 0 {
		c.AuthTTL = 2 * time.Hour
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
	if c.PingEvery <= 0 {
		c.PingEvery = 30 * time.Second
	}
}

// Conn is one registered live connection.
type Conn struct {
	ConnID      string
	IdentityID  string
	Class       identity.Class
	DisplayName string

	handle Handle
	wmu    sync.Mutex // serializes writes; fan-out hits a conn from many goroutines

	CreatedAt time.Time
	Heartbeat time.Time
	ExpireAt  time.Time
}

// WriteJSON marshals v and pushes it down the socket under the write lock.
func (c *Conn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errs.Wrap(err, "marshal frame")
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.handle.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return err
	}
	return c.handle.WriteMessage(websocket.TextMessage, data)
}

// ConnManager is the process-local connection registry: identity -> the one
// live connection. It is the only shared mutable state in the messaging core,
// so every access goes through the mutex. It holds routing state only; it
// never touches the durable stores.
type ConnManager struct {
	mu    sync.RWMutex
	conns map[string]*Conn // identityID -> newest connection

	conf     ManagerConf
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewConnManager(conf ManagerConf) *ConnManager {
	conf.norm()
	m := &ConnManager{
		conns:  make(map[string]*Conn),
		conf:   conf,
		stopCh: make(chan struct{}),
	}
	go m.sweeper()
	return m
}

// Register records identityID's live connection. A second registration for
// the same identity silently replaces the first: last writer wins as the
// delivery target. The replaced handle is not closed here; its own read loop
// notices the transport closing and unregisters itself.
func (m *ConnManager) Register(identityID string, class identity.Class, displayName, connID string, h Handle) *Conn {
	now := m.conf.Clock()
	c := &Conn{
		ConnID:      connID,
		IdentityID:  identityID,
		Class:       class,
		DisplayName: displayName,
		handle:      h,
		CreatedAt:   now,
		Heartbeat:   now,
		ExpireAt:    now.Add(m.conf.AuthTTL),
	}
	m.mu.Lock()
	m.conns[identityID] = c
	m.mu.Unlock()
	return c
}

// Lookup returns the current live connection for identityID, if any.
func (m *ConnManager) Lookup(identityID string) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[identityID]
	return c, ok
}

// Unregister removes identityID's entry, but only when it still refers to
// connID. A replaced connection closing late must not evict its successor.
func (m *ConnManager) Unregister(identityID, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.conns[identityID]; ok && cur.ConnID == connID {
		delete(m.conns, identityID)
	}
}

// RefreshHeartbeat extends the idle deadline of identityID's connection when
// it still refers to connID.
func (m *ConnManager) RefreshHeartbeat(identityID, connID string) {
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.conns[identityID]; ok && cur.ConnID == connID {
		cur.Heartbeat = now
		cur.ExpireAt = now.Add(m.conf.AuthTTL)
	}
}

// AttachPongHandler renews the idle deadline on every websocket pong. Pongs
// only flow because the gateway's ping loop sends periodic pings.
func (m *ConnManager) AttachPongHandler(ws *websocket.Conn, identityID, connID string) {
	ws.SetPongHandler(func(string) error {
		m.RefreshHeartbeat(identityID, connID)
		return nil
	})
}

func (m *ConnManager) IsOnline(identityID string) bool {
	_, ok := m.Lookup(identityID)
	return ok
}

func (m *ConnManager) OnlineCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Close stops the sweeper and closes every registered handle.
func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conns {
		_ = c.handle.Close()
	}
	m.conns = make(map[string]*Conn)
}

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-t.C:
			m.sweepOnce(now)
		}
	}
}

// sweepOnce drops and closes connections idle past their TTL. Handles are
// closed outside the lock.
func (m *ConnManager) sweepOnce(now time.Time) {
	var expired []*Conn
	m.mu.Lock()
	for id, c := range m.conns {
		if now.After(c.ExpireAt) {
			delete(m.conns, id)
			expired = append(expired, c)
		}
	}
	m.mu.Unlock()

	for _, c := range expired {
		_ = c.handle.Close()
	}
}
