package mgo

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"telechat/data/mongoutil"
)

// Manager keeps a process-wide Mongo client alive: connect with backoff,
// periodic health checks, reconnect on sustained ping failures. Ready() is
// closed once after the first successful connect.
type Manager struct {
	mu        sync.RWMutex
	client    *mongoutil.Client
	readyCh   chan struct{}
	readyOnce sync.Once

	lastErr atomic.Value // error
}

var globalMgr = Manager{readyCh: make(chan struct{})}

func GlobalManager() *Manager { return &globalMgr }

// StartAsync runs until ctx is done, maintaining the connection in the
// background.
func StartAsync(ctx context.Context, cfg *mongoutil.Config) {
	go globalMgr.run(ctx, cfg)
}

func (m *Manager) run(ctx context.Context, cfg *mongoutil.Config) {
	const (
		baseBackoff = 200 * time.Millisecond
		maxBackoff  = 5 * time.Second
		healthEvery = 10 * time.Second
		failThresh  = 3
	)

	for {
		// connect phase, exponential backoff with jitter
		attempt := 0
		for {
			if ctx.Err() != nil {
				return
			}
			cli, err := mongoutil.Connect(ctx, cfg)
			if err == nil {
				m.mu.Lock()
				m.client = cli
				m.mu.Unlock()
				m.readyOnce.Do(func() { close(m.readyCh) })
				break
			}
			m.lastErr.Store(err)

			backoff := baseBackoff << attempt
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			jitter := time.Duration(rand.Int63n(int64(backoff/5) + 1))
			timer := time.NewTimer(backoff - jitter/2)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			if attempt < 6 {
				attempt++
			}
		}

		// health phase: consecutive ping failures drop us back to connect
		fail := 0
		tick := time.NewTicker(healthEvery)
	health:
		for {
			select {
			case <-ctx.Done():
				tick.Stop()
				m.disconnect()
				return
			case <-tick.C:
				m.mu.RLock()
				c := m.client
				m.mu.RUnlock()
				if c == nil {
					break health
				}
				if err := c.DB().Client().Ping(ctx, nil); err != nil {
					fail++
					m.lastErr.Store(err)
					if fail >= failThresh {
						m.disconnect()
						break health
					}
				} else {
					fail = 0
				}
			}
		}
		tick.Stop()
	}
}

func (m *Manager) disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		_ = m.client.Disconnect(context.Background())
		m.client = nil
	}
}

// Ready is closed after the first successful connect.
func Ready() <-chan struct{} { return globalMgr.readyCh }

// Err reports the most recent connection error.
func Err() error {
	if v := globalMgr.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func WaitReady(ctx context.Context) error {
	globalMgr.mu.RLock()
	connected := globalMgr.client != nil
	globalMgr.mu.RUnlock()
	if connected {
		return nil
	}
	select {
	case <-globalMgr.readyCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for mongo: %w", ctx.Err())
	}
}

// GetDB panics when called before Ready; gate startup on WaitReady.
func GetDB() *mongo.Database {
	globalMgr.mu.RLock()
	defer globalMgr.mu.RUnlock()
	if globalMgr.client == nil {
		panic("mongo not ready: wait on Ready() first")
	}
	return globalMgr.client.DB()
}

func TryGetDB() (*mongo.Database, bool) {
	globalMgr.mu.RLock()
	defer globalMgr.mu.RUnlock()
	if globalMgr.client == nil {
		return nil, false
	}
	return globalMgr.client.DB(), true
}
