package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/book-expert/fileconv-service/internal/flow"
)

// session is one browser's workspace plus the alerts it has not seen yet.
type session struct {
	lastSeen  time.Time
	workspace *flow.Workspace
	id        string
	alerts    []string
	mu        sync.Mutex
}

// Alert implements flow.Notifier by queueing a flash message.
func (sess *session) Alert(message string) {
	sess.mu.Lock()
	sess.alerts = append(sess.alerts, message)
	sess.mu.Unlock()
}

// takeAlerts returns and forgets the queued alerts.
func (sess *session) takeAlerts() []string {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	alerts := sess.alerts
	sess.alerts = nil

	return alerts
}

func (sess *session) touch(now time.Time) {
	sess.mu.Lock()
	sess.lastSeen = now
	sess.mu.Unlock()
}

func (sess *session) idleSince(now time.Time) time.Duration {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	return now.Sub(sess.lastSeen)
}

type sessionStore struct {
	factory  WorkspaceFactory
	sessions map[string]*session
	now      func() time.Time
	ttl      time.Duration
	mu       sync.Mutex
}

func newSessionStore(factory WorkspaceFactory, ttl time.Duration) *sessionStore {
	return &sessionStore{
		factory:  factory,
		sessions: make(map[string]*session),
		now:      time.Now,
		ttl:      ttl,
	}
}

// find returns the live session with id without creating one.
func (store *sessionStore) find(id string) (*session, bool) {
	store.mu.Lock()
	sess, ok := store.sessions[id]
	store.mu.Unlock()

	if ok {
		sess.touch(store.now())
	}

	return sess, ok
}

// detached returns a fresh session that is not registered, for requests that
// must not start a session.
func (store *sessionStore) detached() *session {
	sess := &session{lastSeen: store.now()}
	sess.workspace = store.factory("", sess)

	return sess
}

// lookup returns the live session with id, or creates a new one when id is
// unknown. The second result reports whether a session was created.
func (store *sessionStore) lookup(id string) (*session, bool) {
	if sess, ok := store.find(id); ok {
		return sess, false
	}

	sess := &session{id: uuid.New().String(), lastSeen: store.now()}
	sess.workspace = store.factory(sess.id, sess)

	store.mu.Lock()
	store.sessions[sess.id] = sess
	store.mu.Unlock()

	return sess, true
}

// reapIdle closes the sessions idle for longer than the TTL.
func (store *sessionStore) reapIdle(ctx context.Context, now time.Time) (int, error) {
	var idle []*session

	store.mu.Lock()
	for id, sess := range store.sessions {
		if sess.idleSince(now) > store.ttl {
			idle = append(idle, sess)
			delete(store.sessions, id)
		}
	}
	store.mu.Unlock()

	return len(idle), closeSessions(ctx, idle)
}

func (store *sessionStore) closeAll(ctx context.Context) error {
	store.mu.Lock()
	all := make([]*session, 0, len(store.sessions))
	for _, sess := range store.sessions {
		all = append(all, sess)
	}

	store.sessions = make(map[string]*session)
	store.mu.Unlock()

	return closeSessions(ctx, all)
}

func (store *sessionStore) len() int {
	store.mu.Lock()
	defer store.mu.Unlock()

	return len(store.sessions)
}

func closeSessions(ctx context.Context, sessions []*session) error {
	var errs []error

	for _, sess := range sessions {
		errs = append(errs, sess.workspace.Close(ctx))
	}

	return errors.Join(errs...)
}
