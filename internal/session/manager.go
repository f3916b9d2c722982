// Package session tracks the client's authentication session.
//
// States move Unknown → {Authenticated, Anonymous} at startup, then
// between Authenticated and Anonymous on login, logout, inactivity and
// refresh failure. Every transition re-runs the route guard and notifies
// listeners.
//
// The Manager is the only writer of the session mirror and the activity
// clock.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/captured-thinkings/internal/apperror"
	"github.com/sakif/captured-thinkings/internal/model"
)

const (
	// RefreshInterval is the period of the background refresh.
	RefreshInterval = 5 * time.Minute

	// InactivityTimeout ends a session with no recorded activity.
	InactivityTimeout = 10 * time.Minute
)

type State int

const (
	Unknown State = iota
	Authenticated
	Anonymous
)

func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Anonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Remote is the auth half of the remote store client.
type Remote interface {
	SignIn(ctx context.Context, email, password string) (*model.Session, error)
	SignOut(ctx context.Context) error
	GetSession(ctx context.Context) (*model.Session, error)
	RefreshSession(ctx context.Context) (*model.Session, error)
	SetSession(s *model.Session)
}

// Listener is called after every state transition, outside the lock.
type Listener func(state State, route string)

type Manager struct {
	remote   Remote
	mirror   *Mirror
	activity *Activity
	logger   *slog.Logger
	now      func() time.Time

	refreshInterval   time.Duration
	inactivityTimeout time.Duration

	// changeMu serializes session changes with their mirror writes, so a
	// cleared mirror is never rewritten by an older change.
	changeMu sync.Mutex

	mu        sync.Mutex
	state     State
	session   *model.Session
	route     string
	listeners []Listener
	// epoch counts transitions; a refresh started in one epoch is stale
	// in the next.
	epoch uint64

	// scheduler
	running bool
	runCtx  context.Context
	stopRun context.CancelFunc
	runDone chan struct{}
}

// Options configure a Manager. Zero values take the package defaults.
type Options struct {
	Dir               string
	Secret            []byte
	Now               func() time.Time
	RefreshInterval   time.Duration
	InactivityTimeout time.Duration
}

func NewManager(remote Remote, opts Options, logger *slog.Logger) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	m := &Manager{
		remote:            remote,
		mirror:            NewMirror(opts.Dir, opts.Secret, now),
		activity:          NewActivity(opts.Dir, now),
		logger:            logger,
		now:               now,
		refreshInterval:   RefreshInterval,
		inactivityTimeout: InactivityTimeout,
		state:             Unknown,
		route:             "/",
	}
	if opts.RefreshInterval > 0 {
		m.refreshInterval = opts.RefreshInterval
	}
	if opts.InactivityTimeout > 0 {
		m.inactivityTimeout = opts.InactivityTimeout
	}
	return m
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a copy of the current session, or nil when not
// authenticated.
func (m *Manager) Session() *model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Authenticated || m.session == nil {
		return nil
	}
	s := *m.session
	return &s
}

// Route is the current route after the guard has run.
func (m *Manager) Route() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.route
}

// OnChange registers a listener for state transitions.
func (m *Manager) OnChange(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Navigate requests a route and returns where the guard actually lands.
func (m *Manager) Navigate(path string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.route = Guard(m.state, path)
	return m.route
}

// CheckSession resolves the Unknown state at startup. A fresh local
// mirror is trusted as is; otherwise the remote store is asked. Failure
// or inactivity clears the local copies.
func (m *Manager) CheckSession(ctx context.Context) (State, error) {
	if m.inactive() {
		m.logger.Info("session expired while idle")
		m.expire()
		return Anonymous, nil
	}

	cached, fresh, err := m.mirror.Load()
	if err != nil {
		m.logger.Warn("reading session mirror", "error", err)
	}
	if cached != nil && fresh && !cached.Expired(m.now()) {
		m.remote.SetSession(cached)
		m.authenticate(cached)
		return Authenticated, nil
	}
	if cached != nil {
		// Stale mirror: let the remote store decide whether it still holds.
		m.remote.SetSession(cached)
	}

	sess, err := m.remote.GetSession(ctx)
	if err != nil || sess == nil {
		m.expire()
		if err != nil {
			return Anonymous, fmt.Errorf("session: checking remote session: %w", err)
		}
		return Anonymous, nil
	}
	if err := m.activity.Touch(); err != nil {
		m.logger.Warn("recording activity", "error", err)
	}
	m.authenticate(sess)
	return Authenticated, nil
}

// Login signs in, resets the activity clock and caches the session.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	sess, err := m.remote.SignIn(ctx, email, password)
	if err != nil {
		if errors.Is(err, apperror.ErrAuth) {
			m.expire()
		}
		return err
	}
	if err := m.activity.Touch(); err != nil {
		m.logger.Warn("recording activity", "error", err)
	}
	m.authenticate(sess)
	m.logger.Info("signed in", "user_id", sess.User.ID)
	return nil
}

// Logout signs out remotely on a best-effort basis, then clears every
// local trace of the session and leaves the admin area.
func (m *Manager) Logout(ctx context.Context) {
	if err := m.remote.SignOut(ctx); err != nil {
		m.logger.Warn("remote sign-out failed", "error", err)
	}
	m.mu.Lock()
	if IsAdminRoute(m.route) {
		m.route = "/"
	}
	m.mu.Unlock()
	m.expire()
	m.logger.Info("signed out")
}

// Require is called before every protected operation. It enforces the
// inactivity timeout first, then records the activity.
func (m *Manager) Require(ctx context.Context) (*model.Session, error) {
	if m.State() != Authenticated {
		return nil, apperror.Unauthenticated("")
	}
	if m.inactive() {
		m.logger.Info("session expired due to inactivity")
		m.expire()
		return nil, apperror.Unauthenticated("session expired due to inactivity")
	}
	if err := m.activity.Touch(); err != nil {
		m.logger.Warn("recording activity", "error", err)
	}
	return m.Session(), nil
}

// Invalidate drops the session when err is an auth error, so a rejected
// token never lingers locally.
func (m *Manager) Invalidate(err error) {
	if errors.Is(err, apperror.ErrAuth) && m.State() == Authenticated {
		m.logger.Warn("remote store rejected the session", "error", err)
		m.expire()
	}
}

// Tick runs one round of the periodic refresh.
//
// WHY THE EPOCH CHECK?
// RefreshSession can take seconds. If the user logs out (or logs in as
// someone else) meanwhile, applying the late answer would resurrect a
// session that was just cleared and rewrite its mirror. The answer is only
// applied when no transition happened while it was in flight; otherwise the
// remote client is pointed back at whatever session is current.
func (m *Manager) Tick(ctx context.Context) {
	m.mu.Lock()
	state, epoch := m.state, m.epoch
	m.mu.Unlock()
	if state != Authenticated {
		return
	}
	if m.inactive() {
		m.logger.Info("session expired due to inactivity")
		m.expire()
		return
	}

	sess, err := m.remote.RefreshSession(ctx)

	m.changeMu.Lock()
	m.mu.Lock()
	stale := m.epoch != epoch
	m.mu.Unlock()
	if stale {
		m.remote.SetSession(m.Session())
		m.changeMu.Unlock()
		m.logger.Debug("dropped refresh for a replaced session")
		return
	}
	if err != nil && ctx.Err() != nil {
		// Stopped mid-refresh; the session itself is still good.
		m.changeMu.Unlock()
		return
	}
	var notify func()
	if err != nil || sess == nil {
		m.logger.Warn("session refresh failed", "error", err)
		notify = m.expireLocked()
	} else {
		notify = m.authenticateLocked(sess)
	}
	m.changeMu.Unlock()
	notify()
}

// Start enables the periodic refresh. The ticker only runs while
// authenticated; it is torn down on logout and set up again on login.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.runCtx = ctx
	if m.state == Authenticated {
		m.startTickerLocked(ctx)
	}
}

// Stop disables the periodic refresh and waits for it to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.running = false
	done := m.stopTickerLocked()
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (m *Manager) startTickerLocked(ctx context.Context) {
	if m.stopRun != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.stopRun, m.runDone = cancel, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Tick(ctx)
			}
		}
	}()
}

func (m *Manager) stopTickerLocked() <-chan struct{} {
	if m.stopRun == nil {
		return nil
	}
	m.stopRun()
	done := m.runDone
	m.stopRun, m.runDone = nil, nil
	return done
}

func (m *Manager) inactive() bool {
	last, ok := m.activity.Last()
	return ok && m.now().Sub(last) > m.inactivityTimeout
}

func (m *Manager) authenticate(sess *model.Session) {
	m.changeMu.Lock()
	notify := m.authenticateLocked(sess)
	m.changeMu.Unlock()
	notify()
}

// expire moves to Anonymous and clears the mirror, the activity clock and
// the remote client's session. It never contacts the remote store.
func (m *Manager) expire() {
	m.changeMu.Lock()
	notify := m.expireLocked()
	m.changeMu.Unlock()
	notify()
}

// authenticateLocked and expireLocked run with changeMu held. They return
// the listener notification, which must run after changeMu is released.
func (m *Manager) authenticateLocked(sess *model.Session) func() {
	if err := m.mirror.Save(sess); err != nil {
		m.logger.Warn("caching session", "error", err)
	}
	cp := *sess
	return m.transition(Authenticated, &cp)
}

func (m *Manager) expireLocked() func() {
	if err := m.mirror.Clear(); err != nil {
		m.logger.Warn("clearing session mirror", "error", err)
	}
	if err := m.activity.Clear(); err != nil {
		m.logger.Warn("clearing activity clock", "error", err)
	}
	m.remote.SetSession(nil)
	return m.transition(Anonymous, nil)
}

func (m *Manager) transition(next State, sess *model.Session) func() {
	m.mu.Lock()
	prev := m.state
	m.state = next
	m.session = sess
	m.epoch++
	m.route = Guard(next, m.route)
	route := m.route

	// The scheduler follows the session. Stopping from the ticker's own
	// goroutine must not wait for itself, so the done channel is dropped.
	if next == Authenticated && m.running {
		m.startTickerLocked(m.runCtx)
	} else if next != Authenticated {
		m.stopTickerLocked()
	}
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	return func() {
		if prev != next {
			m.logger.Debug("session state changed", "from", prev.String(), "to", next.String(), "route", route)
		}
		for _, l := range listeners {
			l(next, route)
		}
	}
}
