package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/captured-thinkings/internal/apperror"
	"github.com/sakif/captured-thinkings/internal/model"
)

// fakeRemote is a hand-written Remote with scripted results.
type fakeRemote struct {
	mu sync.Mutex

	password   string
	session    *model.Session
	refreshErr error
	getErr     error
	signOutErr error

	signIns, signOuts, refreshes, gets int

	// When set, RefreshSession computes its answer, closes refreshStarted
	// and holds the answer until refreshGate is closed.
	refreshStarted chan struct{}
	refreshGate    chan struct{}
}

func (f *fakeRemote) SignIn(_ context.Context, email, password string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signIns++
	if password != f.password {
		return nil, apperror.InvalidCredentials()
	}
	f.session = &model.Session{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         model.User{ID: "u1", Email: email},
	}
	cp := *f.session
	return &cp, nil
}

func (f *fakeRemote) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOuts++
	f.session = nil
	return f.signOutErr
}

func (f *fakeRemote) GetSession(context.Context) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.session, nil
}

func (f *fakeRemote) RefreshSession(context.Context) (*model.Session, error) {
	f.mu.Lock()
	gate := f.refreshGate
	f.mu.Unlock()
	if gate != nil {
		return f.heldRefresh()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	if f.session == nil {
		return nil, nil
	}
	f.session.AccessToken = "access-refreshed"
	cp := *f.session
	return &cp, nil
}

// heldRefresh answers like a remote client whose response arrives late: the
// refreshed session is installed when the gate opens, whatever happened
// in between.
func (f *fakeRemote) heldRefresh() (*model.Session, error) {
	f.mu.Lock()
	f.refreshes++
	refreshed := *f.session
	refreshed.AccessToken = "access-late"
	started, gate := f.refreshStarted, f.refreshGate
	f.mu.Unlock()

	close(started)
	<-gate

	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = &refreshed
	cp := refreshed
	return &cp, nil
}

func (f *fakeRemote) SetSession(s *model.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = s
}

func (f *fakeRemote) counts() (signIns, signOuts, refreshes, gets int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signIns, f.signOuts, f.refreshes, f.gets
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	remote *fakeRemote
	clock  *clock
	dir    string
	mgr    *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		remote: &fakeRemote{password: "secret123"},
		clock:  &clock{t: time.Now()},
		dir:    t.TempDir(),
	}
	f.mgr = f.newManager()
	return f
}

// newManager simulates a restart over the same session directory.
func (f *fixture) newManager() *Manager {
	return NewManager(f.remote, Options{
		Dir:    f.dir,
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		Now:    f.clock.Now,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	require.NoError(t, f.mgr.Login(context.Background(), "admin@example.com", "secret123"))
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	f.mgr.Navigate(LoginRoute)

	f.login(t)

	assert.Equal(t, Authenticated, f.mgr.State())
	assert.Equal(t, AdminRoute, f.mgr.Route(), "login view redirects to admin root")
	_, ok := f.mgr.activity.Last()
	assert.True(t, ok)
	cached, fresh, err := f.mgr.mirror.Load()
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, "u1", cached.User.ID)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newFixture(t)

	err := f.mgr.Login(context.Background(), "admin@example.com", "wrong")
	require.Error(t, err)
	assert.Equal(t, apperror.CodeInvalidCredentials, err.(*apperror.AppError).Code)
	assert.Equal(t, Anonymous, f.mgr.State())
	assert.Nil(t, f.mgr.Session())
}

func TestLogout_ClearsEverythingEvenIfRemoteFails(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.mgr.Navigate("/admin/poems")
	f.remote.signOutErr = apperror.Network("sign_out", errors.New("offline"))

	f.mgr.Logout(context.Background())

	assert.Equal(t, Anonymous, f.mgr.State())
	assert.Equal(t, "/", f.mgr.Route())
	cached, _, _ := f.mgr.mirror.Load()
	assert.Nil(t, cached)
	_, ok := f.mgr.activity.Last()
	assert.False(t, ok)
}

func TestRequire_IdleElevenMinutes(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	var transitions []State
	f.mgr.OnChange(func(s State, _ string) { transitions = append(transitions, s) })

	f.clock.Advance(11 * time.Minute)
	_, _, refreshesBefore, _ := f.remote.counts()

	sess, err := f.mgr.Require(context.Background())

	assert.Nil(t, sess)
	assert.True(t, errors.Is(err, apperror.ErrAuth))
	assert.Equal(t, Anonymous, f.mgr.State())
	assert.Equal(t, []State{Anonymous}, transitions, "transition happens before the operation fails")
	_, _, refreshesAfter, _ := f.remote.counts()
	assert.Equal(t, refreshesBefore, refreshesAfter, "no remote contact")
}

func TestRequire_ActiveSessionRecordsActivity(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	// Repeated activity inside the window keeps the session alive.
	for i := 0; i < 3; i++ {
		f.clock.Advance(9 * time.Minute)
		sess, err := f.mgr.Require(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "u1", sess.User.ID)
	}
	last, ok := f.mgr.activity.Last()
	require.True(t, ok)
	assert.Equal(t, f.clock.Now().UnixMilli(), last.UnixMilli())
}

func TestRequire_Anonymous(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Require(context.Background())
	assert.True(t, errors.Is(err, apperror.ErrAuth))
}

func TestTick(t *testing.T) {
	t.Run("inactive forces anonymous without contacting remote", func(t *testing.T) {
		f := newFixture(t)
		f.login(t)
		f.clock.Advance(InactivityTimeout + time.Second)

		f.mgr.Tick(context.Background())

		assert.Equal(t, Anonymous, f.mgr.State())
		_, _, refreshes, _ := f.remote.counts()
		assert.Zero(t, refreshes)
	})

	t.Run("active session is refreshed", func(t *testing.T) {
		f := newFixture(t)
		f.login(t)
		f.clock.Advance(5 * time.Minute)

		f.mgr.Tick(context.Background())

		assert.Equal(t, Authenticated, f.mgr.State())
		assert.Equal(t, "access-refreshed", f.mgr.Session().AccessToken)
	})

	t.Run("refresh failure falls back to anonymous", func(t *testing.T) {
		f := newFixture(t)
		f.login(t)
		f.mgr.Navigate("/admin")
		f.remote.refreshErr = apperror.Unauthenticated("revoked")

		f.mgr.Tick(context.Background())

		assert.Equal(t, Anonymous, f.mgr.State())
		assert.Equal(t, LoginRoute, f.mgr.Route(), "guard re-runs on the transition")
	})

	t.Run("late refresh after logout is dropped", func(t *testing.T) {
		f := newFixture(t)
		f.login(t)
		f.remote.refreshStarted = make(chan struct{})
		f.remote.refreshGate = make(chan struct{})

		ticked := make(chan struct{})
		go func() {
			defer close(ticked)
			f.mgr.Tick(context.Background())
		}()
		<-f.remote.refreshStarted

		f.mgr.Logout(context.Background())
		require.Equal(t, Anonymous, f.mgr.State())
		close(f.remote.refreshGate)
		<-ticked

		assert.Equal(t, Anonymous, f.mgr.State())
		assert.Nil(t, f.mgr.Session())
		cached, _, err := NewMirror(f.dir, []byte("0123456789abcdef0123456789abcdef"), f.clock.Now).Load()
		require.NoError(t, err)
		assert.Nil(t, cached, "mirror stays cleared")
		f.remote.mu.Lock()
		defer f.remote.mu.Unlock()
		assert.Nil(t, f.remote.session, "remote client is pointed back at no session")
	})

	t.Run("cancelled refresh keeps the session", func(t *testing.T) {
		f := newFixture(t)
		f.login(t)
		f.remote.refreshErr = context.Canceled
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		f.mgr.Tick(ctx)

		assert.Equal(t, Authenticated, f.mgr.State())
	})

	t.Run("anonymous does nothing", func(t *testing.T) {
		f := newFixture(t)
		f.mgr.Tick(context.Background())
		_, _, refreshes, _ := f.remote.counts()
		assert.Zero(t, refreshes)
	})
}

func TestCheckSession(t *testing.T) {
	t.Run("fresh mirror is trusted without remote call", func(t *testing.T) {
		f := newFixture(t)
		f.login(t)

		restarted := f.newManager()
		state, err := restarted.CheckSession(context.Background())

		require.NoError(t, err)
		assert.Equal(t, Authenticated, state)
		_, _, _, gets := f.remote.counts()
		assert.Zero(t, gets)
	})

	t.Run("stale mirror asks the remote store", func(t *testing.T) {
		f := newFixture(t)
		f.login(t)
		require.NoError(t, f.mgr.activity.Clear())
		f.clock.Advance(MirrorTTL + time.Minute)

		restarted := f.newManager()
		state, err := restarted.CheckSession(context.Background())

		require.NoError(t, err)
		assert.Equal(t, Authenticated, state)
		_, _, _, gets := f.remote.counts()
		assert.Equal(t, 1, gets)
		_, fresh, _ := restarted.mirror.Load()
		assert.True(t, fresh, "re-cached")
	})

	t.Run("remote failure clears cache", func(t *testing.T) {
		f := newFixture(t)
		f.login(t)
		require.NoError(t, f.mgr.activity.Clear())
		f.clock.Advance(MirrorTTL + time.Minute)
		f.remote.getErr = apperror.Network("get_session", errors.New("offline"))

		restarted := f.newManager()
		state, err := restarted.CheckSession(context.Background())

		assert.Error(t, err)
		assert.Equal(t, Anonymous, state)
		cached, _, _ := restarted.mirror.Load()
		assert.Nil(t, cached)
	})

	t.Run("inactivity clears cache", func(t *testing.T) {
		f := newFixture(t)
		f.login(t)
		f.clock.Advance(11 * time.Minute)

		restarted := f.newManager()
		state, err := restarted.CheckSession(context.Background())

		require.NoError(t, err)
		assert.Equal(t, Anonymous, state)
		cached, _, _ := restarted.mirror.Load()
		assert.Nil(t, cached)
	})

	t.Run("no session anywhere", func(t *testing.T) {
		f := newFixture(t)
		state, err := f.mgr.CheckSession(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Anonymous, state)
	})
}

func TestInvalidate(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	f.mgr.Invalidate(apperror.NotFound("poem", "x"))
	assert.Equal(t, Authenticated, f.mgr.State())

	f.mgr.Invalidate(apperror.Unauthenticated("token expired"))
	assert.Equal(t, Anonymous, f.mgr.State())
}

func TestScheduler_RefreshesPeriodically(t *testing.T) {
	remote := &fakeRemote{password: "secret123"}
	mgr := NewManager(remote, Options{
		Dir:               t.TempDir(),
		Secret:            []byte("0123456789abcdef0123456789abcdef"),
		RefreshInterval:   10 * time.Millisecond,
		InactivityTimeout: time.Hour,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	mgr.Start(context.Background())
	defer mgr.Stop()
	require.NoError(t, mgr.Login(context.Background(), "a@example.com", "secret123"))

	assert.Eventually(t, func() bool {
		_, _, refreshes, _ := remote.counts()
		return refreshes >= 2
	}, 2*time.Second, 5*time.Millisecond)

	mgr.Logout(context.Background())
	// Let a tick that was already in flight finish.
	time.Sleep(20 * time.Millisecond)
	_, _, afterLogout, _ := remote.counts()
	time.Sleep(50 * time.Millisecond)
	_, _, later, _ := remote.counts()
	assert.Equal(t, afterLogout, later, "ticker torn down on logout")
}
