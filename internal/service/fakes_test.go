package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sakif/captured-thinkings/internal/apperror"
	"github.com/sakif/captured-thinkings/internal/model"
	"github.com/sakif/captured-thinkings/internal/repository"
)

// =========================================================================
// IN-MEMORY FAKES
// =========================================================================
//
// Hand-written fakes of the repository interfaces. Each returns copies so a
// test can never mutate fake state through a returned pointer.

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]*model.User
	nextID int
	getErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[string]*model.User{}}
}

func (f *fakeUserRepo) CreateUser(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == u.Email {
			return apperror.Conflict("user", u.Email)
		}
	}
	f.nextID++
	u.ID = fmt.Sprintf("user-%d", f.nextID)
	u.CreatedAt = time.Now()
	stored := *u
	f.users[u.ID] = &stored
	return nil
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	out := *u
	return &out, nil
}

func (f *fakeUserRepo) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.users {
		if u.Email == email {
			out := *u
			return &out, nil
		}
	}
	return nil, apperror.NotFound("user", email)
}

func (f *fakeUserRepo) UpdatePassword(_ context.Context, id, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	u.PasswordHash = hash
	return nil
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]repository.RefreshSession
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: map[string]repository.RefreshSession{}}
}

func (f *fakeSessionRepo) CreateSession(_ context.Context, s *repository.RefreshSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = *s
	return nil
}

func (f *fakeSessionRepo) GetSession(_ context.Context, id string) (*repository.RefreshSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, apperror.NotFound("session", id)
	}
	return &s, nil
}

func (f *fakeSessionRepo) DeleteSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return nil
}

func (f *fakeSessionRepo) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, s := range f.sessions {
		if !s.ExpiresAt.After(now) {
			delete(f.sessions, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeSessionRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// fakeStore implements the poem, like and comment repositories together,
// so deleting a poem can drop its interactions like the real schema does.
type fakeStore struct {
	mu       sync.Mutex
	poems    map[string]*model.PoemRow
	likes    map[[2]string]model.Like
	comments map[string]*model.Comment
	seq      int

	listErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		poems:    map[string]*model.PoemRow{},
		likes:    map[[2]string]model.Like{},
		comments: map[string]*model.Comment{},
	}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%03d", prefix, f.seq)
}

func (f *fakeStore) CreatePoem(_ context.Context, p *model.PoemRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.ID = f.nextID("poem")
	p.IsFeatured = false
	p.CreatedAt = time.Now().Add(time.Duration(f.seq) * time.Millisecond)
	stored := *p
	f.poems[p.ID] = &stored
	return nil
}

func (f *fakeStore) GetPoem(_ context.Context, id string) (*model.PoemRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.poems[id]
	if !ok {
		return nil, apperror.NotFound("poem", id)
	}
	out := *p
	return &out, nil
}

func (f *fakeStore) ListPoems(_ context.Context, opts repository.ListOptions) ([]model.PoemRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := []model.PoemRow{}
	for _, p := range f.poems {
		if opts.ListedOnly && !p.IsListed {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) UpdatePoem(_ context.Context, p *model.PoemRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.poems[p.ID]
	if !ok {
		return apperror.NotFound("poem", p.ID)
	}
	featured := existing.IsFeatured
	stored := *p
	stored.IsFeatured = featured
	f.poems[p.ID] = &stored
	return nil
}

func (f *fakeStore) SetFeatured(_ context.Context, id string, featured bool, limit int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.poems[id]
	if !ok {
		return apperror.NotFound("poem", id)
	}
	if featured && !p.IsFeatured {
		n := 0
		for _, other := range f.poems {
			if other.IsFeatured {
				n++
			}
		}
		if n >= limit {
			return apperror.FeatureLimitExceeded(limit)
		}
	}
	p.IsFeatured = featured
	return nil
}

func (f *fakeStore) DeletePoem(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.poems[id]; !ok {
		return apperror.NotFound("poem", id)
	}
	delete(f.poems, id)
	for k := range f.likes {
		if k[0] == id {
			delete(f.likes, k)
		}
	}
	for cid, c := range f.comments {
		if c.PoemID == id {
			delete(f.comments, cid)
		}
	}
	return nil
}

func (f *fakeStore) CountPoems(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.poems), nil
}

func (f *fakeStore) InsertLike(_ context.Context, l *model.Like) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.poems[l.PoemID]; !ok {
		return apperror.NotFound("poem", l.PoemID)
	}
	key := [2]string{l.PoemID, l.UserID}
	if _, ok := f.likes[key]; !ok {
		l.CreatedAt = time.Now()
		f.likes[key] = *l
	}
	return nil
}

func (f *fakeStore) DeleteLike(_ context.Context, poemID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.likes, [2]string{poemID, userID})
	return nil
}

func (f *fakeStore) ListLikes(_ context.Context, poemIDs []string) ([]model.Like, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := toSet(poemIDs)
	out := []model.Like{}
	for _, l := range f.likes {
		if want[l.PoemID] {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateComment(_ context.Context, c *model.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.poems[c.PoemID]; !ok {
		return apperror.NotFound("poem", c.PoemID)
	}
	c.ID = f.nextID("comment")
	c.CreatedAt = time.Now().Add(time.Duration(f.seq) * time.Millisecond)
	stored := *c
	f.comments[c.ID] = &stored
	return nil
}

func (f *fakeStore) GetComment(_ context.Context, id string) (*model.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.comments[id]
	if !ok {
		return nil, apperror.NotFound("comment", id)
	}
	out := *c
	return &out, nil
}

func (f *fakeStore) ListComments(_ context.Context, poemIDs []string) ([]model.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := toSet(poemIDs)
	out := []model.Comment{}
	for _, c := range f.comments {
		if want[c.PoemID] {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) DeleteComment(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.comments[id]; !ok {
		return apperror.NotFound("comment", id)
	}
	delete(f.comments, id)
	return nil
}

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []model.ChangeEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev model.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) relations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Relation + ":" + string(ev.Type)
	}
	return out
}
