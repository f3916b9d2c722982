package poems

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sakif/captured-thinkings/internal/apperror"
	"github.com/sakif/captured-thinkings/internal/model"
)

// fakeRemote is an in-memory remote store. Writes are attributed to viewer.
type fakeRemote struct {
	mu sync.Mutex

	viewer   string
	poems    map[string]*model.PoemRow
	likes    map[[2]string]model.Like
	comments map[string]model.Comment
	seq      int

	// listFailures makes the next N ListPoems calls fail with a network error.
	listFailures int
	writeErr     error

	// watchFailures makes the next N Watch calls fail with a network error.
	watchFailures int

	lists, writes int
	uploads       []string
	watchers      map[string][]*watcher
	watches       map[string]int
}

type watcher struct {
	handle func(model.ChangeEvent)
	done   chan struct{}
	live   bool
}

func (w *watcher) close() {
	if w.live {
		w.live = false
		close(w.done)
	}
}

func newFakeRemote(viewer string) *fakeRemote {
	return &fakeRemote{
		viewer:   viewer,
		poems:    make(map[string]*model.PoemRow),
		likes:    make(map[[2]string]model.Like),
		comments: make(map[string]model.Comment),
		watchers: make(map[string][]*watcher),
		watches:  make(map[string]int),
	}
}

func (f *fakeRemote) next() (string, time.Time) {
	f.seq++
	return fmt.Sprintf("id-%02d", f.seq), time.Date(2024, 1, 1, 0, f.seq, 0, 0, time.UTC)
}

func (f *fakeRemote) seed(row model.PoemRow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ts := f.next()
	if row.ID == "" {
		row.ID = id
	}
	row.CreatedAt, row.UpdatedAt = ts, ts
	f.poems[row.ID] = &row
}

func (f *fakeRemote) write() error {
	f.writes++
	return f.writeErr
}

func (f *fakeRemote) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *fakeRemote) Probe(context.Context) error { return nil }

func (f *fakeRemote) ListPoems(_ context.Context, listedOnly bool) ([]model.PoemRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listFailures > 0 {
		f.listFailures--
		return nil, apperror.Network("list poems", errors.New("connection reset"))
	}
	var out []model.PoemRecord
	for _, p := range f.poems {
		if listedOnly && !p.IsListed {
			continue
		}
		rec := model.PoemRecord{PoemRow: *p}
		for _, l := range f.likes {
			if l.PoemID == p.ID {
				rec.Likes = append(rec.Likes, l)
			}
		}
		for _, c := range f.comments {
			if c.PoemID == p.ID {
				rec.Comments = append(rec.Comments, c)
			}
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeRemote) InsertPoem(_ context.Context, in model.PoemInput) (*model.PoemRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.write(); err != nil {
		return nil, err
	}
	id, ts := f.next()
	row := &model.PoemRow{
		ID: id, Title: in.Title, Content: in.Content, CoverImage: in.CoverImage,
		Language: in.Language, IsListed: in.IsListed, UserID: f.viewer,
		CreatedAt: ts, UpdatedAt: ts,
	}
	if in.Subtitle != "" {
		row.Subtitle = model.String(in.Subtitle)
	}
	f.poems[id] = row
	return row, nil
}

func (f *fakeRemote) UpdatePoem(_ context.Context, id string, patch model.PoemPatch) (*model.PoemRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.write(); err != nil {
		return nil, err
	}
	row, ok := f.poems[id]
	if !ok {
		return nil, apperror.NotFound("poem", id)
	}
	patch.Apply(row)
	return row, nil
}

func (f *fakeRemote) DeletePoem(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.write(); err != nil {
		return err
	}
	delete(f.poems, id)
	return nil
}

func (f *fakeRemote) InsertLike(_ context.Context, poemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.write(); err != nil {
		return err
	}
	f.likes[[2]string{poemID, f.viewer}] = model.Like{PoemID: poemID, UserID: f.viewer}
	return nil
}

func (f *fakeRemote) DeleteLike(_ context.Context, poemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.write(); err != nil {
		return err
	}
	delete(f.likes, [2]string{poemID, f.viewer})
	return nil
}

func (f *fakeRemote) InsertComment(_ context.Context, poemID, content string) (*model.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.write(); err != nil {
		return nil, err
	}
	id, ts := f.next()
	c := model.Comment{ID: id, PoemID: poemID, UserID: f.viewer, Content: content, CreatedAt: ts, UpdatedAt: ts}
	f.comments[id] = c
	return &c, nil
}

func (f *fakeRemote) DeleteComment(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.write(); err != nil {
		return err
	}
	delete(f.comments, id)
	return nil
}

func (f *fakeRemote) Upload(_ context.Context, bucket, path string, r io.Reader, _ int64, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.write(); err != nil {
		return "", err
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	f.uploads = append(f.uploads, bucket+"/"+path)
	return "http://store.test/storage/v1/object/public/" + bucket + "/" + path, nil
}

func (f *fakeRemote) Watch(_ context.Context, relation string, handle func(model.ChangeEvent)) (func(), <-chan struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watches[relation]++
	if f.watchFailures > 0 {
		f.watchFailures--
		return nil, nil, apperror.Network("subscribe", errors.New("connection refused"))
	}
	w := &watcher{handle: handle, done: make(chan struct{}), live: true}
	f.watchers[relation] = append(f.watchers[relation], w)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.close()
	}, w.done, nil
}

// drop closes every live feed of relation as a lost connection would.
func (f *fakeRemote) drop(relation string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.watchers[relation] {
		w.close()
	}
}

// emit delivers an event to every live watcher of relation.
func (f *fakeRemote) emit(relation string) {
	f.mu.Lock()
	var handlers []func(model.ChangeEvent)
	for _, w := range f.watchers[relation] {
		if w.live {
			handlers = append(handlers, w.handle)
		}
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(model.ChangeEvent{Relation: relation, Type: model.ChangeInsert})
	}
}

func (f *fakeRemote) watchCount(relation string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watches[relation]
}

func (f *fakeRemote) liveWatchers(relation string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, w := range f.watchers[relation] {
		if w.live {
			n++
		}
	}
	return n
}

func (f *fakeRemote) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

// fakeSessions is a Sessions with a fixed viewer. A nil session means
// anonymous.
type fakeSessions struct {
	mu          sync.Mutex
	session     *model.Session
	invalidated int
}

func signedIn(userID string) *fakeSessions {
	return &fakeSessions{session: &model.Session{AccessToken: "t", User: model.User{ID: userID}}}
}

func (f *fakeSessions) Require(context.Context) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return nil, apperror.Unauthenticated("")
	}
	return f.session, nil
}

func (f *fakeSessions) Session() *model.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

func (f *fakeSessions) Invalidate(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if errors.Is(err, apperror.ErrAuth) {
		f.invalidated++
		f.session = nil
	}
}
