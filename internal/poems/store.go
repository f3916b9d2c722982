// Package poems is the client's single-writer cache of poems.
//
// Every mutation writes to the remote store and then re-reads the whole
// collection; nothing is patched locally. Readers get immutable
// Snapshots, and observers are told only when the snapshot is replaced
// as a whole.
//
// WHY REFETCH THE WHOLE COLLECTION AFTER EVERY WRITE?
// LikeCount, HasLiked and the comment list are derived from rows that other
// clients change too. Patching the cache locally would need the server's
// view of those rows anyway, so a write is followed by one joined read and
// the derived fields are recomputed from scratch. The collection is small
// (one author's poems), which keeps the extra read cheap.
//
// Concurrent refreshes are not sequenced: whichever response is applied
// last wins.
package poems

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/captured-thinkings/internal/apperror"
	"github.com/sakif/captured-thinkings/internal/model"
	"github.com/sakif/captured-thinkings/internal/resilience"
	"github.com/sakif/captured-thinkings/internal/validation"
)

// Remote is the part of the remote store client the store uses.
type Remote interface {
	resilience.Prober
	ListPoems(ctx context.Context, listedOnly bool) ([]model.PoemRecord, error)
	InsertPoem(ctx context.Context, in model.PoemInput) (*model.PoemRow, error)
	UpdatePoem(ctx context.Context, id string, patch model.PoemPatch) (*model.PoemRow, error)
	DeletePoem(ctx context.Context, id string) error
	InsertLike(ctx context.Context, poemID string) error
	DeleteLike(ctx context.Context, poemID string) error
	InsertComment(ctx context.Context, poemID, content string) (*model.Comment, error)
	DeleteComment(ctx context.Context, id string) error
	Upload(ctx context.Context, bucket, path string, r io.Reader, size int64, contentType string) (string, error)
	// Watch subscribes to a change feed. done closes when the feed stops
	// delivering, including when the connection drops.
	Watch(ctx context.Context, relation string, handle func(model.ChangeEvent)) (stop func(), done <-chan struct{}, err error)
}

// Sessions gates mutations on an authenticated session.
type Sessions interface {
	Require(ctx context.Context) (*model.Session, error)
	Session() *model.Session
	Invalidate(err error)
}

type Store struct {
	remote      Remote
	sessions    Sessions
	retry       *resilience.Retrier
	coverBucket string
	logger      *slog.Logger

	mu        sync.RWMutex
	snap      Snapshot
	observers map[int]func(Snapshot)
	nextObs   int

	// realtime
	rtMu             sync.Mutex
	rtCancel         context.CancelFunc
	rtWG             sync.WaitGroup
	resubscribePause time.Duration
}

// resubscribePause is the wait between failed rounds of re-subscribing to
// a dropped feed.
const resubscribePause = 10 * time.Second

func NewStore(remote Remote, sessions Sessions, retry *resilience.Retrier, coverBucket string, logger *slog.Logger) *Store {
	return &Store{
		remote:      remote,
		sessions:    sessions,
		retry:       retry,
		coverBucket: coverBucket,
		logger:      logger,
		snap:        Snapshot{ListedOnly: true},
		observers:   make(map[int]func(Snapshot)),

		resubscribePause: resubscribePause,
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Observe registers fn for every snapshot replacement. The returned
// function removes it.
func (s *Store) Observe(fn func(Snapshot)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

// replace swaps in the snapshot built by next from the current one, then
// notifies observers outside the lock.
func (s *Store) replace(next func(cur Snapshot) Snapshot) {
	s.mu.Lock()
	s.snap = next(s.snap)
	snap := s.snap
	observers := make([]func(Snapshot), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}

// SetLanguage sets the active filter. "" shows every language.
func (s *Store) SetLanguage(lang model.Language) error {
	if lang != "" && !lang.Valid() {
		return apperror.ValidationFailed("language", fmt.Sprintf("unknown language %q", lang))
	}
	s.replace(func(cur Snapshot) Snapshot {
		cur.Language = lang
		return cur
	})
	return nil
}

// ClearError dismisses the error shown with the current view.
func (s *Store) ClearError() {
	s.replace(func(cur Snapshot) Snapshot {
		cur.Err = nil
		return cur
	})
}

// Refresh probes the remote store, reads the whole collection joined with
// likes and comments, and replaces the cache. listedOnly restricts the
// read to published poems. Anonymous viewers may refresh.
func (s *Store) Refresh(ctx context.Context, listedOnly bool) error {
	s.replace(func(cur Snapshot) Snapshot {
		cur.Loading = true
		cur.Err = nil
		return cur
	})

	records, err := s.fetch(ctx, listedOnly)
	if err != nil {
		s.sessions.Invalidate(err)
		s.logger.Error("loading poems", "listed_only", listedOnly, "error", err)
		s.replace(func(cur Snapshot) Snapshot {
			cur.Loading = false
			cur.Err = err
			return cur
		})
		return err
	}

	viewer := ""
	if sess := s.sessions.Session(); sess != nil {
		viewer = sess.User.ID
	}
	poems := derive(records, viewer)
	s.replace(func(cur Snapshot) Snapshot {
		return Snapshot{
			Poems:      poems,
			ListedOnly: listedOnly,
			Language:   cur.Language,
			FetchedAt:  time.Now(),
		}
	})
	return nil
}

func (s *Store) fetch(ctx context.Context, listedOnly bool) ([]model.PoemRecord, error) {
	if err := s.retry.Retry(ctx, "probe", s.remote.Probe); err != nil {
		return nil, err
	}
	return resilience.Do(ctx, s.retry, "list_poems", func(ctx context.Context) ([]model.PoemRecord, error) {
		return s.remote.ListPoems(ctx, listedOnly)
	})
}

// mutate runs a write for an authenticated viewer, then refreshes. A
// failed write is shown as the view's error and nothing is refetched.
func (s *Store) mutate(ctx context.Context, listedOnly bool, write func(ctx context.Context) error) error {
	if _, err := s.sessions.Require(ctx); err != nil {
		return err
	}
	if err := write(ctx); err != nil {
		s.sessions.Invalidate(err)
		s.replace(func(cur Snapshot) Snapshot {
			cur.Err = err
			return cur
		})
		return err
	}
	return s.Refresh(ctx, listedOnly)
}

// cached finds a poem in the current snapshot.
func (s *Store) cached(id string) (model.Poem, error) {
	p, ok := s.Snapshot().Find(id)
	if !ok {
		return model.Poem{}, apperror.NotFound("poem", id)
	}
	return p, nil
}

// ToggleVisibility flips IsListed and nothing else.
func (s *Store) ToggleVisibility(ctx context.Context, id string) error {
	return s.mutate(ctx, false, func(ctx context.Context) error {
		p, err := s.cached(id)
		if err != nil {
			return err
		}
		patch := model.PoemPatch{IsListed: model.Bool(!p.IsListed)}
		return s.retry.Retry(ctx, "update_poem", func(ctx context.Context) error {
			_, err := s.remote.UpdatePoem(ctx, id, patch)
			return err
		})
	})
}

// ToggleFeatured flips IsFeatured. Featuring one more poem when the cache
// already holds MaxFeatured featured poems fails before any write.
func (s *Store) ToggleFeatured(ctx context.Context, id string) error {
	return s.mutate(ctx, false, func(ctx context.Context) error {
		snap := s.Snapshot()
		p, ok := snap.Find(id)
		if !ok {
			return apperror.NotFound("poem", id)
		}
		if !p.IsFeatured && snap.FeaturedCount() >= model.MaxFeatured {
			return apperror.FeatureLimitExceeded(model.MaxFeatured)
		}
		patch := model.PoemPatch{IsFeatured: model.Bool(!p.IsFeatured)}
		return s.retry.Retry(ctx, "update_poem", func(ctx context.Context) error {
			_, err := s.remote.UpdatePoem(ctx, id, patch)
			return err
		})
	})
}

// ToggleLike likes or unlikes the poem as the current viewer, based on
// the cached like state.
func (s *Store) ToggleLike(ctx context.Context, id string) error {
	return s.mutate(ctx, true, func(ctx context.Context) error {
		p, err := s.cached(id)
		if err != nil {
			return err
		}
		if p.HasLiked {
			return s.retry.Retry(ctx, "delete_like", func(ctx context.Context) error {
				return s.remote.DeleteLike(ctx, id)
			})
		}
		return s.retry.Retry(ctx, "insert_like", func(ctx context.Context) error {
			return s.remote.InsertLike(ctx, id)
		})
	})
}

// AddComment posts a comment as the current viewer. Blank content fails
// with EmptyContent and never reaches the remote store.
func (s *Store) AddComment(ctx context.Context, poemID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return apperror.EmptyContent()
	}
	return s.mutate(ctx, true, func(ctx context.Context) error {
		return s.retry.Once(ctx, "insert_comment", func(ctx context.Context) error {
			_, err := s.remote.InsertComment(ctx, poemID, content)
			return err
		})
	})
}

// DeleteComment deletes by id. The remote store decides who may.
func (s *Store) DeleteComment(ctx context.Context, commentID string) error {
	return s.mutate(ctx, false, func(ctx context.Context) error {
		return s.retry.Retry(ctx, "delete_comment", func(ctx context.Context) error {
			return s.remote.DeleteComment(ctx, commentID)
		})
	})
}

// AddPoem creates a poem. New poems are never featured.
func (s *Store) AddPoem(ctx context.Context, in model.PoemInput) error {
	in = in.Normalize()
	if err := validation.Struct(in); err != nil {
		return err
	}
	return s.mutate(ctx, false, func(ctx context.Context) error {
		return s.retry.Once(ctx, "insert_poem", func(ctx context.Context) error {
			_, err := s.remote.InsertPoem(ctx, in)
			return err
		})
	})
}

// UpdatePoem overwrites the editable fields of a poem. The featured flag
// is left alone.
func (s *Store) UpdatePoem(ctx context.Context, id string, in model.PoemInput) error {
	in = in.Normalize()
	if err := validation.Struct(in); err != nil {
		return err
	}
	patch := in.Patch()
	return s.mutate(ctx, false, func(ctx context.Context) error {
		return s.retry.Retry(ctx, "update_poem", func(ctx context.Context) error {
			_, err := s.remote.UpdatePoem(ctx, id, patch)
			return err
		})
	})
}

func (s *Store) DeletePoem(ctx context.Context, id string) error {
	return s.mutate(ctx, false, func(ctx context.Context) error {
		return s.retry.Retry(ctx, "delete_poem", func(ctx context.Context) error {
			return s.remote.DeletePoem(ctx, id)
		})
	})
}

// UploadCover stores an image under covers/<id>.<ext> and returns its
// public URL, ready to use as a poem's cover image.
func (s *Store) UploadCover(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if contentType == "" {
		contentType = mime.TypeByExtension(ext)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", apperror.ValidationFailed("cover_image", "cover must be an image")
	}
	if _, err := s.sessions.Require(ctx); err != nil {
		return "", err
	}

	path := "covers/" + xid.New().String() + ext
	var publicURL string
	err := s.retry.Once(ctx, "upload_cover", func(ctx context.Context) error {
		u, err := s.remote.Upload(ctx, s.coverBucket, path, r, size, contentType)
		publicURL = u
		return err
	})
	if err != nil {
		s.sessions.Invalidate(err)
		return "", err
	}
	return publicURL, nil
}

// Start subscribes to the likes and comments feeds. Any change, from this
// client or another, triggers Refresh(ctx, true). Events that arrive while
// a refresh runs are folded into one more refresh.
//
// WHY RE-SUBSCRIBE AND THEN REFRESH?
// A dropped websocket loses every event sent while it was down, and the
// feed does not replay them. Once a feed is back we cannot tell what was
// missed, so one whole-collection refresh brings the snapshot back in
// line. Re-subscribing goes through the same retry policy as every other
// store call; if a whole round fails we pause and try again until Stop.
func (s *Store) Start(ctx context.Context) error {
	s.rtMu.Lock()
	defer s.rtMu.Unlock()
	if s.rtCancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	kick := make(chan struct{}, 1)
	onChange := func(model.ChangeEvent) {
		select {
		case kick <- struct{}{}:
		default:
		}
	}

	type feed struct {
		relation string
		stop     func()
		done     <-chan struct{}
	}
	var feeds []feed
	for _, relation := range []string{model.RelationLikes, model.RelationComments} {
		stop, done, err := s.remote.Watch(ctx, relation, onChange)
		if err != nil {
			for _, f := range feeds {
				f.stop()
			}
			cancel()
			return fmt.Errorf("poems: watching %s: %w", relation, err)
		}
		feeds = append(feeds, feed{relation: relation, stop: stop, done: done})
	}

	for _, f := range feeds {
		s.rtWG.Add(1)
		go func() {
			defer s.rtWG.Done()
			s.keepWatching(ctx, f.relation, f.stop, f.done, onChange, kick)
		}()
	}

	s.rtWG.Add(1)
	go func() {
		defer s.rtWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-kick:
				if err := s.Refresh(ctx, true); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Warn("realtime refresh failed", "error", err)
				}
			}
		}
	}()

	s.rtCancel = cancel
	return nil
}

// keepWatching owns one feed until ctx ends, re-subscribing whenever the
// feed drops.
func (s *Store) keepWatching(ctx context.Context, relation string, stop func(), done <-chan struct{},
	handle func(model.ChangeEvent), kick chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			stop()
			return
		case <-done:
		}

		s.logger.Warn("realtime feed dropped, re-subscribing", "relation", relation)
		for {
			err := s.retry.Retry(ctx, "watch_"+relation, func(ctx context.Context) error {
				var err error
				stop, done, err = s.remote.Watch(ctx, relation, handle)
				return err
			})
			if err == nil {
				break
			}
			s.logger.Warn("re-subscribing failed", "relation", relation, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.resubscribePause):
			}
		}

		s.logger.Info("realtime feed restored", "relation", relation)
		select {
		case kick <- struct{}{}:
		default:
		}
	}
}

// Stop unsubscribes from the feeds and waits for a running refresh.
func (s *Store) Stop() {
	s.rtMu.Lock()
	defer s.rtMu.Unlock()
	if s.rtCancel == nil {
		return
	}
	s.rtCancel()
	s.rtWG.Wait()
	s.rtCancel = nil
}
