package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/captured-thinkings/internal/apperror"
	"github.com/sakif/captured-thinkings/internal/model"
	"github.com/sakif/captured-thinkings/internal/servertest"
)

func newClient(baseURL string) *Client {
	return New(Options{
		BaseURL: baseURL,
		AnonKey: servertest.AnonKey,
		Timeout: 5 * time.Second,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func signedInClient(t *testing.T, b *servertest.Backend) *Client {
	t.Helper()
	b.CreateUser(t, "admin@example.com", "secret123")
	c := newClient(b.URL)
	_, err := c.SignIn(context.Background(), "admin@example.com", "secret123")
	require.NoError(t, err)
	return c
}

func TestSignIn_InvalidCredentials(t *testing.T) {
	b := servertest.New(t)
	b.CreateUser(t, "admin@example.com", "secret123")
	c := newClient(b.URL)

	_, err := c.SignIn(context.Background(), "admin@example.com", "nope-nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrAuth))
	assert.False(t, apperror.Retryable(err))
	assert.Nil(t, c.Session())
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	b := servertest.New(t)
	c := signedInClient(t, b)

	first := c.Session()
	require.NotNil(t, first)
	assert.Equal(t, "admin@example.com", first.User.Email)
	assert.Equal(t, first.User.ID, c.ViewerID())

	got, err := c.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.AccessToken, got.AccessToken)

	refreshed, err := c.RefreshSession(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, refreshed.RefreshToken)

	require.NoError(t, c.SignOut(ctx))
	assert.Nil(t, c.Session())
	assert.Empty(t, c.ViewerID())

	got, err = c.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRefreshSession_RevokedClearsSession(t *testing.T) {
	ctx := context.Background()
	b := servertest.New(t)
	c := signedInClient(t, b)

	stale := c.Session()
	_, err := c.RefreshSession(ctx)
	require.NoError(t, err)

	// Restoring an already-rotated session cannot be refreshed.
	c.SetSession(stale)
	_, err = c.RefreshSession(ctx)
	assert.True(t, errors.Is(err, apperror.ErrAuth))
	assert.Nil(t, c.Session())
}

func TestPoemCRUD(t *testing.T) {
	ctx := context.Background()
	b := servertest.New(t)
	c := signedInClient(t, b)

	require.NoError(t, c.Probe(ctx))

	row, err := c.InsertPoem(ctx, model.PoemInput{Title: "Dawn", Content: "light", Language: model.English, IsListed: true})
	require.NoError(t, err)
	assert.False(t, row.IsFeatured)

	row, err = c.UpdatePoem(ctx, row.ID, model.PoemPatch{IsFeatured: model.Bool(true)})
	require.NoError(t, err)
	assert.True(t, row.IsFeatured)

	records, err := c.ListPoems(ctx, true)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Dawn", records[0].Title)

	require.NoError(t, c.InsertLike(ctx, row.ID))
	comment, err := c.InsertComment(ctx, row.ID, "beautiful")
	require.NoError(t, err)

	records, err = c.ListPoems(ctx, false)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Len(t, records[0].Likes, 1)
	assert.Len(t, records[0].Comments, 1)

	require.NoError(t, c.DeleteLike(ctx, row.ID))
	require.NoError(t, c.DeleteComment(ctx, comment.ID))
	require.NoError(t, c.DeletePoem(ctx, row.ID))

	err = c.DeletePoem(ctx, row.ID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestErrorMapping_FeatureLimit(t *testing.T) {
	ctx := context.Background()
	b := servertest.New(t)
	c := signedInClient(t, b)
	for i := 0; i < model.MaxFeatured; i++ {
		b.SeedPoem(t, model.PoemRow{Title: "f", Content: "c", IsFeatured: true})
	}
	extra := b.SeedPoem(t, model.PoemRow{Title: "x", Content: "c"})

	_, err := c.UpdatePoem(ctx, extra.ID, model.PoemPatch{IsFeatured: model.Bool(true)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrFeatureLimit))
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
}

func TestErrorMapping_AnonymousWrite(t *testing.T) {
	b := servertest.New(t)
	c := newClient(b.URL)

	err := c.InsertLike(context.Background(), "anything")
	assert.True(t, errors.Is(err, apperror.ErrAuth))
}

func TestErrorMapping_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, servertest.AnonKey, r.Header.Get(APIKeyHeader))
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal_error","message":"boom"}`))
	}))
	defer srv.Close()

	err := newClient(srv.URL).Probe(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrNetwork))
	assert.True(t, apperror.Retryable(err))
}

func TestErrorMapping_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := newClient(url).Probe(context.Background())
	assert.True(t, errors.Is(err, apperror.ErrNetwork))
}

func TestAuthorizationHeader(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"count":0}`))
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	require.NoError(t, c.Probe(context.Background()))

	c.SetSession(&model.Session{AccessToken: "tok", TokenType: "bearer", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, c.Probe(context.Background()))

	assert.Equal(t, []string{"", "Bearer tok"}, got)
}

func TestUpload(t *testing.T) {
	b := servertest.New(t)
	c := signedInClient(t, b)

	data := []byte("fake-png")
	u, err := c.Upload(context.Background(), servertest.CoverBucket, "covers/1.png",
		bytes.NewReader(data), int64(len(data)), "image/png")
	require.NoError(t, err)
	assert.Equal(t, b.URL+"/storage/v1/object/public/poem-covers/covers/1.png", u)
}
