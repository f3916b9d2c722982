package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"

	"github.com/sakif/captured-thinkings/internal/apperror"
)

// LocalStore keeps objects as files under root/<bucket>/<key>.
type LocalStore struct {
	root       string
	publicBase string
}

var _ ObjectStore = (*LocalStore)(nil)

// NewLocalStore creates root if needed. publicBase is the externally
// reachable base URL of the remote store, e.g. http://localhost:8080.
func NewLocalStore(root, publicBase string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating root %s: %w", root, err)
	}
	return &LocalStore{root: root, publicBase: publicBase}, nil
}

func (s *LocalStore) path(bucket, key string) (string, error) {
	if err := ValidateKey(bucket, key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, bucket, filepath.FromSlash(key)), nil
}

// Put writes to a temp file and renames it, so readers never see a
// partially written object.
func (s *LocalStore) Put(_ context.Context, bucket, key string, r io.Reader, size int64, _ string) error {
	dst, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("storage: creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("storage: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	src := r
	if size >= 0 {
		src = io.LimitReader(r, size)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: writing object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: closing object: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("storage: committing object: %w", err)
	}
	return nil
}

func (s *LocalStore) Open(_ context.Context, bucket, key string) (io.ReadCloser, Info, error) {
	p, err := s.path(bucket, key)
	if err != nil {
		return nil, Info{}, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Info{}, apperror.NotFound("object", bucket+"/"+key)
		}
		return nil, Info{}, fmt.Errorf("storage: opening object: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, Info{}, fmt.Errorf("storage: stat object: %w", err)
	}

	ct := mime.TypeByExtension(filepath.Ext(p))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return f, Info{ContentType: ct, Size: st.Size()}, nil
}

// Delete removes the object. A missing object is not an error.
func (s *LocalStore) Delete(_ context.Context, bucket, key string) error {
	p, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: deleting object: %w", err)
	}
	return nil
}

func (s *LocalStore) PublicURL(bucket, key string) string {
	return publicURL(s.publicBase, bucket, key)
}
