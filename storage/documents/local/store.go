// Package localstore keeps document contents on the local filesystem.
package localstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/nyumba/core/document"
)

type store struct {
	root string
}

var _ document.BlobStore = (*store)(nil)

// New returns a store writing under root, which is created if missing.
func New(root string) (document.BlobStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, errors.Wrap(err, "creating documents dir")
	}
	return &store{root: root}, nil
}

// path maps a key to a file under root; keys escaping root are rejected.
func (s *store) path(key string) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", errors.Errorf("invalid key %q", key)
	}
	return p, nil
}

func (s *store) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return errors.Wrap(err, "creating document dir")
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err = io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "writing document")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "writing document")
	}
	return errors.Wrap(os.Rename(tmp.Name(), p), "writing document")
}

func (s *store) Get(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

func (s *store) URL(context.Context, string, string) (string, error) {
	return "", nil
}

func (s *store) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err = os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "deleting document")
	}
	return nil
}
