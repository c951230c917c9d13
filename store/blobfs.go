package store

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pim-systems/pimd/model"
	"github.com/pkg/errors"
)

// BlobFS is the filesystem-backed PartBlobStore: externalized payload parts
// are written as one file per blob under a base directory (spec §6, "Large
// payloads may be externalized to files").
type BlobFS struct {
	dir string
}

var _ PartBlobStore = (*BlobFS)(nil)

func NewBlobFS(dir string) (*BlobFS, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "store: create blob dir")
	}
	return &BlobFS{dir: dir}, nil
}

func (b *BlobFS) Put(data []byte) (string, error) {
	id := uuid.NewString()
	if err := os.WriteFile(filepath.Join(b.dir, id), data, 0o600); err != nil {
		return "", errors.Wrap(err, "store: write blob")
	}
	return id, nil
}

func (b *BlobFS) Get(id string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(b.dir, id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, model.NewError(model.ErrNotFound, "blob not found: "+id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "store: read blob")
	}
	return data, nil
}

func (b *BlobFS) Delete(id string) error {
	err := os.Remove(filepath.Join(b.dir, id))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "store: delete blob")
	}
	return nil
}
