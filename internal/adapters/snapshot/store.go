package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
	"github.com/samirrijal/mapoverlay/internal/core/spatial"
)

const fileExt = ".res"

// Store implements ports.SnapshotStore with one file per layer.
type Store struct {
	fs    afero.Fs
	dir   string
	codec *Codec
}

// NewStore creates a store rooted at dir on fsys.
func NewStore(fsys afero.Fs, dir string, codec *Codec) (*Store, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{fs: fsys, dir: dir, codec: codec}, nil
}

// Path returns the state file of a layer.
func (s *Store) Path(layer string) string {
	return filepath.Join(s.dir, layer+fileExt)
}

// Save writes the snapshot to a temporary file and renames it over the
// previous state, so readers never see a partial file.
func (s *Store) Save(ctx context.Context, layer string, snap spatial.Snapshot[domain.Object]) error {
	data, err := s.codec.Encode(snap)
	if err != nil {
		return &domain.PersistenceError{Op: "encode", Layer: layer, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &domain.PersistenceError{Op: "write", Layer: layer, Err: err}
	}

	path := s.Path(layer)
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		_ = s.fs.Remove(tmp)
		return &domain.PersistenceError{Op: "write", Layer: layer, Err: err}
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return &domain.PersistenceError{Op: "rename", Layer: layer, Err: err}
	}
	return nil
}

// Load reads and decodes the layer's state file.
func (s *Store) Load(ctx context.Context, layer string) (spatial.Snapshot[domain.Object], error) {
	var zero spatial.Snapshot[domain.Object]
	if err := ctx.Err(); err != nil {
		return zero, &domain.PersistenceError{Op: "read", Layer: layer, Err: err}
	}
	data, err := afero.ReadFile(s.fs, s.Path(layer))
	if errors.Is(err, fs.ErrNotExist) {
		return zero, domain.ErrNoSnapshot
	}
	if err != nil {
		return zero, &domain.PersistenceError{Op: "read", Layer: layer, Err: err}
	}
	return s.codec.Decode(data)
}

// Delete removes the layer's state file. A missing file is not an error.
func (s *Store) Delete(_ context.Context, layer string) error {
	err := s.fs.Remove(s.Path(layer))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &domain.PersistenceError{Op: "delete", Layer: layer, Err: err}
	}
	return nil
}
