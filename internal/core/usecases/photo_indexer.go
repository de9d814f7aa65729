package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
	"github.com/samirrijal/mapoverlay/internal/core/ports"
	"github.com/samirrijal/mapoverlay/internal/pkg/metrics"
)

const (
	// noIndexMarker excludes the directory holding it, and everything below,
	// from indexing.
	noIndexMarker  = ".novespucci"
	photoBatchSize = 500
)

// ScanStats summarises one directory scan.
type ScanStats struct {
	Directories int `json:"directories"`
	Indexed     int `json:"indexed"`
	Removed     int `json:"removed"`
}

type scanState struct {
	stats   ScanStats
	added   []domain.Object
	removed []string
}

type progressKey struct{}

// WithProgress returns a context under which Fill reports the number of
// photos submitted so far to fn after every batch, and Scan reports the
// number of directories visited so far after every directory.
func WithProgress(ctx context.Context, fn func(done int)) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

func reportProgress(ctx context.Context, done int) {
	if fn, ok := ctx.Value(progressKey{}).(func(int)); ok {
		fn(done)
	}
}

// PhotoIndexer keeps the photo seed store in step with the image files on
// the mounted volumes and forwards the resulting changes to the photos
// layer.
type PhotoIndexer struct {
	fs     afero.Fs
	mounts []string
	photos ports.PhotoRepository
	dirs   ports.DirectoryRepository
	meta   ports.MetadataReader
	sink   ports.BatchSink
}

// NewPhotoIndexer creates a new PhotoIndexer. Relative scan directories are
// resolved against every mount point.
func NewPhotoIndexer(fsys afero.Fs, mounts []string, photos ports.PhotoRepository, dirs ports.DirectoryRepository, meta ports.MetadataReader, sink ports.BatchSink) *PhotoIndexer {
	return &PhotoIndexer{fs: fsys, mounts: mounts, photos: photos, dirs: dirs, meta: meta, sink: sink}
}

// AddDirectory registers a directory for future scans.
func (s *PhotoIndexer) AddDirectory(ctx context.Context, dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("directory must not be empty")
	}
	return s.dirs.Add(ctx, filepath.Clean(dir))
}

// Scan walks every registered directory. A directory is re-read only when it
// changed since its last scan; its subdirectories are always visited.
// Photos of directories that vanished, or that carry the exclusion marker,
// are removed.
func (s *PhotoIndexer) Scan(ctx context.Context) (ScanStats, error) {
	start := time.Now()
	defer func() { metrics.ScanDuration.Observe(time.Since(start).Seconds()) }()

	dirs, err := s.dirs.List(ctx)
	if err != nil {
		return ScanStats{}, fmt.Errorf("list scan directories: %w", err)
	}
	if len(dirs) == 0 {
		for _, d := range domain.DefaultScanDirectories {
			if err := s.dirs.Add(ctx, d); err != nil {
				return ScanStats{}, fmt.Errorf("add default directory %s: %w", d, err)
			}
			dirs = append(dirs, domain.ScanDirectory{Dir: d})
		}
	}

	st := &scanState{}
	for _, d := range dirs {
		for _, root := range s.roots(d.Dir) {
			if err := s.scanRoot(ctx, root, d.LastScan, st); err != nil {
				return st.stats, err
			}
		}
		if err := s.dirs.MarkScanned(ctx, d.Dir, start); err != nil {
			return st.stats, fmt.Errorf("mark %s scanned: %w", d.Dir, err)
		}
	}
	if err := s.flush(ctx, st, true); err != nil {
		return st.stats, err
	}

	slog.Info("photo scan finished",
		"directories", st.stats.Directories,
		"indexed", st.stats.Indexed,
		"removed", st.stats.Removed,
		"duration", time.Since(start),
	)
	return st.stats, nil
}

func (s *PhotoIndexer) roots(dir string) []string {
	if filepath.IsAbs(dir) {
		return []string{filepath.Clean(dir)}
	}
	out := make([]string, 0, len(s.mounts))
	for _, m := range s.mounts {
		out = append(out, filepath.Join(m, dir))
	}
	return out
}

func (s *PhotoIndexer) scanRoot(ctx context.Context, root string, since time.Time, st *scanState) error {
	exists, err := afero.DirExists(s.fs, root)
	if err != nil {
		return fmt.Errorf("stat %s: %w", root, err)
	}

	known, err := s.photos.DirsUnder(ctx, root)
	if err != nil {
		return fmt.Errorf("list indexed directories under %s: %w", root, err)
	}
	for _, dir := range known {
		if ok, _ := afero.DirExists(s.fs, dir); ok && exists {
			continue
		}
		if err := s.dropDir(ctx, dir, st); err != nil {
			return err
		}
	}

	if !exists {
		return nil
	}
	return s.scanDir(ctx, root, since, st)
}

func (s *PhotoIndexer) scanDir(ctx context.Context, dir string, since time.Time, st *scanState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		slog.Warn("read directory failed", "dir", dir, "error", err)
		return nil
	}
	for _, e := range entries {
		if e.Name() == noIndexMarker {
			slog.Debug("directory excluded", "dir", dir)
			return s.dropUnder(ctx, dir, st)
		}
	}

	st.stats.Directories++
	reportProgress(ctx, st.stats.Directories)
	if info, err := s.fs.Stat(dir); err == nil && !info.ModTime().Before(since) {
		if err := s.indexDir(ctx, dir, entries, st); err != nil {
			return err
		}
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := s.scanDir(ctx, filepath.Join(dir, e.Name()), since, st); err != nil {
			return err
		}
	}
	return s.flush(ctx, st, false)
}

func (s *PhotoIndexer) indexDir(ctx context.Context, dir string, entries []os.FileInfo, st *scanState) error {
	existing, err := s.photos.ListDir(ctx, dir)
	if err != nil {
		return fmt.Errorf("list photos in %s: %w", dir, err)
	}
	old := make(map[string]domain.Photo, len(existing))
	for _, p := range existing {
		old[p.Name] = p
	}

	var found []domain.Photo
	for _, e := range entries {
		if e.IsDir() || !isJPEG(e.Name()) {
			continue
		}
		p, err := s.readPhoto(dir, e.Name())
		if err != nil {
			slog.Debug("photo skipped", "dir", dir, "name", e.Name(), "error", err)
			continue
		}
		found = append(found, *p)
	}

	if err := s.photos.DeleteByDir(ctx, dir); err != nil {
		return fmt.Errorf("clear %s: %w", dir, err)
	}
	if len(found) > 0 {
		if err := s.photos.InsertBatch(ctx, found); err != nil {
			return fmt.Errorf("insert photos from %s: %w", dir, err)
		}
	}

	seen := make(map[string]bool, len(found))
	indexed := 0
	for i := range found {
		p := &found[i]
		seen[p.Name] = true
		prev, ok := old[p.Name]
		if ok && prev == *p {
			continue
		}
		if ok {
			st.removed = append(st.removed, prev.Key())
		}
		st.added = append(st.added, p)
		indexed++
	}
	for name, p := range old {
		if !seen[name] {
			st.removed = append(st.removed, p.Key())
			st.stats.Removed++
		}
	}
	st.stats.Indexed += indexed
	metrics.PhotosIndexed.Add(float64(indexed))
	return nil
}

func (s *PhotoIndexer) dropUnder(ctx context.Context, dir string, st *scanState) error {
	dirs, err := s.photos.DirsUnder(ctx, dir)
	if err != nil {
		return fmt.Errorf("list indexed directories under %s: %w", dir, err)
	}
	for _, d := range dirs {
		if err := s.dropDir(ctx, d, st); err != nil {
			return err
		}
	}
	return nil
}

func (s *PhotoIndexer) dropDir(ctx context.Context, dir string, st *scanState) error {
	existing, err := s.photos.ListDir(ctx, dir)
	if err != nil {
		return fmt.Errorf("list photos in %s: %w", dir, err)
	}
	if len(existing) == 0 {
		return nil
	}
	if err := s.photos.DeleteByDir(ctx, dir); err != nil {
		return fmt.Errorf("clear %s: %w", dir, err)
	}
	for _, p := range existing {
		st.removed = append(st.removed, p.Key())
	}
	st.stats.Removed += len(existing)
	return nil
}

func (s *PhotoIndexer) flush(ctx context.Context, st *scanState, force bool) error {
	if len(st.added) == 0 && len(st.removed) == 0 {
		return nil
	}
	if !force && len(st.added) < photoBatchSize && len(st.removed) < photoBatchSize {
		return nil
	}
	batch := domain.Batch{Layer: domain.LayerPhotos, Objects: st.added, Removed: st.removed}
	if err := s.sink.Submit(ctx, batch); err != nil {
		return fmt.Errorf("submit photo batch: %w", err)
	}
	st.added, st.removed = nil, nil
	return nil
}

func (s *PhotoIndexer) readPhoto(dir, name string) (*domain.Photo, error) {
	f, err := s.fs.Open(filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	loc, err := s.meta.ReadLocation(f)
	if err != nil {
		return nil, err
	}
	p := &domain.Photo{
		Lon:          loc.Lon,
		Lat:          loc.Lat,
		Direction:    loc.Direction,
		HasDirection: loc.HasDirection,
		Dir:          dir,
		Name:         name,
	}
	if err := p.Bounds().Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Fill streams the whole seed store into the photos layer. It is used to
// populate an empty layer after its saved state was found unusable.
func (s *PhotoIndexer) Fill(ctx context.Context) (int, error) {
	total := 0
	batch := make([]domain.Object, 0, photoBatchSize)
	send := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.sink.Submit(ctx, domain.Batch{Layer: domain.LayerPhotos, Objects: batch}); err != nil {
			return fmt.Errorf("submit photo batch: %w", err)
		}
		total += len(batch)
		reportProgress(ctx, total)
		batch = make([]domain.Object, 0, photoBatchSize)
		return nil
	}

	err := s.photos.Stream(ctx, func(p *domain.Photo) error {
		batch = append(batch, p)
		if len(batch) >= photoBatchSize {
			return send()
		}
		return nil
	})
	if err != nil {
		return total, fmt.Errorf("stream photos: %w", err)
	}
	if err := send(); err != nil {
		return total, err
	}
	slog.Info("photos layer filled", "photos", total)
	return total, nil
}

// AddPhoto indexes a single image file, typically one just taken.
func (s *PhotoIndexer) AddPhoto(ctx context.Context, file string) (*domain.Photo, error) {
	p, err := s.readPhoto(filepath.Dir(file), filepath.Base(file))
	if err != nil {
		return nil, fmt.Errorf("read photo %s: %w", file, err)
	}
	if err := s.photos.Insert(ctx, p); err != nil {
		return nil, fmt.Errorf("insert photo: %w", err)
	}
	if err := s.sink.Submit(ctx, domain.Batch{Layer: domain.LayerPhotos, Objects: []domain.Object{p}}); err != nil {
		return nil, fmt.Errorf("submit photo: %w", err)
	}
	metrics.PhotosIndexed.Inc()
	return p, nil
}

// DeletePhoto removes a photo from the seed store and the layer.
func (s *PhotoIndexer) DeletePhoto(ctx context.Context, dir, name string) error {
	if err := s.photos.Delete(ctx, dir, name); err != nil {
		return fmt.Errorf("delete photo: %w", err)
	}
	p := domain.Photo{Dir: dir, Name: name}
	return s.sink.Submit(ctx, domain.Batch{Layer: domain.LayerPhotos, Removed: []string{p.Key()}})
}

func isJPEG(name string) bool {
	ext := filepath.Ext(name)
	return strings.EqualFold(ext, ".jpg") || strings.EqualFold(ext, ".jpeg")
}
