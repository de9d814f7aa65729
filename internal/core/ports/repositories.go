package ports

import (
	"context"
	"time"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
)

// PhotoRepository is the durable seed store for on-device photos.
type PhotoRepository interface {
	Insert(ctx context.Context, photo *domain.Photo) error
	InsertBatch(ctx context.Context, photos []domain.Photo) error
	Delete(ctx context.Context, dir, name string) error
	// ListDir returns the photos directly inside dir.
	ListDir(ctx context.Context, dir string) ([]domain.Photo, error)
	// DeleteByDir removes the photos directly inside dir.
	DeleteByDir(ctx context.Context, dir string) error
	// DeleteUnder removes the photos in dir and all of its subdirectories.
	DeleteUnder(ctx context.Context, dir string) error
	// DirsUnder lists the distinct directories at or below dir that hold photos.
	DirsUnder(ctx context.Context, dir string) ([]string, error)
	// Stream calls fn for every stored photo.
	Stream(ctx context.Context, fn func(*domain.Photo) error) error
	Count(ctx context.Context) (int, error)
}

// DirectoryRepository persists the directories the indexer scans.
type DirectoryRepository interface {
	List(ctx context.Context) ([]domain.ScanDirectory, error)
	Add(ctx context.Context, dir string) error
	MarkScanned(ctx context.Context, dir string, at time.Time) error
}
