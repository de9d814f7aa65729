package postgres

import (
	"context"
	"time"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
)

// DirectoryRepo implements ports.DirectoryRepository with pgx.
type DirectoryRepo struct {
	db *DB
}

// NewDirectoryRepo creates a new DirectoryRepo.
func NewDirectoryRepo(db *DB) *DirectoryRepo {
	return &DirectoryRepo{db: db}
}

// List returns every scan directory.
func (r *DirectoryRepo) List(ctx context.Context) ([]domain.ScanDirectory, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT dir, last_scan FROM directories ORDER BY dir`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dirs []domain.ScanDirectory
	for rows.Next() {
		var d domain.ScanDirectory
		var lastScan int64
		if err := rows.Scan(&d.Dir, &lastScan); err != nil {
			return nil, err
		}
		if lastScan > 0 {
			d.LastScan = time.UnixMilli(lastScan)
		}
		dirs = append(dirs, d)
	}
	return dirs, rows.Err()
}

// Add registers a directory. Adding a known directory is a no-op.
func (r *DirectoryRepo) Add(ctx context.Context, dir string) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO directories (dir, last_scan) VALUES ($1, 0)
		ON CONFLICT (dir) DO NOTHING
	`, dir)
	return err
}

// MarkScanned records when dir was last scanned.
func (r *DirectoryRepo) MarkScanned(ctx context.Context, dir string, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE directories SET last_scan = $2 WHERE dir = $1`, dir, at.UnixMilli())
	return err
}
