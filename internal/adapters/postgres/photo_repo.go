package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
)

// PhotoRepo implements ports.PhotoRepository with pgx.
type PhotoRepo struct {
	db *DB
}

// NewPhotoRepo creates a new PhotoRepo.
func NewPhotoRepo(db *DB) *PhotoRepo {
	return &PhotoRepo{db: db}
}

const upsertPhoto = `
	INSERT INTO photos (lat, lon, direction, dir, name)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (dir, name) DO UPDATE
	SET lat = EXCLUDED.lat, lon = EXCLUDED.lon, direction = EXCLUDED.direction
`

// Insert inserts or updates a single photo.
func (r *PhotoRepo) Insert(ctx context.Context, p *domain.Photo) error {
	_, err := r.db.Pool.Exec(ctx, upsertPhoto, p.Lat, p.Lon, direction(p), p.Dir, p.Name)
	return err
}

// InsertBatch inserts many photos using pgx.Batch.
func (r *PhotoRepo) InsertBatch(ctx context.Context, photos []domain.Photo) error {
	batch := &pgx.Batch{}
	for i := range photos {
		p := &photos[i]
		batch.Queue(upsertPhoto, p.Lat, p.Lon, direction(p), p.Dir, p.Name)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range photos {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec: %w", err)
		}
	}
	return nil
}

func direction(p *domain.Photo) *int32 {
	if !p.HasDirection {
		return nil
	}
	d := p.Direction
	return &d
}

// Delete removes one photo.
func (r *PhotoRepo) Delete(ctx context.Context, dir, name string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM photos WHERE dir = $1 AND name = $2`, dir, name)
	return err
}

// ListDir returns the photos directly inside dir.
func (r *PhotoRepo) ListDir(ctx context.Context, dir string) ([]domain.Photo, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT lat, lon, direction, dir, name
		FROM photos WHERE dir = $1
		ORDER BY name
	`, dir)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var photos []domain.Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

// DeleteByDir removes the photos directly inside dir.
func (r *PhotoRepo) DeleteByDir(ctx context.Context, dir string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM photos WHERE dir = $1`, dir)
	return err
}

// DeleteUnder removes the photos in dir and all of its subdirectories.
func (r *PhotoRepo) DeleteUnder(ctx context.Context, dir string) error {
	_, err := r.db.Pool.Exec(ctx, `
		DELETE FROM photos WHERE dir = $1 OR dir LIKE $2 ESCAPE '\'
	`, dir, subdirPattern(dir))
	return err
}

// DirsUnder lists the distinct directories at or below dir that hold photos.
func (r *PhotoRepo) DirsUnder(ctx context.Context, dir string) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT DISTINCT dir FROM photos
		WHERE dir = $1 OR dir LIKE $2 ESCAPE '\'
		ORDER BY dir
	`, dir, subdirPattern(dir))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Stream calls fn for every stored photo, stopping at the first error.
func (r *PhotoRepo) Stream(ctx context.Context, fn func(*domain.Photo) error) error {
	rows, err := r.db.Pool.Query(ctx, `SELECT lat, lon, direction, dir, name FROM photos`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return err
		}
		if err := fn(&p); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count returns the number of stored photos.
func (r *PhotoRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx, `SELECT count(*) FROM photos`).Scan(&n)
	return n, err
}

func scanPhoto(rows pgx.Rows) (domain.Photo, error) {
	var p domain.Photo
	var dir *int32
	if err := rows.Scan(&p.Lat, &p.Lon, &dir, &p.Dir, &p.Name); err != nil {
		return domain.Photo{}, err
	}
	if dir != nil {
		p.Direction, p.HasDirection = *dir, true
	}
	return p, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// subdirPattern matches every path strictly below dir.
func subdirPattern(dir string) string {
	return likeEscaper.Replace(strings.TrimSuffix(dir, "/")) + "/%"
}
