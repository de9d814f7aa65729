//go:build integration
// +build integration

package http_test

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	handler "github.com/samirrijal/mapoverlay/internal/adapters/http"
	"github.com/samirrijal/mapoverlay/internal/adapters/postgres"
	"github.com/samirrijal/mapoverlay/internal/core/domain"
	"github.com/samirrijal/mapoverlay/internal/core/ports"
	"github.com/samirrijal/mapoverlay/internal/core/usecases"
	"github.com/samirrijal/mapoverlay/internal/pkg/config"
)

// setupTestDB connects to the test database. The schema must already be
// migrated.
func setupTestDB(t *testing.T) *postgres.DB {
	t.Helper()
	cfg, err := config.Load("overlay-test")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}

// lonLatReader reads "lon,lat" text files in place of image metadata.
type lonLatReader struct{}

func (lonLatReader) ReadLocation(r io.Reader) (ports.PhotoLocation, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return ports.PhotoLocation{}, err
	}
	parts := strings.Split(strings.TrimSpace(string(b)), ",")
	if len(parts) != 2 {
		return ports.PhotoLocation{}, fmt.Errorf("no location")
	}
	lon, err1 := strconv.ParseFloat(parts[0], 64)
	lat, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil {
		return ports.PhotoLocation{}, fmt.Errorf("no location")
	}
	return ports.PhotoLocation{Lon: domain.ToE7(lon), Lat: domain.ToE7(lat)}, nil
}

// TestPhotoScan_Integration scans a directory into the seed store, serves
// the photos layer over HTTP and deletes one photo through the API.
func TestPhotoScan_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := setupTestDB(t)
	photos := postgres.NewPhotoRepo(db)
	dirs := postgres.NewDirectoryRepo(db)

	mount := "/itest-" + time.Now().Format("20060102150405")
	t.Cleanup(func() { _ = photos.DeleteUnder(context.Background(), mount) })

	fsys := afero.NewMemMapFs()
	dcim := path.Join(mount, "DCIM")
	for i, lon := range []string{"-2.935", "-2.936", "-2.937"} {
		name := path.Join(dcim, fmt.Sprintf("img%d.jpg", i))
		if err := afero.WriteFile(fsys, name, []byte(lon+",43.263"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	env := newEnv(t, func(d *handler.Dependencies) { d.DB = db })
	layer, _ := env.overlay.Layer(domain.LayerPhotos)
	indexer := usecases.NewPhotoIndexer(fsys, []string{mount}, photos, dirs, lonLatReader{}, layer)
	env.deps.Photos = indexer

	ctx := context.Background()
	if err := indexer.AddDirectory(ctx, dcim); err != nil {
		t.Fatalf("add directory: %v", err)
	}
	stats, err := indexer.Scan(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if stats.Indexed < 3 {
		t.Fatalf("expected 3 photos indexed, got %+v", stats)
	}

	deadline := time.Now().Add(2 * time.Second)
	for layer.Count() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	r := env.do(t, "GET", "/v1/layers/photos/objects?bbox=-3,43,-2.9,43.5", "")
	if r.status != 200 {
		t.Fatalf("expected 200, got %d: %s", r.status, r.body)
	}
	var page struct {
		Data       []handler.ObjectView `json:"data"`
		Pagination handler.Pagination   `json:"pagination"`
	}
	r.decode(t, &page)
	if page.Pagination.Total != 3 {
		t.Fatalf("expected 3 photos in layer, got %d", page.Pagination.Total)
	}

	key := path.Join(dcim, "img0.jpg")
	if r := env.do(t, "DELETE", "/v1/layers/photos/object?key="+url.QueryEscape(key), ""); r.status != 202 {
		t.Fatalf("expected 202, got %d: %s", r.status, r.body)
	}
	left, err := photos.ListDir(ctx, dcim)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 2 {
		t.Errorf("expected 2 photos left in seed store, got %d", len(left))
	}

	if r := env.do(t, "GET", "/v1/ready", ""); r.status != 200 {
		t.Errorf("ready: expected 200, got %d: %s", r.status, r.body)
	}
}
