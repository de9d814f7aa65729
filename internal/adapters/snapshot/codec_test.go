package snapshot

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/spf13/afero"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
	"github.com/samirrijal/mapoverlay/internal/core/spatial"
)

func sampleObjects(t *testing.T) []domain.Object {
	t.Helper()
	var objs []domain.Object
	for i := range 40 {
		p := &domain.Photo{
			Lon:  int32(-29_300_000 + i*1000),
			Lat:  int32(432_600_000 + i*700),
			Dir:  "/sdcard/DCIM/Camera",
			Name: fmt.Sprintf("IMG_%04d.jpg", i),
		}
		if i%3 == 0 {
			p.Direction, p.HasDirection = int32(i*9%360), true
		}
		objs = append(objs, p)
	}

	f := geojson.NewFeature(orb.LineString{{-2.93, 43.25}, {-2.925, 43.255}, {-2.92, 43.26}})
	f.Properties["key"] = "seq-abc"
	f.Properties["coordinateProperties"] = map[string]interface{}{
		"image_keys": []interface{}{"k1", "k2", "k3"},
	}
	rf, err := domain.NewRemoteFeature(f)
	if err != nil {
		t.Fatal(err)
	}
	objs = append(objs, rf)

	tm := domain.NewTaskMarker(-29_250_000, 432_650_000, "note", "missing crossing")
	tm.Closed = true
	objs = append(objs, tm)
	return objs
}

func buildIndex(t *testing.T, objs []domain.Object, minFanout, maxFanout int) *spatial.Index[domain.Object] {
	t.Helper()
	ix, err := spatial.New[domain.Object](minFanout, maxFanout)
	if err != nil {
		t.Fatal(err)
	}
	for _, o := range objs {
		if err := ix.Insert(o); err != nil {
			t.Fatal(err)
		}
	}
	return ix
}

func keys(ix *spatial.Index[domain.Object]) []string {
	var out []string
	for o := range ix.QueryAll() {
		out = append(out, o.Kind().String()+":"+o.Key())
	}
	sort.Strings(out)
	return out
}

func TestRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(fmt.Sprintf("compress_%v", compress), func(t *testing.T) {
			codec, err := NewCodec(compress)
			if err != nil {
				t.Fatal(err)
			}
			defer codec.Close()

			objs := sampleObjects(t)
			ix := buildIndex(t, objs, 2, 5)

			data, err := codec.Encode(ix.Snapshot())
			if err != nil {
				t.Fatal(err)
			}
			snap, err := codec.Decode(data)
			if err != nil {
				t.Fatal(err)
			}
			restored, err := spatial.FromSnapshot(snap)
			if err != nil {
				t.Fatal(err)
			}

			want, got := keys(ix), keys(restored)
			if fmt.Sprint(want) != fmt.Sprint(got) {
				t.Fatalf("round trip mismatch:\n got %v\nwant %v", got, want)
			}
			if restored.Height() != ix.Height() {
				t.Errorf("expected height %d, got %d", ix.Height(), restored.Height())
			}
			wantExt, _ := ix.Extent()
			gotExt, _ := restored.Extent()
			if wantExt != gotExt {
				t.Errorf("expected extent %v, got %v", wantExt, gotExt)
			}
		})
	}
}

func TestRoundTripPreservesVariantFields(t *testing.T) {
	codec, _ := NewCodec(false)
	defer codec.Close()

	tm := domain.NewTaskMarker(1, 2, "todo", "survey")
	p := &domain.Photo{Lon: 5, Lat: 6, Direction: 270, HasDirection: true, Dir: "d", Name: "n.jpg"}
	ix := buildIndex(t, []domain.Object{tm, p}, 2, 12)

	data, _ := codec.Encode(ix.Snapshot())
	snap, err := codec.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	for _, item := range snap.Root.Items {
		switch o := item.(type) {
		case *domain.TaskMarker:
			if *o != *tm {
				t.Errorf("task marker mismatch: %+v vs %+v", o, tm)
			}
		case *domain.Photo:
			if *o != *p {
				t.Errorf("photo mismatch: %+v vs %+v", o, p)
			}
		default:
			t.Errorf("unexpected object %T", item)
		}
	}
}

func TestEmptySnapshot(t *testing.T) {
	codec, _ := NewCodec(true)
	defer codec.Close()
	ix, _ := spatial.New[domain.Object](2, 12)
	data, err := codec.Encode(ix.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	snap, err := codec.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	restored, err := spatial.FromSnapshot(snap)
	if err != nil {
		t.Fatal(err)
	}
	if restored.Count() != 0 {
		t.Errorf("expected empty index, got %d", restored.Count())
	}
}

func TestLegacyMigration(t *testing.T) {
	codec, _ := NewCodec(true)
	defer codec.Close()

	objs := sampleObjects(t)
	data, err := codec.encodeLegacy(objs)
	if err != nil {
		t.Fatal(err)
	}
	snap, err := codec.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	restored, err := spatial.FromSnapshot(snap)
	if err != nil {
		t.Fatal(err)
	}
	if restored.Count() != len(objs) {
		t.Fatalf("expected %d objects after migration, got %d", len(objs), restored.Count())
	}
	if restored.MaxFanout() != spatial.DefaultMaxFanout {
		t.Errorf("expected default fanout, got %d", restored.MaxFanout())
	}
}

func TestLegacyMigrationSkipsInvalidObjects(t *testing.T) {
	codec, _ := NewCodec(false)
	defer codec.Close()

	good := &domain.Photo{Lon: 10, Lat: 20, Dir: "/sdcard/DCIM", Name: "good.jpg"}
	bad := &domain.Photo{Lon: 1_900_000_000, Lat: 20, Dir: "/sdcard/DCIM", Name: "bad.jpg"}
	data, err := codec.encodeLegacy([]domain.Object{good, bad})
	if err != nil {
		t.Fatal(err)
	}

	snap, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("expected migration to skip the invalid object, got %v", err)
	}
	restored, err := spatial.FromSnapshot(snap)
	if err != nil {
		t.Fatal(err)
	}
	if restored.Count() != 1 {
		t.Fatalf("expected 1 object after migration, got %d", restored.Count())
	}
	for o := range restored.QueryAll() {
		if o.Key() != good.Key() {
			t.Errorf("unexpected object %q", o.Key())
		}
	}
}

func TestDecodeRejects(t *testing.T) {
	codec, _ := NewCodec(false)
	defer codec.Close()

	ix := buildIndex(t, sampleObjects(t), 2, 12)
	good, _ := codec.Encode(ix.Snapshot())

	future := append([]byte(nil), good...)
	binary.BigEndian.PutUint32(future[len(magic):], CurrentVersion+1)

	truncated := good[:len(good)-7]

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, domain.ErrIncompatibleVersion},
		{"bad magic", []byte("NOPE\x00\x00\x00\x02\x00"), domain.ErrIncompatibleVersion},
		{"future version", future, domain.ErrIncompatibleVersion},
		{"unknown flag", append([]byte(magic), 0, 0, 0, 2, 0x80), domain.ErrIncompatibleVersion},
		{"truncated body", truncated, domain.ErrCorruptSnapshot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestBatchRoundTrip(t *testing.T) {
	objs := sampleObjects(t)
	data, err := EncodeBatch(domain.Batch{Layer: domain.LayerPhotos, Objects: objs, Removed: []string{"a/b.jpg"}})
	if err != nil {
		t.Fatal(err)
	}
	b, err := DecodeBatch(data)
	if err != nil {
		t.Fatal(err)
	}
	if b.Layer != domain.LayerPhotos || len(b.Objects) != len(objs) {
		t.Fatalf("unexpected batch: layer=%q objects=%d", b.Layer, len(b.Objects))
	}
	if len(b.Removed) != 1 || b.Removed[0] != "a/b.jpg" {
		t.Errorf("unexpected removed keys %v", b.Removed)
	}
	for i := range objs {
		if b.Objects[i].Key() != objs[i].Key() || b.Objects[i].Bounds() != objs[i].Bounds() {
			t.Errorf("object %d differs after round trip", i)
		}
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	codec, _ := NewCodec(true)
	defer codec.Close()
	fsys := afero.NewMemMapFs()
	store, err := NewStore(fsys, "/state", codec)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := store.Load(ctx, "photos"); !errors.Is(err, domain.ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}

	ix := buildIndex(t, sampleObjects(t), 2, 12)
	if err := store.Save(ctx, "photos", ix.Snapshot()); err != nil {
		t.Fatal(err)
	}
	if ok, _ := afero.Exists(fsys, "/state/photos.res.tmp"); ok {
		t.Error("temporary file left behind")
	}

	snap, err := store.Load(ctx, "photos")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Count != ix.Count() {
		t.Errorf("expected count %d, got %d", ix.Count(), snap.Count)
	}

	if err := store.Delete(ctx, "photos"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "photos"); err != nil {
		t.Errorf("deleting a missing file should succeed, got %v", err)
	}
	if _, err := store.Load(ctx, "photos"); !errors.Is(err, domain.ErrNoSnapshot) {
		t.Errorf("expected ErrNoSnapshot after delete, got %v", err)
	}
}

func TestStoreWriteFailure(t *testing.T) {
	codec, _ := NewCodec(false)
	defer codec.Close()
	store := &Store{fs: afero.NewReadOnlyFs(afero.NewMemMapFs()), dir: "/state", codec: codec}
	ix := buildIndex(t, sampleObjects(t)[:3], 2, 12)
	err := store.Save(context.Background(), "photos", ix.Snapshot())
	var perr *domain.PersistenceError
	if !errors.As(err, &perr) || perr.Op != "write" {
		t.Fatalf("expected write PersistenceError, got %v", err)
	}
}

func TestStoreCancelledContext(t *testing.T) {
	codec, _ := NewCodec(false)
	defer codec.Close()
	store, err := NewStore(afero.NewMemMapFs(), "/state", codec)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ix := buildIndex(t, sampleObjects(t)[:3], 2, 12)
	err = store.Save(ctx, "photos", ix.Snapshot())
	var perr *domain.PersistenceError
	if !errors.As(err, &perr) || perr.Op != "write" || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected write PersistenceError wrapping context.Canceled, got %v", err)
	}
	if ok, _ := afero.Exists(store.fs, store.Path("photos")); ok {
		t.Error("cancelled save must not write the state file")
	}

	_, err = store.Load(ctx, "photos")
	if !errors.As(err, &perr) || perr.Op != "read" || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected read PersistenceError wrapping context.Canceled, got %v", err)
	}
}
