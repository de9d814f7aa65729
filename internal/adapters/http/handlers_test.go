package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/spf13/afero"

	handler "github.com/samirrijal/mapoverlay/internal/adapters/http"
	"github.com/samirrijal/mapoverlay/internal/adapters/snapshot"
	"github.com/samirrijal/mapoverlay/internal/core/domain"
	"github.com/samirrijal/mapoverlay/internal/core/usecases"
)

// ---- Test helpers ----

type testEnv struct {
	app     *fiber.App
	overlay *usecases.Overlay
	deps    *handler.Dependencies
}

func newEnv(t *testing.T, opts ...func(*handler.Dependencies)) *testEnv {
	t.Helper()

	codec, err := snapshot.NewCodec(false)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(codec.Close)
	store, err := snapshot.NewStore(afero.NewMemMapFs(), "/state", codec)
	if err != nil {
		t.Fatal(err)
	}

	var layers []*usecases.Layer
	for _, name := range []string{domain.LayerPhotos, domain.LayerMapillary, domain.LayerTasks} {
		l, err := usecases.NewLayer(name, usecases.LayerOptions{Store: store})
		if err != nil {
			t.Fatal(err)
		}
		layers = append(layers, l)
	}
	ov := usecases.NewOverlay(layers...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ov.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	tasks, _ := ov.Layer(domain.LayerTasks)
	deps := &handler.Dependencies{
		Overlay: ov,
		Tasks:   usecases.NewTaskService(tasks),
	}
	for _, o := range opts {
		o(deps)
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.SetupRoutes(app, deps)
	return &testEnv{app: app, overlay: ov, deps: deps}
}

func (e *testEnv) insert(t *testing.T, layer string, objs ...domain.Object) {
	t.Helper()
	l, err := e.overlay.Layer(layer)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.SubmitWait(context.Background(), domain.Batch{Layer: layer, Objects: objs}); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *fiberResponse {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return &fiberResponse{status: resp.StatusCode, body: b, etag: resp.Header.Get("ETag"), link: resp.Header.Get("Link")}
}

type fiberResponse struct {
	status int
	body   []byte
	etag   string
	link   string
}

func (r *fiberResponse) decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(r.body, v); err != nil {
		t.Fatalf("decode %s: %v", r.body, err)
	}
}

func photo(name string, lon, lat float64) *domain.Photo {
	return &domain.Photo{Lon: domain.ToE7(lon), Lat: domain.ToE7(lat), Dir: "/sdcard/DCIM", Name: name}
}

func expectCode(t *testing.T, r *fiberResponse, status int, code string) {
	t.Helper()
	if r.status != status {
		t.Fatalf("expected %d, got %d: %s", status, r.status, r.body)
	}
	var apiErr handler.APIError
	r.decode(t, &apiErr)
	if apiErr.Code != code {
		t.Errorf("expected %s error, got %q", code, apiErr.Code)
	}
}

// ---- Layer handler tests ----

func TestListLayers(t *testing.T) {
	env := newEnv(t)
	env.insert(t, domain.LayerPhotos, photo("a.jpg", 10, 50), photo("b.jpg", 11, 51))

	r := env.do(t, "GET", "/v1/layers", "")
	if r.status != 200 {
		t.Fatalf("expected 200, got %d", r.status)
	}
	var infos []domain.LayerInfo
	r.decode(t, &infos)
	if len(infos) != 3 {
		t.Fatalf("expected 3 layers, got %d", len(infos))
	}
	if infos[0].Name != domain.LayerPhotos || infos[0].Count != 2 || !infos[0].Dirty {
		t.Errorf("unexpected photos info: %+v", infos[0])
	}
	if infos[0].Extent == nil || infos[0].Extent.MaxLat < 50.99 {
		t.Errorf("unexpected extent: %+v", infos[0].Extent)
	}
}

func TestGetLayer_Unknown(t *testing.T) {
	env := newEnv(t)
	expectCode(t, env.do(t, "GET", "/v1/layers/nope", ""), 404, "not_found")
}

func TestLayerObjects_BBoxAndPagination(t *testing.T) {
	env := newEnv(t)
	var objs []domain.Object
	for i := range 5 {
		objs = append(objs, photo(fmt.Sprintf("in%d.jpg", i), 10+float64(i)*0.01, 50))
	}
	objs = append(objs, photo("out.jpg", -20, -20))
	env.insert(t, domain.LayerPhotos, objs...)

	r := env.do(t, "GET", "/v1/layers/photos/objects?bbox=9.5,49.5,10.5,50.5&offset=2&limit=2", "")
	if r.status != 200 {
		t.Fatalf("expected 200, got %d: %s", r.status, r.body)
	}
	var page struct {
		Data       []handler.ObjectView `json:"data"`
		Pagination handler.Pagination   `json:"pagination"`
	}
	r.decode(t, &page)
	if page.Pagination.Total != 5 {
		t.Errorf("expected total 5, got %d", page.Pagination.Total)
	}
	if len(page.Data) != 2 {
		t.Errorf("expected 2 objects in page, got %d", len(page.Data))
	}
	for _, v := range page.Data {
		if v.Kind != "photo" || v.Lat == nil || *v.Lat != 50 {
			t.Errorf("unexpected view: %+v", v)
		}
	}
	if !strings.Contains(r.link, `rel="next"`) {
		t.Errorf("expected next link, got %q", r.link)
	}
	if !strings.Contains(r.link, "bbox=") {
		t.Errorf("expected links to keep the bbox filter, got %q", r.link)
	}

	all := env.do(t, "GET", "/v1/layers/photos/objects", "")
	all.decode(t, &page)
	if page.Pagination.Total != 6 {
		t.Errorf("expected 6 objects without bbox, got %d", page.Pagination.Total)
	}
}

func TestLayerObjects_BadBBox(t *testing.T) {
	env := newEnv(t)
	cases := []string{
		"1,2,3",
		"a,b,c,d",
		"10,50,9,51",
		"-181,0,0,1",
	}
	for _, bbox := range cases {
		t.Run(bbox, func(t *testing.T) {
			r := env.do(t, "GET", "/v1/layers/photos/objects?bbox="+url.QueryEscape(bbox), "")
			expectCode(t, r, 400, "bad_request")
		})
	}
}

func TestLayerExtent(t *testing.T) {
	env := newEnv(t)
	expectCode(t, env.do(t, "GET", "/v1/layers/photos/extent", ""), 404, "not_found")

	env.insert(t, domain.LayerPhotos, photo("a.jpg", 10, 50), photo("b.jpg", 12, 52))
	r := env.do(t, "GET", "/v1/layers/photos/extent", "")
	if r.status != 200 {
		t.Fatalf("expected 200, got %d", r.status)
	}
	var b domain.Bounds
	r.decode(t, &b)
	if b.MinLon != 10 || b.MaxLon != 12 || b.MinLat != 50 || b.MaxLat != 52 {
		t.Errorf("unexpected extent: %+v", b)
	}
}

func TestHitTest(t *testing.T) {
	env := newEnv(t)
	env.insert(t, domain.LayerPhotos,
		photo("far.jpg", 10.0001, 50),
		photo("near.jpg", 10, 50),
		photo("away.jpg", 11, 50),
	)

	r := env.do(t, "GET", "/v1/layers/photos/hit?lat=50&lon=10.00002&radius=25", "")
	if r.status != 200 {
		t.Fatalf("expected 200, got %d: %s", r.status, r.body)
	}
	var hits []handler.HitView
	r.decode(t, &hits)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Object.Name != "near.jpg" || hits[1].Object.Name != "far.jpg" {
		t.Errorf("hits not ordered by distance: %s, %s", hits[0].Object.Name, hits[1].Object.Name)
	}
	if hits[0].Distance > hits[1].Distance {
		t.Errorf("distances out of order: %f > %f", hits[0].Distance, hits[1].Distance)
	}
}

func TestHitTest_BadParams(t *testing.T) {
	env := newEnv(t)
	expectCode(t, env.do(t, "GET", "/v1/layers/photos/hit", ""), 400, "bad_request")
	expectCode(t, env.do(t, "GET", "/v1/layers/photos/hit?lat=50&lon=10&radius=50000", ""), 400, "bad_request")
}

func TestGetAndDeleteObject(t *testing.T) {
	env := newEnv(t)
	marker := domain.NewTaskMarker(domain.ToE7(10), domain.ToE7(50), "fixme", "check sign")
	env.insert(t, domain.LayerTasks, marker)

	target := "/v1/layers/tasks/object?key=" + marker.Key()
	r := env.do(t, "GET", target, "")
	if r.status != 200 {
		t.Fatalf("expected 200, got %d", r.status)
	}
	var v handler.ObjectView
	r.decode(t, &v)
	if v.Title != "check sign" || v.Closed == nil || *v.Closed {
		t.Errorf("unexpected view: %+v", v)
	}

	if r := env.do(t, "DELETE", target, ""); r.status != 204 {
		t.Fatalf("expected 204, got %d", r.status)
	}
	expectCode(t, env.do(t, "GET", target, ""), 404, "not_found")
	expectCode(t, env.do(t, "DELETE", target, ""), 404, "not_found")
	expectCode(t, env.do(t, "GET", "/v1/layers/tasks/object", ""), 400, "bad_request")
}

// ---- Persistence handler tests ----

func TestSaveRestoreDiscard(t *testing.T) {
	env := newEnv(t)
	env.insert(t, domain.LayerPhotos, photo("a.jpg", 10, 50))

	result := func(r *fiberResponse) string {
		t.Helper()
		if r.status != 200 {
			t.Fatalf("expected 200, got %d: %s", r.status, r.body)
		}
		var out struct {
			Result string `json:"result"`
		}
		r.decode(t, &out)
		return out.Result
	}

	if got := result(env.do(t, "POST", "/v1/layers/photos/save", "")); got != "written" {
		t.Errorf("first save: got %q", got)
	}
	if got := result(env.do(t, "POST", "/v1/layers/photos/save", "")); got != "skipped_clean" {
		t.Errorf("second save: got %q", got)
	}
	if got := result(env.do(t, "POST", "/v1/layers/photos/restore", "")); got != "skipped_not_empty" {
		t.Errorf("restore over data: got %q", got)
	}

	if r := env.do(t, "DELETE", "/v1/layers/photos", ""); r.status != 204 {
		t.Fatalf("discard: expected 204, got %d", r.status)
	}
	var info domain.LayerInfo
	env.do(t, "GET", "/v1/layers/photos", "").decode(t, &info)
	if info.Count != 0 || info.Dirty {
		t.Errorf("expected empty clean layer after discard, got %+v", info)
	}
	if got := result(env.do(t, "POST", "/v1/layers/photos/restore", "")); got != "no_snapshot" {
		t.Errorf("restore after discard: got %q", got)
	}
}

// ---- Task handler tests ----

func TestCreateAndCloseTask(t *testing.T) {
	env := newEnv(t)

	r := env.do(t, "POST", "/v1/tasks", `{"lat":50.1,"lon":10.2,"category":"note","title":"bench missing"}`)
	if r.status != 201 {
		t.Fatalf("expected 201, got %d: %s", r.status, r.body)
	}
	var created handler.ObjectView
	r.decode(t, &created)
	if created.Kind != "task_marker" || created.Key == "" {
		t.Fatalf("unexpected created view: %+v", created)
	}

	r = env.do(t, "POST", "/v1/tasks/"+created.Key+"/close", "")
	if r.status != 200 {
		t.Fatalf("expected 200, got %d: %s", r.status, r.body)
	}
	var closed handler.ObjectView
	r.decode(t, &closed)
	if closed.Closed == nil || !*closed.Closed {
		t.Errorf("expected closed task, got %+v", closed)
	}

	l, _ := env.overlay.Layer(domain.LayerTasks)
	if l.Count() != 1 {
		t.Errorf("expected closed task to replace the open one, count=%d", l.Count())
	}
}

func TestTaskErrors(t *testing.T) {
	env := newEnv(t)
	expectCode(t, env.do(t, "POST", "/v1/tasks", `{"lat":50,"lon":10}`), 400, "bad_request")
	expectCode(t, env.do(t, "POST", "/v1/tasks", `{"lat":95,"lon":10,"title":"x"}`), 400, "bad_request")
	expectCode(t, env.do(t, "POST", "/v1/tasks/not-a-uuid/close", ""), 400, "bad_request")
	expectCode(t, env.do(t, "POST", "/v1/tasks/6f1c1a52-3f6c-4e0e-9a77-3b0f4f2c1d10/close", ""), 404, "not_found")
}

// ---- Feature handler tests ----

func TestFetchFeatures_Unavailable(t *testing.T) {
	env := newEnv(t)
	expectCode(t, env.do(t, "POST", "/v1/features/fetch?bbox=10,50,11,51", ""), 503, "unavailable")
}

func TestExportFeatures(t *testing.T) {
	env := newEnv(t)
	f := geojson.NewFeature(orb.LineString{{10, 50}, {10.001, 50.001}})
	f.Properties["key"] = "seq-1"
	rf, err := domain.NewRemoteFeature(f)
	if err != nil {
		t.Fatal(err)
	}
	env.insert(t, domain.LayerMapillary, rf)

	r := env.do(t, "GET", "/v1/features?bbox=9,49,11,51", "")
	if r.status != 200 {
		t.Fatalf("expected 200, got %d: %s", r.status, r.body)
	}
	fc, err := geojson.UnmarshalFeatureCollection(r.body)
	if err != nil {
		t.Fatal(err)
	}
	if len(fc.Features) != 1 || fc.Features[0].Properties.MustString("key") != "seq-1" {
		t.Errorf("unexpected collection: %s", r.body)
	}

	r = env.do(t, "GET", "/v1/features?bbox=20,20,21,21", "")
	fc, _ = geojson.UnmarshalFeatureCollection(r.body)
	if len(fc.Features) != 0 {
		t.Errorf("expected no features outside bbox, got %d", len(fc.Features))
	}
}

// ---- Middleware and misc ----

func TestETag_NotModified(t *testing.T) {
	env := newEnv(t)
	env.insert(t, domain.LayerPhotos, photo("a.jpg", 10, 50))

	first := env.do(t, "GET", "/v1/layers", "")
	if first.etag == "" {
		t.Fatal("expected ETag header")
	}

	req := httptest.NewRequest("GET", "/v1/layers", nil)
	req.Header.Set("If-None-Match", first.etag)
	resp, err := env.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 304 {
		t.Errorf("expected 304, got %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	env := newEnv(t)
	env.insert(t, domain.LayerTasks, domain.NewTaskMarker(0, 0, "", "t"))

	r := env.do(t, "GET", "/v1/health", "")
	if r.status != 200 {
		t.Fatalf("expected 200, got %d", r.status)
	}
	var out struct {
		Status string         `json:"status"`
		Layers map[string]int `json:"layers"`
	}
	r.decode(t, &out)
	if out.Status != "healthy" || out.Layers[domain.LayerTasks] != 1 {
		t.Errorf("unexpected health: %+v", out)
	}

	if r := env.do(t, "GET", "/v1/ready", ""); r.status != 200 {
		t.Errorf("ready: expected 200 with only the overlay configured, got %d: %s", r.status, r.body)
	}
}

func TestServicesUnavailable(t *testing.T) {
	env := newEnv(t, func(d *handler.Dependencies) { d.Overlay = nil; d.Tasks = nil })
	expectCode(t, env.do(t, "GET", "/v1/layers", ""), 503, "unavailable")
	expectCode(t, env.do(t, "GET", "/v1/layers/photos/objects", ""), 503, "unavailable")
	expectCode(t, env.do(t, "POST", "/v1/tasks", `{"lat":1,"lon":1,"title":"x"}`), 503, "unavailable")
	expectCode(t, env.do(t, "POST", "/v1/photos", `{"path":"/x.jpg"}`), 503, "unavailable")
}

func TestGraphQL(t *testing.T) {
	env := newEnv(t)
	env.insert(t, domain.LayerPhotos, photo("a.jpg", 10, 50), photo("b.jpg", 30, 30))

	query := `{"query":"{ layers { name count } objects(layer: \"photos\", bbox: \"9,49,11,51\") { key lat lon bounds { min_lat } } }"}`
	r := env.do(t, "POST", "/graphql", query)
	if r.status != 200 {
		t.Fatalf("expected 200, got %d", r.status)
	}
	var out struct {
		Data struct {
			Layers []struct {
				Name  string `json:"name"`
				Count int    `json:"count"`
			} `json:"layers"`
			Objects []struct {
				Key    string  `json:"key"`
				Lat    float64 `json:"lat"`
				Bounds struct {
					MinLat float64 `json:"min_lat"`
				} `json:"bounds"`
			} `json:"objects"`
		} `json:"data"`
		Errors []any `json:"errors"`
	}
	r.decode(t, &out)
	if len(out.Errors) > 0 {
		t.Fatalf("graphql errors: %v", out.Errors)
	}
	if len(out.Data.Layers) != 3 || out.Data.Layers[0].Count != 2 {
		t.Errorf("unexpected layers: %+v", out.Data.Layers)
	}
	if len(out.Data.Objects) != 1 || out.Data.Objects[0].Key != "/sdcard/DCIM/a.jpg" || out.Data.Objects[0].Bounds.MinLat != 50 {
		t.Errorf("unexpected objects: %+v", out.Data.Objects)
	}
}
