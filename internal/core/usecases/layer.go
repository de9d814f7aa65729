package usecases

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
	"github.com/samirrijal/mapoverlay/internal/core/ports"
	"github.com/samirrijal/mapoverlay/internal/core/spatial"
	"github.com/samirrijal/mapoverlay/internal/pkg/metrics"
	"github.com/samirrijal/mapoverlay/internal/pkg/telemetry"
)

var tracer = otel.Tracer("github.com/samirrijal/mapoverlay/internal/core/usecases")

// LayerOptions configures a Layer.
type LayerOptions struct {
	MinFanout int
	MaxFanout int
	// InboxSize is the number of batches that can wait for the owner.
	InboxSize int
	Store     ports.SnapshotStore
	// Rebuilder is asked to repopulate the layer when its snapshot is unusable.
	Rebuilder ports.Rebuilder
	Events    ports.EventPublisher
}

type insertRequest struct {
	batch domain.Batch
	done  chan domain.InsertEvent
}

// Layer is one overlay: a spatial index plus its persistence and the
// discipline around it.
//
// Inserts are applied only by the goroutine running Run; everything else
// hands batches over with Submit. Readers and the owner are serialised by mu.
// Save, Restore and Discard are serialised by guard, which Save and Discard
// only try to acquire.
type Layer struct {
	name      string
	minFanout int
	maxFanout int
	store     ports.SnapshotStore
	rebuilder ports.Rebuilder
	events    ports.EventPublisher
	log       *slog.Logger

	inbox chan insertRequest

	mu       sync.RWMutex
	ix       *spatial.Index[domain.Object]
	gen      uint64 // bumped on every mutation
	savedGen uint64 // gen at the last successful save or restore

	guard sync.Mutex
}

// NewLayer creates an empty layer.
func NewLayer(name string, opts LayerOptions) (*Layer, error) {
	if opts.MinFanout == 0 && opts.MaxFanout == 0 {
		opts.MinFanout, opts.MaxFanout = spatial.DefaultMinFanout, spatial.DefaultMaxFanout
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 64
	}
	if opts.Store == nil {
		return nil, errors.New("layer needs a snapshot store")
	}
	ix, err := spatial.New[domain.Object](opts.MinFanout, opts.MaxFanout)
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", name, err)
	}
	return &Layer{
		name:      name,
		minFanout: opts.MinFanout,
		maxFanout: opts.MaxFanout,
		store:     opts.Store,
		rebuilder: opts.Rebuilder,
		events:    opts.Events,
		log:       slog.Default().With("layer", name),
		inbox:     make(chan insertRequest, opts.InboxSize),
		ix:        ix,
	}, nil
}

// Name returns the layer name.
func (l *Layer) Name() string { return l.name }

// Submit queues a batch for the owner goroutine. It blocks while the inbox
// is full.
func (l *Layer) Submit(ctx context.Context, batch domain.Batch) error {
	select {
	case l.inbox <- insertRequest{batch: batch}:
		metrics.InboxDepth.WithLabelValues(l.name).Set(float64(len(l.inbox)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitWait queues a batch and waits until the owner has applied it.
func (l *Layer) SubmitWait(ctx context.Context, batch domain.Batch) (domain.InsertEvent, error) {
	done := make(chan domain.InsertEvent, 1)
	select {
	case l.inbox <- insertRequest{batch: batch, done: done}:
	case <-ctx.Done():
		return domain.InsertEvent{}, ctx.Err()
	}
	select {
	case ev := <-done:
		return ev, nil
	case <-ctx.Done():
		return domain.InsertEvent{}, ctx.Err()
	}
}

// Apply is SubmitWait without the event, for handlers that must not report
// success before the batch is in the index.
func (l *Layer) Apply(ctx context.Context, batch domain.Batch) error {
	_, err := l.SubmitWait(ctx, batch)
	return err
}

// Run owns the index: it is the only code path that inserts. When ctx is
// cancelled it applies the batches already queued and returns, so a final
// Save sees every accepted batch.
func (l *Layer) Run(ctx context.Context) {
	l.log.Info("layer owner started")
	for {
		select {
		case <-ctx.Done():
			drained := l.drain(context.WithoutCancel(ctx))
			l.log.Info("layer owner stopped", "drained_batches", drained)
			return
		case req := <-l.inbox:
			metrics.InboxDepth.WithLabelValues(l.name).Set(float64(len(l.inbox)))
			l.handle(ctx, req)
		}
	}
}

func (l *Layer) handle(ctx context.Context, req insertRequest) {
	ev := l.apply(ctx, req.batch)
	if req.done != nil {
		req.done <- ev
	}
}

// drain applies whatever is queued without waiting for more.
func (l *Layer) drain(ctx context.Context) int {
	n := 0
	for {
		select {
		case req := <-l.inbox:
			l.handle(ctx, req)
			n++
		default:
			metrics.InboxDepth.WithLabelValues(l.name).Set(0)
			return n
		}
	}
}

func (l *Layer) apply(ctx context.Context, batch domain.Batch) domain.InsertEvent {
	ev := domain.InsertEvent{Layer: l.name, At: time.Now()}

	l.mu.Lock()
	if len(batch.Removed) > 0 {
		ev.Removed = l.removeKeysLocked(batch.Removed)
	}
	for _, obj := range batch.Objects {
		if err := l.ix.Insert(obj); err != nil {
			ev.Rejected++
			l.log.Warn("object rejected", "kind", obj.Kind().String(), "key", obj.Key(), "error", err)
			continue
		}
		ev.Inserted++
	}
	if ev.Inserted > 0 {
		l.gen++
	}
	ev.Count = l.ix.Count()
	if ext, ok := l.ix.Extent(); ok {
		d := ext.Degrees()
		ev.Extent = &d
	}
	l.mu.Unlock()

	metrics.ObjectsInserted.WithLabelValues(l.name).Add(float64(ev.Inserted))
	metrics.ObjectsRejected.WithLabelValues(l.name).Add(float64(ev.Rejected))
	metrics.LayerObjects.WithLabelValues(l.name).Set(float64(ev.Count))

	if l.events != nil && ev.Inserted+ev.Removed > 0 {
		if err := l.events.PublishInsertEvent(ctx, ev); err != nil {
			l.log.Warn("publish insert event failed", "error", err)
		}
	}
	return ev
}

// Query returns the objects intersecting box, at most limit of them when
// limit is positive.
func (l *Layer) Query(box domain.BoundingBox, limit int) []domain.Object {
	defer observe(l.name, "query", time.Now())
	l.mu.RLock()
	defer l.mu.RUnlock()
	return collect(l.ix.Query(box), limit)
}

// All returns every object, at most limit of them when limit is positive.
func (l *Layer) All(limit int) []domain.Object {
	defer observe(l.name, "all", time.Now())
	l.mu.RLock()
	defer l.mu.RUnlock()
	return collect(l.ix.QueryAll(), limit)
}

func collect(seq iter.Seq[domain.Object], limit int) []domain.Object {
	var out []domain.Object
	for obj := range seq {
		out = append(out, obj)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func observe(layer, op string, start time.Time) {
	metrics.QueryDuration.WithLabelValues(layer, op).Observe(time.Since(start).Seconds())
}

// Get looks an object up by key.
func (l *Layer) Get(key string) (domain.Object, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.findLocked(key)
}

func (l *Layer) findLocked(key string) (domain.Object, bool) {
	for obj := range l.ix.QueryAll() {
		if obj.Key() == key {
			return obj, true
		}
	}
	return nil, false
}

// removeKeysLocked removes one object per key, locating all of them in a
// single pass over the index.
func (l *Layer) removeKeysLocked(keys []string) int {
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	var found []domain.Object
	for obj := range l.ix.QueryAll() {
		if k := obj.Key(); want[k] {
			found = append(found, obj)
			delete(want, k)
			if len(want) == 0 {
				break
			}
		}
	}
	removed := 0
	for _, obj := range found {
		if l.removeLocked(obj.Bounds(), obj.Kind(), obj.Key()) {
			removed++
		}
	}
	return removed
}

// Count returns the number of objects; a layer with objects is enabled.
func (l *Layer) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ix.Count()
}

// Extent returns the union of all object boxes.
func (l *Layer) Extent() (domain.BoundingBox, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ix.Extent()
}

// Dirty reports whether the layer changed since its last save or restore.
func (l *Layer) Dirty() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.gen != l.savedGen
}

// Info summarises the layer.
func (l *Layer) Info() domain.LayerInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	info := domain.LayerInfo{
		Name:   l.name,
		Count:  l.ix.Count(),
		Height: l.ix.Height(),
		Dirty:  l.gen != l.savedGen,
	}
	if ext, ok := l.ix.Extent(); ok {
		d := ext.Degrees()
		info.Extent = &d
	}
	return info
}

// Remove deletes the object with the same kind and key as obj.
func (l *Layer) Remove(obj domain.Object) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.removeLocked(obj.Bounds(), obj.Kind(), obj.Key())
}

// RemoveKey deletes the object with the given key.
func (l *Layer) RemoveKey(key string) (domain.Object, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	found, ok := l.findLocked(key)
	if !ok {
		return nil, false
	}
	return found, l.removeLocked(found.Bounds(), found.Kind(), key)
}

func (l *Layer) removeLocked(box domain.BoundingBox, kind domain.ObjectKind, key string) bool {
	_, ok := l.ix.Remove(box, func(o domain.Object) bool {
		return o.Kind() == kind && o.Key() == key
	})
	if ok {
		l.gen++
		metrics.LayerObjects.WithLabelValues(l.name).Set(float64(l.ix.Count()))
	}
	return ok
}

// Save writes the layer to its store. It never waits: when the layer is
// clean, or when a restore or another save holds the guard, it returns a
// skipped result without touching storage. A failed save leaves the layer
// dirty.
func (l *Layer) Save(ctx context.Context) (domain.SaveResult, error) {
	ctx, span := tracer.Start(ctx, "layer.save", trace.WithAttributes(telemetry.AttrLayer.String(l.name)))
	defer span.End()

	if !l.Dirty() {
		l.recordSave(span, domain.SaveSkippedClean)
		return domain.SaveSkippedClean, nil
	}
	if !l.guard.TryLock() {
		l.log.Info("save skipped, layer busy")
		l.recordSave(span, domain.SaveSkippedLocked)
		return domain.SaveSkippedLocked, nil
	}
	defer l.guard.Unlock()

	start := time.Now()
	l.mu.RLock()
	snap := l.ix.Snapshot()
	gen := l.gen
	l.mu.RUnlock()

	if err := l.store.Save(ctx, l.name, snap); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		l.recordSave(span, domain.SaveFailed)
		return domain.SaveFailed, err
	}

	l.mu.Lock()
	if gen > l.savedGen {
		l.savedGen = gen
	}
	l.mu.Unlock()

	metrics.SnapshotDuration.WithLabelValues(l.name, "save").Observe(time.Since(start).Seconds())
	l.recordSave(span, domain.SaveWritten)
	l.log.Info("layer saved", "objects", snap.Count, "duration", time.Since(start))
	return domain.SaveWritten, nil
}

func (l *Layer) recordSave(span trace.Span, r domain.SaveResult) {
	span.SetAttributes(telemetry.AttrResult.String(r.String()))
	metrics.SnapshotSaves.WithLabelValues(l.name, r.String()).Inc()
}

// Restore replaces the index with the saved snapshot. It waits for the
// guard, and it never merges: a layer that already holds objects is left
// alone. An unusable snapshot leaves the layer empty and asks the rebuilder
// to repopulate it.
func (l *Layer) Restore(ctx context.Context) (domain.RestoreResult, error) {
	ctx, span := tracer.Start(ctx, "layer.restore", trace.WithAttributes(telemetry.AttrLayer.String(l.name)))
	defer span.End()

	l.guard.Lock()
	defer l.guard.Unlock()

	res, err := l.restore(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "restore failed")
	}
	span.SetAttributes(telemetry.AttrResult.String(res.String()))
	metrics.SnapshotRestores.WithLabelValues(l.name, res.String()).Inc()
	return res, err
}

func (l *Layer) restore(ctx context.Context) (domain.RestoreResult, error) {
	if l.Count() > 0 {
		return domain.RestoreSkippedNotEmpty, nil
	}

	start := time.Now()
	snap, err := l.store.Load(ctx, l.name)
	switch {
	case errors.Is(err, domain.ErrNoSnapshot):
		return domain.RestoreNoSnapshot, nil
	case errors.Is(err, domain.ErrIncompatibleVersion), errors.Is(err, domain.ErrCorruptSnapshot):
		return l.requestRebuild(ctx, err)
	case err != nil:
		return domain.RestoreFailed, err
	}

	ix, err := spatial.FromSnapshot(snap)
	if err != nil {
		return l.requestRebuild(ctx, fmt.Errorf("%w: %v", domain.ErrCorruptSnapshot, err))
	}
	if ix.MinFanout() != l.minFanout || ix.MaxFanout() != l.maxFanout {
		l.log.Info("re-inserting snapshot with configured fanout",
			"saved_min", ix.MinFanout(), "saved_max", ix.MaxFanout())
		if ix, err = spatial.Rebuild(ix, l.minFanout, l.maxFanout); err != nil {
			return l.requestRebuild(ctx, fmt.Errorf("%w: %v", domain.ErrCorruptSnapshot, err))
		}
	}

	l.mu.Lock()
	if l.ix.Count() > 0 {
		// Objects arrived while the file was being read.
		l.mu.Unlock()
		return domain.RestoreSkippedNotEmpty, nil
	}
	l.ix = ix
	l.savedGen = l.gen
	count := ix.Count()
	l.mu.Unlock()

	metrics.LayerObjects.WithLabelValues(l.name).Set(float64(count))
	metrics.SnapshotDuration.WithLabelValues(l.name, "restore").Observe(time.Since(start).Seconds())
	l.log.Info("layer restored", "objects", count, "duration", time.Since(start))
	return domain.Restored, nil
}

func (l *Layer) requestRebuild(ctx context.Context, cause error) (domain.RestoreResult, error) {
	l.log.Warn("saved state unusable, starting empty", "error", cause)
	if l.rebuilder == nil {
		return domain.RestoreRebuild, nil
	}
	if err := l.rebuilder.Rebuild(ctx, l.name); err != nil {
		return domain.RestoreRebuild, fmt.Errorf("request rebuild: %w", err)
	}
	return domain.RestoreRebuild, nil
}

// Discard drops all objects and deletes the saved state. Like Save it does
// not wait for the guard; false means a save or restore was in progress.
func (l *Layer) Discard(ctx context.Context) (bool, error) {
	if !l.guard.TryLock() {
		return false, nil
	}
	defer l.guard.Unlock()

	l.mu.Lock()
	l.ix.Clear()
	l.gen++
	l.savedGen = l.gen
	l.mu.Unlock()
	metrics.LayerObjects.WithLabelValues(l.name).Set(0)

	if err := l.store.Delete(ctx, l.name); err != nil {
		return true, err
	}
	l.log.Info("layer discarded")
	return true, nil
}
