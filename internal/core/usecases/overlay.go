package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
)

// Overlay is the set of layers served by one process.
type Overlay struct {
	layers map[string]*Layer
	order  []string
}

// NewOverlay groups layers by name.
func NewOverlay(layers ...*Layer) *Overlay {
	o := &Overlay{layers: make(map[string]*Layer, len(layers))}
	for _, l := range layers {
		o.layers[l.Name()] = l
		o.order = append(o.order, l.Name())
	}
	return o
}

// Layer returns the named layer or domain.ErrNotFound.
func (o *Overlay) Layer(name string) (*Layer, error) {
	l, ok := o.layers[name]
	if !ok {
		return nil, fmt.Errorf("layer %q: %w", name, domain.ErrNotFound)
	}
	return l, nil
}

// Layers returns the layers in registration order.
func (o *Overlay) Layers() []*Layer {
	out := make([]*Layer, 0, len(o.order))
	for _, name := range o.order {
		out = append(out, o.layers[name])
	}
	return out
}

// Run starts every layer owner and blocks until ctx is cancelled and all
// owners have stopped.
func (o *Overlay) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, l := range o.Layers() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Run(ctx)
		}()
	}
	wg.Wait()
}

// RestoreAll restores every layer, logging failures.
func (o *Overlay) RestoreAll(ctx context.Context) {
	for _, l := range o.Layers() {
		res, err := l.Restore(ctx)
		if err != nil {
			slog.Error("restore failed", "layer", l.Name(), "result", res.String(), "error", err)
			continue
		}
		slog.Info("restore finished", "layer", l.Name(), "result", res.String(), "objects", l.Count())
	}
}

// SaveAll saves every dirty layer, logging failures.
func (o *Overlay) SaveAll(ctx context.Context) {
	for _, l := range o.Layers() {
		res, err := l.Save(ctx)
		if err != nil {
			slog.Error("save failed", "layer", l.Name(), "error", err)
			continue
		}
		if res == domain.SaveWritten {
			slog.Debug("layer saved", "layer", l.Name())
		}
	}
}

// AutoSave saves dirty layers every interval until ctx is cancelled.
func (o *Overlay) AutoSave(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.SaveAll(ctx)
		}
	}
}
