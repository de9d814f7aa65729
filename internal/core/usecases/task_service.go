package usecases

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
)

// TaskService manages task markers. It writes through the layer's owner so
// markers follow the same single-writer path as every other object.
type TaskService struct {
	layer *Layer
}

// NewTaskService creates a new TaskService over the tasks layer.
func NewTaskService(layer *Layer) *TaskService {
	return &TaskService{layer: layer}
}

// Create pins a new open marker at lon/lat.
func (s *TaskService) Create(ctx context.Context, lon, lat int32, category, title string) (*domain.TaskMarker, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("task title must not be empty")
	}
	if err := domain.PointBox(lon, lat).Validate(); err != nil {
		return nil, err
	}
	t := domain.NewTaskMarker(lon, lat, category, title)
	ev, err := s.layer.SubmitWait(ctx, domain.Batch{Layer: s.layer.Name(), Objects: []domain.Object{t}})
	if err != nil {
		return nil, err
	}
	if ev.Inserted != 1 {
		return nil, fmt.Errorf("task %s was not inserted", t.ID)
	}
	return t, nil
}

// Close marks a marker closed. Closed markers stay on the layer.
func (s *TaskService) Close(ctx context.Context, id uuid.UUID) (*domain.TaskMarker, error) {
	obj, ok := s.layer.Get(id.String())
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	t, ok := obj.(*domain.TaskMarker)
	if !ok {
		return nil, fmt.Errorf("object %s is a %s: %w", id, obj.Kind(), domain.ErrNotFound)
	}
	if t.Closed {
		return t, nil
	}

	closed := *t
	closed.Closed = true
	batch := domain.Batch{Layer: s.layer.Name(), Objects: []domain.Object{&closed}, Removed: []string{t.Key()}}
	if _, err := s.layer.SubmitWait(ctx, batch); err != nil {
		return nil, err
	}
	return &closed, nil
}
