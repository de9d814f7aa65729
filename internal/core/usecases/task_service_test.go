package usecases_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
	"github.com/samirrijal/mapoverlay/internal/core/usecases"
)

func TestTaskService_CreateAndClose(t *testing.T) {
	l := startLayer(t, domain.LayerTasks, usecases.LayerOptions{Store: newMockStore()})
	svc := usecases.NewTaskService(l)

	task, err := svc.Create(context.Background(), domain.ToE7(-2.935), domain.ToE7(43.263), "fixme", "Check opening hours")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Count() != 1 || !l.Dirty() {
		t.Fatalf("expected one dirty marker, count=%d", l.Count())
	}

	closed, err := svc.Close(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !closed.Closed || closed.ID != task.ID {
		t.Errorf("unexpected closed marker %+v", closed)
	}
	got, _ := l.Get(task.ID.String())
	if !got.(*domain.TaskMarker).Closed || l.Count() != 1 {
		t.Errorf("expected the stored marker to be replaced, count=%d", l.Count())
	}
}

func TestTaskService_Validation(t *testing.T) {
	l := startLayer(t, domain.LayerTasks, usecases.LayerOptions{Store: newMockStore()})
	svc := usecases.NewTaskService(l)

	if _, err := svc.Create(context.Background(), 0, 0, "fixme", "  "); err == nil {
		t.Error("expected error for empty title")
	}
	if _, err := svc.Create(context.Background(), domain.MaxLonE7, domain.MaxLatE7+1, "fixme", "x"); !errors.Is(err, domain.ErrInvalidBounds) {
		t.Errorf("expected ErrInvalidBounds, got %v", err)
	}
	if _, err := svc.Close(context.Background(), uuid.New()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
