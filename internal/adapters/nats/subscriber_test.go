package natsadapter

import (
	"context"
	"errors"
	"testing"

	"github.com/samirrijal/mapoverlay/internal/adapters/snapshot"
	"github.com/samirrijal/mapoverlay/internal/core/domain"
)

func TestSubjects(t *testing.T) {
	if got := BatchSubject(domain.LayerPhotos); got != "overlay.batch.photos" {
		t.Errorf("unexpected batch subject %q", got)
	}
	if got := EventSubject(domain.LayerTasks); got != "overlay.events.tasks" {
		t.Errorf("unexpected event subject %q", got)
	}
}

func TestHandleBatch(t *testing.T) {
	photo := &domain.Photo{Lon: 10, Lat: 20, Dir: "/sdcard/DCIM", Name: "a.jpg"}
	good, err := snapshot.EncodeBatch(domain.Batch{Layer: domain.LayerPhotos, Objects: []domain.Object{photo}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	other, _ := snapshot.EncodeBatch(domain.Batch{Layer: domain.LayerTasks})

	var got domain.Batch
	ok := func(ctx context.Context, b domain.Batch) error { got = b; return nil }
	fail := func(ctx context.Context, b domain.Batch) error { return errors.New("inbox closed") }

	tests := []struct {
		name    string
		data    []byte
		handler func(context.Context, domain.Batch) error
		want    ackAction
	}{
		{"delivered", good, ok, ack},
		{"handler failure is retried", good, fail, nak},
		{"garbage is terminated", []byte{0xff, 0xff, 0xff}, ok, term},
		{"foreign layer is terminated", other, ok, term},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if a := handleBatch(context.Background(), domain.LayerPhotos, tt.data, tt.handler); a != tt.want {
				t.Errorf("expected action %d, got %d", tt.want, a)
			}
		})
	}
	if len(got.Objects) != 1 || got.Objects[0].Key() != photo.Key() {
		t.Errorf("handler saw unexpected batch %+v", got)
	}
}
