package http

import (
	"github.com/nats-io/nats.go"

	"github.com/samirrijal/mapoverlay/internal/adapters/postgres"
	"github.com/samirrijal/mapoverlay/internal/adapters/valkey"
	"github.com/samirrijal/mapoverlay/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers. Everything but
// Overlay is optional; routes backed by a nil service answer 503.
type Dependencies struct {
	Overlay  *usecases.Overlay
	Photos   *usecases.PhotoIndexer
	Features *usecases.FeatureService
	Tasks    *usecases.TaskService
	NATS     *nats.Conn
	DB       *postgres.DB
	Cache    *valkey.Cache
}
