package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/mapoverlay/internal/pkg/metrics"
)

const requestTimeout = 15 * time.Second

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	app.Use(requestid.New())
	app.Use(RequestIDLogMiddleware())
	app.Use(AccessLogMiddleware())

	// Map clients pan quickly; allow bursts of viewport queries.
	app.Use(limiter.New(limiter.Config{
		Max:        600,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
		},
	}))

	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	app.Use(ETagMiddleware())
	app.Use(CachingMiddleware())

	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	v1 := app.Group("/v1")
	v1.Get("/layers", ListLayersHandler(deps))
	v1.Get("/layers/:layer", GetLayerHandler(deps))
	v1.Delete("/layers/:layer", DiscardLayerHandler(deps))
	v1.Get("/layers/:layer/objects", timeout.NewWithContext(LayerObjectsHandler(deps), requestTimeout))
	v1.Get("/layers/:layer/extent", LayerExtentHandler(deps))
	v1.Get("/layers/:layer/hit", timeout.NewWithContext(HitTestHandler(deps), requestTimeout))
	v1.Get("/layers/:layer/object", GetObjectHandler(deps))
	v1.Delete("/layers/:layer/object", DeleteObjectHandler(deps))

	// Save and restore may wait on storage; they run under the same limit.
	v1.Post("/layers/:layer/save", timeout.NewWithContext(SaveLayerHandler(deps), requestTimeout))
	v1.Post("/layers/:layer/restore", timeout.NewWithContext(RestoreLayerHandler(deps), requestTimeout))

	v1.Get("/features", timeout.NewWithContext(ExportFeaturesHandler(deps), requestTimeout))
	v1.Post("/features/fetch", FetchFeaturesHandler(deps))

	v1.Post("/tasks", CreateTaskHandler(deps))
	v1.Post("/tasks/:id/close", CloseTaskHandler(deps))

	v1.Post("/photos", AddPhotoHandler(deps))

	app.Post("/graphql", GraphQLHandler(deps))

	SetupDocs(app)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(WebSocketHandler(deps.NATS)))
}
