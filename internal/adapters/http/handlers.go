package http

import (
	"errors"
	"os"
	"path"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
	"github.com/samirrijal/mapoverlay/internal/core/usecases"
)

const (
	defaultObjectLimit = 100
	maxObjectLimit     = 1000
	maxHitRadius       = 5000.0
)

// layerFor resolves the :layer route parameter.
func layerFor(c *fiber.Ctx, deps *Dependencies) (*usecases.Layer, error) {
	if deps.Overlay == nil {
		return nil, errUnavailable(c, "overlay not available")
	}
	l, err := deps.Overlay.Layer(c.Params("layer"))
	if err != nil {
		return nil, errFromDomain(c, err)
	}
	return l, nil
}

// ListLayersHandler returns a summary of every layer.
func ListLayersHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Overlay == nil {
			return errUnavailable(c, "overlay not available")
		}
		layers := deps.Overlay.Layers()
		out := make([]domain.LayerInfo, 0, len(layers))
		for _, l := range layers {
			out = append(out, l.Info())
		}
		return c.JSON(out)
	}
}

// GetLayerHandler returns one layer summary.
func GetLayerHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		l, err := layerFor(c, deps)
		if l == nil {
			return err
		}
		return c.JSON(l.Info())
	}
}

// LayerObjectsHandler lists the objects of a layer, optionally restricted
// to those intersecting bbox.
func LayerObjectsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		l, err := layerFor(c, deps)
		if l == nil {
			return err
		}

		pg := parsePagination(c, defaultObjectLimit, maxObjectLimit)

		var objs []domain.Object
		if raw := c.Query("bbox"); raw != "" {
			box, err := domain.ParseBBox(raw)
			if err != nil {
				return errBadRequest(c, err.Error())
			}
			objs = l.Query(box, 0)
		} else {
			objs = l.All(0)
		}

		page := paginate(objs, pg)
		views, err := toViews(page.Data)
		if err != nil {
			return errInternal(c, err.Error())
		}
		SetLinkHeaders(c, page.Pagination)
		return c.JSON(PaginatedResponse[ObjectView]{Data: views, Pagination: page.Pagination})
	}
}

// LayerExtentHandler returns the box covering every object of a layer.
func LayerExtentHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		l, err := layerFor(c, deps)
		if l == nil {
			return err
		}
		box, ok := l.Extent()
		if !ok {
			return errNotFound(c, "layer is empty")
		}
		return c.JSON(box.Degrees())
	}
}

// HitTestHandler returns the objects near a point, nearest first.
func HitTestHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		l, err := layerFor(c, deps)
		if l == nil {
			return err
		}

		lat := c.QueryFloat("lat", 999)
		lon := c.QueryFloat("lon", 999)
		radius := c.QueryFloat("radius", 25)
		limit := c.QueryInt("limit", 20)
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return errBadRequest(c, "lat and lon are required")
		}
		if radius <= 0 || radius > maxHitRadius {
			return errBadRequest(c, "radius must be between 1 and 5000 meters")
		}
		if limit <= 0 || limit > 100 {
			limit = 20
		}

		hits := l.HitTest(domain.ToE7(lon), domain.ToE7(lat), radius, limit)
		views, err := toHitViews(hits)
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(views)
	}
}

// GetObjectHandler returns one object by key.
func GetObjectHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		l, err := layerFor(c, deps)
		if l == nil {
			return err
		}
		key := c.Query("key")
		if key == "" {
			return errBadRequest(c, "key query parameter is required")
		}
		obj, ok := l.Get(key)
		if !ok {
			return errNotFound(c, "object not found")
		}
		v, err := toView(obj)
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(v)
	}
}

// DeleteObjectHandler removes one object by key. Photos are also removed
// from the seed store, and their layer removal is queued.
func DeleteObjectHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		l, err := layerFor(c, deps)
		if l == nil {
			return err
		}
		key := c.Query("key")
		if key == "" {
			return errBadRequest(c, "key query parameter is required")
		}

		if l.Name() == domain.LayerPhotos && deps.Photos != nil {
			if _, ok := l.Get(key); !ok {
				return errNotFound(c, "object not found")
			}
			if err := deps.Photos.DeletePhoto(c.UserContext(), path.Dir(key), path.Base(key)); err != nil {
				return errFromDomain(c, err)
			}
			return c.SendStatus(fiber.StatusAccepted)
		}

		if _, ok := l.RemoveKey(key); !ok {
			return errNotFound(c, "object not found")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// SaveLayerHandler writes a layer to storage.
func SaveLayerHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		l, err := layerFor(c, deps)
		if l == nil {
			return err
		}
		res, err := l.Save(c.UserContext())
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(fiber.Map{"layer": l.Name(), "result": res.String()})
	}
}

// RestoreLayerHandler loads a layer from storage.
func RestoreLayerHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		l, err := layerFor(c, deps)
		if l == nil {
			return err
		}
		res, err := l.Restore(c.UserContext())
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(fiber.Map{"layer": l.Name(), "result": res.String()})
	}
}

// DiscardLayerHandler clears a layer and its saved state.
func DiscardLayerHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		l, err := layerFor(c, deps)
		if l == nil {
			return err
		}
		ok, err := l.Discard(c.UserContext())
		if !ok {
			return errConflict(c, "layer is being saved or restored")
		}
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// FetchFeaturesHandler starts a background download of the remote features
// covering bbox.
func FetchFeaturesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Features == nil {
			return errUnavailable(c, "feature source not configured")
		}
		box, err := domain.ParseBBox(c.Query("bbox"))
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		deps.Features.Download(c.UserContext(), box, nil)
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"bbox": box.Degrees()})
	}
}

// ExportFeaturesHandler returns the remote features intersecting bbox as a
// GeoJSON FeatureCollection.
func ExportFeaturesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Overlay == nil {
			return errUnavailable(c, "overlay not available")
		}
		l, err := deps.Overlay.Layer(domain.LayerMapillary)
		if err != nil {
			return errFromDomain(c, err)
		}
		var objs []domain.Object
		if raw := c.Query("bbox"); raw != "" {
			box, err := domain.ParseBBox(raw)
			if err != nil {
				return errBadRequest(c, err.Error())
			}
			objs = l.Query(box, 0)
		} else {
			objs = l.All(0)
		}
		return c.JSON(usecases.ExportFeatures(objs), "application/geo+json")
	}
}

type createTaskRequest struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Category string  `json:"category"`
	Title    string  `json:"title"`
}

// CreateTaskHandler pins a new task marker.
func CreateTaskHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Tasks == nil {
			return errUnavailable(c, "tasks layer not enabled")
		}
		var req createTaskRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if strings.TrimSpace(req.Title) == "" {
			return errBadRequest(c, "title is required")
		}
		if req.Lat < -90 || req.Lat > 90 || req.Lon < -180 || req.Lon > 180 {
			return errBadRequest(c, "lat/lon out of range")
		}
		t, err := deps.Tasks.Create(c.UserContext(), domain.ToE7(req.Lon), domain.ToE7(req.Lat), req.Category, req.Title)
		if err != nil {
			return errFromDomain(c, err)
		}
		v, _ := toView(t)
		return c.Status(fiber.StatusCreated).JSON(v)
	}
}

// CloseTaskHandler marks a task marker closed.
func CloseTaskHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Tasks == nil {
			return errUnavailable(c, "tasks layer not enabled")
		}
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return errBadRequest(c, "invalid task id")
		}
		t, err := deps.Tasks.Close(c.UserContext(), id)
		if err != nil {
			return errFromDomain(c, err)
		}
		v, _ := toView(t)
		return c.JSON(v)
	}
}

type addPhotoRequest struct {
	Path string `json:"path"`
}

// AddPhotoHandler indexes a single image file.
func AddPhotoHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Photos == nil {
			return errUnavailable(c, "photo indexer not available")
		}
		var req addPhotoRequest
		if err := c.BodyParser(&req); err != nil || req.Path == "" {
			return errBadRequest(c, "path is required")
		}
		p, err := deps.Photos.AddPhoto(c.UserContext(), req.Path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return errNotFound(c, err.Error())
			}
			return newError(c, fiber.StatusUnprocessableEntity, "unprocessable", err.Error())
		}
		v, _ := toView(p)
		return c.Status(fiber.StatusAccepted).JSON(v)
	}
}
