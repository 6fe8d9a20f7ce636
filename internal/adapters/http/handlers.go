package http

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/samirrijal/geoaugment/internal/core/domain"
	"github.com/samirrijal/geoaugment/internal/core/usecases"
)

// StatusHandler returns the engine state, target and diagnostics.
func StatusHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(deps.Engine.Status())
	}
}

// FrameHandler returns the last rendered frame.
func FrameHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		frame, ok := deps.Engine.LastFrame()
		if !ok {
			return errNotFound(c, "no frame rendered yet")
		}
		c.Set("Cache-Control", "no-store")
		return c.JSON(frame)
	}
}

// ListObjectsHandler returns the live augment objects, parents before children.
// With top=true only top-level objects are listed.
func ListObjectsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		objects := deps.Engine.Objects()
		if c.QueryBool("top", false) {
			top := objects[:0]
			for _, o := range objects {
				if o.ParentID == nil {
					top = append(top, o)
				}
			}
			objects = top
		}

		offset, limit := pageParams(c, 100, 500)
		page, pg := paginate(objects, offset, limit)
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: page, Pagination: pg})
	}
}

// GetObjectHandler returns one live object by id.
func GetObjectHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil {
			return errBadRequest(c, "id must be an integer")
		}
		obj, ok := deps.Engine.Object(id)
		if !ok {
			return errNotFound(c, "object not found")
		}
		return c.JSON(obj)
	}
}

// ListLayersHandler returns the directory entries offered for selection.
func ListLayersHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		items := deps.Engine.LayerItems()
		offset, limit := pageParams(c, 50, 200)
		page, pg := paginate(items, offset, limit)
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: page, Pagination: pg})
	}
}

// RefreshHandler restarts the fetch cycle, optionally on another layer or position.
func RefreshHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req domain.RefreshRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return errBadRequest(c, "invalid request body")
			}
		}
		if (req.Lat == nil) != (req.Lon == nil) {
			return errBadRequest(c, "lat and lon must be given together")
		}
		if req.Lat != nil && (*req.Lat < -90 || *req.Lat > 90 || *req.Lon < -180 || *req.Lon > 180) {
			return errBadRequest(c, "lat/lon out of range")
		}

		if err := deps.Engine.RequestRefresh(req); err != nil {
			if errors.Is(err, usecases.ErrRefreshThrottled) {
				return errRateLimited(c, err.Error())
			}
			return errInternal(c, err.Error())
		}

		LoggerFromCtx(c.UserContext()).Info("refresh requested", "url", req.URL, "layer", req.LayerName)
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"status": "accepted",
			"target": deps.Engine.Target(),
		})
	}
}

// LocationHandler feeds one raw device location and returns the filtered position.
func LocationHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var sample domain.LocationSample
		if err := c.BodyParser(&sample); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if sample.Lat < -90 || sample.Lat > 90 || sample.Lon < -180 || sample.Lon > 180 {
			return errBadRequest(c, "lat/lon out of range")
		}
		if sample.Accuracy < 0 {
			return errBadRequest(c, "accuracy must not be negative")
		}
		if sample.TimestampMs == 0 {
			sample.TimestampMs = time.Now().UnixMilli()
		}
		return c.JSON(deps.Engine.UpdateLocation(sample))
	}
}
