package http

import (
	"github.com/nats-io/nats.go"
	"github.com/samirrijal/geoaugment/internal/adapters/valkey"
	"github.com/samirrijal/geoaugment/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Engine  *usecases.Engine
	NATS    *nats.Conn
	Cache   *valkey.Cache
	Version string
}
