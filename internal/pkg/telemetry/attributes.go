package telemetry

import "go.opentelemetry.io/otel/attribute"

// InstrumentationName is the tracer name of the engine.
const InstrumentationName = "github.com/samirrijal/geoaugment"

// Span names.
const (
	SpanFetchCycle = "layer.fetch_cycle"
	SpanFetchPage  = "layer.fetch_page"
	SpanInnerLayer = "layer.fetch_inner"
	SpanBundle     = "bundle.resolve"
	SpanReconcile  = "store.reconcile"
)

// Attribute keys.
var (
	AttrLayer      = attribute.Key("geoaugment.layer")
	AttrURL        = attribute.Key("geoaugment.url")
	AttrPages      = attribute.Key("geoaugment.pages")
	AttrRedirects  = attribute.Key("geoaugment.redirects")
	AttrGeneration = attribute.Key("geoaugment.generation")
	AttrErrorKind  = attribute.Key("geoaugment.error_kind")
)
