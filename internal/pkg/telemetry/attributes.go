package telemetry

import "go.opentelemetry.io/otel/attribute"

// Span attribute keys shared by instrumented operations.
const (
	AttrLayer    = attribute.Key("overlay.layer")
	AttrBBox     = attribute.Key("overlay.bbox")
	AttrObjects  = attribute.Key("overlay.objects")
	AttrResult   = attribute.Key("overlay.result")
	AttrWorkflow = attribute.Key("overlay.workflow_id")
)
