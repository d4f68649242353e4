package probe

// Span attribute keys shared by probe and scan spans.
const (
	AttrPluginKey    = "plugin.key"
	AttrPluginFormat = "plugin.format"
	AttrTimeoutMS    = "probe.timeout_ms"
	AttrOutcome      = "probe.outcome"
)
