package scan

// Span attribute keys for scan tracing.
const (
	AttrScanID      = "scan.id"
	AttrPathCount   = "scan.paths"
	AttrFormatCount = "scan.formats"
	AttrAdded       = "scan.added"
	AttrCancelled   = "scan.cancelled"
)
