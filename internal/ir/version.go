package ir

// Version constants for the stored schema and the service.
const (
	// SchemaVersion is the audit event payload version.
	SchemaVersion = "1"

	// ServiceVersion is the sealgauge version.
	ServiceVersion = "0.1.0"
)
