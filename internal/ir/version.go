package ir

// Version constants for the record model and engine.
const (
	// RecordVersion is the record schema version written to the archive.
	RecordVersion = "1"

	// EngineVersion is the convlog engine version.
	EngineVersion = "0.1.0"
)
