package ir

// Version constants for snapshot schema and engine.
const (
	// SnapshotVersion is the snapshot file schema version.
	SnapshotVersion = "1"

	// EngineVersion is the kiln engine version.
	EngineVersion = "0.1.0"
)
