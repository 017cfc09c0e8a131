package ir

// Version constants stamped into the store and CLI output.
const (
	// SchemaVersion is the version of the document/mutation encoding.
	SchemaVersion = "1"

	// EngineVersion is the cardflow engine version.
	EngineVersion = "0.1.0"
)
