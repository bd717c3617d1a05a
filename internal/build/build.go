// Package build holds build-time metadata injected via -ldflags.
package build

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// MinimumSupportedDatastoreSchemaRevision is the minimum goose migration
	// version the server will accept at startup. Bump when a release depends
	// on a new migration.
	MinimumSupportedDatastoreSchemaRevision int64 = 1
)
