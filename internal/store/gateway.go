// Package store persists play sessions. The Gateway interface is the
// persistence contract the engine depends on; SessionStore is the SQLite
// implementation. Each session is stored as one JSON payload plus a few
// indexed columns for listing.
package store

import (
	"errors"

	"taleweaver/internal/game"
)

// Current portable record schema version. Bump when the exported shape
// changes incompatibly.
const SchemaVersion = 2

// Sentinel errors for import validation. ErrVersionMismatch and
// ErrMalformedRecord are distinct so the UI can render a precise message.
var (
	ErrNotFound        = errors.New("session not found")
	ErrVersionMismatch = errors.New("unrecognized schema version")
	ErrMalformedRecord = errors.New("malformed session record")
)

// Gateway is the durable per-session record store contract.
type Gateway interface {
	// LoadAll returns lightweight summaries of every stored session.
	LoadAll() ([]game.SessionSummary, error)

	// Load returns the full session record, or ErrNotFound.
	Load(id string) (*game.Session, error)

	// Save writes the full session record, replacing any prior version.
	Save(s *game.Session) error

	// Delete irreversibly removes a session and its cached options.
	Delete(id string) error

	// Export returns a portable record for the session, or ErrNotFound.
	Export(id string) (*PortableRecord, error)

	// Import stores a portable record under a fresh ID and returns it.
	Import(rec *PortableRecord) (string, error)

	// ValidateImport checks a portable record without storing it.
	ValidateImport(rec *PortableRecord) ImportCheck

	// Action options persistence for the options cache write-through.
	LoadOptions(sessionID string) (*game.CachedActionOptions, error)
	SaveOptions(opts *game.CachedActionOptions) error
}

// ImportCheck is the structured result of ValidateImport.
type ImportCheck struct {
	Valid bool
	// Kind is "version" or "format" when Valid is false.
	Kind string
	Err  error
}
