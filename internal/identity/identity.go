// Package identity mints the time-ordered download identifiers used
// throughout the engine, the catalog, and the journal filenames.
package identity

import (
	"strings"

	"github.com/google/uuid"
)

// ID is a download's identity: a UUIDv7, time-ordered so catalog listings
// sorted by id are also sorted by creation time without a separate index.
type ID = uuid.UUID

// New mints a fresh time-ordered identifier.
func New() (ID, error) {
	return uuid.NewV7()
}

// Parse parses s as an identifier, accepting any UUID representation
// (older v4 identities created before this field existed remain valid).
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// FileStem returns the identifier in its compact (hyphen-free) form, used as
// the on-disk journal filename stem so paths stay short on constrained
// filesystems.
func FileStem(id ID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}
