package remoteconfig

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// pathNamespace is the fixed first segment of every distributed config path.
const pathNamespace = "datadog"

// Meta describes the integrity metadata distributed alongside an entry.
type Meta struct {
	Revision int
	SHA256   string
	Length   int
}

// Entry is one distributable configuration unit. Path is the external
// identity: "datadog/<orgId>/<product>/<id>/<name>".
type Entry struct {
	ID          string
	OrgID       int
	Product     string
	Name        string
	Path        string
	Content     []byte
	ContentHash string
	Meta        Meta
}

// entryPath derives the canonical path for an entry. The path is a pure
// function of (orgId, product, id, name).
func entryPath(orgID int, product, id, name string) string {
	return fmt.Sprintf("%s/%d/%s/%s/%s", pathNamespace, orgID, product, id, name)
}

// hashHex returns the hex-encoded SHA-256 digest of data.
func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// defaultName derives the default name discriminator for an entry id, so
// distinct entries with the same id and product never collide by accident.
func defaultName(id string) string {
	return hashHex([]byte(id))
}
