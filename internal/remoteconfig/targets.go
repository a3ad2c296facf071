package remoteconfig

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Wire shape of the targets metadata blob. The client receives it
// base64-encoded inside the poll response and verifies file hashes and
// lengths against it.
type targetsBlob struct {
	Signed targetsSigned `json:"signed"`
}

type targetsSigned struct {
	Custom  targetsCustom         `json:"custom"`
	Targets map[string]targetMeta `json:"targets"`
	Version uint64                `json:"version"`
}

type targetsCustom struct {
	OpaqueBackendState string `json:"opaque_backend_state"`
}

type targetMeta struct {
	Custom targetCustom      `json:"custom"`
	Hashes map[string]string `json:"hashes"`
	Length int               `json:"length"`
}

type targetCustom struct {
	V int `json:"v"`
}

// encodeTargets serializes the targets metadata for the given entries at
// the given store version.
func encodeTargets(version uint64, opaqueBackendState string, entries []Entry) ([]byte, error) {
	targets := make(map[string]targetMeta, len(entries))
	for _, entry := range entries {
		targets[entry.Path] = targetMeta{
			Custom: targetCustom{V: entry.Meta.Revision},
			Hashes: map[string]string{"sha256": entry.Meta.SHA256},
			Length: entry.Meta.Length,
		}
	}

	raw, err := json.Marshal(targetsBlob{
		Signed: targetsSigned{
			Custom:  targetsCustom{OpaqueBackendState: opaqueBackendState},
			Targets: targets,
			Version: version,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode targets metadata: %v", err)
	}
	return raw, nil
}
