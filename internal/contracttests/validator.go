package contracttests

import (
	"encoding/base64"
	"fmt"

	"github.com/goccy/go-json"
)

// ConfigEnvelope is the wire shape of a /v0.7/config response.
type ConfigEnvelope struct {
	Targets       string           `json:"targets,omitempty"`
	TargetFiles   []TargetFileWire `json:"target_files,omitempty"`
	ClientConfigs *[]string        `json:"client_configs,omitempty"`
}

// TargetFileWire is one file body as transmitted: path plus base64 content.
type TargetFileWire struct {
	Path string `json:"path"`
	Raw  string `json:"raw"`
}

// ValidateDiffEnvelope checks that a diff response carries decodable
// targets metadata and file bodies, and that every shipped file path also
// appears in client_configs.
func ValidateDiffEnvelope(data []byte) error {
	var envelope ConfigEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if envelope.ClientConfigs == nil {
		return fmt.Errorf("client_configs field is required in a diff response")
	}

	if envelope.Targets != "" {
		raw, err := base64.StdEncoding.DecodeString(envelope.Targets)
		if err != nil {
			return fmt.Errorf("targets is not valid base64: %w", err)
		}
		var blob struct {
			Signed struct {
				Targets map[string]json.RawMessage `json:"targets"`
			} `json:"signed"`
		}
		if err := json.Unmarshal(raw, &blob); err != nil {
			return fmt.Errorf("targets metadata is not valid JSON: %w", err)
		}
		if blob.Signed.Targets == nil {
			return fmt.Errorf("targets metadata is missing signed.targets")
		}
	}

	paths := make(map[string]bool, len(*envelope.ClientConfigs))
	for _, path := range *envelope.ClientConfigs {
		paths[path] = true
	}

	for _, file := range envelope.TargetFiles {
		if _, err := base64.StdEncoding.DecodeString(file.Raw); err != nil {
			return fmt.Errorf("target file %s is not valid base64: %w", file.Path, err)
		}
		if !paths[file.Path] {
			return fmt.Errorf("target file %s is not listed in client_configs", file.Path)
		}
	}

	return nil
}
