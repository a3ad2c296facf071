package remoteconfig

// ResponseKind discriminates the three shapes a poll response can take.
type ResponseKind int

const (
	// ResponseUnchanged signals the client's state is current: no metadata,
	// no files.
	ResponseUnchanged ResponseKind = iota
	// ResponseNoConfigs explicitly tells the client it now has zero configs.
	ResponseNoConfigs
	// ResponseDiff carries targets metadata plus new or changed file bodies.
	ResponseDiff
)

// CachedFile identifies a file body the client already holds.
type CachedFile struct {
	Path   string
	SHA256 string
}

// PollState is the decoded state of one client poll request.
type PollState struct {
	Products        map[string]struct{}
	LastSeenVersion uint64
	CachedFiles     map[CachedFile]struct{}
	HasError        bool
	Error           string
}

// TargetFile is one file body shipped to the client.
type TargetFile struct {
	Path string
	Raw  []byte
}

// Response is the outcome of negotiating one poll request. TargetsRaw,
// TargetFiles and ClientConfigPaths are only meaningful for ResponseDiff;
// TargetsRaw is empty when no paths apply to the client.
type Response struct {
	Kind              ResponseKind
	TargetsRaw        []byte
	TargetFiles       []TargetFile
	ClientConfigPaths []string
}

// Negotiator computes the minimal poll response for a store snapshot.
type Negotiator struct {
	opaqueBackendState string
}

// NewNegotiator creates a negotiator. opaqueBackendState is echoed inside
// the targets metadata, as the emulated backend does.
func NewNegotiator(opaqueBackendState string) *Negotiator {
	return &Negotiator{opaqueBackendState: opaqueBackendState}
}

// Negotiate applies the protocol's three branches in order:
//
//  1. Client already saw this exact version: nothing to send.
//  2. Store is empty: the client must be told explicitly that it has zero
//     configs, rather than inferring emptiness from silence.
//  3. Otherwise: ship metadata and paths for every entry whose product the
//     client is interested in, and file bodies for those not in the
//     client's cache.
//
// Branch 2 is keyed on store emptiness, not filtered-result emptiness: a
// client interested in nothing still takes branch 3 and gets empty
// collections. That asymmetry is observable protocol behavior and is kept
// as-is.
func (n *Negotiator) Negotiate(snap Snapshot, state PollState) (Response, error) {
	if state.LastSeenVersion == snap.Version {
		return Response{Kind: ResponseUnchanged}, nil
	}

	if len(snap.Entries) == 0 {
		return Response{Kind: ResponseNoConfigs}, nil
	}

	resp := Response{
		Kind:              ResponseDiff,
		TargetFiles:       []TargetFile{},
		ClientConfigPaths: []string{},
	}

	var applicable []Entry
	for _, entry := range snap.Entries {
		if _, ok := state.Products[entry.Product]; !ok {
			continue
		}
		applicable = append(applicable, entry)

		resp.ClientConfigPaths = append(resp.ClientConfigPaths, entry.Path)

		cached := CachedFile{Path: entry.Path, SHA256: entry.ContentHash}
		if _, ok := state.CachedFiles[cached]; !ok {
			resp.TargetFiles = append(resp.TargetFiles, TargetFile{
				Path: entry.Path,
				Raw:  entry.Content,
			})
		}
	}

	if len(applicable) > 0 {
		raw, err := encodeTargets(snap.Version, n.opaqueBackendState, applicable)
		if err != nil {
			return Response{}, err
		}
		resp.TargetsRaw = raw
	}

	return resp, nil
}
