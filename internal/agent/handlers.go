package agent

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/apm-mock/internal/events"
	"github.com/apm-mock/internal/remoteconfig"
)

// Request body size cap. Trace payloads from real tracers stay well under
// this.
const maxBodyBytes = 50 << 20

// endpoints advertised through /info, mirroring the paths tracer clients
// probe for.
var infoEndpoints = []string{
	"/info",
	"/v0.4/traces",
	"/v0.7/config",
	"/telemetry/proxy/api/v2/apmtelemetry",
	"/profiling/v1/input",
}

func (s *Server) router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/info", s.handleInfo)
	mux.HandleFunc("/v0.4/traces", s.handleTraces)
	mux.HandleFunc("/v0.7/config", s.handleConfigPoll)
	mux.HandleFunc("/telemetry/proxy/api/v2/apmtelemetry", s.handleTelemetry)
	mux.HandleFunc("/profiling/v1/input", s.handleProfiling)
	return s.logRequests(mux)
}

// logRequests logs every request's method, path and processing duration.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if s.cfg.Network.HTTP.ServerHeader != "" {
			w.Header().Set("Server", s.cfg.Network.HTTP.ServerHeader)
		}
		next.ServeHTTP(w, r)
		s.log.WithFields(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("request processed")
	})
}

// configRequest is the decoded body of a client poll.
type configRequest struct {
	Client struct {
		Products []string `json:"products"`
		State    struct {
			TargetsVersion uint64 `json:"targets_version"`
			HasError       bool   `json:"has_error"`
			Error          string `json:"error"`
			ConfigStates   []struct {
				ID         string `json:"id"`
				ApplyError string `json:"apply_error"`
			} `json:"config_states"`
		} `json:"state"`
	} `json:"client"`
	CachedTargetFiles []struct {
		Path   string `json:"path"`
		Hashes []struct {
			Algorithm string `json:"algorithm"`
			Hash      string `json:"hash"`
		} `json:"hashes"`
	} `json:"cached_target_files"`
}

// configDiffResponse is the branch-3 wire shape. Targets and file bodies
// ride as base64 (encoding/json semantics for []byte).
type configDiffResponse struct {
	Targets     []byte           `json:"targets,omitempty"`
	TargetFiles []targetFileJSON `json:"target_files"`
	// ClientConfigs lists every path applicable to the client, cached or not.
	ClientConfigs []string `json:"client_configs"`
}

type targetFileJSON struct {
	Path string `json:"path"`
	Raw  []byte `json:"raw"`
}

func (s *Server) handleConfigPoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := s.readBody(r)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	var req configRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	// Client-reported errors are diagnostics only; they never alter the
	// negotiated response.
	if req.Client.State.HasError {
		s.log.WithField("error", req.Client.State.Error).Error("client reported remote config error")
	}
	for _, cs := range req.Client.State.ConfigStates {
		if cs.ApplyError != "" {
			s.log.WithFields(map[string]interface{}{
				"id":    cs.ID,
				"error": cs.ApplyError,
			}).Error("client failed to apply config")
		}
	}

	state := remoteconfig.PollState{
		Products:        make(map[string]struct{}, len(req.Client.Products)),
		LastSeenVersion: req.Client.State.TargetsVersion,
		CachedFiles:     make(map[remoteconfig.CachedFile]struct{}, len(req.CachedTargetFiles)),
		HasError:        req.Client.State.HasError,
		Error:           req.Client.State.Error,
	}
	for _, product := range req.Client.Products {
		state.Products[product] = struct{}{}
	}
	for _, cached := range req.CachedTargetFiles {
		for _, h := range cached.Hashes {
			if h.Algorithm == "sha256" {
				state.CachedFiles[remoteconfig.CachedFile{Path: cached.Path, SHA256: h.Hash}] = struct{}{}
			}
		}
	}

	resp, err := s.negotiator.Negotiate(s.store.Snapshot(), state)
	if err != nil {
		s.log.WithError(err).Error("failed to negotiate config response")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	switch resp.Kind {
	case remoteconfig.ResponseUnchanged:
		s.writeJSON(w, struct{}{})
	case remoteconfig.ResponseNoConfigs:
		s.writeJSON(w, map[string][]string{"client_configs": {}})
	case remoteconfig.ResponseDiff:
		files := make([]targetFileJSON, 0, len(resp.TargetFiles))
		for _, f := range resp.TargetFiles {
			files = append(files, targetFileJSON{Path: f.Path, Raw: f.Raw})
		}
		s.writeJSON(w, configDiffResponse{
			Targets:       resp.TargetsRaw,
			TargetFiles:   files,
			ClientConfigs: resp.ClientConfigPaths,
		})
	}
}

func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := s.readBody(r)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	// An empty submission is acknowledged but never emitted.
	if len(body) == 0 {
		s.writeJSON(w, struct{}{})
		return
	}

	s.bus.PublishTrace(events.Message{
		Headers: r.Header.Clone(),
		Payload: body,
	})

	s.writeJSON(w, map[string]map[string]float64{
		"rate_by_service": {"service:,env:": 1},
	})
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := s.readBody(r)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	// The request type rides both in a header and in the body; the body
	// wins when both are present.
	requestType := r.Header.Get("DD-Telemetry-Request-Type")
	var envelope struct {
		RequestType string `json:"request_type"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.RequestType != "" {
		requestType = envelope.RequestType
	}

	s.bus.PublishTelemetry(events.TelemetryMessage{
		Headers:     r.Header.Clone(),
		Payload:     body,
		RequestType: requestType,
	})

	s.writeJSON(w, struct{}{})
}

func (s *Server) handleProfiling(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	var files []events.File
	if r.MultipartForm != nil {
		for name, headers := range r.MultipartForm.File {
			for _, header := range headers {
				f, err := header.Open()
				if err != nil {
					http.Error(w, "read error", http.StatusBadRequest)
					return
				}
				content, err := io.ReadAll(f)
				f.Close()
				if err != nil {
					http.Error(w, "read error", http.StatusBadRequest)
					return
				}
				files = append(files, events.File{Name: name, Content: content})
			}
		}
	}

	s.bus.PublishTrace(events.Message{
		Headers: r.Header.Clone(),
		Files:   files,
	})

	s.writeJSON(w, struct{}{})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"version":   "mock",
		"endpoints": infoEndpoints,
	})
}

// readBody reads a capped request body, transparently decompressing
// gzip-encoded submissions.
func (s *Server) readBody(r *http.Request) ([]byte, error) {
	var reader io.Reader = http.MaxBytesReader(nil, r.Body, maxBodyBytes)

	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(reader)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		reader = zr
	}

	return io.ReadAll(reader)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("failed to encode response")
	}
}
