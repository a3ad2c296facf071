package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apm-mock/internal/config"
	"github.com/apm-mock/internal/events"
	"github.com/apm-mock/internal/remoteconfig"
)

// ErrStartupTimeout is returned by Start when the listener fails to bind
// within the configured startup timeout.
var ErrStartupTimeout = errors.New("listener did not bind within startup timeout")

// Server is the mock agent: an HTTP surface backed by the remote config
// store and the message bus. Test authors mutate the store and register
// assertions through the Server directly; tracer clients talk to it over
// HTTP.
type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	store      *remoteconfig.Store
	negotiator *remoteconfig.Negotiator
	bus        *events.Bus
	httpServer *http.Server
	listener   net.Listener
	stopChan   chan struct{}
}

// New creates a server from config. Nothing is bound until Start.
func New(cfg *config.Config, log *logrus.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		log:        log,
		store:      remoteconfig.NewStore(cfg.RemoteConfig.OrgID),
		negotiator: remoteconfig.NewNegotiator(cfg.RemoteConfig.OpaqueBackendState),
		bus:        events.NewBus(),
		stopChan:   make(chan struct{}),
	}

	s.httpServer = &http.Server{
		Handler:      s.router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Start binds the listener and begins serving. It returns only once the
// listener is bound, ErrStartupTimeout if binding does not complete within
// the configured interval, or the bind error itself.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Network.HTTP.Port)
	ready := make(chan error, 1)

	go func() {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			ready <- err
			return
		}
		s.listener = listener
		ready <- nil

		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server failed")
		}
	}()

	startupTimeout := time.Duration(s.cfg.Timing.StartupTimeoutSec) * time.Second
	select {
	case err := <-ready:
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %v", addr, err)
		}
		s.log.WithField("addr", s.listener.Addr().String()).Info("mock agent listening")
		return nil
	case <-time.After(startupTimeout):
		return ErrStartupTimeout
	}
}

// Port reports the bound port. Useful when configured with port 0.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Stop shuts the server down, releasing the listener before returning.
func (s *Server) Stop(ctx context.Context) error {
	select {
	case <-s.stopChan:
		// Already stopped
		return nil
	default:
		close(s.stopChan)
	}

	if s.listener == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// AddRemoteConfig adds or overwrites a distributable config entry.
func (s *Server) AddRemoteConfig(p remoteconfig.AddParams) (remoteconfig.Entry, error) {
	entry, err := s.store.Add(p)
	if err != nil {
		return remoteconfig.Entry{}, err
	}
	s.log.WithFields(logrus.Fields{
		"path":    entry.Path,
		"version": s.store.Version(),
	}).Debug("remote config added")
	return entry, nil
}

// UpdateRemoteConfig replaces the content of an existing entry.
func (s *Server) UpdateRemoteConfig(id string, content []byte) (remoteconfig.Entry, error) {
	entry, err := s.store.Update(id, content)
	if err != nil {
		return remoteconfig.Entry{}, err
	}
	s.log.WithFields(logrus.Fields{
		"path":     entry.Path,
		"revision": entry.Meta.Revision,
	}).Debug("remote config updated")
	return entry, nil
}

// RemoveRemoteConfig deletes an entry by id. Removing an absent id still
// advances the store version.
func (s *Server) RemoveRemoteConfig(id string) {
	s.store.Remove(id)
	s.log.WithField("id", id).Debug("remote config removed")
}

// ResetRemoteConfig clears every entry, typically between test cases.
func (s *Server) ResetRemoteConfig() {
	s.store.Reset()
	s.log.Debug("remote config reset")
}

// AssertMessageReceived waits for count predicate successes on the trace
// channel, or the first success when firstSuccess is set. A non-positive
// timeout uses the configured default.
func (s *Server) AssertMessageReceived(pred events.Predicate, timeout time.Duration, count int, firstSuccess bool) ([]events.Message, error) {
	return s.bus.AwaitMessages(pred, events.WaitOptions{
		Timeout:      s.waitTimeout(timeout),
		Count:        count,
		FirstSuccess: firstSuccess,
	})
}

// AssertTelemetryReceived waits for exactly count predicate successes among
// telemetry messages of the given request type.
func (s *Server) AssertTelemetryReceived(requestType string, pred events.TelemetryPredicate, timeout time.Duration, count int) ([]events.TelemetryMessage, error) {
	return s.bus.AwaitTelemetry(requestType, pred, events.WaitOptions{
		Timeout: s.waitTimeout(timeout),
		Count:   count,
	})
}

func (s *Server) waitTimeout(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	return time.Duration(s.cfg.Timing.DefaultWaitTimeoutSec) * time.Second
}
