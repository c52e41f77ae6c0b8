package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

// newSupervisor builds the root supervisor with one child per layer.
func newSupervisor(log zerolog.Logger) (root, sources, messaging, api *suture.Supervisor) {
	hook := func(e suture.Event) {
		log.Warn().Fields(e.Map()).Msg("supervisor: " + e.String())
	}
	spec := suture.Spec{
		EventHook:        hook,
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	}
	child := spec
	child.EventHook = nil

	root = suture.New("fixtracker", spec)
	sources = suture.New("sources", child)
	messaging = suture.New("messaging", child)
	api = suture.New("api", child)
	root.Add(sources)
	root.Add(messaging)
	root.Add(api)
	return root, sources, messaging, api
}

// serviceFunc adapts a Serve method to suture.Service with a name.
type serviceFunc struct {
	name  string
	serve func(context.Context) error
}

func (s serviceFunc) Serve(ctx context.Context) error { return s.serve(ctx) }
func (s serviceFunc) String() string                  { return s.name }

// httpServerService runs an http.Server until the context is cancelled.
type httpServerService struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

func (h *httpServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *httpServerService) String() string { return "http-server" }
