package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/relabs-tech/fixtracker/internal/gps"
	"github.com/relabs-tech/fixtracker/internal/tracker"
)

// Tracker is the command surface the HTTP API drives.
type Tracker interface {
	Start(ctx context.Context, cfg tracker.SessionConfig) error
	Stop() bool
	CurrentLocation(ctx context.Context, timeout time.Duration) (gps.Fix, error)
	Status() tracker.Status
}

// API serves the tracker's HTTP endpoints.
type API struct {
	Tracker  Tracker
	Defaults tracker.SessionConfig
	// Events upgrades /api/events to a websocket stream. Optional.
	Events  http.Handler
	Limiter *rate.Limiter
	Log     zerolog.Logger
}

// maxLocateTimeout caps timeout_ms so a client cannot pin a subscription.
const maxLocateTimeout = 2 * time.Minute

// NewRouter builds the chi router for the API.
func NewRouter(a *API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/session/start", a.handleStart)
		r.Post("/session/stop", a.handleStop)
		r.Get("/session", a.handleStatus)
		r.Get("/location", a.handleLocation)
		if a.Events != nil {
			r.Get("/events", a.Events.ServeHTTP)
		}
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

type startRequest struct {
	MinTimeMs    *int64   `json:"min_time_ms"`
	MinDistanceM *float64 `json:"min_distance_m"`
	NotifTitle   *string  `json:"notif_title"`
	NotifText    *string  `json:"notif_text"`
}

// sessionConfig applies the request on top of the configured defaults.
func (req startRequest) sessionConfig(def tracker.SessionConfig) tracker.SessionConfig {
	cfg := def
	if req.MinTimeMs != nil {
		cfg.MinTime = time.Duration(*req.MinTimeMs) * time.Millisecond
	}
	if req.MinDistanceM != nil {
		cfg.MinDistance = *req.MinDistanceM
	}
	if req.NotifTitle != nil {
		cfg.NotifTitle = *req.NotifTitle
	}
	if req.NotifText != nil {
		cfg.NotifText = *req.NotifText
	}
	return cfg
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, "bad_request", err)
			return
		}
	}

	cfg := req.sessionConfig(a.Defaults)
	if err := a.Tracker.Start(r.Context(), cfg); err != nil {
		a.writeTrackerError(w, err)
		return
	}
	a.Log.Info().Dur("min_time", cfg.MinTime).Float64("min_distance_m", cfg.MinDistance).Msg("web: session started")
	a.writeJSON(w, http.StatusOK, a.Tracker.Status())
}

func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	stopped := a.Tracker.Stop()
	a.writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.Tracker.Status())
}

func (a *API) handleLocation(w http.ResponseWriter, r *http.Request) {
	var timeout time.Duration
	if v := r.URL.Query().Get("timeout_ms"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms <= 0 {
			a.writeError(w, http.StatusBadRequest, "bad_request", errors.New("timeout_ms must be a positive integer"))
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
		if timeout > maxLocateTimeout {
			timeout = maxLocateTimeout
		}
	}

	if a.Limiter != nil && !a.Limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		a.writeError(w, http.StatusTooManyRequests, "rate_limited", errors.New("too many location requests"))
		return
	}

	fix, err := a.Tracker.CurrentLocation(r.Context(), timeout)
	if err != nil {
		a.writeTrackerError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, fix)
}

// writeTrackerError maps the tracker's error taxonomy to HTTP statuses.
func (a *API) writeTrackerError(w http.ResponseWriter, err error) {
	var subErr *tracker.SubscriptionError
	switch {
	case errors.Is(err, tracker.ErrPermission):
		a.writeError(w, http.StatusForbidden, "permission", err)
	case errors.Is(err, tracker.ErrInvalidConfig):
		a.writeError(w, http.StatusBadRequest, "invalid_config", err)
	case errors.Is(err, tracker.ErrSessionActive):
		a.writeError(w, http.StatusConflict, "session_active", err)
	case errors.Is(err, tracker.ErrStartAborted):
		a.writeError(w, http.StatusConflict, "start_aborted", err)
	case errors.Is(err, tracker.ErrTimeout):
		a.writeError(w, http.StatusGatewayTimeout, "timeout", err)
	case errors.Is(err, tracker.ErrNoProvider):
		a.writeError(w, http.StatusServiceUnavailable, "no_provider", err)
	case errors.As(err, &subErr):
		a.writeError(w, http.StatusBadGateway, "subscription", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		a.writeError(w, http.StatusServiceUnavailable, "cancelled", err)
	default:
		a.Log.Error().Err(err).Msg("web: request failed")
		a.writeError(w, http.StatusInternalServerError, "internal", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (a *API) writeError(w http.ResponseWriter, status int, code string, err error) {
	a.writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.Log.Error().Err(err).Msg("web: json encode error")
	}
}
