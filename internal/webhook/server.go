// Package webhook serves the HTTP endpoint Leaf Spy calls.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jkaberg/leafspy-hass/internal/leafspy"
	"github.com/jkaberg/leafspy-hass/internal/metrics"
	"github.com/sirupsen/logrus"
)

// SuccessBody is the exact body Leaf Spy expects on success.
const SuccessBody = `"status":"0"`

// Dispatcher hands a decoded message to the reconcilers. It returns only
// after every subscriber has run.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *leafspy.Message) error
}

// Recorder counts request outcomes.
type Recorder interface {
	Request(result string)
}

type nopRecorder struct{}

func (nopRecorder) Request(string) {}

// Options configures the handler.
type Options struct {
	Path    string       // webhook path, e.g. /api/leafspy/
	Secret  string       // installation secret
	Metrics http.Handler // served on /metrics when set
}

// Handler processes Leaf Spy webhook calls.
type Handler struct {
	auth       *Authenticator
	dispatcher Dispatcher
	recorder   Recorder
	logger     *logrus.Logger
}

// NewRouter builds the chi router with the webhook, health and metrics
// routes.
func NewRouter(opts Options, dispatcher Dispatcher, recorder Recorder, logger *logrus.Logger) http.Handler {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	h := &Handler{
		auth:       NewAuthenticator(opts.Secret),
		dispatcher: dispatcher,
		recorder:   recorder,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(h.recoverer)
	// Leaf Spy only understands 200 and 500.
	r.MethodNotAllowed(h.methodNotAllowed)

	base := strings.Trim(opts.Path, "/")
	if base == "" {
		r.Get("/", h.ServeHTTP)
	} else {
		base = "/" + base
		r.Get(base, h.ServeHTTP)
		r.Get(base+"/", h.ServeHTTP)
	}
	r.Get(base+"/{secret}", h.ServeHTTP)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	return r
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	}).Warn("Rejected webhook request with unsupported method")
	h.recorder.Request(metrics.ResultError)
	w.WriteHeader(http.StatusInternalServerError)
}

// recoverer turns a panic anywhere below it into an empty 500.
func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				h.logger.WithFields(logrus.Fields{
					"path":  r.URL.Path,
					"panic": fmt.Sprint(rec),
				}).Error("Recovered from panic in webhook handler")
				h.recorder.Request(metrics.ResultError)
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP authenticates, decodes and dispatches one message. Any failure
// yields a 500 with an empty body.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := h.logger.WithFields(logrus.Fields{
		"request_id": uuid.NewString(),
		"remote":     r.RemoteAddr,
	})

	err := h.handle(r)
	if err != nil {
		result := classify(err)
		h.recorder.Request(result)
		entry := log.WithError(err).WithField("result", result)
		if result == metrics.ResultError {
			entry.Error("Webhook request failed")
		} else {
			entry.Warn("Webhook request rejected")
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.recorder.Request(metrics.ResultOK)
	log.WithField("duration", time.Since(start)).Debug("Webhook request handled")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(SuccessBody))
}

func (h *Handler) handle(r *http.Request) error {
	query := r.URL.Query()
	if err := h.auth.VerifyAll(query.Get(leafspy.PasswordParam), chi.URLParam(r, "secret")); err != nil {
		return err
	}

	msg, err := leafspy.Decode(query)
	if err != nil {
		return err
	}

	if err := h.dispatcher.Dispatch(r.Context(), msg); err != nil {
		return fmt.Errorf("dispatch %s: %w", msg.VIN, err)
	}
	return nil
}

func classify(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return metrics.ResultUnauthorized
	case errors.Is(err, leafspy.ErrDecode):
		return metrics.ResultDecodeError
	default:
		return metrics.ResultError
	}
}

// Server runs the router until the context is cancelled.
type Server struct {
	srv    *http.Server
	logger *logrus.Logger
}

// NewServer returns a server listening on addr.
func NewServer(addr string, handler http.Handler, logger *logrus.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.srv.Addr).Info("Webhook server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("webhook server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("webhook server shutdown: %w", err)
	}
	return ctx.Err()
}
