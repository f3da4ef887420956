// Package server wires the catalog and the streamer into an HTTP service.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"

	"github.com/snapetech/vidcat/internal/catalog"
	"github.com/snapetech/vidcat/internal/metrics"
	"github.com/snapetech/vidcat/internal/stream"
)

const (
	DefaultAddr            = ":5000"
	DefaultRequestTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Server serves the catalog, the video files, health and metrics.
type Server struct {
	Addr           string
	Listener       net.Listener // optional; when set Addr is ignored
	Catalog        *catalog.Catalog
	Streamer       *stream.Streamer
	Metrics        *metrics.Metrics
	RequestTimeout time.Duration // bound for /videos; 0 = DefaultRequestTimeout
	MaxConns       int           // 0 = unlimited
	CORSOrigin     string        // "" = no CORS headers

	ShutdownTimeout time.Duration // 0 = DefaultShutdownTimeout
}

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	timeout := s.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	r := chi.NewRouter()
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	if s.CORSOrigin != "" {
		r.Use(cors(s.CORSOrigin))
	}
	r.Use(middleware.GetHead)

	r.With(middleware.Timeout(timeout)).Get("/videos", s.serveCatalog)
	r.Get("/videos/*", s.serveStream)
	r.Get("/healthz", s.serveHealth)
	r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	return r
}

// Run blocks until ctx is cancelled or the server fails to start. On shutdown it stops
// accepting new connections and waits briefly for in-flight requests to finish.
func (s *Server) Run(ctx context.Context) error {
	ln := s.Listener
	if ln == nil {
		addr := s.Addr
		if addr == "" {
			addr = DefaultAddr
		}
		var err error
		ln, err = net.Listen("tcp", addr)
		if err != nil {
			return err
		}
	}
	if s.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.MaxConns)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"addr":      ln.Addr().String(),
			"videos":    s.Catalog.Len(),
			"max_conns": s.MaxConns,
		}).Info("vidcat listening")
		serverErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Info("Shutting down vidcat ...")
		grace := s.ShutdownTimeout
		if grace <= 0 {
			grace = DefaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("vidcat shutdown")
		}
		<-serverErr
		return nil
	}
}

// serveCatalog handles GET /videos: the whole catalog as a JSON array, in order.
func (s *Server) serveCatalog(w http.ResponseWriter, r *http.Request) {
	etag := s.Catalog.ETag()
	h := w.Header()
	h.Set("ETag", etag)
	h.Set("Cache-Control", "no-cache")
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.Set("Content-Type", "application/json")
	writeCompressed(w, r, s.Catalog.JSON())
}

// serveStream handles GET /videos/{filename...}.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		// chi routed on the escaped path; decode so %2e%2e%2f gets the same checks as ../
		decoded, err := url.PathUnescape(name)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		name = decoded
	}
	s.Streamer.Serve(w, r, name)
}

// serveHealth handles GET /healthz.
// Returns 200 {"status":"ok",...} while the videos directory is usable, 503 {"status":"degraded",...} otherwise.
func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	dir := s.Streamer.Root.Dir()
	status, code := "ok", http.StatusOK
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	body, _ := json.Marshal(map[string]interface{}{
		"status":              status,
		"videos":              s.Catalog.Len(),
		"videos_dir":          dir,
		"stream_slots":        s.Streamer.Pool.Size(),
		"stream_slots_in_use": s.Streamer.Pool.InUse(),
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}
