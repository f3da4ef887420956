// Package stream delivers video files from the videos directory over HTTP.
package stream

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/snapetech/vidcat/internal/metrics"
	"github.com/snapetech/vidcat/internal/safepath"
)

// videoTypes covers containers the platform mime table often lacks.
var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".ts":   "video/mp2t",
	".m3u8": "application/vnd.apple.mpegurl",
	".mpd":  "application/dash+xml",
	".ogv":  "video/ogg",
	".avi":  "video/x-msvideo",
}

// ContentType infers a content type from name's extension.
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return "application/octet-stream"
	}
	if t, ok := videoTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Streamer resolves requested names under Root and serves the files.
type Streamer struct {
	Root    *safepath.Root
	Pool    *Pool
	Metrics *metrics.Metrics

	// WaitTimeout bounds how long a request queues for a read slot; 0 = until the client goes away.
	WaitTimeout time.Duration

	forbiddenLog rate.Sometimes
}

// New returns a Streamer over root with a pool of workers read slots.
func New(root *safepath.Root, workers int, m *metrics.Metrics) *Streamer {
	return &Streamer{
		Root:         root,
		Pool:         NewPool(workers),
		Metrics:      m,
		forbiddenLog: rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
}

// File is an open video plus what the response needs to describe it.
// Close releases the read slot.
type File struct {
	*os.File
	Name        string
	Size        int64
	ModTime     time.Time
	ContentType string

	release func()
}

func (f *File) Close() error {
	err := f.File.Close()
	f.release()
	return err
}

// Open resolves name under the base directory, waits for a read slot and
// opens the file. Errors match safepath.ErrNotFound, safepath.ErrForbidden,
// ErrBusy, or wrap an I/O failure.
func (s *Streamer) Open(ctx context.Context, name string) (*File, error) {
	p, err := s.Root.Resolve(name)
	if err != nil {
		return nil, err
	}
	release, err := s.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	f, err := s.Root.Open(p)
	if err != nil {
		release()
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		release()
		return nil, fmt.Errorf("stream: stat %q: %w", name, err)
	}
	if !fi.Mode().IsRegular() {
		f.Close()
		release()
		return nil, safepath.ErrNotFound
	}
	return &File{
		File:        f,
		Name:        filepath.Base(p),
		Size:        fi.Size(),
		ModTime:     fi.ModTime(),
		ContentType: ContentType(p),
		release:     release,
	}, nil
}

// Serve writes the file called name to w. Plain GETs get the whole file;
// Range and conditional requests are answered by http.ServeContent.
func (s *Streamer) Serve(w http.ResponseWriter, r *http.Request, name string) {
	ctx := r.Context()
	if s.WaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.WaitTimeout)
		defer cancel()
	}
	f, err := s.Open(ctx, name)
	if err != nil {
		s.fail(w, r, name, err)
		return
	}
	defer f.Close()
	defer s.Metrics.StreamStarted()()

	h := w.Header()
	h.Set("Content-Type", f.ContentType)
	h.Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, f.Name, f.ModTime, f.File)
}

// StatusFor maps an Open error to the HTTP status it is reported with.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, safepath.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, safepath.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Streamer) fail(w http.ResponseWriter, r *http.Request, name string, err error) {
	code := StatusFor(err)
	switch code {
	case http.StatusNotFound:
		s.Metrics.StreamFailed(metrics.ReasonNotFound)
	case http.StatusForbidden:
		s.Metrics.StreamFailed(metrics.ReasonForbidden)
		s.forbiddenLog.Do(func() {
			log.WithFields(log.Fields{"name": name, "remote": r.RemoteAddr}).
				Warn("stream: rejected path outside videos dir")
		})
	case http.StatusServiceUnavailable:
		if r.Context().Err() != nil {
			// Client gave up while queued; nobody is listening for a response.
			return
		}
		s.Metrics.StreamFailed(metrics.ReasonBusy)
		w.Header().Set("Retry-After", "1")
		log.WithField("name", name).Warn("stream: no read slot free")
	default:
		s.Metrics.StreamFailed(metrics.ReasonError)
		log.WithError(err).WithField("name", name).Error("stream: read failed")
	}
	http.Error(w, http.StatusText(code), code)
}
