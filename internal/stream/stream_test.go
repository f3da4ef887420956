package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/snapetech/vidcat/internal/metrics"
	"github.com/snapetech/vidcat/internal/safepath"
)

const videoBody = "0123456789abcdefghij"

func newStreamer(t *testing.T, workers int) (*Streamer, string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "video1.mp4"), []byte(videoBody), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "clips"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "clips", "trailer.webm"), []byte("webm"), 0644); err != nil {
		t.Fatal(err)
	}
	root, err := safepath.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	return New(root, workers, metrics.New()), dir
}

func serve(s *Streamer, req *http.Request, name string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Serve(rec, req, name)
	return rec
}

func TestServe_wholeFile(t *testing.T) {
	s, _ := newStreamer(t, 2)
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/videos/video1.mp4", nil), "video1.mp4")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Body.String() != videoBody {
		t.Errorf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("Accept-Ranges") != "bytes" {
		t.Errorf("Accept-Ranges = %q", rec.Header().Get("Accept-Ranges"))
	}
	if rec.Header().Get("Last-Modified") == "" {
		t.Error("missing Last-Modified")
	}
	if s.Pool.InUse() != 0 {
		t.Errorf("slot leaked: InUse = %d", s.Pool.InUse())
	}
}

func TestServe_nested(t *testing.T) {
	s, _ := newStreamer(t, 2)
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/videos/clips/trailer.webm", nil), "clips/trailer.webm")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "video/webm" {
		t.Errorf("status = %d type = %q", rec.Code, rec.Header().Get("Content-Type"))
	}
}

func TestServe_range(t *testing.T) {
	s, _ := newStreamer(t, 2)
	req := httptest.NewRequest(http.MethodGet, "/videos/video1.mp4", nil)
	req.Header.Set("Range", "bytes=5-9")
	rec := serve(s, req, "video1.mp4")
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != fmt.Sprintf("bytes 5-9/%d", len(videoBody)) {
		t.Errorf("Content-Range = %q", got)
	}
	if rec.Body.String() != "56789" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestServe_suffixRange(t *testing.T) {
	s, _ := newStreamer(t, 2)
	req := httptest.NewRequest(http.MethodGet, "/videos/video1.mp4", nil)
	req.Header.Set("Range", "bytes=-4")
	rec := serve(s, req, "video1.mp4")
	if rec.Code != http.StatusPartialContent || rec.Body.String() != "ghij" {
		t.Errorf("status = %d body = %q", rec.Code, rec.Body.String())
	}
}

func TestServe_unsatisfiableRange(t *testing.T) {
	s, _ := newStreamer(t, 2)
	req := httptest.NewRequest(http.MethodGet, "/videos/video1.mp4", nil)
	req.Header.Set("Range", "bytes=500-600")
	rec := serve(s, req, "video1.mp4")
	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Errorf("status = %d, want 416", rec.Code)
	}
}

func TestServe_notModified(t *testing.T) {
	s, dir := newStreamer(t, 2)
	fi, _ := os.Stat(filepath.Join(dir, "video1.mp4"))
	req := httptest.NewRequest(http.MethodGet, "/videos/video1.mp4", nil)
	req.Header.Set("If-Modified-Since", fi.ModTime().Add(time.Hour).UTC().Format(http.TimeFormat))
	rec := serve(s, req, "video1.mp4")
	if rec.Code != http.StatusNotModified {
		t.Errorf("status = %d, want 304", rec.Code)
	}
}

func TestServe_notFound(t *testing.T) {
	s, _ := newStreamer(t, 2)
	names := []string{"missing.mp4", "clips", "", "clips/none.webm", "video1.mp4/", "clips/trailer.webm/"}
	for _, name := range names {
		rec := serve(s, httptest.NewRequest(http.MethodGet, "/videos/x", nil), name)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%q: status = %d, want 404", name, rec.Code)
		}
		if strings.Contains(rec.Body.String(), videoBody) {
			t.Errorf("%q: body leaked file content", name)
		}
	}
	if got := streamErrors(t, s.Metrics, metrics.ReasonNotFound); got != float64(len(names)) {
		t.Errorf("not_found counter = %v, want %d", got, len(names))
	}
}

func TestServe_forbidden(t *testing.T) {
	s, dir := newStreamer(t, 2)
	secret := filepath.Join(filepath.Dir(dir), "secret.txt")
	os.WriteFile(secret, []byte("top secret"), 0644)
	for _, name := range []string{"../../etc/passwd", "../secret.txt", "clips/../../secret.txt", "/etc/passwd"} {
		rec := serve(s, httptest.NewRequest(http.MethodGet, "/videos/x", nil), name)
		if rec.Code != http.StatusForbidden {
			t.Errorf("%q: status = %d, want 403", name, rec.Code)
		}
		if strings.Contains(rec.Body.String(), "root:") || strings.Contains(rec.Body.String(), "top secret") {
			t.Errorf("%q: leaked file content", name)
		}
	}
}

func TestServe_busy(t *testing.T) {
	s, _ := newStreamer(t, 1)
	s.WaitTimeout = 20 * time.Millisecond
	release, err := s.Pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer release()
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/videos/video1.mp4", nil), "video1.mp4")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

func TestOpen_holdsSlotUntilClose(t *testing.T) {
	s, _ := newStreamer(t, 1)
	f, err := s.Open(context.Background(), "video1.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if f.Size != int64(len(videoBody)) || f.ContentType != "video/mp4" || f.Name != "video1.mp4" {
		t.Errorf("file = %+v", f)
	}
	if s.Pool.InUse() != 1 {
		t.Errorf("InUse = %d while open", s.Pool.InUse())
	}
	b, _ := io.ReadAll(f)
	if string(b) != videoBody {
		t.Errorf("read %q", b)
	}
	f.Close()
	if s.Pool.InUse() != 0 {
		t.Errorf("InUse = %d after close", s.Pool.InUse())
	}
}

func TestOpen_typeFromResolvedFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	s, dir := newStreamer(t, 1)
	if err := os.Symlink(filepath.Join(dir, "clips", "trailer.webm"), filepath.Join(dir, "latest")); err != nil {
		t.Fatal(err)
	}
	f, err := s.Open(context.Background(), "latest")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if f.ContentType != "video/webm" || f.Name != "trailer.webm" {
		t.Errorf("ContentType = %q Name = %q", f.ContentType, f.Name)
	}
}

func TestOpen_errorsDoNotTakeSlots(t *testing.T) {
	s, _ := newStreamer(t, 1)
	for _, name := range []string{"missing.mp4", "../x"} {
		if _, err := s.Open(context.Background(), name); err == nil {
			t.Errorf("%q: expected error", name)
		}
	}
	if s.Pool.InUse() != 0 {
		t.Errorf("InUse = %d", s.Pool.InUse())
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{safepath.ErrNotFound, http.StatusNotFound},
		{safepath.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("%w: %w", ErrBusy, context.DeadlineExceeded), http.StatusServiceUnavailable},
		{fmt.Errorf("stream: open: %w", os.ErrPermission), http.StatusInternalServerError},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"video1.mp4":      "video/mp4",
		"CLIP.MP4":        "video/mp4",
		"a/b/c.webm":      "video/webm",
		"movie.mkv":       "video/x-matroska",
		"seg.ts":          "video/mp2t",
		"index.m3u8":      "application/vnd.apple.mpegurl",
		"noext":           "application/octet-stream",
		"weird.zzqqxx123": "application/octet-stream",
	}
	for name, want := range tests {
		if got := ContentType(name); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", name, got, want)
		}
	}
	if got := ContentType("poster.png"); got != "image/png" {
		t.Errorf("ContentType(poster.png) = %q", got)
	}
}

// streamErrors reads vidcat_stream_errors_total{reason} from the registry.
func streamErrors(t *testing.T, m *metrics.Metrics, reason string) float64 {
	t.Helper()
	mfs, err := m.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "vidcat_stream_errors_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "reason" && lp.GetValue() == reason {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
