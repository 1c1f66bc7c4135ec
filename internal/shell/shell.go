// Package shell embeds the installable app shell and serves it through
// the versioned shell cache. The service worker must be served from the
// root path so its scope covers the entire origin.
package shell

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"path"

	"github.com/rs/zerolog"

	"carehq/internal/shellcache"
)

//go:embed static
var staticFS embed.FS

// Assets is the fixed precache list for the shell cache install step.
func Assets() []string {
	return []string{"/", "/index.html", "/app.js", "/manifest.json"}
}

// EmbeddedOrigin serves the embedded shell files as the cache's
// upstream origin.
type EmbeddedOrigin struct {
	files fs.FS
}

// NewEmbeddedOrigin returns the origin over the embedded assets.
func NewEmbeddedOrigin() (*EmbeddedOrigin, error) {
	files, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("shell assets: %w", err)
	}
	return &EmbeddedOrigin{files: files}, nil
}

// Fetch reads one embedded file. "/" maps to index.html; a missing file
// comes back as a 404 entry, not an error.
func (o *EmbeddedOrigin) Fetch(ctx context.Context, method, p string) (*shellcache.Entry, error) {
	if method != http.MethodGet {
		return &shellcache.Entry{Status: http.StatusMethodNotAllowed, ContentType: "text/plain", Body: []byte("method not allowed")}, nil
	}

	name := path.Clean(p)
	if name == "/" || name == "." {
		name = "/index.html"
	}
	name = name[1:] // strip leading slash for fs lookup

	body, err := fs.ReadFile(o.files, name)
	if err != nil {
		return &shellcache.Entry{Status: http.StatusNotFound, ContentType: "text/plain", Body: []byte("not found")}, nil
	}

	ctype := mime.TypeByExtension(path.Ext(name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	return &shellcache.Entry{Status: http.StatusOK, ContentType: ctype, Body: body}, nil
}

// Handler serves shell routes through the cache.
type Handler struct {
	cache  *shellcache.Cache
	logger *zerolog.Logger
}

// NewHandler creates the shell handler.
func NewHandler(cache *shellcache.Cache, logger *zerolog.Logger) *Handler {
	return &Handler{cache: cache, logger: logger}
}

// Register mounts the shell routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/", h.serve)
	mux.HandleFunc("/sw.js", h.serveWorker)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, nil)
}

// serveWorker serves the service worker with the headers it needs:
// root scope and no HTTP caching so updates roll out immediately.
func (h *Handler) serveWorker(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, func(header http.Header) {
		header.Set("Service-Worker-Allowed", "/")
		header.Set("Cache-Control", "no-cache")
	})
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, decorate func(http.Header)) {
	entry, err := h.cache.Fetch(r.Context(), r)
	if err != nil {
		h.logger.Error().Str("path", r.URL.Path).Err(err).Msg("shell fetch failed")
		http.Error(w, "shell unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", entry.ContentType)
	if decorate != nil {
		decorate(w.Header())
	}
	w.WriteHeader(entry.Status)
	w.Write(entry.Body)
}
