// Package fileserver serves a static document root through a byte LRU cache.
//
// Requests are resolved to an absolute, symlink-free path inside the root and
// that path is the cache key. Files smaller than the streaming threshold are
// loaded once (concurrent misses coalesce) and served from memory afterwards;
// larger files are streamed from disk in fixed-size chunks and never cached.
package fileserver

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/IvanBrykalov/edgecache/cache"
)

const (
	// IndexFile is served for directory requests.
	IndexFile = "index.html"

	// HeaderCache reports HIT or MISS for cacheable responses.
	HeaderCache = "X-Cache"

	chunkSize   = 16 << 10
	defaultType = "application/octet-stream"
)

var errOutsideRoot = errors.New("path escapes document root")

// Handler serves files below Root.
type Handler struct {
	root    string
	cache   cache.Cache
	maxFile int64
	logger  *log.Logger
}

// New returns a handler for the directory root. Files of maxFile bytes or
// more bypass the cache; maxFile <= 0 caches everything.
func New(root string, c cache.Cache, maxFile int64, logger *log.Logger) (*Handler, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, &fs.PathError{Op: "root", Path: abs, Err: errors.New("not a directory")}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{root: abs, cache: c, maxFile: maxFile, logger: logger}, nil
}

// Root returns the resolved document root.
func (h *Handler) Root() string { return h.root }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	name, fi, err := h.resolve(r.URL.Path)
	switch {
	case errors.Is(err, errOutsideRoot):
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	case errors.Is(err, fs.ErrNotExist):
		http.NotFound(w, r)
		return
	case err != nil:
		h.fail(w, name, err)
		return
	}

	if data, ok := h.cache.Get(name); ok {
		h.write(w, r, name, data, "HIT")
		return
	}

	if h.maxFile > 0 && fi.Size() >= h.maxFile {
		h.stream(w, r, name)
		return
	}

	data, err := h.cache.GetOrLoad(r.Context(), name, func(context.Context) ([]byte, error) {
		return os.ReadFile(name)
	})
	switch {
	case errors.Is(err, fs.ErrNotExist):
		http.NotFound(w, r)
	case errors.Is(err, context.Canceled):
		// client gone
	case err != nil:
		h.fail(w, name, err)
	default:
		h.write(w, r, name, data, "MISS")
	}
}

// resolve maps a URL path to a regular file inside the root, following
// symlinks and substituting IndexFile for directories.
func (h *Handler) resolve(urlPath string) (string, fs.FileInfo, error) {
	clean := path.Clean("/" + urlPath)
	name, err := h.inRoot(filepath.Join(h.root, filepath.FromSlash(clean)))
	if err != nil {
		return "", nil, err
	}
	fi, err := os.Stat(name)
	if err != nil {
		return name, nil, err
	}
	if fi.IsDir() {
		if name, err = h.inRoot(filepath.Join(name, IndexFile)); err != nil {
			return "", nil, err
		}
		if fi, err = os.Stat(name); err != nil {
			return name, nil, err
		}
		if fi.IsDir() {
			return name, nil, fs.ErrNotExist
		}
	}
	return name, fi, nil
}

func (h *Handler) inRoot(p string) (string, error) {
	p, err := filepath.EvalSymlinks(p)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return "", err
		}
		// ENOENT and ENOTDIR alike: nothing servable here.
		return "", fs.ErrNotExist
	}
	rel, err := filepath.Rel(h.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errOutsideRoot
	}
	return p, nil
}

func (h *Handler) header(w http.ResponseWriter, name string, size int64) {
	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		ct = defaultType
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, name string, data []byte, status string) {
	h.header(w, name, int64(len(data)))
	w.Header().Set(HeaderCache, status)
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(data)
}

// stream copies a large file to the client chunk by chunk.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request, name string) {
	f, err := os.Open(name)
	if err != nil {
		h.fail(w, name, err)
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		h.fail(w, name, err)
		return
	}
	h.header(w, name, fi.Size())
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			h.logger.Printf("fileserver: read %s: %v", name, err)
			return
		}
	}
}

func (h *Handler) fail(w http.ResponseWriter, name string, err error) {
	h.logger.Printf("fileserver: %s: %v", name, err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
