package router

import (
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/lumen-web/lumen/http"
	"github.com/lumen-web/lumen/http/method"
	"github.com/lumen-web/lumen/http/status"
)

type mount struct {
	prefix string
	dir    string
}

// Static mounts a directory under the URL prefix. Files are resolved
// relative to dir; path traversal outside of it is rejected.
func (r *Router) Static(prefix, dir string) *Router {
	r.mounts = append(r.mounts, mount{prefix: cleanPrefix(prefix), dir: dir})
	return r
}

// File serves a single file at the exact path.
func (r *Router) File(path, file string) *Router {
	r.files[cleanPrefix(path)] = file
	return r
}

func (r *Router) serveStatic(request *http.Request) (*http.Response, bool) {
	if request.Method != method.GET && request.Method != method.HEAD {
		return nil, false
	}

	if file, found := r.files[strings.TrimSuffix(request.Path, "/")]; found {
		return serveFile(file), true
	}

	for _, m := range r.mounts {
		rel, found := strings.CutPrefix(request.Path, m.prefix+"/")
		if !found {
			continue
		}

		full := filepath.Join(m.dir, filepath.FromSlash(rel))
		// Join cleans the path; anything still escaping the root is hostile
		if !strings.HasPrefix(full, filepath.Clean(m.dir)+string(filepath.Separator)) {
			return http.NewResponse().Error(status.ErrNotFound), true
		}

		return serveFile(full), true
	}

	return nil, false
}

func serveFile(path string) *http.Response {
	body, err := os.ReadFile(path)
	if err != nil {
		return http.NewResponse().Error(status.ErrNotFound)
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return http.NewResponse().ContentType(contentType).Bytes(body)
}
