package panel

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
)

// ErrNoIndex is returned when the UI directory has no index.html.
var ErrNoIndex = errors.New("panel: index.html not found")

// Dir opens the UI assets in dir and checks they contain an index page.
func Dir(dir string) (fs.FS, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("panel: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("panel: %s is not a directory", dir)
	}
	fsys := os.DirFS(dir)
	if _, err := fs.Stat(fsys, "index.html"); err != nil {
		return nil, fmt.Errorf("%w in %s", ErrNoIndex, dir)
	}
	return fsys, nil
}

// Handler serves the UI in fsys with SPA fallback. Requests under
// /api/ never fall back, so a mistyped API path still answers 404.
func Handler(fsys fs.FS) http.Handler {
	fileServer := http.FileServer(http.FS(fsys))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upath := path.Clean("/" + r.URL.Path)
		if strings.HasPrefix(upath, "/api/") {
			http.NotFound(w, r)
			return
		}

		name := strings.TrimPrefix(upath, "/")
		if name == "" || name == "index.html" || !exists(fsys, name) {
			w.Header().Set("Cache-Control", "no-cache, must-revalidate")
			r2 := r.Clone(r.Context())
			r2.URL.Path = "/"
			fileServer.ServeHTTP(w, r2)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

func exists(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && !info.IsDir()
}
