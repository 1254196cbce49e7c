// Package web embeds the restoration page.
package web

import (
	"bytes"
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/raushankrgupta/photo-restorer/utils"
)

//go:embed all:dist
var distFS embed.FS

const (
	indexFile    = "index.html"
	assetPrefix  = "static/"
	assetCaching = "public, max-age=3600"
)

// Handler serves the page and its assets. Assets under /static/ are cached
// and 404 when missing; every other GET gets index.html, uncached, so a
// deploy is picked up on the next load.
func Handler() http.Handler {
	site, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}
	index, err := fs.ReadFile(site, indexFile)
	if err != nil {
		panic("web: missing " + indexFile + ": " + err.Error())
	}
	loaded := time.Now()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			utils.RespondError(w, nil, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("X-Content-Type-Options", "nosniff")

		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if strings.HasPrefix(name, assetPrefix) {
			if !isFile(site, name) {
				utils.Logger.Debug("web: asset not found", zap.String("path", name))
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Cache-Control", assetCaching)
			http.ServeFileFS(w, r, site, name)
			return
		}

		w.Header().Set("Cache-Control", "no-cache")
		http.ServeContent(w, r, indexFile, loaded, bytes.NewReader(index))
	})
}

func isFile(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && !info.IsDir()
}
