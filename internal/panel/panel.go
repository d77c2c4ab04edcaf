package panel

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
)

//go:embed web/*
var content embed.FS

// ConfigPath is where the page reads its runtime settings from.
const ConfigPath = "/panel.json"

// Settings is served at ConfigPath so the page does not hardcode the
// websocket route.
type Settings struct {
	WebSocketPath string `json:"ws_path"`
	Version       string `json:"version"`
}

// Handler returns an http.Handler that serves the monitor page.
//
// When dir is non-empty and exists, assets come from disk. Otherwise the
// embedded copy is used. Unknown paths are 404s; the page has no client-side
// routes. Panics if the embedded assets cannot be loaded (build error).
func Handler(dir string, settings Settings) http.Handler {
	var fileSystem http.FileSystem

	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			fileSystem = http.Dir(dir)
		}
	}

	if fileSystem == nil {
		webFS, err := fs.Sub(content, "web")
		if err != nil {
			panic(fmt.Sprintf("panel: failed to load embedded web assets: %v", err))
		}
		fileSystem = http.FS(webFS)
	}

	fileServer := http.FileServer(fileSystem)
	settingsJSON, _ := json.Marshal(settings) //nolint:errcheck // plain strings always marshal

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		// The page polls nothing and changes rarely, but it must pick up a
		// new build after an upgrade.
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")

		upath := path.Clean("/" + r.URL.Path)
		if upath == ConfigPath {
			w.Header().Set("Content-Type", "application/json")
			w.Write(settingsJSON) //nolint:errcheck // client gone
			return
		}
		if upath == "/" {
			fileServer.ServeHTTP(w, r)
			return
		}

		f, err := fileSystem.Open(upath)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		info, err := f.Stat()
		f.Close()
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}

		fileServer.ServeHTTP(w, r)
	})
}
