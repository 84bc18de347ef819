// Package demosite serves a small fake competitor website whose pages exist
// in several versions. Flipping versions through the control endpoints
// simulates a competitor shipping changes, which makes it a convenient
// end-to-end target for the monitoring engine. The page fixtures double as
// realistic inputs for section and classification tests.
package demosite

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"sync"
)

// Site serves the versioned pages and the version control panel.
type Site struct {
	mu       sync.RWMutex
	pages    map[string]Page
	versions map[string]int
}

// NewSite builds a Site with every page at version 1.
func NewSite() *Site {
	pages := AllPages()
	pageMap := make(map[string]Page, len(pages))
	versions := make(map[string]int, len(pages))
	for _, p := range pages {
		pageMap[p.Path] = p
		versions[p.Path] = 1
	}
	return &Site{pages: pageMap, versions: versions}
}

// Handler returns the site's HTTP handler.
func (s *Site) Handler() http.Handler {
	mux := http.NewServeMux()
	for path := range s.pages {
		mux.HandleFunc(path, s.pageHandler(path))
	}
	mux.HandleFunc("/demo/control", s.handleControlPanel)
	mux.HandleFunc("/demo/set-version", s.handleSetVersion)
	mux.HandleFunc("/demo/get-versions", s.handleGetVersions)
	mux.HandleFunc("/demo/bump-all", s.handleBumpAll)
	mux.HandleFunc("/demo/reset", s.handleReset)
	return mux
}

// Render returns the HTML currently served for a path, or "" for an unknown
// path. Used by tests that want the document without an HTTP round trip.
func (s *Site) Render(path string) string {
	s.mu.RLock()
	page, ok := s.pages[path]
	version := s.versions[path]
	s.mu.RUnlock()
	if !ok {
		return ""
	}
	return page.html(version)
}

// SetVersion pins one page to a version.
func (s *Site) SetVersion(path string, version int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[path]; !ok {
		return false
	}
	s.versions[path] = version
	return true
}

// BumpAll advances every page by one version, capped at its newest.
func (s *Site) BumpAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path, page := range s.pages {
		if s.versions[path] < len(page.Versions) {
			s.versions[path]++
		}
	}
}

// Reset pins every page back to version 1.
func (s *Site) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path := range s.versions {
		s.versions[path] = 1
	}
}

func (s *Site) pageHandler(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		html := s.Render(path)
		if html == "" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(html))
	}
}

func (s *Site) handleSetVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := r.FormValue("path")
	version, err := strconv.Atoi(r.FormValue("version"))
	if err != nil || version < 1 {
		http.Error(w, "invalid version number", http.StatusBadRequest)
		return
	}
	ok := s.SetVersion(path, version)
	writeControlJSON(w, map[string]any{"success": ok, "path": path, "version": version})
}

func (s *Site) handleGetVersions(w http.ResponseWriter, r *http.Request) {
	type pageInfo struct {
		Path           string `json:"path"`
		Description    string `json:"description"`
		CurrentVersion int    `json:"current_version"`
		VersionCount   int    `json:"version_count"`
	}

	s.mu.RLock()
	infos := make([]pageInfo, 0, len(s.pages))
	for path, page := range s.pages {
		infos = append(infos, pageInfo{
			Path:           path,
			Description:    page.Description,
			CurrentVersion: s.versions[path],
			VersionCount:   len(page.Versions),
		})
	}
	s.mu.RUnlock()

	writeControlJSON(w, infos)
}

func (s *Site) handleBumpAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.BumpAll()
	writeControlJSON(w, map[string]any{"success": true, "message": "all versions bumped"})
}

func (s *Site) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.Reset()
	writeControlJSON(w, map[string]any{"success": true, "message": "all versions reset to 1"})
}

func (s *Site) handleControlPanel(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	data := struct {
		Pages    map[string]Page
		Versions map[string]int
	}{Pages: s.pages, Versions: s.versions}
	tmpl := template.Must(template.New("control").Funcs(template.FuncMap{
		"plus1": func(i int) int { return i + 1 },
	}).Parse(controlPanelHTML))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := tmpl.Execute(w, data)
	s.mu.RUnlock()
	if err != nil {
		fmt.Println("control panel render failed:", err)
	}
}

func writeControlJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

const controlPanelHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Demo Site Control Panel</title>
    <style>
        body { font-family: system-ui, sans-serif; max-width: 900px; margin: 0 auto; padding: 20px; }
        .page-card { border: 1px solid #ddd; border-radius: 8px; padding: 16px; margin: 12px 0; }
        .page-path { font-weight: bold; color: #007bff; text-decoration: none; }
        .version-btn { padding: 6px 14px; margin-right: 6px; border: 1px solid #ccc; border-radius: 4px; cursor: pointer; }
        .version-btn.active { background: #007bff; color: white; }
        .global-btn { padding: 8px 18px; margin-right: 8px; cursor: pointer; }
    </style>
</head>
<body>
    <h1>Demo Site Control Panel</h1>
    <p>Flip page versions to simulate a competitor shipping changes.</p>
    <div>
        <button class="global-btn" onclick="post('/demo/bump-all')">Bump all</button>
        <button class="global-btn" onclick="post('/demo/reset')">Reset to v1</button>
    </div>
    {{range $path, $page := .Pages}}
    <div class="page-card">
        <a href="{{$path}}" target="_blank" class="page-path">{{$path}}</a>
        <span>current: v{{index $.Versions $path}}</span>
        <div>{{$page.Description}}</div>
        <div>
            {{range $i, $_ := $page.Versions}}
            <button class="version-btn {{if eq (index $.Versions $path) (plus1 $i)}}active{{end}}"
                    onclick="setVersion('{{$path}}', {{plus1 $i}})">v{{plus1 $i}}</button>
            {{end}}
        </div>
    </div>
    {{end}}
    <script>
        function post(url, body) {
            return fetch(url, {method: 'POST',
                headers: {'Content-Type': 'application/x-www-form-urlencoded'},
                body: body || ''}).then(() => location.reload());
        }
        function setVersion(path, version) {
            post('/demo/set-version', 'path=' + encodeURIComponent(path) + '&version=' + version);
        }
    </script>
</body>
</html>`
