package httpapi

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// validResourceName limits skill and agent names to filesystem-safe slugs.
var validResourceName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ResourceStore manages the Agent's named resources on disk: skills under
// <stateDir>/skills/<name>/SKILL.md and agents under
// <stateDir>/agents/<name>.md.
type ResourceStore struct {
	stateDir string
}

// NewResourceStore roots resources under stateDir.
func NewResourceStore(stateDir string) *ResourceStore {
	return &ResourceStore{stateDir: stateDir}
}

func (rs *ResourceStore) mount(mux *http.ServeMux) {
	mux.HandleFunc("/skills/create", rs.handleCreate("skill"))
	mux.HandleFunc("/skills/delete", rs.handleDelete("skill"))
	mux.HandleFunc("/skills/list", rs.handleList("skill"))
	mux.HandleFunc("/agents/create", rs.handleCreate("agent"))
	mux.HandleFunc("/agents/delete", rs.handleDelete("agent"))
	mux.HandleFunc("/agents/list", rs.handleList("agent"))
}

type resourceRequest struct {
	Name    string `json:"name"`
	Content string `json:"content,omitempty"`
}

func (rs *ResourceStore) handleCreate(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resourceRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if !validResourceName.MatchString(req.Name) {
			writeError(w, http.StatusBadRequest, "Invalid "+kind+" name")
			return
		}
		path := rs.path(kind, req.Name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		content := req.Content
		if content == "" {
			content = "# " + req.Name + "\n"
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"name": req.Name, "path": path})
	}
}

func (rs *ResourceStore) handleDelete(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resourceRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if !validResourceName.MatchString(req.Name) {
			writeError(w, http.StatusBadRequest, "Invalid "+kind+" name")
			return
		}
		root := rs.root(kind, req.Name)
		if _, err := os.Stat(root); os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, kind+" not found: "+req.Name)
			return
		}
		if err := os.RemoveAll(root); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func (rs *ResourceStore) handleList(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		names, err := rs.list(kind)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string][]string{kind + "s": names})
	}
}

// root is what delete removes: the skill directory, or the agent file.
func (rs *ResourceStore) root(kind, name string) string {
	if kind == "skill" {
		return filepath.Join(rs.stateDir, "skills", name)
	}
	return filepath.Join(rs.stateDir, "agents", name+".md")
}

func (rs *ResourceStore) path(kind, name string) string {
	if kind == "skill" {
		return filepath.Join(rs.stateDir, "skills", name, "SKILL.md")
	}
	return filepath.Join(rs.stateDir, "agents", name+".md")
}

func (rs *ResourceStore) list(kind string) ([]string, error) {
	dir := filepath.Join(rs.stateDir, kind+"s")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, e := range entries {
		name := e.Name()
		if kind == "skill" {
			if e.IsDir() {
				names = append(names, name)
			}
			continue
		}
		if strings.HasSuffix(name, ".md") {
			names = append(names, strings.TrimSuffix(name, ".md"))
		}
	}
	sort.Strings(names)
	return names, nil
}

// decodeBody parses a JSON request body, answering 400 on malformed input.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
