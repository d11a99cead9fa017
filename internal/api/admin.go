package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/joescharf/buggy/internal/models"
	"github.com/joescharf/buggy/internal/store"
)

// --- Projects ---

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") == ""
	projects, err := s.store.ListProjects(r.Context(), activeOnly)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	views := make([]*projectView, 0, len(projects))
	for _, p := range projects {
		views = append(views, newProjectView(p))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	p := &models.Project{Name: strings.TrimSpace(req.Name), IsActive: true}
	if p.Name == "" {
		s.writeFailure(w, invalid("A project name is required."))
		return
	}
	if err := s.store.CreateProject(r.Context(), p); err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newProjectView(p))
}

func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	existing, err := s.store.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	patchString(patch, "name", &existing.Name)
	patchBool(patch, "is_active", &existing.IsActive)

	if err := s.store.UpdateProject(r.Context(), existing); err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newProjectView(existing))
}

// --- Users ---

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") == ""
	users, err := s.store.ListUsers(r.Context(), activeOnly)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	views := make([]*userView, 0, len(users))
	for _, u := range users {
		views = append(views, newUserView(u))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Name     string `json:"name"`
		Email    string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	u := &models.User{
		Username: strings.TrimSpace(req.Username),
		Name:     strings.TrimSpace(req.Name),
		Email:    strings.TrimSpace(req.Email),
		IsActive: true,
	}
	if u.Username == "" {
		s.writeFailure(w, invalid("A username is required."))
		return
	}
	if err := s.store.CreateUser(r.Context(), u); err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newUserView(u))
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	existing, err := s.store.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	patchString(patch, "username", &existing.Username)
	patchString(patch, "name", &existing.Name)
	patchString(patch, "email", &existing.Email)
	patchBool(patch, "is_active", &existing.IsActive)

	if err := s.store.UpdateUser(r.Context(), existing); err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(existing))
}

// --- Preset filters ---

type presetView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (s *Server) listPresets(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	presets, err := s.store.ListPresets(r.Context(), user.ID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	views := make([]presetView, 0, len(presets))
	for _, p := range presets {
		views = append(views, presetView{ID: p.ID, Name: p.Name, URL: p.URL})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) createPreset(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	var req presetView
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	fields := map[string][]string{}
	p := &models.PresetFilter{UserID: user.ID, Name: strings.TrimSpace(req.Name), URL: strings.TrimSpace(req.URL)}
	if p.Name == "" {
		fields["name"] = append(fields["name"], "This field is required.")
	}
	if p.URL == "" {
		fields["url"] = append(fields["url"], "This field is required.")
	} else if _, err := presetQuery(p.URL); err != nil {
		fields["url"] = append(fields["url"], "Enter a valid URL.")
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": fields})
		return
	}

	err := s.store.CreatePreset(r.Context(), p)
	if errors.Is(err, store.ErrConflict) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": map[string][]string{
			"name": {"Preset names must be unique."},
		}})
		return
	}
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, presetView{ID: p.ID, Name: p.Name, URL: p.URL})
}

func (s *Server) deletePreset(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	if err := s.store.DeletePreset(r.Context(), user.ID, r.PathValue("id")); err != nil {
		s.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
