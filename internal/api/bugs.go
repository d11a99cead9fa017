package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/joescharf/buggy/internal/models"
	"github.com/joescharf/buggy/internal/store"
	"github.com/joescharf/buggy/internal/workflow"
)

const maxUploadMemory = 32 << 20

// submitRequest is the wire form of a workflow submission. Priority accepts
// a label ("high") or its numeric value; Project an id or a name; AssignTo a
// username or an email address.
type submitRequest struct {
	Action   workflow.ActionID `json:"action"`
	Comment  string            `json:"comment"`
	Title    string            `json:"title"`
	Priority string            `json:"priority"`
	Project  string            `json:"project"`
	AssignTo string            `json:"assign_to"`
	// Numbers lists the target bugs of a bulk action.
	Numbers []string `json:"numbers,omitempty"`
}

func decodeSubmission(r *http.Request) (submitRequest, []*multipart.FileHeader, error) {
	var req submitRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, nil, err
		}
		return req, nil, nil
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return req, nil, err
	}
	form := r.MultipartForm
	get := func(key string) string {
		if v := form.Value[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	req = submitRequest{
		Action:   workflow.ActionID(get("action")),
		Comment:  get("comment"),
		Title:    get("title"),
		Priority: get("priority"),
		Project:  get("project"),
		AssignTo: get("assign_to"),
	}
	return req, form.File["attachments"], nil
}

// toSubmission resolves references in req. Every unresolvable reference is
// reported in one ValidationError.
func (s *Server) toSubmission(ctx context.Context, req submitRequest) (workflow.Submission, error) {
	sub := workflow.Submission{
		Action:  req.Action,
		Comment: req.Comment,
		Title:   req.Title,
	}
	var msgs []string

	if p := strings.TrimSpace(req.Priority); p != "" {
		priority, err := models.ParsePriority(p)
		if err != nil {
			msgs = append(msgs, fmt.Sprintf("%q is not a valid priority.", p))
		}
		sub.Priority = priority
	}

	if name := strings.TrimSpace(req.Project); name != "" {
		p, err := s.resolveProject(ctx, name)
		switch {
		case errors.Is(err, store.ErrNotFound):
			msgs = append(msgs, fmt.Sprintf("Unknown project %q.", name))
		case err != nil:
			return sub, err
		}
		sub.Project = p
	}

	if ident := strings.TrimSpace(req.AssignTo); ident != "" {
		u, err := s.svc.FindUser(ctx, ident)
		switch {
		case errors.Is(err, store.ErrNotFound):
			msgs = append(msgs, fmt.Sprintf("Unknown user %q.", ident))
		case err != nil:
			return sub, err
		}
		sub.AssignTo = u
	}

	if len(msgs) > 0 {
		return sub, invalid(msgs...)
	}
	return sub, nil
}

func (s *Server) resolveProject(ctx context.Context, ref string) (*models.Project, error) {
	p, err := s.store.GetProject(ctx, ref)
	if err == nil || !errors.Is(err, store.ErrNotFound) {
		return p, err
	}
	return s.store.GetProjectByName(ctx, ref)
}

// stage stores uploads ahead of the commit and returns their keys.
func (s *Server) stage(uploads []*multipart.FileHeader) ([]string, error) {
	if len(uploads) == 0 {
		return nil, nil
	}
	if s.files == nil {
		return nil, invalid("Attachments are not enabled.")
	}
	var keys []string
	for _, fh := range uploads {
		f, err := fh.Open()
		if err != nil {
			s.files.Discard(keys)
			return nil, fmt.Errorf("open upload: %w", err)
		}
		key, err := s.files.Stage(fh.Filename, f)
		f.Close()
		if err != nil {
			s.files.Discard(keys)
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// submit runs one submission with attachment staging around it.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, user *models.User, bugID int64) (*models.Action, bool) {
	req, uploads, err := decodeSubmission(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if bugID == 0 && req.Action == "" {
		req.Action = workflow.ActionCreate
	}
	sub, err := s.toSubmission(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return nil, false
	}
	keys, err := s.stage(uploads)
	if err != nil {
		s.writeFailure(w, err)
		return nil, false
	}
	sub.Attachments = keys

	action, err := s.svc.Submit(r.Context(), user, bugID, sub)
	if err != nil {
		if s.files != nil {
			s.files.Discard(keys)
		}
		s.writeFailure(w, err)
		return nil, false
	}
	if len(keys) > 0 {
		if err := s.files.Promote(action.Bug.Number(), keys); err != nil {
			s.writeFailure(w, err)
			return nil, false
		}
	}
	return action, true
}

func (s *Server) listBugs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if id := query.Get("preset"); id != "" {
		user := s.currentUser(w, r)
		if user == nil {
			return
		}
		merged, err := s.applyPreset(r.Context(), user, id, query)
		if err != nil {
			s.writeFailure(w, err)
			return
		}
		query = merged
	}

	filter, err := s.parseFilter(r.Context(), query)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	bugs, err := s.store.ListBugs(r.Context(), filter)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	views := make([]bugView, 0, len(bugs))
	for _, b := range bugs {
		views = append(views, newBugView(b))
	}
	writeJSON(w, http.StatusOK, views)
}

// applyPreset fills query keys the request left out from a saved preset.
func (s *Server) applyPreset(ctx context.Context, user *models.User, id string, query url.Values) (url.Values, error) {
	presets, err := s.store.ListPresets(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	for _, p := range presets {
		if p.ID != id {
			continue
		}
		saved, err := presetQuery(p.URL)
		if err != nil {
			return nil, invalid(fmt.Sprintf("Preset %q has an invalid URL.", p.Name))
		}
		for key, values := range saved {
			if _, ok := query[key]; !ok {
				query[key] = values
			}
		}
		return query, nil
	}
	return nil, fmt.Errorf("preset %s: %w", id, store.ErrNotFound)
}

func presetQuery(raw string) (url.Values, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	return u.Query(), nil
}

func (s *Server) parseFilter(ctx context.Context, query url.Values) (store.BugListFilter, error) {
	var (
		filter store.BugListFilter
		msgs   []string
	)
	for _, ref := range query["project"] {
		p, err := s.resolveProject(ctx, ref)
		if errors.Is(err, store.ErrNotFound) {
			msgs = append(msgs, fmt.Sprintf("Unknown project %q.", ref))
			continue
		}
		if err != nil {
			return filter, err
		}
		filter.ProjectIDs = append(filter.ProjectIDs, p.ID)
	}
	for _, f := range []struct {
		key    string
		target *string
	}{
		{"created_by", &filter.CreatedByID},
		{"assigned_to", &filter.AssignedToID},
	} {
		ident := query.Get(f.key)
		if ident == "" {
			continue
		}
		u, err := s.svc.FindUser(ctx, ident)
		if errors.Is(err, store.ErrNotFound) {
			msgs = append(msgs, fmt.Sprintf("Unknown user %q.", ident))
			continue
		}
		if err != nil {
			return filter, err
		}
		*f.target = u.ID
	}
	for _, v := range query["priority"] {
		p, err := models.ParsePriority(v)
		if err != nil {
			msgs = append(msgs, fmt.Sprintf("%q is not a valid priority.", v))
			continue
		}
		filter.Priorities = append(filter.Priorities, p)
	}
	if states := query["state"]; len(states) > 0 {
		filter.States = models.ExpandStateFilter(states)
		if len(filter.States) == 0 {
			msgs = append(msgs, "No known state selected.")
		}
	} else {
		filter.States = models.DefaultListStates()
	}
	filter.Search = strings.TrimSpace(query.Get("q"))
	if l := query.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			msgs = append(msgs, "limit must be a non-negative number.")
		}
		filter.Limit = n
	}

	if len(msgs) > 0 {
		return filter, invalid(msgs...)
	}
	return filter, nil
}

func (s *Server) createBug(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	action, ok := s.submit(w, r, user, 0)
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, newBugView(action.Bug))
}

func (s *Server) getBug(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bug, history, err := s.svc.Detail(ctx, r.PathValue("number"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	detail := bugDetail{bugView: newBugView(bug), Actions: make([]actionView, 0, len(history))}
	for _, a := range history {
		v, err := s.newActionView(ctx, a)
		if err != nil {
			s.writeFailure(w, err)
			return
		}
		detail.Actions = append(detail.Actions, v)
	}
	if user := s.optionalUser(ctx, r); user != nil {
		if detail.Choices, err = s.svc.Choices(ctx, user, bug.ID); err != nil {
			s.writeFailure(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) bugByNumber(w http.ResponseWriter, r *http.Request) *models.Bug {
	bug, err := s.store.GetBugByNumber(r.Context(), strings.TrimPrefix(r.PathValue("number"), "#"))
	if err != nil {
		s.writeFailure(w, err)
		return nil
	}
	return bug
}

func (s *Server) createChoices(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	choices, err := s.svc.Choices(r.Context(), user, 0)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"choices": choices})
}

func (s *Server) bugChoices(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	bug := s.bugByNumber(w, r)
	if bug == nil {
		return
	}
	choices, err := s.svc.Choices(r.Context(), user, bug.ID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"choices": choices})
}

func (s *Server) submitAction(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	bug := s.bugByNumber(w, r)
	if bug == nil {
		return
	}
	action, ok := s.submit(w, r, user, bug.ID)
	if !ok {
		return
	}
	v, err := s.newActionView(r.Context(), action)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) bugIDs(ctx context.Context, numbers []string) ([]int64, error) {
	ids := make([]int64, 0, len(numbers))
	for _, n := range numbers {
		bug, err := s.store.GetBugByNumber(ctx, strings.TrimPrefix(n, "#"))
		if err != nil {
			return nil, err
		}
		ids = append(ids, bug.ID)
	}
	return ids, nil
}

func (s *Server) bulkChoices(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	ids, err := s.bugIDs(r.Context(), r.URL.Query()["number"])
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	actions, err := s.svc.BulkActions(r.Context(), user, ids)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if actions == nil {
		actions = []workflow.ActionID{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func (s *Server) bulkAction(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(w, r)
	if user == nil {
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ids, err := s.bugIDs(r.Context(), req.Numbers)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	sub, err := s.toSubmission(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	actions, err := s.svc.Bulk(r.Context(), user, ids, sub)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	views := make([]bugView, 0, len(actions))
	for _, a := range actions {
		views = append(views, newBugView(a.Bug))
	}
	writeJSON(w, http.StatusOK, map[string]any{"bugs": views})
}

func (s *Server) getAttachment(w http.ResponseWriter, r *http.Request) {
	if s.files == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	bug := s.bugByNumber(w, r)
	if bug == nil {
		return
	}
	f, err := s.files.Open(bug.Number(), r.PathValue("id")+"/"+r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *Server) previewMarkdown(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res, err := s.md.Render(r.Context(), req.Text)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	users := make([]string, 0, len(res.MentionedUsers))
	for _, u := range res.MentionedUsers {
		users = append(users, u.Username)
	}
	bugs := make([]string, 0, len(res.MentionedBugs))
	for _, b := range res.MentionedBugs {
		bugs = append(bugs, b.Number())
	}
	writeJSON(w, http.StatusOK, map[string]any{"html": res.HTML, "mentioned_users": users, "mentioned_bugs": bugs})
}
