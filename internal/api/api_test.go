package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/buggy/internal/attachment"
	"github.com/joescharf/buggy/internal/markdown"
	"github.com/joescharf/buggy/internal/models"
	"github.com/joescharf/buggy/internal/mutation"
	"github.com/joescharf/buggy/internal/store"
)

type testEnv struct {
	router http.Handler
	store  *store.SQLiteStore
	web    *models.Project
}

func setupTestServer(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, &models.User{Username: "ada", Name: "Ada", Email: "ada@example.com", IsActive: true}))
	require.NoError(t, s.CreateUser(ctx, &models.User{Username: "grace", Email: "grace@example.com", IsActive: true}))
	require.NoError(t, s.CreateUser(ctx, &models.User{Username: "gone", IsActive: false}))
	web := &models.Project{Name: "Web", IsActive: true}
	require.NoError(t, s.CreateProject(ctx, web))

	svc := mutation.NewService(s, nil, zerolog.Nop())
	opts = append([]Option{WithAttachments(attachment.New(filepath.Join(dir, "files")))}, opts...)
	srv := NewServer(svc, markdown.New(s, ""), zerolog.Nop(), opts...)
	return &testEnv{router: srv.Router(), store: s, web: web}
}

func (e *testEnv) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// createBug files a bug as ada and returns its number.
func (e *testEnv) createBug(t *testing.T, title string) string {
	t.Helper()
	w := e.do(t, "POST", "/api/v1/bugs", "ada", `{"title":"`+title+`","project":"web","priority":"high"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[bugView](t, w).Number
}

func TestProjects_API(t *testing.T) {
	e := setupTestServer(t)

	w := e.do(t, "POST", "/api/v1/projects", "", `{"name":"API"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[projectView](t, w)
	assert.True(t, created.IsActive)

	w = e.do(t, "POST", "/api/v1/projects", "", `{"name":"api"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, "PUT", "/api/v1/projects/"+created.ID, "", `{"is_active":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[projectView](t, w).IsActive)

	assert.Len(t, decode[[]projectView](t, e.do(t, "GET", "/api/v1/projects", "", "")), 1)
	assert.Len(t, decode[[]projectView](t, e.do(t, "GET", "/api/v1/projects?all=1", "", "")), 2)

	w = e.do(t, "PUT", "/api/v1/projects/nope", "", `{"name":"x"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUsers_API(t *testing.T) {
	e := setupTestServer(t)

	users := decode[[]userView](t, e.do(t, "GET", "/api/v1/users", "", ""))
	assert.Len(t, users, 2)

	w := e.do(t, "POST", "/api/v1/users", "", `{"username":"linus","email":"linus@example.com"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	linus := decode[userView](t, w)

	w = e.do(t, "POST", "/api/v1/users", "", `{"username":"LINUS"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, "PUT", "/api/v1/users/"+linus.ID, "", `{"name":"Linus T"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Linus T", decode[userView](t, w).Name)
}

func TestCreateBug_API(t *testing.T) {
	e := setupTestServer(t)

	w := e.do(t, "POST", "/api/v1/bugs", "", `{"title":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, "POST", "/api/v1/bugs", "gone", `{"title":"x"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, "POST", "/api/v1/bugs", "ada", `{"comment":"no title"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	errs := decode[map[string][]string](t, w)["errors"]
	assert.Contains(t, errs, "A title is required.")
	assert.Contains(t, errs, "You must pick a project.")

	w = e.do(t, "POST", "/api/v1/bugs", "ada", `{"title":"x","project":"nope","priority":"whenever","assign_to":"nobody"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Len(t, decode[map[string][]string](t, w)["errors"], 3)

	w = e.do(t, "POST", "/api/v1/bugs", "ada@example.com", `{"title":"Login broken","project":"Web","assign_to":"grace"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	bug := decode[bugView](t, w)
	assert.Equal(t, "15", bug.Number)
	assert.Equal(t, models.StateEntrusted, bug.State)
	assert.Equal(t, "Medium", bug.PriorityLabel)
	require.NotNil(t, bug.AssignedTo)
	assert.Equal(t, "grace", bug.AssignedTo.Username)
}

func TestGetBug_API(t *testing.T) {
	e := setupTestServer(t)
	number := e.createBug(t, "Login broken")

	w := e.do(t, "GET", "/api/v1/bugs/"+number, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[bugDetail](t, w)
	assert.Equal(t, "Login broken", detail.Title)
	require.Len(t, detail.Actions, 1)
	assert.Equal(t, "Ada", detail.Actions[0].User.Name)
	assert.Empty(t, detail.Choices)

	w = e.do(t, "GET", "/api/v1/bugs/"+number, "grace", "")
	detail = decode[bugDetail](t, w)
	assert.NotEmpty(t, detail.Choices)

	// A bad check digit and a missing bug look the same.
	bad := e.do(t, "GET", "/api/v1/bugs/16", "", "")
	missing := e.do(t, "GET", "/api/v1/bugs/9995", "", "")
	assert.Equal(t, http.StatusNotFound, bad.Code)
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, bad.Body.String(), missing.Body.String())
}

func TestSubmitAction_API(t *testing.T) {
	e := setupTestServer(t)
	number := e.createBug(t, "Login broken")

	w := e.do(t, "POST", "/api/v1/bugs/"+number+"/actions", "grace", `{"action":"comment","comment":"@ada see #`+number+`"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	action := decode[actionView](t, w)
	assert.Equal(t, 1, action.Order)
	assert.Contains(t, action.CommentHTML, `<span class="mention">@ada</span>`)
	assert.Contains(t, action.CommentHTML, `class="bug-ref"`)

	w = e.do(t, "POST", "/api/v1/bugs/"+number+"/actions", "grace", `{"action":"reopened"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	errs := decode[map[string][]string](t, w)["errors"]
	assert.Contains(t, errs, `"reopened" is not a legal action for this bug.`)
	assert.Contains(t, errs, "You must leave a comment to reopen the bug.")

	w = e.do(t, "POST", "/api/v1/bugs/"+number+"/actions", "grace", `{"action":"resolved-fixed"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	action = decode[actionView](t, w)
	assert.Equal(t, models.StateResolvedFixed, action.State)
	require.NotNil(t, action.AssignedTo)
	assert.Equal(t, "ada", action.AssignedTo.Username)

	choices := decode[map[string][]json.RawMessage](t, e.do(t, "GET", "/api/v1/bugs/"+number+"/actions", "grace", ""))
	assert.Len(t, choices["choices"], 5)

	w = e.do(t, "POST", "/api/v1/bugs/9995/actions", "grace", `{"action":"comment","comment":"x"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBulk_API(t *testing.T) {
	e := setupTestServer(t)
	a := e.createBug(t, "One")
	b := e.createBug(t, "Two")

	actions := decode[map[string][]string](t, e.do(t, "GET", "/api/v1/bugs/bulk?number="+a+"&number="+b, "ada", ""))
	assert.Contains(t, actions["actions"], "resolved-fixed")

	w := e.do(t, "POST", "/api/v1/bugs/bulk", "ada", `{"numbers":["`+a+`","`+b+`"],"action":"resolved-fixed","comment":"done"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Both are resolved now: resolving again is illegal for the whole batch.
	w = e.do(t, "POST", "/api/v1/bugs/bulk", "ada", `{"numbers":["`+a+`","`+b+`"],"action":"resolved-fixed"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = e.do(t, "POST", "/api/v1/bugs/bulk", "ada", `{"numbers":[],"action":"comment","comment":"x"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, []string{"Select at least one bug."}, decode[map[string][]string](t, w)["errors"])
}

func TestListBugs_API(t *testing.T) {
	e := setupTestServer(t)
	a := e.createBug(t, "Login broken")
	e.createBug(t, "Logout slow")
	w := e.do(t, "POST", "/api/v1/bugs/"+a+"/actions", "ada", `{"action":"resolved-duplicate"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	all := decode[[]bugView](t, e.do(t, "GET", "/api/v1/bugs", "", ""))
	assert.Len(t, all, 2)

	resolved := decode[[]bugView](t, e.do(t, "GET", "/api/v1/bugs?state=resolved", "", ""))
	require.Len(t, resolved, 1)
	assert.Equal(t, a, resolved[0].Number)

	search := decode[[]bugView](t, e.do(t, "GET", "/api/v1/bugs?q=SLOW&project=Web&created_by=ada&priority=high", "", ""))
	require.Len(t, search, 1)
	assert.Equal(t, "Logout slow", search[0].Title)

	w = e.do(t, "GET", "/api/v1/bugs?state=bogus&priority=9", "", "")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Len(t, decode[map[string][]string](t, w)["errors"], 2)
}

func TestPresets_API(t *testing.T) {
	e := setupTestServer(t)
	e.createBug(t, "Login broken")

	w := e.do(t, "POST", "/api/v1/presets", "ada", `{"name":"Mine","url":"/bugs?state=closed"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	preset := decode[presetView](t, w)

	w = e.do(t, "POST", "/api/v1/presets", "ada", `{"name":"Mine","url":"/bugs"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[map[string]map[string][]string](t, w)
	assert.Equal(t, []string{"Preset names must be unique."}, body["errors"]["name"])

	// grace may reuse the name.
	w = e.do(t, "POST", "/api/v1/presets", "grace", `{"name":"Mine","url":"/bugs"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	assert.Len(t, decode[[]presetView](t, e.do(t, "GET", "/api/v1/presets", "ada", "")), 1)

	bugs := decode[[]bugView](t, e.do(t, "GET", "/api/v1/bugs?preset="+preset.ID, "ada", ""))
	assert.Empty(t, bugs)
	bugs = decode[[]bugView](t, e.do(t, "GET", "/api/v1/bugs?state=new&preset="+preset.ID, "ada", ""))
	assert.Len(t, bugs, 1)

	assert.Equal(t, http.StatusNotFound, e.do(t, "DELETE", "/api/v1/presets/"+preset.ID, "grace", "").Code)
	assert.Equal(t, http.StatusNoContent, e.do(t, "DELETE", "/api/v1/presets/"+preset.ID, "ada", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, "DELETE", "/api/v1/presets/"+preset.ID, "ada", "").Code)
}

func TestAttachments_API(t *testing.T) {
	e := setupTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "Broken image"))
	require.NoError(t, mw.WriteField("project", "Web"))
	fw, err := mw.CreateFormFile("attachments", "shot.png")
	require.NoError(t, err)
	_, err = fw.Write([]byte("PNGDATA"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/v1/bugs", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(UserHeader, "ada")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	number := decode[bugView](t, w).Number

	detail := decode[bugDetail](t, e.do(t, "GET", "/api/v1/bugs/"+number, "", ""))
	require.Len(t, detail.Actions, 1)
	require.Len(t, detail.Actions[0].Attachments, 1)
	att := detail.Actions[0].Attachments[0]
	assert.Equal(t, "shot.png", att.Name)
	assert.True(t, att.IsImage)
	assert.Contains(t, detail.Actions[0].Description, "added 1 attachment")

	w = e.do(t, "GET", att.URL, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PNGDATA", w.Body.String())
}

func TestMarkdownPreview_API(t *testing.T) {
	e := setupTestServer(t)
	w := e.do(t, "POST", "/api/v1/markdown", "", `{"text":"**hi** @grace <script>x</script>"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var res struct {
		HTML           string   `json:"html"`
		MentionedUsers []string `json:"mentioned_users"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Contains(t, res.HTML, "<strong>hi</strong>")
	assert.NotContains(t, res.HTML, "<script")
	assert.Equal(t, []string{"grace"}, res.MentionedUsers)
}

func TestWebhookRoute(t *testing.T) {
	e := setupTestServer(t)
	assert.Equal(t, http.StatusNotFound, e.do(t, "POST", "/api/v1/webhooks/github", "", "{}").Code)

	hook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	e = setupTestServer(t, WithWebhook(hook))
	assert.Equal(t, http.StatusTeapot, e.do(t, "POST", "/api/v1/webhooks/github", "", "{}").Code)
}

func TestCORS(t *testing.T) {
	e := setupTestServer(t)
	w := e.do(t, "OPTIONS", "/api/v1/bugs", "", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), UserHeader)
}
