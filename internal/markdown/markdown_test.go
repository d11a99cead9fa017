package markdown

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/buggy/internal/models"
	"github.com/joescharf/buggy/internal/store"
	"github.com/joescharf/buggy/internal/verhoeff"
)

type fakeResolver struct {
	users map[string]*models.User
	bugs  map[int64]*models.Bug
	err   error
}

func (f *fakeResolver) GetUserByUsername(_ context.Context, name string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if u, ok := f.users[strings.ToLower(name)]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user %s: %w", name, store.ErrNotFound)
}

func (f *fakeResolver) GetBugByNumber(_ context.Context, number string) (*models.Bug, error) {
	id, ok := verhoeff.Decode(number)
	if !ok {
		return nil, store.ErrNotFound
	}
	if b, ok := f.bugs[id]; ok {
		return b, nil
	}
	return nil, store.ErrNotFound
}

func newResolver() *fakeResolver {
	return &fakeResolver{
		users: map[string]*models.User{
			"ada":   {ID: "u1", Username: "ada", IsActive: true},
			"grace": {ID: "u2", Username: "grace", IsActive: false},
		},
		bugs: map[int64]*models.Bug{
			236: {ID: 236, Title: "Login <broken>"},
		},
	}
}

func TestRender_Mentions(t *testing.T) {
	r := New(newResolver(), "")
	res, err := r.Render(context.Background(), "@ADA please look, cc @grace and @nobody. mail ada@example.com")
	require.NoError(t, err)

	assert.Contains(t, res.HTML, `<span class="mention">@ADA</span>`)
	assert.Contains(t, res.HTML, "@grace")
	assert.NotContains(t, res.HTML, `<span class="mention">@grace`)
	assert.Contains(t, res.HTML, "@nobody")
	require.Len(t, res.MentionedUsers, 1)
	assert.Equal(t, "u1", res.MentionedUsers[0].ID)
}

func TestRender_MentionsDeduplicated(t *testing.T) {
	r := New(newResolver(), "")
	users, err := r.MentionedUsers(context.Background(), "@ada\n\n@ada again")
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestRender_BugRefs(t *testing.T) {
	r := New(newResolver(), "https://bugs.example.com")
	res, err := r.Render(context.Background(), "Duplicate of #2363, not #2364 or #9995.")
	require.NoError(t, err)

	assert.Contains(t, res.HTML, `href="https://bugs.example.com/bugs/2363"`)
	assert.Contains(t, res.HTML, `class="bug-ref"`)
	assert.Contains(t, res.HTML, `title="Login &lt;broken&gt;"`)
	assert.Contains(t, res.HTML, "#2364")
	assert.NotContains(t, res.HTML, "/bugs/2364")
	require.Len(t, res.MentionedBugs, 1)
	assert.Equal(t, int64(236), res.MentionedBugs[0].ID)
}

func TestRender_BugRefInsideWord(t *testing.T) {
	r := New(newResolver(), "")
	res, err := r.Render(context.Background(), "color a#2363 and #2363x")
	require.NoError(t, err)
	assert.Empty(t, res.MentionedBugs)
}

func TestRender_CodeSpansAreLiteral(t *testing.T) {
	r := New(newResolver(), "")
	res, err := r.Render(context.Background(), "`@ada #2363`")
	require.NoError(t, err)
	assert.Empty(t, res.MentionedUsers)
	assert.Empty(t, res.MentionedBugs)
	assert.Contains(t, res.HTML, "<code>@ada #2363</code>")
}

func TestRender_Sanitizes(t *testing.T) {
	r := New(newResolver(), "")
	res, err := r.Render(context.Background(),
		"**bold** <script>alert(1)</script> <a href=\"javascript:alert(1)\">x</a> <span class=\"evil\" onclick=\"x()\">y</span>")
	require.NoError(t, err)

	assert.Contains(t, res.HTML, "<strong>bold</strong>")
	assert.NotContains(t, res.HTML, "<script")
	assert.NotContains(t, res.HTML, "javascript:")
	assert.NotContains(t, res.HTML, "onclick")
	assert.NotContains(t, res.HTML, "evil")
}

func TestRender_ResolverFailure(t *testing.T) {
	res := newResolver()
	res.err = errors.New("db gone")
	_, err := New(res, "").Render(context.Background(), "hi @ada")
	assert.ErrorContains(t, err, "db gone")
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "<p>ok</p>", Sanitize(`<p onmouseover="x()">ok</p>`))
}
