// Package markdown renders comment text to sanitized HTML and reports the
// users and bugs it references.
package markdown

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"

	"github.com/joescharf/buggy/internal/models"
	"github.com/joescharf/buggy/internal/store"
)

// Resolver looks up mention and bug-reference targets. store.Store
// satisfies it.
type Resolver interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetBugByNumber(ctx context.Context, number string) (*models.Bug, error)
}

// Result is a rendered comment.
type Result struct {
	HTML           string
	MentionedUsers []*models.User
	MentionedBugs  []*models.Bug
}

// Renderer turns comment markdown into sanitized HTML.
type Renderer struct {
	resolver Resolver
	baseURL  string
}

// New returns a Renderer. baseURL prefixes bug links; it may be empty for
// site-relative links.
func New(resolver Resolver, baseURL string) *Renderer {
	return &Renderer{resolver: resolver, baseURL: baseURL}
}

var (
	markdownInstance goldmark.Markdown
	markdownOnce     sync.Once

	policyInstance *bluemonday.Policy
	policyOnce     sync.Once
)

func getMarkdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownInstance = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(
				parser.WithInlineParsers(
					util.Prioritized(&mentionParser{}, 500),
					util.Prioritized(&bugRefParser{}, 500),
				),
			),
			goldmark.WithRendererOptions(
				// Raw HTML passes through to the sanitizer, which decides.
				html.WithUnsafe(),
				renderer.WithNodeRenderers(util.Prioritized(&refRenderer{}, 500)),
			),
		)
	})
	return markdownInstance
}

// getPolicy is the fixed allow-list applied to every rendered comment.
func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		p := bluemonday.NewPolicy()
		p.AllowElements(
			"p", "br", "hr", "blockquote", "pre", "code", "kbd",
			"strong", "em", "b", "i", "del", "s",
			"h1", "h2", "h3", "h4", "h5", "h6",
			"ul", "ol", "li",
			"table", "thead", "tbody", "tr", "th", "td",
			"span", "a", "img",
		)
		p.AllowAttrs("href", "title").OnElements("a")
		p.AllowAttrs("src", "alt", "title").OnElements("img")
		p.AllowAttrs("align").OnElements("th", "td")
		p.AllowAttrs("class").Matching(regexp.MustCompile(`^(mention|bug-ref)$`)).OnElements("span", "a")
		p.AllowAttrs("class").Matching(regexp.MustCompile(`^language-[\w+-]+$`)).OnElements("code")
		p.AllowURLSchemes("http", "https", "mailto")
		p.AllowRelativeURLs(true)
		p.RequireParseableURLs(true)
		p.RequireNoFollowOnFullyQualifiedLinks(true)
		policyInstance = p
	})
	return policyInstance
}

// Sanitize applies the comment allow-list to arbitrary HTML.
func Sanitize(s string) string {
	return getPolicy().Sanitize(s)
}

// Render converts text. Unknown or inactive mentions and bad bug numbers
// stay plain text. Only resolver failures other than not-found are errors.
func (r *Renderer) Render(ctx context.Context, text string) (Result, error) {
	st := &renderState{
		ctx:      ctx,
		resolver: r.resolver,
		baseURL:  r.baseURL,
		users:    make(map[string]*models.User),
		bugs:     make(map[string]*models.Bug),
	}
	pc := parser.NewContext()
	pc.Set(stateKey, st)

	var buf bytes.Buffer
	if err := getMarkdown().Convert([]byte(text), &buf, parser.WithContext(pc)); err != nil {
		return Result{}, fmt.Errorf("render markdown: %w", err)
	}
	if st.err != nil {
		return Result{}, fmt.Errorf("render markdown: %w", st.err)
	}

	return Result{
		HTML:           getPolicy().Sanitize(buf.String()),
		MentionedUsers: st.userList,
		MentionedBugs:  st.bugList,
	}, nil
}

// MentionedUsers renders text only to collect active mentioned users.
func (r *Renderer) MentionedUsers(ctx context.Context, text string) ([]*models.User, error) {
	res, err := r.Render(ctx, text)
	if err != nil {
		return nil, err
	}
	return res.MentionedUsers, nil
}

var stateKey = parser.NewContextKey()

// renderState carries per-call lookups through the shared parser.
type renderState struct {
	ctx      context.Context
	resolver Resolver
	baseURL  string

	users    map[string]*models.User
	userList []*models.User
	bugs     map[string]*models.Bug
	bugList  []*models.Bug
	err      error
}

func (st *renderState) user(name string) *models.User {
	if u, ok := st.users[name]; ok {
		return u
	}
	u, err := st.resolver.GetUserByUsername(st.ctx, name)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) && st.err == nil {
			st.err = err
		}
		u = nil
	}
	if u != nil && !u.IsActive {
		u = nil
	}
	st.users[name] = u
	if u != nil && !containsUser(st.userList, u) {
		st.userList = append(st.userList, u)
	}
	return u
}

func (st *renderState) bug(number string) *models.Bug {
	if b, ok := st.bugs[number]; ok {
		return b
	}
	b, err := st.resolver.GetBugByNumber(st.ctx, number)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) && st.err == nil {
			st.err = err
		}
		b = nil
	}
	st.bugs[number] = b
	if b != nil {
		st.bugList = append(st.bugList, b)
	}
	return b
}

func containsUser(users []*models.User, u *models.User) bool {
	for _, x := range users {
		if x.ID == u.ID {
			return true
		}
	}
	return false
}
