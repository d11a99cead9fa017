package markdown

import (
	"unicode"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/joescharf/buggy/internal/models"
)

var (
	KindMention = ast.NewNodeKind("Mention")
	KindBugRef  = ast.NewNodeKind("BugRef")
)

// Mention is a resolved @username.
type Mention struct {
	ast.BaseInline
	Username string
	User     *models.User
}

func (n *Mention) Kind() ast.NodeKind { return KindMention }

func (n *Mention) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"Username": n.Username}, nil)
}

// BugRef is a resolved #number.
type BugRef struct {
	ast.BaseInline
	Number string
	URL    string
	Bug    *models.Bug
}

func (n *BugRef) Kind() ast.NodeKind { return KindBugRef }

func (n *BugRef) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"Number": n.Number}, nil)
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// atWordStart reports whether the trigger is at the start of the text or
// follows whitespace.
func atWordStart(block text.Reader) bool {
	return unicode.IsSpace(block.PrecendingCharacter())
}

type mentionParser struct{}

func (p *mentionParser) Trigger() []byte { return []byte{'@'} }

func (p *mentionParser) Parse(_ ast.Node, block text.Reader, pc parser.Context) ast.Node {
	st, _ := pc.Get(stateKey).(*renderState)
	if st == nil || !atWordStart(block) {
		return nil
	}
	line, _ := block.PeekLine()
	end := 1
	for end < len(line) && isWordByte(line[end]) {
		end++
	}
	if end == 1 {
		return nil
	}
	name := string(line[1:end])
	user := st.user(name)
	if user == nil {
		return nil
	}
	block.Advance(end)
	return &Mention{Username: name, User: user}
}

type bugRefParser struct{}

func (p *bugRefParser) Trigger() []byte { return []byte{'#'} }

func (p *bugRefParser) Parse(_ ast.Node, block text.Reader, pc parser.Context) ast.Node {
	st, _ := pc.Get(stateKey).(*renderState)
	if st == nil {
		return nil
	}
	if prev := block.PrecendingCharacter(); !unicode.IsSpace(prev) && !unicode.IsPunct(prev) {
		return nil
	}
	line, _ := block.PeekLine()
	end := 1
	for end < len(line) && line[end] >= '0' && line[end] <= '9' {
		end++
	}
	if end == 1 || end < len(line) && isWordByte(line[end]) {
		return nil
	}
	number := string(line[1:end])
	bug := st.bug(number)
	if bug == nil {
		return nil
	}
	block.Advance(end)
	return &BugRef{Number: number, URL: st.baseURL + "/bugs/" + number, Bug: bug}
}

// refRenderer writes Mention and BugRef nodes.
type refRenderer struct{}

func (r *refRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindMention, r.renderMention)
	reg.Register(KindBugRef, r.renderBugRef)
}

func (r *refRenderer) renderMention(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*Mention)
	_, _ = w.WriteString(`<span class="mention">@`)
	_, _ = w.Write(util.EscapeHTML([]byte(n.Username)))
	_, _ = w.WriteString(`</span>`)
	return ast.WalkContinue, nil
}

func (r *refRenderer) renderBugRef(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*BugRef)
	_, _ = w.WriteString(`<a href="`)
	_, _ = w.Write(util.EscapeHTML(util.URLEscape([]byte(n.URL), false)))
	_, _ = w.WriteString(`" class="bug-ref" title="`)
	_, _ = w.Write(util.EscapeHTML([]byte(n.Bug.Title)))
	_, _ = w.WriteString(`">#`)
	_, _ = w.Write(util.EscapeHTML([]byte(n.Number)))
	_, _ = w.WriteString(`</a>`)
	return ast.WalkContinue, nil
}
