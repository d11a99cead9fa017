package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/buggy/internal/models"
	"github.com/joescharf/buggy/internal/mutation"
	"github.com/joescharf/buggy/internal/store"
	"github.com/joescharf/buggy/internal/workflow"
)

// Server exposes the bug tracker as MCP tools. Mutating tools act as the
// configured user.
type Server struct {
	svc   *mutation.Service
	store store.Store
	user  *models.User
}

// NewServer creates the MCP server wrapper. user may be nil, in which case
// only the read-only tools succeed.
func NewServer(svc *mutation.Service, user *models.User) *Server {
	return &Server{svc: svc, store: svc.Store(), user: user}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("buggy", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listProjectsTool())
	srv.AddTool(s.listBugsTool())
	srv.AddTool(s.showBugTool())
	srv.AddTool(s.legalActionsTool())
	srv.AddTool(s.createBugTool())
	srv.AddTool(s.performActionTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// failure turns a service error into a tool error the model can act on.
func failure(what string, err error) *mcp.CallToolResult {
	var verr *workflow.ValidationError
	switch {
	case errors.As(err, &verr):
		return mcp.NewToolResultError(what + ": " + strings.Join(verr.Messages, " "))
	case errors.Is(err, store.ErrNotFound):
		return mcp.NewToolResultError(what + ": not found")
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", what, err))
}

func (s *Server) actingUser() (*models.User, *mcp.CallToolResult) {
	if s.user == nil {
		return nil, mcp.NewToolResultError("no acting user configured; set `user` in the buggy config")
	}
	return s.user, nil
}

type bugOut struct {
	Number     string `json:"number"`
	Title      string `json:"title"`
	State      string `json:"state"`
	Priority   string `json:"priority"`
	Project    string `json:"project"`
	AssignedTo string `json:"assigned_to,omitempty"`
	CreatedBy  string `json:"created_by"`
	ModifiedAt string `json:"modified_at"`
}

func newBugOut(b *models.Bug) bugOut {
	out := bugOut{
		Number:     b.Number(),
		Title:      b.Title,
		State:      string(b.State),
		Priority:   strings.ToLower(b.Priority.Label()),
		ModifiedAt: b.ModifiedAt.Format(time.RFC3339),
	}
	if b.Project != nil {
		out.Project = b.Project.Name
	}
	if b.AssignedTo != nil {
		out.AssignedTo = b.AssignedTo.Username
	}
	if b.CreatedBy != nil {
		out.CreatedBy = b.CreatedBy.Username
	}
	return out
}

// buggy_list_projects
func (s *Server) listProjectsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("buggy_list_projects",
		mcp.WithDescription("List projects bugs can be filed against. Retired projects are omitted unless include_retired is true."),
		mcp.WithBoolean("include_retired", mcp.Description("Include retired projects")),
	)
	return tool, s.handleListProjects
}

func (s *Server) handleListProjects(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := s.store.ListProjects(ctx, !request.GetBool("include_retired", false))
	if err != nil {
		return failure("failed to list projects", err), nil
	}

	type projectOut struct {
		Name     string `json:"name"`
		IsActive bool   `json:"is_active"`
	}
	out := make([]projectOut, len(projects))
	for i, p := range projects {
		out[i] = projectOut{Name: p.Name, IsActive: p.IsActive}
	}
	return jsonResult(out)
}

// buggy_list_bugs
func (s *Server) listBugsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("buggy_list_bugs",
		mcp.WithDescription("List bugs, most recently modified first. Closed bugs are hidden unless a state filter is given."),
		mcp.WithString("project", mcp.Description("Project name")),
		mcp.WithString("state", mcp.Description("Comma-separated states; 'resolved' matches every resolved-* state")),
		mcp.WithString("assigned_to", mcp.Description("Username or email of the assignee")),
		mcp.WithString("search", mcp.Description("Case-insensitive text to look for in titles and comments")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of bugs (default 50)")),
	)
	return tool, s.handleListBugs
}

func (s *Server) handleListBugs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.BugListFilter{
		Search: request.GetString("search", ""),
		Limit:  request.GetInt("limit", 50),
		States: models.DefaultListStates(),
	}
	if name := request.GetString("project", ""); name != "" {
		p, err := s.store.GetProjectByName(ctx, name)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", name)), nil
		}
		filter.ProjectIDs = []string{p.ID}
	}
	if states := request.GetString("state", ""); states != "" {
		filter.States = models.ExpandStateFilter(strings.Split(states, ","))
		if len(filter.States) == 0 {
			return mcp.NewToolResultError(fmt.Sprintf("unknown state filter: %s", states)), nil
		}
	}
	if ident := request.GetString("assigned_to", ""); ident != "" {
		u, err := s.svc.FindUser(ctx, ident)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("user not found: %s", ident)), nil
		}
		filter.AssignedToID = u.ID
	}

	bugs, err := s.store.ListBugs(ctx, filter)
	if err != nil {
		return failure("failed to list bugs", err), nil
	}
	out := make([]bugOut, len(bugs))
	for i, b := range bugs {
		out[i] = newBugOut(b)
	}
	return jsonResult(out)
}

// buggy_show_bug
func (s *Server) showBugTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("buggy_show_bug",
		mcp.WithDescription("Show a bug with its full history of actions and comments."),
		mcp.WithString("number", mcp.Required(), mcp.Description("Bug number, with or without a leading #")),
	)
	return tool, s.handleShowBug
}

func (s *Server) handleShowBug(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	number, err := request.RequireString("number")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: number"), nil
	}
	bug, history, err := s.svc.Detail(ctx, number)
	if err != nil {
		return failure("bug "+number, err), nil
	}

	type actionOut struct {
		At          string   `json:"at"`
		Description string   `json:"description"`
		Comment     string   `json:"comment,omitempty"`
		Attachments []string `json:"attachments,omitempty"`
	}
	out := struct {
		bugOut
		History []actionOut `json:"history"`
	}{bugOut: newBugOut(bug)}
	for _, a := range history {
		ao := actionOut{At: a.CreatedAt.Format(time.RFC3339), Description: a.Description()}
		if a.Comment != nil {
			ao.Comment = a.Comment.Text
		}
		for _, att := range a.Attachments {
			ao.Attachments = append(ao.Attachments, att.Basename())
		}
		out.History = append(out.History, ao)
	}
	return jsonResult(out)
}

// buggy_legal_actions
func (s *Server) legalActionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("buggy_legal_actions",
		mcp.WithDescription("List the actions the acting user may perform on a bug, with help text. Omit number to see the choices for a new bug."),
		mcp.WithString("number", mcp.Description("Bug number")),
	)
	return tool, s.handleLegalActions
}

func (s *Server) handleLegalActions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, errResult := s.actingUser()
	if errResult != nil {
		return errResult, nil
	}
	var bugID int64
	if number := request.GetString("number", ""); number != "" {
		bug, err := s.store.GetBugByNumber(ctx, strings.TrimPrefix(number, "#"))
		if err != nil {
			return failure("bug "+number, err), nil
		}
		bugID = bug.ID
	}
	choices, err := s.svc.Choices(ctx, user, bugID)
	if err != nil {
		return failure("failed to list actions", err), nil
	}
	return jsonResult(workflow.Leaves(choices))
}

// buggy_create_bug
func (s *Server) createBugTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("buggy_create_bug",
		mcp.WithDescription("File a new bug. Returns the created bug as JSON."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Bug title")),
		mcp.WithString("priority", mcp.Description("Priority: low, medium (default), high")),
		mcp.WithString("comment", mcp.Description("Description, steps to reproduce; markdown")),
		mcp.WithString("assign_to", mcp.Description("Username or email to entrust the bug to")),
	)
	return tool, s.handleCreateBug
}

func (s *Server) handleCreateBug(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, errResult := s.actingUser()
	if errResult != nil {
		return errResult, nil
	}
	projectName, err := request.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: project"), nil
	}
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}
	p, err := s.store.GetProjectByName(ctx, projectName)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", projectName)), nil
	}

	sub := workflow.Submission{
		Action:  workflow.ActionCreate,
		Title:   title,
		Project: p,
		Comment: request.GetString("comment", ""),
	}
	if errResult := s.fillCommon(ctx, request, &sub); errResult != nil {
		return errResult, nil
	}

	action, err := s.svc.Submit(ctx, user, 0, sub)
	if err != nil {
		return failure("failed to create bug", err), nil
	}
	return jsonResult(newBugOut(action.Bug))
}

// buggy_perform_action
func (s *Server) performActionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("buggy_perform_action",
		mcp.WithDescription("Perform a workflow action on a bug: comment, entrusted, resolved-fixed, resolved-duplicate, resolved-impossible, resolved-unreproducible, resolved-notabug, verified, reopened, live or closed. Use buggy_legal_actions first to see what is allowed."),
		mcp.WithString("number", mcp.Required(), mcp.Description("Bug number")),
		mcp.WithString("action", mcp.Required(), mcp.Description("Action id")),
		mcp.WithString("comment", mcp.Description("Comment text; required to reopen")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("priority", mcp.Description("New priority: low, medium, high")),
		mcp.WithString("assign_to", mcp.Description("Username or email of the new assignee")),
	)
	return tool, s.handlePerformAction
}

func (s *Server) handlePerformAction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, errResult := s.actingUser()
	if errResult != nil {
		return errResult, nil
	}
	number, err := request.RequireString("number")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: number"), nil
	}
	actionID, err := request.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: action"), nil
	}
	bug, err := s.store.GetBugByNumber(ctx, strings.TrimPrefix(number, "#"))
	if err != nil {
		return failure("bug "+number, err), nil
	}

	sub := workflow.Submission{
		Action:  workflow.ActionID(actionID),
		Comment: request.GetString("comment", ""),
		Title:   request.GetString("title", ""),
	}
	if errResult := s.fillCommon(ctx, request, &sub); errResult != nil {
		return errResult, nil
	}

	action, err := s.svc.Submit(ctx, user, bug.ID, sub)
	if err != nil {
		return failure("failed to perform "+actionID, err), nil
	}
	return jsonResult(map[string]any{
		"bug":         newBugOut(action.Bug),
		"description": action.Description(),
	})
}

// fillCommon reads the optional priority and assign_to arguments.
func (s *Server) fillCommon(ctx context.Context, request mcp.CallToolRequest, sub *workflow.Submission) *mcp.CallToolResult {
	if p := request.GetString("priority", ""); p != "" {
		priority, err := models.ParsePriority(p)
		if err != nil {
			return mcp.NewToolResultError(err.Error())
		}
		sub.Priority = priority
	}
	if ident := request.GetString("assign_to", ""); ident != "" {
		u, err := s.svc.FindUser(ctx, ident)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("user not found: %s", ident))
		}
		sub.AssignTo = u
	}
	return nil
}
