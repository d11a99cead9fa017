package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/joescharf/buggy/internal/attachment"
	"github.com/joescharf/buggy/internal/markdown"
	"github.com/joescharf/buggy/internal/models"
	"github.com/joescharf/buggy/internal/mutation"
	"github.com/joescharf/buggy/internal/store"
	"github.com/joescharf/buggy/internal/workflow"
)

// UserHeader names the acting user (username or email) on requests.
const UserHeader = "X-Buggy-User"

// Server provides the REST API handlers.
type Server struct {
	svc     *mutation.Service
	store   store.Store
	md      *markdown.Renderer
	files   *attachment.Store
	webhook http.Handler
	log     zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithAttachments enables multipart uploads and attachment downloads.
func WithAttachments(files *attachment.Store) Option {
	return func(s *Server) { s.files = files }
}

// WithWebhook mounts the GitHub webhook handler.
func WithWebhook(h http.Handler) Option {
	return func(s *Server) { s.webhook = h }
}

// NewServer creates a new API server.
func NewServer(svc *mutation.Service, md *markdown.Renderer, log zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		svc:   svc,
		store: svc.Store(),
		md:    md,
		log:   log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/projects", s.listProjects)
	mux.HandleFunc("POST /api/v1/projects", s.createProject)
	mux.HandleFunc("PUT /api/v1/projects/{id}", s.updateProject)

	mux.HandleFunc("GET /api/v1/users", s.listUsers)
	mux.HandleFunc("POST /api/v1/users", s.createUser)
	mux.HandleFunc("PUT /api/v1/users/{id}", s.updateUser)

	mux.HandleFunc("GET /api/v1/bugs", s.listBugs)
	mux.HandleFunc("POST /api/v1/bugs", s.createBug)
	mux.HandleFunc("GET /api/v1/bugs/choices", s.createChoices)
	mux.HandleFunc("GET /api/v1/bugs/bulk", s.bulkChoices)
	mux.HandleFunc("POST /api/v1/bugs/bulk", s.bulkAction)
	mux.HandleFunc("GET /api/v1/bugs/{number}", s.getBug)
	mux.HandleFunc("GET /api/v1/bugs/{number}/actions", s.bugChoices)
	mux.HandleFunc("POST /api/v1/bugs/{number}/actions", s.submitAction)
	mux.HandleFunc("GET /api/v1/bugs/{number}/attachments/{id}/{name}", s.getAttachment)

	mux.HandleFunc("GET /api/v1/presets", s.listPresets)
	mux.HandleFunc("POST /api/v1/presets", s.createPreset)
	mux.HandleFunc("DELETE /api/v1/presets/{id}", s.deletePreset)

	mux.HandleFunc("POST /api/v1/markdown", s.previewMarkdown)

	if s.webhook != nil {
		mux.Handle("POST /api/v1/webhooks/github", s.webhook)
	}

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+UserHeader)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFailure maps service errors to responses. Validation problems are
// user-correctable and come back as a list; anything unexpected is logged
// and hidden.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	var verr *workflow.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string][]string{"errors": verr.Messages})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error().Err(err).Msg("api: request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func invalid(msgs ...string) error {
	return &workflow.ValidationError{Messages: msgs}
}

// currentUser resolves the acting user from UserHeader. It writes the error
// response itself and returns nil when the request cannot proceed.
func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) *models.User {
	ident := strings.TrimSpace(r.Header.Get(UserHeader))
	if ident == "" {
		writeError(w, http.StatusUnauthorized, UserHeader+" header is required")
		return nil
	}
	u, err := s.svc.FindUser(r.Context(), ident)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return nil
	}
	if err != nil {
		s.writeFailure(w, err)
		return nil
	}
	if !u.IsActive {
		writeError(w, http.StatusForbidden, "user is not active")
		return nil
	}
	return u
}

// optionalUser is currentUser for read endpoints that work anonymously.
func (s *Server) optionalUser(ctx context.Context, r *http.Request) *models.User {
	ident := strings.TrimSpace(r.Header.Get(UserHeader))
	if ident == "" {
		return nil
	}
	u, err := s.svc.FindUser(ctx, ident)
	if err != nil || !u.IsActive {
		return nil
	}
	return u
}

// patchString applies a string value from a JSON patch map to the target if the key is present and non-empty.
func patchString(patch map[string]any, key string, target *string) {
	if v, ok := patch[key]; ok {
		if str, ok := v.(string); ok && str != "" {
			*target = str
		}
	}
}

func patchBool(patch map[string]any, key string, target *bool) {
	if v, ok := patch[key]; ok {
		if b, ok := v.(bool); ok {
			*target = b
		}
	}
}
