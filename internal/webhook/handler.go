package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"hash"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// maxBodySize caps accepted payloads. GitHub push events stay well below it.
const maxBodySize = 25 << 20

var errBadSignature = errors.New("signature mismatch")

// PushEvent is the part of a GitHub push payload buggy reads.
type PushEvent struct {
	Ref        string   `json:"ref"`
	Commits    []Commit `json:"commits"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// Handler receives GitHub webhooks.
type Handler struct {
	secret    []byte
	processor CommitProcessor
	log       zerolog.Logger
}

// NewHandler returns a Handler that verifies payloads against secret. An
// empty secret rejects every delivery.
func NewHandler(secret string, processor CommitProcessor, log zerolog.Logger) *Handler {
	return &Handler{secret: []byte(secret), processor: processor, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.log.Error().Err(err).Msg("webhook: read body")
		http.Error(w, "", http.StatusInternalServerError)
		return
	}
	if len(body) == 0 {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	if err := h.verify(r.Header, body); err != nil {
		h.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("webhook: signature verification failed")
		http.Error(w, "", http.StatusUnauthorized)
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	switch event {
	case "":
		http.Error(w, "", http.StatusBadRequest)
	case "ping":
		writeJSON(w, http.StatusOK, map[string]string{"msg": "pong"})
	case "push":
		h.push(w, r, body)
	default:
		h.log.Debug().Str("event", event).Msg("webhook: ignoring event")
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) push(w http.ResponseWriter, r *http.Request, body []byte) {
	var ev PushEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		http.Error(w, "invalid push payload", http.StatusBadRequest)
		return
	}

	var outcomes []Outcome
	for _, c := range ev.Commits {
		out, err := h.processor.ProcessCommit(r.Context(), c)
		if err != nil {
			h.log.Error().Err(err).Str("commit", c.ID).Str("repo", ev.Repository.FullName).Msg("webhook: process commit")
			http.Error(w, "", http.StatusInternalServerError)
			return
		}
		outcomes = append(outcomes, out...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": len(ev.Commits), "bugs": outcomes})
}

// verify checks X-Hub-Signature-256 when present and falls back to the
// legacy sha1 X-Hub-Signature header.
func (h *Handler) verify(header http.Header, body []byte) error {
	if len(h.secret) == 0 {
		return errors.New("no webhook secret configured")
	}
	if sig := header.Get("X-Hub-Signature-256"); sig != "" {
		return checkSignature(sha256.New, "sha256=", h.secret, body, sig)
	}
	if sig := header.Get("X-Hub-Signature"); sig != "" {
		return checkSignature(sha1.New, "sha1=", h.secret, body, sig)
	}
	return errors.New("missing signature header")
}

func checkSignature(newHash func() hash.Hash, prefix string, secret, body []byte, sig string) error {
	got, ok := strings.CutPrefix(sig, prefix)
	if !ok {
		return errBadSignature
	}
	gotMAC, err := hex.DecodeString(got)
	if err != nil {
		return errBadSignature
	}
	mac := hmac.New(newHash, secret)
	mac.Write(body)
	if !hmac.Equal(gotMAC, mac.Sum(nil)) {
		return errBadSignature
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
