package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/internal/service"
	"github.com/vedran77/pulsesync/pkg/validator"
)

// StateView is the part of the engine exposed over the local status API.
type StateView interface {
	Identity() *domain.Identity
	Connected() bool
	Conversations() []domain.ConversationSummary
	Unread() []domain.UnreadEntry
	TotalUnread() int
	Messages(key domain.ConversationKey) ([]domain.Message, bool)
	HasMore(key domain.ConversationKey) bool
	Presence(key domain.ConversationKey) (domain.PresenceEntry, bool)
	SendMessage(ctx context.Context, key domain.ConversationKey, content domain.Content) (*domain.Message, error)
}

type StateHandler struct {
	view StateView
	log  *zap.Logger
}

func NewStateHandler(view StateView, log *zap.Logger) *StateHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &StateHandler{view: view, log: log}
}

// Routes registers every endpoint on mux. wrap guards the non-health routes.
func (h *StateHandler) Routes(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /api/v1/conversations", wrap(http.HandlerFunc(h.ListConversations)))
	mux.Handle("GET /api/v1/unread", wrap(http.HandlerFunc(h.Unread)))
	mux.Handle("GET /api/v1/conversations/{key}/messages", wrap(http.HandlerFunc(h.ListMessages)))
	mux.Handle("POST /api/v1/conversations/{key}/messages", wrap(http.HandlerFunc(h.SendMessage)))
	mux.Handle("GET /api/v1/presence/{key}", wrap(http.HandlerFunc(h.Presence)))
}

type healthResponse struct {
	Status    string `json:"status"`
	SignedIn  bool   `json:"signed_in"`
	Username  string `json:"username,omitempty"`
	Connected bool   `json:"connected"`
}

func (h *StateHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Connected: h.view.Connected()}
	if id := h.view.Identity(); id != nil {
		resp.SignedIn = true
		resp.Username = id.Username
	}
	writeJSON(w, http.StatusOK, resp)
}

type conversationResponse struct {
	Key string `json:"key"`
	domain.ConversationSummary
}

func (h *StateHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs := h.view.Conversations()
	out := make([]conversationResponse, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationResponse{Key: c.Key.String(), ConversationSummary: c})
	}
	writeJSON(w, http.StatusOK, out)
}

type unreadEntryResponse struct {
	Key string `json:"key"`
	domain.UnreadEntry
}

func (h *StateHandler) Unread(w http.ResponseWriter, r *http.Request) {
	entries := h.view.Unread()
	out := make([]unreadEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, unreadEntryResponse{Key: e.Key.String(), UnreadEntry: e})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":   h.view.TotalUnread(),
		"entries": out,
	})
}

func (h *StateHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}

	msgs, loaded := h.view.Messages(key)
	if !loaded {
		writeError(w, http.StatusNotFound, "NOT_LOADED", "Conversation has not been opened")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"has_more": h.view.HasMore(key),
	})
}

type sendInput struct {
	Content domain.Content `json:"content"`
}

func (h *StateHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}

	var input sendInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if errs := validator.ValidateContent(input.Content); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	msg, err := h.view.SendMessage(r.Context(), key, input.Content)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoSession):
			writeError(w, http.StatusUnauthorized, "NO_SESSION", "Not signed in")
		case errors.Is(err, service.ErrUnknownConversation):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Conversation not found")
		case errors.Is(err, service.ErrNotMember):
			writeError(w, http.StatusForbidden, "NOT_MEMBER", "No longer a member of this group")
		case msg != nil:
			// queued locally but the stream refused it; the record is marked failed
			writeJSON(w, http.StatusBadGateway, msg)
		default:
			h.log.Error("send message", zap.Stringer("key", key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, msg)
}

type presenceResponse struct {
	Key      string                `json:"key"`
	Status   domain.PresenceStatus `json:"status"`
	LastSeen *time.Time            `json:"last_seen,omitempty"`
}

func (h *StateHandler) Presence(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}

	p, known := h.view.Presence(key)
	if !known {
		writeError(w, http.StatusNotFound, "UNKNOWN", "No presence reported for this conversation")
		return
	}
	writeJSON(w, http.StatusOK, presenceResponse{Key: key.String(), Status: p.Status, LastSeen: p.LastSeen})
}

func pathKey(w http.ResponseWriter, r *http.Request) (domain.ConversationKey, bool) {
	key, err := domain.ParseConversationKey(r.PathValue("key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_KEY", "Conversation key must look like user-42 or group-3")
		return key, false
	}
	return key, true
}
