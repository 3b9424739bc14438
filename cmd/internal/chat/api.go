package chat

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const apiMaxBodyBytes = 64 << 10 // 64 KiB

// API exposes the request/response read paths and the group mutation
// endpoints over HTTP. Identity is out of scope for this core: the
// upstream auth edge injects the caller id as X-User-ID.
type API struct {
	log      *slog.Logger
	coord    *Coordinator
	pipeline *Pipeline
}

// NewAPI constructs the HTTP surface over the coordinator and pipeline.
func NewAPI(log *slog.Logger, coord *Coordinator, pipeline *Pipeline) *API {
	return &API{log: log, coord: coord, pipeline: pipeline}
}

// Register mounts all chat routes on the mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/chat/get-chat/{senderID}/{receiverID}", a.handleGetChat)
	mux.HandleFunc("GET /api/chat/get-chat-messages/{chatID}", a.handleGetMessages)
	mux.HandleFunc("GET /api/chat/get-chats/{userID}", a.handleGetChats)
	mux.HandleFunc("GET /api/chat/get-group-chat/{groupID}", a.handleGetGroup)
	mux.HandleFunc("GET /api/chat/get-groups", a.handleGetGroups)
	mux.HandleFunc("POST /api/chat/create-group", a.handleCreateGroup)
	mux.HandleFunc("POST /api/chat/add-users/{groupID}", a.handleAddUsers)
	mux.HandleFunc("DELETE /api/chat/remove-user/{groupID}/{userID}", a.handleRemoveUser)
	mux.HandleFunc("POST /api/chat/send-message-with-attachment", a.handleSendWithAttachment)
	mux.HandleFunc("POST /api/chat/send-group-message-with-attachment", a.handleSendGroupWithAttachment)
}

func (a *API) handleGetChat(w http.ResponseWriter, r *http.Request) {
	senderID := r.PathValue("senderID")
	receiverID := r.PathValue("receiverID")
	if senderID == "" || receiverID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing participant id")
		return
	}

	dc, err := a.coord.DirectChat(r.Context(), senderID, receiverID)
	if err != nil {
		a.fail(w, "get chat", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Chat found", "chat": dc})
}

func (a *API) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chatID")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing chat_id")
		return
	}

	msgs, err := a.coord.Messages(r.Context(), chatID)
	if err != nil {
		a.fail(w, "get messages", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Messages found", "messages": msgs})
}

func (a *API) handleGetChats(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing user_id")
		return
	}

	chats, err := a.coord.ChatsForUser(r.Context(), userID)
	if err != nil {
		a.fail(w, "get chats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Chats found", "chats": chats})
}

func (a *API) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("groupID")
	if groupID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing group_id")
		return
	}

	snap, err := a.coord.Group(r.Context(), groupID)
	if err != nil {
		a.fail(w, "get group", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Group chat found", "groupChat": snap})
}

func (a *API) handleGetGroups(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.callerID(w, r)
	if !ok {
		return
	}

	groups, err := a.coord.Store().ListGroupsForUser(r.Context(), userID)
	if err != nil {
		a.fail(w, "get groups", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Groups found", "groups": groups})
}

type createGroupRequest struct {
	Name    string   `json:"name"`
	UserIDs []string `json:"user_ids"`
}

func (a *API) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.callerID(w, r)
	if !ok {
		return
	}

	var req createGroupRequest
	if err := decodeJSON(w, r, apiMaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing group name")
		return
	}

	group, err := a.pipeline.CreateGroup(r.Context(), CreateGroupInput{
		Name:      req.Name,
		CreatorID: userID,
		MemberIDs: req.UserIDs,
	})
	if err != nil {
		a.fail(w, "create group", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Group created", "group": group})
}

type addUsersRequest struct {
	UserIDs []string `json:"user_ids"`
}

func (a *API) handleAddUsers(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.callerID(w, r)
	if !ok {
		return
	}
	groupID := r.PathValue("groupID")

	var req addUsersRequest
	if err := decodeJSON(w, r, apiMaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	if err := a.pipeline.AddMembers(r.Context(), groupID, userID, req.UserIDs); err != nil {
		a.fail(w, "add users", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Users added to group successfully"})
}

func (a *API) handleRemoveUser(w http.ResponseWriter, r *http.Request) {
	callerID, ok := a.callerID(w, r)
	if !ok {
		return
	}
	groupID := r.PathValue("groupID")
	userID := r.PathValue("userID")

	if err := a.pipeline.RemoveMember(r.Context(), groupID, callerID, userID); err != nil {
		a.fail(w, "remove user", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "User removed from group successfully"})
}

// Attachment ingestion (multipart) happens upstream; these endpoints
// receive only the resulting descriptor.
type sendWithAttachmentRequest struct {
	ChatID     string      `json:"chat_id"`
	ReceiverID string      `json:"receiver_id"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

func (a *API) handleSendWithAttachment(w http.ResponseWriter, r *http.Request) {
	senderID, ok := a.callerID(w, r)
	if !ok {
		return
	}

	var req sendWithAttachmentRequest
	if err := decodeJSON(w, r, apiMaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	kind := KindText
	if req.Attachment != nil {
		kind = KindAttachment
	}

	msg, err := a.pipeline.SendDirect(r.Context(), DirectMessageInput{
		ChatID:     req.ChatID,
		SenderID:   senderID,
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		Kind:       kind,
		Attachment: req.Attachment,
	})
	if err != nil {
		a.fail(w, "send message", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Message sent", "data": msg})
}

type sendGroupWithAttachmentRequest struct {
	GroupID    string      `json:"group_id"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

func (a *API) handleSendGroupWithAttachment(w http.ResponseWriter, r *http.Request) {
	senderID, ok := a.callerID(w, r)
	if !ok {
		return
	}

	var req sendGroupWithAttachmentRequest
	if err := decodeJSON(w, r, apiMaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	kind := KindText
	if req.Attachment != nil {
		kind = KindAttachment
	}

	msg, err := a.pipeline.SendGroup(r.Context(), GroupMessageInput{
		GroupID:    req.GroupID,
		SenderID:   senderID,
		Content:    req.Content,
		Kind:       kind,
		Attachment: req.Attachment,
	})
	if err != nil {
		a.fail(w, "send group message", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Group message sent", "data": msg})
}

// callerID reads the authenticated user id injected by the auth edge.
func (a *API) callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if id == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return "", false
	}
	return id, true
}

// fail maps domain errors to HTTP statuses per the error taxonomy:
// authorization -> 403, not-found -> 404, everything else -> 500 generic.
func (a *API) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotAdmin):
		writeError(w, http.StatusForbidden, "forbidden", "only group admin may change membership")
	case errors.Is(err, ErrGroupNotFound):
		writeError(w, http.StatusNotFound, "not_found", "group not found")
	case errors.Is(err, ErrChatNotFound):
		writeError(w, http.StatusNotFound, "not_found", "chat not found")
	default:
		a.log.Error("api.fail", "op", op, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "request failed")
	}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure there is no extra data after the first JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
