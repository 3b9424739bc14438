package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestAPI(t *testing.T) (*API, Store, *http.ServeMux) {
	t.Helper()
	p, store, _ := newTestPipeline(t, newMemBlobStore())
	coord := NewCoordinator(testLogger(), store, NewMemoryCache())
	api := NewAPI(testLogger(), coord, p)

	mux := http.NewServeMux()
	api.Register(mux)
	return api, store, mux
}

func TestAPI_GetChat_CreatesOnFirstLookup(t *testing.T) {
	t.Parallel()

	_, _, mux := newTestAPI(t)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/chat/get-chat/u1/u2", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Message string     `json:"message"`
		Chat    DirectChat `json:"chat"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Chat.Chat.ID == "" {
		t.Fatalf("chat id missing: %+v", resp)
	}
	if resp.Chat.Chat.UserLo != "u1" || resp.Chat.Chat.UserHi != "u2" {
		t.Fatalf("pair=%q/%q", resp.Chat.Chat.UserLo, resp.Chat.Chat.UserHi)
	}

	// Reversed order resolves to the same chat.
	rr2 := httptest.NewRecorder()
	mux.ServeHTTP(rr2, httptest.NewRequest(http.MethodGet, "/api/chat/get-chat/u2/u1", nil))
	var resp2 struct {
		Chat DirectChat `json:"chat"`
	}
	if err := json.NewDecoder(rr2.Body).Decode(&resp2); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp2.Chat.Chat.ID != resp.Chat.Chat.ID {
		t.Fatalf("reversed lookup returned a different chat")
	}
}

func TestAPI_GetGroup_NotFound(t *testing.T) {
	t.Parallel()

	_, _, mux := newTestAPI(t)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/chat/get-group-chat/nope", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", rr.Code)
	}
}

func TestAPI_CreateGroup_RequiresIdentity(t *testing.T) {
	t.Parallel()

	_, _, mux := newTestAPI(t)

	body := strings.NewReader(`{"name":"g","user_ids":["m1"]}`)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/chat/create-group", body))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d want 401", rr.Code)
	}
}

func TestAPI_CreateGroup_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, _, mux := newTestAPI(t)

	body := strings.NewReader(`{"name":"g","bogus":true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chat/create-group", body)
	req.Header.Set("X-User-ID", "admin")

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", rr.Code)
	}
}

func TestAPI_RemoveUser_NonAdminForbidden(t *testing.T) {
	t.Parallel()

	_, store, mux := newTestAPI(t)

	g, err := store.CreateGroup(context.Background(), CreateGroupInput{
		Name:      "g",
		CreatorID: "admin",
		MemberIDs: []string{"m1"},
	})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/chat/remove-user/"+g.ID+"/m1", nil)
	req.Header.Set("X-User-ID", "m1")

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status=%d want 403 body=%s", rr.Code, rr.Body.String())
	}
}

func TestAPI_SendWithAttachment_KindDecidedAtBoundary(t *testing.T) {
	t.Parallel()

	_, store, mux := newTestAPI(t)

	dc, err := store.FindOrCreateDirectChat(context.Background(), "u1", "u2")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	payload := `{"chat_id":"` + dc.Chat.ID + `","receiver_id":"u2","content":"see attached","attachment":{"url":"/uploads/f.pdf","name":"f.pdf","mime":"application/pdf","size":123}}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat/send-message-with-attachment", strings.NewReader(payload))
	req.Header.Set("X-User-ID", "u1")

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Data Message `json:"data"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.Kind != KindAttachment {
		t.Fatalf("kind=%q want attachment", resp.Data.Kind)
	}
	if resp.Data.Attachment == nil || resp.Data.Attachment.URL != "/uploads/f.pdf" {
		t.Fatalf("attachment not carried: %+v", resp.Data.Attachment)
	}
}
