package relay

// End-to-end coverage of the relay behind the full pipeline: requests enter
// through the composed server handler exactly as they would in production.

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pipehub/pipehub/internal/appkey"
	"github.com/pipehub/pipehub/internal/credential"
	"github.com/pipehub/pipehub/internal/server"
	"github.com/pipehub/pipehub/internal/storage/memory"
	"github.com/pipehub/pipehub/internal/tenant"
	"github.com/pipehub/pipehub/internal/wechat"
)

func newTestServer(t *testing.T, messenger *fakeMessenger, blockList string) (http.Handler, string) {
	t.Helper()

	store := memory.New()
	tn, err := store.Create(context.Background(), 42, "octocat")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	tn.BlockList = blockList
	if err := store.Update(context.Background(), tn); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	err = store.SaveWeChatApp(context.Background(), &tenant.WeChatApp{
		TenantID: tn.ID, CorpID: "corp", AgentID: 1, Secret: "s",
	})
	if err != nil {
		t.Fatalf("SaveWeChatApp() error = %v", err)
	}

	relay := New(store, credential.NewCache(), messenger, testLogger())

	srv := server.New("127.0.0.1:0", testLogger())
	srv.Router.Method(http.MethodGet, "/send/{key}", server.HandlerFunc(relay.Send))
	srv.Router.Method(http.MethodPost, "/send/{key}", server.HandlerFunc(relay.Send))

	return srv.Handler(), appkey.Encode(tn.AppID)
}

func TestE2E_Success(t *testing.T) {
	messenger := &fakeMessenger{}
	handler, key := newTestServer(t, messenger, "")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/send/"+key, strings.NewReader("hello")))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `{"success":true}` {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestE2E_BlockedSender(t *testing.T) {
	messenger := &fakeMessenger{}
	handler, key := newTestServer(t, messenger, "spammer")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/send/"+key+"?sender=spammer", strings.NewReader("hi")))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	fetches, sends := messenger.counts()
	if fetches != 0 || sends != 0 {
		t.Errorf("blocked sender reached the provider: fetches = %d, sends = %d", fetches, sends)
	}
}

func TestE2E_MalformedKey(t *testing.T) {
	handler, _ := newTestServer(t, &fakeMessenger{}, "")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/send/$$$$", strings.NewReader("hi")))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestE2E_ProviderFailuresProduceEnvelope(t *testing.T) {
	// The first token fetch succeeds, the send is rejected as unauthorized,
	// and the forced refresh fails: two provider invocations total and a
	// normalized server-error envelope for the client.
	messenger := &fakeMessenger{
		fetchErrAfter: 1,
		sendScript:    []error{wechat.ErrUnauthorized},
	}
	handler, key := newTestServer(t, messenger, "")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/send/"+key, strings.NewReader("hi")))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	var envelope struct {
		RequestID    string `json:"requestId"`
		Success      bool   `json:"success"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("body %q is not the envelope: %v", rec.Body.String(), err)
	}
	if envelope.Success {
		t.Error("envelope success = true")
	}
	if envelope.RequestID == "" || envelope.RequestID != rec.Header().Get("X-Request-ID") {
		t.Errorf("requestId = %q, header = %q", envelope.RequestID, rec.Header().Get("X-Request-ID"))
	}
	if envelope.ErrorMessage == "" {
		t.Error("errorMessage is empty")
	}

	fetches, _ := messenger.counts()
	if fetches != 2 {
		t.Errorf("provider invocations = %d, want exactly 2", fetches)
	}
}

func TestE2E_HeadRequestToSendRoute(t *testing.T) {
	messenger := &fakeMessenger{}
	handler, key := newTestServer(t, messenger, "")

	get := httptest.NewRecorder()
	handler.ServeHTTP(get, httptest.NewRequest("GET", "/send/"+key+"?text=hi", nil))

	head := httptest.NewRecorder()
	handler.ServeHTTP(head, httptest.NewRequest("HEAD", "/send/"+key+"?text=hi", nil))

	if head.Code != get.Code {
		t.Errorf("HEAD status = %d, GET status = %d", head.Code, get.Code)
	}
	if head.Body.Len() != 0 {
		t.Errorf("HEAD body = %q, want empty", head.Body.String())
	}
}
