// Package user implements the GitHub login flow and the session-protected
// account-management endpoints.
package user

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/pipehub/pipehub/internal/appkey"
	"github.com/pipehub/pipehub/internal/github"
	"github.com/pipehub/pipehub/internal/server"
	"github.com/pipehub/pipehub/internal/storage"
	"github.com/pipehub/pipehub/internal/tenant"
)

const stateCookie = "oauth_state"

// GitHub is the OAuth surface the login flow needs; *github.Client
// implements it.
type GitHub interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (string, error)
	User(ctx context.Context, accessToken string) (github.User, error)
}

// Handler serves /login, /callback and the account endpoints.
type Handler struct {
	store    storage.TenantStore
	github   GitHub
	sessions *server.SessionManager
	domain   string // public base URL, used to render callback URLs
	webURL   string // where the browser lands after login
	secure   bool
	logger   *slog.Logger
}

func New(store storage.TenantStore, gh GitHub, sessions *server.SessionManager, domain, webURL string, secure bool, logger *slog.Logger) *Handler {
	return &Handler{
		store:    store,
		github:   gh,
		sessions: sessions,
		domain:   domain,
		webURL:   webURL,
		secure:   secure,
		logger:   logger,
	}
}

// Login redirects the browser to GitHub with a fresh state nonce.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		http.Error(w, "failed to generate login state", http.StatusInternalServerError)
		return
	}
	state := hex.EncodeToString(buf[:])

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.github.AuthCodeURL(state), http.StatusFound)
}

// Callback completes the OAuth handshake: it validates the state nonce,
// exchanges the code, resolves the GitHub account, finds or creates the
// tenant, and issues the session cookie.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		http.Error(w, "login state mismatch", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}

	token, err := h.github.Exchange(ctx, code)
	if err != nil {
		http.Error(w, "code exchange failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	account, err := h.github.User(ctx, token)
	if err != nil {
		http.Error(w, "account lookup failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	t, err := h.store.FindByGitHubID(ctx, account.ID)
	if errors.Is(err, storage.ErrNotFound) {
		t, err = h.store.Create(ctx, account.ID, account.Login)
		if err == nil {
			h.logger.Info("tenant created",
				slog.Int64("tenant_id", t.ID),
				slog.String("github_login", account.Login),
			)
		}
	}
	if err != nil {
		http.Error(w, "tenant lookup failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	// Keep the stored login current; GitHub accounts can be renamed.
	if t.GitHubLogin != account.Login {
		t.GitHubLogin = account.Login
		if err := h.store.Update(ctx, t); err != nil {
			http.Error(w, "tenant update failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}

	h.sessions.Issue(w, t.ID)
	http.Redirect(w, r, h.webURL, http.StatusFound)
}

// profile is the browser-facing tenant view.
type profile struct {
	GitHubLogin string `json:"github_login"`
	GitHubID    int64  `json:"github_id"`
	BlockList   string `json:"block_list"`
	AppKey      string `json:"app_key"`
	CallbackURL string `json:"callback_url"`
}

func (h *Handler) profileFor(t *tenant.Tenant) profile {
	key := appkey.Encode(t.AppID)
	return profile{
		GitHubLogin: t.GitHubLogin,
		GitHubID:    t.GitHubID,
		BlockList:   t.BlockList,
		AppKey:      key,
		CallbackURL: fmt.Sprintf("%s/send/%s", h.domain, key),
	}
}

// authed resolves the session tenant, or returns a failure Result.
func (h *Handler) authed(r *http.Request) (*tenant.Tenant, *server.Result) {
	tenantID, ok := h.sessions.Verify(r)
	if !ok {
		return nil, server.Fail(http.StatusUnauthorized, "not signed in")
	}

	t, err := h.store.FindByID(r.Context(), tenantID)
	if errors.Is(err, storage.ErrNotFound) {
		// The session outlived the tenant record.
		return nil, server.Fail(http.StatusUnauthorized, "not signed in")
	}
	if err != nil {
		return nil, server.Fail(http.StatusInternalServerError, "tenant lookup failed: "+err.Error())
	}
	return t, nil
}

// Profile handles GET /user.
func (h *Handler) Profile(r *http.Request) *server.Result {
	t, fail := h.authed(r)
	if fail != nil {
		return fail
	}
	return server.JSONValue(http.StatusOK, h.profileFor(t))
}

// UpdateProfile handles PUT /user; only the block list is writable.
func (h *Handler) UpdateProfile(r *http.Request) *server.Result {
	t, fail := h.authed(r)
	if fail != nil {
		return fail
	}

	var body struct {
		BlockList string `json:"block_list"`
	}
	if err := decodeJSON(r, &body); err != nil {
		return server.Fail(http.StatusBadRequest, err.Error())
	}

	t.BlockList = body.BlockList
	if err := h.store.Update(r.Context(), t); err != nil {
		return server.Fail(http.StatusInternalServerError, "tenant update failed: "+err.Error())
	}
	return server.JSONValue(http.StatusOK, h.profileFor(t))
}

// ResetKey handles POST /user/reset_key: the tenant gets a new AppID, which
// invalidates the previously published app key.
func (h *Handler) ResetKey(r *http.Request) *server.Result {
	t, fail := h.authed(r)
	if fail != nil {
		return fail
	}

	reset, err := h.store.ResetAppID(r.Context(), t.ID)
	if err != nil {
		return server.Fail(http.StatusInternalServerError, "app key reset failed: "+err.Error())
	}
	return server.JSONValue(http.StatusOK, h.profileFor(reset))
}

// WeChatApp handles GET /wechat. The secret never leaves the server.
func (h *Handler) WeChatApp(r *http.Request) *server.Result {
	t, fail := h.authed(r)
	if fail != nil {
		return fail
	}

	app, err := h.store.WeChatApp(r.Context(), t.ID)
	if errors.Is(err, storage.ErrNotFound) {
		app = &tenant.WeChatApp{TenantID: t.ID}
	} else if err != nil {
		return server.Fail(http.StatusInternalServerError, "wechat app lookup failed: "+err.Error())
	}

	app.Secret = ""
	return server.JSONValue(http.StatusOK, app)
}

// UpdateWeChatApp handles PUT /wechat.
func (h *Handler) UpdateWeChatApp(r *http.Request) *server.Result {
	t, fail := h.authed(r)
	if fail != nil {
		return fail
	}

	var body struct {
		CorpID  string `json:"corp_id"`
		AgentID int64  `json:"agent_id"`
		Secret  string `json:"secret"`
	}
	if err := decodeJSON(r, &body); err != nil {
		return server.Fail(http.StatusBadRequest, err.Error())
	}
	if body.CorpID == "" || body.Secret == "" {
		return server.Fail(http.StatusBadRequest, "corp_id and secret are required")
	}

	app := &tenant.WeChatApp{
		TenantID: t.ID,
		CorpID:   body.CorpID,
		AgentID:  body.AgentID,
		Secret:   body.Secret,
	}
	if err := h.store.SaveWeChatApp(r.Context(), app); err != nil {
		return server.Fail(http.StatusInternalServerError, "wechat app save failed: "+err.Error())
	}

	app.Secret = ""
	return server.JSONValue(http.StatusOK, app)
}

func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return errors.New("failed to read request body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}
