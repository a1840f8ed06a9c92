// Package relay forwards messages POSTed to a tenant's opaque endpoint to
// the tenant's WeChat Work agent.
package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pipehub/pipehub/internal/appkey"
	"github.com/pipehub/pipehub/internal/credential"
	"github.com/pipehub/pipehub/internal/server"
	"github.com/pipehub/pipehub/internal/storage"
	"github.com/pipehub/pipehub/internal/tenant"
	"github.com/pipehub/pipehub/internal/wechat"
)

// maxMessageSize bounds the request body read for a relayed message.
const maxMessageSize = 64 << 10

// senderHeader optionally declares the message origin for block-list checks.
const senderHeader = "X-PipeHub-Sender"

// Messenger is the outbound WeChat Work surface the dispatcher needs.
// *wechat.Client implements it.
type Messenger interface {
	FetchToken(ctx context.Context, app tenant.WeChatApp) (credential.Credential, error)
	Send(ctx context.Context, token string, app tenant.WeChatApp, msg wechat.Message) error
}

// Handler dispatches relay requests. It is stateless between requests; the
// credential cache is the only shared state it touches.
type Handler struct {
	store     storage.TenantStore
	cache     *credential.Cache
	messenger Messenger
	logger    *slog.Logger
}

func New(store storage.TenantStore, cache *credential.Cache, messenger Messenger, logger *slog.Logger) *Handler {
	return &Handler{
		store:     store,
		cache:     cache,
		messenger: messenger,
		logger:    logger,
	}
}

var okBody = []byte(`{"success":true}`)

// Send handles GET|POST /send/{key}. A malformed key and an unassigned key
// produce identical not-found responses, so the public key space leaks
// nothing about which keys exist.
func (h *Handler) Send(r *http.Request) *server.Result {
	ctx := r.Context()

	id, err := appkey.Decode(chi.URLParam(r, "key"))
	if err != nil {
		return server.Fail(http.StatusNotFound, "unknown app key")
	}

	t, err := h.store.FindByAppID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return server.Fail(http.StatusNotFound, "unknown app key")
	}
	if err != nil {
		return server.Fail(http.StatusInternalServerError, "tenant lookup failed: "+err.Error())
	}

	msg, err := messageFrom(r)
	if err != nil {
		return server.Fail(http.StatusBadRequest, err.Error())
	}

	if t.Blocks(msg.Sender) {
		h.logger.Info("sender blocked",
			slog.Int64("tenant_id", t.ID),
			slog.String("sender", msg.Sender),
		)
		return server.Fail(http.StatusForbidden, "sender is blocked")
	}

	app, err := h.store.WeChatApp(ctx, t.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return server.Fail(http.StatusInternalServerError, "wechat app not configured for this tenant")
	}
	if err != nil {
		return server.Fail(http.StatusInternalServerError, "wechat app lookup failed: "+err.Error())
	}

	fetch := func(ctx context.Context) (credential.Credential, error) {
		return h.messenger.FetchToken(ctx, *app)
	}

	cred, err := h.cache.GetOrFetch(ctx, t.ID, fetch)
	if err != nil {
		return server.Fail(http.StatusInternalServerError, "credential fetch failed: "+err.Error())
	}

	err = h.messenger.Send(ctx, cred.AccessToken, *app, msg)
	if errors.Is(err, wechat.ErrUnauthorized) {
		// The API revoked the token ahead of its expiry. Refresh once and
		// retry once; a second rejection is terminal.
		h.logger.Info("access token rejected, refreshing",
			slog.Int64("tenant_id", t.ID),
		)
		cred, err = h.cache.ForceRefresh(ctx, t.ID, fetch)
		if err != nil {
			return server.Fail(http.StatusInternalServerError, "credential refresh failed: "+err.Error())
		}
		err = h.messenger.Send(ctx, cred.AccessToken, *app, msg)
	}
	if err != nil {
		return server.Fail(http.StatusInternalServerError, "message delivery failed: "+err.Error())
	}

	return server.JSON(http.StatusOK, okBody)
}

// messageFrom builds the outbound message: the POST body (or the text query
// parameter for GET) is the content; the sender comes from the sender query
// parameter or the X-PipeHub-Sender header.
func messageFrom(r *http.Request) (wechat.Message, error) {
	content := ""
	if r.Body != nil {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
		if err != nil {
			return wechat.Message{}, errors.New("failed to read request body")
		}
		content = string(raw)
	}
	if content == "" {
		content = r.URL.Query().Get("text")
	}
	if strings.TrimSpace(content) == "" {
		return wechat.Message{}, errors.New("empty message")
	}

	sender := r.URL.Query().Get("sender")
	if sender == "" {
		sender = r.Header.Get(senderHeader)
	}

	return wechat.Message{Sender: sender, Content: content}, nil
}
