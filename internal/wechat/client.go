// Package wechat is the WeChat Work API client: it obtains per-tenant access
// tokens and delivers relayed messages to a tenant's agent.
package wechat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/pipehub/pipehub/internal/credential"
	"github.com/pipehub/pipehub/internal/tenant"
)

// DefaultBaseURL is the production WeChat Work API endpoint.
const DefaultBaseURL = "https://qyapi.weixin.qq.com"

const requestTimeout = 10 * time.Second

// ErrUnauthorized is returned by Send when the API rejects the access token.
// The relay responds by forcing one token refresh and retrying the send once.
var ErrUnauthorized = errors.New("wechat: access token rejected")

// Error codes WeChat Work uses for an invalid or expired access token.
var unauthorizedCodes = map[int64]bool{
	40014: true, // invalid access_token
	41001: true, // access_token missing
	42001: true, // access_token expired
}

// APIError is a non-zero errcode response from the WeChat Work API.
type APIError struct {
	Code    int64
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wechat: errcode %d: %s", e.Code, e.Message)
}

// Message is one relayed message. Sender is the caller-declared origin used
// for block-list checks; Content is delivered verbatim as a text message.
type Message struct {
	Sender  string
	Content string
}

// Client talks to the WeChat Work API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the given API base URL; an empty baseURL
// selects the production endpoint.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// FetchToken obtains a fresh access token for the tenant's corp/secret pair.
// The token's expires_in is converted to an absolute expiry instant.
func (c *Client) FetchToken(ctx context.Context, app tenant.WeChatApp) (credential.Credential, error) {
	q := url.Values{}
	q.Set("corpid", app.CorpID)
	q.Set("corpsecret", app.Secret)

	body, err := c.get(ctx, "/cgi-bin/gettoken?"+q.Encode())
	if err != nil {
		return credential.Credential{}, fmt.Errorf("wechat: token fetch failed: %w", err)
	}

	if code := gjson.GetBytes(body, "errcode").Int(); code != 0 {
		return credential.Credential{}, &APIError{Code: code, Message: gjson.GetBytes(body, "errmsg").String()}
	}

	token := gjson.GetBytes(body, "access_token").String()
	if token == "" {
		return credential.Credential{}, errors.New("wechat: token response missing access_token")
	}

	expiresIn := gjson.GetBytes(body, "expires_in").Int()
	return credential.Credential{
		AccessToken: token,
		ExpiresAt:   time.Now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// Send delivers msg to all members of the tenant's agent. A token the API no
// longer accepts yields an error wrapping ErrUnauthorized; any other non-zero
// errcode is terminal.
func (c *Client) Send(ctx context.Context, token string, app tenant.WeChatApp, msg Message) error {
	payload, err := json.Marshal(map[string]any{
		"touser":  "@all",
		"msgtype": "text",
		"agentid": app.AgentID,
		"text":    map[string]string{"content": msg.Content},
	})
	if err != nil {
		return fmt.Errorf("wechat: failed to encode message: %w", err)
	}

	body, err := c.post(ctx, "/cgi-bin/message/send?access_token="+url.QueryEscape(token), payload)
	if err != nil {
		return fmt.Errorf("wechat: send failed: %w", err)
	}

	code := gjson.GetBytes(body, "errcode").Int()
	switch {
	case code == 0:
		return nil
	case unauthorizedCodes[code]:
		return fmt.Errorf("%w: errcode %d: %s", ErrUnauthorized, code, gjson.GetBytes(body, "errmsg").String())
	default:
		return &APIError{Code: code, Message: gjson.GetBytes(body, "errmsg").String()}
	}
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, nil
}
