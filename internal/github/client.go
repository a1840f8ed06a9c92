// Package github is the OAuth client used by the login flow: it exchanges
// the callback code for a token and resolves the authenticated account.
package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

const (
	defaultAuthURL  = "https://github.com/login/oauth/authorize"
	defaultTokenURL = "https://github.com/login/oauth/access_token"
	defaultAPIURL   = "https://api.github.com"

	requestTimeout = 10 * time.Second
)

// User is the authenticated GitHub account.
type User struct {
	ID    int64
	Login string
}

// Options configures the client; zero-value URLs select the public GitHub
// endpoints.
type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	APIURL       string
}

type Client struct {
	oauth  *oauth2.Config
	apiURL string
	http   *http.Client
}

func NewClient(opts Options) *Client {
	authURL := opts.AuthURL
	if authURL == "" {
		authURL = defaultAuthURL
	}
	tokenURL := opts.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	apiURL := opts.APIURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
			},
		},
		apiURL: apiURL,
		http:   &http.Client{Timeout: requestTimeout},
	}
}

// AuthCodeURL is the GitHub authorize URL the browser is redirected to.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange trades the one-time callback code for an access token.
func (c *Client) Exchange(ctx context.Context, code string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("github: code exchange failed: %w", err)
	}
	return token.AccessToken, nil
}

// User resolves the account that owns the access token.
func (c *Client) User(ctx context.Context, accessToken string) (User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/user", nil)
	if err != nil {
		return User{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("github: user lookup failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return User{}, fmt.Errorf("github: failed to read user response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return User{}, fmt.Errorf("github: user lookup returned status %d", resp.StatusCode)
	}

	user := User{
		ID:    gjson.GetBytes(body, "id").Int(),
		Login: gjson.GetBytes(body, "login").String(),
	}
	if user.ID == 0 || user.Login == "" {
		return User{}, fmt.Errorf("github: user response missing id or login")
	}
	return user, nil
}
