package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// OAuth2 implements the code/refresh half of Provider on top of
// golang.org/x/oauth2. Adapters embed it and add Name, OrgScoped and Identity.
type OAuth2 struct {
	conf    oauth2.Config
	client  *http.Client
	timeout time.Duration
}

// NewOAuth2 builds the base from cfg. cfg.AuthURL / cfg.TokenURL override
// the endpoint when set.
func NewOAuth2(cfg Config, endpoint oauth2.Endpoint) *OAuth2 {
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &OAuth2{
		conf: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

func (o *OAuth2) config(redirectURI string) *oauth2.Config {
	c := o.conf
	if redirectURI != "" {
		c.RedirectURL = redirectURI
	}
	return &c
}

// HTTPClient returns the bounded client used for provider calls.
func (o *OAuth2) HTTPClient() *http.Client { return o.client }

// WithTimeout derives a bounded context that also carries the HTTP client
// for golang.org/x/oauth2.
func (o *OAuth2) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	return context.WithValue(ctx, oauth2.HTTPClient, o.client), cancel
}

func (o *OAuth2) AuthorizeURL(state, challenge, redirectURI string) string {
	return o.config(redirectURI).AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

func (o *OAuth2) Exchange(ctx context.Context, code, verifier, redirectURI string) (*TokenSet, error) {
	ctx, cancel := o.WithTimeout(ctx)
	defer cancel()

	tok, err := o.config(redirectURI).Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, err
	}
	return FromOAuth2(tok), nil
}

func (o *OAuth2) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("providers: empty refresh token")
	}
	ctx, cancel := o.WithTimeout(ctx)
	defer cancel()

	// An expired token with no access token forces the source to refresh.
	src := o.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)})
	tok, err := src.Token()
	if err != nil {
		return nil, err
	}
	return FromOAuth2(tok), nil
}

// APIError is a non-2xx response from a provider API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider api error: status %d: %s", e.Status, e.Body)
}

// DoJSON sends req with the bounded client and decodes a JSON response.
func (o *OAuth2) DoJSON(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Status: resp.StatusCode, Body: string(b)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetJSON performs an authenticated GET.
func (o *OAuth2) GetJSON(ctx context.Context, url, accessToken string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return o.DoJSON(req, out)
}
