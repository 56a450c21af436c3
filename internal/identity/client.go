// Package identity is the broker's client for its single OAuth2 identity
// provider: the authorization-code and refresh grants via golang.org/x/oauth2
// and the bearer-authenticated identity verification call.
package identity

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	xoauth2 "golang.org/x/oauth2"

	"token-broker/internal/circuitbreaker"
	"token-broker/internal/common/errors"
	commonhttp "token-broker/internal/common/http"
	"token-broker/internal/common/logging"
	"token-broker/internal/oauth2"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultNameField = "CharacterName"

	breakerName = "identity-provider"
)

// Config describes the registered OAuth2 client.
type Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	// VerifyURL is used when VerifyIdentity is given no endpoint.
	VerifyURL string
	// NameField is the JSON field of the verify response holding the display name.
	NameField string
	// Timeout bounds each provider round trip.
	Timeout time.Duration
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

func (c *Config) validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return errors.ConfigError("provider client id and secret are required")
	}
	if c.AuthURL == "" || c.TokenURL == "" {
		return errors.ConfigError("provider authorization and token URLs are required")
	}
	return nil
}

// Client implements oauth2.IdentityProvider.
type Client struct {
	config     Config
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
	logger     logging.Logger
}

var _ oauth2.IdentityProvider = (*Client)(nil)

// NewClient creates a provider client. A nil logger uses the global logger.
func NewClient(config Config, logger logging.Logger) (*Client, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.NameField == "" {
		config.NameField = DefaultNameField
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = commonhttp.NewHTTPClientWithTimeout(config.Timeout)
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		breaker:    circuitbreaker.New(breakerName, circuitbreaker.ProviderSettings, logger),
		logger:     logger,
	}, nil
}

// Breaker exposes the circuit breaker guarding provider calls.
func (c *Client) Breaker() *circuitbreaker.Breaker {
	return c.breaker
}

func (c *Client) oauthConfig(callbackURL, scopes string) *xoauth2.Config {
	return &xoauth2.Config{
		ClientID:     c.config.ClientID,
		ClientSecret: c.config.ClientSecret,
		Endpoint: xoauth2.Endpoint{
			AuthURL:  c.config.AuthURL,
			TokenURL: c.config.TokenURL,
		},
		RedirectURL: callbackURL,
		Scopes:      strings.Fields(scopes),
	}
}

func (c *Client) AuthorizationURL(callbackURL, scopes, state string) string {
	return c.oauthConfig(callbackURL, scopes).AuthCodeURL(state)
}

func (c *Client) Exchange(ctx context.Context, callbackURL, code string) (*oauth2.ProviderToken, error) {
	conf := c.oauthConfig(callbackURL, "")

	var token *oauth2.ProviderToken
	err := c.call(ctx, "code exchange", func(ctx context.Context) error {
		tok, err := conf.Exchange(ctx, code)
		if err != nil {
			return err
		}
		token, err = convertToken(tok)
		return err
	})
	return token, err
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth2.ProviderToken, error) {
	conf := c.oauthConfig("", "")

	var token *oauth2.ProviderToken
	err := c.call(ctx, "refresh grant", func(ctx context.Context) error {
		tok, err := conf.TokenSource(ctx, &xoauth2.Token{RefreshToken: refreshToken}).Token()
		if err != nil {
			return err
		}
		token, err = convertToken(tok)
		return err
	})
	return token, err
}

func (c *Client) VerifyIdentity(ctx context.Context, accessToken, verifyURL string) (string, error) {
	if verifyURL == "" {
		verifyURL = c.config.VerifyURL
	}
	if verifyURL == "" {
		return "", errors.ConfigError("no identity verification endpoint configured")
	}

	var name string
	err := c.call(ctx, "identity verification", func(ctx context.Context) error {
		var body map[string]interface{}
		if err := commonhttp.GetJSONWithBearer(ctx, c.httpClient, verifyURL, accessToken, &body); err != nil {
			return err
		}
		value, ok := body[c.config.NameField].(string)
		if !ok || value == "" {
			return errors.ValidationError(fmt.Sprintf("verify response has no %s", c.config.NameField))
		}
		name = value
		return nil
	})
	return name, err
}

// call runs one provider round trip under the timeout and the breaker.
func (c *Client) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	ctx = context.WithValue(ctx, xoauth2.HTTPClient, c.httpClient)

	start := time.Now()
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return classify(operation, fn(ctx))
	})
	if err != nil {
		c.logger.Debug("Identity provider call failed",
			logging.String("operation", operation),
			logging.Duration("elapsed", time.Since(start)),
			logging.String("error_type", string(errors.GetType(err))),
		)
	}
	return err
}

// classify maps provider failures onto error types. Rejections by a
// responsive provider become auth errors so they do not trip the breaker.
func classify(operation string, err error) error {
	if err == nil {
		return nil
	}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}

	var retrieveErr *xoauth2.RetrieveError
	if stderrors.As(err, &retrieveErr) && retrieveErr.Response != nil && isClientError(retrieveErr.Response.StatusCode) {
		code := retrieveErr.ErrorCode
		if code == "" {
			code = retrieveErr.Response.Status
		}
		return errors.AuthError(fmt.Sprintf("%s rejected by provider: %s", operation, code))
	}

	var statusErr *commonhttp.StatusError
	if stderrors.As(err, &statusErr) && statusErr.ClientError() {
		return errors.AuthError(fmt.Sprintf("%s rejected by provider: status %d", operation, statusErr.StatusCode))
	}

	var netErr net.Error
	if stderrors.Is(err, context.DeadlineExceeded) || (stderrors.As(err, &netErr) && netErr.Timeout()) {
		return errors.TimeoutError(operation)
	}

	return errors.ConnectionError(fmt.Sprintf("%s failed", operation), err)
}

func isClientError(status int) bool {
	return status >= 400 && status < 500
}

func convertToken(tok *xoauth2.Token) (*oauth2.ProviderToken, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, errors.ValidationError("provider returned no access token")
	}

	var expiresIn time.Duration
	if !tok.Expiry.IsZero() {
		expiresIn = time.Until(tok.Expiry).Round(time.Second)
		if expiresIn < 0 {
			expiresIn = 0
		}
	}

	return &oauth2.ProviderToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn,
	}, nil
}
