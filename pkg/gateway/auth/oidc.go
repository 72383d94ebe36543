package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/frottis-lab/dashboard/pkg/common/logger"
	"golang.org/x/oauth2"
)

var ErrInvalidToken = errors.New("invalid access token")

// Claims is the subset of the userinfo document the dashboard uses.
type Claims struct {
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
}

// OIDCAuthenticator validates bearer tokens against the issuer's userinfo
// endpoint.
type OIDCAuthenticator struct {
	config      *oauth2.Config
	issuer      string
	userInfoURL string
	httpClient  *http.Client
}

func NewOIDCAuthenticator(issuer, clientID, clientSecret string) (*OIDCAuthenticator, error) {
	if issuer == "" || clientID == "" {
		return nil, fmt.Errorf("OIDC configuration incomplete")
	}
	issuer = strings.TrimRight(issuer, "/")

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  fmt.Sprintf("%s/authorize", issuer),
			TokenURL: fmt.Sprintf("%s/token", issuer),
		},
		Scopes: []string{"openid", "profile", "email"},
	}

	return &OIDCAuthenticator{
		config:      config,
		issuer:      issuer,
		userInfoURL: fmt.Sprintf("%s/userinfo", issuer),
	}, nil
}

// WithHTTPClient sets the client used to reach the issuer.
func (a *OIDCAuthenticator) WithHTTPClient(c *http.Client) *OIDCAuthenticator {
	a.httpClient = c
	return a
}

func (a *OIDCAuthenticator) ValidateToken(ctx context.Context, token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrInvalidToken
	}
	if a.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	}

	client := a.config.Client(ctx, &oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.userInfoURL, nil)
	if err != nil {
		return Claims{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Userinfo request failed")
		return Claims{}, fmt.Errorf("userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Claims{}, ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		return Claims{}, fmt.Errorf("userinfo: unexpected status %d", resp.StatusCode)
	}

	var claims Claims
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return Claims{}, fmt.Errorf("userinfo: %w", err)
	}
	if claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

func (a *OIDCAuthenticator) Issuer() string {
	return a.issuer
}
