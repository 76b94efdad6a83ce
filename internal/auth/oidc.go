// Package auth - oidc.go verifies ID tokens issued by an external OpenID Connect
// provider, so a host that already runs an IdP can pass its tokens straight through.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCConfig configures bearer verification against an OpenID Connect issuer
type OIDCConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	IssuerURL string `mapstructure:"issuer_url"`
	// ClientID is the audience ID tokens must be issued for
	ClientID string `mapstructure:"client_id"`
	// GroupsClaim names the claim listing the caller's groups ("groups", "roles", ...)
	GroupsClaim string `mapstructure:"groups_claim"`
	// ElevatedGroups make their members elevated actors
	ElevatedGroups []string `mapstructure:"elevated_groups"`
}

// ErrOIDCDisabled is returned by a nil OIDCVerifier
var ErrOIDCDisabled = errors.New("oidc verification is not configured")

// OIDCVerifier turns ID tokens into actors
type OIDCVerifier struct {
	verifier       *oidc.IDTokenVerifier
	groupsClaim    string
	elevatedGroups []string
}

const oidcHTTPTimeout = 10 * time.Second

// NewOIDCVerifier runs issuer discovery and returns a verifier using the
// issuer's published signing keys
func NewOIDCVerifier(ctx context.Context, cfg OIDCConfig) (*OIDCVerifier, error) {
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("OIDC issuer URL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("OIDC client ID is required")
	}
	// the key set keeps this context for later JWKS refreshes
	ctx = oidc.ClientContext(ctx, &http.Client{Timeout: oidcHTTPTimeout})
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return newOIDCVerifier(provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}), cfg), nil
}

func newOIDCVerifier(v *oidc.IDTokenVerifier, cfg OIDCConfig) *OIDCVerifier {
	claim := cfg.GroupsClaim
	if claim == "" {
		claim = "groups"
	}
	return &OIDCVerifier{verifier: v, groupsClaim: claim, elevatedGroups: cfg.ElevatedGroups}
}

// Verify checks signature, issuer, audience and expiry of rawIDToken and
// maps its claims onto an Actor. The subject becomes the user id.
func (v *OIDCVerifier) Verify(ctx context.Context, rawIDToken string) (Actor, error) {
	if v == nil {
		return Actor{}, ErrOIDCDisabled
	}
	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Actor{}, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		SID   string `json:"sid"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return Actor{}, fmt.Errorf("failed to parse ID token claims: %w", err)
	}

	name := claims.Name
	if name == "" {
		name = claims.Email
	}
	actor := Actor{
		UserID:    idToken.Subject,
		UserName:  name,
		SessionID: claims.SID,
		Groups:    v.extractGroups(idToken),
	}
	actor.Elevated = slices.ContainsFunc(actor.Groups, func(g string) bool {
		return slices.Contains(v.elevatedGroups, g)
	})
	return actor, nil
}

// extractGroups reads the configured claim; a missing or malformed claim yields no groups
func (v *OIDCVerifier) extractGroups(idToken *oidc.IDToken) []string {
	var raw map[string]any
	if err := idToken.Claims(&raw); err != nil {
		return nil
	}
	switch val := raw[v.groupsClaim].(type) {
	case []any:
		groups := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				groups = append(groups, s)
			}
		}
		return groups
	case string:
		if val != "" {
			return []string{val}
		}
	}
	return nil
}
