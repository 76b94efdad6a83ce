package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openregister/openregister/internal/auth"
)

// fakeIssuer serves OIDC discovery and a JWKS for one RSA key
type fakeIssuer struct {
	server *httptest.Server
	key    *rsa.PrivateKey
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa: %v", err)
	}
	fi := &fakeIssuer{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                fi.server.URL,
			"authorization_endpoint":                fi.server.URL + "/authorize",
			"token_endpoint":                        fi.server.URL + "/token",
			"jwks_uri":                              fi.server.URL + "/jwks",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "test-key",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}}})
	})
	fi.server = httptest.NewServer(mux)
	t.Cleanup(fi.server.Close)
	return fi
}

func (fi *fakeIssuer) token(t *testing.T, sub string, groups ...string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":    fi.server.URL,
		"aud":    "openregister",
		"sub":    sub,
		"name":   "Grace",
		"groups": groups,
		"iat":    time.Now().Unix(),
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
	tok.Header["kid"] = "test-key"
	raw, err := tok.SignedString(fi.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return raw
}

func TestIdentityMiddleware_OIDC(t *testing.T) {
	fi := newFakeIssuer(t)
	verifier, err := auth.NewOIDCVerifier(context.Background(), auth.OIDCConfig{
		IssuerURL:      fi.server.URL,
		ClientID:       "openregister",
		ElevatedGroups: []string{"ops"},
	})
	if err != nil {
		t.Fatalf("NewOIDCVerifier: %v", err)
	}
	r := newIdentityRouter(IdentityConfig{OIDC: verifier})

	w, actor := doIdentity(t, r, "Bearer "+fi.token(t, "grace", "ops"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	if actor.UserID != "grace" || actor.UserName != "Grace" || !actor.Elevated {
		t.Errorf("actor = %+v, want elevated grace", actor)
	}

	// locally signed JWTs keep working next to the issuer
	local, err := auth.GenerateJWT(auth.Actor{UserID: "alice"}, time.Minute)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	w, actor = doIdentity(t, r, "Bearer "+local, nil)
	if w.Code != http.StatusOK || actor.UserID != "alice" {
		t.Errorf("local JWT: status %d actor %+v", w.Code, actor)
	}

	w, _ = doIdentity(t, r, "Bearer "+fi.token(t, "grace")+"x", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("tampered token status = %d, want 401", w.Code)
	}
}

func TestNewOIDCVerifier_RequiresIssuerAndClient(t *testing.T) {
	if _, err := auth.NewOIDCVerifier(context.Background(), auth.OIDCConfig{ClientID: "x"}); err == nil {
		t.Error("expected error without issuer")
	}
	if _, err := auth.NewOIDCVerifier(context.Background(), auth.OIDCConfig{IssuerURL: "https://idp"}); err == nil {
		t.Error("expected error without client id")
	}
}
