// Package auth - jwt.go handles JWT creation and verification with a shared secret.
// Tokens carry the caller identity that the API layer turns into an Actor.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SecretEnvVar names the environment variable holding the signing secret
const SecretEnvVar = "OR_JWT_SECRET"

const issuer = "openregister"

var (
	jwtSecret     string
	jwtSecretOnce sync.Once
	jwtSecretErr  error
)

// Claims is the JWT payload issued to callers of the register API
type Claims struct {
	UserID    string   `json:"user_id"`
	UserName  string   `json:"user_name,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Groups    []string `json:"groups,omitempty"`
	Admin     bool     `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// Actor converts the claims into the engine's caller identity
func (c *Claims) Actor() Actor {
	return Actor{
		UserID:    c.UserID,
		UserName:  c.UserName,
		SessionID: c.SessionID,
		Groups:    c.Groups,
		Elevated:  c.Admin,
	}
}

func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	return devMode == "true" || devMode == "1" || os.Getenv("GIN_MODE") == "debug"
}

func generateRandomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// ValidateJWTSecret checks that the signing secret is configured. Outside dev
// mode a missing secret is fatal; in dev mode a random one is generated.
// Call this at application startup.
func ValidateJWTSecret() error {
	jwtSecretOnce.Do(func() {
		secret := os.Getenv(SecretEnvVar)
		if secret == "" {
			if isDevMode() {
				jwtSecret = generateRandomSecret()
				slog.Warn("JWT secret not set, using a generated secret; tokens will not survive a restart",
					"env", SecretEnvVar)
				return
			}
			jwtSecretErr = fmt.Errorf("%s environment variable is required outside dev mode", SecretEnvVar)
			return
		}
		if len(secret) < 32 {
			slog.Warn("JWT secret is shorter than 32 characters", "env", SecretEnvVar)
		}
		jwtSecret = secret
	})
	return jwtSecretErr
}

// GetJWTSecret returns the validated secret, validating lazily on first use.
// It panics when no secret can be established.
func GetJWTSecret() string {
	if jwtSecret == "" {
		if err := ValidateJWTSecret(); err != nil {
			panic(err)
		}
	}
	return jwtSecret
}

// GenerateJWT signs a token for actor, valid for expiresIn (one hour when zero)
func GenerateJWT(actor Actor, expiresIn time.Duration) (string, error) {
	if expiresIn == 0 {
		expiresIn = time.Hour
	}
	now := time.Now()
	claims := &Claims{
		UserID:    actor.UserID,
		UserName:  actor.UserName,
		SessionID: actor.SessionID,
		Groups:    actor.Groups,
		Admin:     actor.Elevated,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   actor.UserID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(GetJWTSecret()))
}

// ValidateJWT parses and verifies a token
func ValidateJWT(tokenString string) (*Claims, error) {
	secret := GetJWTSecret()
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
