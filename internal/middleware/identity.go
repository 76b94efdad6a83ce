// Package middleware provides the Gin middleware of the register API: request
// ids, metrics, request logging, caller identity, rate limiting, CORS and
// security headers.
//
// Ordering is fixed in internal/api/router.go:
//
//	Recovery → RequestID → Metrics → Logger → CORS → Security → Identity → RateLimit → Handler
//
// Identity runs before rate limiting so authenticated callers are limited per
// user rather than per IP address.
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openregister/openregister/internal/auth"
)

// ActorKey is the gin.Context key holding the auth.Actor of the request
const ActorKey = "actor"

// SessionHeader lets a host application pass its own session identifier,
// recorded in audit trails and search logs
const SessionHeader = "X-Session-ID"

var errInvalidCredentials = errors.New("invalid credentials")

// IdentityConfig configures IdentityMiddleware
type IdentityConfig struct {
	// AllowAnonymous lets requests without an Authorization header through as
	// the anonymous actor; services still refuse anonymous mutations
	AllowAnonymous bool
	// Keys authenticates service keys; nil disables them
	Keys *auth.KeyRing
	// OIDC verifies ID tokens of an external issuer when a bearer is not a
	// locally signed JWT; nil disables it
	OIDC *auth.OIDCVerifier
}

// IdentityMiddleware turns the bearer credential of a request into an
// auth.Actor. JWTs are tried for anything that does not look like a service
// key, then OIDC ID tokens when an issuer is configured. The request id
// and client IP are filled in from the request itself. The actor is stored under ActorKey and in the request context.
func IdentityMiddleware(cfg IdentityConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := authenticate(c.Request.Context(), c.GetHeader("Authorization"), cfg)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": err.Error()})
			return
		}
		if actor.IsAnonymous() && !cfg.AllowAnonymous {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "authentication required"})
			return
		}

		actor.RequestID = c.GetString(RequestIDKey)
		actor.IPAddress = c.ClientIP()
		if actor.SessionID == "" {
			actor.SessionID = c.GetHeader(SessionHeader)
		}

		c.Set(ActorKey, actor)
		c.Request = c.Request.WithContext(auth.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

func authenticate(ctx context.Context, header string, cfg IdentityConfig) (auth.Actor, error) {
	if header == "" {
		return auth.Actor{}, nil
	}
	credential, err := auth.ExtractBearer(header)
	if err != nil {
		return auth.Actor{}, err
	}

	// Service keys need a bcrypt comparison, so only credentials carrying the
	// key prefix take that path; everything else is treated as a JWT.
	if auth.IsAPIKey(credential) {
		if actor, ok := cfg.Keys.Authenticate(credential); ok {
			return actor, nil
		}
		return auth.Actor{}, errInvalidCredentials
	}

	if claims, err := auth.ValidateJWT(credential); err == nil {
		return claims.Actor(), nil
	}
	if cfg.OIDC != nil {
		if actor, err := cfg.OIDC.Verify(ctx, credential); err == nil {
			return actor, nil
		}
	}
	return auth.Actor{}, errInvalidCredentials
}

// ActorFrom returns the actor of the request, or the anonymous actor when
// IdentityMiddleware did not run
func ActorFrom(c *gin.Context) auth.Actor {
	if v, ok := c.Get(ActorKey); ok {
		if actor, ok := v.(auth.Actor); ok {
			return actor
		}
	}
	return auth.ActorFromContext(c.Request.Context())
}

// RequireElevated refuses callers that are not elevated. Used for the
// cross-register audit and search log listings.
func RequireElevated() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := ActorFrom(c)
		if actor.IsAnonymous() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "authentication required"})
			return
		}
		if !actor.Elevated {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "elevated privileges required"})
			return
		}
		c.Next()
	}
}
