package identity

import (
	"fmt"
	"strings"

	"github.com/abduss/bitbeats/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const userContextKey = "bitbeatsUser"

// Resolver extracts the caller's user id. Authentication happens upstream;
// the resolver only reads the identity the gateway forwarded.
type Resolver struct {
	header string
	secret []byte
	parser *jwt.Parser
}

// NewResolver builds a resolver. Bearer tokens are honoured only when a secret is configured.
func NewResolver(cfg config.IdentityConfig) *Resolver {
	header := cfg.Header
	if header == "" {
		header = "X-User-ID"
	}
	r := &Resolver{header: header}
	if cfg.TokenSecret != "" {
		r.secret = []byte(cfg.TokenSecret)
		r.parser = jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
			jwt.WithExpirationRequired(),
		)
	}
	return r
}

// Middleware stores the resolved user id in the gin context. Requests without
// an identity pass through; a forged or malformed identity is rejected.
func (r *Resolver) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := r.Resolve(c)
		switch err {
		case nil:
			c.Set(userContextKey, id)
		case ErrMissingIdentity:
		default:
			c.AbortWithStatusJSON(401, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// Resolve reads the bearer token first, then the identity header.
func (r *Resolver) Resolve(c *gin.Context) (uuid.UUID, error) {
	if r.parser != nil {
		if token := extractBearerToken(c.GetHeader("Authorization")); token != "" {
			return r.subjectFromToken(token)
		}
	}
	if raw := strings.TrimSpace(c.GetHeader(r.header)); raw != "" {
		return Parse(raw)
	}
	return uuid.Nil, ErrMissingIdentity
}

func (r *Resolver) subjectFromToken(tokenString string) (uuid.UUID, error) {
	parsed, err := r.parser.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, ErrInvalidIdentity
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return uuid.Nil, ErrInvalidIdentity
	}
	return Parse(sub)
}

// Parse validates a raw user id.
func Parse(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, ErrInvalidIdentity
	}
	return id, nil
}

// RequireUser returns the user id stored by Middleware.
func RequireUser(c *gin.Context) (uuid.UUID, bool) {
	value, exists := c.Get(userContextKey)
	if !exists {
		return uuid.Nil, false
	}
	id, ok := value.(uuid.UUID)
	return id, ok && id != uuid.Nil
}

func extractBearerToken(header string) string {
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
