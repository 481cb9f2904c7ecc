package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const actorKey = "actor"

type AuthzConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

type Authz struct {
	cfg AuthzConfig
}

func NewAuthz(cfg AuthzConfig) *Authz {
	return &Authz{cfg: cfg}
}

// Require checks the JWT, ensures all required permissions are present and
// stores the caller's domain.Actor in the gin context.
func (a *Authz) Require(requiredPerms ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			unauth(c, "invalid_request", "missing bearer token")
			return
		}

		raw := strings.TrimPrefix(auth, "Bearer ")
		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(a.cfg.Secret), nil
		},
			jwt.WithLeeway(30*time.Second), // small clock skew
			jwt.WithIssuer(a.cfg.Issuer),
			jwt.WithAudience(a.cfg.Audience),
			jwt.WithExpirationRequired(),
		)
		if err != nil || !token.Valid {
			unauth(c, "invalid_token", "invalid jwt")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			unauth(c, "invalid_token", "claims parsing error")
			return
		}

		actor, ok := extractActor(claims)
		if !ok {
			unauth(c, "invalid_token", "missing subject or role")
			return
		}

		perms := extractPerms(claims)
		if !hasAll(perms, requiredPerms) {
			forbidden(c, "insufficient_scope", "missing required permissions")
			return
		}

		c.Set(actorKey, actor)
		c.Next()
	}
}

// ActorFrom returns the actor stored by Require.
func ActorFrom(c *gin.Context) (domain.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return domain.Actor{}, false
	}
	a, ok := v.(domain.Actor)
	return a, ok
}

func extractActor(claims jwt.MapClaims) (domain.Actor, bool) {
	role, _ := claims["role"].(string)
	var a domain.Actor
	switch r := domain.Role(role); r {
	case domain.RoleCustomer, domain.RoleStoreAdmin, domain.RoleSuperAdmin, domain.RoleSystem:
		a.Role = r
	default:
		return domain.Actor{}, false
	}
	if sub, _ := claims["sub"].(string); sub != "" {
		id, err := strconv.ParseInt(sub, 10, 64)
		if err != nil {
			return domain.Actor{}, false
		}
		a.ID = id
	}
	if f, ok := claims["store_id"].(float64); ok {
		a.StoreID = int64(f)
	}
	switch a.Role {
	case domain.RoleCustomer:
		return a, a.ID > 0
	case domain.RoleStoreAdmin:
		return a, a.ID > 0 && a.StoreID > 0
	}
	return a, true
}

func extractPerms(claims jwt.MapClaims) map[string]struct{} {
	out := map[string]struct{}{}
	if arr, ok := claims["perms"].([]any); ok {
		for _, v := range arr {
			if s, ok := v.(string); ok && s != "" {
				out[s] = struct{}{}
			}
		}
	}
	return out
}

func hasAll(have map[string]struct{}, req []string) bool {
	for _, r := range req {
		if _, ok := have[r]; !ok {
			return false
		}
	}
	return true
}

func unauth(c *gin.Context, code, desc string) {
	c.Header("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+desc+`"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": code, "error_description": desc})
}

func forbidden(c *gin.Context, code, desc string) {
	c.Header("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+desc+`"`)
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": code, "error_description": desc})
}
