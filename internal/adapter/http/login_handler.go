package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aq2208/gorder-fulfillment/internal/adapter/http/middleware"
	"github.com/aq2208/gorder-fulfillment/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type TokenHandler struct {
	cfg middleware.AuthzConfig
	ttl time.Duration
	now func() time.Time
}

func NewTokenHandler(cfg middleware.AuthzConfig, ttl time.Duration) *TokenHandler {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenHandler{cfg: cfg, ttl: ttl, now: time.Now}
}

type tokenReq struct {
	ClientID     string `form:"client_id" json:"client_id"`
	ClientSecret string `form:"client_secret" json:"client_secret"`
}

// POST /v1/token (form or JSON)
// Accepts: client_id, client_secret
func (h *TokenHandler) IssueToken(c *gin.Context) {
	var req tokenReq
	_ = c.ShouldBind(&req)
	if req.ClientID == "" || req.ClientSecret == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid client"})
		return
	}

	cl, ok := security.Authenticate(req.ClientID, req.ClientSecret)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid client"})
		return
	}

	now := h.now()
	claims := jwt.MapClaims{
		"iss":      h.cfg.Issuer,   // issuer
		"aud":      h.cfg.Audience, // audience
		"iat":      now.Unix(),     // issued at
		"nbf":      now.Unix(),     // not before
		"exp":      now.Add(h.ttl).Unix(),
		"clientID": cl.ID,
		"role":     string(cl.Role),
		"perms":    cl.Perms,
	}
	if cl.Subject > 0 {
		claims["sub"] = strconv.FormatInt(cl.Subject, 10)
	}
	if cl.StoreID > 0 {
		claims["store_id"] = cl.StoreID
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(h.cfg.Secret))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": signed,
		"token_type":   "Bearer",
		"expires_in":   int64(h.ttl / time.Second),
	})
}
