package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/vybzcody/paymebro-sub003/internal/models"
)

const principalKey = "principal"

var ErrNoPrincipal = errors.New("token carries no principal id")

// principal id claims, first non-empty wins
var principalClaims = []string{"userId", "id", "sub", "email"}

// ResolvePrincipal parses a HS256 bearer token and normalizes its id claim.
func ResolvePrincipal(tokenStr string, secret []byte) (models.AuthenticatedPrincipal, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return models.AuthenticatedPrincipal{}, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.AuthenticatedPrincipal{}, ErrNoPrincipal
	}
	for _, name := range principalClaims {
		v, ok := claims[name]
		if !ok || v == nil {
			continue
		}
		var id string
		switch val := v.(type) {
		case string:
			id = val
		case float64:
			id = fmt.Sprintf("%.0f", val)
		default:
			id = fmt.Sprint(val)
		}
		if id = strings.TrimSpace(id); id != "" {
			return models.AuthenticatedPrincipal{ID: id}, nil
		}
	}
	return models.AuthenticatedPrincipal{}, ErrNoPrincipal
}

// AuthRequired 解析 Authorization: Bearer <jwt>，将 AuthenticatedPrincipal 写入 context。
// 浏览器 websocket 无法设置 header，因此也接受 ?access_token=
func AuthRequired(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		tokenStr, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok {
			tokenStr = c.Query("access_token")
		}
		if strings.TrimSpace(tokenStr) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing auth"})
			return
		}
		p, err := ResolvePrincipal(strings.TrimSpace(tokenStr), key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// Principal returns the principal set by AuthRequired.
func Principal(c *gin.Context) (models.AuthenticatedPrincipal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return models.AuthenticatedPrincipal{}, false
	}
	p, ok := v.(models.AuthenticatedPrincipal)
	return p, ok
}
