package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/payper/payper-api/pkg/ratelimit"
	"github.com/payper/payper-api/pkg/response"
)

// RateLimit gates requests against the given policy before any credential
// lookup or external call happens. The identifier combines client IP with the
// store_id query parameter when present, so one store cannot exhaust the
// window of another behind the same proxy.
func RateLimit(limiter *ratelimit.Limiter, policy ratelimit.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := c.ClientIP()
		if storeID := c.Query("store_id"); storeID != "" {
			identifier = identifier + ":" + storeID
		}

		result := limiter.Check(identifier, policy)
		if result.Limited {
			response.TooManyRequests(c, policy.Max, result.Remaining, result.ResetAt)
			c.Abort()
			return
		}

		c.Next()
	}
}

// JWTAuth validates bearer tokens on store-facing endpoints and exposes the
// claims on the request context
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearerToken := strings.Split(c.GetHeader("Authorization"), " ")
		if len(bearerToken) != 2 {
			response.Unauthorized(c, "Invalid authorization header")
			c.Abort()
			return
		}

		tokenString := bearerToken[1]
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		})

		if err != nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !token.Valid {
			response.Unauthorized(c, "Invalid token claims")
			c.Abort()
			return
		}

		requiredClaims := []string{"store_id", "exp"}
		for _, claim := range requiredClaims {
			if _, exists := claims[claim]; !exists {
				response.Unauthorized(c, fmt.Sprintf("Missing required claim: %s", claim))
				c.Abort()
				return
			}
		}

		c.Set("claims", claims)
		if storeID, ok := claims["store_id"].(string); ok {
			c.Set("storeID", storeID)
		}

		c.Next()
	}
}

// InternalAuth protects operator-only endpoints such as forced token refresh
// and delivery confirmation. Same bearer scheme as the public API; in
// production these routes additionally sit behind the internal network.
func InternalAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		storeID, err := validateAndExtractToken(c, secret)
		if err != nil {
			return
		}

		c.Set("storeID", storeID)
		c.Next()
	}
}

func validateAndExtractToken(c *gin.Context, secret string) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		response.Unauthorized(c, "Authorization header required")
		c.Abort()
		return "", fmt.Errorf("authorization header required")
	}

	bearerToken := strings.Split(authHeader, " ")
	if len(bearerToken) != 2 || strings.ToLower(bearerToken[0]) != "bearer" {
		response.Unauthorized(c, "Invalid authorization header format")
		c.Abort()
		return "", fmt.Errorf("invalid authorization header format")
	}

	tokenString := bearerToken[1]
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})

	if err != nil {
		response.Unauthorized(c, "Invalid token")
		c.Abort()
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		response.Unauthorized(c, "Invalid token claims")
		c.Abort()
		return "", fmt.Errorf("invalid token claims")
	}

	storeID, ok := claims["store_id"].(string)
	if !ok {
		response.Unauthorized(c, "Invalid store ID in token")
		c.Abort()
		return "", fmt.Errorf("invalid store ID in token")
	}

	return storeID, nil
}
