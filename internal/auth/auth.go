package auth

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/payper/payper-api/pkg/response"
)

var (
	ErrInvalidCredentials = errors.New("invalid API credentials")
	ErrTokenGeneration    = errors.New("failed to generate token")
)

// Credentials represents store API authentication credentials
type Credentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// TokenResponse represents the JWT token response
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	Expiration time.Time `json:"expiration"`
}

// Claims represents the JWT claims structure
type Claims struct {
	jwt.RegisteredClaims
	StoreID     string   `json:"store_id"`
	Permissions []string `json:"permissions"`
}

type apiCredential struct {
	secret  string
	storeID string
}

// Service handles authentication for store-facing endpoints
type Service struct {
	jwtSecret      []byte
	apiCredentials map[string]apiCredential // map[APIKey]
}

// NewService creates a new authentication service with the given JWT secret
func NewService(jwtSecret string) *Service {
	return &Service{
		jwtSecret:      []byte(jwtSecret),
		apiCredentials: make(map[string]apiCredential),
	}
}

// GenerateToken generates a JWT for valid API credentials. The token carries
// the store ID so downstream handlers can scope queries to the tenant.
func (s *Service) GenerateToken(creds Credentials) (*TokenResponse, error) {
	cred, ok := s.apiCredentials[creds.APIKey]
	if !ok || cred.secret != creds.APISecret {
		return nil, ErrInvalidCredentials
	}

	expiration := time.Now().Add(24 * time.Hour)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
		StoreID:     cred.storeID,
		Permissions: []string{"payments"},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{
		Token:      tokenString,
		Expiration: expiration,
	}, nil
}

// ValidateToken validates a JWT token and returns the claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// RegisterAPICredentials registers API credentials for a store
func (s *Service) RegisterAPICredentials(apiKey, apiSecret, storeID string) {
	s.apiCredentials[apiKey] = apiCredential{secret: apiSecret, storeID: storeID}
}

// GinHandlers contains HTTP handlers for authentication endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for authentication endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GenerateTokenHandler handles POST requests to generate JWT tokens
func (h *GinHandlers) GenerateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.GenerateToken(creds)
		if errors.Is(err, ErrInvalidCredentials) {
			response.Unauthorized(c, err.Error())
			return
		}
		response.Handle(c, token, err)
	}
}

// GetStoreID extracts the store ID from JWT claims stored on the gin context
func GetStoreID(claims interface{}) string {
	if jwtClaims, ok := claims.(jwt.MapClaims); ok {
		if storeID, ok := jwtClaims["store_id"].(string); ok {
			return storeID
		}
	}
	return ""
}
