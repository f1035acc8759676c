package handlers

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iudanet/offsync/pkg/api"
)

// DefaultIssuer is the iss claim of tokens minted by the devserver
const DefaultIssuer = "offsync-devserver"

// JWTConfig содержит конфигурацию для JWT
type JWTConfig struct {
	Secret         []byte
	Issuer         string
	AccessTokenTTL time.Duration
}

// GenerateAccessToken создает новый JWT access token для пользователя tenant'а
func GenerateAccessToken(cfg JWTConfig, tenantID, userID string) (string, int64, error) {
	if tenantID == "" || userID == "" {
		return "", 0, errors.New("tenant id and user id are required")
	}

	issuer := cfg.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}

	now := time.Now()
	expiresAt := now.Add(cfg.AccessTokenTTL)

	claims := api.Claims{
		TenantID: tenantID,
		UserID:   userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(cfg.Secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, int64(cfg.AccessTokenTTL.Seconds()), nil
}

// ValidateAccessToken валидирует и парсит JWT access token
func ValidateAccessToken(cfg JWTConfig, tokenString string) (*api.Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &api.Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Проверяем что используется правильный алгоритм подписи
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.Secret, nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*api.Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.TenantID == "" || claims.UserID == "" {
		return nil, fmt.Errorf("token has no tenant_id or user_id claim")
	}

	return claims, nil
}
