package api

import "github.com/golang-jwt/jwt/v5"

// Заголовки запросов к удалённому хранилищу
const (
	HeaderAuthorization  = "Authorization"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderActorID        = "X-Actor-ID"
	BearerPrefix         = "Bearer "
)

// Claims представляет JWT claims access token.
// Клиент читает их без проверки подписи, сервер проверяет HMAC.
type Claims struct {
	TenantID string `json:"tenant_id"` // организация, к данным которой выдан доступ
	UserID   string `json:"user_id"`   // пользователь (actor)
	jwt.RegisteredClaims
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // описание ошибки
	Message string `json:"message,omitempty"` // дополнительное сообщение
}
