package handlers

import (
	"context"

	"github.com/iudanet/offsync/pkg/api"
)

// contextKey тип для ключей контекста
type contextKey string

const (
	// TenantIDKey ключ для хранения tenant_id в контексте
	TenantIDKey contextKey = "tenant_id"
	// UserIDKey ключ для хранения user_id в контексте
	UserIDKey contextKey = "user_id"
)

// WithClaims кладёт данные проверенного токена в контекст запроса
func WithClaims(ctx context.Context, claims *api.Claims) context.Context {
	ctx = context.WithValue(ctx, TenantIDKey, claims.TenantID)
	return context.WithValue(ctx, UserIDKey, claims.UserID)
}

// GetTenantID извлекает tenant_id из контекста запроса
func GetTenantID(ctx context.Context) (string, bool) {
	tenantID, ok := ctx.Value(TenantIDKey).(string)
	return tenantID, ok
}

// GetUserID извлекает user_id из контекста запроса
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}
