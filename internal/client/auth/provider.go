// Package auth supplies the tenant and actor of the current session.
package auth

import (
	"context"
	"time"
)

//go:generate moq -out provider_mock.go . Provider

// Session identifies who is acting and on whose data.
type Session struct {
	ExpiresAt *time.Time // nil если токен бессрочный
	TenantID  string
	ActorID   string
}

// Provider resolves the current session. It returns ErrNotAuthenticated
// when no session is available.
type Provider interface {
	Session(ctx context.Context) (Session, error)
}

// Static always returns the same session. Used by tests and embedding
// applications that manage identity themselves.
type Static struct {
	TenantID string
	ActorID  string
}

var _ Provider = Static{}

func (s Static) Session(context.Context) (Session, error) {
	if s.TenantID == "" || s.ActorID == "" {
		return Session{}, ErrNotAuthenticated
	}
	return Session{TenantID: s.TenantID, ActorID: s.ActorID}, nil
}
