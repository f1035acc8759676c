package auth

import "errors"

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrTokenExpired     = errors.New("access token expired")
	ErrInvalidToken     = errors.New("invalid access token")
)
