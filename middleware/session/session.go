package session

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

const HeaderName = "X-Session-Token"

var (
	ErrNotFound = errors.New("session not found")
	ErrExpired  = errors.New("session expired")
	// ErrRequestLimit indica que a sessão passou do teto de requisições e foi removida.
	ErrRequestLimit = errors.New("session request limit exceeded")
)

type Session struct {
	ID    string `json:"id"`
	Token string `json:"-"`

	ClientAddress string `json:"ip"`
	UserAgent     string `json:"userAgent"`

	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivity"`
	ExpiresAt      time.Time `json:"expiresAt"`

	RequestCount int `json:"requestCount"`
}

// Usable indica se a sessão ainda vale em now.
func (s Session) Usable(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// TokenFromRequest lê o token do header, sem espaços.
func TokenFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderName))
}
