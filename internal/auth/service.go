// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package auth manages dashboard sessions. Users sign in with the external
// identity provider, which hands over a short-lived signed token that is
// exchanged here for a session cookie.
package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
)

const (
	sessionName    = "clipbrd_session"
	handoffName    = "clipbrd_handoff"
	sessionMaxAge  = 7 * 24 * time.Hour
	handoffMaxAge  = 5 * time.Minute
	minSecretBytes = 32
)

var (
	ErrSecretTooShort   = errors.New("session secret must be at least 32 characters")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrInvalidHandoff   = errors.New("invalid or expired login token")
)

// Session is the signed-in dashboard user.
type Session struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

type handoff struct {
	UserID string
	Email  string
}

type Service struct {
	store   *sessions.CookieStore
	handoff *securecookie.SecureCookie
}

// NewService derives the cookie and handoff keys from sessionSecret.
func NewService(sessionSecret string, secureCookies bool) (*Service, error) {
	if len(strings.TrimSpace(sessionSecret)) < minSecretBytes {
		return nil, ErrSecretTooShort
	}

	cookieKey := sha256.Sum256([]byte("clipbrd/session/" + sessionSecret))
	handoffKey := sha256.Sum256([]byte("clipbrd/handoff/" + sessionSecret))

	store := sessions.NewCookieStore(cookieKey[:])
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   secureCookies,
		SameSite: http.SameSiteLaxMode,
	}

	codec := securecookie.New(handoffKey[:], nil)
	codec.MaxAge(int(handoffMaxAge.Seconds()))

	return &Service{
		store:   store,
		handoff: codec,
	}, nil
}

// IssueHandoffToken creates the token the identity provider passes to the
// dashboard after sign-in.
func (s *Service) IssueHandoffToken(userID, email string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrInvalidHandoff
	}
	return s.handoff.Encode(handoffName, handoff{UserID: userID, Email: email})
}

// Login redeems a handoff token and writes the session cookie.
func (s *Service) Login(w http.ResponseWriter, r *http.Request, token string) (*Session, error) {
	var h handoff
	if err := s.handoff.Decode(handoffName, token, &h); err != nil || h.UserID == "" {
		return nil, ErrInvalidHandoff
	}

	session, _ := s.store.Get(r, sessionName)
	session.Values["user_id"] = h.UserID
	session.Values["email"] = h.Email
	session.Values["authenticated"] = true
	if err := session.Save(r, w); err != nil {
		return nil, err
	}

	return &Session{UserID: h.UserID, Email: h.Email}, nil
}

// Logout expires the session cookie.
func (s *Service) Logout(w http.ResponseWriter, r *http.Request) error {
	session, _ := s.store.Get(r, sessionName)
	session.Values = map[any]any{}
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// Current returns the session attached to r.
func (s *Service) Current(r *http.Request) (*Session, error) {
	session, err := s.store.Get(r, sessionName)
	if err != nil {
		return nil, ErrNotAuthenticated
	}

	if ok, _ := session.Values["authenticated"].(bool); !ok {
		return nil, ErrNotAuthenticated
	}

	userID, _ := session.Values["user_id"].(string)
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	email, _ := session.Values["email"].(string)

	return &Session{UserID: userID, Email: email}, nil
}

type contextKey struct{}

func WithSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, session)
}

func SessionFromContext(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(contextKey{}).(*Session)
	return session, ok && session != nil
}
