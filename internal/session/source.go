package session

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/opentrusty/tenantscope/internal/identity"
	"github.com/opentrusty/tenantscope/internal/observability/logger"
)

// CookieSource resolves the user of a request from its session cookie.
// It implements identity.SessionSource.
type CookieSource struct {
	service    *Service
	users      identity.UserRepository
	cookieName string
}

// NewCookieSource creates a session source reading cookieName
func NewCookieSource(service *Service, users identity.UserRepository, cookieName string) *CookieSource {
	return &CookieSource{service: service, users: users, cookieName: cookieName}
}

// SessionUser returns the active user of the request's session, or nil when
// the request carries no live session.
func (c *CookieSource) SessionUser(r *http.Request) (*identity.User, error) {
	cookie, err := r.Cookie(c.cookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}

	ctx := r.Context()
	sess, err := c.service.Get(ctx, cookie.Value)
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionExpired) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	user, err := c.users.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active {
		return nil, nil
	}

	if err := c.service.Refresh(ctx, sess.ID); err != nil {
		slog.ErrorContext(ctx, "failed to refresh session", logger.Error(err))
	}
	return user, nil
}

// Terminate destroys the session named by the request's cookie and expires
// the cookie. A request without a session cookie is a no-op.
func (c *CookieSource) Terminate(w http.ResponseWriter, r *http.Request) error {
	cookie, err := r.Cookie(c.cookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	if err := c.service.Destroy(r.Context(), cookie.Value); err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     c.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
