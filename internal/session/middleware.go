package session

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// CookieName is the opaque per-browser session identifier cookie.
const CookieName = "sid"

const contextKeySessionID = "session_id"

// Middleware ensures every request carries a session id cookie. The cookie
// only names the store key; all session data stays server-side. Handlers
// read the id via IDFromContext and talk to the Store explicitly.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var id string
			if cookie, err := c.Cookie(CookieName); err == nil && cookie.Value != "" {
				id = cookie.Value
			} else {
				id = uuid.NewString()
				c.SetCookie(&http.Cookie{
					Name:     CookieName,
					Value:    id,
					Path:     "/",
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
			}
			c.Set(contextKeySessionID, id)
			return next(c)
		}
	}
}

// IDFromContext returns the session id set by Middleware.
func IDFromContext(c echo.Context) string {
	id, _ := c.Get(contextKeySessionID).(string)
	return id
}
