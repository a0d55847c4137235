package session

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestMiddlewareIssuesCookie(t *testing.T) {
	e := echo.New()
	e.Use(Middleware())

	var seen string
	e.GET("/", func(c echo.Context) error {
		seen = IDFromContext(c)
		return c.NoContent(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("handler should see a session id")
	}

	var cookie *http.Cookie
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == CookieName {
			cookie = ck
		}
	}
	if cookie == nil {
		t.Fatal("response must set the session cookie")
	}
	if cookie.Value != seen {
		t.Error("cookie value must match the id the handler saw")
	}
	if !cookie.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Error("session cookie must be SameSite=Lax")
	}
}

func TestMiddlewareReusesCookie(t *testing.T) {
	e := echo.New()
	e.Use(Middleware())

	var seen string
	e.GET("/", func(c echo.Context) error {
		seen = IDFromContext(c)
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "existing-id"})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if seen != "existing-id" {
		t.Errorf("expected existing id to be reused, got %q", seen)
	}
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == CookieName {
			t.Error("no new cookie should be issued when one exists")
		}
	}
}
