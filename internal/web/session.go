// Package web provides the HTTP server, handlers and page rendering.
package web

import (
	"net/http"

	"github.com/justestif/spotify-xray/internal/store"
)

// SessionCookieName is the cookie carrying the opaque session id.
const SessionCookieName = "SESSIONID"

// sessionIDFromRequest returns the session id from the request cookie, or "".
func sessionIDFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// setSessionCookie sets the session cookie on the response. It lives as long
// as the refresh token.
func setSessionCookie(w http.ResponseWriter, sessionID string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(store.RefreshTokenTTL.Seconds()),
	})
}

// clearSessionCookie removes the session cookie from the response.
func clearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
