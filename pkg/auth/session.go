package auth

import (
	"crypto/sha256"
	"net/http"

	"github.com/gorilla/sessions"
)

// SessionName is the name of the OAuth session cookie.
const SessionName = "github-oauth-session"

// Session value keys.
const (
	SessionKeyState       = "state"
	SessionKeyUserID      = "user_id"
	SessionKeyOriginalURL = "original_url"
)

// SessionStore holds short-lived GitHub OAuth state between the login redirect and the callback.
type SessionStore struct {
	store *sessions.CookieStore
}

// NewSessionStore creates a cookie-backed store signed with a key derived from secret.
//
// The cookie uses SameSite=Lax: GitHub's redirect back to the callback is a
// cross-site top-level navigation, which Strict cookies would not survive.
// MaxAge is ten minutes, the length of an OAuth round trip.
func NewSessionStore(secret string, cookies CookieSettings) *SessionStore {
	key := sha256.Sum256([]byte(secret))

	store := sessions.NewCookieStore(key[:])
	store.Options = &sessions.Options{
		Path:     "/",
		Domain:   cookies.Domain,
		MaxAge:   600,
		HttpOnly: true,
		Secure:   cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionStore{store: store}
}

// Get retrieves the OAuth session from the request, creating an empty one if absent.
func (s *SessionStore) Get(r *http.Request) (*sessions.Session, error) {
	return s.store.Get(r, SessionName)
}

// Save writes the session cookie to the response.
func (s *SessionStore) Save(r *http.Request, w http.ResponseWriter, session *sessions.Session) error {
	return session.Save(r, w)
}

// ClearSessionValues removes OAuth-related values from the session.
func ClearSessionValues(session *sessions.Session) {
	delete(session.Values, SessionKeyState)
	delete(session.Values, SessionKeyUserID)
	delete(session.Values, SessionKeyOriginalURL)
}
