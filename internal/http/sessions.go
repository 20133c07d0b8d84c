package http

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"participation/internal/cache"
	"participation/internal/core"
	"participation/internal/services"
)

const sessionCookie = "participation_session"

var errSessionExpired = errors.New("session expired")

// sessionEntry is one open editor. mu serializes requests on the same
// session since core.EditorSession is not safe for concurrent use.
type sessionEntry struct {
	mu       sync.Mutex
	session  *core.EditorSession
	warnings []services.Warning
}

// sessionStore keeps editor sessions server-side, keyed by a random cookie
// value. Entries idle for longer than the TTL are dropped.
type sessionStore struct {
	entries *cache.LRUCache[*sessionEntry]
}

func newSessionStore(maxSessions int, ttl time.Duration, now func() time.Time) *sessionStore {
	return &sessionStore{
		entries: cache.NewLRUCache(maxSessions, ttl,
			cache.WithSlidingExpiry[*sessionEntry](),
			cache.WithClock[*sessionEntry](now)),
	}
}

func (s *sessionStore) create(session *core.EditorSession, warnings []services.Warning) string {
	id := uuid.NewString()
	s.entries.Set(id, &sessionEntry{session: session, warnings: warnings})
	return id
}

// lookup returns the entry named by the request cookie.
func (s *sessionStore) lookup(r *http.Request) (string, *sessionEntry, error) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return "", nil, errSessionExpired
	}
	entry, ok := s.entries.Get(c.Value)
	if !ok {
		return "", nil, errSessionExpired
	}
	return c.Value, entry, nil
}

func (s *sessionStore) discard(id string) {
	if id != "" {
		s.entries.Delete(id)
	}
}

func (s *sessionStore) size() int {
	return s.entries.Size()
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, id string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}
