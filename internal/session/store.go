package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/flutter-oauth/flutter/internal/cache"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Settings configure a Store.
type Settings struct {
	// Secret signs the session cookie.
	Secret []byte

	// TTL is the lifetime of both the cookie and the stored data.
	TTL time.Duration

	CookieName   string
	CookieSecure bool

	// KeyPrefix namespaces the stored data.
	KeyPrefix string
}

// Store loads and persists sessions.
type Store struct {
	data     cache.Cache[Data]
	cookies  cookieCodec
	settings Settings
}

func NewStore(data cache.Cache[Data], settings Settings) *Store {
	return &Store{
		data:     data,
		cookies:  cookieCodec{secret: settings.Secret, ttl: settings.TTL},
		settings: settings,
	}
}

// New creates an empty session that is not yet persisted.
func (st *Store) New() *Session {
	return &Session{id: uuid.NewString(), store: st}
}

// Load returns the session identified by the request cookie. A missing,
// invalid or expired cookie, or a cookie naming unknown data, yields a new
// empty session: the boolean result reports whether the session is new.
// Errors are only returned when the store itself fails.
func (st *Store) Load(ctx context.Context, r *http.Request) (*Session, bool, error) {
	cookie, err := r.Cookie(st.settings.CookieName)
	if err != nil {
		return st.New(), true, nil
	}

	id, err := st.cookies.decode(cookie.Value)
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Msg("session cookie rejected")
		return st.New(), true, nil
	}

	data, found, err := st.data.Get(ctx, st.key(id))
	if err != nil {
		return nil, false, fmt.Errorf("session load failed: %w", err)
	}
	if !found {
		// a fresh identifier avoids reviving an expired or destroyed session
		return st.New(), true, nil
	}

	return &Session{id: id, data: data, store: st}, false, nil
}

// Middleware loads the session for each request and makes it available via
// FromContext. New sessions have their cookie issued before the wrapped
// handler runs.
func (st *Store) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			s, isNew, err := st.Load(ctx, r)
			if err != nil {
				log.Ctx(ctx).Error().Err(err).Msg("session unavailable")
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}

			if isNew {
				if err := st.issueCookie(w, s); err != nil {
					log.Ctx(ctx).Error().Err(err).Msg("session cookie could not be issued")
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(ctx, s)))
		})
	}
}

func (st *Store) issueCookie(w http.ResponseWriter, s *Session) error {
	cookie, err := st.cookie(s.id)
	if err != nil {
		return err
	}
	http.SetCookie(w, cookie)
	return nil
}

func (st *Store) cookie(id string) (*http.Cookie, error) {
	value, err := st.cookies.encode(id, time.Now())
	if err != nil {
		return nil, err
	}

	return &http.Cookie{
		Name:     st.settings.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(st.settings.TTL.Seconds()),
		HttpOnly: true,
		Secure:   st.settings.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

func (st *Store) expireCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     st.settings.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   st.settings.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (st *Store) renew(ctx context.Context, w http.ResponseWriter, s *Session) error {
	id := uuid.NewString()

	cookie, err := st.cookie(id)
	if err != nil {
		return fmt.Errorf("session renew failed: %w", err)
	}

	if err := st.data.Set(ctx, st.key(id), s.data); err != nil {
		return fmt.Errorf("session renew failed: %w", err)
	}

	// a failure here leaves the new entry to expire unreferenced
	if err := st.data.Invalidate(ctx, st.key(s.id)); err != nil {
		return fmt.Errorf("session renew failed: %w", err)
	}

	log.Ctx(ctx).Debug().Msg("session renewed")
	s.id = id
	http.SetCookie(w, cookie)
	return nil
}

func (st *Store) save(ctx context.Context, s *Session) error {
	if err := st.data.Set(ctx, st.key(s.id), s.data); err != nil {
		return fmt.Errorf("session save failed: %w", err)
	}
	return nil
}

func (st *Store) destroy(ctx context.Context, s *Session) error {
	if err := st.data.Invalidate(ctx, st.key(s.id)); err != nil {
		return fmt.Errorf("session destroy failed: %w", err)
	}
	return nil
}

func (st *Store) key(id string) string {
	return st.settings.KeyPrefix + "session:" + id
}
