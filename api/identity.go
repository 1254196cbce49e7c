package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/raushankrgupta/photo-restorer/utils"
)

// SessionCookieName carries the signed browser session token.
const SessionCookieName = "restorer_session"

type contextKey int

const sessionIDKey contextKey = iota

// SessionIDFromContext returns the browser session id set by Identity.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// Identity assigns every browser an anonymous session id held in a signed
// cookie. A missing, expired or forged cookie starts a new session.
func Identity(secret []byte, ttl time.Duration, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c, err := r.Cookie(SessionCookieName); err == nil {
				if id, err := utils.ValidateToken(c.Value, secret); err == nil {
					next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionIDKey, id)))
					return
				}
			}

			id := uuid.NewString()
			token, err := utils.GenerateToken(id, secret, ttl)
			if err != nil {
				utils.Logger.Error("Failed to sign session token", zap.Error(err))
				utils.RespondError(w, nil, "Failed to start session", http.StatusInternalServerError)
				return
			}
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookieName,
				Value:    token,
				Path:     "/",
				MaxAge:   int(ttl.Seconds()),
				HttpOnly: true,
				Secure:   secure,
				SameSite: http.SameSiteLaxMode,
			})
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionIDKey, id)))
		})
	}
}
