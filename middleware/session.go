package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const DefaultSessionCookie = "kimg_panel_session"

type ctxKeySessionID struct{}

// Session pins every browser to one preview session through a cookie.
// Missing or malformed cookies get a fresh uuid.
func Session(cookieName string, secure bool) func(http.Handler) http.Handler {
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id string
			if c, err := r.Cookie(cookieName); err == nil {
				if parsed, err := uuid.Parse(c.Value); err == nil {
					id = parsed.String()
				}
			}
			if id == "" {
				id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     cookieName,
					Value:    id,
					Path:     "/",
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), id)))
		})
	}
}

func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeySessionID{}, id)
}

func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKeySessionID{}).(string); ok {
		return id
	}
	return ""
}
