package httpapi

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

const UserIDKey contextKey = "userId"

// identityHeaders are checked in order; the fronting proxy sets one of them.
var identityHeaders = []string{"X-Auth-User", "X-Forwarded-User", "Remote-User"}

// ExtractUser resolves the caller's identity. devUser, when non-empty, is
// used for requests without an identity header.
func ExtractUser(devUser string, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID string
			for _, h := range identityHeaders {
				if userID = r.Header.Get(h); userID != "" {
					break
				}
			}

			if userID == "" && devUser != "" {
				userID = devUser
				log.Debug("no auth header, using dev user", "user", devUser)
			}

			if userID == "" {
				log.Warn("authentication failed: no user header", "path", r.URL.Path)
				respondError(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetUserID(r *http.Request) string {
	userID, ok := r.Context().Value(UserIDKey).(string)
	if !ok {
		return ""
	}
	return userID
}
