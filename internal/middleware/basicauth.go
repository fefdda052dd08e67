package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// CredentialVerifier checks a username and password pair.
type CredentialVerifier interface {
	Verify(username, password string) bool
}

// BasicAuthConfig configures the BasicAuth middleware.
type BasicAuthConfig struct {
	Verifier CredentialVerifier
	Realm    string
	// Exempt paths bypass authentication. An entry ending in "/*" matches
	// every path under that prefix; anything else must match exactly.
	Exempt []string
	Logger *slog.Logger
}

const unauthorizedBody = `{"ok":false,"error":"authentication required","code":"UNAUTHORIZED"}` + "\n"

// BasicAuth requires HTTP basic credentials on every non-exempt path.
func BasicAuth(cfg BasicAuthConfig) func(http.Handler) http.Handler {
	realm := cfg.Realm
	if realm == "" {
		realm = "Restricted"
	}
	challenge := fmt.Sprintf(`Basic realm=%q, charset="UTF-8"`, realm)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExempt(r.URL.Path, cfg.Exempt) {
				next.ServeHTTP(w, r)
				return
			}

			user, pass, ok := r.BasicAuth()
			if ok && cfg.Verifier.Verify(user, pass) {
				next.ServeHTTP(w, r)
				return
			}

			if ok {
				logger.Warn("basic auth rejected",
					slog.String("request_id", GetRequestID(r.Context())),
					slog.String("path", r.URL.Path),
				)
			}
			w.Header().Set("WWW-Authenticate", challenge)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(unauthorizedBody))
		})
	}
}

func isExempt(path string, exempt []string) bool {
	for _, e := range exempt {
		if prefix, ok := strings.CutSuffix(e, "/*"); ok {
			if path == prefix || strings.HasPrefix(path, prefix+"/") {
				return true
			}
			continue
		}
		if path == e {
			return true
		}
	}
	return false
}
