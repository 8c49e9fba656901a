package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"isolend/observability/logging"
	"isolend/services/lendingd/config"
)

// CallerHeader optionally names the account a request acts for. When present
// it must match the account bound to the presented token.
const CallerHeader = "X-Caller"

type callerContextKey struct{}

// Authenticator resolves bearer tokens to the caller account they are bound
// to.
type Authenticator struct {
	bindings []config.TokenBinding
	logger   *slog.Logger
}

// NewAuthenticator builds an authenticator from the configured token set.
func NewAuthenticator(cfg config.AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	bindings := make([]config.TokenBinding, 0, len(cfg.Tokens))
	for _, binding := range cfg.Tokens {
		token := strings.TrimSpace(binding.Token)
		if token == "" {
			continue
		}
		bindings = append(bindings, config.TokenBinding{Token: token, Caller: strings.TrimSpace(binding.Caller)})
	}
	return &Authenticator{bindings: bindings, logger: logger}
}

// Middleware rejects requests without a valid token and installs the bound
// caller in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a == nil || len(a.bindings) == 0 {
			writeError(w, http.StatusForbidden, "auth_unconfigured", "authentication is not configured")
			return
		}
		token := parseBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
			return
		}
		caller, ok := a.lookup(token)
		if !ok {
			a.logger.Warn("rejected api token", logging.MaskFields(
				"token", token,
				"remote", r.RemoteAddr,
				"path", r.URL.Path)...)
			writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid token")
			return
		}
		if claimed := strings.TrimSpace(r.Header.Get(CallerHeader)); claimed != "" && claimed != caller {
			a.logger.Warn("caller mismatch", logging.MaskFields(
				"caller", caller,
				"claimed", claimed,
				"path", r.URL.Path)...)
			writeError(w, http.StatusForbidden, "caller_mismatch", "token is not bound to "+claimed)
			return
		}
		next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
	})
}

func (a *Authenticator) lookup(token string) (string, bool) {
	var caller string
	found := false
	for _, binding := range a.bindings {
		if subtle.ConstantTimeCompare([]byte(binding.Token), []byte(token)) == 1 {
			caller = binding.Caller
			found = true
		}
	}
	return caller, found
}

func withCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext returns the authenticated caller installed by the
// authenticator.
func CallerFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	caller, ok := ctx.Value(callerContextKey{}).(string)
	return caller, ok && caller != ""
}

func parseBearerToken(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(strings.TrimSpace(parts[0]), "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
