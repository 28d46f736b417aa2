package middleware

import (
	"net/http"
	"strings"

	"cafepos/internal/identity"
	"cafepos/internal/logger"
)

// TokenVerifier checks a bearer token and names the operator.
type TokenVerifier interface {
	Verify(token string) (identity.Operator, error)
}

// Authenticator puts the verified operator into the request context.
//
// With a nil verifier every request is anonymous and role checks pass, which
// is how a single-till install without JWT_SECRET runs. With Required set a
// missing token is refused before the handler runs.
type Authenticator struct {
	verifier TokenVerifier
	required bool
}

func NewAuthenticator(verifier TokenVerifier, required bool) *Authenticator {
	return &Authenticator{verifier: verifier, required: required}
}

// Enabled reports whether tokens are verified at all.
func (a *Authenticator) Enabled() bool {
	return a != nil && a.verifier != nil
}

// Authenticate validates an optional (or, when required, mandatory) bearer token.
func (a *Authenticator) Authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			if a.required {
				WriteAPIError(w, r, http.StatusUnauthorized, "missing_token", "Operator token required", nil)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		op, err := a.verifier.Verify(token)
		if err != nil {
			logger.LogWarn("Rejected operator token from %s: %v", logger.GetClientIP(r), err)
			WriteAPIError(w, r, http.StatusUnauthorized, "invalid_token", "Operator token is invalid or expired", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(identity.WithOperator(r.Context(), op)))
	}
}

// RequireRole refuses requests whose operator lacks role. It must run inside
// Authenticate.
func (a *Authenticator) RequireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		op, ok := identity.FromContext(r.Context())
		if !ok {
			WriteAPIError(w, r, http.StatusUnauthorized, "missing_token", "Operator token required", nil)
			return
		}
		if !op.HasRole(role) {
			WriteAPIError(w, r, http.StatusForbidden, "forbidden",
				"Operator is not allowed to do this", map[string]string{"required_role": role})
			return
		}
		next.ServeHTTP(w, r)
	}
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}
