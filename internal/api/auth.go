package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/tillerbot/tiller/internal/config"
)

// Role is an authorization level for the HTTP API.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

type credentials struct {
	user string
	pass string
}

func (c credentials) match(user, pass string) bool {
	if c.user == "" || c.pass == "" {
		return false
	}
	return secureCompare(user, c.user) && secureCompare(pass, c.pass)
}

type authConfig struct {
	admin    credentials
	operator credentials
	enabled  bool
}

var auth *authConfig

// InitAuth loads API credentials from TILLER_ADMIN_USER/PASS and
// TILLER_OPERATOR_USER/PASS, honoring the *_FILE secret convention.
// With no admin credentials set, authentication stays disabled and
// every request gets full access.
func InitAuth() error {
	adminUser, err := config.ResolveSecret("TILLER_ADMIN_USER")
	if err != nil {
		return fmt.Errorf("resolve TILLER_ADMIN_USER: %w", err)
	}
	adminPass, err := config.ResolveSecret("TILLER_ADMIN_PASS")
	if err != nil {
		return fmt.Errorf("resolve TILLER_ADMIN_PASS: %w", err)
	}
	operatorUser, err := config.ResolveSecret("TILLER_OPERATOR_USER")
	if err != nil {
		return fmt.Errorf("resolve TILLER_OPERATOR_USER: %w", err)
	}
	operatorPass, err := config.ResolveSecret("TILLER_OPERATOR_PASS")
	if err != nil {
		return fmt.Errorf("resolve TILLER_OPERATOR_PASS: %w", err)
	}

	auth = &authConfig{
		admin:    credentials{user: adminUser, pass: adminPass},
		operator: credentials{user: operatorUser, pass: operatorPass},
		enabled:  adminUser != "" && adminPass != "",
	}
	return nil
}

// IsAuthEnabled reports whether API credentials are configured.
func IsAuthEnabled() bool {
	return auth != nil && auth.enabled
}

// authenticate resolves the request's basic auth credentials to a role.
// Returns the empty string on bad credentials. Disabled auth grants
// admin to everyone.
func authenticate(r *http.Request) Role {
	if auth == nil || !auth.enabled {
		return RoleAdmin
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return ""
	}
	if auth.admin.match(user, pass) {
		return RoleAdmin
	}
	if auth.operator.match(user, pass) {
		return RoleOperator
	}
	return ""
}

// secureCompare is a constant-time string comparison.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="tiller"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// RequireRole wraps a handler so only the listed roles reach it.
func RequireRole(handler http.HandlerFunc, allowed ...Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := authenticate(r)
		if role == "" {
			challenge(w)
			return
		}
		for _, a := range allowed {
			if role == a {
				handler(w, r)
				return
			}
		}
		http.Error(w, "Forbidden", http.StatusForbidden)
	}
}

// RequireAnyRole admits both admin and operator credentials.
func RequireAnyRole(handler http.HandlerFunc) http.HandlerFunc {
	return RequireRole(handler, RoleAdmin, RoleOperator)
}

// RequireAdmin admits admin credentials only.
func RequireAdmin(handler http.HandlerFunc) http.HandlerFunc {
	return RequireRole(handler, RoleAdmin)
}
