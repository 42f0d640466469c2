package rbac

import (
	"net/http"
	"strconv"
	"strings"

	"log/slog"

	"github.com/marcoraddatz/entrust/internal/shared"
)

// PrincipalHeader is the default header carrying the authenticated
// principal's id, set by the upstream identity layer.
const PrincipalHeader = "X-Authz-User"

// PrincipalFunc extracts the current principal from a request.
type PrincipalFunc func(*http.Request) (int64, bool)

// HeaderPrincipal extracts the principal id from the given header.
func HeaderPrincipal(header string) PrincipalFunc {
	if header == "" {
		header = PrincipalHeader
	}
	return func(r *http.Request) (int64, bool) {
		raw := strings.TrimSpace(r.Header.Get(header))
		if raw == "" {
			return 0, false
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, false
		}
		return id, true
	}
}

// Middleware wires authorization helpers for HTTP handlers of co-located
// services. Absent roles or permissions deny with 403; only evaluation
// failures produce 500.
type Middleware struct {
	Service   *Service
	Logger    *slog.Logger
	Principal PrincipalFunc
}

// RequireRole ensures the current user holds at least one of the named
// roles. Matching is exact and case-sensitive.
func (m Middleware) RequireRole(names ...string) func(http.Handler) http.Handler {
	return m.require(func(r *http.Request, userID int64) (bool, error) {
		return m.Service.HasRole(r.Context(), userID, names, false)
	})
}

// RequirePermission ensures the current user holds at least one of the
// named permissions under wildcard matching.
func (m Middleware) RequirePermission(names ...string) func(http.Handler) http.Handler {
	return m.require(func(r *http.Request, userID int64) (bool, error) {
		return m.Service.Can(r.Context(), userID, names, false)
	})
}

// RequireAbility ensures the combined role/permission query grants.
func (m Middleware) RequireAbility(roles, permissions []string, validateAll bool) func(http.Handler) http.Handler {
	return m.require(func(r *http.Request, userID int64) (bool, error) {
		res, err := m.Service.Ability(r.Context(), userID, roles, permissions, AbilityOptions{ValidateAll: validateAll})
		if err != nil {
			return false, err
		}
		return res.Allowed(), nil
	})
}

func (m Middleware) require(check func(*http.Request, int64) (bool, error)) func(http.Handler) http.Handler {
	principal := m.Principal
	if principal == nil {
		principal = HeaderPrincipal(PrincipalHeader)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := principal(r)
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			granted, err := check(r, userID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("authorization check", slog.Int64("user", userID), slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if !granted {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), userID)))
		})
	}
}
