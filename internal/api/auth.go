// Package api implements HTTP handlers and helpers for the route risk service.
package api

import (
	"net/http"
	"strings"
)

type Principal struct {
	Owner string
	Role  string // admin, user
}

// getPrincipal extracts the owner and role from a JWT or dev headers.
// - If Authorization: Bearer is present, uses the configured verifier.
// - Else falls back to headers for dev.
func (s *Server) getPrincipal(r *http.Request) Principal {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		if pr, err := s.Auth.Verify(tok); err == nil {
			return Principal{Owner: pr.Owner, Role: pr.Role}
		}
	}
	owner := r.Header.Get("X-Owner-Id")
	role := r.Header.Get("X-Role")
	if owner == "" {
		owner = "u_demo"
	}
	if role == "" {
		role = "admin"
	}
	return Principal{Owner: owner, Role: role}
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }
