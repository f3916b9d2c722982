package session

import "strings"

const (
	LoginRoute = "/login"
	AdminRoute = "/admin"
)

// IsAdminRoute reports whether path is /admin or below it.
func IsAdminRoute(path string) bool {
	return path == AdminRoute || strings.HasPrefix(path, AdminRoute+"/")
}

// Guard maps a requested route to the route allowed in state: anonymous
// viewers are sent from the admin area to the login view, and
// authenticated ones from the login view to the admin root. While the
// state is Unknown nothing is redirected.
func Guard(state State, path string) string {
	switch {
	case state == Anonymous && IsAdminRoute(path):
		return LoginRoute
	case state == Authenticated && path == LoginRoute:
		return AdminRoute
	default:
		return path
	}
}
