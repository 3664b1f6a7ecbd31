package apiclient

import (
	"context"
	"strings"
)

// LoginPath is where a failed renewal sends the user.
const LoginPath = "/login"

// publicPaths are the screens reachable without a session. A failed
// renewal never forces navigation away from one of them, which would loop.
var publicPaths = map[string]struct{}{
	"/login":                {},
	"/login/classic":        {},
	"/login/minimal":        {},
	"/register":             {},
	"/forgot-password":      {},
	"/reset-password":       {},
	"/verify-email":         {},
	"/verification-pending": {},
	"/pricing":              {},
}

// IsPublicPath reports whether path is one of the unauthenticated screens.
// A trailing slash is ignored.
func IsPublicPath(path string) bool {
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	_, ok := publicPaths[path]
	return ok
}

// Navigator is the screen the client is working on behalf of.
type Navigator interface {
	// CurrentPath returns the path of the screen being shown.
	CurrentPath() string
	// Navigate moves the user to path.
	Navigate(path string)
}

type navigatorKey struct{}

// WithNavigator returns a context whose requests report to nav instead of
// the client's default navigator.
func WithNavigator(ctx context.Context, nav Navigator) context.Context {
	return context.WithValue(ctx, navigatorKey{}, nav)
}

func navigatorFrom(ctx context.Context, def Navigator) Navigator {
	if nav, ok := ctx.Value(navigatorKey{}).(Navigator); ok && nav != nil {
		return nav
	}
	return def
}
