package toolkit

import (
	"context"

	"github.com/nugget/city-bridge/internal/devices"
	"github.com/nugget/city-bridge/internal/tools"
)

// Auth is the authentication service toolkit.
type Auth struct {
	*adapter
	auth *devices.Auth
}

// NewAuth wraps an auth client.
func NewAuth(a *devices.Auth, cfg Config) *Auth {
	return &Auth{adapter: newAdapter("auth", a.Client, cfg), auth: a}
}

func (a *Auth) GetAuthInfo(ctx context.Context) string {
	return a.invoke(ctx, "get_auth_info", "getting auth info", nil, a.auth.GetAuthInfo)
}

func (a *Auth) GetPermissions(ctx context.Context) string {
	return a.invoke(ctx, "get_permissions", "getting permissions", nil, a.auth.GetPermissions)
}

func (a *Auth) TestAuthConnection(ctx context.Context) string {
	return a.invoke(ctx, "test_auth_connection", "testing auth connection", nil, a.auth.TestAuthConnection)
}

// Register adds the auth tools to reg.
func (a *Auth) Register(_ context.Context, reg *tools.Registry) (int, error) {
	return a.register(reg, []*tools.Tool{
		{
			Name:        "get_auth_info",
			Description: "Get information about the currently authenticated user.",
			Parameters:  objectSchema(nil),
			Handler:     noArgs(a.GetAuthInfo),
		},
		{
			Name:        "get_permissions",
			Description: "Get the current user's read and write permissions for city devices and systems.",
			Parameters:  objectSchema(nil),
			Handler:     noArgs(a.GetPermissions),
		},
		{
			Name:        "test_auth_connection",
			Description: "Test the connection to the authentication service.",
			Parameters:  objectSchema(nil),
			Handler:     noArgs(a.TestAuthConnection),
		},
	})
}
