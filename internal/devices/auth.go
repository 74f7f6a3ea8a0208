package devices

import (
	"context"

	"github.com/nugget/city-bridge/internal/mcp"
)

// DefaultAuthCommand launches the auth server from the demo checkout.
var DefaultAuthCommand = []string{"python", "mcp_servers/auth_mcp_server.py"}

// Auth is the client for the authentication server.
type Auth struct {
	*mcp.Client
}

func NewAuth(opts Options) *Auth {
	return &Auth{Client: NewClient("AuthMCP", DefaultAuthCommand, opts)}
}

// GetAuthInfo returns the authenticated user.
func (a *Auth) GetAuthInfo(ctx context.Context) (string, error) {
	return a.CallTool(ctx, "get_auth_info", nil)
}

// GetPermissions returns the user's permissions for city devices and
// systems.
func (a *Auth) GetPermissions(ctx context.Context) (string, error) {
	return a.CallTool(ctx, "get_permissions", nil)
}

func (a *Auth) TestAuthConnection(ctx context.Context) (string, error) {
	return a.CallTool(ctx, "test_auth_connection", nil)
}
