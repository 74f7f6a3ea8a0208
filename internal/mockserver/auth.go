package mockserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// errUnauthorized is returned by auth tools when no API key was supplied.
var errUnauthorized = errors.New("Unauthorized")

type devicePermission struct {
	Device string
	Label  string
	Read   bool
	Write  bool
}

type auth struct {
	apiKey      string
	userID      string
	username    string
	email       string
	createdAt   time.Time
	permissions []devicePermission
}

func newAuth(apiKey string) *auth {
	return &auth{
		apiKey:    apiKey,
		userID:    "admin",
		username:  "admin",
		email:     "admin@city.local",
		createdAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		permissions: []devicePermission{
			{Device: "epalette", Label: "🚌 ePalette", Read: true, Write: true},
			{Device: "vending_machine", Label: "🏪 Vending machine", Read: true, Write: true},
			{Device: "city_database", Label: "🗄️ City database", Read: true, Write: false},
		},
	}
}

func (a *auth) tools() []Tool {
	return []Tool{
		{
			Definition: def("get_auth_info", "Get current authenticated user information", schema(nil)),
			Handler:    a.authInfo,
		},
		{
			Definition: def("get_permissions", "Get current user's permissions for city devices and systems", schema(nil)),
			Handler:    a.getPermissions,
		},
		{
			Definition: def("test_auth_connection", "Test connection to authentication service", schema(nil)),
			Handler:    a.testConnection,
		},
	}
}

func (a *auth) authenticated() bool { return a.apiKey != "" }

func (a *auth) authInfo(context.Context, map[string]any) (string, error) {
	if !a.authenticated() {
		return "", errUnauthorized
	}
	lines := []string{
		"👤 **Authentication Info:**\n",
		"✅ **Status:** authenticated",
		"🆔 **User ID:** " + a.userID,
		"👤 **Username:** " + a.username,
		"📧 **Email:** " + a.email,
		"📅 **Created:** " + a.createdAt.Format(time.RFC3339),
		"🔑 **API key:** present",
		"🔒 **Active:** yes",
	}
	return strings.Join(lines, "\n"), nil
}

func (a *auth) getPermissions(context.Context, map[string]any) (string, error) {
	if !a.authenticated() {
		return "", errUnauthorized
	}
	var b strings.Builder
	b.WriteString("🔐 **Permissions:**\n\n")
	for _, p := range a.permissions {
		fmt.Fprintf(&b, "%s:\n", p.Label)
		fmt.Fprintf(&b, "  📖 **Read:** %s\n", mark(p.Read))
		fmt.Fprintf(&b, "  ✏️ **Write:** %s\n\n", mark(p.Write))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (a *auth) testConnection(context.Context, map[string]any) (string, error) {
	if !a.authenticated() {
		return "⚠️ **Auth service connection:** OK\n❌ **Status:** not authenticated (HTTP 401)", nil
	}
	return "✅ **Auth service connection:** OK\n✅ **Status:** authenticated", nil
}

func mark(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}
