package toolkit

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/nugget/city-bridge/internal/mcp"
	"github.com/nugget/city-bridge/internal/tools"
)

// sanitizeRe matches characters that are not lowercase alphanumeric or underscore.
var sanitizeRe = regexp.MustCompile(`[^a-z0-9_]`)

// DiscoveredConfig configures a [Discovered] toolkit.
//
// If Include is non-empty only the MCP tools it names are registered.
// Otherwise tools named in Exclude are skipped. Both empty registers
// everything the server lists.
type DiscoveredConfig struct {
	Config
	Include []string
	Exclude []string
}

// Discovered registers whatever tools a server lists, under namespaced
// names, and proxies calls to it unchanged.
type Discovered struct {
	*adapter
	include map[string]bool
	exclude map[string]bool
}

// NewDiscovered wraps client as a discovered-tool toolkit.
func NewDiscovered(client *mcp.Client, cfg DiscoveredConfig) *Discovered {
	return &Discovered{
		adapter: newAdapter(client.Name(), client, cfg.Config),
		include: toSet(cfg.Include),
		exclude: toSet(cfg.Exclude),
	}
}

// Call invokes an MCP tool by its server-side name.
func (d *Discovered) Call(ctx context.Context, tool string, args map[string]any) string {
	return d.call(ctx, tool, "calling "+tool, args)
}

// Register lists the server's tools and adds the selected ones to reg.
// Listing starts the server if it is not running.
func (d *Discovered) Register(ctx context.Context, reg *tools.Registry) (int, error) {
	var defs []mcp.ToolDefinition
	_, err := d.bridge.Run(ctx, func(ctx context.Context) (string, error) {
		var err error
		defs, err = d.client.ListTools(ctx)
		return "", err
	})
	if err != nil {
		return 0, fmt.Errorf("list tools from %s: %w", d.name, err)
	}

	var selected []*tools.Tool
	for _, td := range defs {
		if len(d.include) > 0 {
			if !d.include[td.Name] {
				continue
			}
		} else if d.exclude[td.Name] {
			continue
		}

		name := ToolName(d.name, td.Name)
		selected = append(selected, d.proxy(name, td))
		d.logger.Debug("discovered MCP tool", "mcp_name", td.Name, "name", name)
	}
	return d.register(reg, selected)
}

func (d *Discovered) proxy(name string, td mcp.ToolDefinition) *tools.Tool {
	mcpName := td.Name
	params := td.InputSchema
	if params == nil {
		params = objectSchema(nil)
	}
	return &tools.Tool{
		Name:        name,
		Description: td.Description,
		Parameters:  params,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return d.Call(ctx, mcpName, args), nil
		},
	}
}

// ToolName builds the registry name for a discovered tool. Both parts
// are sanitized to lowercase alphanumerics and underscores.
func ToolName(serverName, mcpToolName string) string {
	return fmt.Sprintf("mcp_%s_%s", sanitize(serverName), sanitize(mcpToolName))
}

// sanitize lowercases name, replaces anything outside [a-z0-9_] with an
// underscore, collapses runs of underscores and trims them from the ends.
func sanitize(name string) string {
	s := strings.ToLower(name)
	s = sanitizeRe.ReplaceAllString(s, "_")
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}
