package devices

import (
	"context"

	"github.com/nugget/city-bridge/internal/mcp"
)

// DefaultCityDBCommand launches the city database server from the demo
// checkout.
var DefaultCityDBCommand = []string{"python", "mcp_servers/city_database_client_mcp_server.py"}

// DefaultSampleLimit is the row count get_sample_data uses when the
// caller gives none.
const DefaultSampleLimit = 10

// CityDatabase is the client for the city database server.
type CityDatabase struct {
	*mcp.Client
}

// NewCityDatabase creates a city database client.
func NewCityDatabase(opts Options) *CityDatabase {
	return &CityDatabase{Client: NewClient("CityDatabaseClientMCP", DefaultCityDBCommand, opts)}
}

// ExecuteSQL runs query against the city database.
func (d *CityDatabase) ExecuteSQL(ctx context.Context, query string) (string, error) {
	return d.CallTool(ctx, "execute_sql", map[string]any{"query": query})
}

// GetTableInfo describes every table in the database.
func (d *CityDatabase) GetTableInfo(ctx context.Context) (string, error) {
	return d.CallTool(ctx, "get_table_info", nil)
}

// GetSampleData returns up to limit rows of table. A limit of zero or
// less is left out so the server applies its default.
func (d *CityDatabase) GetSampleData(ctx context.Context, table string, limit int) (string, error) {
	args := map[string]any{"table": table}
	if limit > 0 {
		args["limit"] = limit
	}
	return d.CallTool(ctx, "get_sample_data", args)
}

// TestConnection checks that the server can reach its database.
func (d *CityDatabase) TestConnection(ctx context.Context) (string, error) {
	return d.CallTool(ctx, "test_connection", nil)
}
