package toolkit

import (
	"context"

	"github.com/nugget/city-bridge/internal/devices"
	"github.com/nugget/city-bridge/internal/tools"
)

// CityDB is the city database toolkit.
type CityDB struct {
	*adapter
	db *devices.CityDatabase
}

// NewCityDB wraps a city database client.
func NewCityDB(db *devices.CityDatabase, cfg Config) *CityDB {
	return &CityDB{adapter: newAdapter("city_database", db.Client, cfg), db: db}
}

func (c *CityDB) ExecuteSQL(ctx context.Context, query string) string {
	args := map[string]any{"query": query}
	return c.invoke(ctx, "execute_sql", "executing SQL", args, func(ctx context.Context) (string, error) {
		return c.db.ExecuteSQL(ctx, query)
	})
}

func (c *CityDB) GetTableInfo(ctx context.Context) string {
	return c.invoke(ctx, "get_table_info", "getting table info", nil, c.db.GetTableInfo)
}

// GetSampleData returns up to limit rows of table. A limit of zero or
// less uses the server default.
func (c *CityDB) GetSampleData(ctx context.Context, table string, limit int) string {
	args := map[string]any{"table": table}
	if limit > 0 {
		args["limit"] = limit
	}
	return c.invoke(ctx, "get_sample_data", "getting sample data", args, func(ctx context.Context) (string, error) {
		return c.db.GetSampleData(ctx, table, limit)
	})
}

func (c *CityDB) TestConnection(ctx context.Context) string {
	return c.invoke(ctx, "test_connection", "testing connection", nil, c.db.TestConnection)
}

// Register adds the city database tools to reg.
func (c *CityDB) Register(_ context.Context, reg *tools.Registry) (int, error) {
	return c.register(reg, []*tools.Tool{
		{
			Name:        "execute_sql",
			Description: "Execute a SQL query on the city database (tables: residents, tenant, traffic).",
			Parameters: objectSchema(map[string]any{
				"query": map[string]any{"type": "string", "description": "SQL query to execute"},
			}, "query"),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				q, err := requiredString(args, "query")
				if err != nil {
					return c.reject(ctx, "execute_sql", "executing SQL", args, err), nil
				}
				return c.ExecuteSQL(ctx, q), nil
			},
		},
		{
			Name:        "get_table_info",
			Description: "Get information about all tables in the city database.",
			Parameters:  objectSchema(nil),
			Handler:     noArgs(c.GetTableInfo),
		},
		{
			Name:        "get_sample_data",
			Description: "Get sample rows from a city database table.",
			Parameters: objectSchema(map[string]any{
				"table": map[string]any{"type": "string", "description": "Table name to get sample data from"},
				"limit": map[string]any{"type": "integer", "description": "Number of rows to return (default: 10)", "default": devices.DefaultSampleLimit},
			}, "table"),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				table, err := requiredString(args, "table")
				if err != nil {
					return c.reject(ctx, "get_sample_data", "getting sample data", args, err), nil
				}
				limit, err := optionalInt(args, "limit")
				if err != nil {
					return c.reject(ctx, "get_sample_data", "getting sample data", args, err), nil
				}
				n := 0
				if limit != nil {
					n = *limit
				}
				return c.GetSampleData(ctx, table, n), nil
			},
		},
		{
			Name:        "test_connection",
			Description: "Test the connection to the city database.",
			Parameters:  objectSchema(nil),
			Handler:     noArgs(c.TestConnection),
		},
	})
}
