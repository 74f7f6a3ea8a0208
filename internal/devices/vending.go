package devices

import (
	"context"

	"github.com/nugget/city-bridge/internal/mcp"
)

// DefaultVendingCommand launches the vending machine server from the
// demo checkout.
var DefaultVendingCommand = []string{"python", "mcp_servers/vending_machine_mcp.py"}

// VendingMachine is the client for the vending machine server.
type VendingMachine struct {
	*mcp.Client
}

// NewVendingMachine creates a vending machine client. The server starts
// on the first call.
func NewVendingMachine(opts Options) *VendingMachine {
	return &VendingMachine{Client: NewClient("VendingMachineMCP", DefaultVendingCommand, opts)}
}

// GetProducts lists all products with their prices and categories.
func (v *VendingMachine) GetProducts(ctx context.Context) (string, error) {
	return v.CallTool(ctx, "get_products", nil)
}

// GetInventory reports stock levels, including low stock alerts.
func (v *VendingMachine) GetInventory(ctx context.Context) (string, error) {
	return v.CallTool(ctx, "get_inventory", nil)
}

// GetSalesData reports daily statistics and recent sales.
func (v *VendingMachine) GetSalesData(ctx context.Context) (string, error) {
	return v.CallTool(ctx, "get_sales_data", nil)
}

// MakePurchase buys quantity items of productID.
func (v *VendingMachine) MakePurchase(ctx context.Context, productID string, quantity int) (string, error) {
	return v.CallTool(ctx, "make_purchase", map[string]any{
		"product_id": productID,
		"quantity":   quantity,
	})
}

// GetAnalytics reports sales trends and product performance.
func (v *VendingMachine) GetAnalytics(ctx context.Context) (string, error) {
	return v.CallTool(ctx, "get_analytics", nil)
}
