package toolkit

import (
	"context"

	"github.com/nugget/city-bridge/internal/devices"
	"github.com/nugget/city-bridge/internal/tools"
)

// Vending is the vending machine toolkit.
type Vending struct {
	*adapter
	vm *devices.VendingMachine
}

// NewVending wraps a vending machine client. The toolkit owns the client
// and stops its server on Close.
func NewVending(vm *devices.VendingMachine, cfg Config) *Vending {
	return &Vending{adapter: newAdapter("vending_machine", vm.Client, cfg), vm: vm}
}

// GetProducts lists products with prices and categories.
func (v *Vending) GetProducts(ctx context.Context) string {
	return v.invoke(ctx, "get_products", "getting products", nil, v.vm.GetProducts)
}

// GetInventory shows stock levels and low stock alerts.
func (v *Vending) GetInventory(ctx context.Context) string {
	return v.invoke(ctx, "get_inventory", "getting inventory", nil, v.vm.GetInventory)
}

// GetSalesData shows recent transactions.
func (v *Vending) GetSalesData(ctx context.Context) string {
	return v.invoke(ctx, "get_sales_data", "getting sales data", nil, v.vm.GetSalesData)
}

// MakePurchase buys quantity units of productID.
func (v *Vending) MakePurchase(ctx context.Context, productID string, quantity int) string {
	args := map[string]any{"product_id": productID, "quantity": quantity}
	return v.invoke(ctx, "make_purchase", "making purchase", args, func(ctx context.Context) (string, error) {
		return v.vm.MakePurchase(ctx, productID, quantity)
	})
}

// GetAnalytics shows revenue and best sellers.
func (v *Vending) GetAnalytics(ctx context.Context) string {
	return v.invoke(ctx, "get_analytics", "getting analytics", nil, v.vm.GetAnalytics)
}

// Register adds the vending machine tools to reg.
func (v *Vending) Register(_ context.Context, reg *tools.Registry) (int, error) {
	return v.register(reg, []*tools.Tool{
		{
			Name:        "get_products",
			Description: "Get all products available in the vending machine with their prices and categories.",
			Parameters:  objectSchema(nil),
			Handler:     noArgs(v.GetProducts),
		},
		{
			Name:        "get_inventory",
			Description: "Get current inventory status of the vending machine, including low stock alerts.",
			Parameters:  objectSchema(nil),
			Handler:     noArgs(v.GetInventory),
		},
		{
			Name:        "get_sales_data",
			Description: "Get sales data and daily statistics from the vending machine.",
			Parameters:  objectSchema(nil),
			Handler:     noArgs(v.GetSalesData),
		},
		{
			Name:        "make_purchase",
			Description: "Purchase a product from the vending machine.",
			Parameters: objectSchema(map[string]any{
				"product_id": map[string]any{"type": "string", "description": "The ID of the product to purchase (e.g., 'p001')"},
				"quantity":   map[string]any{"type": "integer", "description": "Number of items to purchase (default: 1)", "default": 1},
			}, "product_id"),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				id, err := requiredString(args, "product_id")
				if err != nil {
					return v.reject(ctx, "make_purchase", "making purchase", args, err), nil
				}
				qty, err := optionalInt(args, "quantity")
				if err != nil {
					return v.reject(ctx, "make_purchase", "making purchase", args, err), nil
				}
				if qty == nil {
					one := 1
					qty = &one
				}
				return v.MakePurchase(ctx, id, *qty), nil
			},
		},
		{
			Name:        "get_analytics",
			Description: "Get detailed analytics for the vending machine including sales trends and product performance.",
			Parameters:  objectSchema(nil),
			Handler:     noArgs(v.GetAnalytics),
		},
	})
}
