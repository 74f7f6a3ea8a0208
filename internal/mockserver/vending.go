package mockserver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// lowStockThreshold marks products that need restocking.
const lowStockThreshold = 10

type product struct {
	ID       string
	Name     string
	Price    int // yen
	Stock    int
	Category string
	Image    string
}

type sale struct {
	ProductID string
	Quantity  int
	Total     int
	At        time.Time
}

type vending struct {
	mu       sync.Mutex
	products []*product
	sales    []sale
	now      func() time.Time
}

func newVending() *vending {
	return &vending{
		products: []*product{
			{ID: "p001", Name: "Green Tea", Price: 150, Stock: 24, Category: "drink", Image: "🍵"},
			{ID: "p002", Name: "Coffee", Price: 180, Stock: 18, Category: "drink", Image: "☕"},
			{ID: "p003", Name: "Onigiri", Price: 200, Stock: 12, Category: "food", Image: "🍙"},
			{ID: "p004", Name: "Sandwich", Price: 350, Stock: 6, Category: "food", Image: "🥪"},
			{ID: "p005", Name: "Chocolate", Price: 120, Stock: 30, Category: "snack", Image: "🍫"},
			{ID: "p006", Name: "Melon Pan", Price: 160, Stock: 0, Category: "snack", Image: "🍈"},
		},
		now: time.Now,
	}
}

func (v *vending) tools() []Tool {
	return []Tool{
		{
			Definition: def("get_products",
				"Get all products available in the vending machine with their prices and categories",
				schema(nil)),
			Handler: v.getProducts,
		},
		{
			Definition: def("get_inventory",
				"Get current inventory levels for all products including low stock alerts",
				schema(nil)),
			Handler: v.getInventory,
		},
		{
			Definition: def("get_sales_data",
				"Get sales history and transaction data",
				schema(nil)),
			Handler: v.getSalesData,
		},
		{
			Definition: def("make_purchase",
				"Purchase a product from the vending machine",
				schema(map[string]any{
					"product_id": map[string]any{"type": "string", "description": "Product ID to purchase (e.g., 'p001')"},
					"quantity":   map[string]any{"type": "integer", "description": "Quantity to purchase", "default": 1},
				}, "product_id")),
			Handler: v.makePurchase,
		},
		{
			Definition: def("get_analytics",
				"Get sales analytics including revenue and best selling products",
				schema(nil)),
			Handler: v.getAnalytics,
		},
	}
}

func (v *vending) getProducts(context.Context, map[string]any) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var b strings.Builder
	b.WriteString("🏪 **Vending Machine Products:**\n\n")
	for _, p := range v.products {
		fmt.Fprintf(&b, "• **%s** %s\n", p.Name, p.Image)
		fmt.Fprintf(&b, "  - Price: ¥%d\n", p.Price)
		fmt.Fprintf(&b, "  - Stock: %d units\n", p.Stock)
		fmt.Fprintf(&b, "  - Category: %s\n", p.Category)
		fmt.Fprintf(&b, "  - ID: %s\n\n", p.ID)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (v *vending) getInventory(context.Context, map[string]any) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var b strings.Builder
	b.WriteString("📦 **Inventory Status:**\n\n")
	var low []string
	for _, p := range v.products {
		fmt.Fprintf(&b, "• %s (%s): %d units\n", p.Name, p.ID, p.Stock)
		if p.Stock < lowStockThreshold {
			low = append(low, fmt.Sprintf("%s (%d left)", p.Name, p.Stock))
		}
	}
	if len(low) > 0 {
		b.WriteString("\n⚠️ **Low Stock Alerts:**\n")
		for _, l := range low {
			fmt.Fprintf(&b, "• %s\n", l)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (v *vending) getSalesData(context.Context, map[string]any) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.sales) == 0 {
		return "📊 **Sales Data:**\n\nNo sales recorded yet", nil
	}

	var b strings.Builder
	b.WriteString("📊 **Sales Data:**\n\n")
	for i, s := range v.sales {
		p := v.lookup(s.ProductID)
		fmt.Fprintf(&b, "%d. %s x%d = ¥%d (%s)\n", i+1, p.Name, s.Quantity, s.Total, s.At.Format(time.RFC3339))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (v *vending) makePurchase(_ context.Context, args map[string]any) (string, error) {
	id, ok := stringArg(args, "product_id")
	if !ok || id == "" {
		return "", fmt.Errorf("product_id is required")
	}
	qty, err := intArg(args, "quantity", 1)
	if err != nil {
		return "", err
	}
	if qty < 1 {
		return "", fmt.Errorf("quantity must be at least 1")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	p := v.lookup(id)
	if p == nil {
		return "", fmt.Errorf("Product not found: %s", id)
	}
	if p.Stock < qty {
		return "", fmt.Errorf("Insufficient stock")
	}

	p.Stock -= qty
	s := sale{ProductID: p.ID, Quantity: qty, Total: p.Price * qty, At: v.now()}
	v.sales = append(v.sales, s)

	return fmt.Sprintf("✅ **Purchase Successful!**\n"+
		"🛒 Product: %s %s\n"+
		"🔢 Quantity: %d\n"+
		"💴 Total: ¥%d\n"+
		"📦 Remaining stock: %d units",
		p.Name, p.Image, qty, s.Total, p.Stock), nil
}

func (v *vending) getAnalytics(context.Context, map[string]any) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	revenue, units := 0, 0
	byProduct := map[string]int{}
	for _, s := range v.sales {
		revenue += s.Total
		units += s.Quantity
		byProduct[s.ProductID] += s.Quantity
	}

	var b strings.Builder
	b.WriteString("📈 **Sales Analytics:**\n\n")
	fmt.Fprintf(&b, "💴 Total revenue: ¥%d\n", revenue)
	fmt.Fprintf(&b, "🧾 Transactions: %d\n", len(v.sales))
	fmt.Fprintf(&b, "🔢 Units sold: %d\n", units)

	if len(byProduct) > 0 {
		ids := sortedKeys(byProduct)
		sort.SliceStable(ids, func(i, j int) bool { return byProduct[ids[i]] > byProduct[ids[j]] })
		b.WriteString("\n🏆 **Best Sellers:**\n")
		for i, id := range ids {
			fmt.Fprintf(&b, "%d. %s: %d units\n", i+1, v.lookup(id).Name, byProduct[id])
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// lookup must be called with mu held.
func (v *vending) lookup(id string) *product {
	for _, p := range v.products {
		if p.ID == id {
			return p
		}
	}
	return nil
}
