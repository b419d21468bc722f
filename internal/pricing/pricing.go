// Package pricing derives local price and stock fields from source variant
// data. Both the importer and the sync engine go through it.
package pricing

import (
	"catalogsync/internal/models"
	"catalogsync/internal/source"
)

// ResellEditingPending is the source resale status of a product that is
// being edited upstream and must not be sold meanwhile.
const ResellEditingPending = "editing-pending"

// Prices are the three local price fields. A nil Active price means the item
// cannot be sold.
type Prices struct {
	Regular *float64
	Sale    *float64
	Active  *float64
}

func (p Prices) Sellable() bool {
	return p.Active != nil
}

func ptr(v float64) *float64 {
	return &v
}

// Derive maps the source active price and label price to local fields.
// A label price above the active price turns the item into a sale.
func Derive(price, label *float64) Prices {
	switch {
	case price != nil && label != nil && *label > *price:
		return Prices{Regular: ptr(*label), Sale: ptr(*price), Active: ptr(*price)}
	case price != nil:
		return Prices{Regular: ptr(*price), Active: ptr(*price)}
	default:
		return Prices{}
	}
}

// ImportPrices is the first-creation rule: the label price is preferred as
// the selling price and the regular price falls back to it.
func ImportPrices(v source.Variant) Prices {
	active := v.LabelPrice
	if active == nil {
		active = v.Price
	}
	if active == nil {
		return Prices{}
	}
	regular := v.RegularPrice
	if regular == nil {
		regular = active
	}
	out := Prices{Regular: ptr(*regular), Active: ptr(*active)}
	if *regular > *active {
		out.Sale = ptr(*active)
	}
	return out
}

// Stock is the quantity that may be offered locally.
type Stock struct {
	Quantity int
	Status   models.StockStatus
	// Reason is set when the remote quantity was overridden.
	Reason string
}

// DeriveStock forces stock to zero while the product is being edited
// upstream or when no shipping option is known.
func DeriveStock(remote int, resellStatus string, hasShipments bool) Stock {
	switch {
	case resellStatus == ResellEditingPending:
		return Stock{Status: models.StockStatusOutOfStock, Reason: "resale status is " + ResellEditingPending}
	case !hasShipments:
		return Stock{Status: models.StockStatusOutOfStock, Reason: "no shipping data"}
	case remote <= 0:
		return Stock{Status: models.StockStatusOutOfStock}
	}
	return Stock{Quantity: remote, Status: models.StockStatusInStock}
}

// ForVariant combines the stock rule with the parent product context.
func ForVariant(p *source.Product, v source.Variant) Stock {
	return DeriveStock(v.Stock, p.ResellStatus, p.HasShipments())
}

func ApplyToProduct(p *models.Product, prices Prices, stock Stock) {
	p.Price = prices.Active
	p.RegularPrice = prices.Regular
	p.SalePrice = prices.Sale
	p.ManageStock = true
	p.StockQuantity = stock.Quantity
	p.StockStatus = stock.Status
	if !prices.Sellable() {
		p.StockStatus = models.StockStatusOutOfStock
	}
}

func ApplyToVariation(v *models.Variation, prices Prices, stock Stock) {
	v.Price = prices.Active
	v.RegularPrice = prices.Regular
	v.SalePrice = prices.Sale
	v.ManageStock = true
	v.StockQuantity = stock.Quantity
	v.StockStatus = stock.Status
	if !prices.Sellable() {
		v.StockStatus = models.StockStatusOutOfStock
	}
}
