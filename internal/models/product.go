package models

import (
	"time"

	"gorm.io/datatypes"
)

type ProductType string

const (
	ProductTypeSimple   ProductType = "simple"
	ProductTypeVariable ProductType = "variable"
)

type ProductStatus string

const (
	ProductStatusDraft   ProductStatus = "draft"
	ProductStatusPublish ProductStatus = "publish"
)

type StockStatus string

const (
	StockStatusInStock    StockStatus = "instock"
	StockStatusOutOfStock StockStatus = "outofstock"
)

// Product is a local catalog entry. Products materialized from the source
// carry a SourceSKU, unique among managed products; anything without one is
// not managed by this service.
type Product struct {
	ID              uint                                   `json:"id" gorm:"primaryKey"`
	SourceSKU       string                                 `json:"source_sku" gorm:"uniqueIndex:idx_products_source_sku,where:source_sku <> ''"`
	Name            string                                 `json:"name" gorm:"not null"`
	Description     string                                 `json:"description" gorm:"type:text"`
	Status          ProductStatus                          `json:"status" gorm:"default:draft"`
	Type            ProductType                            `json:"type" gorm:"default:simple"`
	Price           *float64                               `json:"price"`
	RegularPrice    *float64                               `json:"regular_price"`
	SalePrice       *float64                               `json:"sale_price"`
	ManageStock     bool                                   `json:"manage_stock"`
	StockQuantity   int                                    `json:"stock_quantity"`
	StockStatus     StockStatus                            `json:"stock_status" gorm:"default:outofstock"`
	Attributes      datatypes.JSONType[[]ProductAttribute] `json:"attributes"`
	Categories      []Category                             `json:"categories" gorm:"many2many:product_categories"`
	ImageURL        string                                 `json:"image_url"`
	LastSyncAt      *time.Time                             `json:"last_sync_at" gorm:"index"`
	Deprecated      bool                                   `json:"deprecated"`
	RestoreFailures int                                    `json:"restore_failures"`
	ResellStatus    string                                 `json:"resell_status"`
	ShipmentsRefID  string                                 `json:"shipments_ref_id"`
	Meta            datatypes.JSONMap                      `json:"meta"`
	CreatedAt       time.Time                              `json:"created_at"`
	UpdatedAt       time.Time                              `json:"updated_at"`
}

// ProductAttribute binds a product to a taxonomy with the options it offers.
type ProductAttribute struct {
	TaxonomyID   uint     `json:"taxonomy_id"`
	TaxonomySlug string   `json:"taxonomy_slug"`
	Name         string   `json:"name"`
	Options      []string `json:"options"`
	Variation    bool     `json:"variation"`
}

// Variation is one priced child of a variable product. Attributes maps a
// taxonomy slug to a term slug.
type Variation struct {
	ID              uint                                  `json:"id" gorm:"primaryKey"`
	ProductID       uint                                  `json:"product_id" gorm:"index;not null"`
	SourceVariantID string                                `json:"source_variant_id" gorm:"index"`
	Price           *float64                              `json:"price"`
	RegularPrice    *float64                              `json:"regular_price"`
	SalePrice       *float64                              `json:"sale_price"`
	ManageStock     bool                                  `json:"manage_stock"`
	StockQuantity   int                                   `json:"stock_quantity"`
	StockStatus     StockStatus                           `json:"stock_status" gorm:"default:outofstock"`
	Attributes      datatypes.JSONType[map[string]string] `json:"attributes"`
	CreatedAt       time.Time                             `json:"created_at"`
	UpdatedAt       time.Time                             `json:"updated_at"`
}

// MetaString reads a string attachment.
func (p *Product) MetaString(key string) string {
	if p.Meta == nil {
		return ""
	}
	if v, ok := p.Meta[key].(string); ok {
		return v
	}
	return ""
}

func (p *Product) SetMeta(key string, value interface{}) {
	if p.Meta == nil {
		p.Meta = datatypes.JSONMap{}
	}
	p.Meta[key] = value
}

// MarkUnsellable zeroes stock without touching prices.
func (p *Product) MarkUnsellable() {
	p.ManageStock = true
	p.StockQuantity = 0
	p.StockStatus = StockStatusOutOfStock
}

func (v *Variation) MarkUnsellable() {
	v.ManageStock = true
	v.StockQuantity = 0
	v.StockStatus = StockStatusOutOfStock
}

// StockStatusFor maps a quantity to a stock status.
func StockStatusFor(qty int) StockStatus {
	if qty > 0 {
		return StockStatusInStock
	}
	return StockStatusOutOfStock
}
