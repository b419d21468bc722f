package source

import (
	"bytes"
	"encoding/json"
	"time"
)

// Product is one supplier product as returned by the source API.
type Product struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	Description          string          `json:"description"`
	Categories           []Category      `json:"categories"`
	Attributes           []Attribute     `json:"attributes"`
	Variants             []Variant       `json:"variants"`
	ShipmentsReferenceID string          `json:"shipmentsReferenceId"`
	Shipments            json.RawMessage `json:"shipments"`
	ResellStatus         string          `json:"resellStatus"`
	Image                string          `json:"image"`
	GalleryImages        []string        `json:"gallery_images"`
	UpdatedAt            *time.Time      `json:"updatedAt,omitempty"`
}

// Category is a source taxonomy node referenced by opaque id.
type Category struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// Attribute is a variant dimension. Variants reference it by Key.
type Attribute struct {
	Key    string   `json:"key"`
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

type Variant struct {
	ID           string            `json:"_id"`
	Price        *float64          `json:"price"`
	LabelPrice   *float64          `json:"labelPrice"`
	RegularPrice *float64          `json:"regularPrice,omitempty"`
	Stock        int               `json:"stock"`
	Attributes   map[string]string `json:"attributes"`
}

// SKU is the stable source identity of the product.
func (p *Product) SKU() string {
	return p.ID
}

// HasShipments reports whether any shipping option data is present. A product
// without shipping data must never be sellable.
func (p *Product) HasShipments() bool {
	raw := bytes.TrimSpace(p.Shipments)
	if len(raw) == 0 {
		return false
	}
	switch string(raw) {
	case "null", "[]", "{}", `""`:
		return false
	}
	return true
}

// IsVariable reports whether the product must be stored as a variable product.
func (p *Product) IsVariable() bool {
	return len(p.Attributes) > 0 && len(p.Variants) > 1
}

// Page is one page of a paginated list endpoint.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// AttributeDef is an entry of the source attribute catalog.
type AttributeDef struct {
	Key    string   `json:"key"`
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// CategoryDef is an entry of the source category catalog.
type CategoryDef struct {
	ID       string `json:"_id"`
	Name     string `json:"name"`
	ParentID string `json:"parent,omitempty"`
}

// Decode parses a staged payload.
func Decode(payload []byte) (*Product, error) {
	var p Product
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
