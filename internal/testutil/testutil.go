// Package testutil builds throwaway databases for package tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"testing"

	"catalogsync/internal/database"
	"catalogsync/internal/source"

	"github.com/google/uuid"
)

// NewDB returns a migrated in-memory SQLite database closed at test cleanup.
func NewDB(t testing.TB) *database.Database {
	t.Helper()
	url := fmt.Sprintf("sqlite://file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := database.New(url)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Shipments is a non-empty shipping option blob.
var Shipments = json.RawMessage(`[{"method":"post","price":50000}]`)

// SimpleProduct is a one-variant source product with shipping data.
func SimpleProduct(sku string, price float64, stock int) *source.Product {
	return &source.Product{
		ID:                   sku,
		Name:                 "Product " + sku,
		Categories:           []source.Category{{ID: "cat-1", Name: "Home"}},
		Variants:             []source.Variant{{ID: sku + "-v1", Price: Float(price), Stock: stock}},
		ShipmentsReferenceID: "ship-" + sku,
		Shipments:            Shipments,
		Image:                "https://img.example/" + sku + ".jpg",
	}
}

// ColorVariant is a variant keyed by the "color" attribute.
func ColorVariant(id, color string, price float64, stock int) source.Variant {
	return source.Variant{
		ID:         id,
		Price:      Float(price),
		Stock:      stock,
		Attributes: map[string]string{"color": color},
	}
}

// VariableProduct builds a product with a "color" attribute whose values are
// taken from the variants.
func VariableProduct(sku string, variants ...source.Variant) *source.Product {
	values := make([]string, 0, len(variants))
	for _, v := range variants {
		values = append(values, v.Attributes["color"])
	}
	p := SimpleProduct(sku, 0, 0)
	p.Attributes = []source.Attribute{{Key: "color", Name: "Color", Values: values}}
	p.Variants = variants
	return p
}

// Payload encodes p as a staged payload.
func Payload(t testing.TB, p *source.Product) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	return b
}
