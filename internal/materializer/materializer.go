// Package materializer turns one source product into a local catalog entry,
// creating it on first sight and rebuilding it in place afterwards.
package materializer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"catalogsync/internal/catalog"
	"catalogsync/internal/database"
	"catalogsync/internal/logger"
	"catalogsync/internal/mapping"
	"catalogsync/internal/models"
	"catalogsync/internal/pricing"
	"catalogsync/internal/source"

	"gorm.io/datatypes"
)

// Meta keys written on products.
const (
	MetaSourceID        = "source_id"
	MetaSourceVariantID = "source_variant_id"
	MetaVariationMap    = "source_variation_map"
	MetaShipments       = "shipments"
	MetaGallery         = "gallery_images"
)

type Options struct {
	// SkipImages disables image attachment (debug/fast mode).
	SkipImages bool
}

type Result struct {
	ProductID uint     `json:"product_id"`
	Created   bool     `json:"created"`
	Logs      []string `json:"logs"`
}

type Materializer struct {
	store  catalog.Store
	mapper *mapping.Mapper
	opts   Options
	logger *logger.Logger
	now    func() time.Time
}

func New(store catalog.Store, mapper *mapping.Mapper, opts Options, logger *logger.Logger) *Materializer {
	return &Materializer{
		store:  store,
		mapper: mapper,
		opts:   opts,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source, for tests.
func (m *Materializer) WithClock(now func() time.Time) *Materializer {
	m.now = now
	return m
}

// Materialize decodes a staged payload and applies it. The returned Result
// carries the step log even when err is non-nil.
func (m *Materializer) Materialize(ctx context.Context, payload []byte) (*Result, error) {
	trail := &Trail{}
	remote, err := source.Decode(payload)
	if err != nil {
		trail.Add("Malformed payload: %v", err)
		return &Result{Logs: trail.Lines()}, fmt.Errorf("malformed payload: %w", err)
	}
	return m.MaterializeProduct(ctx, remote, trail)
}

func (m *Materializer) MaterializeProduct(ctx context.Context, remote *source.Product, trail *Trail) (*Result, error) {
	if trail == nil {
		trail = &Trail{}
	}
	sku := strings.TrimSpace(remote.SKU())
	if sku == "" {
		trail.Add("Payload has no SKU")
		return &Result{Logs: trail.Lines()}, errors.New("payload has no sku")
	}

	product, err := m.store.FindProductBySKU(ctx, sku)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		product, err = m.create(ctx, sku, remote, trail)
		if product == nil && database.IsDuplicateKey(err) {
			// lost the insert race for sku, apply to the winner
			return m.updateExisting(ctx, sku, remote, trail)
		}
		res := &Result{Created: true, Logs: trail.Lines()}
		if product != nil {
			res.ProductID = product.ID
		}
		return res, err
	case err != nil:
		trail.Add("Lookup of %s failed: %v", sku, err)
		return &Result{Logs: trail.Lines()}, err
	}

	err = m.update(ctx, product, remote, trail)
	return &Result{ProductID: product.ID, Logs: trail.Lines()}, err
}

func (m *Materializer) updateExisting(ctx context.Context, sku string, remote *source.Product, trail *Trail) (*Result, error) {
	trail.Add("%s was created concurrently, updating it instead", sku)
	product, err := m.store.FindProductBySKU(ctx, sku)
	if err != nil {
		trail.Add("Lookup of %s failed: %v", sku, err)
		return &Result{Logs: trail.Lines()}, err
	}
	err = m.update(ctx, product, remote, trail)
	return &Result{ProductID: product.ID, Logs: trail.Lines()}, err
}

func (m *Materializer) create(ctx context.Context, sku string, remote *source.Product, trail *Trail) (*models.Product, error) {
	categories, err := m.resolveCategories(ctx, remote, trail)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(remote.Name)
	if name == "" {
		name = sku
	}
	product := &models.Product{
		SourceSKU:   sku,
		Name:        name,
		Description: remote.Description,
		Status:      models.ProductStatusDraft,
		Type:        models.ProductTypeSimple,
		StockStatus: models.StockStatusOutOfStock,
	}
	if err := m.store.CreateProduct(ctx, product); err != nil {
		trail.Add("Could not create product: %v", err)
		return nil, err
	}
	trail.Add("Created draft product %d for %s", product.ID, sku)

	if len(categories) > 0 {
		if err := m.store.SetCategories(ctx, product, categories); err != nil {
			trail.Add("Could not assign categories: %v", err)
			return product, err
		}
		trail.Add("Assigned %d categories", len(categories))
	}

	if remote.IsVariable() {
		err = m.SetupVariable(ctx, product, remote, trail)
	} else {
		err = m.ApplySimple(product, remote, trail)
	}
	if err != nil {
		return product, err
	}
	return product, m.finish(ctx, product, remote, trail)
}

func (m *Materializer) update(ctx context.Context, product *models.Product, remote *source.Product, trail *Trail) error {
	trail.Add("Updating product %d (%s, %s)", product.ID, product.SourceSKU, product.Type)

	if remote.IsVariable() {
		// rebuild, never patch: the variation set must match the source exactly
		n, err := m.store.DeleteVariations(ctx, product.ID)
		if err != nil {
			return err
		}
		trail.Add("Removed %d existing variations", n)
		if err := m.SetupVariable(ctx, product, remote, trail); err != nil {
			return err
		}
	} else {
		if product.Type == models.ProductTypeVariable {
			n, err := m.store.DeleteVariations(ctx, product.ID)
			if err != nil {
				return err
			}
			trail.Add("Source is simple now, removed %d variations", n)
		}
		if err := m.ApplySimple(product, remote, trail); err != nil {
			return err
		}
	}
	return m.finish(ctx, product, remote, trail)
}

func (m *Materializer) finish(ctx context.Context, product *models.Product, remote *source.Product, trail *Trail) error {
	m.RefreshMeta(product, remote)
	if product.Deprecated {
		trail.Add("Product restored after %d failed attempts", product.RestoreFailures)
	}
	product.Deprecated = false
	product.RestoreFailures = 0
	m.attachImage(product, remote, trail)
	if err := m.store.SaveProduct(ctx, product); err != nil {
		trail.Add("Could not save product: %v", err)
		return err
	}
	return nil
}

func (m *Materializer) resolveCategories(ctx context.Context, remote *source.Product, trail *Trail) ([]models.Category, error) {
	out := make([]models.Category, 0, len(remote.Categories))
	seen := make(map[uint]bool)
	for _, c := range remote.Categories {
		cat, err := m.mapper.GetOrCreateCategory(ctx, c.ID, c.Name)
		if err != nil {
			trail.Add("Category %s (%s) failed: %v", c.Name, c.ID, err)
			return nil, fmt.Errorf("category %s: %w", c.ID, err)
		}
		if seen[cat.ID] {
			continue
		}
		seen[cat.ID] = true
		out = append(out, *cat)
	}
	return out, nil
}

// SetupVariable binds the source attributes to local taxonomies and creates
// one variation per source variant. Existing variations must already be gone.
func (m *Materializer) SetupVariable(ctx context.Context, product *models.Product, remote *source.Product, trail *Trail) error {
	if len(remote.Variants) == 0 {
		trail.Add("Source has no variants")
		return errors.New("cannot build a variable product without variants")
	}

	taxByKey := make(map[string]*models.Taxonomy, len(remote.Attributes))
	attrs := make([]models.ProductAttribute, 0, len(remote.Attributes))
	for _, a := range remote.Attributes {
		tax, err := m.mapper.GetOrCreateAttribute(ctx, a.Key, a.Name, a.Values)
		if err != nil {
			trail.Add("Attribute %s failed: %v", a.Key, err)
			return fmt.Errorf("attribute %s: %w", a.Key, err)
		}
		taxByKey[a.Key] = tax
		attrs = append(attrs, models.ProductAttribute{
			TaxonomyID:   tax.ID,
			TaxonomySlug: tax.Slug,
			Name:         tax.Name,
			Options:      a.Values,
			Variation:    true,
		})
	}
	trail.Add("Bound %d attributes", len(attrs))

	product.Type = models.ProductTypeVariable
	product.Attributes = datatypes.NewJSONType(attrs)
	product.Price, product.RegularPrice, product.SalePrice = nil, nil, nil
	product.ManageStock = false
	product.StockQuantity = 0
	product.StockStatus = models.StockStatusOutOfStock
	delete(product.Meta, MetaSourceVariantID)
	if err := m.store.SaveProduct(ctx, product); err != nil {
		return err
	}

	variationMap := make(map[string]interface{}, len(remote.Variants))
	created := 0
	inStock := false
	for _, v := range remote.Variants {
		attrMap, err := m.variantAttributes(ctx, taxByKey, v, trail)
		if err != nil {
			trail.Add("Variant %s skipped: %v", v.ID, err)
			continue
		}

		variation := &models.Variation{
			ProductID:       product.ID,
			SourceVariantID: v.ID,
			Attributes:      datatypes.NewJSONType(attrMap),
		}
		stock := pricing.ForVariant(remote, v)
		pricing.ApplyToVariation(variation, pricing.ImportPrices(v), stock)
		if err := m.store.CreateVariation(ctx, variation); err != nil {
			trail.Add("Variant %s not created: %v", v.ID, err)
			continue
		}
		if v.ID != "" {
			variationMap[v.ID] = variation.ID
		}
		created++
		if variation.StockStatus == models.StockStatusInStock {
			inStock = true
		}
		if stock.Reason != "" {
			trail.Add("Variant %s stock forced to 0: %s", v.ID, stock.Reason)
		}
	}
	if created == 0 {
		return fmt.Errorf("none of %d variants could be created", len(remote.Variants))
	}

	product.SetMeta(MetaVariationMap, variationMap)
	if inStock {
		product.StockStatus = models.StockStatusInStock
	}
	trail.Add("Created %d of %d variations", created, len(remote.Variants))
	return nil
}

// variantAttributes maps each key/value of a variant to taxonomy slug and
// term slug.
func (m *Materializer) variantAttributes(ctx context.Context, taxByKey map[string]*models.Taxonomy, v source.Variant, trail *Trail) (map[string]string, error) {
	keys := make([]string, 0, len(v.Attributes))
	for k := range v.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(keys))
	for _, key := range keys {
		tax, ok := taxByKey[key]
		if !ok {
			return nil, fmt.Errorf("unknown attribute key %s", key)
		}
		value := v.Attributes[key]
		slug, found, err := m.mapper.ResolveTermSlug(ctx, tax, value)
		if err != nil {
			return nil, err
		}
		if !found {
			trail.Add("Warning: no term %q under %s, using %q", value, tax.Slug, slug)
			m.logger.Warn("Variant %s: no term %q under %s, using slug %q", v.ID, value, tax.Slug, slug)
		}
		out[tax.Slug] = slug
	}
	return out, nil
}

// ApplySimple writes price and stock of the first source variant onto a
// simple product.
func (m *Materializer) ApplySimple(product *models.Product, remote *source.Product, trail *Trail) error {
	product.Type = models.ProductTypeSimple
	product.Attributes = datatypes.NewJSONType([]models.ProductAttribute{})
	delete(product.Meta, MetaVariationMap)

	if len(remote.Variants) == 0 {
		pricing.ApplyToProduct(product, pricing.Prices{}, pricing.Stock{Status: models.StockStatusOutOfStock})
		trail.Add("Source has no variants, product is not sellable")
		return nil
	}

	v := remote.Variants[0]
	prices := pricing.ImportPrices(v)
	stock := pricing.ForVariant(remote, v)
	pricing.ApplyToProduct(product, prices, stock)
	product.SetMeta(MetaSourceVariantID, v.ID)

	if prices.Sellable() {
		trail.Add("Price %.0f (regular %.0f), stock %d", *prices.Active, *prices.Regular, stock.Quantity)
	} else {
		trail.Add("Source has no price, product is not sellable")
	}
	if stock.Reason != "" {
		trail.Add("Stock forced to 0: %s", stock.Reason)
	}
	return nil
}

// RefreshMeta copies the shared source metadata onto product and stamps the
// sync time. The caller saves.
func (m *Materializer) RefreshMeta(product *models.Product, remote *source.Product) {
	now := m.now()
	product.LastSyncAt = &now
	product.ShipmentsRefID = remote.ShipmentsReferenceID
	product.ResellStatus = remote.ResellStatus
	product.SetMeta(MetaSourceID, remote.SKU())

	if remote.HasShipments() {
		var shipments interface{}
		if err := json.Unmarshal(remote.Shipments, &shipments); err == nil {
			product.SetMeta(MetaShipments, shipments)
		}
	} else {
		delete(product.Meta, MetaShipments)
	}

	gallery := remote.GalleryImages
	if gallery == nil {
		gallery = []string{}
	}
	product.SetMeta(MetaGallery, gallery)
}

func (m *Materializer) attachImage(product *models.Product, remote *source.Product, trail *Trail) {
	if m.opts.SkipImages {
		trail.Add("Image attach skipped")
		return
	}
	if remote.Image == "" || remote.Image == product.ImageURL {
		return
	}
	product.ImageURL = remote.Image
	trail.Add("Attached image %s", remote.Image)
}

// VariationMap returns the remote variant id to local variation id
// back-references recorded when the variations were built.
func VariationMap(product *models.Product) map[string]uint {
	out := make(map[string]uint)
	raw, ok := product.Meta[MetaVariationMap]
	if !ok {
		return out
	}
	entries, ok := raw.(map[string]interface{})
	if !ok {
		return out
	}
	for k, v := range entries {
		switch n := v.(type) {
		case float64:
			out[k] = uint(n)
		case uint:
			out[k] = n
		case int:
			out[k] = uint(n)
		case json.Number:
			if i, err := n.Int64(); err == nil {
				out[k] = uint(i)
			}
		}
	}
	return out
}
