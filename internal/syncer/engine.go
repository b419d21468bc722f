// Package syncer refreshes existing catalog products from the source. Every
// trigger (on demand, sweeps, push) runs the same Engine and gets a Result
// back instead of an error.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"catalogsync/internal/apperr"
	"catalogsync/internal/catalog"
	"catalogsync/internal/logger"
	"catalogsync/internal/materializer"
	"catalogsync/internal/models"
	"catalogsync/internal/pricing"
	"catalogsync/internal/source"
)

const DefaultCooldown = 10 * time.Second

// Source is the part of the source client the engine needs.
type Source interface {
	Activated() bool
	GetProduct(ctx context.Context, sku string) (*source.Product, error)
}

type Options struct {
	// Force skips the cooldown check.
	Force bool
	// FullSync converts the product shape when needed and refreshes the
	// shared metadata. Without it only prices and stock are touched.
	FullSync bool
}

// DefaultOptions is a full sync that honours the cooldown.
func DefaultOptions() Options {
	return Options{FullSync: true}
}

// Result is the outcome of one sync attempt.
type Result struct {
	ProductID  uint     `json:"product_id,omitempty"`
	Updated    bool     `json:"updated"`
	StatusCode int      `json:"status_code"`
	Message    string   `json:"message"`
	Logs       []string `json:"logs"`
}

type Config struct {
	Cooldown time.Duration
}

type Engine struct {
	store       catalog.Store
	mat         *materializer.Materializer
	transformer *Transformer
	source      Source
	cfg         Config
	logger      *logger.Logger
	now         func() time.Time
}

func NewEngine(store catalog.Store, mat *materializer.Materializer, src Source, cfg Config, logger *logger.Logger) *Engine {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	return &Engine{
		store:       store,
		mat:         mat,
		transformer: NewTransformer(store, mat),
		source:      src,
		cfg:         cfg,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// SyncProduct fetches the source data of product id and applies it.
func (e *Engine) SyncProduct(ctx context.Context, id uint, opts Options) *Result {
	return e.run(ctx, func(trail *materializer.Trail) (*models.Product, error) {
		product, err := e.store.GetProduct(ctx, id)
		if err != nil {
			return nil, lookupError(err, fmt.Sprintf("Product %d", id))
		}
		return e.sync(ctx, product, nil, opts, trail)
	})
}

// SyncVariation syncs the parent product of variation id.
func (e *Engine) SyncVariation(ctx context.Context, id uint, opts Options) *Result {
	return e.run(ctx, func(trail *materializer.Trail) (*models.Product, error) {
		variation, err := e.store.GetVariation(ctx, id)
		if err != nil {
			return nil, lookupError(err, fmt.Sprintf("Variation %d", id))
		}
		product, err := e.store.GetProduct(ctx, variation.ProductID)
		if err != nil {
			return nil, lookupError(err, fmt.Sprintf("Parent product of variation %d", id))
		}
		trail.Add("Variation %d belongs to product %d", id, product.ID)
		return e.sync(ctx, product, nil, opts, trail)
	})
}

// SyncWithPayload applies an already fetched source product to product id.
func (e *Engine) SyncWithPayload(ctx context.Context, id uint, remote *source.Product, opts Options) *Result {
	return e.run(ctx, func(trail *materializer.Trail) (*models.Product, error) {
		if remote == nil {
			return nil, apperr.BadRequest("Source payload is empty", nil)
		}
		product, err := e.store.GetProduct(ctx, id)
		if err != nil {
			return nil, lookupError(err, fmt.Sprintf("Product %d", id))
		}
		return e.sync(ctx, product, remote, opts, trail)
	})
}

// SyncSKU syncs the local product materialized from sku.
func (e *Engine) SyncSKU(ctx context.Context, sku string, opts Options) *Result {
	return e.syncBySKU(ctx, strings.TrimSpace(sku), nil, opts)
}

// SyncRemote applies remote to the local product sharing its SKU.
func (e *Engine) SyncRemote(ctx context.Context, remote *source.Product, opts Options) *Result {
	if remote == nil {
		return e.run(ctx, func(*materializer.Trail) (*models.Product, error) {
			return nil, apperr.BadRequest("Source payload is empty", nil)
		})
	}
	return e.syncBySKU(ctx, strings.TrimSpace(remote.SKU()), remote, opts)
}

func (e *Engine) syncBySKU(ctx context.Context, sku string, remote *source.Product, opts Options) *Result {
	return e.run(ctx, func(trail *materializer.Trail) (*models.Product, error) {
		if sku == "" {
			return nil, apperr.BadRequest("SKU is required", nil)
		}
		product, err := e.store.FindProductBySKU(ctx, sku)
		if err != nil {
			return nil, lookupError(err, "Product "+sku)
		}
		return e.sync(ctx, product, remote, opts, trail)
	})
}

// run wraps one attempt: activation check, panic guard and conversion of the
// outcome to a Result.
func (e *Engine) run(ctx context.Context, fn func(trail *materializer.Trail) (*models.Product, error)) (res *Result) {
	trail := &materializer.Trail{}
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("Sync panicked: %v\n%s", rec, debug.Stack())
			trail.Add("Unexpected failure: %v", rec)
			res = &Result{StatusCode: http.StatusInternalServerError, Message: "Sync failed unexpectedly", Logs: trail.Lines()}
		}
	}()

	if !e.source.Activated() {
		trail.Add("Source access is not activated")
		return &Result{StatusCode: http.StatusForbidden, Message: "Source access is not activated", Logs: trail.Lines()}
	}

	product, err := fn(trail)
	res = &Result{Logs: trail.Lines()}
	if product != nil {
		res.ProductID = product.ID
	}
	if err != nil {
		res.StatusCode = apperr.StatusOf(err)
		res.Message = apperr.MessageOf(err)
		if res.StatusCode >= http.StatusInternalServerError {
			e.logger.Error("Sync of product %d failed: %v", res.ProductID, err)
		} else {
			e.logger.Debug("Sync of product %d rejected (%d): %s", res.ProductID, res.StatusCode, res.Message)
		}
		return res
	}
	res.Updated = true
	res.StatusCode = http.StatusOK
	res.Message = fmt.Sprintf("Product %d synced", product.ID)
	return res
}

func lookupError(err error, what string) error {
	if errors.Is(err, catalog.ErrNotFound) {
		return apperr.NotFound(what+" not found", err)
	}
	return err
}

func (e *Engine) sync(ctx context.Context, product *models.Product, remote *source.Product, opts Options, trail *materializer.Trail) (*models.Product, error) {
	if product.SourceSKU == "" {
		trail.Add("Product %d has no source SKU", product.ID)
		return product, apperr.BadRequest("Product is not managed by the source", nil)
	}

	now := e.now()
	if !opts.Force && product.LastSyncAt != nil {
		if since := now.Sub(*product.LastSyncAt); since >= 0 && since < e.cfg.Cooldown {
			trail.Add("Synced %s ago, cooldown is %s", since.Round(time.Second), e.cfg.Cooldown)
			return product, apperr.TooManyRequests(fmt.Sprintf("Product was synced %s ago, try again later", since.Round(time.Second)))
		}
	}

	if remote == nil {
		var err error
		remote, err = e.source.GetProduct(ctx, product.SourceSKU)
		if err != nil {
			if rejected := accessError(err); rejected != nil {
				trail.Add("Source refused access: %v", err)
				e.logger.Error("Source refused access while syncing %s: %v", product.SourceSKU, err)
				return product, rejected
			}
			return product, e.deprecate(ctx, product, err, trail)
		}
		trail.Add("Fetched %s from source", product.SourceSKU)
	} else if id := strings.TrimSpace(remote.SKU()); id != "" && id != product.SourceSKU {
		trail.Add("Payload SKU %s does not match %s", id, product.SourceSKU)
		return product, apperr.BadRequest("Payload SKU does not match the product", nil)
	}

	if opts.FullSync {
		if kind := CheckNeeded(product.Type, remote); kind != TransformNone {
			converted, err := e.transformer.Apply(ctx, product, remote, kind, trail)
			if err != nil {
				return product, apperr.BadRequest("Product shape conversion failed", err)
			}
			product = converted
		}
	}

	var err error
	if product.Type == models.ProductTypeVariable {
		err = e.syncVariable(ctx, product, remote, trail)
	} else {
		e.syncSimple(product, remote, trail)
	}
	if err != nil {
		return product, err
	}

	if opts.FullSync {
		e.mat.RefreshMeta(product, remote)
	} else {
		product.LastSyncAt = &now
	}
	if product.Deprecated {
		trail.Add("Product restored after %d failed attempts", product.RestoreFailures)
	}
	product.Deprecated = false
	product.RestoreFailures = 0
	if err := e.store.SaveProduct(ctx, product); err != nil {
		return product, err
	}
	return product, nil
}

func (e *Engine) syncSimple(product *models.Product, remote *source.Product, trail *materializer.Trail) {
	if len(remote.Variants) == 0 {
		pricing.ApplyToProduct(product, pricing.Prices{}, pricing.Stock{Status: models.StockStatusOutOfStock})
		trail.Add("Warning: source reports no variants, product is not sellable")
		return
	}

	v := remote.Variants[0]
	prices := pricing.Derive(v.Price, v.LabelPrice)
	stock := pricing.ForVariant(remote, v)
	pricing.ApplyToProduct(product, prices, stock)
	product.SetMeta(materializer.MetaSourceVariantID, v.ID)

	if !prices.Sellable() {
		trail.Add("Warning: source has no price, product is not sellable")
		e.logger.Warn("Product %d (%s) has no source price", product.ID, product.SourceSKU)
	} else {
		trail.Add("Price %.0f (regular %.0f), stock %d", *prices.Active, *prices.Regular, stock.Quantity)
	}
	if stock.Reason != "" {
		trail.Add("Stock forced to 0: %s", stock.Reason)
	}
}

// syncVariable makes every variation unsellable first, then updates those
// the source still reports. Remote variants without a local variation are
// skipped.
func (e *Engine) syncVariable(ctx context.Context, product *models.Product, remote *source.Product, trail *materializer.Trail) error {
	if product.ID == 0 {
		return apperr.BadRequest("Variable product has no parent id", nil)
	}

	variations, err := e.store.ListVariations(ctx, product.ID)
	if err != nil {
		return err
	}
	byID := make(map[uint]*models.Variation, len(variations))
	for i := range variations {
		v := &variations[i]
		v.MarkUnsellable()
		if err := e.store.SaveVariation(ctx, v); err != nil {
			return err
		}
		byID[v.ID] = v
	}
	trail.Add("Marked %d variations unavailable", len(variations))

	refs := materializer.VariationMap(product)
	learned := false
	updated, skipped := 0, 0
	inStock := false
	for _, rv := range remote.Variants {
		target := byID[refs[rv.ID]]
		if target == nil && rv.ID != "" {
			found, err := e.store.FindVariationBySourceID(ctx, product.ID, rv.ID)
			if err != nil && !errors.Is(err, catalog.ErrNotFound) {
				return err
			}
			if found != nil {
				if known, ok := byID[found.ID]; ok {
					found = known
				}
				target = found
				refs[rv.ID] = found.ID
				learned = true
			}
		}
		if target == nil {
			skipped++
			trail.Add("Variant %s has no local variation, skipped", rv.ID)
			e.logger.Warn("Product %d: source variant %s has no local variation", product.ID, rv.ID)
			continue
		}

		prices := pricing.Derive(rv.Price, rv.LabelPrice)
		stock := pricing.ForVariant(remote, rv)
		pricing.ApplyToVariation(target, prices, stock)
		if err := e.store.SaveVariation(ctx, target); err != nil {
			return err
		}
		updated++
		if target.StockStatus == models.StockStatusInStock {
			inStock = true
		}
		if !prices.Sellable() {
			trail.Add("Warning: variant %s has no price", rv.ID)
		}
		if stock.Reason != "" {
			trail.Add("Variant %s stock forced to 0: %s", rv.ID, stock.Reason)
		}
	}

	if learned {
		m := make(map[string]interface{}, len(refs))
		for k, v := range refs {
			m[k] = v
		}
		product.SetMeta(materializer.MetaVariationMap, m)
	}
	product.ManageStock = false
	product.StockQuantity = 0
	product.StockStatus = models.StockStatusOutOfStock
	if inStock {
		product.StockStatus = models.StockStatusInStock
	}
	trail.Add("Updated %d of %d variants, %d skipped", updated, len(remote.Variants), skipped)
	return nil
}

// accessError maps authorization failures of the source to the status the
// caller should see. The product is left alone for those.
func accessError(err error) error {
	switch {
	case errors.Is(err, source.ErrNotActivated):
		return apperr.New(http.StatusForbidden, "Source access is not activated", err)
	case errors.Is(err, source.ErrUnauthorized):
		if source.StatusCode(err) == http.StatusForbidden {
			return apperr.New(http.StatusForbidden, "Source refused access", err)
		}
		return apperr.New(http.StatusUnauthorized, "Source rejected the access token", err)
	}
	return nil
}

// deprecate makes the product unsellable after the source could not be
// read and returns the error to report.
func (e *Engine) deprecate(ctx context.Context, product *models.Product, cause error, trail *materializer.Trail) error {
	now := e.now()
	product.MarkUnsellable()
	product.Deprecated = true
	product.RestoreFailures++
	product.LastSyncAt = &now
	trail.Add("Source fetch failed: %v", cause)
	trail.Add("Product deprecated (failure %d)", product.RestoreFailures)
	e.logger.Warn("Product %d (%s) deprecated: %v", product.ID, product.SourceSKU, cause)

	if product.Type == models.ProductTypeVariable {
		variations, err := e.store.ListVariations(ctx, product.ID)
		if err != nil {
			return err
		}
		for i := range variations {
			variations[i].MarkUnsellable()
			if err := e.store.SaveVariation(ctx, &variations[i]); err != nil {
				return err
			}
		}
	}
	if err := e.store.SaveProduct(ctx, product); err != nil {
		return err
	}

	if errors.Is(cause, source.ErrNotFound) {
		return apperr.NotFound("Product no longer exists at the source", cause)
	}
	return apperr.Upstream("Source fetch failed, product deprecated", cause)
}
