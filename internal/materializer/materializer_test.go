package materializer_test

import (
	"context"
	"fmt"
	"testing"

	"catalogsync/internal/catalog"
	"catalogsync/internal/logger"
	"catalogsync/internal/mapping"
	"catalogsync/internal/materializer"
	"catalogsync/internal/models"
	"catalogsync/internal/source"
	"catalogsync/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMaterializer(t *testing.T, opts materializer.Options) (*materializer.Materializer, *catalog.GormStore) {
	db := testutil.NewDB(t).DB
	store := catalog.NewStore(db)
	mapper := mapping.New(store, db, logger.Nop())
	return materializer.New(store, mapper, opts, logger.Nop()), store
}

func TestMaterializeCreatesSimpleProduct(t *testing.T) {
	ctx := context.Background()
	m, store := newMaterializer(t, materializer.Options{})

	remote := testutil.SimpleProduct("S1", 100, 7)
	remote.Variants[0].LabelPrice = testutil.Float(120)
	res, err := m.Materialize(ctx, testutil.Payload(t, remote))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.NotEmpty(t, res.Logs)

	p, err := store.GetProduct(ctx, res.ProductID)
	require.NoError(t, err)
	assert.Equal(t, models.ProductTypeSimple, p.Type)
	assert.Equal(t, models.ProductStatusDraft, p.Status)
	assert.Equal(t, 120.0, *p.Price)
	assert.Equal(t, 120.0, *p.RegularPrice)
	assert.Equal(t, 7, p.StockQuantity)
	assert.True(t, p.ManageStock)
	assert.Equal(t, models.StockStatusInStock, p.StockStatus)
	assert.Equal(t, "ship-S1", p.ShipmentsRefID)
	assert.Equal(t, "https://img.example/S1.jpg", p.ImageURL)
	assert.NotNil(t, p.LastSyncAt)
	require.Len(t, p.Categories, 1)
	assert.Equal(t, "home", p.Categories[0].Slug)
	assert.Equal(t, "S1-v1", p.MetaString(materializer.MetaSourceVariantID))
}

func TestMaterializeWithoutShipmentsIsNeverSellable(t *testing.T) {
	ctx := context.Background()
	m, store := newMaterializer(t, materializer.Options{})

	remote := testutil.SimpleProduct("S2", 100, 9)
	remote.Shipments = nil
	res, err := m.Materialize(ctx, testutil.Payload(t, remote))
	require.NoError(t, err)

	p, err := store.GetProduct(ctx, res.ProductID)
	require.NoError(t, err)
	assert.Equal(t, 0, p.StockQuantity)
	assert.Equal(t, models.StockStatusOutOfStock, p.StockStatus)
}

func TestMaterializeVariableAndRebuild(t *testing.T) {
	ctx := context.Background()
	m, store := newMaterializer(t, materializer.Options{SkipImages: true})

	remote := testutil.VariableProduct("V1",
		testutil.ColorVariant("a", "Red", 100, 2),
		testutil.ColorVariant("b", "Blue", 110, 0),
		testutil.ColorVariant("c", "Green", 120, 4),
	)
	res, err := m.Materialize(ctx, testutil.Payload(t, remote))
	require.NoError(t, err)
	assert.Contains(t, res.Logs, "Image attach skipped")

	p, err := store.GetProduct(ctx, res.ProductID)
	require.NoError(t, err)
	assert.Equal(t, models.ProductTypeVariable, p.Type)
	assert.Nil(t, p.Price)
	assert.Empty(t, p.ImageURL)
	attrs := p.Attributes.Data()
	require.Len(t, attrs, 1)
	assert.Equal(t, "color", attrs[0].TaxonomySlug)
	assert.ElementsMatch(t, []string{"Red", "Blue", "Green"}, attrs[0].Options)

	vars, err := store.ListVariations(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, vars, 3)
	assert.Equal(t, "a", vars[0].SourceVariantID)
	assert.Equal(t, map[string]string{"color": "red"}, vars[0].Attributes.Data())
	assert.Equal(t, models.StockStatusOutOfStock, vars[1].StockStatus)
	assert.Len(t, materializer.VariationMap(p), 3)

	remote.Variants = remote.Variants[:2]
	res, err = m.Materialize(ctx, testutil.Payload(t, remote))
	require.NoError(t, err)
	assert.False(t, res.Created)

	vars, err = store.ListVariations(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, vars, 2, "variation set matches the source exactly")
}

func TestMaterializeVariableToSimple(t *testing.T) {
	ctx := context.Background()
	m, store := newMaterializer(t, materializer.Options{})

	remote := testutil.VariableProduct("V2",
		testutil.ColorVariant("a", "Red", 100, 2),
		testutil.ColorVariant("b", "Blue", 110, 1),
	)
	res, err := m.Materialize(ctx, testutil.Payload(t, remote))
	require.NoError(t, err)

	res, err = m.Materialize(ctx, testutil.Payload(t, testutil.SimpleProduct("V2", 90, 3)))
	require.NoError(t, err)

	p, err := store.GetProduct(ctx, res.ProductID)
	require.NoError(t, err)
	assert.Equal(t, models.ProductTypeSimple, p.Type)
	assert.Equal(t, 90.0, *p.Price)
	vars, _ := store.ListVariations(ctx, p.ID)
	assert.Empty(t, vars)
}

func TestMaterializeErrors(t *testing.T) {
	ctx := context.Background()
	m, _ := newMaterializer(t, materializer.Options{})

	_, err := m.Materialize(ctx, []byte(`{"id":`))
	assert.Error(t, err)

	_, err = m.Materialize(ctx, []byte(`{"name":"no sku"}`))
	assert.Error(t, err)

	bad := testutil.VariableProduct("V3",
		testutil.ColorVariant("a", "Red", 100, 2),
		testutil.ColorVariant("b", "Blue", 110, 1),
	)
	bad.Attributes = []source.Attribute{{Key: " ", Name: "", Values: []string{"Red"}}}
	res, err := m.Materialize(ctx, testutil.Payload(t, bad))
	assert.Error(t, err, "taxonomy failure is fatal for the product")
	assert.NotEmpty(t, res.Logs)
}

// lateStore misses the first SKU lookup, as a materialization racing
// another one for the same SKU would.
type lateStore struct {
	*catalog.GormStore
	missed bool
}

func (s *lateStore) FindProductBySKU(ctx context.Context, sku string) (*models.Product, error) {
	if !s.missed {
		s.missed = true
		return nil, fmt.Errorf("product %s: %w", sku, catalog.ErrNotFound)
	}
	return s.GormStore.FindProductBySKU(ctx, sku)
}

func TestLostCreateRaceUpdatesExisting(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t).DB
	store := catalog.NewStore(db)
	mapper := mapping.New(store, db, logger.Nop())

	first, err := materializer.New(store, mapper, materializer.Options{}, logger.Nop()).
		Materialize(ctx, testutil.Payload(t, testutil.SimpleProduct("R1", 100, 2)))
	require.NoError(t, err)

	late := materializer.New(&lateStore{GormStore: store}, mapper, materializer.Options{}, logger.Nop())
	res, err := late.Materialize(ctx, testutil.Payload(t, testutil.SimpleProduct("R1", 100, 8)))
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, first.ProductID, res.ProductID)

	var count int64
	require.NoError(t, db.Model(&models.Product{}).Where("source_sku = ?", "R1").Count(&count).Error)
	assert.EqualValues(t, 1, count)

	p, err := store.GetProduct(ctx, first.ProductID)
	require.NoError(t, err)
	assert.Equal(t, 8, p.StockQuantity)
}

func TestReimportClearsDeprecation(t *testing.T) {
	ctx := context.Background()
	m, store := newMaterializer(t, materializer.Options{})

	res, err := m.Materialize(ctx, testutil.Payload(t, testutil.SimpleProduct("D1", 100, 4)))
	require.NoError(t, err)

	p, err := store.GetProduct(ctx, res.ProductID)
	require.NoError(t, err)
	p.Deprecated = true
	p.RestoreFailures = 3
	p.MarkUnsellable()
	require.NoError(t, store.SaveProduct(ctx, p))

	_, err = m.Materialize(ctx, testutil.Payload(t, testutil.SimpleProduct("D1", 100, 4)))
	require.NoError(t, err)

	p, err = store.GetProduct(ctx, res.ProductID)
	require.NoError(t, err)
	assert.False(t, p.Deprecated)
	assert.Zero(t, p.RestoreFailures)
	assert.Equal(t, models.StockStatusInStock, p.StockStatus)
}
