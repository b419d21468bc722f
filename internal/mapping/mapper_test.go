package mapping_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"catalogsync/internal/catalog"
	"catalogsync/internal/logger"
	"catalogsync/internal/mapping"
	"catalogsync/internal/models"
	"catalogsync/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newMapper(t *testing.T) (*mapping.Mapper, *catalog.GormStore, *gorm.DB) {
	db := testutil.NewDB(t).DB
	store := catalog.NewStore(db)
	return mapping.New(store, db, logger.Nop()), store, db
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"Color":          "color",
		"  Big  Size ":   "big-size",
		"Café Crème":     "cafe-creme",
		"pa_color":       "pa_color",
		"رنگ بندی":       "رنگ-بندی",
		"--A/B--":        "a-b",
		"":               "",
		"XL (Extra)":     "xl-extra",
		"Größe 42,5 EU.": "große-42-5-eu",
	}
	for in, want := range cases {
		assert.Equal(t, want, mapping.Sanitize(in), in)
	}
}

func TestGetOrCreateAttributeCreatesTaxonomyTermsAndMapping(t *testing.T) {
	ctx := context.Background()
	m, store, db := newMapper(t)

	tax, err := m.GetOrCreateAttribute(ctx, "Color", "Colour", []string{"Red", "Blue", "Red"})
	require.NoError(t, err)
	assert.Equal(t, "color", tax.Slug)
	assert.Equal(t, "Colour", tax.Name)

	terms, err := store.ListTerms(ctx, tax.ID)
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, "red", terms[0].Slug)
	assert.Equal(t, "blue", terms[1].Slug)

	var mappings []models.AttributeMapping
	require.NoError(t, db.Find(&mappings).Error)
	require.Len(t, mappings, 1)
	assert.Equal(t, tax.ID, mappings[0].LocalTaxonomyID)

	m.ResetCache()
	again, err := m.GetOrCreateAttribute(ctx, "Color", "Colour", []string{"red", "Green"})
	require.NoError(t, err)
	assert.Equal(t, tax.ID, again.ID)
	terms, _ = store.ListTerms(ctx, tax.ID)
	assert.Len(t, terms, 3, "red matches by slug, green is new")
}

func TestUserMappingIsHonouredAndPropagates(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newMapper(t)

	size := &models.Taxonomy{Slug: "pa_size", Name: "Size"}
	require.NoError(t, store.CreateTaxonomy(ctx, size))

	_, err := m.SaveAttributeMapping(ctx, "k1", "Size", size.ID)
	require.NoError(t, err)

	tax, err := m.GetOrCreateAttribute(ctx, "k1", "Size", []string{"M"})
	require.NoError(t, err)
	assert.Equal(t, size.ID, tax.ID)

	other := &models.Taxonomy{Slug: "pa_dimension", Name: "Dimension"}
	require.NoError(t, store.CreateTaxonomy(ctx, other))
	// k2 is auto-provisioned under its own taxonomy, then the user remaps k1
	_, err = m.GetOrCreateAttribute(ctx, "k2", "Size", nil)
	require.NoError(t, err)
	_, err = m.SaveAttributeMapping(ctx, "k1", "", other.ID)
	require.NoError(t, err)

	list, err := m.ListAttributeMappings(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, mp := range list {
		assert.Equal(t, other.ID, mp.LocalTaxonomyID, mp.SourceKey)
	}
}

func TestDanglingMappingIsPruned(t *testing.T) {
	ctx := context.Background()
	m, store, db := newMapper(t)

	gone := &models.Taxonomy{Slug: "gone", Name: "Gone"}
	require.NoError(t, store.CreateTaxonomy(ctx, gone))
	_, err := m.SaveAttributeMapping(ctx, "material", "Material", gone.ID)
	require.NoError(t, err)
	require.NoError(t, db.Delete(gone).Error)

	list, err := m.ListAttributeMappings(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	var n int64
	db.Model(&models.AttributeMapping{}).Count(&n)
	assert.Zero(t, n)
}

func TestResolveTermSlugFallbacks(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newMapper(t)

	tax, err := m.GetOrCreateAttribute(ctx, "size", "Size", []string{"Extra Large"})
	require.NoError(t, err)

	slug, found, err := m.ResolveTermSlug(ctx, tax, "Extra Large")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "extra-large", slug)

	slug, found, err = m.ResolveTermSlug(ctx, tax, "extra large")
	require.NoError(t, err)
	assert.True(t, found, "matched by slug")
	assert.Equal(t, "extra-large", slug)

	require.NoError(t, store.CreateTerm(ctx, &models.Term{TaxonomyID: tax.ID, Name: "Small", Slug: "s"}))
	slug, found, err = m.ResolveTermSlug(ctx, tax, "SMALL")
	require.NoError(t, err)
	assert.True(t, found, "matched by case-insensitive scan")
	assert.Equal(t, "s", slug)

	slug, found, err = m.ResolveTermSlug(ctx, tax, "Tiny One")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "tiny-one", slug)
}

func TestGetOrCreateCategory(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newMapper(t)

	c1, err := m.GetOrCreateCategory(ctx, "abc", "Home Decor")
	require.NoError(t, err)
	assert.Equal(t, "home-decor", c1.Slug)

	m.ResetCache()
	c2, err := m.GetOrCreateCategory(ctx, "def", "Home Decor")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID, "same name resolves to the same category")

	target := &models.Category{Name: "Kitchen", Slug: "kitchen"}
	require.NoError(t, store.CreateCategory(ctx, target))
	_, err = m.SaveCategoryMapping(ctx, "abc", "Home Decor", target.ID)
	require.NoError(t, err)

	c3, err := m.GetOrCreateCategory(ctx, "abc", "Home Decor")
	require.NoError(t, err)
	assert.Equal(t, target.ID, c3.ID)

	list, err := m.ListCategoryMappings(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Kitchen", list[0].LocalCategoryName)
}

func TestMapperIsSafeForConcurrentUse(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newMapper(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8*10*2)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				key := fmt.Sprintf("attr-%d-%d", g, i%3)
				if _, err := m.GetOrCreateAttribute(ctx, key, key, []string{"A"}); err != nil {
					errs <- err
				}
				if _, err := m.GetOrCreateCategory(ctx, fmt.Sprintf("cat-%d", g), fmt.Sprintf("Cat %d", g)); err != nil {
					errs <- err
				}
				if i%4 == 0 {
					m.ResetCache()
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}
