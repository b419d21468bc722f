// Package mapping resolves source attributes and categories to local
// taxonomies, terms and categories, creating them on first sight.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"catalogsync/internal/apperr"
	"catalogsync/internal/catalog"
	"catalogsync/internal/database"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Mapper struct {
	store  catalog.Store
	db     *gorm.DB
	logger *logger.Logger

	// cleared between batches, guarded by mu
	mu        sync.Mutex
	attrCache map[string]*models.Taxonomy
	catCache  map[string]*models.Category
}

func New(store catalog.Store, db *gorm.DB, logger *logger.Logger) *Mapper {
	return &Mapper{
		store:     store,
		db:        db,
		logger:    logger,
		attrCache: make(map[string]*models.Taxonomy),
		catCache:  make(map[string]*models.Category),
	}
}

// ResetCache drops the per-batch lookup cache.
func (m *Mapper) ResetCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attrCache = make(map[string]*models.Taxonomy)
	m.catCache = make(map[string]*models.Category)
}

func (m *Mapper) cachedAttribute(key string) (*models.Taxonomy, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tax, ok := m.attrCache[key]
	return tax, ok
}

func (m *Mapper) cacheAttribute(key string, tax *models.Taxonomy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attrCache[key] = tax
}

func (m *Mapper) cachedCategory(key string) (*models.Category, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.catCache[key]
	return c, ok
}

func (m *Mapper) cacheCategory(key string, c *models.Category) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catCache[key] = c
}

// GetOrCreateAttribute returns the taxonomy for a source attribute key and
// makes sure every value exists as a term under it. Resolution order: a
// taxonomy whose slug is the sanitized key, then a stored mapping for the
// key, then a new taxonomy named after the source label.
func (m *Mapper) GetOrCreateAttribute(ctx context.Context, key, name string, values []string) (*models.Taxonomy, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("attribute key is empty")
	}

	tax, ok := m.cachedAttribute(key)
	if !ok {
		var err error
		tax, err = m.resolveAttribute(ctx, key, name)
		if err != nil {
			return nil, err
		}
		m.cacheAttribute(key, tax)
	}

	for _, v := range values {
		if _, err := m.EnsureTerm(ctx, tax, v); err != nil {
			return nil, err
		}
	}
	return tax, nil
}

func (m *Mapper) resolveAttribute(ctx context.Context, key, name string) (*models.Taxonomy, error) {
	slug := Sanitize(key)
	if slug == "" {
		return nil, fmt.Errorf("attribute key %q has no usable slug", key)
	}

	tax, err := m.store.FindTaxonomyBySlug(ctx, slug)
	if err == nil {
		return tax, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return nil, err
	}

	mapping, err := m.findAttributeMapping(ctx, key)
	if err != nil {
		return nil, err
	}
	if mapping != nil {
		tax, err := m.store.GetTaxonomy(ctx, mapping.LocalTaxonomyID)
		if err == nil {
			return tax, nil
		}
		if !errors.Is(err, catalog.ErrNotFound) {
			return nil, err
		}
		m.logger.Warn("Pruning attribute mapping %s: taxonomy %d is gone", key, mapping.LocalTaxonomyID)
		if err := m.db.WithContext(ctx).Delete(mapping).Error; err != nil {
			return nil, fmt.Errorf("failed to prune mapping %s: %w", key, err)
		}
	}

	label := strings.TrimSpace(name)
	if label == "" {
		label = key
	}
	tax = &models.Taxonomy{Slug: slug, Name: label}
	if err := m.store.CreateTaxonomy(ctx, tax); err != nil {
		if !database.IsDuplicateKey(err) {
			return nil, fmt.Errorf("attribute %s: %w", key, err)
		}
		if tax, err = m.store.FindTaxonomyBySlug(ctx, slug); err != nil {
			return nil, fmt.Errorf("attribute %s: %w", key, err)
		}
	}
	m.logger.Debug("Created taxonomy %s for attribute %s", tax.Slug, key)

	err = m.upsertAttributeMapping(ctx, &models.AttributeMapping{
		SourceKey:         key,
		SourceName:        label,
		LocalTaxonomyID:   tax.ID,
		LocalTaxonomySlug: tax.Slug,
		LocalLabel:        tax.Name,
	})
	if err != nil {
		return nil, err
	}
	return tax, nil
}

// EnsureTerm finds value under tax by exact name, then by slug, and creates
// it otherwise. A concurrent insert of the same slug counts as success.
func (m *Mapper) EnsureTerm(ctx context.Context, tax *models.Taxonomy, value string) (*models.Term, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty value for taxonomy %s", tax.Slug)
	}

	term, err := m.store.FindTermByName(ctx, tax.ID, value)
	if err == nil {
		return term, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return nil, err
	}

	slug := Sanitize(value)
	if slug == "" {
		return nil, fmt.Errorf("value %q of taxonomy %s has no usable slug", value, tax.Slug)
	}
	term, err = m.store.FindTermBySlug(ctx, tax.ID, slug)
	if err == nil {
		return term, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return nil, err
	}

	term = &models.Term{TaxonomyID: tax.ID, Name: value, Slug: slug}
	if err := m.store.CreateTerm(ctx, term); err != nil {
		if !database.IsDuplicateKey(err) {
			return nil, err
		}
		return m.store.FindTermBySlug(ctx, tax.ID, slug)
	}
	return term, nil
}

// ResolveTermSlug finds the term slug for value: exact name, then slug, then
// a case-insensitive scan. When nothing matches it returns the sanitized
// value with found=false.
func (m *Mapper) ResolveTermSlug(ctx context.Context, tax *models.Taxonomy, value string) (string, bool, error) {
	value = strings.TrimSpace(value)

	term, err := m.store.FindTermByName(ctx, tax.ID, value)
	if err == nil {
		return term.Slug, true, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return "", false, err
	}

	slug := Sanitize(value)
	term, err = m.store.FindTermBySlug(ctx, tax.ID, slug)
	if err == nil {
		return term.Slug, true, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return "", false, err
	}

	terms, err := m.store.ListTerms(ctx, tax.ID)
	if err != nil {
		return "", false, err
	}
	for _, t := range terms {
		if strings.EqualFold(t.Name, value) || strings.EqualFold(t.Slug, slug) {
			return t.Slug, true, nil
		}
	}
	return slug, false, nil
}

// GetOrCreateCategory returns the local category for a source category. A
// stored mapping wins; otherwise a category named after the source is used
// or created.
func (m *Mapper) GetOrCreateCategory(ctx context.Context, sourceID, name string) (*models.Category, error) {
	cacheKey := sourceID
	if cacheKey == "" {
		cacheKey = "name:" + name
	}
	if c, ok := m.cachedCategory(cacheKey); ok {
		return c, nil
	}

	if sourceID != "" {
		var mapping models.CategoryMapping
		err := m.db.WithContext(ctx).Where("source_category_id = ?", sourceID).First(&mapping).Error
		switch {
		case err == nil:
			c, err := m.store.GetCategory(ctx, mapping.LocalCategoryID)
			if err == nil {
				m.cacheCategory(cacheKey, c)
				return c, nil
			}
			if !errors.Is(err, catalog.ErrNotFound) {
				return nil, err
			}
			m.logger.Warn("Pruning category mapping %s: category %d is gone", sourceID, mapping.LocalCategoryID)
			if err := m.db.WithContext(ctx).Delete(&mapping).Error; err != nil {
				return nil, fmt.Errorf("failed to prune category mapping %s: %w", sourceID, err)
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, fmt.Errorf("failed to fetch category mapping %s: %w", sourceID, err)
		}
	}

	label := strings.TrimSpace(name)
	if label == "" {
		label = sourceID
	}
	slug := Sanitize(label)
	if slug == "" {
		return nil, fmt.Errorf("category %q has no usable slug", sourceID)
	}

	c, err := m.store.FindCategoryBySlug(ctx, slug)
	if err != nil {
		if !errors.Is(err, catalog.ErrNotFound) {
			return nil, err
		}
		c = &models.Category{Name: label, Slug: slug}
		if err := m.store.CreateCategory(ctx, c); err != nil {
			if !database.IsDuplicateKey(err) {
				return nil, err
			}
			if c, err = m.store.FindCategoryBySlug(ctx, slug); err != nil {
				return nil, err
			}
		}
	}
	m.cacheCategory(cacheKey, c)
	return c, nil
}

func (m *Mapper) findAttributeMapping(ctx context.Context, key string) (*models.AttributeMapping, error) {
	var mapping models.AttributeMapping
	err := m.db.WithContext(ctx).Where("source_key = ?", key).First(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch attribute mapping %s: %w", key, err)
	}
	return &mapping, nil
}

func (m *Mapper) upsertAttributeMapping(ctx context.Context, mapping *models.AttributeMapping) error {
	err := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"source_name", "local_taxonomy_id", "local_taxonomy_slug", "local_label", "updated_at",
		}),
	}).Create(mapping).Error
	if err != nil {
		return fmt.Errorf("failed to save attribute mapping %s: %w", mapping.SourceKey, err)
	}
	return nil
}

// SaveAttributeMapping points key at a local taxonomy. Every other key with
// the same source name is moved to the same taxonomy.
func (m *Mapper) SaveAttributeMapping(ctx context.Context, key, name string, taxonomyID uint) (*models.AttributeMapping, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, apperr.BadRequest("attribute key is empty", nil)
	}
	tax, err := m.store.GetTaxonomy(ctx, taxonomyID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		if existing, err := m.findAttributeMapping(ctx, key); err != nil {
			return nil, err
		} else if existing != nil {
			name = existing.SourceName
		}
	}

	mapping := &models.AttributeMapping{
		SourceKey:         key,
		SourceName:        strings.TrimSpace(name),
		LocalTaxonomyID:   tax.ID,
		LocalTaxonomySlug: tax.Slug,
		LocalLabel:        tax.Name,
	}
	if err := m.upsertAttributeMapping(ctx, mapping); err != nil {
		return nil, err
	}

	if mapping.SourceName != "" {
		err := m.db.WithContext(ctx).Model(&models.AttributeMapping{}).
			Where("source_name = ? AND source_key <> ?", mapping.SourceName, key).
			Updates(map[string]interface{}{
				"local_taxonomy_id":   tax.ID,
				"local_taxonomy_slug": tax.Slug,
				"local_label":         tax.Name,
			}).Error
		if err != nil {
			return nil, fmt.Errorf("failed to propagate mapping %s: %w", key, err)
		}
	}

	m.ResetCache()
	return mapping, nil
}

// ListAttributeMappings returns every mapping, pruning those whose taxonomy
// no longer exists.
func (m *Mapper) ListAttributeMappings(ctx context.Context) ([]models.AttributeMapping, error) {
	var all []models.AttributeMapping
	if err := m.db.WithContext(ctx).Order("source_name, source_key").Find(&all).Error; err != nil {
		return nil, fmt.Errorf("failed to list attribute mappings: %w", err)
	}

	out := make([]models.AttributeMapping, 0, len(all))
	for i := range all {
		_, err := m.store.GetTaxonomy(ctx, all[i].LocalTaxonomyID)
		if errors.Is(err, catalog.ErrNotFound) {
			m.logger.Warn("Pruning attribute mapping %s: taxonomy %d is gone", all[i].SourceKey, all[i].LocalTaxonomyID)
			if err := m.db.WithContext(ctx).Delete(&all[i]).Error; err != nil {
				return nil, fmt.Errorf("failed to prune mapping %s: %w", all[i].SourceKey, err)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, all[i])
	}
	return out, nil
}

func (m *Mapper) SaveCategoryMapping(ctx context.Context, sourceID, sourceName string, categoryID uint) (*models.CategoryMapping, error) {
	if strings.TrimSpace(sourceID) == "" {
		return nil, apperr.BadRequest("source category id is empty", nil)
	}
	c, err := m.store.GetCategory(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	mapping := &models.CategoryMapping{
		SourceCategoryID:   sourceID,
		SourceCategoryName: sourceName,
		LocalCategoryID:    c.ID,
		LocalCategoryName:  c.Name,
	}
	err = m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_category_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"source_category_name", "local_category_id", "local_category_name", "updated_at"}),
	}).Create(mapping).Error
	if err != nil {
		return nil, fmt.Errorf("failed to save category mapping %s: %w", sourceID, err)
	}
	m.ResetCache()
	return mapping, nil
}

func (m *Mapper) ListCategoryMappings(ctx context.Context) ([]models.CategoryMapping, error) {
	var all []models.CategoryMapping
	if err := m.db.WithContext(ctx).Order("source_category_name, source_category_id").Find(&all).Error; err != nil {
		return nil, fmt.Errorf("failed to list category mappings: %w", err)
	}

	out := make([]models.CategoryMapping, 0, len(all))
	for i := range all {
		_, err := m.store.GetCategory(ctx, all[i].LocalCategoryID)
		if errors.Is(err, catalog.ErrNotFound) {
			if err := m.db.WithContext(ctx).Delete(&all[i]).Error; err != nil {
				return nil, fmt.Errorf("failed to prune category mapping %s: %w", all[i].SourceCategoryID, err)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, all[i])
	}
	return out, nil
}
