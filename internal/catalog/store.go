// Package catalog is the local product catalog: products, variations,
// attribute taxonomies with their terms, and categories.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"catalogsync/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("not found")

// Store is the catalog surface used by the import and sync engines.
type Store interface {
	GetProduct(ctx context.Context, id uint) (*models.Product, error)
	FindProductBySKU(ctx context.Context, sku string) (*models.Product, error)
	CreateProduct(ctx context.Context, p *models.Product) error
	SaveProduct(ctx context.Context, p *models.Product) error
	SetCategories(ctx context.Context, p *models.Product, categories []models.Category) error
	ListProducts(ctx context.Context, filter ProductFilter) ([]models.Product, int64, error)
	ListStaleProducts(ctx context.Context, cutoff time.Time, maxFailures, limit int) ([]models.Product, error)

	GetVariation(ctx context.Context, id uint) (*models.Variation, error)
	ListVariations(ctx context.Context, productID uint) ([]models.Variation, error)
	FindVariationBySourceID(ctx context.Context, productID uint, sourceVariantID string) (*models.Variation, error)
	CreateVariation(ctx context.Context, v *models.Variation) error
	SaveVariation(ctx context.Context, v *models.Variation) error
	DeleteVariations(ctx context.Context, productID uint) (int64, error)

	GetTaxonomy(ctx context.Context, id uint) (*models.Taxonomy, error)
	FindTaxonomyBySlug(ctx context.Context, slug string) (*models.Taxonomy, error)
	CreateTaxonomy(ctx context.Context, t *models.Taxonomy) error
	ListTerms(ctx context.Context, taxonomyID uint) ([]models.Term, error)
	FindTermByName(ctx context.Context, taxonomyID uint, name string) (*models.Term, error)
	FindTermBySlug(ctx context.Context, taxonomyID uint, slug string) (*models.Term, error)
	CreateTerm(ctx context.Context, t *models.Term) error

	GetCategory(ctx context.Context, id uint) (*models.Category, error)
	FindCategoryBySlug(ctx context.Context, slug string) (*models.Category, error)
	CreateCategory(ctx context.Context, c *models.Category) error
}

// ProductFilter narrows ListProducts.
type ProductFilter struct {
	Page       int
	Limit      int
	Search     string
	Type       models.ProductType
	Deprecated *bool
}

type GormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to fetch %s: %w", what, err)
}

func (s *GormStore) GetProduct(ctx context.Context, id uint) (*models.Product, error) {
	var p models.Product
	if err := s.db.WithContext(ctx).Preload("Categories").First(&p, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("product %d", id))
	}
	return &p, nil
}

func (s *GormStore) FindProductBySKU(ctx context.Context, sku string) (*models.Product, error) {
	var p models.Product
	err := s.db.WithContext(ctx).Preload("Categories").
		Where("source_sku = ?", sku).Order("id").First(&p).Error
	if err != nil {
		return nil, notFound(err, "product "+sku)
	}
	return &p, nil
}

func (s *GormStore) CreateProduct(ctx context.Context, p *models.Product) error {
	if err := s.db.WithContext(ctx).Omit("Categories").Create(p).Error; err != nil {
		return fmt.Errorf("failed to create product %s: %w", p.SourceSKU, err)
	}
	return nil
}

// SaveProduct writes every column of p. Category links are left alone.
func (s *GormStore) SaveProduct(ctx context.Context, p *models.Product) error {
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Save(p).Error; err != nil {
		return fmt.Errorf("failed to save product %d: %w", p.ID, err)
	}
	return nil
}

func (s *GormStore) SetCategories(ctx context.Context, p *models.Product, categories []models.Category) error {
	if err := s.db.WithContext(ctx).Model(p).Association("Categories").Replace(categories); err != nil {
		return fmt.Errorf("failed to assign categories to product %d: %w", p.ID, err)
	}
	return nil
}

func (s *GormStore) ListProducts(ctx context.Context, f ProductFilter) ([]models.Product, int64, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 200 {
		f.Limit = 20
	}

	query := s.db.WithContext(ctx).Model(&models.Product{})
	if f.Search != "" {
		like := "%" + f.Search + "%"
		query = query.Where("(name LIKE ? OR source_sku LIKE ?)", like, like)
	}
	if f.Type != "" {
		query = query.Where("type = ?", f.Type)
	}
	if f.Deprecated != nil {
		query = query.Where("deprecated = ?", *f.Deprecated)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	var products []models.Product
	err := query.Preload("Categories").Order("id").
		Offset((f.Page - 1) * f.Limit).Limit(f.Limit).Find(&products).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}
	return products, total, nil
}

// ListStaleProducts returns source-managed products last synced before
// cutoff (or never), skipping those that failed restoration maxFailures
// times or more. Never-synced products come first.
func (s *GormStore) ListStaleProducts(ctx context.Context, cutoff time.Time, maxFailures, limit int) ([]models.Product, error) {
	var products []models.Product
	err := s.db.WithContext(ctx).
		Where("source_sku <> ''").
		Where("(last_sync_at IS NULL OR last_sync_at < ?)", cutoff).
		Where("restore_failures < ?", maxFailures).
		Order("CASE WHEN last_sync_at IS NULL THEN 0 ELSE 1 END, last_sync_at, id").
		Limit(limit).
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale products: %w", err)
	}
	return products, nil
}

func (s *GormStore) GetVariation(ctx context.Context, id uint) (*models.Variation, error) {
	var v models.Variation
	if err := s.db.WithContext(ctx).First(&v, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("variation %d", id))
	}
	return &v, nil
}

func (s *GormStore) ListVariations(ctx context.Context, productID uint) ([]models.Variation, error) {
	var vars []models.Variation
	if err := s.db.WithContext(ctx).Where("product_id = ?", productID).Order("id").Find(&vars).Error; err != nil {
		return nil, fmt.Errorf("failed to list variations of product %d: %w", productID, err)
	}
	return vars, nil
}

func (s *GormStore) FindVariationBySourceID(ctx context.Context, productID uint, sourceVariantID string) (*models.Variation, error) {
	var v models.Variation
	err := s.db.WithContext(ctx).
		Where("product_id = ? AND source_variant_id = ?", productID, sourceVariantID).
		Order("id").First(&v).Error
	if err != nil {
		return nil, notFound(err, "variation "+sourceVariantID)
	}
	return &v, nil
}

func (s *GormStore) CreateVariation(ctx context.Context, v *models.Variation) error {
	if err := s.db.WithContext(ctx).Create(v).Error; err != nil {
		return fmt.Errorf("failed to create variation %s: %w", v.SourceVariantID, err)
	}
	return nil
}

func (s *GormStore) SaveVariation(ctx context.Context, v *models.Variation) error {
	if err := s.db.WithContext(ctx).Save(v).Error; err != nil {
		return fmt.Errorf("failed to save variation %d: %w", v.ID, err)
	}
	return nil
}

func (s *GormStore) DeleteVariations(ctx context.Context, productID uint) (int64, error) {
	res := s.db.WithContext(ctx).Where("product_id = ?", productID).Delete(&models.Variation{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete variations of product %d: %w", productID, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) GetTaxonomy(ctx context.Context, id uint) (*models.Taxonomy, error) {
	var t models.Taxonomy
	if err := s.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("taxonomy %d", id))
	}
	return &t, nil
}

func (s *GormStore) FindTaxonomyBySlug(ctx context.Context, slug string) (*models.Taxonomy, error) {
	var t models.Taxonomy
	if err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&t).Error; err != nil {
		return nil, notFound(err, "taxonomy "+slug)
	}
	return &t, nil
}

func (s *GormStore) CreateTaxonomy(ctx context.Context, t *models.Taxonomy) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("failed to create taxonomy %s: %w", t.Slug, err)
	}
	return nil
}

func (s *GormStore) ListTerms(ctx context.Context, taxonomyID uint) ([]models.Term, error) {
	var terms []models.Term
	if err := s.db.WithContext(ctx).Where("taxonomy_id = ?", taxonomyID).Order("id").Find(&terms).Error; err != nil {
		return nil, fmt.Errorf("failed to list terms of taxonomy %d: %w", taxonomyID, err)
	}
	return terms, nil
}

func (s *GormStore) FindTermByName(ctx context.Context, taxonomyID uint, name string) (*models.Term, error) {
	var t models.Term
	err := s.db.WithContext(ctx).Where("taxonomy_id = ? AND name = ?", taxonomyID, name).First(&t).Error
	if err != nil {
		return nil, notFound(err, "term "+name)
	}
	return &t, nil
}

func (s *GormStore) FindTermBySlug(ctx context.Context, taxonomyID uint, slug string) (*models.Term, error) {
	var t models.Term
	err := s.db.WithContext(ctx).Where("taxonomy_id = ? AND slug = ?", taxonomyID, slug).First(&t).Error
	if err != nil {
		return nil, notFound(err, "term "+slug)
	}
	return &t, nil
}

func (s *GormStore) CreateTerm(ctx context.Context, t *models.Term) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("failed to create term %s: %w", t.Slug, err)
	}
	return nil
}

func (s *GormStore) GetCategory(ctx context.Context, id uint) (*models.Category, error) {
	var c models.Category
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("category %d", id))
	}
	return &c, nil
}

func (s *GormStore) FindCategoryBySlug(ctx context.Context, slug string) (*models.Category, error) {
	var c models.Category
	if err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&c).Error; err != nil {
		return nil, notFound(err, "category "+slug)
	}
	return &c, nil
}

func (s *GormStore) CreateCategory(ctx context.Context, c *models.Category) error {
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("failed to create category %s: %w", c.Slug, err)
	}
	return nil
}
