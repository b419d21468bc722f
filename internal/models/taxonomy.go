package models

import "time"

// Taxonomy is a local attribute taxonomy (for example "pa_color").
type Taxonomy struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Slug      string    `json:"slug" gorm:"uniqueIndex;not null"`
	Name      string    `json:"name" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
}

type Term struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	TaxonomyID uint      `json:"taxonomy_id" gorm:"uniqueIndex:idx_terms_taxonomy_slug;not null"`
	Name       string    `json:"name" gorm:"not null"`
	Slug       string    `json:"slug" gorm:"uniqueIndex:idx_terms_taxonomy_slug;not null"`
	CreatedAt  time.Time `json:"created_at"`
}

type Category struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"not null"`
	Slug      string    `json:"slug" gorm:"uniqueIndex;not null"`
	CreatedAt time.Time `json:"created_at"`
}
