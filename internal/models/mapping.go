package models

import "time"

// AttributeMapping links a source attribute key to a local taxonomy. It is
// keyed by key, not name, because source variants reference attributes by key.
type AttributeMapping struct {
	SourceKey         string    `json:"source_key" gorm:"primaryKey;type:varchar(191)"`
	SourceName        string    `json:"source_name" gorm:"index"`
	LocalTaxonomyID   uint      `json:"local_taxonomy_id"`
	LocalTaxonomySlug string    `json:"local_taxonomy_slug"`
	LocalLabel        string    `json:"local_label"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type CategoryMapping struct {
	SourceCategoryID   string    `json:"source_category_id" gorm:"primaryKey;type:varchar(191)"`
	SourceCategoryName string    `json:"source_category_name"`
	LocalCategoryID    uint      `json:"local_category_id"`
	LocalCategoryName  string    `json:"local_category_name"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
