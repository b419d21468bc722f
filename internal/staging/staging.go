// Package staging holds source product payloads waiting to be materialized.
// A row is pending, failed, or absent; nothing else.
package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"catalogsync/internal/models"
	"catalogsync/internal/source"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StageResult summarises one Stage call.
type StageResult struct {
	Total   int `json:"total"`
	Queued  int `json:"queued"`
	Skipped int `json:"skipped"`
}

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the time source, for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Reset removes every staged row.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&models.StagedProduct{}).Error; err != nil {
		return fmt.Errorf("failed to reset staging: %w", err)
	}
	return nil
}

// Stage upserts payloads by SKU. Re-staging a SKU replaces the payload and
// resets it to pending. Records that do not decode or carry no SKU are skipped.
func (s *Store) Stage(ctx context.Context, payloads []json.RawMessage) (*StageResult, error) {
	res := &StageResult{Total: len(payloads)}
	rows := make([]models.StagedProduct, 0, len(payloads))
	seen := make(map[string]int, len(payloads))

	for _, raw := range payloads {
		p, err := source.Decode(raw)
		if err != nil {
			res.Skipped++
			continue
		}
		sku := strings.TrimSpace(p.SKU())
		if sku == "" {
			res.Skipped++
			continue
		}
		row := models.StagedProduct{
			SKU:       sku,
			Payload:   datatypes.JSON(raw),
			Status:    models.StagedStatusPending,
			CreatedAt: s.now(),
			UpdatedAt: s.now(),
		}
		// last occurrence in one page wins
		if i, ok := seen[sku]; ok {
			rows[i] = row
			continue
		}
		seen[sku] = len(rows)
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return res, nil
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sku"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "status", "error", "updated_at"}),
	}).CreateInBatches(rows, 100).Error
	if err != nil {
		return nil, fmt.Errorf("failed to stage products: %w", err)
	}
	res.Queued = len(rows)
	return res, nil
}

func (s *Store) count(ctx context.Context, status models.StagedStatus) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.StagedProduct{}).
		Where("status = ?", status).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count %s rows: %w", status, err)
	}
	return int(n), nil
}

func (s *Store) CountPending(ctx context.Context) (int, error) {
	return s.count(ctx, models.StagedStatusPending)
}

func (s *Store) CountFailed(ctx context.Context) (int, error) {
	return s.count(ctx, models.StagedStatusFailed)
}

// GetPendingBatch returns up to limit pending rows, oldest staged first.
func (s *Store) GetPendingBatch(ctx context.Context, limit int) ([]models.StagedProduct, error) {
	var rows []models.StagedProduct
	err := s.db.WithContext(ctx).
		Where("status = ?", models.StagedStatusPending).
		Order("created_at, sku").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending batch: %w", err)
	}
	return rows, nil
}

func (s *Store) Delete(ctx context.Context, skus []string) error {
	if len(skus) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("sku IN ?", skus).Delete(&models.StagedProduct{}).Error; err != nil {
		return fmt.Errorf("failed to delete staged rows: %w", err)
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, sku, reason string) error {
	err := s.db.WithContext(ctx).Model(&models.StagedProduct{}).
		Where("sku = ?", sku).
		Updates(map[string]interface{}{
			"status":     models.StagedStatusFailed,
			"error":      reason,
			"updated_at": s.now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark %s failed: %w", sku, err)
	}
	return nil
}

// RequeueFailed moves every failed row back to pending and returns how many
// were moved. Failed rows are never requeued automatically.
func (s *Store) RequeueFailed(ctx context.Context) (int, error) {
	res := s.db.WithContext(ctx).Model(&models.StagedProduct{}).
		Where("status = ?", models.StagedStatusFailed).
		Updates(map[string]interface{}{
			"status":     models.StagedStatusPending,
			"error":      "",
			"updated_at": s.now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to requeue failed rows: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// ListFailed returns failed rows with their recorded reason.
func (s *Store) ListFailed(ctx context.Context, limit int) ([]models.StagedProduct, error) {
	var rows []models.StagedProduct
	err := s.db.WithContext(ctx).
		Select("sku", "status", "error", "created_at", "updated_at").
		Where("status = ?", models.StagedStatusFailed).
		Order("updated_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list failed rows: %w", err)
	}
	return rows, nil
}
