// Package options is the persisted key/value state shared by the import and
// sync engines: the active-job pointer, last-run markers, rate-limit windows,
// short-TTL locks and the progress log ring buffer.
package options

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"catalogsync/internal/database"
	"catalogsync/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Locker is a best-effort mutual exclusion primitive with a TTL. An absent
// key means the lock is free.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, name string) error
}

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) live(tx *gorm.DB) *gorm.DB {
	return tx.Where("(expires_at IS NULL OR expires_at > ?)", s.now())
}

// Get returns the value for key and whether it is present.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var opt models.Option
	err := s.live(s.db.WithContext(ctx)).Where("option_key = ?", key).Take(&opt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get option %s: %w", key, err)
	}
	return opt.Value, true, nil
}

// Set upserts key. ttl <= 0 stores the value without expiry.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	opt := models.Option{Key: key, Value: value, UpdatedAt: s.now()}
	if ttl > 0 {
		exp := s.now().Add(ttl)
		opt.ExpiresAt = &exp
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "option_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
	}).Create(&opt).Error
	if err != nil {
		return fmt.Errorf("set option %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("option_key = ?", key).Delete(&models.Option{}).Error; err != nil {
		return fmt.Errorf("delete option %s: %w", key, err)
	}
	return nil
}

// CompareAndSet replaces old with new. An empty old means "only if absent".
// An empty new deletes the key.
func (s *Store) CompareAndSet(ctx context.Context, key, old, new string) (bool, error) {
	db := s.db.WithContext(ctx)

	if old == "" {
		// expired rows count as absent
		if err := db.Where("option_key = ? AND expires_at IS NOT NULL AND expires_at <= ?", key, s.now()).
			Delete(&models.Option{}).Error; err != nil {
			return false, fmt.Errorf("cas option %s: %w", key, err)
		}
		if new == "" {
			_, ok, err := s.Get(ctx, key)
			return !ok, err
		}
		return s.insertIfAbsent(ctx, key, new, nil)
	}

	var res *gorm.DB
	if new == "" {
		res = s.live(db.Where("option_key = ? AND value = ?", key, old)).Delete(&models.Option{})
	} else {
		res = s.live(db.Model(&models.Option{}).Where("option_key = ? AND value = ?", key, old)).
			Updates(map[string]interface{}{"value": new, "updated_at": s.now()})
	}
	if res.Error != nil {
		return false, fmt.Errorf("cas option %s: %w", key, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// GetTime reads a unix-seconds marker. The zero time means absent.
func (s *Store) GetTime(ctx context.Context, key string) (time.Time, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, err
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return time.Unix(secs, 0), nil
}

func (s *Store) SetTime(ctx context.Context, key string, t time.Time) error {
	return s.Set(ctx, key, strconv.FormatInt(t.Unix(), 10), 0)
}

// GetJSON decodes the value of key into dst and reports presence.
func (s *Store) GetJSON(ctx context.Context, key string, dst interface{}) (bool, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(v), dst); err != nil {
		return false, fmt.Errorf("decode option %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode option %s: %w", key, err)
	}
	return s.Set(ctx, key, string(b), ttl)
}

// TryLock acquires name for ttl. It never blocks.
func (s *Store) TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	key := "lock:" + name
	err := s.db.WithContext(ctx).
		Where("option_key = ? AND expires_at IS NOT NULL AND expires_at <= ?", key, s.now()).
		Delete(&models.Option{}).Error
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", name, err)
	}
	exp := s.now().Add(ttl)
	return s.insertIfAbsent(ctx, key, strconv.FormatInt(s.now().UnixNano(), 10), &exp)
}

func (s *Store) insertIfAbsent(ctx context.Context, key, value string, expiresAt *time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Option{Key: key, Value: value, ExpiresAt: expiresAt, UpdatedAt: s.now()})
	if res.Error != nil {
		if database.IsDuplicateKey(res.Error) {
			return false, nil
		}
		return false, fmt.Errorf("insert option %s: %w", key, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) Unlock(ctx context.Context, name string) error {
	return s.Delete(ctx, "lock:"+name)
}

// LogEntry is one line of a persisted progress log.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// AppendLog appends entries to the ring buffer at key, keeping the newest max.
func (s *Store) AppendLog(ctx context.Context, key string, max int, entries ...LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	var buf []LogEntry
	if _, err := s.GetJSON(ctx, key, &buf); err != nil {
		buf = nil
	}
	buf = append(buf, entries...)
	if max > 0 && len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return s.SetJSON(ctx, key, buf, 0)
}

// RecentLogs returns up to limit newest entries, oldest first.
func (s *Store) RecentLogs(ctx context.Context, key string, limit int) ([]LogEntry, error) {
	var buf []LogEntry
	if _, err := s.GetJSON(ctx, key, &buf); err != nil {
		return nil, err
	}
	if limit > 0 && len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	return buf, nil
}
