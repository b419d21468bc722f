package database

import (
	"errors"
	"fmt"
	"testing"

	"catalogsync/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestNewSQLiteMigrates(t *testing.T) {
	db, err := New(fmt.Sprintf("sqlite://file:%s?mode=memory&cache=shared", uuid.New().String()))
	require.NoError(t, err)
	defer db.Close()

	assert.True(t, db.DB.Migrator().HasTable(&models.StagedProduct{}))
	assert.True(t, db.DB.Migrator().HasTable(&models.ImportJob{}))
	assert.True(t, db.DB.Migrator().HasTable("product_categories"))
}

func TestIsDuplicateKey(t *testing.T) {
	db, err := New(fmt.Sprintf("sqlite://file:%s?mode=memory&cache=shared", uuid.New().String()))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.DB.Create(&models.Taxonomy{Slug: "color", Name: "Color"}).Error)
	err = db.DB.Create(&models.Taxonomy{Slug: "color", Name: "Colour"}).Error
	require.Error(t, err)
	assert.True(t, IsDuplicateKey(err))

	assert.True(t, IsDuplicateKey(fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})))
	assert.True(t, IsDuplicateKey(gorm.ErrDuplicatedKey))
	assert.False(t, IsDuplicateKey(errors.New("connection reset")))
	assert.False(t, IsDuplicateKey(nil))
}

type recordingWriter struct{ lines []string }

func (w *recordingWriter) Printf(format string, args ...interface{}) {
	w.lines = append(w.lines, fmt.Sprintf(format, args...))
}

func TestGormLoggerSkipsRecordNotFound(t *testing.T) {
	w := &recordingWriter{}
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())),
		&gorm.Config{Logger: newGormLogger(w)})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	w.lines = nil

	var tax models.Taxonomy
	err = db.Where("slug = ?", "missing").First(&tax).Error
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.Empty(t, w.lines)

	err = db.Table("no_such_table").Where("id = ?", 1).First(&tax).Error
	require.Error(t, err)
	assert.NotEmpty(t, w.lines)
}
