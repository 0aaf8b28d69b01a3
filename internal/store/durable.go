package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/storefront/internal/conf"
	"github.com/tphakala/storefront/internal/errors"
	"github.com/tphakala/storefront/internal/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

// kvEntry is one row of the durable store.
type kvEntry struct {
	Key       string `gorm:"column:entry_key;primaryKey;size:191"`
	Value     string `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time
}

func (kvEntry) TableName() string { return "kv_entries" }

// DurableStore is the restart-surviving scope, a single table accessed
// through GORM on SQLite or MySQL.
type DurableStore struct {
	db     *gorm.DB
	driver string
	log    logger.Logger
}

// OpenDurable opens (and migrates) the durable store described by settings.
func OpenDurable(settings *conf.StoreSettings) (*DurableStore, error) {
	log := getLogger()

	var dialector gorm.Dialector
	switch settings.Driver {
	case "", "sqlite":
		if settings.Path != ":memory:" {
			if dir := filepath.Dir(settings.Path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, errors.New(fmt.Errorf("create store directory: %w", err)).
						Component("store").
						Category(errors.CategorySystem).
						Context("path", settings.Path).
						Build()
				}
			}
		}
		dialector = sqlite.Open(settings.Path)
	case "mysql":
		dialector = mysql.Open(settings.DSN)
	default:
		return nil, errors.Newf("unsupported store driver %q", settings.Driver).
			Component("store").
			Category(errors.CategoryConfiguration).
			Build()
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, slowQueryThreshold),
	})
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open %s store: %w", settings.Driver, err)).
			Component("store").
			Category(errors.CategoryDatabase).
			Build()
	}

	return newDurable(db, settings.Driver, log)
}

// NewDurable wraps an already opened GORM connection.
func NewDurable(db *gorm.DB) (*DurableStore, error) {
	return newDurable(db, db.Name(), getLogger())
}

func newDurable(db *gorm.DB, driver string, log logger.Logger) (*DurableStore, error) {
	if driver == "" || driver == "sqlite" {
		// one writer avoids SQLITE_BUSY and keeps :memory: databases shared
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	if err := db.AutoMigrate(&kvEntry{}); err != nil {
		return nil, errors.New(fmt.Errorf("failed to migrate kv_entries: %w", err)).
			Component("store").
			Category(errors.CategoryDatabase).
			Build()
	}

	log.Debug("durable store ready", logger.String("driver", driver))
	return &DurableStore{db: db, driver: driver, log: log}, nil
}

func (s *DurableStore) Get(key string, out any) (bool, error) {
	var entry kvEntry
	err := s.db.Where("entry_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dbError(err, "get", key)
	}
	return true, decode(key, []byte(entry.Value), out)
}

func (s *DurableStore) Set(key string, value any) error {
	data, err := encode(key, value)
	if err != nil {
		return err
	}

	entry := kvEntry{Key: key, Value: string(data), UpdatedAt: time.Now()}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return dbError(err, "set", key)
	}
	return nil
}

func (s *DurableStore) Remove(key string) error {
	if err := s.db.Where("entry_key = ?", key).Delete(&kvEntry{}).Error; err != nil {
		return dbError(err, "remove", key)
	}
	return nil
}

func (s *DurableStore) RemovePrefix(prefix string) (int, error) {
	result := s.prefixScope(prefix).Delete(&kvEntry{})
	if result.Error != nil {
		return 0, dbError(result.Error, "remove_prefix", prefix)
	}
	return int(result.RowsAffected), nil
}

func (s *DurableStore) Keys(prefix string) ([]string, error) {
	var keys []string
	if err := s.prefixScope(prefix).Model(&kvEntry{}).Pluck("entry_key", &keys).Error; err != nil {
		return nil, dbError(err, "keys", prefix)
	}
	return keys, nil
}

// prefixScope matches on SUBSTR so key characters never act as LIKE wildcards.
func (s *DurableStore) prefixScope(prefix string) *gorm.DB {
	if prefix == "" {
		return s.db.Where("1 = 1")
	}
	return s.db.Where("SUBSTR(entry_key, 1, ?) = ?", len(prefix), prefix)
}

// Close releases the underlying connection pool.
func (s *DurableStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "close", "")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close", "")
	}
	return nil
}

func dbError(err error, op, key string) error {
	return errors.New(fmt.Errorf("store %s: %w", op, err)).
		Component("store").
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Context("key", key).
		Build()
}
