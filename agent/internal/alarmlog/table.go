package alarmlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/webhealth/canary/agent/internal/config"
)

// Table is a key-sorted store with upsert semantics.
type Table interface {
	// Upsert writes e, replacing any row with the same key.
	Upsert(ctx context.Context, e Entry) error
	Get(ctx context.Context, partition, sortKey string) (Entry, bool, error)
	List(ctx context.Context, q Query) ([]Entry, error)
}

// Query selects entries for List. Zero fields do not filter.
type Query struct {
	Partition string
	Since     time.Time
	Limit     int
}

const defaultListLimit = 100

// GormTable implements Table on a SQL database through gorm.
type GormTable struct {
	db *gorm.DB
}

// Open connects to the database of cfg and migrates the alarm_log table.
func Open(cfg config.AlarmLogConfig) (*GormTable, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("alarmlog: dialector(%s) not supported", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("alarmlog: open %s: %w", cfg.Driver, err)
	}
	return NewGormTable(db)
}

// NewGormTable wraps an open database and migrates the alarm_log table.
func NewGormTable(db *gorm.DB) (*GormTable, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("alarmlog: migrate: %w", err)
	}
	return &GormTable{db: db}, nil
}

func (t *GormTable) Upsert(ctx context.Context, e Entry) error {
	err := t.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pk"}, {Name: "sk"}},
			UpdateAll: true,
		}).
		Create(&e).Error
	if err != nil {
		return fmt.Errorf("alarmlog: upsert %s/%s: %w", e.Partition, e.SortKey, err)
	}
	return nil
}

func (t *GormTable) Get(ctx context.Context, partition, sortKey string) (Entry, bool, error) {
	var e Entry
	err := t.db.WithContext(ctx).
		Where("pk = ? AND sk = ?", partition, sortKey).
		Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("alarmlog: get %s/%s: %w", partition, sortKey, err)
	}
	return e, true, nil
}

// List returns entries newest first.
func (t *GormTable) List(ctx context.Context, q Query) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	tx := t.db.WithContext(ctx).Model(&Entry{})
	if q.Partition != "" {
		tx = tx.Where("pk = ?", q.Partition)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("sk >= ?", SortKey(q.Since))
	}
	var out []Entry
	if err := tx.Order("sk DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("alarmlog: list: %w", err)
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (t *GormTable) Close() error {
	sqlDB, err := t.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// slogWriter routes gorm's logger output through slog.
type slogWriter struct{}

func (slogWriter) Printf(format string, args ...any) {
	slog.Warn("alarmlog: gorm", "msg", strings.TrimSpace(fmt.Sprintf(format, args...)))
}

var gormLogger = logger.New(slogWriter{}, logger.Config{
	SlowThreshold:             2 * time.Second,
	LogLevel:                  logger.Warn,
	IgnoreRecordNotFoundError: true,
	Colorful:                  false,
})
