package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"quoter_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// FillRecord is one executed trade persisted for post-mortem analysis.
// TradeID carries a unique index so stream replays dedup at the database
// the same way the in-memory ledger does.
type FillRecord struct {
	ID       uint   `gorm:"primaryKey"`
	TradeID  int64  `gorm:"uniqueIndex"`
	MarketID int64  `gorm:"index"`
	RunID    string `gorm:"index"`
	Type     string
	Size     float64
	Price    float64
	FilledAt time.Time
}

// BalanceSnapshot is one periodic portfolio-value reading.
type BalanceSnapshot struct {
	ID             uint   `gorm:"primaryKey"`
	RunID          string `gorm:"index"`
	PortfolioValue float64
	CreatedAt      time.Time
}

// Storage defines the interface for data persistence
type Storage struct {
	db *gorm.DB
}

// NewStorage creates a new SQLite storage instance at the given path.
func NewStorage(dbPath string) (*Storage, error) {
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&FillRecord{}, &BalanceSnapshot{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// SaveFill persists a fill. Duplicate trade ids are ignored so the caller
// can pass everything the stream reports without pre-filtering.
func (s *Storage) SaveFill(runID string, f domain.Fill) error {
	rec := FillRecord{
		TradeID:  f.TradeID,
		MarketID: f.MarketID,
		RunID:    runID,
		Type:     f.Type,
		Size:     f.Size,
		Price:    f.Price,
		FilledAt: time.UnixMilli(f.Timestamp),
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
}

// RecentFills returns up to limit fills, most recent first.
func (s *Storage) RecentFills(limit int) ([]FillRecord, error) {
	var fills []FillRecord
	err := s.db.Order("filled_at desc").Limit(limit).Find(&fills).Error
	return fills, err
}

// SaveBalanceSnapshot records a portfolio-value reading.
func (s *Storage) SaveBalanceSnapshot(runID string, portfolioValue float64) error {
	snap := BalanceSnapshot{
		RunID:          runID,
		PortfolioValue: portfolioValue,
		CreatedAt:      time.Now(),
	}
	return s.db.Create(&snap).Error
}

// LastBalanceSnapshot returns the most recent snapshot, or nil when the
// table is empty.
func (s *Storage) LastBalanceSnapshot() (*BalanceSnapshot, error) {
	var snap BalanceSnapshot
	err := s.db.Order("created_at desc").First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	return &snap, err
}

// Close releases the underlying database handle.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
