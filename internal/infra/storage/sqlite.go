package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"deribit_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage defines the interface for data persistence
type Storage struct {
	db *gorm.DB
}

// NewStorage creates a new SQLite storage instance at the default path
func NewStorage() (*Storage, error) {
	dbPath, err := getDBPath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve DB path: %w", err)
	}
	return NewStorageAt(dbPath)
}

// NewStorageAt opens (or creates) the database at an explicit path
func NewStorageAt(dbPath string) (*Storage, error) {
	// Ensure directory exists
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

	// Auto Migration
	if err := db.AutoMigrate(&domain.InstrumentInfo{}, &domain.OrderRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "DeribitGateway", "data", "gateway.db"), nil
}

// ======================================================================================
// Instrument Operations
// ======================================================================================

// UpsertInstrument creates or updates instrument metadata
func (s *Storage) UpsertInstrument(inst *domain.InstrumentInfo) error {
	return s.db.Save(inst).Error
}

// GetInstrument retrieves instrument metadata by name
func (s *Storage) GetInstrument(name string) (*domain.InstrumentInfo, error) {
	var inst domain.InstrumentInfo
	err := s.db.First(&inst, "instrument_name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	return &inst, err
}

// GetAllInstruments retrieves all known instruments
func (s *Storage) GetAllInstruments() ([]domain.InstrumentInfo, error) {
	var insts []domain.InstrumentInfo
	err := s.db.Find(&insts).Error
	return insts, err
}

// GetActiveInstruments retrieves instruments still tradeable on the exchange
func (s *Storage) GetActiveInstruments() ([]domain.InstrumentInfo, error) {
	var insts []domain.InstrumentInfo
	err := s.db.Where("is_active = ?", true).Find(&insts).Error
	return insts, err
}

// ======================================================================================
// Order Audit Operations
// ======================================================================================

// SaveOrder inserts or replaces an order audit row
func (s *Storage) SaveOrder(rec *domain.OrderRecord) error {
	return s.db.Save(rec).Error
}

// UpdateOrderStatus records the exchange order id and status for a client id
func (s *Storage) UpdateOrderStatus(clientID, orderID, status string) error {
	updates := map[string]interface{}{"status": status}
	if orderID != "" {
		updates["order_id"] = orderID
	}
	return s.db.Model(&domain.OrderRecord{}).
		Where("client_id = ?", clientID).
		Updates(updates).Error
}

// GetOrder retrieves an order audit row by client id
func (s *Storage) GetOrder(clientID string) (*domain.OrderRecord, error) {
	var rec domain.OrderRecord
	err := s.db.First(&rec, "client_id = ?", clientID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &rec, err
}

// RecentOrders returns the most recent order audit rows, newest first
func (s *Storage) RecentOrders(limit int) ([]domain.OrderRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []domain.OrderRecord
	err := s.db.Order("created_at DESC").Limit(limit).Find(&recs).Error
	return recs, err
}
