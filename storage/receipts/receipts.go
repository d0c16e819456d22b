package receipts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"ledgerengine/core/types"
)

var (
	ErrNotFound        = errors.New("receipts: not found")
	ErrUnknownDriver   = errors.New("receipts: unknown driver")
	ErrDSNRequired     = errors.New("receipts: dsn must be configured")
	errArchiveDisabled = errors.New("receipts: archive not configured")
)

// Record is the archived form of a receipt. The full receipt is kept as JSON
// next to the columns used for lookups.
type Record struct {
	Hash         string `gorm:"primaryKey;size:64"`
	Status       string `gorm:"index;size:16"`
	Outcome      string `gorm:"size:16"`
	StateVersion uint64 `gorm:"index"`
	CostUnits    uint64
	Fee          string
	Error        string
	Body         []byte `gorm:"not null"`
	CreatedAt    time.Time
}

func (Record) TableName() string { return "receipts" }

// Archive persists receipts with gorm.
type Archive struct {
	db *gorm.DB
}

// Open connects to a sqlite or postgres database and migrates the schema.
func Open(driver, dsn string) (*Archive, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrDSNRequired
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open receipts database: %w", err)
	}
	return New(db)
}

// New wraps an open gorm handle.
func New(db *gorm.DB) (*Archive, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate receipts: %w", err)
	}
	return &Archive{db: db}, nil
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Record{})
}

// SaveReceipt stores r, replacing an earlier receipt for the same hash.
func (a *Archive) SaveReceipt(ctx context.Context, r *types.Receipt) error {
	if a == nil || a.db == nil {
		return errArchiveDisabled
	}
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}
	rec := Record{
		Hash:         r.TransactionHash.String(),
		Status:       string(r.Status),
		Outcome:      string(r.Outcome),
		StateVersion: r.StateVersion,
		CostUnits:    r.Fee.ExecutionCostUnitsConsumed + r.Fee.FinalizationCostUnitsConsumed,
		Fee:          r.Fee.CollectedFee.String(),
		Error:        r.Error,
		Body:         body,
	}
	err = a.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

// Get returns the receipt of the transaction with the given hash.
func (a *Archive) Get(ctx context.Context, hash types.Hash) (*types.Receipt, error) {
	if a == nil || a.db == nil {
		return nil, errArchiveDisabled
	}
	var rec Record
	err := a.db.WithContext(ctx).First(&rec, "hash = ?", hash.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("load receipt: %w", err)
	}
	return decode(rec)
}

// Recent lists the newest receipts, optionally filtered by status.
func (a *Archive) Recent(ctx context.Context, status string, limit int) ([]*types.Receipt, error) {
	if a == nil || a.db == nil {
		return nil, errArchiveDisabled
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	query := a.db.WithContext(ctx).Order("state_version desc, created_at desc").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var recs []Record
	if err := query.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	out := make([]*types.Receipt, 0, len(recs))
	for _, rec := range recs {
		r, err := decode(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func decode(rec Record) (*types.Receipt, error) {
	var r types.Receipt
	if err := json.Unmarshal(rec.Body, &r); err != nil {
		return nil, fmt.Errorf("decode receipt %s: %w", rec.Hash, err)
	}
	return &r, nil
}

// Close releases the database connection.
func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
