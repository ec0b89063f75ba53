package indexer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventRecord is one committed ledger event.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"size:64;index"`
	Store      string    `gorm:"size:42;index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time
}

// PurchaseRecord is the denormalised form of a completed purchase used by
// exports and per-buyer queries.
type PurchaseRecord struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	EventID        uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	Sequence       uint64    `gorm:"index"`
	Store          string    `gorm:"size:42;index"`
	Buyer          string    `gorm:"size:42;index"`
	Referrer       string    `gorm:"size:42;index"`
	ProductID      uint64    `gorm:"index"`
	Price          string    `gorm:"size:80"`
	ScheduleTotal  string    `gorm:"size:80"`
	PaidCommission string    `gorm:"size:80"`
	PlatformCut    string    `gorm:"size:80"`
	PlatformTo     string    `gorm:"size:42"`
	Remainder      string    `gorm:"size:80"`
	Refund         string    `gorm:"size:80"`
	CreatedAt      time.Time
}

// AutoMigrate creates or updates the index tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRecord{}, &PurchaseRecord{})
}
